package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// Status is the outcome tier of a scored application.
type Status string

const (
	StatusShortlist Status = "shortlist"
	StatusFlag      Status = "flag"
	StatusReject    Status = "reject"
)

const (
	ShortlistThreshold = 80
	FlagThreshold      = 50

	MinScore = 0
	MaxScore = 100
)

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusShortlist, StatusFlag, StatusReject:
		return st, nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// TierFor maps a clamped score to its status.
func TierFor(score int) Status {
	switch {
	case score >= ShortlistThreshold:
		return StatusShortlist
	case score >= FlagThreshold:
		return StatusFlag
	default:
		return StatusReject
	}
}

// ClampScore rounds a raw score to an integer inside [MinScore, MaxScore].
// NaN is treated as zero.
func ClampScore(raw float64) int {
	if math.IsNaN(raw) {
		return MinScore
	}
	rounded := math.Round(raw)
	if rounded < MinScore {
		return MinScore
	}
	if rounded > MaxScore {
		return MaxScore
	}
	return int(rounded)
}

// JobRequirements is the part of a posting the scorer sees.
type JobRequirements struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	RequiredSkills []string `json:"required_skills"`
}

// CompanyContext is the part of a company the scorer sees.
type CompanyContext struct {
	Name     string          `json:"name"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

type ScoringRequest struct {
	Job        JobRequirements
	Company    CompanyContext
	ResumeText string
}

// Strategy names the scorer that produced a result.
type Strategy string

const (
	StrategyAI       Strategy = "ai"
	StrategyFallback Strategy = "fallback"
)

type ScoringResult struct {
	Score     int      `json:"score"`
	Status    Status   `json:"status"`
	Reasoning string   `json:"reasoning"`
	Strategy  Strategy `json:"strategy"`
}

// Normalize clamps the score and recomputes the status from it.
func (r ScoringResult) Normalize() ScoringResult {
	r.Score = ClampScore(float64(r.Score))
	r.Status = TierFor(r.Score)
	return r
}

// RequirementsFor builds the scorer view of a posting.
func RequirementsFor(job *JobPosting) JobRequirements {
	skills := make([]string, len(job.RequiredSkills))
	copy(skills, job.RequiredSkills)
	return JobRequirements{
		Title:          job.Title,
		Description:    job.Description,
		RequiredSkills: skills,
	}
}

// ContextFor builds the scorer view of a company. A nil company yields an empty context.
func ContextFor(company *Company) CompanyContext {
	if company == nil {
		return CompanyContext{}
	}
	return CompanyContext{Name: company.Name, Settings: company.Settings}
}
