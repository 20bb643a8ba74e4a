package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/spigell/cv-intake/internal/domain"
)

const (
	skillPoints      = 70
	experienceBonus  = 15
	educationBonus   = 10
	fallbackMaxScore = domain.MaxScore
)

var (
	experienceKeywords = []string{"experience", "worked", "developed", "managed", "led", "built", "years"}
	educationKeywords  = []string{"degree", "bachelor", "master", "phd", "university", "college", "certification", "diploma"}
)

// Fallback is the deterministic rule-based scorer. It never fails and
// returns identical results for identical input.
type Fallback struct{}

func (Fallback) Score(req domain.ScoringRequest) domain.ScoringResult {
	text := strings.ToLower(req.ResumeText)

	// Blank skills are not counted.
	total, matched := 0, 0
	for _, skill := range req.Job.RequiredSkills {
		skill = strings.ToLower(strings.TrimSpace(skill))
		if skill == "" {
			continue
		}
		total++
		if strings.Contains(text, skill) {
			matched++
		}
	}

	ratio := float64(matched) / float64(max(1, total))
	score := int(math.Round(ratio * skillPoints))

	if containsAny(text, experienceKeywords) {
		score += experienceBonus
	}
	if containsAny(text, educationKeywords) {
		score += educationBonus
	}
	score = min(score, fallbackMaxScore)

	status := domain.TierFor(score)

	return domain.ScoringResult{
		Score:     score,
		Status:    status,
		Reasoning: fmt.Sprintf("Rule-based assessment: matched %d/%d required skills; %s.", matched, total, tierPhrase(status)),
		Strategy:  domain.StrategyFallback,
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func tierPhrase(status domain.Status) string {
	switch status {
	case domain.StatusShortlist:
		return "strong match for the role"
	case domain.StatusFlag:
		return "partial match, needs human review"
	default:
		return "weak match for the role"
	}
}
