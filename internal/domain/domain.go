// Package domain holds the records shared by the ingestion pipeline.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobPosting is an open or closed position candidates apply to by email.
type JobPosting struct {
	ID             uuid.UUID
	CompanyID      uuid.UUID
	Title          string
	Description    string
	RequiredSkills []string
	Deadline       *time.Time
	MeetingLink    string
	Status         *string
	CreatedAt      time.Time
}

// activeMarkers are the explicit status values that keep a posting open.
var activeMarkers = map[string]struct{}{
	"active": {},
	"open":   {},
}

// IsOpen reports whether the posting takes part in subject matching.
// A posting is open when its status is unset, empty or an explicit active marker.
func (j *JobPosting) IsOpen() bool {
	if j == nil {
		return false
	}
	if j.Status == nil {
		return true
	}
	status := strings.ToLower(strings.TrimSpace(*j.Status))
	if status == "" {
		return true
	}
	_, ok := activeMarkers[status]
	return ok
}

// TitleCutset is the whitespace trimmed from both ends of a title before
// matching. The store passes it to btrim so SQL and Go agree.
const TitleCutset = " \t\n\v\f\r\u0085\u00a0\u3000"

// NormalizeTitle is the case-folded, trimmed key used to match titles.
func NormalizeTitle(s string) string {
	return strings.ToLower(strings.Trim(s, TitleCutset))
}

// Company owns job postings and provides the addresses used for notifications.
type Company struct {
	ID                 uuid.UUID
	Name               string
	Domain             string
	ContactEmail       string
	HREmail            string
	HiringManagerEmail string
	// Settings is passed to the scoring context untouched.
	Settings json.RawMessage
}

type ResumeLinks struct {
	LinkedIn []string `json:"linkedin,omitempty"`
	GitHub   []string `json:"github,omitempty"`
	Other    []string `json:"other,omitempty"`
}

// All returns every detected link in a stable order.
func (l ResumeLinks) All() []string {
	all := make([]string, 0, len(l.LinkedIn)+len(l.GitHub)+len(l.Other))
	all = append(all, l.LinkedIn...)
	all = append(all, l.GitHub...)
	return append(all, l.Other...)
}

// ParsedResume is the extracted form of a résumé attachment.
type ParsedResume struct {
	Filename    string      `json:"filename"`
	ContentType string      `json:"content_type"`
	Text        string      `json:"text"`
	Links       ResumeLinks `json:"links"`
}

// Application is created once per email that matches an open posting.
type Application struct {
	ID             uuid.UUID
	JobPostingID   uuid.UUID
	CompanyID      uuid.UUID
	CandidateName  string
	CandidateEmail string
	ResumeLocation *string
	ParsedResume   *ParsedResume
	Score          *int
	Status         *Status
	Reasoning      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewApplication describes the fields needed to create an application row.
type NewApplication struct {
	JobPostingID   uuid.UUID
	CompanyID      uuid.UUID
	CandidateName  string
	CandidateEmail string
}

// NotificationKind names the template a notification was rendered from.
type NotificationKind string

const (
	NotificationShortlist NotificationKind = "candidate_shortlist"
	NotificationRejection NotificationKind = "candidate_rejection"
	NotificationHRSummary NotificationKind = "hr_new_applicant"
)

// SendLogEntry records one outbound mail attempt.
type SendLogEntry struct {
	SentAt        time.Time
	ApplicationID *uuid.UUID
	Kind          NotificationKind
	Recipient     string
	Sender        string
	Subject       string
	Success       bool
	Error         string
}
