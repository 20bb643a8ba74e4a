// Package events announces scored applications to other services.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/cv-intake/internal/domain"
)

const TypeApplicationScored = "APPLICATION_SCORED"

// ApplicationScored is published once an application has a score.
type ApplicationScored struct {
	Type          string          `json:"type"`
	ApplicationID uuid.UUID       `json:"applicationId"`
	JobPostingID  uuid.UUID       `json:"jobPostingId"`
	CompanyID     uuid.UUID       `json:"companyId"`
	Score         int             `json:"score"`
	Status        domain.Status   `json:"status"`
	Strategy      domain.Strategy `json:"strategy"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

func NewApplicationScored(app *domain.Application, result domain.ScoringResult, at time.Time) ApplicationScored {
	return ApplicationScored{
		Type:          TypeApplicationScored,
		ApplicationID: app.ID,
		JobPostingID:  app.JobPostingID,
		CompanyID:     app.CompanyID,
		Score:         result.Score,
		Status:        result.Status,
		Strategy:      result.Strategy,
		OccurredAt:    at.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event ApplicationScored) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, ApplicationScored) error { return nil }

func (Nop) Close() error { return nil }

func encode(event ApplicationScored) ([]byte, error) {
	return json.Marshal(event)
}
