package ai

import (
	"context"

	"github.com/spigell/cv-intake/internal/domain"
)

// Assessment is the raw verdict of a generative scorer. Score and Status are
// not trusted until the scoring engine normalizes them.
type Assessment struct {
	Score     float64
	Status    string
	Reasoning string
	Raw       string
}

// Assessor evaluates a candidate against a job with a generative model.
type Assessor interface {
	Assess(ctx context.Context, req domain.ScoringRequest) (*Assessment, error)
}
