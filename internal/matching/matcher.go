// Package matching maps an email subject to the open job posting it applies for.
package matching

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/domain"
)

// JobPostings looks up open postings by their normalized title. Implementations
// return the most recently created open posting, or nil when none matches.
type JobPostings interface {
	FindOpenJobPostingByNormalizedTitle(ctx context.Context, normalized string) (*domain.JobPosting, error)
}

// Normalize is the subject and title key used for matching.
func Normalize(s string) string {
	return domain.NormalizeTitle(s)
}

type Matcher struct {
	postings JobPostings
	logger   *zap.Logger
}

func New(postings JobPostings, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{postings: postings, logger: logger}
}

// FindOpenJobBySubject returns the open posting whose title equals the subject
// after normalization, or nil when there is none.
func (m *Matcher) FindOpenJobBySubject(ctx context.Context, subject string) (*domain.JobPosting, error) {
	key := Normalize(subject)
	if key == "" {
		return nil, nil
	}

	job, err := m.postings.FindOpenJobPostingByNormalizedTitle(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find job posting by title: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	if !job.IsOpen() || Normalize(job.Title) != key {
		m.logger.Warn("repository returned a posting that does not match",
			zap.String("subject", subject),
			zap.String("job_id", job.ID.String()),
			zap.String("title", job.Title),
		)
		return nil, nil
	}

	return job, nil
}
