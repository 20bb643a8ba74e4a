package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/domain"
	"github.com/spigell/cv-intake/internal/mailbox"
)

// Step is a single stage of per-message processing.
type Step interface {
	Name() string
	Run(ctx context.Context, st *state) error
}

// state is carried from one step to the next for a single message.
type state struct {
	msg         *mailbox.Message
	job         *domain.JobPosting
	company     *domain.Company
	application *domain.Application
	attachment  *mailbox.Attachment
	location    string
	resume      *domain.ParsedResume
	result      *domain.ScoringResult
	logger      *zap.Logger
}

// StepError names the step a message failed in.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// runSteps executes the steps sequentially and stops at the first error.
func runSteps(ctx context.Context, steps []Step, st *state) error {
	for _, step := range steps {
		started := time.Now()
		err := step.Run(ctx, st)

		fields := []zap.Field{
			zap.String("name", step.Name()),
			zap.Duration("took", time.Since(started)),
		}
		if err != nil {
			st.logger.Debug("pipeline step stopped", append(fields, zap.Error(err))...)
			return &StepError{Step: step.Name(), Err: err}
		}
		st.logger.Debug("pipeline step", fields...)
	}
	return nil
}

// stepFunc adapts a method to the Step interface.
type stepFunc struct {
	name string
	fn   func(ctx context.Context, st *state) error
}

func (s stepFunc) Name() string { return s.name }

func (s stepFunc) Run(ctx context.Context, st *state) error { return s.fn(ctx, st) }
