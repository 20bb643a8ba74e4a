// Package ingestion turns application emails into scored applications.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/domain"
	"github.com/spigell/cv-intake/internal/events"
	"github.com/spigell/cv-intake/internal/extraction"
	"github.com/spigell/cv-intake/internal/logger"
	"github.com/spigell/cv-intake/internal/mailbox"
	"github.com/spigell/cv-intake/internal/notify"
	"github.com/spigell/cv-intake/internal/storage"
)

const (
	StepMatch   = "match"
	StepRecord  = "record"
	StepExtract = "extract"
	StepScore   = "score"
	StepNotify  = "notify"
)

var (
	// ErrNoMatchingJob means the subject matches no open posting. It is not a failure.
	ErrNoMatchingJob = errors.New("no open job posting matches the subject")
	// ErrNoResume means no attachment carries a recognized résumé extension.
	ErrNoResume = errors.New("no resume attachment found")
)

type JobMatcher interface {
	FindOpenJobBySubject(ctx context.Context, subject string) (*domain.JobPosting, error)
}

// Repository is the persistence the pipeline writes to.
type Repository interface {
	FindCompanyByID(ctx context.Context, id uuid.UUID) (*domain.Company, error)
	CreateApplication(ctx context.Context, in domain.NewApplication) (*domain.Application, error)
	UpdateApplicationParsedResume(ctx context.Context, id uuid.UUID, location string, doc *domain.ParsedResume) error
	UpdateApplicationScoring(ctx context.Context, id uuid.UUID, score int, status domain.Status, reasoning string) error
}

type Scorer interface {
	Score(ctx context.Context, req domain.ScoringRequest) domain.ScoringResult
}

type Notifier interface {
	Dispatch(ctx context.Context, in notify.Input) []domain.SendLogEntry
}

// Deps aggregates the collaborators of the processor.
type Deps struct {
	Matcher    JobMatcher
	Repository Repository
	Storage    storage.Store
	Scorer     Scorer
	Notifier   Notifier
	Events     events.Publisher
	Logger     *zap.Logger
}

type OutcomeKind string

const (
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeProcessed OutcomeKind = "processed"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the result of processing one message.
type Outcome struct {
	Kind          OutcomeKind
	ApplicationID uuid.UUID
	Result        *domain.ScoringResult
	// Err is set for failed outcomes.
	Err error
}

func failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

type Processor struct {
	deps  Deps
	steps []Step
	now   func() time.Time
}

func NewProcessor(deps Deps) *Processor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}

	p := &Processor{deps: deps, now: time.Now}
	p.steps = []Step{
		stepFunc{name: StepMatch, fn: p.match},
		stepFunc{name: StepRecord, fn: p.record},
		stepFunc{name: StepExtract, fn: p.extract},
		stepFunc{name: StepScore, fn: p.score},
		stepFunc{name: StepNotify, fn: p.notify},
	}
	return p
}

// Process runs the pipeline for one message and classifies the result.
func (p *Processor) Process(ctx context.Context, msg *mailbox.Message) Outcome {
	if msg == nil {
		return failed(errors.New("message is nil"))
	}

	st := &state{
		msg:    msg,
		logger: logger.WithMessage(p.deps.Logger, msg.UID, msg.Subject),
	}

	err := runSteps(ctx, p.steps, st)

	outcome := Outcome{Kind: OutcomeProcessed, Result: st.result}
	if st.application != nil {
		outcome.ApplicationID = st.application.ID
	}

	switch {
	case err == nil:
		st.logger.Info("application processed",
			zap.String(logger.FieldApplicationID, outcome.ApplicationID.String()),
			zap.Int("score", st.result.Score),
			zap.String("status", string(st.result.Status)),
			zap.String("strategy", string(st.result.Strategy)),
		)
	case errors.Is(err, ErrNoMatchingJob):
		outcome.Kind = OutcomeSkipped
		st.logger.Debug("subject matches no open job posting, skipping")
	default:
		outcome.Kind = OutcomeFailed
		outcome.Err = err
		st.logger.Warn("application processing failed", zap.Error(err))
	}

	return outcome
}

func (p *Processor) match(ctx context.Context, st *state) error {
	job, err := p.deps.Matcher.FindOpenJobBySubject(ctx, st.msg.Subject)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrNoMatchingJob
	}

	st.job = job
	st.logger = st.logger.With(zap.String(logger.FieldJobID, job.ID.String()))
	return nil
}

func (p *Processor) record(ctx context.Context, st *state) error {
	company, err := p.deps.Repository.FindCompanyByID(ctx, st.job.CompanyID)
	if err != nil {
		return err
	}
	if company == nil {
		st.logger.Warn("job posting references a missing company", zap.String("company_id", st.job.CompanyID.String()))
	}
	st.company = company

	app, err := p.deps.Repository.CreateApplication(ctx, domain.NewApplication{
		JobPostingID:   st.job.ID,
		CompanyID:      st.job.CompanyID,
		CandidateName:  st.msg.CandidateName(),
		CandidateEmail: st.msg.FromAddress,
	})
	if err != nil {
		return err
	}

	st.application = app
	st.logger = st.logger.With(zap.String(logger.FieldApplicationID, app.ID.String()))
	return nil
}

func (p *Processor) extract(ctx context.Context, st *state) error {
	for i := range st.msg.Attachments {
		if extraction.IsResumeFile(st.msg.Attachments[i].Filename) {
			st.attachment = &st.msg.Attachments[i]
			break
		}
	}
	if st.attachment == nil {
		return fmt.Errorf("%w among %d attachments", ErrNoResume, len(st.msg.Attachments))
	}

	att := st.attachment
	key := storage.ObjectKey(st.application.ID, att.Filename)
	location, err := p.deps.Storage.Put(ctx, key, extraction.MediaType(att.Filename, att.ContentType), att.Data)
	if err != nil {
		return fmt.Errorf("store resume: %w", err)
	}

	parsed, err := extraction.Extract(att.Filename, att.ContentType, att.Data)
	if err != nil {
		return fmt.Errorf("extract resume %q: %w", att.Filename, err)
	}

	if err := p.deps.Repository.UpdateApplicationParsedResume(ctx, st.application.ID, location, parsed); err != nil {
		return err
	}

	st.location = location
	st.resume = parsed
	st.logger.Debug("resume extracted",
		zap.String("filename", att.Filename),
		zap.String("location", location),
		zap.Int("text_length", len(parsed.Text)),
		zap.Int("links", len(parsed.Links.All())),
	)
	return nil
}

func (p *Processor) score(ctx context.Context, st *state) error {
	result := p.deps.Scorer.Score(ctx, domain.ScoringRequest{
		Job:        domain.RequirementsFor(st.job),
		Company:    domain.ContextFor(st.company),
		ResumeText: st.resume.Text,
	})
	result = result.Normalize()

	if err := p.deps.Repository.UpdateApplicationScoring(ctx, st.application.ID, result.Score, result.Status, result.Reasoning); err != nil {
		return err
	}
	st.result = &result

	event := events.NewApplicationScored(st.application, result, p.now())
	if err := p.deps.Events.Publish(ctx, event); err != nil {
		st.logger.Warn("publishing application event failed", zap.Error(err))
	}
	return nil
}

func (p *Processor) notify(ctx context.Context, st *state) error {
	if p.deps.Notifier == nil {
		return nil
	}

	entries := p.deps.Notifier.Dispatch(ctx, notify.Input{
		Application: st.application,
		Job:         st.job,
		Company:     st.company,
		Result:      *st.result,
		Links:       st.resume.Links.All(),
	})

	sent := 0
	for _, e := range entries {
		if e.Success {
			sent++
		}
	}
	st.logger.Debug("notifications dispatched", zap.Int("planned", len(entries)), zap.Int("sent", sent))
	return nil
}
