package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/ai"
	"github.com/spigell/cv-intake/internal/domain"
	"github.com/spigell/cv-intake/internal/events"
	"github.com/spigell/cv-intake/internal/mailbox"
	"github.com/spigell/cv-intake/internal/notify"
	"github.com/spigell/cv-intake/internal/scoring"
)

type stubMatcher struct {
	job *domain.JobPosting
	err error
}

func (m *stubMatcher) FindOpenJobBySubject(_ context.Context, subject string) (*domain.JobPosting, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.job == nil || subject != m.job.Title {
		return nil, nil
	}
	return m.job, nil
}

type memoryRepository struct {
	mu        sync.Mutex
	companies map[uuid.UUID]*domain.Company
	apps      []*domain.Application
	createErr error
}

func (r *memoryRepository) FindCompanyByID(_ context.Context, id uuid.UUID) (*domain.Company, error) {
	return r.companies[id], nil
}

func (r *memoryRepository) CreateApplication(_ context.Context, in domain.NewApplication) (*domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	app := &domain.Application{
		ID:             uuid.New(),
		JobPostingID:   in.JobPostingID,
		CompanyID:      in.CompanyID,
		CandidateName:  in.CandidateName,
		CandidateEmail: in.CandidateEmail,
	}
	r.apps = append(r.apps, app)
	return app, nil
}

func (r *memoryRepository) find(id uuid.UUID) (*domain.Application, error) {
	for _, app := range r.apps {
		if app.ID == id {
			return app, nil
		}
	}
	return nil, errors.New("application not found")
}

func (r *memoryRepository) UpdateApplicationParsedResume(_ context.Context, id uuid.UUID, location string, doc *domain.ParsedResume) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, err := r.find(id)
	if err != nil {
		return err
	}
	app.ResumeLocation = &location
	app.ParsedResume = doc
	return nil
}

func (r *memoryRepository) UpdateApplicationScoring(_ context.Context, id uuid.UUID, score int, status domain.Status, reasoning string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, err := r.find(id)
	if err != nil {
		return err
	}
	app.Score = &score
	app.Status = &status
	app.Reasoning = &reasoning
	return nil
}

type memoryStore struct {
	objects map[string][]byte
}

func (s *memoryStore) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = data
	return "mem://" + key, nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.Email
}

func (m *recordingMailer) Send(_ context.Context, email notify.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return nil
}

func (m *recordingMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var to []string
	for _, e := range m.sent {
		to = append(to, e.To)
	}
	return to
}

type discardSendLog struct{}

func (discardSendLog) AppendSendLog(context.Context, domain.SendLogEntry) error { return nil }

type fixedAssessor struct {
	assessment *ai.Assessment
	err        error
}

func (a *fixedAssessor) Assess(context.Context, domain.ScoringRequest) (*ai.Assessment, error) {
	return a.assessment, a.err
}

type recordingPublisher struct {
	events []events.ApplicationScored
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.ApplicationScored) error {
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	job       *domain.JobPosting
	company   *domain.Company
	repo      *memoryRepository
	store     *memoryStore
	mailer    *recordingMailer
	publisher *recordingPublisher
	matcher   *stubMatcher
	assessor  *fixedAssessor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	company := &domain.Company{
		ID:           uuid.New(),
		Name:         "Acme",
		ContactEmail: "jobs@acme.example",
		HREmail:      "hr@acme.example",
	}
	job := &domain.JobPosting{
		ID:             uuid.New(),
		CompanyID:      company.ID,
		Title:          "Backend Developer",
		Description:    "Build APIs.",
		RequiredSkills: []string{"Go", "SQL", "Docker"},
	}

	return &fixture{
		job:       job,
		company:   company,
		repo:      &memoryRepository{companies: map[uuid.UUID]*domain.Company{company.ID: company}},
		store:     &memoryStore{},
		mailer:    &recordingMailer{},
		publisher: &recordingPublisher{},
		matcher:   &stubMatcher{job: job},
		assessor:  &fixedAssessor{err: errors.New("ai unavailable")},
	}
}

func (f *fixture) processor(t *testing.T) *Processor {
	t.Helper()

	renderer, err := notify.NewRenderer()
	require.NoError(t, err)

	p := NewProcessor(Deps{
		Matcher:    f.matcher,
		Repository: f.repo,
		Storage:    f.store,
		Scorer:     scoring.NewEngine(f.assessor, time.Second, zap.NewNop()),
		Notifier:   notify.NewDispatcher(f.mailer, renderer, discardSendLog{}, notify.DefaultFallbackFrom, zap.NewNop()),
		Events:     f.publisher,
		Logger:     zap.NewNop(),
	})
	p.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return p
}

func applicationEmail(subject string, attachments ...mailbox.Attachment) *mailbox.Message {
	return &mailbox.Message{
		UID:         7,
		Subject:     subject,
		FromName:    "Jane Doe",
		FromAddress: "jane@example.com",
		Attachments: attachments,
	}
}

func textResume(body string) mailbox.Attachment {
	return mailbox.Attachment{Filename: "cv.txt", ContentType: "text/plain", Data: []byte(body)}
}

const strongResume = "Go, SQL and Docker engineer with 6 years of experience. BSc in Computer Science. https://github.com/janedoe"

func TestProcessSkipsUnmatchedSubject(t *testing.T) {
	f := newFixture(t)

	outcome := f.processor(t).Process(context.Background(), applicationEmail("Hello there", textResume(strongResume)))

	assert.Equal(t, OutcomeSkipped, outcome.Kind)
	assert.Empty(t, f.repo.apps)
	assert.Empty(t, f.mailer.sent)
	assert.Empty(t, f.store.objects)
}

func TestProcessWithoutResumeFails(t *testing.T) {
	f := newFixture(t)

	msg := applicationEmail("Backend Developer", mailbox.Attachment{Filename: "photo.png", Data: []byte{0x89}})
	outcome := f.processor(t).Process(context.Background(), msg)

	require.Equal(t, OutcomeFailed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrNoResume)

	var stepErr *StepError
	require.ErrorAs(t, outcome.Err, &stepErr)
	assert.Equal(t, StepExtract, stepErr.Step)

	require.Len(t, f.repo.apps, 1)
	app := f.repo.apps[0]
	assert.Equal(t, outcome.ApplicationID, app.ID)
	assert.Nil(t, app.ParsedResume)
	assert.Nil(t, app.ResumeLocation)
	assert.Nil(t, app.Score)
	assert.Empty(t, f.mailer.sent)
}

func TestProcessExtractionFailure(t *testing.T) {
	f := newFixture(t)

	msg := applicationEmail("Backend Developer", mailbox.Attachment{Filename: "cv.txt", Data: []byte("  \n ")})
	outcome := f.processor(t).Process(context.Background(), msg)

	require.Equal(t, OutcomeFailed, outcome.Kind)
	require.Len(t, f.repo.apps, 1)
	assert.Nil(t, f.repo.apps[0].Score)
	assert.Empty(t, f.mailer.sent)
}

func TestProcessShortlistsDespiteModelStatus(t *testing.T) {
	f := newFixture(t)
	f.assessor = &fixedAssessor{assessment: &ai.Assessment{Score: 95, Status: "REJECTED", Reasoning: "Excellent fit"}}

	outcome := f.processor(t).Process(context.Background(), applicationEmail("Backend Developer", textResume(strongResume)))

	require.Equal(t, OutcomeProcessed, outcome.Kind, "err: %v", outcome.Err)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, 95, outcome.Result.Score)
	assert.Equal(t, domain.StatusShortlist, outcome.Result.Status)
	assert.Equal(t, domain.StrategyAI, outcome.Result.Strategy)

	require.Len(t, f.repo.apps, 1)
	app := f.repo.apps[0]
	require.NotNil(t, app.Score)
	assert.Equal(t, 95, *app.Score)
	assert.Equal(t, domain.StatusShortlist, *app.Status)
	assert.Equal(t, "Excellent fit", *app.Reasoning)
	require.NotNil(t, app.ParsedResume)
	assert.Equal(t, []string{"https://github.com/janedoe"}, app.ParsedResume.Links.GitHub)
	assert.Equal(t, "mem://applications/"+app.ID.String()+"/cv.txt", *app.ResumeLocation)
	assert.Equal(t, "Jane Doe", app.CandidateName)

	assert.ElementsMatch(t, []string{"jane@example.com", "hr@acme.example"}, f.mailer.recipients())

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, app.ID, f.publisher.events[0].ApplicationID)
	assert.Equal(t, domain.StatusShortlist, f.publisher.events[0].Status)
}

func TestProcessFallbackScoring(t *testing.T) {
	f := newFixture(t)

	// Two of three skills plus an experience keyword: 47 + 15 = 62.
	outcome := f.processor(t).Process(context.Background(),
		applicationEmail("Backend Developer", textResume("Go and SQL developer, 4 years experience")))

	require.Equal(t, OutcomeProcessed, outcome.Kind, "err: %v", outcome.Err)
	assert.Equal(t, 62, outcome.Result.Score)
	assert.Equal(t, domain.StatusFlag, outcome.Result.Status)
	assert.Equal(t, domain.StrategyFallback, outcome.Result.Strategy)

	// Flagged candidates are not contacted; HR still is.
	assert.Equal(t, []string{"hr@acme.example"}, f.mailer.recipients())
}

func TestProcessRejectionNotifiesCandidate(t *testing.T) {
	f := newFixture(t)
	f.assessor = &fixedAssessor{assessment: &ai.Assessment{Score: 12, Status: "shortlist"}}

	outcome := f.processor(t).Process(context.Background(), applicationEmail("Backend Developer", textResume(strongResume)))

	require.Equal(t, OutcomeProcessed, outcome.Kind)
	assert.Equal(t, domain.StatusReject, outcome.Result.Status)
	assert.ElementsMatch(t, []string{"jane@example.com", "hr@acme.example"}, f.mailer.recipients())
}

func TestProcessEventFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	outcome := f.processor(t).Process(context.Background(), applicationEmail("Backend Developer", textResume(strongResume)))

	assert.Equal(t, OutcomeProcessed, outcome.Kind)
	assert.Len(t, f.publisher.events, 1)
}

func TestProcessRepositoryFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.createErr = errors.New("connection reset")

	outcome := f.processor(t).Process(context.Background(), applicationEmail("Backend Developer", textResume(strongResume)))

	require.Equal(t, OutcomeFailed, outcome.Kind)
	var stepErr *StepError
	require.ErrorAs(t, outcome.Err, &stepErr)
	assert.Equal(t, StepRecord, stepErr.Step)
	assert.Equal(t, uuid.Nil, outcome.ApplicationID)
}

func TestProcessMatcherFailure(t *testing.T) {
	f := newFixture(t)
	f.matcher.err = errors.New("db unavailable")

	outcome := f.processor(t).Process(context.Background(), applicationEmail("Backend Developer", textResume(strongResume)))

	assert.Equal(t, OutcomeFailed, outcome.Kind)
	assert.Empty(t, f.repo.apps)
}
