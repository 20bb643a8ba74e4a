package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/domain"
)

type recordingMailer struct {
	sent []Email
	fail map[string]error
}

func (m *recordingMailer) Send(_ context.Context, email Email) error {
	m.sent = append(m.sent, email)
	return m.fail[email.To]
}

type memorySendLog struct {
	entries []domain.SendLogEntry
	err     error
}

func (l *memorySendLog) AppendSendLog(_ context.Context, entry domain.SendLogEntry) error {
	l.entries = append(l.entries, entry)
	return l.err
}

func dispatchInput(status domain.Status) Input {
	return Input{
		Application: &domain.Application{ID: uuid.New(), CandidateName: "Jane Doe", CandidateEmail: "jane@example.com"},
		Job:         &domain.JobPosting{Title: "Backend Developer", MeetingLink: "https://cal.example.com/acme"},
		Company:     &domain.Company{Name: "Acme", Domain: "acme.com", HREmail: "hr@acme.com"},
		Result:      domain.ScoringResult{Score: 90, Status: status, Reasoning: "ok", Strategy: domain.StrategyAI},
	}
}

func newTestDispatcher(t *testing.T, mailer Mailer, log SendLog) *Dispatcher {
	t.Helper()
	r, err := NewRenderer()
	require.NoError(t, err)
	d := NewDispatcher(mailer, r, log, "", zap.NewNop())
	d.now = func() time.Time { return time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC) }
	return d
}

func TestPlan(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)

	tests := []struct {
		status domain.Status
		kinds  []domain.NotificationKind
	}{
		{domain.StatusShortlist, []domain.NotificationKind{domain.NotificationShortlist, domain.NotificationHRSummary}},
		{domain.StatusReject, []domain.NotificationKind{domain.NotificationRejection, domain.NotificationHRSummary}},
		{domain.StatusFlag, []domain.NotificationKind{domain.NotificationHRSummary}},
	}

	for _, tt := range tests {
		planned := d.Plan(dispatchInput(tt.status))

		kinds := make([]domain.NotificationKind, 0, len(planned))
		for _, n := range planned {
			kinds = append(kinds, n.Kind)
			assert.Equal(t, "noreply@acme.com", n.From)
		}
		assert.Equal(t, tt.kinds, kinds, string(tt.status))
	}
}

func TestPlanRecipients(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)

	planned := d.Plan(dispatchInput(domain.StatusShortlist))
	require.Len(t, planned, 2)
	assert.Equal(t, "jane@example.com", planned[0].To)
	assert.Equal(t, "https://cal.example.com/acme", planned[0].Data.MeetingLink)
	assert.Equal(t, "hr@acme.com", planned[1].To)

	in := dispatchInput(domain.StatusReject)
	in.Company.HREmail = ""
	in.Application.CandidateEmail = ""
	assert.Empty(t, d.Plan(in))
}

func TestDispatchSendsAndRecords(t *testing.T) {
	mailer := &recordingMailer{}
	log := &memorySendLog{}
	d := newTestDispatcher(t, mailer, log)
	in := dispatchInput(domain.StatusShortlist)

	entries := d.Dispatch(context.Background(), in)

	require.Len(t, mailer.sent, 2)
	assert.Equal(t, "Your application for Backend Developer at Acme", mailer.sent[0].Subject)
	assert.Contains(t, mailer.sent[1].Subject, "New applicant for Backend Developer")
	require.Len(t, log.entries, 2)
	assert.Equal(t, entries, log.entries)
	for _, e := range entries {
		assert.True(t, e.Success)
		require.NotNil(t, e.ApplicationID)
		assert.Equal(t, in.Application.ID, *e.ApplicationID)
	}
}

func TestDispatchFailureIsRecordedNotReturned(t *testing.T) {
	mailer := &recordingMailer{fail: map[string]error{"jane@example.com": errors.New("mailbox unavailable")}}
	log := &memorySendLog{err: errors.New("db down")}
	d := newTestDispatcher(t, mailer, log)

	entries := d.Dispatch(context.Background(), dispatchInput(domain.StatusReject))

	require.Len(t, entries, 2)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "mailbox unavailable", entries[0].Error)
	assert.True(t, entries[1].Success)
}

func TestDispatchWithoutMailer(t *testing.T) {
	log := &memorySendLog{}
	d := newTestDispatcher(t, nil, log)

	entries := d.Dispatch(context.Background(), dispatchInput(domain.StatusFlag))

	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, ErrMailerDisabled.Error(), entries[0].Error)
	assert.Equal(t, domain.NotificationHRSummary, log.entries[0].Kind)
}
