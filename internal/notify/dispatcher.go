// Package notify decides which emails follow a scored application and sends them.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/domain"
)

var ErrMailerDisabled = errors.New("smtp is not configured")

// SendLog stores every send attempt.
type SendLog interface {
	AppendSendLog(ctx context.Context, entry domain.SendLogEntry) error
}

// Input is everything known about a processed application.
type Input struct {
	Application *domain.Application
	Job         *domain.JobPosting
	Company     *domain.Company
	Result      domain.ScoringResult
	Links       []string
}

// Notification is one planned email before rendering.
type Notification struct {
	Kind domain.NotificationKind
	To   string
	From string
	Data TemplateData
}

type Dispatcher struct {
	mailer       Mailer
	renderer     *Renderer
	sendLog      SendLog
	fallbackFrom string
	now          func() time.Time
	logger       *zap.Logger
}

// NewDispatcher builds a dispatcher. A nil mailer records every attempt as failed
// with ErrMailerDisabled.
func NewDispatcher(mailer Mailer, renderer *Renderer, sendLog SendLog, fallbackFrom string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		mailer:       mailer,
		renderer:     renderer,
		sendLog:      sendLog,
		fallbackFrom: fallbackFrom,
		now:          time.Now,
		logger:       logger,
	}
}

// Plan returns at most one candidate notification (none for flagged
// applications) and one HR notification.
func (d *Dispatcher) Plan(in Input) []Notification {
	data := templateData(in)
	from := ResolveSender(in.Company, d.fallbackFrom)

	var planned []Notification

	var candidateKind domain.NotificationKind
	switch in.Result.Status {
	case domain.StatusShortlist:
		candidateKind = domain.NotificationShortlist
	case domain.StatusReject:
		candidateKind = domain.NotificationRejection
	}
	if candidateKind != "" {
		if data.CandidateEmail == "" {
			d.logger.Warn("candidate has no email address, skipping candidate notification",
				zap.String("application_id", data.ApplicationID),
			)
		} else {
			planned = append(planned, Notification{Kind: candidateKind, To: data.CandidateEmail, From: from, Data: data})
		}
	}

	if hr := HRRecipient(in.Company); hr != "" {
		planned = append(planned, Notification{Kind: domain.NotificationHRSummary, To: hr, From: from, Data: data})
	} else {
		d.logger.Warn("company has no hr, hiring manager or contact email, skipping hr notification",
			zap.String("application_id", data.ApplicationID),
		)
	}

	return planned
}

// Dispatch sends the planned notifications. Failures are logged and recorded,
// never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) []domain.SendLogEntry {
	planned := d.Plan(in)
	entries := make([]domain.SendLogEntry, 0, len(planned))

	for _, n := range planned {
		entry := d.send(ctx, in.Application, n)
		entries = append(entries, entry)

		if d.sendLog != nil {
			if err := d.sendLog.AppendSendLog(ctx, entry); err != nil {
				d.logger.Warn("recording send attempt failed", zap.String("kind", string(n.Kind)), zap.Error(err))
			}
		}
	}

	return entries
}

func (d *Dispatcher) send(ctx context.Context, app *domain.Application, n Notification) domain.SendLogEntry {
	entry := domain.SendLogEntry{
		SentAt:    d.now(),
		Kind:      n.Kind,
		Recipient: n.To,
		Sender:    n.From,
	}
	if app != nil && app.ID != uuid.Nil {
		id := app.ID
		entry.ApplicationID = &id
	}

	log := d.logger.With(
		zap.String("kind", string(n.Kind)),
		zap.String("recipient", n.To),
		zap.String("application_id", n.Data.ApplicationID),
	)

	rendered, err := d.renderer.Render(n.Kind, n.Data)
	if err != nil {
		log.Error("rendering notification failed", zap.Error(err))
		entry.Error = err.Error()
		return entry
	}
	entry.Subject = rendered.Subject

	if d.mailer == nil {
		log.Info("notification not sent", zap.String("reason", ErrMailerDisabled.Error()))
		entry.Error = ErrMailerDisabled.Error()
		return entry
	}

	err = d.mailer.Send(ctx, Email{
		From:    n.From,
		To:      n.To,
		Subject: rendered.Subject,
		Text:    rendered.Text,
		HTML:    rendered.HTML,
	})
	if err != nil {
		log.Warn("sending notification failed", zap.Error(err))
		entry.Error = err.Error()
		return entry
	}

	log.Info("notification sent")
	entry.Success = true
	return entry
}

func templateData(in Input) TemplateData {
	data := TemplateData{
		Score:     in.Result.Score,
		Status:    in.Result.Status,
		Strategy:  in.Result.Strategy,
		Reasoning: in.Result.Reasoning,
		Links:     in.Links,
	}
	if app := in.Application; app != nil {
		data.ApplicationID = app.ID.String()
		data.CandidateName = app.CandidateName
		data.CandidateEmail = app.CandidateEmail
	}
	if job := in.Job; job != nil {
		data.JobTitle = job.Title
		data.MeetingLink = job.MeetingLink
		data.Deadline = job.Deadline
	}
	if company := in.Company; company != nil {
		data.CompanyName = company.Name
	}
	if data.CandidateName == "" {
		data.CandidateName = "there"
	}
	return data
}
