package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSMTP struct {
	messages []*mail.Msg
	err      error
}

func (f *fakeSMTP) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	f.messages = append(f.messages, messages...)
	return f.err
}

func TestSMTPMailerSend(t *testing.T) {
	fake := &fakeSMTP{}
	m := &SMTPMailer{client: fake, host: "smtp.test", logger: zap.NewNop()}

	err := m.Send(context.Background(), Email{
		From:    "noreply@acme.com",
		To:      "jane@example.com",
		Subject: "Hello",
		Text:    "text",
		HTML:    "<p>html</p>",
	})
	require.NoError(t, err)
	require.Len(t, fake.messages, 1)

	rcpts, err := fake.messages[0].GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"jane@example.com"}, rcpts)
	assert.Equal(t, []string{"Hello"}, fake.messages[0].GetGenHeader(mail.HeaderSubject))
}

func TestSMTPMailerAuthFailureHint(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	fake := &fakeSMTP{err: errors.New("SMTP AUTH failed: 535 5.7.8 Username and Password not accepted")}
	m := &SMTPMailer{client: fake, host: "smtp.test", logger: zap.New(core)}

	err := m.Send(context.Background(), Email{From: "a@acme.com", To: "b@example.com", Subject: "s", Text: "t"})
	require.ErrorIs(t, err, ErrAuthFailed)

	entries := logs.FilterMessage("smtp server rejected the credentials").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["hint"], "smtp.user")
}

func TestSMTPMailerOtherFailure(t *testing.T) {
	fake := &fakeSMTP{err: errors.New("dial tcp: connection refused")}
	m := &SMTPMailer{client: fake, host: "smtp.test", logger: zap.NewNop()}

	err := m.Send(context.Background(), Email{From: "a@acme.com", To: "b@example.com", Subject: "s", Text: "t"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthFailed)
}

func TestSMTPMailerRejectsInvalidAddress(t *testing.T) {
	m := &SMTPMailer{client: &fakeSMTP{}, host: "smtp.test", logger: zap.NewNop()}

	assert.Error(t, m.Send(context.Background(), Email{From: "not an address", To: "b@example.com"}))
}

func TestNewSMTPMailerRequiresHost(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{}, nil)
	assert.Error(t, err)
}
