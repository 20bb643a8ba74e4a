package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/spigell/cv-intake/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// TemplateData is what every notification template receives.
type TemplateData struct {
	ApplicationID  string
	CandidateName  string
	CandidateEmail string
	JobTitle       string
	CompanyName    string
	MeetingLink    string
	Deadline       *time.Time
	Score          int
	Status         domain.Status
	Strategy       domain.Strategy
	Reasoning      string
	Links          []string
}

type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Renderer renders the embedded notification templates.
type Renderer struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

func NewRenderer() (*Renderer, error) {
	text, err := texttemplate.ParseFS(templateFS, "templates/*.subject.tmpl", "templates/*.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	return &Renderer{text: text, html: html}, nil
}

func (r *Renderer) Render(kind domain.NotificationKind, data TemplateData) (*Rendered, error) {
	var subject, text, html bytes.Buffer

	if err := r.text.ExecuteTemplate(&subject, string(kind)+".subject.tmpl", data); err != nil {
		return nil, fmt.Errorf("render %s subject: %w", kind, err)
	}
	if err := r.text.ExecuteTemplate(&text, string(kind)+".txt.tmpl", data); err != nil {
		return nil, fmt.Errorf("render %s text: %w", kind, err)
	}
	if err := r.html.ExecuteTemplate(&html, string(kind)+".html.tmpl", data); err != nil {
		return nil, fmt.Errorf("render %s html: %w", kind, err)
	}

	return &Rendered{
		Subject: strings.TrimSpace(subject.String()),
		Text:    strings.TrimSpace(text.String()) + "\n",
		HTML:    html.String(),
	}, nil
}
