package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/cv-intake/internal/domain"
)

func TestRendererShortlist(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(domain.NotificationShortlist, TemplateData{
		CandidateName: "Jane",
		JobTitle:      "Backend Developer",
		CompanyName:   "Acme",
		MeetingLink:   "https://cal.example.com/acme?x=1&y=2",
	})
	require.NoError(t, err)

	assert.Equal(t, "Your application for Backend Developer at Acme", out.Subject)
	assert.Contains(t, out.Text, "book a conversation with us here: https://cal.example.com/acme?x=1&y=2")
	assert.Contains(t, out.HTML, `href="https://cal.example.com/acme?x=1&amp;y=2"`)
}

func TestRendererEscapesHTML(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(domain.NotificationHRSummary, TemplateData{
		CandidateName:  "<script>alert(1)</script>",
		CandidateEmail: "x@example.com",
		JobTitle:       "Backend Developer",
		Score:          62,
		Status:         domain.StatusFlag,
		Strategy:       domain.StrategyFallback,
		Reasoning:      "Rule-based assessment",
		Links:          []string{"https://github.com/x"},
	})
	require.NoError(t, err)

	assert.Equal(t, "New applicant for Backend Developer: <script>alert(1)</script> (flag, 62/100)", out.Subject)
	assert.NotContains(t, out.HTML, "<script>")
	assert.Contains(t, out.Text, "- https://github.com/x")
	assert.Contains(t, out.Text, "Scored by: fallback")
}

func TestRendererUnknownKind(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, err = r.Render("unknown", TemplateData{})
	assert.Error(t, err)
}
