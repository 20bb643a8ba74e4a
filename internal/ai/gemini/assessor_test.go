package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/domain"
)

type stubGenerator struct {
	response   string
	err        error
	lastSystem string
	lastPrompt string
}

func (s *stubGenerator) GenerateContent(_ context.Context, system, prompt string) (string, error) {
	s.lastSystem = system
	s.lastPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func backendRequest(resume string) domain.ScoringRequest {
	return domain.ScoringRequest{
		Job: domain.JobRequirements{
			Title:          "Backend Developer",
			Description:    "Build APIs.",
			RequiredSkills: []string{"Go", "SQL", "Docker"},
		},
		Company:    domain.CompanyContext{Name: "Acme", Settings: json.RawMessage(`{"remote":true}`)},
		ResumeText: resume,
	}
}

func TestAssessorAssess(t *testing.T) {
	stub := &stubGenerator{response: `{"score": 95, "status": "REJECTED", "reasoning": "Strong Go background"}`}
	assessor := NewAssessor(stub, AssessorOptions{}, zap.NewNop())

	assessment, err := assessor.Assess(context.Background(), backendRequest("Go and SQL engineer"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if assessment.Score != 95 {
		t.Fatalf("expected score 95, got %v", assessment.Score)
	}
	// The stated status is passed through untouched; the engine re-derives it.
	if assessment.Status != "REJECTED" {
		t.Fatalf("unexpected status: %q", assessment.Status)
	}
	if assessment.Raw == "" {
		t.Fatal("expected raw response to be kept")
	}

	if !strings.Contains(stub.lastSystem, "Outcome policy") {
		t.Fatalf("expected default rubric as system instruction, got %q", stub.lastSystem)
	}
	for _, want := range []string{"Title: Backend Developer", "- Docker", "Company: Acme", `{"remote":true}`, "Go and SQL engineer"} {
		if !strings.Contains(stub.lastPrompt, want) {
			t.Fatalf("prompt is missing %q:\n%s", want, stub.lastPrompt)
		}
	}
	if strings.Contains(stub.lastPrompt, "truncated") {
		t.Fatal("short resume must not be truncated")
	}
}

func TestAssessorInstructionOverride(t *testing.T) {
	stub := &stubGenerator{response: `{"score": 10}`}
	assessor := NewAssessor(stub, AssessorOptions{Instruction: "  custom rubric "}, zap.NewNop())

	if _, err := assessor.Assess(context.Background(), backendRequest("text")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.lastSystem != "custom rubric" {
		t.Fatalf("unexpected instruction: %q", stub.lastSystem)
	}
}

func TestAssessorTruncatesResume(t *testing.T) {
	stub := &stubGenerator{response: `{"score": 60}`}
	assessor := NewAssessor(stub, AssessorOptions{MaxResumeChars: 10}, zap.NewNop())

	resume := strings.Repeat("a", 10) + strings.Repeat("b", 5)
	if _, err := assessor.Assess(context.Background(), backendRequest(resume)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stub.lastPrompt, "only the first 10 of 15 characters") {
		t.Fatalf("unexpected truncation notice:\n%s", stub.lastPrompt)
	}
	if strings.Contains(stub.lastPrompt, "aaaaaaaaaab") {
		t.Fatal("resume was not truncated")
	}
}

func TestAssessorPropagatesGeneratorError(t *testing.T) {
	stub := &stubGenerator{err: errors.New("boom")}
	assessor := NewAssessor(stub, AssessorOptions{}, zap.NewNop())

	if _, err := assessor.Assess(context.Background(), backendRequest("text")); err == nil {
		t.Fatal("expected error")
	}
}

func TestAssessorRequiresResume(t *testing.T) {
	assessor := NewAssessor(&stubGenerator{}, AssessorOptions{}, zap.NewNop())

	if _, err := assessor.Assess(context.Background(), backendRequest("  ")); err == nil {
		t.Fatal("expected error for empty resume")
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		score     float64
		status    string
		reasoning string
		wantErr   bool
	}{
		{
			name:      "plain json",
			raw:       `{"score": 72, "status": "flag", "reasoning": "ok"}`,
			score:     72,
			status:    "flag",
			reasoning: "ok",
		},
		{
			name:   "code fence",
			raw:    "```json\n{\"score\": \"81.5\", \"status\": \"shortlist\"}\n```",
			score:  81.5,
			status: "shortlist",
		},
		{
			name:  "bare fence",
			raw:   "```\n{\"score\": 40}\n```",
			score: 40,
		},
		{
			name:      "prose around json",
			raw:       "Here you go: {\"score\": 12, \"reasoning\": \"weak\"} thanks",
			score:     12,
			reasoning: "weak",
		},
		{
			name:    "not json",
			raw:     "I cannot evaluate this candidate.",
			wantErr: true,
		},
		{
			name:    "missing score",
			raw:     `{"status": "flag"}`,
			wantErr: true,
		},
		{
			name:    "null score",
			raw:     `{"score": null}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResponse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Score != tt.score || got.Status != tt.status || got.Reasoning != tt.reasoning {
				t.Fatalf("unexpected assessment: %+v", got)
			}
		})
	}
}
