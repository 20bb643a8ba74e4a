package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/ai"
	"github.com/spigell/cv-intake/internal/domain"
	"github.com/spigell/cv-intake/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, prompt string) (string, error)
}

//go:embed instruction.md
var defaultInstruction string

const (
	DefaultMaxResumeChars = 50000
	defaultMaxLogLength   = 200
)

// Assessor scores candidates with Gemini.
type Assessor struct {
	generator      contentGenerator
	instruction    string
	maxResumeChars int
	maxLogLen      int
	logger         *zap.Logger
}

type AssessorOptions struct {
	// Instruction replaces the built-in rubric when not empty.
	Instruction    string
	MaxResumeChars int
	MaxLogLength   int
}

func NewAssessor(generator contentGenerator, opts AssessorOptions, logger *zap.Logger) *Assessor {
	instruction := strings.TrimSpace(opts.Instruction)
	if instruction == "" {
		instruction = strings.TrimSpace(defaultInstruction)
	}
	if opts.MaxResumeChars <= 0 {
		opts.MaxResumeChars = DefaultMaxResumeChars
	}
	if opts.MaxLogLength <= 0 {
		opts.MaxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Assessor{
		generator:      generator,
		instruction:    instruction,
		maxResumeChars: opts.MaxResumeChars,
		maxLogLen:      opts.MaxLogLength,
		logger:         logger,
	}
}

func (a *Assessor) Assess(ctx context.Context, req domain.ScoringRequest) (*ai.Assessment, error) {
	if strings.TrimSpace(req.ResumeText) == "" {
		return nil, errors.New("resume text is required")
	}

	prompt := buildPrompt(req, a.maxResumeChars)

	a.logger.Debug("gemini generate content request",
		zap.String("job_title", req.Job.Title),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, a.maxLogLen)),
	)

	raw, err := a.generator.GenerateContent(ctx, a.instruction, prompt)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("gemini generate content response",
		zap.String("job_title", req.Job.Title),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, a.maxLogLen)),
	)

	assessment, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	assessment.Raw = raw
	return assessment, nil
}

func buildPrompt(req domain.ScoringRequest, maxResumeChars int) string {
	var sb strings.Builder

	sb.WriteString("## JOB\n")
	fmt.Fprintf(&sb, "Title: %s\n", strings.TrimSpace(req.Job.Title))
	if company := strings.TrimSpace(req.Company.Name); company != "" {
		fmt.Fprintf(&sb, "Company: %s\n", company)
	}
	sb.WriteString("Description:\n")
	sb.WriteString(strings.TrimSpace(req.Job.Description))
	sb.WriteString("\n\nRequired skills:\n")
	if len(req.Job.RequiredSkills) == 0 {
		sb.WriteString("- none listed\n")
	}
	for _, skill := range req.Job.RequiredSkills {
		fmt.Fprintf(&sb, "- %s\n", strings.TrimSpace(skill))
	}

	if len(req.Company.Settings) > 0 && json.Valid(req.Company.Settings) {
		sb.WriteString("\nCompany hiring preferences (JSON):\n")
		sb.Write(req.Company.Settings)
		sb.WriteString("\n")
	}

	resume, truncated := utils.TruncateRunes(req.ResumeText, maxResumeChars)
	sb.WriteString("\n## CANDIDATE RESUME\n")
	sb.WriteString(resume)
	if truncated {
		fmt.Fprintf(&sb, "\n\n[Resume truncated: only the first %d of %d characters are shown.]",
			maxResumeChars, utf8.RuneCountInString(req.ResumeText))
	}
	sb.WriteString("\n\nReturn the JSON object now.")

	return sb.String()
}

type assessmentPayload struct {
	Score     *float64 `mapstructure:"score"`
	Status    string   `mapstructure:"status"`
	Reasoning string   `mapstructure:"reasoning"`
}

func parseResponse(raw string) (*ai.Assessment, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	var payload assessmentPayload
	if err := mapstructure.WeakDecode(data, &payload); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}

	if payload.Score == nil {
		return nil, errors.New("gemini response has no score")
	}

	return &ai.Assessment{
		Score:     *payload.Score,
		Status:    strings.TrimSpace(payload.Status),
		Reasoning: strings.TrimSpace(payload.Reasoning),
	}, nil
}

// extractJSON strips Markdown code fences and any prose around the JSON object.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```JSON")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.TrimSpace(strings.Trim(raw, "`"))

	if !strings.HasPrefix(raw, "{") {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start != -1 && end > start {
			raw = raw[start : end+1]
		}
	}
	return raw
}
