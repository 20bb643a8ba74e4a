// Package scoring turns a scoring request into a normalized result. The AI
// strategy is tried first; the rule-based fallback covers every failure.
package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/ai"
	"github.com/spigell/cv-intake/internal/domain"
)

const (
	DefaultTimeout   = 60 * time.Second
	defaultReasoning = "No reasoning provided."
)

// Engine scores candidates. Score never returns an error.
type Engine struct {
	assessor ai.Assessor
	fallback Fallback
	timeout  time.Duration
	logger   *zap.Logger
}

// NewEngine builds an engine. A nil assessor makes the engine fallback-only.
func NewEngine(assessor ai.Assessor, timeout time.Duration, logger *zap.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		assessor: assessor,
		timeout:  timeout,
		logger:   logger,
	}
}

func (e *Engine) Score(ctx context.Context, req domain.ScoringRequest) domain.ScoringResult {
	if e.assessor != nil {
		result, err := e.scoreWithAI(ctx, req)
		if err == nil {
			return result
		}
		e.logger.Warn("ai scoring failed, using rule-based fallback",
			zap.String("job_title", req.Job.Title),
			zap.Error(err),
		)
	}

	return e.fallback.Score(req).Normalize()
}

func (e *Engine) scoreWithAI(ctx context.Context, req domain.ScoringRequest) (result domain.ScoringResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ai assessor panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	assessment, err := e.assessor.Assess(ctx, req)
	if err != nil {
		return domain.ScoringResult{}, err
	}
	if assessment == nil {
		return domain.ScoringResult{}, fmt.Errorf("ai assessor returned no assessment")
	}

	score := domain.ClampScore(assessment.Score)
	status := domain.TierFor(score)

	if stated := strings.ToLower(strings.TrimSpace(assessment.Status)); stated != "" && stated != string(status) {
		e.logger.Debug("model status disagrees with score tier",
			zap.String("model_status", assessment.Status),
			zap.String("status", string(status)),
			zap.Int("score", score),
		)
	}

	reasoning := strings.TrimSpace(assessment.Reasoning)
	if reasoning == "" {
		reasoning = defaultReasoning
	}

	return domain.ScoringResult{
		Score:     score,
		Status:    status,
		Reasoning: reasoning,
		Strategy:  domain.StrategyAI,
	}, nil
}
