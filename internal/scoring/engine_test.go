package scoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/cv-intake/internal/ai"
	"github.com/spigell/cv-intake/internal/domain"
)

type stubAssessor struct {
	assessment *ai.Assessment
	err        error
	block      bool
	panicWith  any
	calls      int
}

func (s *stubAssessor) Assess(ctx context.Context, _ domain.ScoringRequest) (*ai.Assessment, error) {
	s.calls++
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.assessment, s.err
}

func backendRequest() domain.ScoringRequest {
	return domain.ScoringRequest{
		Job:        backendJob(),
		ResumeText: "Go and SQL engineer with experience",
	}
}

func TestEngineOverridesInconsistentModelStatus(t *testing.T) {
	assessor := &stubAssessor{assessment: &ai.Assessment{Score: 95, Status: "REJECTED", Reasoning: "Strong Go background"}}
	engine := NewEngine(assessor, time.Second, zap.NewNop())

	got := engine.Score(context.Background(), backendRequest())

	assert.Equal(t, 95, got.Score)
	assert.Equal(t, domain.StatusShortlist, got.Status)
	assert.Equal(t, "Strong Go background", got.Reasoning)
	assert.Equal(t, domain.StrategyAI, got.Strategy)
}

func TestEngineClampsAIScore(t *testing.T) {
	tests := []struct {
		raw    float64
		score  int
		status domain.Status
	}{
		{raw: 140, score: 100, status: domain.StatusShortlist},
		{raw: -3, score: 0, status: domain.StatusReject},
		{raw: 79.5, score: 80, status: domain.StatusShortlist},
		{raw: 49.4, score: 49, status: domain.StatusReject},
		{raw: math.NaN(), score: 0, status: domain.StatusReject},
	}

	for _, tt := range tests {
		engine := NewEngine(&stubAssessor{assessment: &ai.Assessment{Score: tt.raw, Reasoning: "r"}}, time.Second, nil)
		got := engine.Score(context.Background(), backendRequest())
		assert.Equal(t, tt.score, got.Score, "raw %v", tt.raw)
		assert.Equal(t, tt.status, got.Status, "raw %v", tt.raw)
	}
}

func TestEngineDefaultsReasoning(t *testing.T) {
	engine := NewEngine(&stubAssessor{assessment: &ai.Assessment{Score: 60, Reasoning: "  "}}, time.Second, nil)

	got := engine.Score(context.Background(), backendRequest())

	assert.Equal(t, "No reasoning provided.", got.Reasoning)
	assert.Equal(t, domain.StatusFlag, got.Status)
}

func TestEngineFallsBackOnAssessorError(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	engine := NewEngine(&stubAssessor{err: errors.New("malformed response")}, time.Second, zap.New(core))

	got := engine.Score(context.Background(), backendRequest())

	assert.Equal(t, 62, got.Score)
	assert.Equal(t, domain.StatusFlag, got.Status)
	assert.Equal(t, domain.StrategyFallback, got.Strategy)
	require.Equal(t, 1, logs.FilterMessage("ai scoring failed, using rule-based fallback").Len())
}

func TestEngineFallsBackOnTimeout(t *testing.T) {
	assessor := &stubAssessor{block: true}
	engine := NewEngine(assessor, 20*time.Millisecond, nil)

	got := engine.Score(context.Background(), backendRequest())

	assert.Equal(t, 1, assessor.calls)
	assert.Equal(t, domain.StrategyFallback, got.Strategy)
	assert.Equal(t, 62, got.Score)
}

func TestEngineFallsBackOnPanic(t *testing.T) {
	engine := NewEngine(&stubAssessor{panicWith: "boom"}, time.Second, nil)

	got := engine.Score(context.Background(), backendRequest())

	assert.Equal(t, domain.StrategyFallback, got.Strategy)
}

func TestEngineFallsBackOnNilAssessment(t *testing.T) {
	engine := NewEngine(&stubAssessor{}, time.Second, nil)

	got := engine.Score(context.Background(), backendRequest())

	assert.Equal(t, domain.StrategyFallback, got.Strategy)
}

func TestEngineWithoutAssessor(t *testing.T) {
	engine := NewEngine(nil, 0, nil)

	got := engine.Score(context.Background(), backendRequest())

	assert.Equal(t, domain.StrategyFallback, got.Strategy)
	assert.Equal(t, DefaultTimeout, engine.timeout)
}
