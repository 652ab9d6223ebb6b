package memory

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/identity"
	"github.com/ashita-ai/kioku/internal/metrics"
	"github.com/ashita-ai/kioku/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func closedEpisode(agentID, goalID, outcome string, significance float64) *model.Episode {
	now := time.Now()
	ctx := model.EventContext{
		ActiveGoals: []model.Goal{{ID: goalID, Description: "restore service health", Priority: 0.8}},
		Environment: model.Environment{Variables: map[string]any{"region": "eu-west-1"}},
	}
	ctx.Fingerprint = identity.Fingerprint(ctx)
	closed := now
	return &model.Episode{
		ID:           uuid.New(),
		AgentID:      agentID,
		SessionID:    "sess-1",
		GoalID:       goalID,
		EventCount:   5,
		Significance: significance,
		Outcome:      outcome,
		State:        model.EpisodeClosed,
		Context:      ctx,
		ContextHash:  ctx.Fingerprint,
		StartedAt:    now.Add(-time.Minute),
		LastEvent:    now,
		ClosedAt:     &closed,
		ActionTrace:  []model.ActionStep{{Name: "restart", Tool: "kubectl", Outcome: "success"}},
	}
}

func TestFormFromEpisode_Classification(t *testing.T) {
	tests := []struct {
		name         string
		outcome      string
		significance float64
		want         model.MemoryType
	}{
		{"success high significance", model.OutcomeSuccess, 0.8, model.MemorySemantic},
		{"success low significance", model.OutcomeSuccess, 0.3, model.MemoryEpisodic},
		{"failure", model.OutcomeFailure, 0.8, model.MemoryNegative},
		{"abandoned", model.OutcomeAbandoned, 0.5, model.MemoryEpisodic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(DefaultConfig(), nil, metrics.New(), testLogger())
			m, err := svc.FormFromEpisode(context.Background(), closedEpisode("a1", "g1", tt.outcome, tt.significance))
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.MemoryType)
			assert.Equal(t, tt.outcome, m.Outcome)
		})
	}
}

func TestFormFromEpisode_RejectsOpenEpisode(t *testing.T) {
	svc := New(DefaultConfig(), nil, metrics.New(), testLogger())
	ep := closedEpisode("a1", "g1", model.OutcomeSuccess, 0.5)
	ep.State = model.EpisodeOpen
	_, err := svc.FormFromEpisode(context.Background(), ep)
	require.Error(t, err)
}

func TestFormFromEpisode_HashMatchesFormationContext(t *testing.T) {
	svc := New(DefaultConfig(), nil, metrics.New(), testLogger())
	ep := closedEpisode("a1", "g1", model.OutcomeSuccess, 0.5)
	m, err := svc.FormFromEpisode(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, identity.Fingerprint(m.Context), m.ContextHash)
}

func TestRetrieveByAgent_OrderAndBookkeeping(t *testing.T) {
	ctx := context.Background()
	svc := New(DefaultConfig(), nil, metrics.New(), testLogger())

	low, err := svc.FormFromEpisode(ctx, closedEpisode("a1", "g1", model.OutcomeSuccess, 0.3))
	require.NoError(t, err)
	high, err := svc.FormFromEpisode(ctx, closedEpisode("a1", "g2", model.OutcomeSuccess, 0.9))
	require.NoError(t, err)
	_, err = svc.FormFromEpisode(ctx, closedEpisode("other", "g3", model.OutcomeSuccess, 0.95))
	require.NoError(t, err)

	got := svc.RetrieveByAgent(ctx, "a1", 10)
	require.Len(t, got, 2)
	assert.Equal(t, high.ID, got[0].ID)
	assert.Equal(t, low.ID, got[1].ID)

	for _, m := range got {
		assert.Equal(t, int64(1), m.AccessCount)
		assert.False(t, m.LastAccessed.IsZero())
	}

	// Strength moved up by the access boost.
	assert.Greater(t, got[0].Strength, high.Strength)
}

func TestRetrieval_LazyDecayHalvesAfterHalfLife(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	now := time.Now()
	svc := NewWithClock(cfg, nil, metrics.New(), testLogger(), func() time.Time { return now })

	formed, err := svc.FormFromEpisode(ctx, closedEpisode("a1", "g1", model.OutcomeSuccess, 0.8))
	require.NoError(t, err)

	now = now.Add(cfg.HalfLife)
	got := svc.RetrieveByAgent(ctx, "a1", 1)
	require.Len(t, got, 1)
	assert.InDelta(t, formed.Strength/2+cfg.AccessBoost, got[0].Strength, 1e-9)
}

func TestRetrieval_StrengthNeverBelowFloor(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	now := time.Now()
	svc := NewWithClock(cfg, nil, metrics.New(), testLogger(), func() time.Time { return now })

	_, err := svc.FormFromEpisode(ctx, closedEpisode("a1", "g1", model.OutcomeSuccess, 0.8))
	require.NoError(t, err)

	now = now.Add(100 * cfg.HalfLife)
	got := svc.RetrieveByAgent(ctx, "a1", 1)
	require.Len(t, got, 1)
	assert.InDelta(t, cfg.MinStrength+cfg.AccessBoost, got[0].Strength, 1e-9)
}

func TestRetrieveByContext_ExactFingerprintFirst(t *testing.T) {
	ctx := context.Background()
	svc := New(DefaultConfig(), nil, metrics.New(), testLogger())

	// Same goal/env, so the fingerprint matches the query exactly.
	exactEp := closedEpisode("a1", "g1", model.OutcomeSuccess, 0.4)
	exact, err := svc.FormFromEpisode(ctx, exactEp)
	require.NoError(t, err)

	// Shares the goal id but differs in env, so the hash differs and only
	// approximate similarity applies.
	nearEp := closedEpisode("a1", "g1", model.OutcomeSuccess, 0.9)
	nearEp.Context.Environment.Variables = map[string]any{"region": "us-east-1"}
	nearEp.Context.Fingerprint = identity.Fingerprint(nearEp.Context)
	nearEp.ContextHash = nearEp.Context.Fingerprint
	near, err := svc.FormFromEpisode(ctx, nearEp)
	require.NoError(t, err)

	got := svc.RetrieveByContext(ctx, model.ContextQuery{
		Context:       exactEp.Context,
		Limit:         10,
		MinSimilarity: 0.2,
	})
	require.Len(t, got, 2)
	assert.Equal(t, exact.ID, got[0].Memory.ID)
	assert.Equal(t, 1.0, got[0].Similarity)
	assert.Equal(t, near.ID, got[1].Memory.ID)
	assert.Less(t, got[1].Similarity, 1.0)
	assert.GreaterOrEqual(t, got[1].Similarity, 0.2)
}

func TestRetrieveByContext_MinSimilarityFiltersUnrelated(t *testing.T) {
	ctx := context.Background()
	svc := New(DefaultConfig(), nil, metrics.New(), testLogger())

	unrelated := closedEpisode("a1", "g-other", model.OutcomeSuccess, 0.9)
	unrelated.Context = model.EventContext{
		ActiveGoals: []model.Goal{{ID: "g-other", Description: "compact the archive tier"}},
		Environment: model.Environment{Variables: map[string]any{"tier": "cold"}},
	}
	unrelated.Context.Fingerprint = identity.Fingerprint(unrelated.Context)
	unrelated.ContextHash = unrelated.Context.Fingerprint
	_, err := svc.FormFromEpisode(ctx, unrelated)
	require.NoError(t, err)

	query := model.EventContext{
		ActiveGoals: []model.Goal{{ID: "g1", Description: "restore service health"}},
		Environment: model.Environment{Variables: map[string]any{"region": "eu-west-1"}},
	}
	got := svc.RetrieveByContext(ctx, model.ContextQuery{Context: query, Limit: 10, MinSimilarity: 0.5})
	assert.Empty(t, got)
}

func TestRetrieveByContext_AgentFilter(t *testing.T) {
	ctx := context.Background()
	svc := New(DefaultConfig(), nil, metrics.New(), testLogger())

	ep := closedEpisode("a1", "g1", model.OutcomeSuccess, 0.5)
	_, err := svc.FormFromEpisode(ctx, ep)
	require.NoError(t, err)

	got := svc.RetrieveByContext(ctx, model.ContextQuery{
		Context: ep.Context,
		Limit:   10,
		AgentID: "someone-else",
	})
	assert.Empty(t, got)
}

func TestCacheEviction_CountsButNeverErrors(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.CacheSize = 2
	agg := metrics.New()
	svc := New(cfg, nil, agg, testLogger())

	for i := 0; i < 3; i++ {
		_, err := svc.FormFromEpisode(ctx, closedEpisode("a1", "g1", model.OutcomeSuccess, 0.5))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, svc.Count())
	assert.Equal(t, int64(1), agg.Read().MemoryEvictions)
	assert.Equal(t, int64(3), agg.Read().MemoriesFormed)
}

func TestWorkingView_NeverCached(t *testing.T) {
	svc := New(DefaultConfig(), nil, metrics.New(), testLogger())
	ep := closedEpisode("a1", "g1", "", 0.5)
	ep.State = model.EpisodeOpen
	ep.ClosedAt = nil

	w := svc.WorkingView(ep)
	assert.Equal(t, model.MemoryWorking, w.MemoryType)
	assert.Equal(t, 0, svc.Count())
}

func TestContextSimilarity_IdenticalIsHigh(t *testing.T) {
	ctx := model.EventContext{
		ActiveGoals: []model.Goal{{ID: "g1", Description: "restore service health"}},
		Environment: model.Environment{Variables: map[string]any{"region": "eu-west-1"}},
	}
	assert.InDelta(t, 1.0, ContextSimilarity(ctx, ctx), 1e-9)
}

func TestContextSimilarity_DisjointIsZero(t *testing.T) {
	a := model.EventContext{
		ActiveGoals: []model.Goal{{ID: "g1", Description: "restore service health"}},
		Environment: model.Environment{Variables: map[string]any{"region": "eu-west-1"}},
	}
	b := model.EventContext{
		ActiveGoals: []model.Goal{{ID: "g2", Description: "compact archive tier"}},
		Environment: model.Environment{Variables: map[string]any{"tier": "cold"}},
	}
	assert.Equal(t, 0.0, ContextSimilarity(a, b))
}
