package strategy

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/metrics"
	"github.com/ashita-ai/kioku/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newLearner() *Learner {
	return New(DefaultConfig(), nil, metrics.New(), testLogger())
}

func episodeWith(agentID, goalID, desc, outcome string, trace []model.ActionStep) *model.Episode {
	now := time.Now()
	closed := now
	return &model.Episode{
		ID:        uuid.New(),
		AgentID:   agentID,
		SessionID: "sess-1",
		GoalID:    goalID,
		Outcome:   outcome,
		State:     model.EpisodeClosed,
		Context: model.EventContext{
			ActiveGoals: []model.Goal{{ID: goalID, Description: desc}},
		},
		ContextHash: 42,
		StartedAt:   now.Add(-2 * time.Minute),
		LastEvent:   now,
		ClosedAt:    &closed,
		ActionTrace: trace,
		EventCount:  len(trace) + 1,
	}
}

func restartTrace() []model.ActionStep {
	return []model.ActionStep{
		{Name: "restart", Tool: "kubectl", Outcome: "success"},
		{Name: "verify", Tool: "curl", Outcome: "success"},
	}
}

func TestObserveEpisode_CreatesThenReinforces(t *testing.T) {
	ctx := context.Background()
	l := newLearner()

	first, err := l.ObserveEpisode(ctx, episodeWith("a1", "g1", "restore service health", model.OutcomeSuccess, restartTrace()))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, first.SuccessCount)
	assert.Equal(t, 1, first.SupportCount)

	second, err := l.ObserveEpisode(ctx, episodeWith("a1", "g1", "restore service health", model.OutcomeSuccess, restartTrace()))
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.SuccessCount)
	assert.Equal(t, 2, second.SupportCount)
	assert.Equal(t, 1, l.Count())
	assert.Greater(t, second.Confidence, first.Confidence)
}

func TestObserveEpisode_NoActionsTeachesNothing(t *testing.T) {
	l := newLearner()
	s, err := l.ObserveEpisode(context.Background(), episodeWith("a1", "g1", "restore service health", model.OutcomeSuccess, nil))
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, 0, l.Count())
}

func TestObserveEpisode_DifferentOutcomeIsDifferentStrategy(t *testing.T) {
	ctx := context.Background()
	l := newLearner()

	failTrace := []model.ActionStep{
		{Name: "restart", Tool: "kubectl", Outcome: "error"},
		{Name: "verify", Tool: "curl", Outcome: "error"},
	}
	_, err := l.ObserveEpisode(ctx, episodeWith("a1", "g1", "restore service health", model.OutcomeSuccess, restartTrace()))
	require.NoError(t, err)
	_, err = l.ObserveEpisode(ctx, episodeWith("a1", "g1", "restore service health", model.OutcomeFailure, failTrace))
	require.NoError(t, err)
	assert.Equal(t, 2, l.Count())
}

func TestQualityScore_MixedStrictlyBetweenPure(t *testing.T) {
	ctx := context.Background()
	l := newLearner()

	// Same signature, one success and one failure.
	_, err := l.ObserveEpisode(ctx, episodeWith("a1", "g1", "restore service health", model.OutcomeSuccess, restartTrace()))
	require.NoError(t, err)
	mixed, err := l.ObserveEpisode(ctx, episodeWith("a1", "g1", "restore service health", model.OutcomeFailure, restartTrace()))
	require.NoError(t, err)

	pureSuccess, err := l.ObserveEpisode(ctx, episodeWith("a2", "g1", "restore service health", model.OutcomeSuccess, restartTrace()))
	require.NoError(t, err)
	pureFailure, err := l.ObserveEpisode(ctx, episodeWith("a3", "g1", "restore service health", model.OutcomeFailure, restartTrace()))
	require.NoError(t, err)

	assert.Greater(t, mixed.QualityScore, pureFailure.QualityScore)
	assert.Less(t, mixed.QualityScore, pureSuccess.QualityScore)
}

func TestGoalBucket_SimilarDescriptionsShareBucket(t *testing.T) {
	a := GoalBucket("restore the service health", "g1")
	b := GoalBucket("restore service health", "g2")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, GoalBucket("compact archive tier", "g3"))
	assert.Equal(t, "g4", GoalBucket("", "g4"))
}

func TestBehaviorSignature_EncodesOrderAndPolarity(t *testing.T) {
	sig := BehaviorSignature(restartTrace())
	assert.Equal(t, "restart:+>verify:+", sig)

	reversed := []model.ActionStep{
		{Name: "verify", Outcome: "success"},
		{Name: "restart", Outcome: "success"},
	}
	assert.NotEqual(t, sig, BehaviorSignature(reversed))

	failed := []model.ActionStep{
		{Name: "restart", Outcome: "error"},
		{Name: "verify", Outcome: "failed"},
	}
	assert.Equal(t, "restart:->verify:-", BehaviorSignature(failed))
}

func TestFindSimilar_RanksAndFilters(t *testing.T) {
	ctx := context.Background()
	l := newLearner()

	_, err := l.ObserveEpisode(ctx, episodeWith("a1", "g1", "restore service health", model.OutcomeSuccess, restartTrace()))
	require.NoError(t, err)
	_, err = l.ObserveEpisode(ctx, episodeWith("a1", "g2", "compact archive tier", model.OutcomeSuccess,
		[]model.ActionStep{{Name: "compact", Tool: "archiver", Outcome: "success"}}))
	require.NoError(t, err)

	matches := l.FindSimilar(model.StrategyQuery{
		GoalIDs:   []string{"g1"},
		ToolNames: []string{"restart"},
		MinScore:  0.4,
		Limit:     10,
	})
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Strategy.BehaviorSignature, "restart")
	assert.GreaterOrEqual(t, matches[0].Score, 0.4)

	// Context hash equality adds a bonus.
	boosted := l.FindSimilar(model.StrategyQuery{
		GoalIDs:     []string{"g1"},
		ContextHash: 42,
		MinScore:    0.4,
		Limit:       10,
	})
	require.Len(t, boosted, 1)
	assert.Greater(t, boosted[0].Score, 0.45)
}

func TestFindSimilar_MinScoreExcludesWeakMatches(t *testing.T) {
	ctx := context.Background()
	l := newLearner()
	_, err := l.ObserveEpisode(ctx, episodeWith("a1", "g1", "restore service health", model.OutcomeSuccess, restartTrace()))
	require.NoError(t, err)

	matches := l.FindSimilar(model.StrategyQuery{
		ToolNames: []string{"unrelated-tool"},
		MinScore:  0.1,
		Limit:     10,
	})
	assert.Empty(t, matches)
}

func TestSuggestActions_FirstActionWhenNoHistory(t *testing.T) {
	ctx := context.Background()
	l := newLearner()
	_, err := l.ObserveEpisode(ctx, episodeWith("a1", "g1", "restore service health", model.OutcomeSuccess, restartTrace()))
	require.NoError(t, err)

	got := l.SuggestActions(0, "", 5)
	require.Len(t, got, 1)
	assert.Equal(t, "restart", got[0].ActionName)
	assert.Equal(t, 1, got[0].EvidenceCount)
	assert.NotEmpty(t, got[0].Reasoning)
	assert.Greater(t, got[0].SuccessProbability, 0.5)
}

func TestSuggestActions_FollowsSequenceFromLastAction(t *testing.T) {
	ctx := context.Background()
	l := newLearner()
	_, err := l.ObserveEpisode(ctx, episodeWith("a1", "g1", "restore service health", model.OutcomeSuccess, restartTrace()))
	require.NoError(t, err)

	got := l.SuggestActions(0, "restart", 5)
	require.Len(t, got, 1)
	assert.Equal(t, "verify", got[0].ActionName)

	// Final step has no successor.
	assert.Empty(t, l.SuggestActions(0, "verify", 5))
}

func TestSuggestActions_PreconditionFiltersContext(t *testing.T) {
	ctx := context.Background()
	l := newLearner()
	_, err := l.ObserveEpisode(ctx, episodeWith("a1", "g1", "restore service health", model.OutcomeSuccess, restartTrace()))
	require.NoError(t, err)

	assert.NotEmpty(t, l.SuggestActions(42, "", 5))
	assert.Empty(t, l.SuggestActions(99, "", 5))
}

func TestListByAgent_BestQualityFirst(t *testing.T) {
	ctx := context.Background()
	l := newLearner()

	for i := 0; i < 3; i++ {
		_, err := l.ObserveEpisode(ctx, episodeWith("a1", "g1", "restore service health", model.OutcomeSuccess, restartTrace()))
		require.NoError(t, err)
	}
	_, err := l.ObserveEpisode(ctx, episodeWith("a1", "g2", "compact archive tier", model.OutcomeFailure,
		[]model.ActionStep{{Name: "compact", Outcome: "error"}}))
	require.NoError(t, err)

	got := l.ListByAgent("a1", 10)
	require.Len(t, got, 2)
	assert.Greater(t, got[0].QualityScore, got[1].QualityScore)
}
