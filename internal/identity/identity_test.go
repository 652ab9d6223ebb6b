package identity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/model"
)

func sampleContext() model.EventContext {
	return model.EventContext{
		Environment: model.Environment{
			Variables: map[string]any{
				"repo":   "kioku",
				"branch": "main",
				"depth":  3,
			},
		},
		ActiveGoals: []model.Goal{
			{ID: "g-1", Description: "ship release", Priority: 0.8, Progress: 0.2},
			{ID: "g-2", Description: "fix flaky test", Priority: 0.5, Progress: 0.0},
		},
		Resources: model.Resources{CPUPercent: 42.0},
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint(sampleContext())
	b := Fingerprint(sampleContext())
	assert.Equal(t, a, b)
	assert.NotZero(t, a)
}

func TestFingerprint_KeyOrderIndependent(t *testing.T) {
	ctx := sampleContext()

	reordered := sampleContext()
	// Rebuild the variables map in a different insertion order and reverse
	// the goal slice. Neither may affect the hash.
	reordered.Environment.Variables = map[string]any{
		"depth":  3,
		"branch": "main",
		"repo":   "kioku",
	}
	reordered.ActiveGoals = []model.Goal{reordered.ActiveGoals[1], reordered.ActiveGoals[0]}

	assert.Equal(t, Fingerprint(ctx), Fingerprint(reordered))
}

func TestFingerprint_GoalChangeChangesHash(t *testing.T) {
	base := Fingerprint(sampleContext())

	changed := sampleContext()
	changed.ActiveGoals[0].Description = "ship hotfix"
	assert.NotEqual(t, base, Fingerprint(changed))

	changed = sampleContext()
	changed.Environment.Variables["branch"] = "release"
	assert.NotEqual(t, base, Fingerprint(changed))
}

func TestFingerprint_IgnoresVolatileFields(t *testing.T) {
	base := Fingerprint(sampleContext())

	noisy := sampleContext()
	noisy.Resources.CPUPercent = 99.0
	noisy.Resources.External = map[string]bool{"search_api": false}
	noisy.Environment.Temporal = &model.TemporalInfo{Hour: 3, Minute: 15}
	assert.Equal(t, base, Fingerprint(noisy))
}

func TestFingerprint_NoCollisionsInCorpus(t *testing.T) {
	seen := make(map[uint64]string)
	for i := 0; i < 500; i++ {
		ctx := sampleContext()
		ctx.Environment.Variables["iteration"] = i
		fp := Fingerprint(ctx)
		prev, dup := seen[fp]
		require.False(t, dup, "collision between iteration %d and %s", i, prev)
		seen[fp] = "iteration"
	}
}

func TestAssignDefaults_FillsIDAndTimestamp(t *testing.T) {
	a := NewAssigner()
	e := &model.Event{AgentID: "a1", SessionID: "s1", EventType: model.EventAction}
	require.NoError(t, a.AssignDefaults(e))

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.OccurredAt.IsZero())
	assert.NotZero(t, e.Context.Fingerprint)
}

func TestAssignDefaults_PreservesCallerFingerprint(t *testing.T) {
	a := NewAssigner()
	e := &model.Event{AgentID: "a1", SessionID: "s1", EventType: model.EventAction}
	e.Context.Fingerprint = 0xdeadbeef
	require.NoError(t, a.AssignDefaults(e))
	assert.Equal(t, uint64(0xdeadbeef), e.Context.Fingerprint)
}

func TestAssignDefaults_RejectsRegressingTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewAssignerWithClock(func() time.Time { return now })

	first := &model.Event{AgentID: "a1", SessionID: "s1", EventType: model.EventAction, OccurredAt: now}
	require.NoError(t, a.AssignDefaults(first))

	second := &model.Event{
		AgentID: "a1", SessionID: "s1", EventType: model.EventAction,
		OccurredAt: now.Add(-time.Second),
	}
	err := a.AssignDefaults(second)
	var violation *model.CausalOrderingViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "a1", violation.AgentID)

	// A different session is unaffected by a1/s1's high-water mark.
	other := &model.Event{
		AgentID: "a1", SessionID: "s2", EventType: model.EventAction,
		OccurredAt: now.Add(-time.Second),
	}
	assert.NoError(t, a.AssignDefaults(other))
}
