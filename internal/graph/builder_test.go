package graph

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/metrics"
	"github.com/ashita-ai/kioku/internal/model"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	return NewBuilder(NewArena(0), nil, slog.Default(), metrics.New())
}

func makeEvent(agentID, sessionID string, et model.EventType) *model.Event {
	return &model.Event{
		ID:         uuid.New(),
		AgentID:    agentID,
		SessionID:  sessionID,
		EventType:  et,
		OccurredAt: time.Now().UTC(),
	}
}

func TestBuild_CreatesEventGoalAndContextNodes(t *testing.T) {
	b := newTestBuilder(t)

	e := makeEvent("a1", "s1", model.EventObservation)
	e.Context.ActiveGoals = []model.Goal{{ID: "g1", Description: "deploy", Priority: 0.9}}
	e.Context.Fingerprint = 0xfeed

	created, err := b.Build(context.Background(), e)
	require.NoError(t, err)
	// Event + Goal + Context nodes.
	assert.Equal(t, 3, created)

	_, ok := b.arena.Lookup(model.NodeEvent, e.ID.String())
	assert.True(t, ok)
	_, ok = b.arena.Lookup(model.NodeGoal, "g1")
	assert.True(t, ok)
	_, ok = b.arena.Lookup(model.NodeContext, "feed")
	assert.True(t, ok)

	g, ok := b.Goal("g1")
	require.True(t, ok)
	assert.Equal(t, "deploy", g.Description)
}

func TestBuild_CausedByEdgeWithKnownParent(t *testing.T) {
	b := newTestBuilder(t)
	ctx := context.Background()

	parent := makeEvent("a1", "s1", model.EventObservation)
	_, err := b.Build(ctx, parent)
	require.NoError(t, err)

	child := makeEvent("a1", "s1", model.EventCognitive)
	child.CausalityChain = []uuid.UUID{parent.ID}
	_, err = b.Build(ctx, child)
	require.NoError(t, err)

	parentNode, _ := b.arena.Lookup(model.NodeEvent, parent.ID.String())
	edges := b.arena.OutEdges(parentNode)
	require.Len(t, edges, 1)
	assert.Equal(t, model.EdgeCausedBy, edges[0].EdgeType)
	assert.InDelta(t, initialConfidence, edges[0].Confidence, 1e-9)
}

func TestBuild_MissingParentGetsReducedConfidence(t *testing.T) {
	b := newTestBuilder(t)

	missing := uuid.New()
	child := makeEvent("a1", "s1", model.EventObservation)
	child.CausalityChain = []uuid.UUID{missing}

	created, err := b.Build(context.Background(), child)
	require.NoError(t, err)
	// Ingestion still succeeds and a placeholder parent node appears.
	assert.Equal(t, 2, created)

	parentNode, ok := b.arena.Lookup(model.NodeEvent, missing.String())
	require.True(t, ok)
	edges := b.arena.OutEdges(parentNode)
	require.Len(t, edges, 1)
	assert.InDelta(t, danglingParentConfidence, edges[0].Confidence, 1e-9)
}

func TestBuild_ActionGetsLeadsToFromPrecedingEvent(t *testing.T) {
	b := newTestBuilder(t)
	ctx := context.Background()

	first := makeEvent("a1", "s1", model.EventObservation)
	_, err := b.Build(ctx, first)
	require.NoError(t, err)

	action := makeEvent("a1", "s1", model.EventAction)
	action.Payload = map[string]any{"name": "run_tests", "tool": "go"}
	_, err = b.Build(ctx, action)
	require.NoError(t, err)

	firstNode, _ := b.arena.Lookup(model.NodeEvent, first.ID.String())
	actionNode, ok := b.arena.Lookup(model.NodeAction, "run_tests")
	require.True(t, ok)

	var found bool
	for _, e := range b.arena.OutEdges(firstNode) {
		if e.To == actionNode && e.EdgeType == model.EdgeLeadsTo {
			found = true
		}
	}
	assert.True(t, found, "expected LeadsTo edge from preceding event to action node")
}

func TestBuild_RepeatedGoalEdgeIsReinforced(t *testing.T) {
	b := newTestBuilder(t)
	ctx := context.Background()

	goal := model.Goal{ID: "g1", Description: "deploy", Priority: 0.9}
	e1 := makeEvent("a1", "s1", model.EventObservation)
	e1.Context.ActiveGoals = []model.Goal{goal}
	_, err := b.Build(ctx, e1)
	require.NoError(t, err)

	goalNode, _ := b.arena.Lookup(model.NodeGoal, "g1")
	e1Node, _ := b.arena.Lookup(model.NodeEvent, e1.ID.String())

	var before float64
	for _, e := range b.arena.OutEdges(e1Node) {
		if e.To == goalNode {
			before = e.Weight
		}
	}

	// Rebuilding the same event reinforces the PartOf edge instead of
	// duplicating it.
	_, err = b.Build(ctx, e1)
	require.NoError(t, err)

	var after float64
	var count int
	for _, e := range b.arena.OutEdges(e1Node) {
		if e.To == goalNode {
			after = e.Weight
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Greater(t, after, before)
}

func TestArena_CapacityExceeded(t *testing.T) {
	a := NewArena(1)
	_, _, err := a.EnsureNode(model.NodeEvent, "one", nil)
	require.NoError(t, err)

	_, _, err = a.EnsureNode(model.NodeEvent, "two", nil)
	var cap *model.CapacityExceeded
	require.ErrorAs(t, err, &cap)
	assert.True(t, model.IsRetryable(err))

	// Re-ensuring an existing node is not a new write and still succeeds.
	_, created, err := a.EnsureNode(model.NodeEvent, "one", nil)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestArena_NeighborhoodDepth(t *testing.T) {
	a := NewArena(0)
	n1, _, _ := a.EnsureNode(model.NodeEvent, "e1", nil)
	n2, _, _ := a.EnsureNode(model.NodeEvent, "e2", nil)
	n3, _, _ := a.EnsureNode(model.NodeEvent, "e3", nil)
	a.EnsureEdge(n1, n2, model.EdgeCausedBy, 0.8)
	a.EnsureEdge(n2, n3, model.EdgeCausedBy, 0.8)

	s := a.Neighborhood(n1, 1)
	assert.Len(t, s.Nodes, 2)
	assert.Len(t, s.Edges, 1)

	s = a.Neighborhood(n1, 2)
	assert.Len(t, s.Nodes, 3)
	assert.Len(t, s.Edges, 2)
}
