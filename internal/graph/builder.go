package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ashita-ai/kioku/internal/metrics"
	"github.com/ashita-ai/kioku/internal/model"
)

// Persister receives write-through copies of graph mutations for durable
// storage. Implementations must tolerate repeated upserts of the same
// node/edge. A nil Persister keeps the graph in-memory only.
type Persister interface {
	UpsertNode(ctx context.Context, n model.GraphNode) error
	UpsertEdge(ctx context.Context, e model.GraphEdge) error
}

// GoalInfo is the registry's latest known view of a goal. Goals are not
// first-class stored entities; this projection is rebuilt from events.
type GoalInfo struct {
	ID          string
	Description string
	Priority    float64
	Progress    float64
}

// Builder turns persisted events into graph mutations. Failure to build any
// part of the graph never rolls back the already-persisted event — partial
// failures are logged and the rest of the event is still applied.
type Builder struct {
	arena   *Arena
	store   Persister
	logger  *slog.Logger
	metrics *metrics.Aggregator

	mu          sync.Mutex
	goals       map[string]GoalInfo
	lastInChain map[string]int64 // agent_id + "\x00" + session_id → node id of last event
}

// NewBuilder creates a Builder over the given arena. store may be nil.
func NewBuilder(arena *Arena, store Persister, logger *slog.Logger, agg *metrics.Aggregator) *Builder {
	return &Builder{
		arena:       arena,
		store:       store,
		logger:      logger,
		metrics:     agg,
		goals:       make(map[string]GoalInfo),
		lastInChain: make(map[string]int64),
	}
}

// Build applies one persisted event to the graph and returns the number of
// nodes created. Only the node-capacity error is fatal; everything else
// degrades to a logged warning so the event's other edges still land.
func (b *Builder) Build(ctx context.Context, e *model.Event) (nodesCreated int, err error) {
	eventNode, created, err := b.arena.EnsureNode(model.NodeEvent, e.ID.String(), map[string]any{
		"event_type":  string(e.EventType),
		"agent_id":    e.AgentID,
		"session_id":  e.SessionID,
		"occurred_at": e.OccurredAt,
	})
	if err != nil {
		return 0, fmt.Errorf("graph: event node: %w", err)
	}
	if created {
		nodesCreated++
		b.persistNode(ctx, eventNode)
	}

	// Causal parents. A parent not yet in the graph may be segment-stored or
	// archived — still record the relation, at reduced confidence.
	for _, parentID := range e.CausalityChain {
		parentNode, ok := b.arena.Lookup(model.NodeEvent, parentID.String())
		confidence := initialConfidence
		if !ok {
			confidence = danglingParentConfidence
			var nerr error
			parentNode, created, nerr = b.arena.EnsureNode(model.NodeEvent, parentID.String(), map[string]any{
				"placeholder": true,
			})
			if nerr != nil {
				b.logger.Warn("graph: skip causal parent", "event_id", e.ID, "parent_id", parentID, "error", nerr)
				continue
			}
			if created {
				nodesCreated++
				b.persistNode(ctx, parentNode)
			}
		}
		b.addEdge(ctx, parentNode, eventNode, model.EdgeCausedBy, confidence)
	}

	// Goal membership. Upsert the goal node and registry entry with the
	// latest description/priority, then reinforce the PartOf edge.
	for _, g := range e.Context.ActiveGoals {
		goalNode, err := b.ensureGoal(ctx, g)
		if err != nil {
			b.logger.Warn("graph: skip goal", "event_id", e.ID, "goal_id", g.ID, "error", err)
			continue
		}
		if goalNode.created {
			nodesCreated++
		}
		b.addEdge(ctx, eventNode, goalNode.id, model.EdgePartOf, initialConfidence)
	}

	// Context node keyed by fingerprint, so recurring situations accumulate
	// on a single node.
	if fp := e.Context.Fingerprint; fp != 0 {
		ctxNode, created, nerr := b.arena.EnsureNode(model.NodeContext, strconv.FormatUint(fp, 16), nil)
		if nerr != nil {
			b.logger.Warn("graph: skip context node", "event_id", e.ID, "error", nerr)
		} else {
			if created {
				nodesCreated++
				b.persistNode(ctx, ctxNode)
			}
			b.addEdge(ctx, eventNode, ctxNode, model.EdgePartOf, initialConfidence)
		}
	}

	// Action events get their own Action node, linked from the preceding
	// event in the same session by LeadsTo.
	chainKey := e.AgentID + "\x00" + e.SessionID
	if e.EventType == model.EventAction {
		if p, perr := e.Action(); perr != nil {
			b.logger.Warn("graph: malformed action payload", "event_id", e.ID, "error", perr)
		} else if p.Name != "" {
			actionNode, created, nerr := b.arena.EnsureNode(model.NodeAction, p.Name, map[string]any{
				"tool": p.Tool,
			})
			if nerr != nil {
				b.logger.Warn("graph: skip action node", "event_id", e.ID, "error", nerr)
			} else {
				if created {
					nodesCreated++
					b.persistNode(ctx, actionNode)
				}
				b.mu.Lock()
				prev, hasPrev := b.lastInChain[chainKey]
				b.mu.Unlock()
				if hasPrev {
					b.addEdge(ctx, prev, actionNode, model.EdgeLeadsTo, initialConfidence)
				}
			}
		}
	}

	b.mu.Lock()
	b.lastInChain[chainKey] = eventNode
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.NodesCreated.Add(int64(nodesCreated))
	}
	return nodesCreated, nil
}

type goalNode struct {
	id      int64
	created bool
}

func (b *Builder) ensureGoal(ctx context.Context, g model.Goal) (goalNode, error) {
	props := map[string]any{
		"description": g.Description,
		"priority":    g.Priority,
	}
	id, created, err := b.arena.EnsureNode(model.NodeGoal, g.ID, props)
	if err != nil {
		return goalNode{}, err
	}
	if !created {
		b.arena.SetNodeProperties(id, props)
	}
	b.persistNode(ctx, id)

	b.mu.Lock()
	b.goals[g.ID] = GoalInfo{ID: g.ID, Description: g.Description, Priority: g.Priority, Progress: g.Progress}
	b.mu.Unlock()

	return goalNode{id: id, created: created}, nil
}

func (b *Builder) addEdge(ctx context.Context, from, to int64, t model.EdgeType, confidence float64) {
	edge, created := b.arena.EnsureEdge(from, to, t, confidence)
	if b.metrics != nil {
		if created {
			b.metrics.EdgesCreated.Add(1)
		} else {
			b.metrics.EdgesReinforced.Add(1)
		}
	}
	if b.store != nil {
		if err := b.store.UpsertEdge(ctx, edge); err != nil {
			b.logger.Warn("graph: persist edge", "edge_id", edge.ID, "error", err)
		}
	}
}

func (b *Builder) persistNode(ctx context.Context, id int64) {
	if b.store == nil {
		return
	}
	n, ok := b.arena.Node(id)
	if !ok {
		return
	}
	if err := b.store.UpsertNode(ctx, n); err != nil {
		b.logger.Warn("graph: persist node", "node_id", id, "error", err)
	}
}

// Goal returns the registry's latest view of a goal id.
func (b *Builder) Goal(id string) (GoalInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.goals[id]
	return g, ok
}

// Goals returns a copy of the goal registry.
func (b *Builder) Goals() map[string]GoalInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]GoalInfo, len(b.goals))
	for k, v := range b.goals {
		out[k] = v
	}
	return out
}
