// Package testutil provides in-memory test doubles shared across package
// tests.
package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/storage"
)

// MemStore is a thread-safe in-memory implementation of the engine's
// persistence surface. It mirrors the duplicate-id and not-found semantics
// of the Postgres store.
type MemStore struct {
	mu         sync.Mutex
	events     map[uuid.UUID]*model.Event
	eventOrder []uuid.UUID
	episodes   map[uuid.UUID]*model.Episode
	nodes      map[int64]model.GraphNode
	edges      map[int64]model.GraphEdge
	memories   map[uuid.UUID]*model.Memory
	claims     map[uuid.UUID]*model.Claim
	strategies map[uuid.UUID]*model.Strategy

	// SaveCount tracks total upsert calls per entity kind, for asserting
	// write-through behavior.
	SaveCount map[string]int
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		events:     make(map[uuid.UUID]*model.Event),
		episodes:   make(map[uuid.UUID]*model.Episode),
		nodes:      make(map[int64]model.GraphNode),
		edges:      make(map[int64]model.GraphEdge),
		memories:   make(map[uuid.UUID]*model.Memory),
		claims:     make(map[uuid.UUID]*model.Claim),
		strategies: make(map[uuid.UUID]*model.Strategy),
		SaveCount:  make(map[string]int),
	}
}

// InsertEvent appends an event. Re-inserting an existing id is rejected.
func (s *MemStore) InsertEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return model.ErrDuplicateEvent
	}
	cp := *e
	s.events[e.ID] = &cp
	s.eventOrder = append(s.eventOrder, e.ID)
	s.SaveCount["event"]++
	return nil
}

// GetEvent returns an event by id.
func (s *MemStore) GetEvent(_ context.Context, id uuid.UUID) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// ListEvents returns events matching the filter in occurrence order.
func (s *MemStore) ListEvents(_ context.Context, f model.EventFilter) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Event
	for _, id := range s.eventOrder {
		e := s.events[id]
		if f.AgentID != "" && e.AgentID != f.AgentID {
			continue
		}
		if f.SessionID != "" && e.SessionID != f.SessionID {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if !f.Since.IsZero() && e.OccurredAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.OccurredAt.After(f.Until) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// SaveEpisode upserts an episode.
func (s *MemStore) SaveEpisode(_ context.Context, ep *model.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ep
	s.episodes[ep.ID] = &cp
	s.SaveCount["episode"]++
	return nil
}

// ListEpisodes returns episodes matching the filter, newest first.
func (s *MemStore) ListEpisodes(_ context.Context, f model.EpisodeFilter) ([]*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Episode
	for _, ep := range s.episodes {
		if f.AgentID != "" && ep.AgentID != f.AgentID {
			continue
		}
		if f.GoalID != "" && ep.GoalID != f.GoalID {
			continue
		}
		if f.State != "" && ep.State != f.State {
			continue
		}
		cp := *ep
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// UpsertNode stores a graph node.
func (s *MemStore) UpsertNode(_ context.Context, n model.GraphNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
	s.SaveCount["node"]++
	return nil
}

// UpsertEdge stores a graph edge.
func (s *MemStore) UpsertEdge(_ context.Context, e model.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[e.ID] = e
	s.SaveCount["edge"]++
	return nil
}

// SaveMemory upserts a memory.
func (s *MemStore) SaveMemory(_ context.Context, m *model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.memories[m.ID] = &cp
	s.SaveCount["memory"]++
	return nil
}

// SaveClaim upserts a claim.
func (s *MemStore) SaveClaim(_ context.Context, c *model.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.claims[c.ID] = &cp
	s.SaveCount["claim"]++
	return nil
}

// SaveStrategy upserts a strategy.
func (s *MemStore) SaveStrategy(_ context.Context, st *model.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.strategies[st.ID] = &cp
	s.SaveCount["strategy"]++
	return nil
}

// EventCount returns the number of stored events.
func (s *MemStore) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// EpisodeCount returns the number of stored episodes.
func (s *MemStore) EpisodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.episodes)
}

// NodeCount returns the number of stored graph nodes.
func (s *MemStore) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// MemoryCount returns the number of stored memories.
func (s *MemStore) MemoryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memories)
}

// ClaimCount returns the number of stored claims.
func (s *MemStore) ClaimCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

// StrategyCount returns the number of stored strategies.
func (s *MemStore) StrategyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.strategies)
}
