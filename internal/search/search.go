// Package search provides the vector index behind claim similarity. The
// primary backend is Qdrant; an in-memory index serves as the fallback when
// no external index is configured, keeping single-node deployments
// dependency-free.
package search

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Hit is an index match: a claim id and its raw cosine similarity.
type Hit struct {
	ID    uuid.UUID
	Score float64
}

// Index is a vector index over claim embeddings. Implementations must be
// safe for concurrent use.
type Index interface {
	// Upsert stores or replaces the vector for an id.
	Upsert(ctx context.Context, id uuid.UUID, vec []float32) error

	// Search returns up to limit ids by cosine similarity ≥ minSimilarity,
	// best first.
	Search(ctx context.Context, vec []float32, limit int, minSimilarity float64) ([]Hit, error)

	// Remove deletes an id from the index. Removing an absent id is a no-op.
	Remove(ctx context.Context, id uuid.UUID) error

	// Healthy returns nil when the index is reachable.
	Healthy(ctx context.Context) error
}

// Cosine computes cosine similarity between two vectors. Mismatched lengths
// and zero vectors yield 0 — a NoopProvider's zero embeddings simply never
// match anything.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MemoryIndex is a linear-scan in-memory index. Fine for the claim volumes
// a single node sees; swap in Qdrant when the corpus outgrows it.
type MemoryIndex struct {
	mu   sync.RWMutex
	vecs map[uuid.UUID][]float32
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vecs: make(map[uuid.UUID][]float32)}
}

// Upsert stores or replaces a vector.
func (m *MemoryIndex) Upsert(_ context.Context, id uuid.UUID, vec []float32) error {
	cp := make([]float32, len(vec))
	copy(cp, vec)
	m.mu.Lock()
	m.vecs[id] = cp
	m.mu.Unlock()
	return nil
}

// Search scans all vectors and returns the best matches.
func (m *MemoryIndex) Search(_ context.Context, vec []float32, limit int, minSimilarity float64) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.vecs))
	for id, v := range m.vecs {
		if score := Cosine(vec, v); score >= minSimilarity {
			hits = append(hits, Hit{ID: id, Score: score})
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		// Deterministic order for equal scores.
		return hits[i].ID.String() < hits[j].ID.String()
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Remove deletes an id.
func (m *MemoryIndex) Remove(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	delete(m.vecs, id)
	m.mu.Unlock()
	return nil
}

// Healthy always succeeds for the in-memory index.
func (m *MemoryIndex) Healthy(context.Context) error { return nil }

// Len returns the number of indexed vectors.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vecs)
}
