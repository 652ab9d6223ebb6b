package search

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestMemoryIndex_SearchOrdering(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	close1 := uuid.New()
	close2 := uuid.New()
	far := uuid.New()

	require.NoError(t, idx.Upsert(ctx, close1, []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, close2, []float32{0.9, 0.1, 0}))
	require.NoError(t, idx.Upsert(ctx, far, []float32{0, 0, 1}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, close1, hits[0].ID)
	assert.Equal(t, close2, hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestMemoryIndex_MinSimilarityBoundary(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	exact := uuid.New()
	near := uuid.New()
	require.NoError(t, idx.Upsert(ctx, exact, []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, near, []float32{0.99, 0.14}))

	// Threshold 1.0 admits only the exact match.
	hits, err := idx.Search(ctx, []float32{1, 0}, 10, 1.0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, exact, hits[0].ID)
}

func TestMemoryIndex_LimitAndTieBreak(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, idx.Upsert(ctx, ids[i], []float32{1, 0}))
	}

	first, err := idx.Search(ctx, []float32{1, 0}, 3, 0)
	require.NoError(t, err)
	require.Len(t, first, 3)

	// Equal scores break ties by id, so repeated searches agree.
	second, err := idx.Search(ctx, []float32{1, 0}, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMemoryIndex_UpsertReplacesAndRemove(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	id := uuid.New()

	require.NoError(t, idx.Upsert(ctx, id, []float32{0, 1}))
	require.NoError(t, idx.Upsert(ctx, id, []float32{1, 0}))
	assert.Equal(t, 1, idx.Len())

	hits, err := idx.Search(ctx, []float32{1, 0}, 1, 0.9)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	require.NoError(t, idx.Remove(ctx, id))
	require.NoError(t, idx.Remove(ctx, id)) // absent id is a no-op
	assert.Equal(t, 0, idx.Len())
}

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{"https rest port maps to grpc", "https://cluster.cloud.qdrant.io:6333", "cluster.cloud.qdrant.io", 6334, true, false},
		{"http localhost", "http://localhost:6333", "localhost", 6334, false, false},
		{"explicit grpc port kept", "http://localhost:6334", "localhost", 6334, false, false},
		{"no port defaults to grpc", "https://qdrant.example.com", "qdrant.example.com", 6334, true, false},
		{"garbage", "not a url", "", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := parseQdrantURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
			assert.Equal(t, tt.wantTLS, useTLS)
		})
	}
}
