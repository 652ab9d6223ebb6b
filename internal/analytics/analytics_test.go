package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/graph"
	"github.com/ashita-ai/kioku/internal/model"
)

// snapshotOf builds a snapshot from edge pairs over implicit nodes.
func snapshotOf(nodeIDs []int64, edges [][2]int64) graph.Snapshot {
	var s graph.Snapshot
	for _, id := range nodeIDs {
		s.Nodes = append(s.Nodes, model.GraphNode{ID: id, NodeType: model.NodeEvent})
	}
	for i, e := range edges {
		s.Edges = append(s.Edges, model.GraphEdge{
			ID: int64(i + 1), From: e[0], To: e[1],
			EdgeType: model.EdgeCausedBy, Weight: 1, Confidence: 1,
		})
	}
	return s
}

// twoTriangles is a classic community structure: two triangles joined by a
// single bridge edge.
func twoTriangles() graph.Snapshot {
	return snapshotOf([]int64{1, 2, 3, 4, 5, 6}, [][2]int64{
		{1, 2}, {2, 3}, {3, 1},
		{4, 5}, {5, 6}, {6, 4},
		{3, 4},
	})
}

func TestComponents_CountsAndLargest(t *testing.T) {
	snap := snapshotOf([]int64{1, 2, 3, 4, 5}, [][2]int64{{1, 2}, {2, 3}, {4, 5}})
	res := Components(snap)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 3, res.LargestSize)
	assert.Equal(t, res.Assignment[1], res.Assignment[3])
	assert.NotEqual(t, res.Assignment[1], res.Assignment[4])
}

func TestComponents_EmptyAndSingleton(t *testing.T) {
	assert.Equal(t, 0, Components(graph.Snapshot{}).Count)

	res := Components(snapshotOf([]int64{7}, nil))
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 1, res.LargestSize)
}

func TestPaths_PathGraph(t *testing.T) {
	// 1-2-3-4 in a line: diameter 3, avg = (1+2+3+1+2+1)/6 = 5/3.
	snap := snapshotOf([]int64{1, 2, 3, 4}, [][2]int64{{1, 2}, {2, 3}, {3, 4}})
	stats := Paths(snap)
	assert.Equal(t, 3, stats.Diameter)
	assert.InDelta(t, 5.0/3.0, stats.AvgPathLength, 1e-9)
}

func TestPaths_IgnoresSmallerComponents(t *testing.T) {
	snap := snapshotOf([]int64{1, 2, 3, 10, 11}, [][2]int64{{1, 2}, {2, 3}, {10, 11}})
	stats := Paths(snap)
	assert.Equal(t, 2, stats.Diameter)
}

func TestPaths_TinyGraphIsZero(t *testing.T) {
	assert.Equal(t, PathStats{}, Paths(graph.Snapshot{}))
	assert.Equal(t, PathStats{}, Paths(snapshotOf([]int64{1}, nil)))
}

func TestLouvain_FindsTriangleCommunities(t *testing.T) {
	res := Louvain(twoTriangles())
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, res.Communities[1], res.Communities[2])
	assert.Equal(t, res.Communities[1], res.Communities[3])
	assert.Equal(t, res.Communities[4], res.Communities[5])
	assert.NotEqual(t, res.Communities[1], res.Communities[4])
	assert.Greater(t, res.Modularity, 0.3)
	assert.GreaterOrEqual(t, res.Iterations, 1)
}

func TestLouvain_Deterministic(t *testing.T) {
	first := Louvain(twoTriangles())
	for i := 0; i < 5; i++ {
		again := Louvain(twoTriangles())
		assert.Equal(t, first.Communities, again.Communities)
		assert.Equal(t, first.Modularity, again.Modularity)
		assert.Equal(t, first.Iterations, again.Iterations)
	}
}

func TestLouvain_EmptyGraph(t *testing.T) {
	res := Louvain(graph.Snapshot{})
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, 0.0, res.Modularity)
}

func TestCentrality_StarGraph(t *testing.T) {
	// Node 1 is the hub of a 5-node star.
	snap := snapshotOf([]int64{1, 2, 3, 4, 5}, [][2]int64{{1, 2}, {1, 3}, {1, 4}, {1, 5}})
	res := Centrality(context.Background(), snap)

	assert.Equal(t, 1.0, res.Degree[1])
	for _, leaf := range []int64{2, 3, 4, 5} {
		assert.Greater(t, res.Degree[1], res.Degree[leaf])
		assert.Greater(t, res.Betweenness[1], res.Betweenness[leaf])
		assert.Greater(t, res.Closeness[1], res.Closeness[leaf])
		assert.Greater(t, res.Combined[1], res.Combined[leaf])
	}
	// All shortest paths between leaves pass through the hub.
	assert.InDelta(t, 1.0, res.Betweenness[1], 1e-9)
}

func TestCentrality_PowerIterationConverges(t *testing.T) {
	res := Centrality(context.Background(), twoTriangles())
	assert.True(t, res.EigenvectorConverged)
	assert.True(t, res.PageRankConverged)
	assert.Greater(t, res.EigenvectorIterations, 0)
	assert.LessOrEqual(t, res.EigenvectorIterations, powerIterationCap)
}

func TestCentrality_Deterministic(t *testing.T) {
	ctx := context.Background()
	first := Centrality(ctx, twoTriangles())
	for i := 0; i < 5; i++ {
		again := Centrality(ctx, twoTriangles())
		assert.Equal(t, first.Degree, again.Degree)
		assert.Equal(t, first.Betweenness, again.Betweenness)
		assert.Equal(t, first.PageRank, again.PageRank)
		assert.Equal(t, first.Combined, again.Combined)
	}
}

func TestCentrality_EmptyGraph(t *testing.T) {
	res := Centrality(context.Background(), graph.Snapshot{})
	assert.Empty(t, res.Degree)
	assert.Empty(t, res.Combined)
}

func TestCentrality_PageRankSumsToOne(t *testing.T) {
	res := Centrality(context.Background(), twoTriangles())
	var sum float64
	for _, s := range res.PageRank {
		sum += s
	}
	require.InDelta(t, 1.0, sum, 1e-6)
}
