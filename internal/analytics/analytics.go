// Package analytics provides stateless, read-only computations over a graph
// snapshot: connected components, Louvain community detection, the
// centrality suite and path statistics. Every algorithm is deterministic for
// a fixed snapshot: iteration runs in sorted node-id order and ties break
// toward the lowest id, so repeated calls agree exactly.
package analytics

import (
	"sort"

	"github.com/ashita-ai/kioku/internal/graph"
)

// neighbor is one undirected adjacency entry in the compact view.
type neighbor struct {
	idx    int
	weight float64
}

// view is a dense-index projection of a snapshot. Undirected adjacency is
// used by components, Louvain and the shortest-path measures; the directed
// edge list is kept for PageRank.
type view struct {
	ids   []int64 // sorted external node ids
	index map[int64]int
	adj   [][]neighbor // undirected, parallel edges merged by weight sum

	outDirected [][]int // directed successor indexes for PageRank
	totalWeight float64 // sum of undirected edge weights
}

// buildView compacts a snapshot. Self loops are dropped; parallel and
// antiparallel edges between the same pair merge into one undirected entry.
func buildView(snap graph.Snapshot) *view {
	v := &view{index: make(map[int64]int, len(snap.Nodes))}

	v.ids = make([]int64, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		v.ids = append(v.ids, n.ID)
	}
	sort.Slice(v.ids, func(i, j int) bool { return v.ids[i] < v.ids[j] })
	for i, id := range v.ids {
		v.index[id] = i
	}

	n := len(v.ids)
	v.adj = make([][]neighbor, n)
	v.outDirected = make([][]int, n)

	type pair struct{ a, b int }
	merged := make(map[pair]float64)
	for _, e := range snap.Edges {
		from, okF := v.index[e.From]
		to, okT := v.index[e.To]
		if !okF || !okT || from == to {
			continue
		}
		v.outDirected[from] = append(v.outDirected[from], to)

		a, b := from, to
		if a > b {
			a, b = b, a
		}
		merged[pair{a, b}] += e.Weight
	}

	for p, w := range merged {
		v.adj[p.a] = append(v.adj[p.a], neighbor{idx: p.b, weight: w})
		v.adj[p.b] = append(v.adj[p.b], neighbor{idx: p.a, weight: w})
		v.totalWeight += w
	}
	for i := range v.adj {
		sort.Slice(v.adj[i], func(a, b int) bool { return v.adj[i][a].idx < v.adj[i][b].idx })
	}
	for i := range v.outDirected {
		sort.Ints(v.outDirected[i])
	}
	return v
}

// ComponentsResult reports the connected-component structure.
type ComponentsResult struct {
	Count       int           `json:"count"`
	LargestSize int           `json:"largest_size"`
	Assignment  map[int64]int `json:"assignment"` // node id → component label
	Sizes       map[int]int   `json:"sizes"`
}

// Components computes connected components over the undirected view via
// union-find. Component labels are the lowest member index, renumbered to a
// dense 0..k-1 range in ascending order of that lowest member.
func Components(snap graph.Snapshot) ComponentsResult {
	v := buildView(snap)
	n := len(v.ids)
	res := ComponentsResult{Assignment: make(map[int64]int, n), Sizes: make(map[int]int)}
	if n == 0 {
		return res
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		// Lower root wins so labels are stable.
		if ra > rb {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	for i := range v.adj {
		for _, nb := range v.adj[i] {
			union(i, nb.idx)
		}
	}

	label := make(map[int]int)
	for i := 0; i < n; i++ {
		root := find(i)
		if _, ok := label[root]; !ok {
			label[root] = len(label)
		}
		comp := label[root]
		res.Assignment[v.ids[i]] = comp
		res.Sizes[comp]++
	}
	res.Count = len(label)
	for _, size := range res.Sizes {
		if size > res.LargestSize {
			res.LargestSize = size
		}
	}
	return res
}

// PathStats describes shortest-path structure over the largest component.
// Both fields are zero for a graph with one node or none.
type PathStats struct {
	Diameter      int     `json:"diameter"`
	AvgPathLength float64 `json:"avg_path_length"`
}

// Paths computes unweighted diameter and average shortest path length over
// the largest connected component only; disconnected remainders are
// excluded rather than treated as infinite.
func Paths(snap graph.Snapshot) PathStats {
	v := buildView(snap)
	comps := Components(snap)
	if comps.LargestSize <= 1 {
		return PathStats{}
	}

	largest := -1
	for comp, size := range comps.Sizes {
		if size == comps.LargestSize && (largest == -1 || comp < largest) {
			largest = comp
		}
	}

	var members []int
	for i, id := range v.ids {
		if comps.Assignment[id] == largest {
			members = append(members, i)
		}
	}

	var stats PathStats
	var pathSum, pathCount float64
	dist := make([]int, len(v.ids))
	for _, src := range members {
		for i := range dist {
			dist[i] = -1
		}
		dist[src] = 0
		queue := []int{src}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range v.adj[cur] {
				if dist[nb.idx] == -1 {
					dist[nb.idx] = dist[cur] + 1
					queue = append(queue, nb.idx)
				}
			}
		}
		for _, dst := range members {
			if dst == src || dist[dst] <= 0 {
				continue
			}
			if dist[dst] > stats.Diameter {
				stats.Diameter = dist[dst]
			}
			pathSum += float64(dist[dst])
			pathCount++
		}
	}
	if pathCount > 0 {
		stats.AvgPathLength = pathSum / pathCount
	}
	return stats
}
