package analytics

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kioku/internal/graph"
)

const (
	powerIterationCap = 100
	powerIterationTol = 1e-6
	pagerankDamping   = 0.85
)

// Combined blend weights. Degree and PageRank carry the most signal for
// "which node matters" questions on causal graphs; the shortest-path
// measures refine rather than dominate.
const (
	combinedDegreeWeight      = 0.25
	combinedPageRankWeight    = 0.25
	combinedBetweennessWeight = 0.20
	combinedClosenessWeight   = 0.15
	combinedEigenvectorWeight = 0.15
)

// CentralityResult carries every per-node measure plus convergence markers
// for the power-iteration methods. A non-converged result is best effort,
// not an error.
type CentralityResult struct {
	Degree      map[int64]float64 `json:"degree"`
	Betweenness map[int64]float64 `json:"betweenness"`
	Closeness   map[int64]float64 `json:"closeness"`
	Eigenvector map[int64]float64 `json:"eigenvector"`
	PageRank    map[int64]float64 `json:"pagerank"`
	Combined    map[int64]float64 `json:"combined"`

	EigenvectorIterations int  `json:"eigenvector_iterations"`
	EigenvectorConverged  bool `json:"eigenvector_converged"`
	PageRankIterations    int  `json:"pagerank_iterations"`
	PageRankConverged     bool `json:"pagerank_converged"`
}

// Centrality computes the full suite over a snapshot. The five measures are
// independent and run in parallel; none of them can fail, so the errgroup
// exists purely for the join.
func Centrality(ctx context.Context, snap graph.Snapshot) CentralityResult {
	v := buildView(snap)
	n := len(v.ids)

	res := CentralityResult{
		Degree:      make(map[int64]float64, n),
		Betweenness: make(map[int64]float64, n),
		Closeness:   make(map[int64]float64, n),
		Eigenvector: make(map[int64]float64, n),
		PageRank:    make(map[int64]float64, n),
		Combined:    make(map[int64]float64, n),
	}
	if n == 0 {
		return res
	}

	var (
		degree, betweenness, closeness []float64
		eigenvector, pagerank          []float64
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { degree = degreeCentrality(v); return nil })
	g.Go(func() error { betweenness = betweennessCentrality(v); return nil })
	g.Go(func() error { closeness = closenessCentrality(v); return nil })
	g.Go(func() error {
		eigenvector, res.EigenvectorIterations, res.EigenvectorConverged = eigenvectorCentrality(v)
		return nil
	})
	g.Go(func() error {
		pagerank, res.PageRankIterations, res.PageRankConverged = pagerankCentrality(v)
		return nil
	})
	_ = g.Wait()

	for i, id := range v.ids {
		res.Degree[id] = degree[i]
		res.Betweenness[id] = betweenness[i]
		res.Closeness[id] = closeness[i]
		res.Eigenvector[id] = eigenvector[i]
		res.PageRank[id] = pagerank[i]
		res.Combined[id] = combinedDegreeWeight*degree[i] +
			combinedPageRankWeight*normalized(pagerank, i) +
			combinedBetweennessWeight*betweenness[i] +
			combinedClosenessWeight*closeness[i] +
			combinedEigenvectorWeight*eigenvector[i]
	}
	return res
}

// normalized scales a score against the max of its vector so heterogeneous
// measures blend on comparable [0,1] ranges.
func normalized(scores []float64, i int) float64 {
	var max float64
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	if max == 0 {
		return 0
	}
	return scores[i] / max
}

func degreeCentrality(v *view) []float64 {
	n := len(v.ids)
	out := make([]float64, n)
	if n <= 1 {
		return out
	}
	for i := range v.adj {
		out[i] = float64(len(v.adj[i])) / float64(n-1)
	}
	return out
}

// closenessCentrality uses the Wasserman-Faust correction so scores remain
// comparable on disconnected graphs: (r-1)/Σd scaled by (r-1)/(n-1), where
// r is the number of nodes reachable from the source.
func closenessCentrality(v *view) []float64 {
	n := len(v.ids)
	out := make([]float64, n)
	if n <= 1 {
		return out
	}

	dist := make([]int, n)
	for src := 0; src < n; src++ {
		for i := range dist {
			dist[i] = -1
		}
		dist[src] = 0
		queue := []int{src}
		reachable := 0
		sum := 0
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range v.adj[cur] {
				if dist[nb.idx] == -1 {
					dist[nb.idx] = dist[cur] + 1
					reachable++
					sum += dist[nb.idx]
					queue = append(queue, nb.idx)
				}
			}
		}
		if reachable > 0 && sum > 0 {
			r := float64(reachable)
			out[src] = (r / float64(sum)) * (r / float64(n-1))
		}
	}
	return out
}

// betweennessCentrality is Brandes' algorithm on the unweighted undirected
// view, normalized to [0,1].
func betweennessCentrality(v *view) []float64 {
	n := len(v.ids)
	out := make([]float64, n)
	if n <= 2 {
		return out
	}

	for src := 0; src < n; src++ {
		// Single-source shortest path counting.
		var stack []int
		preds := make([][]int, n)
		sigma := make([]float64, n)
		dist := make([]int, n)
		for i := range dist {
			dist[i] = -1
		}
		sigma[src] = 1
		dist[src] = 0
		queue := []int{src}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			stack = append(stack, cur)
			for _, nb := range v.adj[cur] {
				if dist[nb.idx] == -1 {
					dist[nb.idx] = dist[cur] + 1
					queue = append(queue, nb.idx)
				}
				if dist[nb.idx] == dist[cur]+1 {
					sigma[nb.idx] += sigma[cur]
					preds[nb.idx] = append(preds[nb.idx], cur)
				}
			}
		}

		// Dependency accumulation in reverse BFS order.
		delta := make([]float64, n)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, p := range preds[w] {
				delta[p] += sigma[p] / sigma[w] * (1 + delta[w])
			}
			if w != src {
				out[w] += delta[w]
			}
		}
	}

	// Each undirected pair is counted twice; fold the normalization in.
	norm := float64((n - 1) * (n - 2))
	for i := range out {
		out[i] /= norm
	}
	return out
}

func eigenvectorCentrality(v *view) (scores []float64, iterations int, converged bool) {
	n := len(v.ids)
	scores = make([]float64, n)
	if n == 0 {
		return scores, 0, true
	}

	for i := range scores {
		scores[i] = 1.0 / float64(n)
	}
	next := make([]float64, n)

	for iterations = 1; iterations <= powerIterationCap; iterations++ {
		for i := range next {
			next[i] = 0
		}
		for i := range v.adj {
			for _, nb := range v.adj[i] {
				next[nb.idx] += scores[i] * nb.weight
			}
		}

		var norm float64
		for _, s := range next {
			norm += s * s
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			// No edges; everything stays zero.
			copy(scores, next)
			return scores, iterations, true
		}

		var diff float64
		for i := range next {
			next[i] /= norm
			diff += math.Abs(next[i] - scores[i])
		}
		copy(scores, next)
		if diff < powerIterationTol {
			return scores, iterations, true
		}
	}
	return scores, powerIterationCap, false
}

// pagerankCentrality runs power iteration on the directed edges. Dangling
// nodes redistribute their mass uniformly.
func pagerankCentrality(v *view) (scores []float64, iterations int, converged bool) {
	n := len(v.ids)
	scores = make([]float64, n)
	if n == 0 {
		return scores, 0, true
	}

	for i := range scores {
		scores[i] = 1.0 / float64(n)
	}
	next := make([]float64, n)

	for iterations = 1; iterations <= powerIterationCap; iterations++ {
		var dangling float64
		for i := range next {
			next[i] = 0
		}
		for i, succs := range v.outDirected {
			if len(succs) == 0 {
				dangling += scores[i]
				continue
			}
			share := scores[i] / float64(len(succs))
			for _, s := range succs {
				next[s] += share
			}
		}

		base := (1-pagerankDamping)/float64(n) + pagerankDamping*dangling/float64(n)
		var diff float64
		for i := range next {
			next[i] = base + pagerankDamping*next[i]
			diff += math.Abs(next[i] - scores[i])
		}
		copy(scores, next)
		if diff < powerIterationTol {
			return scores, iterations, true
		}
	}
	return scores, powerIterationCap, false
}
