package analytics

import (
	"github.com/ashita-ai/kioku/internal/graph"
)

// louvainMaxPasses caps local-moving passes; real graphs settle in a
// handful, the cap only guards degenerate inputs.
const louvainMaxPasses = 10

// LouvainResult reports a community assignment and its quality.
type LouvainResult struct {
	Modularity  float64       `json:"modularity"`
	Iterations  int           `json:"iterations"`
	Communities map[int64]int `json:"communities"` // node id → community label
	Count       int           `json:"community_count"`
}

// Louvain runs greedy modularity optimization via local moving. Nodes are
// visited in ascending id order and a tie between equally good target
// communities goes to the lowest community label, making the result
// reproducible for a fixed graph.
func Louvain(snap graph.Snapshot) LouvainResult {
	v := buildView(snap)
	n := len(v.ids)
	res := LouvainResult{Communities: make(map[int64]int, n)}
	if n == 0 {
		return res
	}

	m := v.totalWeight
	community := make([]int, n)
	strength := make([]float64, n) // weighted degree per node
	commTotal := make([]float64, n)
	for i := range community {
		community[i] = i
		for _, nb := range v.adj[i] {
			strength[i] += nb.weight
		}
		commTotal[i] = strength[i]
	}

	if m > 0 {
		for pass := 0; pass < louvainMaxPasses; pass++ {
			moved := false
			res.Iterations = pass + 1
			for i := 0; i < n; i++ {
				// Weight from i into each neighboring community.
				linkTo := make(map[int]float64)
				for _, nb := range v.adj[i] {
					linkTo[community[nb.idx]] += nb.weight
				}

				cur := community[i]
				commTotal[cur] -= strength[i]

				best := cur
				bestGain := linkTo[cur] - commTotal[cur]*strength[i]/(2*m)
				for c, link := range linkTo {
					gain := link - commTotal[c]*strength[i]/(2*m)
					if gain > bestGain || (gain == bestGain && c < best) {
						best = c
						bestGain = gain
					}
				}

				commTotal[best] += strength[i]
				if best != cur {
					community[i] = best
					moved = true
				}
			}
			if !moved {
				break
			}
		}
	}

	// Renumber communities densely in order of their lowest member.
	label := make(map[int]int)
	for i := 0; i < n; i++ {
		if _, ok := label[community[i]]; !ok {
			label[community[i]] = len(label)
		}
		res.Communities[v.ids[i]] = label[community[i]]
	}
	res.Count = len(label)
	res.Modularity = modularity(v, community)
	return res
}

// modularity computes Q = Σ [ e_in/m - (deg_c / 2m)^2 ] over communities.
func modularity(v *view, community []int) float64 {
	m := v.totalWeight
	if m == 0 {
		return 0
	}

	internal := make(map[int]float64)
	degree := make(map[int]float64)
	for i := range v.adj {
		c := community[i]
		for _, nb := range v.adj[i] {
			degree[c] += nb.weight
			if community[nb.idx] == c && i < nb.idx {
				internal[c] += nb.weight
			}
		}
	}

	var q float64
	for c, deg := range degree {
		q += internal[c]/m - (deg/(2*m))*(deg/(2*m))
	}
	return q
}
