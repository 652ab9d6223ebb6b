// Package graph maintains the causal graph projection of the event log.
//
// Nodes and edges live in an in-memory arena keyed by opaque int64 ids;
// edges reference endpoints by id, never by pointer, so the structure can be
// cyclic without ownership cycles. The arena is the engine's working copy —
// durable persistence of nodes/edges is the storage layer's job and happens
// write-through from the builder.
package graph

import (
	"fmt"
	"sync"
	"time"

	"github.com/ashita-ai/kioku/internal/model"
)

// edge weight/confidence reinforcement parameters. Weight climbs toward 1.0
// as the same relation is re-observed; neither value decreases below its
// creation floor.
const (
	initialWeight     = 0.5
	initialConfidence = 0.8
	// Confidence for a CausedBy edge whose parent node was not found —
	// the parent may be a segment-stored or archived event.
	danglingParentConfidence = 0.3
	reinforceStep            = 0.1
)

// Arena is the mutable in-memory graph. All mutation goes through Ensure*
// and Reinforce* methods, which serialize writers; reads for analytics go
// through Snapshot, which never blocks ingestion for longer than a copy.
type Arena struct {
	mu       sync.RWMutex
	nextNode int64
	nextEdge int64

	nodes   map[int64]*model.GraphNode
	nodeKey map[string]int64 // nodeKeyIndex(type, key) → node id
	edges   map[int64]*model.GraphEdge
	edgeKey map[string]int64 // edgeKeyIndex(from, to, type) → edge id
	out     map[int64][]int64
	in      map[int64][]int64

	maxNodes int // 0 = unbounded
}

// NewArena creates an empty arena. maxNodes caps graph growth per the
// deployment profile; writes beyond the cap fail with CapacityExceeded.
func NewArena(maxNodes int) *Arena {
	return &Arena{
		nodes:    make(map[int64]*model.GraphNode),
		nodeKey:  make(map[string]int64),
		edges:    make(map[int64]*model.GraphEdge),
		edgeKey:  make(map[string]int64),
		out:      make(map[int64][]int64),
		in:       make(map[int64][]int64),
		maxNodes: maxNodes,
	}
}

func nodeKeyIndex(t model.NodeType, key string) string {
	return string(t) + "\x00" + key
}

func edgeKeyIndex(from, to int64, t model.EdgeType) string {
	return fmt.Sprintf("%d\x00%d\x00%s", from, to, t)
}

// EnsureNode returns the id of the node with the given type and key,
// creating it if absent. created reports whether a new node was made.
func (a *Arena) EnsureNode(t model.NodeType, key string, props map[string]any) (id int64, created bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.nodeKey[nodeKeyIndex(t, key)]; ok {
		return id, false, nil
	}
	if a.maxNodes > 0 && len(a.nodes) >= a.maxNodes {
		return 0, false, &model.CapacityExceeded{Resource: "graph nodes", Limit: a.maxNodes}
	}

	a.nextNode++
	id = a.nextNode
	a.nodes[id] = &model.GraphNode{
		ID:         id,
		NodeType:   t,
		Key:        key,
		Properties: props,
		CreatedAt:  time.Now().UTC(),
	}
	a.nodeKey[nodeKeyIndex(t, key)] = id
	return id, true, nil
}

// Lookup returns the node id for (type, key) if it exists.
func (a *Arena) Lookup(t model.NodeType, key string) (int64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.nodeKey[nodeKeyIndex(t, key)]
	return id, ok
}

// SetNodeProperties replaces a node's properties (goal description/priority
// updates).
func (a *Arena) SetNodeProperties(id int64, props map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n, ok := a.nodes[id]; ok {
		n.Properties = props
	}
}

// EnsureEdge creates the (from, to, type) edge if absent, otherwise
// reinforces its weight and confidence upward. Reinforcement never lowers
// either value. created reports whether a new edge was made.
func (a *Arena) EnsureEdge(from, to int64, t model.EdgeType, confidence float64) (e model.GraphEdge, created bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := edgeKeyIndex(from, to, t)
	if id, ok := a.edgeKey[key]; ok {
		edge := a.edges[id]
		edge.Weight = clamp01(edge.Weight + reinforceStep)
		if confidence > edge.Confidence {
			edge.Confidence = confidence
		}
		return *edge, false
	}

	a.nextEdge++
	edge := &model.GraphEdge{
		ID:         a.nextEdge,
		From:       from,
		To:         to,
		EdgeType:   t,
		Weight:     initialWeight,
		Confidence: confidence,
	}
	a.edges[edge.ID] = edge
	a.edgeKey[key] = edge.ID
	a.out[from] = append(a.out[from], edge.ID)
	a.in[to] = append(a.in[to], edge.ID)
	return *edge, true
}

// OutEdges returns copies of the edges leaving a node.
func (a *Arena) OutEdges(id int64) []model.GraphEdge {
	a.mu.RLock()
	defer a.mu.RUnlock()

	edges := make([]model.GraphEdge, 0, len(a.out[id]))
	for _, eid := range a.out[id] {
		edges = append(edges, *a.edges[eid])
	}
	return edges
}

// Node returns a copy of the node with the given id.
func (a *Arena) Node(id int64) (model.GraphNode, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, ok := a.nodes[id]
	if !ok {
		return model.GraphNode{}, false
	}
	return *n, true
}

// Order returns the number of nodes; Size the number of edges.
func (a *Arena) Order() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

func (a *Arena) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.edges)
}

// Snapshot is an immutable point-in-time copy of the graph for analytics
// and the query surface. Results computed over a snapshot may lag the very
// latest writes; that is the documented trade for never blocking ingestion.
type Snapshot struct {
	Nodes []model.GraphNode
	Edges []model.GraphEdge
}

// Snapshot copies the current graph under the read lock.
func (a *Arena) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Snapshot{
		Nodes: make([]model.GraphNode, 0, len(a.nodes)),
		Edges: make([]model.GraphEdge, 0, len(a.edges)),
	}
	for _, n := range a.nodes {
		s.Nodes = append(s.Nodes, *n)
	}
	for _, e := range a.edges {
		s.Edges = append(s.Edges, *e)
	}
	return s
}

// Neighborhood returns the subgraph within depth hops of the anchor node,
// following edges in both directions. Used for context-anchored graph
// queries.
func (a *Arena) Neighborhood(anchor int64, depth int) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, ok := a.nodes[anchor]; !ok {
		return Snapshot{}
	}

	seen := map[int64]bool{anchor: true}
	frontier := []int64{anchor}
	edgeSeen := map[int64]bool{}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []int64
		for _, id := range frontier {
			for _, eid := range a.out[id] {
				edgeSeen[eid] = true
				to := a.edges[eid].To
				if !seen[to] {
					seen[to] = true
					next = append(next, to)
				}
			}
			for _, eid := range a.in[id] {
				edgeSeen[eid] = true
				from := a.edges[eid].From
				if !seen[from] {
					seen[from] = true
					next = append(next, from)
				}
			}
		}
		frontier = next
	}

	var s Snapshot
	for id := range seen {
		s.Nodes = append(s.Nodes, *a.nodes[id])
	}
	for eid := range edgeSeen {
		s.Edges = append(s.Edges, *a.edges[eid])
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
