package model

import "time"

// NodeType labels a node in the causal graph projection.
type NodeType string

const (
	NodeEvent   NodeType = "Event"
	NodeGoal    NodeType = "Goal"
	NodeAction  NodeType = "Action"
	NodeContext NodeType = "Context"
)

// EdgeType labels a directed edge in the causal graph.
type EdgeType string

const (
	EdgeCausedBy EdgeType = "CausedBy" // parent event → child event
	EdgePartOf   EdgeType = "PartOf"   // event → goal
	EdgeLeadsTo  EdgeType = "LeadsTo"  // preceding event → action
)

// GraphNode is a node in the durable graph projection. Nodes are keyed by
// an opaque integer id inside the arena; Key is the external dedup key
// (event uuid, goal id, action name).
type GraphNode struct {
	ID         int64          `json:"id"`
	NodeType   NodeType       `json:"node_type"`
	Key        string         `json:"key"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// GraphEdge is a typed directed edge. Weight and confidence are reinforced
// upward when the same relation is observed again, modeling evidence
// accumulation; they never drop below their floor.
type GraphEdge struct {
	ID         int64    `json:"id"`
	From       int64    `json:"from"`
	To         int64    `json:"to"`
	EdgeType   EdgeType `json:"edge_type"`
	Weight     float64  `json:"weight"`     // [0,1]
	Confidence float64  `json:"confidence"` // [0,1]
}
