package model

import "time"

// IngestResult is the acknowledgment returned to an event producer.
// Semantic enrichment may still be in flight when this returns; its
// effects become visible on subsequent reads.
type IngestResult struct {
	Success          bool          `json:"success"`
	EventID          string        `json:"event_id"`
	NodesCreated     int           `json:"nodes_created"`
	PatternsDetected int           `json:"patterns_detected"`
	ProcessingTime   time.Duration `json:"processing_time"`
}

// EventFilter narrows event listings.
type EventFilter struct {
	AgentID   string
	SessionID string
	EventType EventType
	Since     time.Time
	Until     time.Time
	Limit     int
}

// EpisodeFilter narrows episode listings.
type EpisodeFilter struct {
	AgentID string
	GoalID  string
	State   EpisodeState
	Limit   int
}

// StrategyQuery is the input to strategy similarity search.
type StrategyQuery struct {
	GoalIDs     []string `json:"goal_ids,omitempty"`
	ToolNames   []string `json:"tool_names,omitempty"`
	ResultTypes []string `json:"result_types,omitempty"`
	ContextHash uint64   `json:"context_hash,omitempty"`
	AgentID     string   `json:"agent_id,omitempty"`
	MinScore    float64  `json:"min_score,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

// ContextQuery is the input to context-based memory retrieval.
type ContextQuery struct {
	Context       EventContext `json:"context"`
	Limit         int          `json:"limit,omitempty"`
	MinSimilarity float64      `json:"min_similarity,omitempty"`
	AgentID       string       `json:"agent_id,omitempty"`
	SessionID     string       `json:"session_id,omitempty"`
}
