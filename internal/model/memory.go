package model

import (
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies a formed memory by outcome polarity and significance.
type MemoryType string

const (
	MemoryEpisodic MemoryType = "Episodic"
	MemoryWorking  MemoryType = "Working"
	MemorySemantic MemoryType = "Semantic"
	MemoryNegative MemoryType = "Negative"
)

// Memory is a durable, retrievable summary of a closed episode.
// Mutated on every retrieval (access bookkeeping, lazy strength decay);
// never deleted, though it may be evicted from the in-process cache.
type Memory struct {
	ID        uuid.UUID `json:"id"`
	EpisodeID uuid.UUID `json:"episode_id"`
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id"`

	MemoryType     MemoryType `json:"memory_type"`
	Strength       float64    `json:"strength"`        // [0,1], decays with idle time
	RelevanceScore float64    `json:"relevance_score"` // [0,1]
	AccessCount    int64      `json:"access_count"`

	ContextHash uint64       `json:"context_hash"` // fingerprint of the formation context
	Context     EventContext `json:"context"`
	Outcome     string       `json:"outcome,omitempty"`
	Summary     string       `json:"summary,omitempty"`

	FormedAt     time.Time `json:"formed_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// ContextMatch is a memory annotated with the similarity that selected it.
// Exact fingerprint matches carry similarity 1.0.
type ContextMatch struct {
	Memory     Memory  `json:"memory"`
	Similarity float64 `json:"similarity"`
}
