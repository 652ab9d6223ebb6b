package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the category tag of an agent interaction event.
// Dispatch is always by tag — unknown tags are rejected at validation,
// never inspected structurally.
type EventType string

const (
	EventAction        EventType = "Action"
	EventObservation   EventType = "Observation"
	EventCognitive     EventType = "Cognitive"
	EventCommunication EventType = "Communication"
	EventLearning      EventType = "Learning"
	EventContextType   EventType = "Context"
)

// KnownEventTypes lists every valid event type tag.
var KnownEventTypes = []EventType{
	EventAction, EventObservation, EventCognitive,
	EventCommunication, EventLearning, EventContextType,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, k := range KnownEventTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Event is an append-only record in the event log. Source of truth.
// Never mutated or deleted once persisted.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	OccurredAt     time.Time      `json:"occurred_at"` // nanosecond precision
	AgentID        string         `json:"agent_id"`
	AgentType      string         `json:"agent_type,omitempty"`
	SessionID      string         `json:"session_id"`
	EventType      EventType      `json:"event_type"`
	Payload        map[string]any `json:"payload,omitempty"`
	CausalityChain []uuid.UUID    `json:"causality_chain,omitempty"`
	Context        EventContext   `json:"context"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	// ContextSizeBytes is the serialized size of Context. When it exceeds the
	// inline threshold the context body lives in segment storage and
	// SegmentPointer carries its address ("segment://{bucket}/{key}").
	ContextSizeBytes int64  `json:"context_size_bytes,omitempty"`
	SegmentPointer   string `json:"segment_pointer,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// EventContext captures the situation an event occurred in.
type EventContext struct {
	Environment Environment `json:"environment"`
	ActiveGoals []Goal      `json:"active_goals,omitempty"`
	Resources   Resources   `json:"resources"`

	// Fingerprint identifies a semantically equivalent situation across
	// sessions. Zero means "compute me"; any non-zero caller value is
	// trusted verbatim so clients can pin known contexts.
	Fingerprint uint64 `json:"fingerprint,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`
}

// Environment holds the non-volatile state of the agent's surroundings.
// Variables participate in the context fingerprint; spatial and temporal
// info are descriptive only.
type Environment struct {
	Variables map[string]any `json:"variables,omitempty"`
	Spatial   *SpatialInfo   `json:"spatial,omitempty"`
	Temporal  *TemporalInfo  `json:"temporal,omitempty"`
}

// SpatialInfo is optional location context.
type SpatialInfo struct {
	Location string `json:"location,omitempty"`
	Zone     string `json:"zone,omitempty"`
}

// TemporalInfo is optional wall-clock context.
type TemporalInfo struct {
	Hour      int    `json:"hour"`   // [0,23]
	Minute    int    `json:"minute"` // [0,59]
	DayOfWeek string `json:"day_of_week,omitempty"`
}

// Resources describes volatile resource availability. Excluded from the
// context fingerprint — two logically identical situations must hash the
// same regardless of load.
type Resources struct {
	CPUPercent   float64         `json:"cpu_percent,omitempty"` // [0,100]
	MemoryMB     int64           `json:"memory_mb,omitempty"`
	External     map[string]bool `json:"external,omitempty"`
}

// Goal is a target an agent is working toward. Goals are embedded in events
// rather than stored first-class; the engine maintains a derived registry
// of the latest known description and priority per goal id.
type Goal struct {
	ID          string     `json:"id"`
	Description string     `json:"description,omitempty"`
	Priority    float64    `json:"priority"` // [0,1]
	Deadline    *time.Time `json:"deadline,omitempty"`
	Progress    float64    `json:"progress"` // [0,1]; 1.0 closes the episode
	Subgoals    []string   `json:"subgoals,omitempty"`
}

// ActionPayload is the payload for Action events.
type ActionPayload struct {
	Name       string         `json:"name"`
	Tool       string         `json:"tool,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Outcome    string         `json:"outcome,omitempty"` // "success", "failure", or free text
	DurationMs int64          `json:"duration_ms,omitempty"`
}

// ObservationPayload is the payload for Observation events.
type ObservationPayload struct {
	Source string         `json:"source,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// CognitivePayload is the payload for Cognitive events (reasoning,
// reflection, planning). Presence of cognitive events signals depth of
// engagement when scoring episode significance.
type CognitivePayload struct {
	Process string `json:"process,omitempty"` // e.g. "reasoning", "planning"
	Content string `json:"content,omitempty"`
}

// CommunicationPayload is the payload for Communication events.
type CommunicationPayload struct {
	Direction string `json:"direction,omitempty"` // "inbound" or "outbound"
	Recipient string `json:"recipient,omitempty"`
	Message   string `json:"message,omitempty"`
}

// LearningPayload is the payload for Learning events.
type LearningPayload struct {
	Topic   string  `json:"topic,omitempty"`
	Insight string  `json:"insight,omitempty"`
	Delta   float64 `json:"delta,omitempty"`
}

// ContextPayload is the payload for Context events.
type ContextPayload struct {
	Description string         `json:"description,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// decodePayload round-trips the raw payload map through JSON into the typed
// payload struct for the event's tag. Cheaper schemes exist, but payloads are
// small and this keeps a single source of truth for field names.
func decodePayload(raw map[string]any, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("model: marshal payload: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("model: decode payload: %w", err)
	}
	return nil
}

// Action decodes the payload of an Action event.
func (e *Event) Action() (ActionPayload, error) {
	var p ActionPayload
	if e.EventType != EventAction {
		return p, fmt.Errorf("model: event %s is %s, not Action", e.ID, e.EventType)
	}
	return p, decodePayload(e.Payload, &p)
}

// Observation decodes the payload of an Observation event.
func (e *Event) Observation() (ObservationPayload, error) {
	var p ObservationPayload
	if e.EventType != EventObservation {
		return p, fmt.Errorf("model: event %s is %s, not Observation", e.ID, e.EventType)
	}
	return p, decodePayload(e.Payload, &p)
}

// Cognitive decodes the payload of a Cognitive event.
func (e *Event) Cognitive() (CognitivePayload, error) {
	var p CognitivePayload
	if e.EventType != EventCognitive {
		return p, fmt.Errorf("model: event %s is %s, not Cognitive", e.ID, e.EventType)
	}
	return p, decodePayload(e.Payload, &p)
}

// Communication decodes the payload of a Communication event.
func (e *Event) Communication() (CommunicationPayload, error) {
	var p CommunicationPayload
	if e.EventType != EventCommunication {
		return p, fmt.Errorf("model: event %s is %s, not Communication", e.ID, e.EventType)
	}
	return p, decodePayload(e.Payload, &p)
}

// ContextDetail decodes the payload of a Context event.
func (e *Event) ContextDetail() (ContextPayload, error) {
	var p ContextPayload
	if e.EventType != EventContextType {
		return p, fmt.Errorf("model: event %s is %s, not Context", e.ID, e.EventType)
	}
	return p, decodePayload(e.Payload, &p)
}
