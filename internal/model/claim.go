package model

import (
	"time"

	"github.com/google/uuid"
)

// ClaimStatus is the lifecycle status of an extracted claim. Claims are
// never physically removed — contradiction and deprecation preserve
// provenance.
type ClaimStatus string

const (
	ClaimActive       ClaimStatus = "Active"
	ClaimContradicted ClaimStatus = "Contradicted"
	ClaimDeprecated   ClaimStatus = "Deprecated"
)

// EvidenceSpan locates the source text a claim was extracted from.
type EvidenceSpan struct {
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	TextSnippet string `json:"text_snippet"`
}

// Claim is a short extracted factual statement. Confidence is monotonically
// non-decreasing across reinforcement: a near-duplicate candidate raises
// support_count and takes the max confidence instead of inserting a new row.
type Claim struct {
	ID            uuid.UUID      `json:"claim_id"`
	ClaimText     string         `json:"claim_text"`
	Confidence    float64        `json:"confidence"` // [0,1]
	SourceEventID uuid.UUID      `json:"source_event_id"`
	EvidenceSpans []EvidenceSpan `json:"evidence_spans,omitempty"`
	SupportCount  int            `json:"support_count"`
	Status        ClaimStatus    `json:"status"`
	Embedding     []float32      `json:"-"` // not exposed on listing responses

	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// ClaimMatch is a claim annotated with its similarity to a search query.
// The similarity field is absent from plain listing responses.
type ClaimMatch struct {
	Claim      Claim   `json:"claim"`
	Similarity float64 `json:"similarity"`
}

// ClaimCandidate is what the external extraction capability returns for a
// span of text. Candidates below the minimum confidence are discarded by
// the extractor orchestration.
type ClaimCandidate struct {
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence"`
	Spans      []EvidenceSpan `json:"spans,omitempty"`
}
