// Package extraction wraps the external claim-extraction capability.
//
// Extraction is a model call (NER/LLM) outside the engine: providers return
// candidate claims and the engine only orchestrates and thresholds them. A
// provider failure yields zero candidates for that event, never an
// ingestion failure.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/kioku/internal/model"
)

// Provider extracts candidate factual claims from free text.
type Provider interface {
	ExtractClaims(ctx context.Context, text string) ([]model.ClaimCandidate, error)
}

// HTTPProvider calls a remote extraction service (an LLM or NER endpoint
// exposing a simple JSON API). Timeout and retry policy belong to the
// service; the engine treats any error as "no candidates".
type HTTPProvider struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider calling POST {endpoint}/v1/extract.
func NewHTTPProvider(endpoint string) *HTTPProvider {
	return &HTTPProvider{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type extractRequest struct {
	Text string `json:"text"`
}

type extractResponse struct {
	Candidates []model.ClaimCandidate `json:"candidates"`
}

// ExtractClaims sends the text to the extraction service.
func (p *HTTPProvider) ExtractClaims(ctx context.Context, text string) ([]model.ClaimCandidate, error) {
	reqBody, err := json.Marshal(extractRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("extraction: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/extract", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("extraction: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("extraction: status %d: %s", resp.StatusCode, string(body))
	}

	var result extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("extraction: decode response: %w", err)
	}
	return result.Candidates, nil
}

// HeuristicProvider extracts candidates locally by splitting text into
// sentence-level statements. No model call involved, so it never fails;
// useful as the default when no extraction service is configured.
type HeuristicProvider struct{}

// NewHeuristicProvider creates the local splitter provider.
func NewHeuristicProvider() *HeuristicProvider { return &HeuristicProvider{} }

// ExtractClaims splits the text into statements and scores each by shape.
func (p *HeuristicProvider) ExtractClaims(_ context.Context, text string) ([]model.ClaimCandidate, error) {
	statements := SplitStatements(text)

	candidates := make([]model.ClaimCandidate, 0, len(statements))
	cursor := 0
	for _, s := range statements {
		start := strings.Index(text[cursor:], s)
		if start < 0 {
			// List markers were stripped during splitting; fall back to a
			// search from the beginning so the span still points somewhere real.
			start = strings.Index(text, s)
			if start < 0 {
				continue
			}
		} else {
			start += cursor
		}
		end := start + len(s)
		cursor = end

		candidates = append(candidates, model.ClaimCandidate{
			Text:       s,
			Confidence: shapeConfidence(s),
			Spans: []model.EvidenceSpan{{
				StartOffset: start,
				EndOffset:   end,
				TextSnippet: snippet(s),
			}},
		})
	}
	return candidates, nil
}

// shapeConfidence scores a statement by surface shape: longer, declarative
// statements score higher than short fragments or questions.
func shapeConfidence(s string) float64 {
	conf := 0.75
	if len(s) >= 60 {
		conf += 0.1
	}
	if strings.HasSuffix(s, "?") {
		conf -= 0.3
	}
	if !strings.ContainsAny(s, " ") {
		conf -= 0.2
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func snippet(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max]
}
