package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements_Sentences(t *testing.T) {
	input := "The deploy pipeline requires a staging approval. Rollbacks complete in under two minutes."
	got := SplitStatements(input)
	assert.Equal(t, []string{
		"The deploy pipeline requires a staging approval.",
		"Rollbacks complete in under two minutes.",
	}, got)
}

func TestSplitStatements_ShortFragmentsFiltered(t *testing.T) {
	input := "Done. OK. The cache invalidation bug only occurs on restarts."
	got := SplitStatements(input)
	assert.Equal(t, []string{"The cache invalidation bug only occurs on restarts."}, got)
}

func TestSplitStatements_NumberedItems(t *testing.T) {
	input := "Findings: (1) the retry loop never backs off under sustained load, (2) connection pool exhaustion begins at 900 clients."
	got := SplitStatements(input)
	assert.Contains(t, got, "(1) the retry loop never backs off under sustained load,")
	assert.Contains(t, got, "(2) connection pool exhaustion begins at 900 clients.")
}

func TestSplitStatements_MarkdownList(t *testing.T) {
	input := "Observations:\n- the scheduler starves low-priority queues\n- worker restarts drop in-flight jobs"
	got := SplitStatements(input)
	assert.Contains(t, got, "the scheduler starves low-priority queues")
	assert.Contains(t, got, "worker restarts drop in-flight jobs")
}

func TestSplitStatements_NoSplitOnDecimalsOrAbbreviations(t *testing.T) {
	input := "Latency rose from 6.5 to 9.1 milliseconds, e.g. under synthetic load."
	got := SplitStatements(input)
	assert.Len(t, got, 1)
}

func TestSplitStatements_SemicolonsOnlyWhenSubstantial(t *testing.T) {
	input := "the batch writer deadlocks under backpressure; the flush path holds the mutex during IO"
	got := SplitStatements(input)
	assert.Len(t, got, 2)

	short := "a; b; the only substantial clause in this text"
	assert.Len(t, SplitStatements(short), 1)
}

func TestSplitStatements_Empty(t *testing.T) {
	assert.Nil(t, SplitStatements(""))
}

func TestHeuristicProvider_SpansPointIntoSource(t *testing.T) {
	text := "The deploy pipeline requires a staging approval. Rollbacks complete in under two minutes."
	cands, err := NewHeuristicProvider().ExtractClaims(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	for _, c := range cands {
		require.Len(t, c.Spans, 1)
		span := c.Spans[0]
		assert.Equal(t, c.Text, text[span.StartOffset:span.EndOffset])
		assert.NotEmpty(t, span.TextSnippet)
		assert.GreaterOrEqual(t, c.Confidence, 0.7)
	}
}

func TestHeuristicProvider_QuestionsScoreLow(t *testing.T) {
	cands, err := NewHeuristicProvider().ExtractClaims(context.Background(),
		"Should we migrate the index to a new collection?")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Less(t, cands[0].Confidence, 0.7)
}
