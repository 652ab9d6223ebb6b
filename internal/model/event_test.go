package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeTags(t *testing.T) {
	for _, et := range KnownEventTypes {
		assert.True(t, et.Valid(), string(et))
	}
	assert.Equal(t, EventType("Context"), EventContextType)
	assert.False(t, EventType("Banana").Valid())
}

func TestContextEventCarriesContextStruct(t *testing.T) {
	// The "Context" tag and the EventContext situation struct are distinct:
	// a Context event has both a ContextPayload and a Context field.
	e := &Event{
		AgentID:   "agent-1",
		SessionID: "s1",
		EventType: EventContextType,
		Payload: map[string]any{
			"description": "entered production incident mode",
			"variables":   map[string]any{"region": "eu-west-1"},
		},
		Context: EventContext{
			Environment: Environment{Variables: map[string]any{"region": "eu-west-1"}},
		},
	}
	require.NoError(t, ValidateEvent(e))

	p, err := e.ContextDetail()
	require.NoError(t, err)
	assert.Equal(t, "entered production incident mode", p.Description)
	assert.Equal(t, "eu-west-1", p.Variables["region"])

	// Non-Context events refuse the Context payload decode.
	e.EventType = EventAction
	_, err = e.ContextDetail()
	assert.Error(t, err)
}
