package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callingAssistant(text string, ids ...string) *Message {
	m := NewAssistantMessage(text)
	for _, id := range ids {
		m.ToolCalls = append(m.ToolCalls, &ToolCall{ID: id, Name: "read_note_content", Args: map[string]any{}})
	}
	return m
}

func TestHasOrphanToolCalls(t *testing.T) {
	tests := []struct {
		name     string
		messages []*Message
		want     bool
	}{
		{
			name: "paired calls are not orphans",
			messages: []*Message{
				NewUserMessage("hi"),
				callingAssistant("", "call_1"),
				NewToolResult("call_1", "read_note_content", "ok"),
			},
			want: false,
		},
		{
			name: "missing result is an orphan",
			messages: []*Message{
				NewUserMessage("hi"),
				callingAssistant("", "call_1"),
			},
			want: true,
		},
		{
			name: "partially answered calls are orphans",
			messages: []*Message{
				callingAssistant("", "call_1", "call_2"),
				NewToolResult("call_1", "read_note_content", "ok"),
				NewUserMessage("next"),
			},
			want: true,
		},
		{
			name:     "no tool calls",
			messages: []*Message{NewUserMessage("hi"), NewAssistantMessage("hello")},
			want:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasOrphanToolCalls(tt.messages))
		})
	}
}

func TestRepairOrphanToolCalls(t *testing.T) {
	history := []*Message{
		NewUserMessage("hi"),
		callingAssistant("working on it", "call_1"),
	}
	repaired := RepairOrphanToolCalls(history)

	require.Len(t, repaired, 2)
	assert.False(t, repaired[1].HasToolCalls())
	assert.Equal(t, "working on it", repaired[1].Content)
}

func TestRepairOrphanToolCallsEmptyText(t *testing.T) {
	repaired := RepairOrphanToolCalls([]*Message{callingAssistant("", "call_1")})

	require.Len(t, repaired, 1)
	assert.Equal(t, InterruptedActionText, repaired[0].Content)
	assert.False(t, repaired[0].HasToolCalls())
}

func TestFilterStatus(t *testing.T) {
	history := []*Message{
		NewUserMessage("hi"),
		NewStatusMessage("⚙️ working"),
		NewAssistantMessage("done"),
	}
	filtered := FilterStatus(history)
	require.Len(t, filtered, 2)
	for _, m := range filtered {
		assert.False(t, m.IsStatus())
	}
}

func TestStripInvalidToolCalls(t *testing.T) {
	m := NewAssistantMessage("text")
	m.InvalidToolCalls = []*ToolCall{{Name: "broken", RawArgs: "{oops"}}

	stripped := StripInvalidToolCalls([]*Message{m})
	require.Len(t, stripped, 1)
	assert.Nil(t, stripped[0].InvalidToolCalls)
	// The original is untouched.
	assert.NotNil(t, m.InvalidToolCalls)
}

func TestSanitizeHistoryIdempotent(t *testing.T) {
	history := []*Message{
		NewUserMessage("hi"),
		NewStatusMessage("⚙️"),
		callingAssistant("", "call_1"),
		NewToolResult("call_1", "read_note_content", "ok"),
		callingAssistant("orphaned", "call_2"),
	}
	once := SanitizeHistory(history)
	twice := SanitizeHistory(once)

	assert.Equal(t, once, twice)
	assert.False(t, HasOrphanToolCalls(once))
}

func TestCanonicalArgsJSONDeterministic(t *testing.T) {
	a := map[string]any{"b": 1.0, "a": "x", "c": true}
	b := map[string]any{"c": true, "a": "x", "b": 1.0}
	assert.Equal(t, CanonicalArgsJSON(a), CanonicalArgsJSON(b))
	assert.Equal(t, "{}", CanonicalArgsJSON(nil))
}

func TestIsNoteID(t *testing.T) {
	assert.True(t, IsNoteID("1700000000000-abcdef012"))
	assert.True(t, IsNoteID("123e4567-e89b-12d3-a456-426614174000"))
	assert.False(t, IsNoteID("my-note"))
	assert.False(t, IsNoteID(""))
	assert.False(t, IsNoteID("1700000000000-xyz"))
}
