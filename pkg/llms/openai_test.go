package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/origin/pkg/protocol"
)

func TestEncodeMessages(t *testing.T) {
	assistant := protocol.NewAssistantMessage("")
	assistant.ToolCalls = []*protocol.ToolCall{
		{ID: "call_1", Name: "read_note_content", Args: map[string]any{"note_id": "n1"}},
	}
	wire := encodeMessages([]*protocol.Message{
		protocol.NewSystemMessage("policy"),
		protocol.NewUserMessage("hi"),
		assistant,
		protocol.NewToolResult("call_1", "read_note_content", "Title: X"),
	})

	require.Len(t, wire, 4)
	assert.Equal(t, "system", wire[0].Role)
	assert.Equal(t, "hi", wire[1].Content)
	require.Len(t, wire[2].ToolCalls, 1)
	assert.Equal(t, "function", wire[2].ToolCalls[0].Type)
	assert.JSONEq(t, `{"note_id":"n1"}`, wire[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_1", wire[3].ToolCallID)
}

func TestEncodeMessagesMultimodal(t *testing.T) {
	msg := protocol.NewUserBlocksMessage([]protocol.ContentBlock{
		{Type: "text", Text: "what is this?"},
		{Type: "image", DataURL: "data:image/png;base64,aGk="},
	})
	wire := encodeMessages([]*protocol.Message{msg})

	require.Len(t, wire, 1)
	parts, ok := wire[0].Content.([]map[string]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0]["type"])
	assert.Equal(t, "image_url", parts[1]["type"])
}

func TestAppendDecodedCall(t *testing.T) {
	good := wireToolCall{ID: "c1", Type: "function"}
	good.Function.Name = "update_note"
	good.Function.Arguments = `{"note_id":"n1"}`

	bad := wireToolCall{ID: "c2", Type: "function"}
	bad.Function.Name = "update_note"
	bad.Function.Arguments = `{"note_id":`

	empty := wireToolCall{ID: "c3", Type: "function"}
	empty.Function.Name = "list_recent_notes"

	var valid, invalid []*protocol.ToolCall
	valid, invalid = appendDecodedCall(valid, invalid, good)
	valid, invalid = appendDecodedCall(valid, invalid, bad)
	valid, invalid = appendDecodedCall(valid, invalid, empty)

	require.Len(t, valid, 2)
	assert.Equal(t, "n1", valid[0].Args["note_id"])
	assert.Empty(t, valid[1].Args, "empty arguments decode to an empty map")

	require.Len(t, invalid, 1)
	assert.Equal(t, "c2", invalid[0].ID)
	assert.Equal(t, `{"note_id":`, invalid[0].RawArgs)
}

func TestBuildRequestBindsTools(t *testing.T) {
	p := NewOpenAIProvider("default", testProviderConfig(), "")
	body, err := p.buildRequest([]*protocol.Message{protocol.NewUserMessage("hi")}, &InvokeOptions{
		Tools: []ToolDefinition{{Name: "read_note_content", Description: "d", Parameters: map[string]any{"type": "object"}}},
	}, false)
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, s, `"tools"`)
	assert.Contains(t, s, `"parallel_tool_calls":false`)
	assert.Contains(t, s, `"read_note_content"`)
}
