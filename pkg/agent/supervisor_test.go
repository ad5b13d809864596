package agent_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/origin/pkg/agent"
	"github.com/kadirpekel/origin/pkg/attachments"
	"github.com/kadirpekel/origin/pkg/protocol"
)

const testNoteID = "1700000000000-abcdef012"

func decodeLines(t *testing.T, lines []string) []map[string]any {
	t.Helper()
	out := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		obj := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &obj), "line %q is not valid JSON", line)
		out = append(out, obj)
	}
	return out
}

func findLine(events []map[string]any, match func(map[string]any) bool) map[string]any {
	for _, ev := range events {
		if match(ev) {
			return ev
		}
	}
	return nil
}

// Scenario 1: ask mode blocks writes end to end.
func TestAskModeBlocksWrites(t *testing.T) {
	deleteTool := &stubTool{name: "delete_note", isWrite: true}
	h := newTestHarness(deleteTool)
	h.provider.route = "TASK"
	h.provider.classify = "ALLOW_WRITE"
	h.provider.turns = []*protocol.Message{
		toolResponse("call_1", "delete_note", map[string]any{"note_id": testNoteID}),
		protocol.NewAssistantMessage("I'm in read-only mode, so I can't delete this note."),
	}

	lines, err := h.runTurn(&agent.TurnRequest{
		Message:          "Delete this note.",
		ThreadID:         "thread-ask",
		ActiveNoteID:     testNoteID,
		AgentMode:        "ask",
		AutoAcceptWrites: true,
	})
	require.NoError(t, err)

	assert.Zero(t, deleteTool.calls, "no write tool may run in ask mode")

	st := h.latestState("thread-ask")
	require.NotNil(t, st)
	var blocked *protocol.Message
	for _, m := range st.Messages {
		if m.Role == protocol.RoleTool {
			blocked = m
		}
	}
	require.NotNil(t, blocked)
	assert.Contains(t, blocked.Content, "Write action blocked (ask_mode_read_only)")

	events := decodeLines(t, lines)
	text := findLine(events, func(ev map[string]any) bool { return ev["part_type"] == "text" })
	require.NotNil(t, text)
	assert.Contains(t, text["delta"], "read-only")
}

// Scenario 2: auto-accepted write streams running, completed, and the
// legacy note_renamed event, in order.
func TestAutoAcceptWrite(t *testing.T) {
	renameTool := &stubTool{name: "rename_note", isWrite: true, run: func(args map[string]any) string {
		return "Successfully renamed note from 'Old' to 'Weekly Plan'"
	}}
	h := newTestHarness(renameTool)
	h.provider.route = "TASK"
	h.provider.classify = "ALLOW_WRITE"
	h.provider.turns = []*protocol.Message{
		toolResponse("call_1", "rename_note", map[string]any{"note_id": testNoteID, "new_title": "Weekly Plan"}),
		protocol.NewAssistantMessage("Title updated to 'Weekly Plan'."),
	}

	lines, err := h.runTurn(&agent.TurnRequest{
		Message:          "Rename this to 'Weekly Plan'",
		ThreadID:         "thread-rename",
		ActiveNoteID:     testNoteID,
		AgentMode:        "agent",
		AutoAcceptWrites: true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, renameTool.calls)

	events := decodeLines(t, lines)
	assert.Equal(t, "status", events[0]["type"])

	var order []string
	for _, ev := range events {
		switch {
		case ev["part_type"] == "tool" && ev["status"] == "running":
			order = append(order, "running")
		case ev["part_type"] == "tool" && ev["status"] == "completed":
			order = append(order, "completed")
		case ev["tool_call"] == "note_renamed":
			order = append(order, "legacy")
		case ev["part_type"] == "text":
			order = append(order, "text")
		}
	}
	assert.Equal(t, []string{"running", "completed", "legacy", "text"}, order)

	// Stream terminates with the status-clearing event.
	last := events[len(events)-1]
	assert.Equal(t, "status", last["type"])
	assert.Equal(t, "", last["text"])
}

// Scenario 3: manual approval suspends the turn, then an explicit resume
// executes the tool.
func TestManualApprovalFlow(t *testing.T) {
	renameTool := &stubTool{name: "rename_note", isWrite: true, run: func(args map[string]any) string {
		return "Successfully renamed note from 'Old' to 'Weekly Plan'"
	}}
	h := newTestHarness(renameTool)
	h.provider.route = "TASK"
	h.provider.classify = "ALLOW_WRITE"
	h.provider.turns = []*protocol.Message{
		toolResponse("call_1", "rename_note", map[string]any{"note_id": testNoteID, "new_title": "Weekly Plan"}),
		protocol.NewAssistantMessage("Done."),
	}

	req := &agent.TurnRequest{
		Message:          "Rename this to 'Weekly Plan'",
		ThreadID:         "thread-approval",
		ActiveNoteID:     testNoteID,
		AgentMode:        "agent",
		AutoAcceptWrites: false,
	}
	lines, err := h.runTurn(req)
	require.NoError(t, err)
	assert.Zero(t, renameTool.calls)

	events := decodeLines(t, lines)
	approvalEv := findLine(events, func(ev map[string]any) bool { return ev["type"] == "approval_required" })
	require.NotNil(t, approvalEv)
	approval := approvalEv["approval"].(map[string]any)
	assert.Equal(t, "rename_note", approval["tool"])
	assert.Equal(t, "write_tool_approval", approval["kind"])
	approvalID := approval["approval_id"].(string)
	require.NotEmpty(t, approvalID)

	// Resume with the matching approval id.
	lines, err = h.runTurn(&agent.TurnRequest{
		ThreadID:         "thread-approval",
		AgentMode:        "agent",
		ActiveNoteID:     testNoteID,
		AutoAcceptWrites: false,
		Resume:           map[string]any{"action": "approve", "approval_id": approvalID},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, renameTool.calls)

	events = decodeLines(t, lines)
	completed := findLine(events, func(ev map[string]any) bool {
		return ev["part_type"] == "tool" && ev["status"] == "completed"
	})
	require.NotNil(t, completed)
	legacy := findLine(events, func(ev map[string]any) bool { return ev["tool_call"] == "note_renamed" })
	assert.NotNil(t, legacy)
}

// A mismatched approval id is treated as reject: no write occurs.
func TestResumeApprovalIDMismatchRejects(t *testing.T) {
	renameTool := &stubTool{name: "rename_note", isWrite: true}
	h := newTestHarness(renameTool)
	h.provider.route = "TASK"
	h.provider.classify = "ALLOW_WRITE"
	h.provider.turns = []*protocol.Message{
		toolResponse("call_1", "rename_note", map[string]any{"note_id": testNoteID, "new_title": "X"}),
		protocol.NewAssistantMessage("Understood, cancelled."),
	}

	req := &agent.TurnRequest{
		Message: "Rename this", ThreadID: "thread-mismatch",
		ActiveNoteID: testNoteID, AgentMode: "agent", AutoAcceptWrites: false,
	}
	_, err := h.runTurn(req)
	require.NoError(t, err)

	_, err = h.runTurn(&agent.TurnRequest{
		ThreadID: "thread-mismatch", AgentMode: "agent", ActiveNoteID: testNoteID,
		Resume: map[string]any{"action": "approve", "approval_id": "appr_somebody-else"},
	})
	require.NoError(t, err)
	assert.Zero(t, renameTool.calls)

	st := h.latestState("thread-mismatch")
	require.NotNil(t, st)
	var result *protocol.Message
	for _, m := range st.Messages {
		if m.Role == protocol.RoleTool {
			result = m
		}
	}
	require.NotNil(t, result)
	assert.Contains(t, result.Content, "cancelled")
}

// Scenario 4: identical invocations halt at the doom-loop threshold.
func TestDoomLoopHalts(t *testing.T) {
	searchTool := &stubTool{name: "search_notes_stub", run: func(args map[string]any) string {
		return "same output every time"
	}}
	h := newTestHarness(searchTool)
	h.provider.route = "TASK"
	h.provider.classify = "DENY_WRITE"
	args := map[string]any{"note_id": testNoteID}
	h.provider.turns = []*protocol.Message{
		toolResponse("call_1", "search_notes_stub", args),
		toolResponse("call_2", "search_notes_stub", args),
		toolResponse("call_3", "search_notes_stub", args),
		protocol.NewAssistantMessage("I seem to be stuck; stopping here."),
	}

	_, err := h.runTurn(&agent.TurnRequest{
		Message: "find my plan", ThreadID: "thread-doom",
		AgentMode: "agent", AutoAcceptWrites: true,
	})
	require.NoError(t, err)

	// The third identical invocation is synthesized, not executed.
	assert.Equal(t, 2, searchTool.calls)

	st := h.latestState("thread-doom")
	require.NotNil(t, st)
	assert.Equal(t, 3, st.ToolCallCount)

	var doom *protocol.Message
	for _, m := range st.Messages {
		if m.Role == protocol.RoleTool && strings.Contains(m.Content, "[DOOM LOOP DETECTED]") {
			doom = m
		}
	}
	assert.NotNil(t, doom)
}

// Scenario 5: an inline token typed while an approval is pending resumes
// the turn as an approval; no extra user message enters the history.
func TestInlineApprovalViaUserText(t *testing.T) {
	renameTool := &stubTool{name: "rename_note", isWrite: true, run: func(args map[string]any) string {
		return "Successfully renamed note from 'Old' to 'New'"
	}}
	h := newTestHarness(renameTool)
	h.provider.route = "TASK"
	h.provider.classify = "ALLOW_WRITE"
	h.provider.turns = []*protocol.Message{
		toolResponse("call_1", "rename_note", map[string]any{"note_id": testNoteID, "new_title": "New"}),
		protocol.NewAssistantMessage("Renamed."),
	}

	_, err := h.runTurn(&agent.TurnRequest{
		Message: "Rename this", ThreadID: "thread-inline",
		ActiveNoteID: testNoteID, AgentMode: "agent", AutoAcceptWrites: false,
	})
	require.NoError(t, err)
	userMessages := countUserMessages(h.latestState("thread-inline"))

	_, err = h.runTurn(&agent.TurnRequest{
		Message: "继续", ThreadID: "thread-inline",
		ActiveNoteID: testNoteID, AgentMode: "agent", AutoAcceptWrites: false,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, renameTool.calls)

	st := h.latestState("thread-inline")
	require.NotNil(t, st)
	assert.Equal(t, userMessages, countUserMessages(st), "inline approval must not append a user message")
}

// A non-decision message during a pending approval returns guidance.
func TestPendingApprovalGuidance(t *testing.T) {
	renameTool := &stubTool{name: "rename_note", isWrite: true}
	h := newTestHarness(renameTool)
	h.provider.route = "TASK"
	h.provider.classify = "ALLOW_WRITE"
	h.provider.turns = []*protocol.Message{
		toolResponse("call_1", "rename_note", map[string]any{"note_id": testNoteID, "new_title": "X"}),
	}

	_, err := h.runTurn(&agent.TurnRequest{
		Message: "Rename this", ThreadID: "thread-guidance",
		ActiveNoteID: testNoteID, AgentMode: "agent", AutoAcceptWrites: false,
	})
	require.NoError(t, err)

	lines, err := h.runTurn(&agent.TurnRequest{
		Message: "also add a heading please", ThreadID: "thread-guidance",
		AgentMode: "agent", AutoAcceptWrites: false,
	})
	require.NoError(t, err)
	events := decodeLines(t, lines)
	guidance := findLine(events, func(ev map[string]any) bool { return ev["error"] != nil })
	require.NotNil(t, guidance)
	assert.Contains(t, guidance["error"], "awaiting your approval")
	assert.Zero(t, renameTool.calls)
}

// Scenario 6: a corrupted checkpoint (orphan tool calls, no pending
// interrupt) is auto-healed before a new turn.
func TestOrphanToolCallAutoHeal(t *testing.T) {
	h := newTestHarness()
	h.provider.route = "CHAT"
	h.provider.turns = []*protocol.Message{
		protocol.NewAssistantMessage("Fresh start. How can I help?"),
	}

	// Seed a corrupted state: an assistant with an unanswered tool call.
	corrupt := agent.NewState()
	orphan := protocol.NewAssistantMessage("")
	orphan.ToolCalls = []*protocol.ToolCall{{ID: "call_zombie", Name: "read_note_content", Args: map[string]any{}}}
	corrupt.Messages = []*protocol.Message{protocol.NewUserMessage("old"), orphan}
	seedThreadState(t, h, "thread-heal", corrupt)

	_, err := h.runTurn(&agent.TurnRequest{
		Message: "hello again", ThreadID: "thread-heal",
		AgentMode: "agent", AutoAcceptWrites: true,
	})
	require.NoError(t, err)

	st := h.latestState("thread-heal")
	require.NotNil(t, st)
	for _, m := range st.Messages {
		assert.NotEqual(t, "call_zombie", firstToolCallID(m), "corrupted history must be cleared")
	}
	assert.False(t, protocol.HasOrphanToolCalls(st.Messages))
}

// Resume against a thread with no checkpoint is an explicit error.
func TestResumeWithoutCheckpoint(t *testing.T) {
	h := newTestHarness()
	lines, err := h.runTurn(&agent.TurnRequest{
		ThreadID: "thread-unknown",
		Resume:   map[string]any{"action": "approve", "approval_id": "appr_x"},
	})
	require.NoError(t, err)
	events := decodeLines(t, lines)
	errEv := findLine(events, func(ev map[string]any) bool { return ev["error"] != nil })
	require.NotNil(t, errEv)
	assert.Contains(t, errEv["error"], "No pending approval")
}

// Image-only input still produces a non-empty user message.
func TestImageOnlyMessage(t *testing.T) {
	h := newTestHarness()
	h.provider.route = "CHAT"
	h.provider.turns = []*protocol.Message{protocol.NewAssistantMessage("Nice image!")}

	_, err := h.runTurn(&agent.TurnRequest{
		ThreadID:  "thread-image",
		AgentMode: "agent",
		Attachments: []*attachments.Attachment{
			{Kind: "image", Name: "pic.png", MimeType: "image/png", DataURL: "data:image/png;base64,aGk="},
		},
	})
	require.NoError(t, err)

	st := h.latestState("thread-image")
	require.NotNil(t, st)
	require.NotEmpty(t, st.Messages)
	user := st.Messages[0]
	assert.Equal(t, protocol.RoleUser, user.Role)
	assert.NotEmpty(t, user.Blocks)
}

func countUserMessages(st *agent.State) int {
	if st == nil {
		return 0
	}
	n := 0
	for _, m := range st.Messages {
		if m.Role == protocol.RoleUser {
			n++
		}
	}
	return n
}

func firstToolCallID(m *protocol.Message) string {
	if len(m.ToolCalls) == 0 {
		return ""
	}
	return m.ToolCalls[0].ID
}

// seedThreadState writes a checkpoint directly, mimicking a crashed turn.
func seedThreadState(t *testing.T, h *testHarness, threadID string, st *agent.State) {
	t.Helper()
	stateJSON, err := json.Marshal(st)
	require.NoError(t, err)
	env, err := json.Marshal(map[string]any{"state": json.RawMessage(stateJSON)})
	require.NoError(t, err)
	_, err = h.store.Put(context.Background(), threadID, env)
	require.NoError(t, err)
}
