// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stream converts graph-internal events into the line-delimited
// JSON event vocabulary the frontend consumes. The vocabulary and its
// per-turn ordering (status, interleaved text and tool parts, legacy tool
// events, end) are externally observed and must not drift.
package stream

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kadirpekel/origin/pkg/agent"
	"github.com/kadirpekel/origin/pkg/config"
	"github.com/kadirpekel/origin/pkg/graph"
	"github.com/kadirpekel/origin/pkg/observability"
	"github.com/kadirpekel/origin/pkg/protocol"
)

const (
	// textFlushThreshold flushes the token buffer even without
	// sentence-ending punctuation.
	textFlushThreshold = 64

	// outputPreviewLimit caps the tool output preview in completed parts.
	outputPreviewLimit = 100
)

// thinkingStatus is the status line shown while the first node runs.
const thinkingStatus = "🧠 思考中..."

// controlTokenPattern strips classifier labels the model occasionally leaks
// into prose, including stitched and full-width-underscore variants. The
// pattern is deliberately narrow: normal prose must pass unchanged.
var controlTokenPattern = regexp.MustCompile(`(?:ALLOW|DENY)[_＿]WRITE(?:[_＿]WRITE)*|_WRITE_WRITE`)

// explicitIDPattern and bareIDPattern extract note ids from tool completion
// messages for the legacy event stream.
var (
	explicitIDPattern = regexp.MustCompile(`ID:\s*([\w-]+)`)
	bareIDPattern     = regexp.MustCompile(`\b\d{13}-[0-9a-f]{9}\b`)
)

// sentenceEnders trigger a text-buffer flush.
const sentenceEnders = "。！？.!?\n"

// Adapter converts one turn's graph events into client lines.
type Adapter struct {
	cfg *config.AgentConfig

	// IsResume suppresses the session-inconsistent rewrite of integrity
	// errors during resume flows.
	IsResume bool
}

// NewAdapter creates an adapter for one turn.
func NewAdapter(cfg *config.AgentConfig) *Adapter {
	return &Adapter{cfg: cfg}
}

// Line renders one event object as a JSON line.
func Line(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return b
}

// StatusLine builds a status event.
func StatusLine(text string) []byte {
	return Line(map[string]string{"type": "status", "text": text})
}

// ErrorLine builds an error event.
func ErrorLine(message string) []byte {
	return Line(map[string]string{"error": message})
}

// Pipe consumes graph events and emits client lines until the turn ends.
// The output channel is closed at end of turn; a cancelled context ends the
// stream cleanly without an error event.
func (a *Adapter) Pipe(ctx context.Context, events <-chan graph.Event) <-chan []byte {
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		a.run(ctx, events, out)
	}()
	return out
}

type turnState struct {
	statusSent bool
	textBuffer strings.Builder
	// running tool parts by tool call id, resolved on completion.
	runningTools map[string]string
}

func (a *Adapter) run(ctx context.Context, events <-chan graph.Event, out chan<- []byte) {
	ts := &turnState{runningTools: map[string]string{}}
	emit := func(line []byte) bool {
		select {
		case out <- line:
			return true
		case <-ctx.Done():
			return false
		}
	}
	emitEvent := func(kind string, line []byte) bool {
		observability.StreamEventsTotal.WithLabelValues(kind).Inc()
		return emit(line)
	}

	for ev := range events {
		if ctx.Err() != nil {
			// Client gone: shut down cleanly, no error event.
			return
		}
		switch ev.Mode {
		case "token":
			if !a.handleToken(ts, ev, emitEvent) {
				return
			}
		case "update":
			if !a.handleUpdate(ts, ev, emitEvent) {
				return
			}
		case "interrupt":
			a.flushText(ts, emitEvent)
			toolID := strings.TrimPrefix(ev.Interrupt.ApprovalID, "appr_")
			toolName, _ := ev.Interrupt.Payload["tool"].(string)
			emitEvent("tool", Line(map[string]any{
				"part_type": "tool",
				"tool_id":   toolID,
				"tool_name": toolName,
				"status":    "pending",
			}))
			emitEvent("approval_required", Line(map[string]any{
				"type":     "approval_required",
				"approval": ev.Interrupt.Payload,
			}))
		case "error":
			a.flushText(ts, emitEvent)
			emitEvent("error", ErrorLine(a.errorMessage(ev.Err)))
		case "done":
			a.flushText(ts, emitEvent)
		}
	}
	// Clear the status line; the transport appends its own terminator.
	emitEvent("status", StatusLine(""))
}

// handleToken buffers streamed text from the agent and fast_chat nodes;
// tokens from every other node are suppressed.
func (a *Adapter) handleToken(ts *turnState, ev graph.Event, emit func(string, []byte) bool) bool {
	if ev.Node != agent.NodeAgent && ev.Node != agent.NodeFastChat {
		return true
	}
	ts.textBuffer.WriteString(ev.Token)
	if ts.textBuffer.Len() >= textFlushThreshold || endsWithSentenceEnder(ev.Token) {
		return a.flushText(ts, emit)
	}
	return true
}

func endsWithSentenceEnder(token string) bool {
	trimmed := strings.TrimRight(token, " \t")
	if trimmed == "" {
		return false
	}
	runes := []rune(trimmed)
	return strings.ContainsRune(sentenceEnders, runes[len(runes)-1])
}

func (a *Adapter) flushText(ts *turnState, emit func(string, []byte) bool) bool {
	if ts.textBuffer.Len() == 0 {
		return true
	}
	delta := Sanitize(ts.textBuffer.String())
	ts.textBuffer.Reset()
	if delta == "" {
		return true
	}
	return emit("text", Line(map[string]string{"part_type": "text", "delta": delta}))
}

// handleUpdate maps node state updates onto client events.
func (a *Adapter) handleUpdate(ts *turnState, ev graph.Event, emit func(string, []byte) bool) bool {
	// One status line, at first router activation.
	if ev.Node == agent.NodeRouter && !ts.statusSent {
		ts.statusSent = true
		if !emit("status", StatusLine(thinkingStatus)) {
			return false
		}
	}

	msg, _ := ev.Update[agent.ChMessages].(*protocol.Message)
	if msg == nil {
		return true
	}

	switch {
	case ev.Node == agent.NodeAgent && msg.HasToolCalls():
		if !a.flushText(ts, emit) {
			return false
		}
		tc := msg.ToolCalls[0]
		ts.runningTools[tc.ID] = tc.Name
		if !emit("status", StatusLine(a.cfg.StatusLabel(tc.Name))) {
			return false
		}
		return emit("tool", Line(map[string]any{
			"part_type": "tool",
			"tool_id":   tc.ID,
			"tool_name": tc.Name,
			"status":    "running",
			"args":      tc.Args,
		}))

	case ev.Node == agent.NodeRunOneTool && msg.Role == protocol.RoleTool:
		name := ts.runningTools[msg.ToolCallID]
		if name == "" {
			name = msg.Name
		}
		delete(ts.runningTools, msg.ToolCallID)

		preview := msg.Content
		if len(preview) > outputPreviewLimit {
			preview = preview[:outputPreviewLimit]
		}
		if !emit("tool", Line(map[string]any{
			"part_type": "tool",
			"tool_id":   msg.ToolCallID,
			"tool_name": name,
			"status":    "completed",
			"output":    preview,
		})) {
			return false
		}
		return a.emitLegacyEvents(name, msg.Content, emit)
	}
	return true
}

// emitLegacyEvents derives the one-shot semantic events older clients rely
// on from the tool result text.
func (a *Adapter) emitLegacyEvents(toolName, result string, emit func(string, []byte) bool) bool {
	event := map[string]any{}
	switch {
	case toolName == "create_note" && strings.Contains(result, "Successfully created"):
		event["tool_call"] = "note_created"
		event["message"] = "New note created and synced."
	case (toolName == "update_note" || toolName == "patch_note") &&
		(strings.Contains(result, "Successfully updated") || strings.Contains(result, "Successfully patched")):
		event["tool_call"] = "note_updated"
	case toolName == "rename_note" && strings.Contains(result, "Successfully renamed"):
		event["tool_call"] = "note_renamed"
	case toolName == "delete_note" && strings.Contains(result, "Successfully deleted"):
		event["tool_call"] = "note_deleted"
		event["message"] = "Note deleted from library."
	case toolName == "set_note_category" &&
		(strings.Contains(result, "Successfully assigned") || strings.Contains(result, "Successfully removed")):
		event["tool_call"] = "note_categorized"
	default:
		return true
	}
	if id := extractNoteID(result); id != "" {
		event["note_id"] = id
	}
	return emit("legacy", Line(event))
}

// extractNoteID pulls a note id out of a tool completion message.
func extractNoteID(result string) string {
	if m := explicitIDPattern.FindStringSubmatch(result); m != nil {
		return m[1]
	}
	return bareIDPattern.FindString(result)
}

// errorMessage rewrites tool-call integrity failures outside resume flows
// into the stable session-inconsistent message. Checkpoints are never
// auto-deleted mid-turn.
func (a *Adapter) errorMessage(err error) string {
	msg := err.Error()
	if !a.IsResume && strings.Contains(msg, "tool_call") {
		return "Session state is inconsistent (unanswered tool calls). Please start a new conversation."
	}
	return msg
}

// Sanitize strips leaked control tokens from prose.
func Sanitize(text string) string {
	return controlTokenPattern.ReplaceAllString(text, "")
}
