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

// Package agent implements the note-assistant turn loop: the router,
// fast-chat and agent nodes, the one-tool-at-a-time execution discipline,
// and the supervisor that orchestrates a turn end to end.
package agent

import (
	"github.com/kadirpekel/origin/pkg/graph"
	"github.com/kadirpekel/origin/pkg/protocol"
)

// Intent is the router's outcome.
const (
	IntentChat = "CHAT"
	IntentTask = "TASK"
)

// Agent modes.
const (
	ModeAsk   = "ask"
	ModeAgent = "agent"
)

// State is the per-thread turn state persisted between node steps.
type State struct {
	// Messages is the append-only conversation log.
	Messages []*protocol.Message `json:"messages"`

	// Intent is the routing outcome for this turn.
	Intent string `json:"intent,omitempty"`

	// Active note currently open in the editor.
	ActiveNoteID       string `json:"active_note_id,omitempty"`
	ActiveNoteTitle    string `json:"active_note_title,omitempty"`
	ActiveNoteCategory string `json:"active_note_category,omitempty"`

	// Optionally @-referenced note.
	ContextNoteID    string `json:"context_note_id,omitempty"`
	ContextNoteTitle string `json:"context_note_title,omitempty"`

	// Read-only snapshots for this turn.
	NoteContent       string `json:"note_content,omitempty"`
	SelectedText      string `json:"selected_text,omitempty"`
	AttachmentContext string `json:"attachment_context,omitempty"`

	// UseKnowledge forces a search tool call this turn.
	UseKnowledge bool `json:"use_knowledge,omitempty"`

	// AutoAcceptWrites bypasses the approval gate (not the policy check).
	AutoAcceptWrites bool `json:"auto_accept_writes,omitempty"`

	// AgentMode is "ask" (read-only) or "agent".
	AgentMode string `json:"agent_mode,omitempty"`

	// Doom-loop bookkeeping.
	ToolCallCount       int    `json:"tool_call_count,omitempty"`
	LastToolName        string `json:"last_tool_name,omitempty"`
	LastToolFingerprint string `json:"last_tool_fingerprint,omitempty"`
	LastToolRepeat      int    `json:"last_tool_repeat,omitempty"`
	LastToolSuccess     bool   `json:"last_tool_success,omitempty"`

	// WriteAuthorized caches the semantic classification for this turn.
	// Nil until the classifier has run.
	WriteAuthorized *bool `json:"write_authorized,omitempty"`

	// NextToolCall is the single tool selected for the next step.
	NextToolCall *protocol.ToolCall `json:"next_tool_call,omitempty"`
}

// NewState returns an empty turn state.
func NewState() *State {
	return &State{AgentMode: ModeAgent, AutoAcceptWrites: true}
}

// Channel names for partial updates. The messages channel appends; every
// other channel replaces.
const (
	ChMessages           = "messages"
	ChIntent             = "intent"
	ChActiveNoteID       = "active_note_id"
	ChActiveNoteTitle    = "active_note_title"
	ChActiveNoteCategory = "active_note_category"
	ChContextNoteID      = "context_note_id"
	ChContextNoteTitle   = "context_note_title"
	ChNoteContent        = "note_content"
	ChSelectedText       = "selected_text"
	ChAttachmentContext  = "attachment_context"
	ChUseKnowledge       = "use_knowledge"
	ChAutoAcceptWrites   = "auto_accept_writes"
	ChAgentMode          = "agent_mode"
	ChToolCallCount      = "tool_call_count"
	ChLastToolName       = "last_tool_name"
	ChLastToolFingerprint = "last_tool_fingerprint"
	ChLastToolRepeat     = "last_tool_repeat"
	ChLastToolSuccess    = "last_tool_success"
	ChWriteAuthorized    = "write_authorized"
	ChNextToolCall       = "next_tool_call"
)

// Reduce merges a partial update into the state. Unknown channels are
// ignored; a nil value on next_tool_call clears it.
func Reduce(prev *State, u graph.Update) *State {
	if u == nil {
		return prev
	}
	next := *prev
	next.Messages = append([]*protocol.Message{}, prev.Messages...)

	for key, val := range u {
		switch key {
		case ChMessages:
			switch v := val.(type) {
			case []*protocol.Message:
				next.Messages = append(next.Messages, v...)
			case *protocol.Message:
				next.Messages = append(next.Messages, v)
			}
		case ChIntent:
			next.Intent, _ = val.(string)
		case ChActiveNoteID:
			next.ActiveNoteID, _ = val.(string)
		case ChActiveNoteTitle:
			next.ActiveNoteTitle, _ = val.(string)
		case ChActiveNoteCategory:
			next.ActiveNoteCategory, _ = val.(string)
		case ChContextNoteID:
			next.ContextNoteID, _ = val.(string)
		case ChContextNoteTitle:
			next.ContextNoteTitle, _ = val.(string)
		case ChNoteContent:
			next.NoteContent, _ = val.(string)
		case ChSelectedText:
			next.SelectedText, _ = val.(string)
		case ChAttachmentContext:
			next.AttachmentContext, _ = val.(string)
		case ChUseKnowledge:
			next.UseKnowledge, _ = val.(bool)
		case ChAutoAcceptWrites:
			next.AutoAcceptWrites, _ = val.(bool)
		case ChAgentMode:
			next.AgentMode, _ = val.(string)
		case ChToolCallCount:
			next.ToolCallCount, _ = val.(int)
		case ChLastToolName:
			next.LastToolName, _ = val.(string)
		case ChLastToolFingerprint:
			next.LastToolFingerprint, _ = val.(string)
		case ChLastToolRepeat:
			next.LastToolRepeat, _ = val.(int)
		case ChLastToolSuccess:
			next.LastToolSuccess, _ = val.(bool)
		case ChWriteAuthorized:
			if v, ok := val.(bool); ok {
				next.WriteAuthorized = &v
			} else {
				next.WriteAuthorized = nil
			}
		case ChNextToolCall:
			tc, _ := val.(*protocol.ToolCall)
			next.NextToolCall = tc
		}
	}
	return &next
}

// LastAssistant returns the most recent assistant message, or nil.
func (s *State) LastAssistant() *protocol.Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == protocol.RoleAssistant && !s.Messages[i].IsStatus() {
			return s.Messages[i]
		}
	}
	return nil
}

// LastUserText returns the text of the most recent user message.
func (s *State) LastUserText() string {
	return protocol.UserText(s.Messages)
}
