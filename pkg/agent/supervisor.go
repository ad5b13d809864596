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

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/origin/pkg/attachments"
	"github.com/kadirpekel/origin/pkg/checkpoint"
	"github.com/kadirpekel/origin/pkg/graph"
	"github.com/kadirpekel/origin/pkg/notes"
	"github.com/kadirpekel/origin/pkg/observability"
	"github.com/kadirpekel/origin/pkg/protocol"
)

// TurnRequest is one client request, as parsed by the transport layer.
type TurnRequest struct {
	Message  string
	ThreadID string

	NoteContext      string
	SelectedText     string
	ActiveNoteID     string
	ActiveNoteTitle  string
	ContextNoteID    string
	ContextNoteTitle string

	UseKnowledge     bool
	AutoAcceptWrites bool
	AgentMode        string

	Attachments []*attachments.Attachment

	// Resume is the approval decision for a suspended turn (nil for a new
	// message).
	Resume any

	// Per-request model override; the switch persists.
	ModelProviderID string
	ModelName       string
}

// lineSequence builds a closed line channel.
func lineSequence(lines ...[]byte) <-chan []byte {
	ch := make(chan []byte, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return ch
}

// Guidance and error messages surfaced by checkpoint sanity checks.
const (
	msgNoPendingApproval = "No pending approval found for this session. Start a new request instead of resuming."
	msgApprovalPending   = "A write action is awaiting your approval. Reply \"approve\" (继续) or \"reject\" (取消), or use the approval controls."
)

// HandleTurn is the per-turn entry point: checkpoint sanity, input
// assembly, graph execution. The emitter is invoked to translate graph
// events into client lines; see the stream package.
func (s *Service) HandleTurn(ctx context.Context, req *TurnRequest, pipe func(ctx context.Context, isResume bool, events <-chan graph.Event) <-chan []byte) (<-chan []byte, error) {
	if req.ThreadID == "" {
		return lineSequence(errorLine("session_id is required")), nil
	}

	if _, err := s.llm.ApplyOverride(req.ModelProviderID, req.ModelName); err != nil {
		slog.Warn("Model override rejected", "provider", req.ModelProviderID, "model", req.ModelName, "error", err)
	}

	executor, err := s.runtime.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to build agent runtime: %w", err)
	}
	store := executor.Store()

	resume := req.Resume
	latest, err := store.GetLatest(ctx, req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("failed to read thread state: %w", err)
	}

	// Checkpoint sanity.
	if resume != nil && latest == nil {
		observability.TurnsTotal.WithLabelValues("error").Inc()
		return lineSequence(errorLine(msgNoPendingApproval)), nil
	}
	if resume == nil && latest != nil {
		pending, err := store.PendingInterrupts(ctx, req.ThreadID, latest.CheckpointID)
		if err != nil {
			return nil, fmt.Errorf("failed to read pending interrupts: %w", err)
		}
		switch {
		case len(pending) > 0:
			// The thread is paused. Accept an inline approve/reject token;
			// reject anything else with guidance.
			approved, matched := MatchInlineDecision(req.Message)
			if !matched {
				observability.TurnsTotal.WithLabelValues("error").Inc()
				return lineSequence(errorLine(msgApprovalPending)), nil
			}
			action := "reject"
			if approved {
				action = "approve"
			}
			resume = map[string]any{"action": action, "approval_id": pending[0].ApprovalID}
		default:
			// Auto-heal: a latest state with orphan tool calls and no
			// pending interrupt is corrupt; clear it before the turn.
			if s.hasOrphanState(latest) {
				slog.Warn("Auto-healing corrupted thread state", "thread_id", req.ThreadID)
				if err := store.Clear(ctx, req.ThreadID); err != nil {
					return nil, fmt.Errorf("failed to auto-heal thread: %w", err)
				}
			}
		}
	}

	graphReq, err := s.buildGraphRequest(ctx, req, resume)
	if err != nil {
		observability.TurnsTotal.WithLabelValues("error").Inc()
		return lineSequence(errorLine(err.Error())), nil
	}

	events := executor.Stream(ctx, *graphReq)
	return pipe(ctx, resume != nil, events), nil
}

// hasOrphanState decodes the latest checkpoint and checks for unanswered
// tool calls.
func (s *Service) hasOrphanState(latest *checkpoint.Tuple) bool {
	state, _, err := graph.DecodeEnvelope(latest.State, NewState)
	if err != nil {
		// Undecodable state is corrupt by definition.
		return true
	}
	return protocol.HasOrphanToolCalls(state.Messages)
}

// buildGraphRequest assembles the executor request: a new user message with
// live context, or a resume command bundled with a live-state update so UI
// toggles changed during approval take effect immediately.
func (s *Service) buildGraphRequest(ctx context.Context, req *TurnRequest, resume any) (*graph.Request, error) {
	noteContent, attachmentContext, err := s.assembleContext(ctx, req)
	if err != nil {
		return nil, err
	}

	mode := req.AgentMode
	if mode != ModeAsk {
		mode = ModeAgent
	}
	live := graph.Update{
		ChActiveNoteID:      req.ActiveNoteID,
		ChActiveNoteTitle:   req.ActiveNoteTitle,
		ChContextNoteID:     req.ContextNoteID,
		ChContextNoteTitle:  req.ContextNoteTitle,
		ChNoteContent:       noteContent,
		ChSelectedText:      req.SelectedText,
		ChAttachmentContext: attachmentContext,
		ChUseKnowledge:      req.UseKnowledge,
		ChAutoAcceptWrites:  req.AutoAcceptWrites,
		ChAgentMode:         mode,
	}

	if resume != nil {
		return &graph.Request{ThreadID: req.ThreadID, Resume: resume, LiveUpdate: live}, nil
	}

	userMsg, err := s.buildUserMessage(req)
	if err != nil {
		return nil, err
	}
	input := graph.Update{ChMessages: userMsg}
	for k, v := range live {
		input[k] = v
	}
	// A fresh turn resets the per-turn channels.
	input[ChToolCallCount] = 0
	input[ChLastToolRepeat] = 0
	input[ChWriteAuthorized] = nil
	input[ChNextToolCall] = (*protocol.ToolCall)(nil)
	return &graph.Request{ThreadID: req.ThreadID, Input: input}, nil
}

// assembleContext loads the active and referenced note bodies (preferring
// markdown source) and extracts attachment text.
func (s *Service) assembleContext(ctx context.Context, req *TurnRequest) (noteContent, attachmentContext string, err error) {
	noteContent = req.NoteContext
	if noteContent == "" && req.ActiveNoteID != "" {
		if note, err := s.notes.Get(ctx, req.ActiveNoteID); err == nil && note != nil {
			noteContent = notes.EditableText(note)
		}
	}

	var parts []string
	if req.ContextNoteID != "" {
		if note, err := s.notes.Get(ctx, req.ContextNoteID); err == nil && note != nil {
			parts = append(parts, fmt.Sprintf("[Referenced note %q]\n%s", note.Title, notes.EditableText(note)))
		}
	}
	for _, att := range req.Attachments {
		if att.IsImage() {
			continue
		}
		text, err := attachments.ExtractText(att, s.cfg.Agent.AttachmentCap)
		if err != nil {
			slog.Warn("Attachment extraction failed", "name", att.Name, "error", err)
			continue
		}
		if text != "" {
			parts = append(parts, fmt.Sprintf("[Attachment %q]\n%s", att.Name, text))
		}
	}
	return noteContent, strings.Join(parts, "\n\n"), nil
}

// buildUserMessage composes the multimodal user message: text plus inlined
// image blocks. An image-only message still produces a non-empty block
// list; a null content is never sent to the LLM.
func (s *Service) buildUserMessage(req *TurnRequest) (*protocol.Message, error) {
	var imageBlocks []protocol.ContentBlock
	for _, att := range req.Attachments {
		if att.IsImage() && att.DataURL != "" {
			imageBlocks = append(imageBlocks, protocol.ContentBlock{Type: "image", DataURL: att.DataURL})
		}
	}

	if len(imageBlocks) == 0 {
		if strings.TrimSpace(req.Message) == "" {
			return nil, fmt.Errorf("message is required")
		}
		return protocol.NewUserMessage(req.Message), nil
	}

	blocks := make([]protocol.ContentBlock, 0, len(imageBlocks)+1)
	if strings.TrimSpace(req.Message) != "" {
		blocks = append(blocks, protocol.ContentBlock{Type: "text", Text: req.Message})
	}
	blocks = append(blocks, imageBlocks...)
	return protocol.NewUserBlocksMessage(blocks), nil
}

// errorLine renders a pre-turn error event without importing the stream
// package (which depends on this one).
func errorLine(message string) []byte {
	b, _ := json.Marshal(map[string]string{"error": message})
	return b
}
