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

	"github.com/google/uuid"

	"github.com/kadirpekel/origin/pkg/graph"
	"github.com/kadirpekel/origin/pkg/llms"
	"github.com/kadirpekel/origin/pkg/protocol"
)

// agentNode decides whether to emit a tool call or a final answer.
func (s *Service) agentNode(ctx context.Context, st *State) (graph.Update, error) {
	update := graph.Update{}

	// Classify write authorization once per turn and cache it; the policy
	// engine and capability binding both consume it.
	writeAuthorized := false
	if st.WriteAuthorized != nil {
		writeAuthorized = *st.WriteAuthorized
	} else {
		writeAuthorized = s.classifyWriteAuthorization(ctx, st.LastUserText())
		update[ChWriteAuthorized] = writeAuthorized
	}

	// Capability binding: ask mode and unauthorized turns see only the
	// read-only subset, so a write cannot even be requested.
	readOnly := st.AgentMode == ModeAsk || !writeAuthorized
	opts := &llms.InvokeOptions{
		Tools:             s.tools.Definitions(readOnly),
		ParallelToolCalls: false,
	}

	messages := s.buildContextMessages(st)
	messages = append(messages, protocol.NewSystemMessage(languageInstruction(st.LastUserText())))
	messages = append(messages, s.preparedHistory(st)...)
	if st.ToolCallCount >= s.cfg.Agent.MaxToolCalls {
		messages = append(messages, protocol.NewSystemMessage(stopToolsInstruction))
	}

	msg, err := s.streamCompletion(ctx, messages, opts)
	if err != nil {
		return nil, fmt.Errorf("agent invocation failed: %w", err)
	}

	// Forced-tool retry: a TASK turn that must use a tool but produced
	// plain prose gets exactly one second chance with an explicit demand.
	requiresTool := st.UseKnowledge || writeAuthorized
	if st.Intent == IntentTask && st.ToolCallCount == 0 && !msg.HasToolCalls() &&
		len(msg.InvalidToolCalls) == 0 && requiresTool {
		slog.Debug("Forcing tool call retry")
		retryMessages := append(messages, protocol.NewSystemMessage(forcedToolInstruction))
		if retry, err := s.streamCompletion(ctx, retryMessages, opts); err == nil {
			msg = retry
		}
	}

	normalizeResponse(msg)
	update[ChMessages] = msg
	return update, nil
}

// streamCompletion runs a streaming completion, emitting text tokens to the
// turn's event stream, and collects the final assistant message.
func (s *Service) streamCompletion(ctx context.Context, messages []*protocol.Message, opts *llms.InvokeOptions) (*protocol.Message, error) {
	ch, err := s.llm.Active().StreamInvoke(ctx, messages, opts)
	if err != nil {
		return nil, err
	}

	msg := protocol.NewAssistantMessage("")
	var text strings.Builder
	for chunk := range ch {
		switch chunk.Type {
		case "text":
			text.WriteString(chunk.Text)
			graph.EmitToken(ctx, chunk.Text)
		case "tool_call":
			if chunk.ToolCall.Args != nil {
				msg.ToolCalls = append(msg.ToolCalls, chunk.ToolCall)
			} else {
				msg.InvalidToolCalls = append(msg.InvalidToolCalls, chunk.ToolCall)
			}
		case "error":
			return nil, chunk.Err
		}
	}
	msg.Content = text.String()
	return msg, nil
}

// normalizeResponse enforces the one-tool discipline on a model response:
//   - recover a usable call from invalid_tool_calls when no valid call exists
//   - keep only the first tool call
//   - assign an id when the model omitted one
//   - strip chatter accompanying a tool call
func normalizeResponse(msg *protocol.Message) {
	if len(msg.ToolCalls) == 0 && len(msg.InvalidToolCalls) > 0 {
		if tc := recoverInvalidCall(msg.InvalidToolCalls); tc != nil {
			msg.ToolCalls = []*protocol.ToolCall{tc}
		}
	}
	msg.InvalidToolCalls = nil

	if len(msg.ToolCalls) == 0 {
		return
	}
	if len(msg.ToolCalls) > 1 {
		slog.Debug("Discarding extra tool calls", "kept", msg.ToolCalls[0].Name, "discarded", len(msg.ToolCalls)-1)
		msg.ToolCalls = msg.ToolCalls[:1]
	}
	if msg.ToolCalls[0].ID == "" {
		msg.ToolCalls[0].ID = "call_" + uuid.NewString()
	}
	// A tool call step carries no prose; chatter confuses the re-feed.
	msg.Content = ""
}

// recoverInvalidCall tries to reconstruct one valid tool call from the raw
// argument strings the provider could not parse.
func recoverInvalidCall(invalid []*protocol.ToolCall) *protocol.ToolCall {
	for _, tc := range invalid {
		if tc.Name == "" {
			continue
		}
		args := map[string]any{}
		raw := strings.TrimSpace(tc.RawArgs)
		if raw == "" {
			raw = "{}"
		}
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			continue
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		slog.Debug("Recovered invalid tool call", "tool", tc.Name)
		return &protocol.ToolCall{ID: id, Name: tc.Name, Args: args, RawArgs: tc.RawArgs}
	}
	return nil
}
