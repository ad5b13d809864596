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
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/origin/pkg/graph"
	"github.com/kadirpekel/origin/pkg/observability"
	"github.com/kadirpekel/origin/pkg/policy"
	"github.com/kadirpekel/origin/pkg/protocol"
)

// pickOneToolNode extracts the first tool call of the last assistant
// message into next_tool_call. Everything past the first call was already
// discarded during response normalization; this is the safety net.
func (s *Service) pickOneToolNode(ctx context.Context, st *State) (graph.Update, error) {
	last := st.LastAssistant()
	if last == nil || !last.HasToolCalls() {
		return graph.Update{ChNextToolCall: (*protocol.ToolCall)(nil)}, nil
	}
	return graph.Update{ChNextToolCall: last.ToolCalls[0].Clone()}, nil
}

// runOneToolNode executes the selected tool under the full discipline:
// argument normalization, policy gating, human approval, doom-loop
// detection, then execution.
func (s *Service) runOneToolNode(ctx context.Context, st *State) (graph.Update, error) {
	tc := st.NextToolCall
	if tc == nil {
		return graph.Update{}, nil
	}
	tc = tc.Clone()

	s.normalizeToolArgs(st, tc)
	fingerprint := Fingerprint(tc.Args)
	isWrite := s.cfg.Agent.IsWriteTool(tc.Name)

	// Policy check.
	writeAuthorized := st.WriteAuthorized != nil && *st.WriteAuthorized
	decision := s.policy.Evaluate(policy.Input{
		ToolName:         tc.Name,
		IsWrite:          isWrite,
		AgentMode:        st.AgentMode,
		UserText:         st.LastUserText(),
		AutoAcceptWrites: st.AutoAcceptWrites,
		WriteAuthorized:  writeAuthorized,
	})
	if !decision.Allowed() {
		slog.Info("Write action blocked", "tool", tc.Name, "code", decision.Code)
		observability.ToolExecutionsTotal.WithLabelValues(tc.Name, "blocked").Inc()
		result := fmt.Sprintf("Write action blocked (%s): %s", decision.Code, decision.Reason)
		return s.toolOutcome(st, tc, fingerprint, result, false), nil
	}

	// Approval gate. The approval id derives from the tool call id so the
	// re-run of this node after resume expects the same one.
	if isWrite && !st.AutoAcceptWrites {
		approvalID := "appr_" + tc.ID
		if value, resumed := graph.ResumeValue(ctx); resumed {
			approved, overrides := ParseResumeDecision(value, approvalID)
			if !approved {
				slog.Info("Write action rejected by user", "tool", tc.Name)
				observability.ToolExecutionsTotal.WithLabelValues(tc.Name, "rejected").Inc()
				result := "Write action cancelled: the user rejected the approval request. Do not retry; ask the user how to proceed."
				return s.toolOutcome(st, tc, fingerprint, result, false), nil
			}
			for k, v := range overrides {
				tc.Args[k] = v
			}
			fingerprint = Fingerprint(tc.Args)
		} else {
			return nil, graph.Suspend(approvalID, buildApprovalPayload(st, tc, approvalID))
		}
	}

	// Doom-loop check.
	if s.isDoomLoop(st, tc.Name, fingerprint) {
		slog.Warn("Doom loop detected", "tool", tc.Name, "fingerprint", fingerprint)
		observability.ToolExecutionsTotal.WithLabelValues(tc.Name, "doom_loop").Inc()
		return s.toolOutcome(st, tc, fingerprint, doomLoopResult(tc.Name), false), nil
	}

	// Execute.
	result := s.tools.Execute(ctx, tc.Name, tc.Args)
	success := !strings.HasPrefix(strings.TrimSpace(result), "Error:")
	status := "ok"
	if !success {
		status = "error"
	}
	observability.ToolExecutionsTotal.WithLabelValues(tc.Name, status).Inc()
	return s.toolOutcome(st, tc, fingerprint, result, success), nil
}

// toolOutcome builds the state update shared by every run_one_tool exit:
// the tool result message plus the loop bookkeeping.
func (s *Service) toolOutcome(st *State, tc *protocol.ToolCall, fingerprint, result string, success bool) graph.Update {
	repeat := 1
	if st.LastToolName == tc.Name && st.LastToolFingerprint == fingerprint {
		repeat = st.LastToolRepeat + 1
	}
	return graph.Update{
		ChMessages:            protocol.NewToolResult(tc.ID, tc.Name, result),
		ChToolCallCount:       st.ToolCallCount + 1,
		ChLastToolName:        tc.Name,
		ChLastToolFingerprint: fingerprint,
		ChLastToolRepeat:      repeat,
		ChLastToolSuccess:     success,
		ChNextToolCall:        (*protocol.ToolCall)(nil),
	}
}

// statusNode appends the internal status marker after a tool step. Status
// messages surface in the client stream but are filtered from every LLM
// re-feed.
func (s *Service) statusNode(ctx context.Context, st *State) (graph.Update, error) {
	if st.LastToolName == "" {
		return graph.Update{}, nil
	}
	return graph.Update{
		ChMessages: protocol.NewStatusMessage(s.cfg.Agent.StatusLabel(st.LastToolName)),
	}, nil
}
