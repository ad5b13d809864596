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
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/origin/pkg/protocol"
)

// ApprovalKind tags write-tool approval payloads on the wire.
const ApprovalKind = "write_tool_approval"

// buildApprovalPayload is the suspend payload shown to the human.
func buildApprovalPayload(st *State, tc *protocol.ToolCall, approvalID string) map[string]any {
	noteID, _ := tc.Args["note_id"].(string)
	scope := "note"
	if tc.Name == "create_note" {
		scope = "library"
		noteID = ""
	}
	return map[string]any{
		"kind":        ApprovalKind,
		"approval_id": approvalID,
		"tool":        tc.Name,
		"note_id":     noteID,
		"note_title":  st.ActiveNoteTitle,
		"args":        tc.Args,
		"scope":       scope,
	}
}

// NewApprovalID mints an approval identifier.
func NewApprovalID() string {
	return "appr_" + uuid.NewString()
}

// resumeDecision is the object form of a resume payload.
type resumeDecision struct {
	Action     string         `mapstructure:"action"`
	ApprovalID string         `mapstructure:"approval_id"`
	Args       map[string]any `mapstructure:"args"`
}

var approveTokens = map[string]bool{
	"approve": true, "accept": true, "yes": true, "true": true, "y": true, "ok": true,
	"继续": true, "好的": true, "确认": true, "同意": true,
}

var rejectTokens = map[string]bool{
	"reject": true, "cancel": true, "no": true, "false": true, "n": true,
	"取消": true, "拒绝": true, "不要": true,
}

// ParseResumeDecision interprets a resume payload against the expected
// approval id. Accepted forms: bool, approve/reject strings, or an object
// {action, approval_id, args}. An approval id that does not match the
// expected one is treated as reject — the client approved something else.
// Returned args, when present, are merged over the pending call's args.
func ParseResumeDecision(payload any, expectedApprovalID string) (approved bool, argOverrides map[string]any) {
	switch v := payload.(type) {
	case bool:
		return v, nil
	case string:
		return matchDecisionToken(v), nil
	case map[string]any:
		var d resumeDecision
		if err := mapstructure.Decode(v, &d); err != nil {
			slog.Warn("Undecodable resume payload, treating as reject", "error", err)
			return false, nil
		}
		if d.ApprovalID != "" && d.ApprovalID != expectedApprovalID {
			slog.Warn("Resume approval_id mismatch, treating as reject",
				"expected", expectedApprovalID, "got", d.ApprovalID)
			return false, nil
		}
		if matchDecisionToken(d.Action) {
			return true, d.Args
		}
		return false, nil
	default:
		return false, nil
	}
}

// matchDecisionToken maps free-form user words onto approve/reject.
func matchDecisionToken(s string) bool {
	token := strings.ToLower(strings.TrimSpace(s))
	if approveTokens[token] {
		return true
	}
	if rejectTokens[token] {
		return false
	}
	return false
}

// MatchInlineDecision interprets a plain user message typed while an
// approval is pending. Returns (decision, matched): only exact
// approve/reject tokens count; anything else is not a decision.
func MatchInlineDecision(message string) (bool, bool) {
	token := strings.ToLower(strings.TrimSpace(message))
	if approveTokens[token] {
		return true, true
	}
	if rejectTokens[token] {
		return false, true
	}
	return false, false
}
