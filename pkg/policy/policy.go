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

// Package policy implements the write-policy engine: the single place that
// decides whether a candidate tool call is permitted this turn. The engine
// is stateless and deterministic; identical inputs always produce the same
// decision.
package policy

import (
	"strings"

	"github.com/kadirpekel/origin/pkg/config"
)

// Action is the decision outcome.
type Action string

const (
	Allow Action = "allow"
	Deny  Action = "deny"
)

// Stable decision codes. These appear in logs and synthetic tool results;
// clients and tests rely on them.
const (
	CodeNonWriteTool             = "non_write_tool"
	CodeAskModeReadOnly          = "ask_mode_read_only"
	CodeMissingUserIntent        = "missing_user_intent"
	CodeManualReviewRequired     = "manual_review_required"
	CodeSemanticAllowWrite       = "semantic_allow_write"
	CodeSemanticDenyWrite        = "semantic_deny_write"
	CodeDuplicateCreateForFeedback = "duplicate_create_blocked_for_category_feedback"
)

// Decision is the engine's verdict on one candidate tool call.
type Decision struct {
	Action Action
	Code   string
	Reason string
}

// Allowed reports whether the call may proceed.
func (d Decision) Allowed() bool { return d.Action == Allow }

// Input captures everything the engine looks at.
type Input struct {
	// ToolName of the candidate call.
	ToolName string

	// IsWrite per the configured write-tool set.
	IsWrite bool

	// AgentMode is "ask" or "agent".
	AgentMode string

	// UserText is the last recoverable user utterance ("" when none).
	UserText string

	// AutoAcceptWrites mirrors the turn's UI toggle. When false, the
	// approval gate performs the human confirmation.
	AutoAcceptWrites bool

	// WriteAuthorized is the cached semantic classification of UserText.
	WriteAuthorized bool
}

// Engine evaluates write-policy decisions. Stateless; safe to share.
type Engine struct {
	cfg *config.AgentConfig
}

// NewEngine creates an engine over the configured lexicons.
func NewEngine(cfg *config.AgentConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate produces the decision for one candidate tool call.
func (e *Engine) Evaluate(in Input) Decision {
	if !in.IsWrite {
		return Decision{Allow, CodeNonWriteTool, "tool does not modify notes"}
	}
	if in.AgentMode == "ask" {
		return Decision{Deny, CodeAskModeReadOnly, "ask mode is read-only; switch to agent mode to modify notes"}
	}
	if strings.TrimSpace(in.UserText) == "" {
		return Decision{Deny, CodeMissingUserIntent, "no user request is available to justify a write"}
	}
	if !in.AutoAcceptWrites {
		// Manual review: the approval gate will ask the human.
		return Decision{Allow, CodeManualReviewRequired, "write will be submitted for manual approval"}
	}
	if in.WriteAuthorized {
		return Decision{Allow, CodeSemanticAllowWrite, "user request asks to modify persisted notes"}
	}
	if in.ToolName == "create_note" && e.isCategoryFeedback(in.UserText) {
		return Decision{Deny, CodeDuplicateCreateForFeedback,
			"the message reads as feedback about a previous categorization, not a request to create a new note"}
	}
	return Decision{Deny, CodeSemanticDenyWrite, "user request reads as read/summarize/draft only"}
}

// isCategoryFeedback reports whether the utterance is mere feedback about a
// prior categorization action without an explicit create-note phrase.
func (e *Engine) isCategoryFeedback(userText string) bool {
	lower := strings.ToLower(userText)
	for _, phrase := range e.cfg.CreateNotePhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return false
		}
	}
	for _, cue := range e.cfg.CategoryFeedbackCues {
		if strings.Contains(lower, strings.ToLower(cue)) {
			return true
		}
	}
	return false
}
