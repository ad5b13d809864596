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
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/origin/pkg/protocol"
)

// buildContextMessages assembles the structured system block for the agent
// node: active/referenced note identity, a truncation-capped note body,
// selected text, attachment context, the knowledge-flag instruction, and
// the note-structure reminder.
func (s *Service) buildContextMessages(st *State) []*protocol.Message {
	var b strings.Builder
	b.WriteString("[Current Context]\n")

	if st.ActiveNoteID != "" {
		fmt.Fprintf(&b, "Active note: %q (ID: %s", st.ActiveNoteTitle, st.ActiveNoteID)
		if st.ActiveNoteCategory != "" {
			fmt.Fprintf(&b, ", category: %s", st.ActiveNoteCategory)
		}
		b.WriteString(")\n")
	} else {
		b.WriteString("Active note: none\n")
	}
	if st.ContextNoteID != "" {
		fmt.Fprintf(&b, "Referenced note (@): %q (ID: %s)\n", st.ContextNoteTitle, st.ContextNoteID)
	}

	if st.NoteContent != "" {
		body := st.NoteContent
		if max, r := s.cfg.Agent.NoteContentCap, []rune(body); len(r) > max {
			body = string(r[:max]) + "\n...[truncated]"
		}
		fmt.Fprintf(&b, "\nActive note content:\n---\n%s\n---\n", body)
	}
	if st.SelectedText != "" {
		fmt.Fprintf(&b, "\nUser-selected text:\n---\n%s\n---\n", st.SelectedText)
	}
	if st.AttachmentContext != "" {
		fmt.Fprintf(&b, "\nAttached file content:\n---\n%s\n---\n", st.AttachmentContext)
	}

	msgs := []*protocol.Message{
		protocol.NewSystemMessage(systemPolicyPrompt),
		protocol.NewSystemMessage(b.String()),
		protocol.NewSystemMessage(noteStructureReminder),
	}
	if st.UseKnowledge {
		msgs = append(msgs, protocol.NewSystemMessage(knowledgeFlagInstruction))
	}
	return msgs
}

// ============================================================================
// TOKEN-AWARE HISTORY BUDGET
// ============================================================================

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens estimates the token count of a text. Falls back to a
// bytes/4 heuristic when the BPE vocabulary is unavailable (offline).
func countTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("Token encoding unavailable, using byte heuristic", "error", err)
			return
		}
		encoding = enc
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// trimHistoryToBudget drops the oldest messages until the history fits the
// token budget. The window never opens on a tool result, which would
// recreate the orphan tool-call problem the sanitizer exists to fix.
func trimHistoryToBudget(history []*protocol.Message, budget int) []*protocol.Message {
	if budget <= 0 {
		return history
	}
	total := 0
	for _, m := range history {
		total += countTokens(m.Content)
	}
	start := 0
	for total > budget && start < len(history)-1 {
		total -= countTokens(history[start].Content)
		start++
		for start < len(history)-1 && history[start].Role == protocol.RoleTool {
			total -= countTokens(history[start].Content)
			start++
		}
	}
	return history[start:]
}

// preparedHistory returns the sanitized, budget-trimmed history for
// provider invocations.
func (s *Service) preparedHistory(st *State) []*protocol.Message {
	history := protocol.SanitizeHistory(st.Messages)
	return trimHistoryToBudget(history, s.cfg.Agent.HistoryTokenBudget)
}

// languageInstruction picks the reply language from the script of the last
// user message: any CJK rune selects Chinese.
func languageInstruction(userText string) string {
	for _, r := range userText {
		if unicode.Is(unicode.Han, r) {
			return languageInstructionZH
		}
	}
	return languageInstructionEN
}
