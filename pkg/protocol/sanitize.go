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

package protocol

// InterruptedActionText replaces an orphaned tool-calling assistant message
// that carried no text of its own.
const InterruptedActionText = "[Previous action was interrupted]"

// HasOrphanToolCalls reports whether any assistant message requests tool
// calls that are not all answered by immediately following tool messages.
func HasOrphanToolCalls(messages []*Message) bool {
	for i, m := range messages {
		if !m.HasToolCalls() {
			continue
		}
		if !toolCallsAnswered(m, messages[i+1:]) {
			return true
		}
	}
	return false
}

// toolCallsAnswered checks that every call id of m is answered by the run of
// tool messages directly following it.
func toolCallsAnswered(m *Message, rest []*Message) bool {
	answered := make(map[string]bool, len(m.ToolCalls))
	for _, r := range rest {
		if r.Role != RoleTool {
			break
		}
		answered[r.ToolCallID] = true
	}
	for _, tc := range m.ToolCalls {
		if !answered[tc.ID] {
			return false
		}
	}
	return true
}

// RepairOrphanToolCalls converts any assistant message whose tool calls are
// not fully answered into a plain-text assistant message. The original text
// is preserved when present. Idempotent.
func RepairOrphanToolCalls(messages []*Message) []*Message {
	out := make([]*Message, 0, len(messages))
	for i, m := range messages {
		if m.HasToolCalls() && !toolCallsAnswered(m, messages[i+1:]) {
			text := m.Content
			if text == "" {
				text = InterruptedActionText
			}
			out = append(out, NewAssistantMessage(text))
			continue
		}
		out = append(out, m)
	}
	return out
}

// StripInvalidToolCalls removes invalid_tool_calls payloads before any
// provider invocation. Idempotent.
func StripInvalidToolCalls(messages []*Message) []*Message {
	out := make([]*Message, 0, len(messages))
	for _, m := range messages {
		if len(m.InvalidToolCalls) == 0 {
			out = append(out, m)
			continue
		}
		cp := *m
		cp.InvalidToolCalls = nil
		out = append(out, &cp)
	}
	return out
}

// FilterStatus drops internal status assistant messages. Idempotent.
func FilterStatus(messages []*Message) []*Message {
	out := make([]*Message, 0, len(messages))
	for _, m := range messages {
		if m.IsStatus() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SanitizeHistory applies the full pre-invocation sanitation: status filter,
// orphan tool-call repair, invalid-tool-call strip. The result is safe to
// feed to any provider, and sanitizing it again is a no-op.
func SanitizeHistory(messages []*Message) []*Message {
	return StripInvalidToolCalls(RepairOrphanToolCalls(FilterStatus(messages)))
}
