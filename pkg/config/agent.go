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

package config

import "fmt"

// AgentConfig holds turn-loop limits, the write-tool set, and the
// natural-language lexicons used by argument normalization and the
// write-policy engine. The lexicons are configuration on purpose: the cues
// are brittle prose heuristics and deployments tune them per language.
type AgentConfig struct {
	// MaxToolCalls caps tool executions per turn.
	MaxToolCalls int `yaml:"max_tool_calls,omitempty"`

	// DoomLoopThreshold is the number of identical consecutive tool
	// invocations (same name, same argument fingerprint) that halts the
	// tool instead of executing it.
	DoomLoopThreshold int `yaml:"doom_loop_threshold,omitempty"`

	// WriteTools is the set of tool names that mutate persisted notes.
	WriteTools []string `yaml:"write_tools,omitempty"`

	// StatusLabels maps tool names to human-readable status lines.
	StatusLabels map[string]string `yaml:"status_labels,omitempty"`

	// NoteContentCap truncates the active note body injected as context.
	NoteContentCap int `yaml:"note_content_cap,omitempty"`

	// AttachmentCap truncates extracted text per attachment.
	AttachmentCap int `yaml:"attachment_cap,omitempty"`

	// HistoryTokenBudget bounds the history fed to the LLM, in tokens.
	HistoryTokenBudget int `yaml:"history_token_budget,omitempty"`

	// ReferencedNoteCues mark a user utterance as targeting the
	// @-referenced note rather than the active one.
	ReferencedNoteCues []string `yaml:"referenced_note_cues,omitempty"`

	// CurrentNoteCues explicitly pin the utterance to the active note and
	// override ReferencedNoteCues.
	CurrentNoteCues []string `yaml:"current_note_cues,omitempty"`

	// CreateNotePhrases signal an explicit request to create a new note.
	CreateNotePhrases []string `yaml:"create_note_phrases,omitempty"`

	// CategoryFeedbackCues mark an utterance as feedback about a previous
	// categorization action (duplicate-create protection).
	CategoryFeedbackCues []string `yaml:"category_feedback_cues,omitempty"`
}

// SetDefaults applies default values.
func (c *AgentConfig) SetDefaults() {
	if c.MaxToolCalls == 0 {
		c.MaxToolCalls = 25
	}
	if c.DoomLoopThreshold == 0 {
		c.DoomLoopThreshold = 3
	}
	if len(c.WriteTools) == 0 {
		c.WriteTools = []string{
			"rename_note",
			"update_note",
			"patch_note",
			"create_note",
			"delete_note",
			"set_note_category",
		}
	}
	if len(c.StatusLabels) == 0 {
		c.StatusLabels = map[string]string{
			"search_knowledge":  "📚 正在检索知识库...",
			"read_note_content": "📖 正在读取笔记全文...",
			"list_recent_notes": "📝 正在寻找笔记...",
			"update_note":       "⚙️ 正在执行笔记更新...",
			"patch_note":        "✏️ 正在修改笔记内容...",
			"rename_note":       "🏷️ 正在重命名笔记...",
			"create_note":       "🆕 正在创建新笔记...",
			"delete_note":       "🗑️ 正在清理笔记...",
			"list_categories":   "🗂️ 正在查看分类...",
			"set_note_category": "🗂️ 正在整理分类...",
		}
	}
	if c.NoteContentCap == 0 {
		c.NoteContentCap = 8000
	}
	if c.AttachmentCap == 0 {
		c.AttachmentCap = 12000
	}
	if c.HistoryTokenBudget == 0 {
		c.HistoryTokenBudget = 24000
	}
	if len(c.ReferencedNoteCues) == 0 {
		c.ReferencedNoteCues = []string{
			"attached", "referenced note", "the note i mentioned",
			"not the current", "引用的笔记", "提到的那篇", "附带的笔记", "不是当前",
		}
	}
	if len(c.CurrentNoteCues) == 0 {
		c.CurrentNoteCues = []string{
			"current note", "this page", "this note", "当前笔记", "这篇笔记", "本页",
		}
	}
	if len(c.CreateNotePhrases) == 0 {
		c.CreateNotePhrases = []string{
			"create a new note", "new note", "make a note", "写一篇", "新建笔记", "创建笔记", "记一篇",
		}
	}
	if len(c.CategoryFeedbackCues) == 0 {
		c.CategoryFeedbackCues = []string{
			"wrong category", "category", "not that category", "分类不对", "分类错了", "换个分类", "分类",
		}
	}
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	if c.MaxToolCalls < 1 {
		return fmt.Errorf("max_tool_calls must be positive")
	}
	if c.DoomLoopThreshold < 2 {
		return fmt.Errorf("doom_loop_threshold must be at least 2")
	}
	return nil
}

// IsWriteTool reports whether the named tool is in the write set.
func (c *AgentConfig) IsWriteTool(name string) bool {
	for _, t := range c.WriteTools {
		if t == name {
			return true
		}
	}
	return false
}

// StatusLabel returns the human status line for a tool.
func (c *AgentConfig) StatusLabel(tool string) string {
	if label, ok := c.StatusLabels[tool]; ok {
		return label
	}
	return fmt.Sprintf("🛠️ 调用 %s...", tool)
}
