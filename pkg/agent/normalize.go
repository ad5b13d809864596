package agent

import (
	"log/slog"
	"strings"

	"github.com/kadirpekel/origin/pkg/protocol"
)

// Tools whose note_id argument names content to read rather than mutate.
var readContentTools = map[string]bool{
	"read_note_content": true,
}

// normalizeToolArgs repairs the note_id argument of a candidate call before
// execution. Models routinely hallucinate ids or echo placeholders; the
// state knows which note the user means.
//
// Rules:
//   - absent or non-string note_id: substitute the state's preferred id
//   - an id matching neither recognized shape: same substitution
//
// The preferred id is the active note for writes; for content reads it is
// the referenced note when the user's wording targets it, else the active
// note.
func (s *Service) normalizeToolArgs(st *State, tc *protocol.ToolCall) {
	tool, ok := s.tools.Get(tc.Name)
	if !ok {
		return
	}
	if _, supplied := tc.Args["note_id"]; !supplied {
		// Only repair tools that actually declare a note_id parameter.
		props, _ := tool.Parameters()["properties"].(map[string]any)
		if _, declares := props["note_id"]; !declares {
			return
		}
	}

	supplied, _ := tc.Args["note_id"].(string)
	if supplied != "" && protocol.IsNoteID(supplied) {
		return
	}

	preferred := s.preferredNoteID(st, tc.Name)
	if preferred == "" {
		return
	}
	if tc.Args == nil {
		tc.Args = map[string]any{}
	}
	slog.Debug("Normalized note_id argument", "tool", tc.Name, "supplied", supplied, "substituted", preferred)
	tc.Args["note_id"] = preferred
}

// preferredNoteID picks the id the user most plausibly means for this tool.
func (s *Service) preferredNoteID(st *State, toolName string) string {
	if readContentTools[toolName] && st.ContextNoteID != "" && s.refersToReferencedNote(st.LastUserText()) {
		return st.ContextNoteID
	}
	if s.cfg.Agent.IsWriteTool(toolName) {
		return st.ActiveNoteID
	}
	if st.ActiveNoteID != "" {
		return st.ActiveNoteID
	}
	return st.ContextNoteID
}

// refersToReferencedNote applies the configured cue lexicons: the text must
// contain a referenced-note cue and no explicit current-note token.
func (s *Service) refersToReferencedNote(userText string) bool {
	lower := strings.ToLower(userText)
	for _, cue := range s.cfg.Agent.CurrentNoteCues {
		if strings.Contains(lower, strings.ToLower(cue)) {
			return false
		}
	}
	for _, cue := range s.cfg.Agent.ReferencedNoteCues {
		if strings.Contains(lower, strings.ToLower(cue)) {
			return true
		}
	}
	return false
}
