package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kadirpekel/origin/pkg/config"
)

func testEngine() *Engine {
	cfg := &config.AgentConfig{}
	cfg.SetDefaults()
	return NewEngine(cfg)
}

func TestEvaluate(t *testing.T) {
	e := testEngine()

	tests := []struct {
		name string
		in   Input
		want Decision
	}{
		{
			name: "non-write tool always allowed",
			in:   Input{ToolName: "search_knowledge", IsWrite: false, AgentMode: "ask"},
			want: Decision{Allow, CodeNonWriteTool, ""},
		},
		{
			name: "ask mode denies writes",
			in:   Input{ToolName: "delete_note", IsWrite: true, AgentMode: "ask", UserText: "Delete this note.", AutoAcceptWrites: true, WriteAuthorized: true},
			want: Decision{Deny, CodeAskModeReadOnly, ""},
		},
		{
			name: "missing user intent denies",
			in:   Input{ToolName: "update_note", IsWrite: true, AgentMode: "agent", UserText: "  ", AutoAcceptWrites: true},
			want: Decision{Deny, CodeMissingUserIntent, ""},
		},
		{
			name: "manual review allows and defers to approval gate",
			in:   Input{ToolName: "rename_note", IsWrite: true, AgentMode: "agent", UserText: "Rename this", AutoAcceptWrites: false},
			want: Decision{Allow, CodeManualReviewRequired, ""},
		},
		{
			name: "semantic allow",
			in:   Input{ToolName: "update_note", IsWrite: true, AgentMode: "agent", UserText: "Fix the typos and save", AutoAcceptWrites: true, WriteAuthorized: true},
			want: Decision{Allow, CodeSemanticAllowWrite, ""},
		},
		{
			name: "category feedback blocks duplicate create",
			in:   Input{ToolName: "create_note", IsWrite: true, AgentMode: "agent", UserText: "分类不对，换一个", AutoAcceptWrites: true, WriteAuthorized: false},
			want: Decision{Deny, CodeDuplicateCreateForFeedback, ""},
		},
		{
			name: "explicit create phrase escapes the duplicate-create block",
			in:   Input{ToolName: "create_note", IsWrite: true, AgentMode: "agent", UserText: "wrong category, please create a new note for it", AutoAcceptWrites: true, WriteAuthorized: false},
			want: Decision{Deny, CodeSemanticDenyWrite, ""},
		},
		{
			name: "semantic deny",
			in:   Input{ToolName: "delete_note", IsWrite: true, AgentMode: "agent", UserText: "Summarize this note for me", AutoAcceptWrites: true, WriteAuthorized: false},
			want: Decision{Deny, CodeSemanticDenyWrite, ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(tt.in)
			assert.Equal(t, tt.want.Action, got.Action)
			assert.Equal(t, tt.want.Code, got.Code)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	e := testEngine()
	in := Input{ToolName: "update_note", IsWrite: true, AgentMode: "agent", UserText: "整理格式", AutoAcceptWrites: true, WriteAuthorized: true}

	first := e.Evaluate(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Evaluate(in))
	}
}
