package agent_test

import (
	"context"
	"strings"
	"sync"

	"github.com/kadirpekel/origin/pkg/agent"
	"github.com/kadirpekel/origin/pkg/checkpoint"
	"github.com/kadirpekel/origin/pkg/config"
	"github.com/kadirpekel/origin/pkg/graph"
	"github.com/kadirpekel/origin/pkg/llms"
	"github.com/kadirpekel/origin/pkg/notes"
	"github.com/kadirpekel/origin/pkg/protocol"
	"github.com/kadirpekel/origin/pkg/stream"
	"github.com/kadirpekel/origin/pkg/tools"
)

// stubProvider scripts LLM behavior per call site: the router and write
// classifier are answered from fixed strings, and each agent/fast_chat
// invocation pops the next scripted assistant message.
type stubProvider struct {
	mu sync.Mutex

	route    string // router answer, default "CHAT"
	classify string // write classifier answer, default "DENY_WRITE"

	// turns are successive streaming responses.
	turns []*protocol.Message
	next  int
}

func (p *stubProvider) Name() string      { return "stub" }
func (p *stubProvider) ModelName() string { return "stub-model" }
func (p *stubProvider) Close() error      { return nil }

func (p *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (p *stubProvider) Invoke(ctx context.Context, messages []*protocol.Message, opts *llms.InvokeOptions) (*protocol.Message, error) {
	if len(messages) > 0 && messages[0].Role == protocol.RoleSystem {
		sys := messages[0].Content
		if strings.Contains(sys, "intent classifier") {
			answer := p.route
			if answer == "" {
				answer = "CHAT"
			}
			return protocol.NewAssistantMessage(answer), nil
		}
		if strings.Contains(sys, "ALLOW_WRITE") {
			answer := p.classify
			if answer == "" {
				answer = "DENY_WRITE"
			}
			return protocol.NewAssistantMessage(answer), nil
		}
	}
	return p.popTurn(), nil
}

func (p *stubProvider) StreamInvoke(ctx context.Context, messages []*protocol.Message, opts *llms.InvokeOptions) (<-chan llms.StreamChunk, error) {
	msg := p.popTurn()
	ch := make(chan llms.StreamChunk, len(msg.ToolCalls)+4)
	if msg.Content != "" {
		ch <- llms.StreamChunk{Type: "text", Text: msg.Content}
	}
	for _, tc := range msg.ToolCalls {
		ch <- llms.StreamChunk{Type: "tool_call", ToolCall: tc.Clone()}
	}
	ch <- llms.StreamChunk{Type: "done"}
	close(ch)
	return ch, nil
}

func (p *stubProvider) popTurn() *protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.turns) {
		return protocol.NewAssistantMessage("(no scripted response)")
	}
	msg := p.turns[p.next]
	p.next++
	return msg
}

// toolResponse scripts one agent step that calls a tool.
func toolResponse(id, name string, args map[string]any) *protocol.Message {
	m := protocol.NewAssistantMessage("")
	m.ToolCalls = []*protocol.ToolCall{{ID: id, Name: name, Args: args}}
	return m
}

// stubSource satisfies ProviderSource over a single stub provider.
type stubSource struct{ provider *stubProvider }

func (s *stubSource) Active() llms.Provider { return s.provider }
func (s *stubSource) ApplyOverride(providerID, modelName string) (bool, error) {
	return false, nil
}
func (s *stubSource) OnChange(fn func()) {}

// stubTool is a scriptable tool.
type stubTool struct {
	name    string
	isWrite bool
	calls   int
	run     func(args map[string]any) string
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub tool " + t.name }
func (t *stubTool) IsWrite() bool       { return t.isWrite }
func (t *stubTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"note_id": map[string]any{"type": "string"},
		},
	}
}
func (t *stubTool) Execute(ctx context.Context, args map[string]any) string {
	t.calls++
	if t.run != nil {
		return t.run(args)
	}
	return "ok"
}

// memNoteStore is a minimal in-memory notes.Store.
type memNoteStore struct {
	mu    sync.Mutex
	notes map[string]*notes.Note
}

func newMemNoteStore() *memNoteStore {
	return &memNoteStore{notes: map[string]*notes.Note{}}
}

func (s *memNoteStore) Create(ctx context.Context, title, content, markdownSource, categoryID string) (*notes.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := &notes.Note{ID: notes.NewNoteID(), Title: title, Content: content, MarkdownSource: markdownSource, CategoryID: categoryID}
	s.notes[n.ID] = n
	return n, nil
}

func (s *memNoteStore) Get(ctx context.Context, id string) (*notes.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notes[id], nil
}

func (s *memNoteStore) Update(ctx context.Context, id string, req *notes.UpdateRequest) error {
	return nil
}
func (s *memNoteStore) Delete(ctx context.Context, id string) error { return nil }
func (s *memNoteStore) ListRecent(ctx context.Context, limit int) ([]*notes.Note, error) {
	return nil, nil
}
func (s *memNoteStore) Categories(ctx context.Context) ([]*notes.Category, error) { return nil, nil }
func (s *memNoteStore) SetCategory(ctx context.Context, id, categoryID string) error {
	return nil
}

// testHarness bundles a service wired to stubs.
type testHarness struct {
	service  *agent.Service
	provider *stubProvider
	store    *checkpoint.MemoryStore
	registry *tools.Registry
	cfg      *config.Config
}

func newTestHarness(registered ...tools.Tool) *testHarness {
	cfg := &config.Config{
		LLMs: map[string]*config.LLMProviderConfig{
			"default": {Provider: "openai", Model: "stub-model"},
		},
	}
	cfg.SetDefaults()

	provider := &stubProvider{}
	store := checkpoint.NewMemoryStore()
	registry := tools.NewRegistry()
	for _, t := range registered {
		registry.MustRegister(t)
	}

	service := agent.NewService(cfg, &stubSource{provider}, registry, newMemNoteStore(), func() (checkpoint.Store, error) {
		return store, nil
	})
	return &testHarness{service: service, provider: provider, store: store, registry: registry, cfg: cfg}
}

// runTurn executes one turn through the real stream adapter and returns the
// emitted client lines.
func (h *testHarness) runTurn(req *agent.TurnRequest) ([]string, error) {
	lines, err := h.service.HandleTurn(context.Background(), req, func(ctx context.Context, isResume bool, events <-chan graph.Event) <-chan []byte {
		adapter := stream.NewAdapter(h.cfg.Agent)
		adapter.IsResume = isResume
		return adapter.Pipe(ctx, events)
	})
	if err != nil {
		return nil, err
	}
	var out []string
	for line := range lines {
		out = append(out, string(line))
	}
	return out, nil
}

// latestState decodes the thread's newest checkpoint.
func (h *testHarness) latestState(threadID string) *agent.State {
	tuple, err := h.store.GetLatest(context.Background(), threadID)
	if err != nil || tuple == nil {
		return nil
	}
	state, _, err := graph.DecodeEnvelope(tuple.State, agent.NewState)
	if err != nil {
		return nil
	}
	return state
}
