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

package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/origin/pkg/config"
	"github.com/kadirpekel/origin/pkg/httpclient"
	"github.com/kadirpekel/origin/pkg/protocol"
)

// ErrNoEmbeddings is returned when the provider has no embedding model
// configured.
var ErrNoEmbeddings = errors.New("no embedding model configured")

const streamChannelBufferSize = 100

// OpenAIProvider speaks the OpenAI chat-completions protocol. The base URL
// selects the actual backend (OpenAI, DeepSeek, Ollama, vLLM, ...), exactly
// like the frontend's provider switcher expects.
type OpenAIProvider struct {
	id          string
	cfg         *config.LLMProviderConfig
	model       string
	invokeHTTP  *httpclient.Client
	streamHTTP  *http.Client
	embedHTTP   *httpclient.Client
}

// NewOpenAIProvider creates a provider from config. An explicit model
// overrides the configured one (per-request model switching).
func NewOpenAIProvider(id string, cfg *config.LLMProviderConfig, model string) *OpenAIProvider {
	if model == "" {
		model = cfg.Model
	}

	connect := time.Duration(cfg.ConnectTimeout) * time.Second
	read := time.Duration(cfg.ReadTimeout) * time.Second

	// Streaming must not be bounded by an overall client timeout; the
	// dialer and header timeouts still bound connection establishment.
	streamTransport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
	}

	return &OpenAIProvider{
		id:    id,
		cfg:   cfg,
		model: model,
		invokeHTTP: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: read}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		),
		streamHTTP: &http.Client{Transport: streamTransport},
		embedHTTP: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.EmbedReadTimeout) * time.Second,
				Transport: &http.Transport{
					DialContext: (&net.Dialer{Timeout: time.Duration(cfg.EmbedConnectTimeout) * time.Second}).DialContext,
				},
			}),
			httpclient.WithMaxRetries(1),
			httpclient.WithBaseDelay(time.Second),
		),
	}
}

func (p *OpenAIProvider) Name() string      { return p.id }
func (p *OpenAIProvider) ModelName() string { return p.model }

// Close releases idle connections.
func (p *OpenAIProvider) Close() error {
	p.streamHTTP.CloseIdleConnections()
	return nil
}

// ============================================================================
// REQUEST ENCODING
// ============================================================================

type chatRequest struct {
	Model             string          `json:"model"`
	Messages          []wireMessage   `json:"messages"`
	Temperature       float64         `json:"temperature,omitempty"`
	MaxTokens         int             `json:"max_tokens,omitempty"`
	Stream            bool            `json:"stream,omitempty"`
	Tools             []wireTool      `json:"tools,omitempty"`
	ParallelToolCalls *bool           `json:"parallel_tool_calls,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

func encodeMessages(messages []*protocol.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: string(m.Role)}
		switch m.Role {
		case protocol.RoleUser:
			if len(m.Blocks) > 0 {
				parts := make([]map[string]any, 0, len(m.Blocks))
				for _, b := range m.Blocks {
					switch b.Type {
					case "image":
						parts = append(parts, map[string]any{
							"type":      "image_url",
							"image_url": map[string]any{"url": b.DataURL},
						})
					default:
						parts = append(parts, map[string]any{"type": "text", "text": b.Text})
					}
				}
				wm.Content = parts
			} else {
				wm.Content = m.Content
			}
		case protocol.RoleAssistant:
			wm.Content = m.Content
			for _, tc := range m.ToolCalls {
				wtc := wireToolCall{ID: tc.ID, Type: "function"}
				wtc.Function.Name = tc.Name
				wtc.Function.Arguments = protocol.CanonicalArgsJSON(tc.Args)
				if tc.RawArgs != "" {
					wtc.Function.Arguments = tc.RawArgs
				}
				wm.ToolCalls = append(wm.ToolCalls, wtc)
			}
		case protocol.RoleTool:
			wm.Content = m.Content
			wm.ToolCallID = m.ToolCallID
			wm.Name = m.Name
		default:
			wm.Content = m.Content
		}
		out = append(out, wm)
	}
	return out
}

func encodeTools(defs []ToolDefinition) []wireTool {
	out := make([]wireTool, 0, len(defs))
	for _, d := range defs {
		wt := wireTool{Type: "function"}
		wt.Function.Name = d.Name
		wt.Function.Description = d.Description
		wt.Function.Parameters = d.Parameters
		out = append(out, wt)
	}
	return out
}

func (p *OpenAIProvider) buildRequest(messages []*protocol.Message, opts *InvokeOptions, stream bool) ([]byte, error) {
	req := chatRequest{
		Model:       p.model,
		Messages:    encodeMessages(messages),
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
		Stream:      stream,
	}
	if opts != nil && len(opts.Tools) > 0 {
		req.Tools = encodeTools(opts.Tools)
		parallel := opts.ParallelToolCalls
		req.ParallelToolCalls = &parallel
	}
	return json.Marshal(req)
}

func (p *OpenAIProvider) newHTTPRequest(ctx context.Context, path string, body []byte) (*http.Request, error) {
	url := strings.TrimRight(p.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	return req, nil
}

// ============================================================================
// NON-STREAMING INVOCATION
// ============================================================================

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke performs a non-streaming chat completion.
func (p *OpenAIProvider) Invoke(ctx context.Context, messages []*protocol.Message, opts *InvokeOptions) (*protocol.Message, error) {
	body, err := p.buildRequest(messages, opts, false)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := p.newHTTPRequest(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	resp, err := p.invokeHTTP.Do(req, body)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat completion HTTP %d: %s", resp.StatusCode, string(b))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode chat completion: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}

	choice := parsed.Choices[0].Message
	msg := protocol.NewAssistantMessage(choice.Content)
	for _, wtc := range choice.ToolCalls {
		msg.ToolCalls, msg.InvalidToolCalls = appendDecodedCall(msg.ToolCalls, msg.InvalidToolCalls, wtc)
	}
	return msg, nil
}

// appendDecodedCall parses one wire tool call. Calls whose arguments are not
// valid JSON land in invalid_tool_calls with the raw string preserved.
func appendDecodedCall(valid, invalid []*protocol.ToolCall, wtc wireToolCall) ([]*protocol.ToolCall, []*protocol.ToolCall) {
	tc := &protocol.ToolCall{
		ID:      wtc.ID,
		Name:    wtc.Function.Name,
		RawArgs: wtc.Function.Arguments,
	}
	args := map[string]any{}
	raw := strings.TrimSpace(wtc.Function.Arguments)
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		slog.Debug("Unparseable tool call arguments", "tool", tc.Name, "error", err)
		return valid, append(invalid, tc)
	}
	tc.Args = args
	return append(valid, tc), invalid
}

// ============================================================================
// STREAMING INVOCATION
// ============================================================================

type streamDelta struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// pendingCall accumulates a tool call streamed across deltas.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// StreamInvoke performs a streaming chat completion. Text deltas are emitted
// as they arrive; accumulated tool calls are emitted when the stream ends.
func (p *OpenAIProvider) StreamInvoke(ctx context.Context, messages []*protocol.Message, opts *InvokeOptions) (<-chan StreamChunk, error) {
	body, err := p.buildRequest(messages, opts, true)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := p.newHTTPRequest(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.streamHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("streaming chat completion failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("streaming chat completion HTTP %d: %s", resp.StatusCode, string(b))
	}

	ch := make(chan StreamChunk, streamChannelBufferSize)
	go p.consumeStream(ctx, resp.Body, ch)
	return ch, nil
}

func (p *OpenAIProvider) consumeStream(ctx context.Context, body io.ReadCloser, ch chan<- StreamChunk) {
	defer close(ch)
	defer func() { _ = body.Close() }()

	calls := map[int]*pendingCall{}
	order := []int{}
	totalTokens := 0

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var delta streamDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			slog.Debug("Skipping malformed stream delta", "error", err)
			continue
		}
		if delta.Usage != nil {
			totalTokens = delta.Usage.TotalTokens
		}
		if len(delta.Choices) == 0 {
			continue
		}
		d := delta.Choices[0].Delta
		if d.Content != "" {
			ch <- StreamChunk{Type: "text", Text: d.Content}
		}
		for _, tc := range d.ToolCalls {
			pc, ok := calls[tc.Index]
			if !ok {
				pc = &pendingCall{}
				calls[tc.Index] = pc
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		ch <- StreamChunk{Type: "error", Err: fmt.Errorf("stream read failed: %w", err)}
		return
	}

	for _, idx := range order {
		pc := calls[idx]
		tc := &protocol.ToolCall{ID: pc.id, Name: pc.name, RawArgs: pc.args.String()}
		args := map[string]any{}
		raw := strings.TrimSpace(pc.args.String())
		if raw == "" {
			raw = "{}"
		}
		if err := json.Unmarshal([]byte(raw), &args); err == nil {
			tc.Args = args
		}
		ch <- StreamChunk{Type: "tool_call", ToolCall: tc}
	}
	ch <- StreamChunk{Type: "done", Tokens: totalTokens}
}

// ============================================================================
// EMBEDDINGS
// ============================================================================

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed returns embedding vectors via the provider's embeddings endpoint.
// Embedding calls carry tight timeouts: they run as fire-and-forget
// background work and must never stall note CRUD.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.cfg.EmbeddingModel == "" {
		return nil, ErrNoEmbeddings
	}
	body, err := json.Marshal(map[string]any{
		"model": p.cfg.EmbeddingModel,
		"input": texts,
	})
	if err != nil {
		return nil, err
	}
	req, err := p.newHTTPRequest(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}

	resp, err := p.embedHTTP.Do(req, body)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embeddings HTTP %d: %s", resp.StatusCode, string(b))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embeddings: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	out := make([][]float32, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		out = append(out, d.Embedding)
	}
	return out, nil
}
