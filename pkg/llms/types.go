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

// Package llms provides the LLM provider contract and the OpenAI-protocol
// provider used for every model on the market that speaks it.
package llms

import (
	"context"

	"github.com/kadirpekel/origin/pkg/protocol"
)

// ToolDefinition describes a callable tool for the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// InvokeOptions bind tools to a single invocation.
type InvokeOptions struct {
	// Tools available to the model for this call. Empty disables tool use.
	Tools []ToolDefinition

	// ParallelToolCalls is always false in the agent core: the loop
	// executes one tool per step.
	ParallelToolCalls bool
}

// StreamChunk is one unit of a streaming response.
type StreamChunk struct {
	Type     string             // "text", "tool_call", "done", "error"
	Text     string             // for text chunks
	ToolCall *protocol.ToolCall // for tool_call chunks
	Tokens   int                // for done chunks
	Err      error              // for error chunks
}

// Provider is the LLM provider contract required by the agent core.
type Provider interface {
	// Name returns the configured provider id.
	Name() string

	// ModelName returns the active model.
	ModelName() string

	// Invoke performs a non-streaming request. Used by the router and the
	// write-authorization classifier.
	Invoke(ctx context.Context, messages []*protocol.Message, opts *InvokeOptions) (*protocol.Message, error)

	// StreamInvoke performs a streaming request. The returned channel is
	// closed after a "done" or "error" chunk.
	StreamInvoke(ctx context.Context, messages []*protocol.Message, opts *InvokeOptions) (<-chan StreamChunk, error)

	// Embed returns embedding vectors for the given texts. Providers
	// without an embedding model return ErrNoEmbeddings.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Close releases underlying connections.
	Close() error
}
