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

// Package tools provides the agent toolset: the contract, the registry, and
// the note tools.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kadirpekel/origin/pkg/llms"
	"github.com/kadirpekel/origin/pkg/observability"
	"github.com/kadirpekel/origin/pkg/registry"
)

// Registry holds the fixed toolset for the agent loop.
type Registry struct {
	*registry.BaseRegistry[Tool]
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Tool]()}
}

// MustRegister registers a tool and panics on duplicates; the toolset is
// assembled once at startup.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t.Name(), t); err != nil {
		panic(fmt.Sprintf("tool registration failed: %v", err))
	}
}

// Definitions returns provider-facing tool definitions. With readOnly set,
// write tools are excluded (ask mode, or turns without write authorization).
func (r *Registry) Definitions(readOnly bool) []llms.ToolDefinition {
	var defs []llms.ToolDefinition
	for _, t := range r.List() {
		if readOnly && t.IsWrite() {
			continue
		}
		defs = append(defs, Definition(t))
	}
	return defs
}

// Execute runs a tool by name, recording duration and outcome. Unknown
// tools and panics degrade to error strings; the loop must keep going.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string) {
	tool, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("Error: Tool %s not found.", name)
	}

	spanCtx, span := observability.StartSpan(ctx, "tool.execute", attribute.String("tool", name))
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = fmt.Sprintf("Error: executing %s: %v", name, rec)
			slog.Error("Tool panicked", "tool", name, "panic", rec)
		}
		observability.EndSpan(span, nil)
		slog.Debug("Tool executed", "tool", name, "duration", time.Since(start))
	}()

	return tool.Execute(spanCtx, args)
}
