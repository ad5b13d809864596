package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/origin/pkg/llms"
)

// Tool is the contract every agent tool satisfies. Execution always returns
// a string; failures are reported as strings starting with "Error:" so the
// model can read and react to them.
type Tool interface {
	Name() string

	Description() string

	// IsWrite reports whether execution mutates persisted note data.
	IsWrite() bool

	// Parameters returns the JSON Schema of the argument object.
	Parameters() map[string]any

	Execute(ctx context.Context, args map[string]any) string
}

// Definition converts a tool to the provider-facing shape.
func Definition(t Tool) llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

// schemaFor reflects a JSON Schema from an argument struct.
func schemaFor(v any) map[string]any {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	return out
}

// stringArg reads a string argument, tolerating missing keys.
func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// intArg reads an integer argument, tolerating JSON numbers.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// boolArg reads a boolean argument.
func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
