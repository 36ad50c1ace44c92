package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Stub is a deterministic offline backend: it synthesizes an output document
// that conforms to the agent's output schema without calling any model.
// Useful for tests, demos, and running the gateway without an API key.
type Stub struct{}

// NewStub creates the stub provider.
func NewStub() *Stub { return &Stub{} }

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Complete(ctx context.Context, prompt string, schema map[string]any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	parsed, ok := stubValue("", schema).(map[string]any)
	if !ok {
		parsed = map[string]any{}
	}
	raw, err := json.Marshal(parsed)
	if err != nil {
		return Result{}, fmt.Errorf("stub encode: %w", err)
	}
	return Result{RawText: string(raw), Parsed: parsed}, nil
}

// stubValue produces a deterministic value for a schema node. The field key
// feeds string generation so outputs read sensibly in demos.
func stubValue(key string, node map[string]any) any {
	if node == nil {
		return nil
	}
	if enum, ok := node["enum"].([]any); ok && len(enum) > 0 {
		return enum[0]
	}
	switch schemaType(node) {
	case "object":
		out := map[string]any{}
		props, _ := node["properties"].(map[string]any)
		for _, name := range sortedKeys(props) {
			child, _ := props[name].(map[string]any)
			out[name] = stubValue(name, child)
		}
		return out
	case "array":
		items, _ := node["items"].(map[string]any)
		return []any{stubValue(key, items)}
	case "string":
		if f, _ := node["format"].(string); f == "date" || f == "date-time" {
			return "2099-01-01"
		}
		if key != "" {
			return "stub " + strings.ReplaceAll(key, "_", " ")
		}
		return "stub"
	case "number":
		if isUnitInterval(node) {
			return 0.5
		}
		return float64(0)
	case "integer":
		return float64(1)
	case "boolean":
		return false
	}
	return nil
}

func schemaType(node map[string]any) string {
	switch t := node["type"].(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// isUnitInterval reports whether the node bounds a number to [0, 1], the
// common shape for confidence fields.
func isUnitInterval(node map[string]any) bool {
	min, okMin := node["minimum"].(float64)
	max, okMax := node["maximum"].(float64)
	return okMin && okMax && min == 0 && max == 1
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
