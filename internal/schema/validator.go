// Package schema wraps JSON Schema Draft-7 validation for the dynamic schema
// documents carried by agent specs. Schemas are only known at runtime, so
// they are handled as generic map[string]any trees rather than fixed structs.
package schema

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// MaxDepth is the structural nesting bound enforced on schema documents at
// registration time. Pathologically recursive schemas are rejected before
// they can make per-request validation expensive.
const MaxDepth = 50

// ValidationError is a single validation failure with a JSON-pointer-like
// path into the document.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Validate checks a document against a Draft-7 schema. An empty result means
// the document is valid. Pure function of (doc, schema); no side effects.
func Validate(doc any, schema map[string]any) ([]ValidationError, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	errs := make([]ValidationError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		errs = append(errs, ValidationError{
			Path:    re.Field(),
			Message: re.Description(),
		})
	}
	return errs, nil
}

// CheckSchema verifies that schema is itself a legal Draft-7 JSON Schema
// document with an object root and bounded nesting. Called before any spec
// is accepted into the registry.
func CheckSchema(schema map[string]any) error {
	if schema == nil {
		return fmt.Errorf("schema must be a JSON object")
	}
	if t, _ := schema["type"].(string); t != "object" {
		return fmt.Errorf("schema root type must be 'object'")
	}
	if d := depth(schema); d > MaxDepth {
		return fmt.Errorf("schema nesting depth %d exceeds limit %d", d, MaxDepth)
	}
	sl := gojsonschema.NewSchemaLoader()
	sl.Draft = gojsonschema.Draft7
	sl.AutoDetect = false
	if _, err := sl.Compile(gojsonschema.NewGoLoader(schema)); err != nil {
		return fmt.Errorf("not a valid Draft-7 JSON schema: %w", err)
	}
	return nil
}

// depth walks the generic value tree and returns its maximum nesting depth.
func depth(v any) int {
	switch t := v.(type) {
	case map[string]any:
		max := 0
		for _, child := range t {
			if d := depth(child); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, child := range t {
			if d := depth(child); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 0
	}
}
