package provider

import (
	"context"
	"testing"
)

func TestStubGeneratesConformingShape(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
			"bullets": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": float64(0),
				"maximum": float64(1),
			},
			"count":    map[string]any{"type": "integer"},
			"urgent":   map[string]any{"type": "boolean"},
			"category": map[string]any{"type": "string", "enum": []any{"support", "sales"}},
			"due":      map[string]any{"type": "string", "format": "date"},
		},
	}

	result, err := NewStub().Complete(context.Background(), "prompt", schema)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	out := result.Parsed

	if out["summary"] != "stub summary" {
		t.Errorf("summary: got %v", out["summary"])
	}
	bullets, ok := out["bullets"].([]any)
	if !ok || len(bullets) != 1 {
		t.Errorf("bullets should be a single-element array, got %v", out["bullets"])
	}
	if out["confidence"] != 0.5 {
		t.Errorf("unit-interval number should be 0.5, got %v", out["confidence"])
	}
	if out["count"] != float64(1) {
		t.Errorf("integer should be 1, got %v", out["count"])
	}
	if out["urgent"] != false {
		t.Errorf("boolean should be false, got %v", out["urgent"])
	}
	if out["category"] != "support" {
		t.Errorf("enum should pick the first value, got %v", out["category"])
	}
	if out["due"] != "2099-01-01" {
		t.Errorf("date should be fixed, got %v", out["due"])
	}
	if result.RawText == "" {
		t.Error("raw text should carry the encoded output")
	}
}

func TestStubIsDeterministic(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "string"},
			"b": map[string]any{"type": "integer"},
		},
	}
	first, _ := NewStub().Complete(context.Background(), "p", schema)
	second, _ := NewStub().Complete(context.Background(), "p", schema)
	if first.RawText != second.RawText {
		t.Errorf("stub output should be stable: %q vs %q", first.RawText, second.RawText)
	}
}

func TestParseObjectDirectJSON(t *testing.T) {
	obj, err := ParseObject(`{"summary": "ok"}`)
	if err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	if obj["summary"] != "ok" {
		t.Errorf("got %v", obj)
	}
}

func TestParseObjectRepairsModelArtifacts(t *testing.T) {
	cases := []string{
		"```json\n{\"summary\": \"ok\"}\n```",
		`{"summary": "ok",}`,
		`{'summary': 'ok'}`,
	}
	for _, raw := range cases {
		obj, err := ParseObject(raw)
		if err != nil {
			t.Errorf("ParseObject(%q): %v", raw, err)
			continue
		}
		if obj["summary"] != "ok" {
			t.Errorf("ParseObject(%q): got %v", raw, obj)
		}
	}
}

func TestParseObjectRejectsGarbage(t *testing.T) {
	if _, err := ParseObject("not even close"); err == nil {
		t.Error("expected error for unparseable text")
	}
}
