// Package provider abstracts the model backends that execute prompts. The
// engine depends only on the Provider interface; stub, OpenAI-compatible, and
// Anthropic implementations are interchangeable.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"

	"github.com/agentgate/agentgate/internal/config"
)

// Result is a single completion. RawText is always set; Parsed is set when
// the backend produced structured output natively, otherwise the caller
// parses RawText with ParseObject.
type Result struct {
	RawText string
	Parsed  map[string]any
}

// Provider executes one prompt against a model backend. schema is the
// agent's output schema, passed through so backends with native structured
// output modes can constrain generation.
type Provider interface {
	// Name identifies the backend in logs and health reporting.
	Name() string

	// Complete runs the prompt and returns the model's output.
	Complete(ctx context.Context, prompt string, schema map[string]any) (Result, error)
}

// New builds the configured provider. Unknown names fall back to the stub so
// a misconfigured deployment still answers requests deterministically.
func New(cfg config.ProviderConfig) Provider {
	switch cfg.Name {
	case "openai":
		return newOpenAI(cfg.APIKey, cfg.Model, "")
	case "openrouter":
		return newOpenAI(cfg.APIKey, cfg.Model, openRouterBaseURL)
	case "anthropic":
		return newAnthropic(cfg.APIKey, cfg.Model)
	case "stub", "":
		return NewStub()
	}
	log.Warn().Str("provider", cfg.Name).Msg("unknown provider, using stub")
	return NewStub()
}

// ParseObject extracts a JSON object from model output. Well-formed JSON is
// decoded directly; otherwise the text is run through jsonrepair to recover
// from fenced code blocks, trailing commas, and similar model artifacts.
func ParseObject(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, fmt.Errorf("output is not a JSON object: %w", err)
	}
	return obj, nil
}
