// Package models defines the shared data types for the agent gateway:
// agent specs, sessions, invoke requests, and the response envelope.
package models

import "time"

// ── Primitives ───────────────────────────────────────────────

// Primitive is the prompt-construction strategy declared by an agent spec.
type Primitive string

const (
	// PrimitiveTransform rewrites input text per the preset's instructions.
	PrimitiveTransform Primitive = "transform"
	// PrimitiveExtract pulls structured fields described by the caller.
	PrimitiveExtract Primitive = "extract"
	// PrimitiveClassify assigns items to declared categories with confidence.
	PrimitiveClassify Primitive = "classify"
)

// KnownPrimitive reports whether p is one of the supported primitives.
// Unknown primitives are rejected at registration time, never at dispatch.
func KnownPrimitive(p Primitive) bool {
	switch p {
	case PrimitiveTransform, PrimitiveExtract, PrimitiveClassify:
		return true
	}
	return false
}

// ── Agent Spec ───────────────────────────────────────────────

// MemoryPolicy bounds how much session history is folded into the prompt.
// max_messages applies first (last N by recency), then max_chars truncates
// the retained suffix by total content length.
type MemoryPolicy struct {
	Mode        string `json:"mode" yaml:"mode"`
	MaxMessages int    `json:"max_messages" yaml:"max_messages"`
	MaxChars    int    `json:"max_chars" yaml:"max_chars"`
}

// DefaultMemoryPolicy applies when a memory-enabled spec declares none.
func DefaultMemoryPolicy() MemoryPolicy {
	return MemoryPolicy{Mode: "last_n", MaxMessages: 10, MaxChars: 8000}
}

// Credits attributes a spec to its author.
type Credits struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
}

// AgentSpec is an immutable agent definition keyed by (ID, Version).
// Re-registering an existing (ID, Version) pair is rejected; "latest" for an
// id is the non-archived spec with the maximum CreatedAt, never semver order.
type AgentSpec struct {
	ID             string         `json:"id" yaml:"id"`
	Version        string         `json:"version" yaml:"version"`
	Name           string         `json:"name" yaml:"name"`
	Description    string         `json:"description" yaml:"description"`
	Primitive      Primitive      `json:"primitive" yaml:"primitive"`
	Prompt         string         `json:"prompt" yaml:"prompt"`
	InputSchema    map[string]any `json:"input_schema" yaml:"input_schema"`
	OutputSchema   map[string]any `json:"output_schema" yaml:"output_schema"`
	SupportsMemory bool           `json:"supports_memory" yaml:"supports_memory"`
	MemoryPolicy   *MemoryPolicy  `json:"memory_policy,omitempty" yaml:"memory_policy,omitempty"`
	Tags           []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Credits        *Credits       `json:"credits,omitempty" yaml:"credits,omitempty"`

	// CreatedAt is the insertion timestamp in UnixNano, assigned by the store.
	CreatedAt int64 `json:"created_at" yaml:"-"`
	Archived  bool  `json:"archived" yaml:"-"`
}

// AgentSummary is the listing shape: spec identity and metadata without the
// prompt or schema documents.
type AgentSummary struct {
	ID             string    `json:"id"`
	Version        string    `json:"version"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Primitive      Primitive `json:"primitive"`
	SupportsMemory bool      `json:"supports_memory"`
	Tags           []string  `json:"tags"`
	CreatedAt      int64     `json:"created_at"`
	Archived       bool      `json:"archived"`
	Credits        *Credits  `json:"credits"`
}

// Summary projects a spec into its listing shape.
func (s *AgentSpec) Summary() AgentSummary {
	return AgentSummary{
		ID:             s.ID,
		Version:        s.Version,
		Name:           s.Name,
		Description:    s.Description,
		Primitive:      s.Primitive,
		SupportsMemory: s.SupportsMemory,
		Tags:           s.Tags,
		CreatedAt:      s.CreatedAt,
		Archived:       s.Archived,
		Credits:        s.Credits,
	}
}

// SchemaDoc is the read-only schema view served by GET /schema.
type SchemaDoc struct {
	Agent        string         `json:"agent"`
	Version      string         `json:"version"`
	Primitive    Primitive      `json:"primitive"`
	InputSchema  map[string]any `json:"input_schema"`
	OutputSchema map[string]any `json:"output_schema"`
}

// Schema returns the spec's schema view.
func (s *AgentSpec) Schema() SchemaDoc {
	return SchemaDoc{
		Agent:        s.ID,
		Version:      s.Version,
		Primitive:    s.Primitive,
		InputSchema:  s.InputSchema,
		OutputSchema: s.OutputSchema,
	}
}

// ── Sessions ─────────────────────────────────────────────────

// Event is a single entry in a session's append-only log.
type Event struct {
	ID        int64          `json:"id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	TS        string         `json:"ts,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Session is a per-conversation event log. Mutated only by append.
type Session struct {
	ID             string    `json:"session_id"`
	AgentID        string    `json:"agent_id"`
	CreatedAt      time.Time `json:"created_at"`
	Events         []Event   `json:"events"`
	RunningSummary string    `json:"running_summary"`
}

// ── Invoke Request ───────────────────────────────────────────

// InvokeContext carries optional session and inline memory for an invoke.
type InvokeContext struct {
	SessionID string           `json:"session_id,omitempty"`
	Memory    []Event          `json:"memory,omitempty"`
	Knowledge []map[string]any `json:"knowledge,omitempty"`
}

// InvokeRequest is the parsed /invoke body. Ephemeral, request-scoped.
type InvokeRequest struct {
	Input   map[string]any `json:"input"`
	Context *InvokeContext `json:"context,omitempty"`
}

// ── Response Envelope ────────────────────────────────────────

// Meta accompanies every response, success or failure, so callers can trace
// requests without correlating by content.
type Meta struct {
	RequestID       string   `json:"request_id"`
	Agent           string   `json:"agent"`
	Version         string   `json:"version"`
	LatencyMS       *float64 `json:"latency_ms,omitempty"`
	SessionID       string   `json:"session_id,omitempty"`
	MemoryUsedCount *int     `json:"memory_used_count,omitempty"`
}

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

// Envelope is the uniform invoke response: exactly one of Output or Error
// is set.
type Envelope struct {
	Output map[string]any `json:"output,omitempty"`
	Error  *ErrorBody     `json:"error,omitempty"`
	Meta   Meta           `json:"meta"`
}
