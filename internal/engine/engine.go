// Package engine runs the invoke pipeline: request parsing, memory merge,
// input validation, prompt execution with a single bounded repair attempt,
// output validation, and session persistence.
package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentgate/agentgate/internal/provider"
	"github.com/agentgate/agentgate/internal/schema"
	"github.com/agentgate/agentgate/internal/sessions"
	"github.com/agentgate/agentgate/pkg/models"
)

// Session content caps for events appended after a successful invoke.
const (
	maxUserEventChars      = 500
	maxAssistantEventChars = 2000
)

// Engine executes invokes against resolved agent specs. Stateless between
// requests; safe for concurrent use.
type Engine struct {
	sessions sessions.Store
	provider provider.Provider
}

// New builds an engine over the given session store and provider.
func New(sessionStore sessions.Store, prov provider.Provider) *Engine {
	return &Engine{sessions: sessionStore, provider: prov}
}

// ProviderName reports the active backend, for health output.
func (e *Engine) ProviderName() string { return e.provider.Name() }

// invokeError carries a pipeline failure to the envelope builder.
type invokeError struct {
	status  int
	code    string
	message string
	details any
}

func (e *invokeError) Error() string { return e.message }

// Invoke runs the full pipeline over a raw request body and returns the HTTP
// status plus the response envelope. Every response, success or failure,
// carries meta with a fresh request id.
func (e *Engine) Invoke(ctx context.Context, spec *models.AgentSpec, body []byte) (int, *models.Envelope) {
	requestID := uuid.NewString()
	start := time.Now()

	output, sessionID, memoryUsed, err := e.run(ctx, spec, body)
	latency := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		ie, ok := err.(*invokeError)
		if !ok {
			ie = &invokeError{status: http.StatusInternalServerError, code: "INTERNAL_ERROR", message: "internal error"}
		}
		log.Warn().
			Str("request_id", requestID).
			Str("agent", spec.ID).
			Str("version", spec.Version).
			Str("code", ie.code).
			Int("status", ie.status).
			Float64("latency_ms", latency).
			Msg("invoke failed")
		return ie.status, &models.Envelope{
			Error: &models.ErrorBody{Code: ie.code, Message: ie.message, Details: ie.details},
			Meta:  models.Meta{RequestID: requestID, Agent: spec.ID, Version: spec.Version},
		}
	}

	meta := models.Meta{
		RequestID: requestID,
		Agent:     spec.ID,
		Version:   spec.Version,
		LatencyMS: &latency,
	}
	if sessionID != "" {
		meta.SessionID = sessionID
		meta.MemoryUsedCount = &memoryUsed
	}
	log.Info().
		Str("request_id", requestID).
		Str("agent", spec.ID).
		Str("version", spec.Version).
		Str("provider", e.provider.Name()).
		Float64("latency_ms", latency).
		Msg("invoke ok")
	return http.StatusOK, &models.Envelope{Output: output, Meta: meta}
}

func (e *Engine) run(ctx context.Context, spec *models.AgentSpec, body []byte) (output map[string]any, sessionID string, memoryUsed int, err error) {
	var payload map[string]any
	if jsonErr := json.Unmarshal(body, &payload); jsonErr != nil {
		return nil, "", 0, &invokeError{
			status:  http.StatusBadRequest,
			code:    "MALFORMED_REQUEST",
			message: "Request body must be valid JSON",
			details: map[string]any{"message": jsonErr.Error()},
		}
	}
	rawInput, ok := payload["input"]
	if !ok {
		return nil, "", 0, &invokeError{
			status:  http.StatusUnprocessableEntity,
			code:    "INPUT_VALIDATION_ERROR",
			message: "Request body must have top-level 'input' object",
			details: []schema.ValidationError{{Path: "", Message: "Missing 'input' field"}},
		}
	}
	input, _ := rawInput.(map[string]any)
	if input == nil {
		input = map[string]any{}
	}

	reqCtx := parseContext(payload["context"])

	// Resolve stored session events, merge inline memory, apply the policy.
	var memory []models.Event
	var knowledge []map[string]any
	if reqCtx != nil {
		knowledge = reqCtx.Knowledge
		if reqCtx.SessionID != "" || len(reqCtx.Memory) > 0 {
			var stored []models.Event
			if reqCtx.SessionID != "" {
				sessionID = reqCtx.SessionID
				sess, sessErr := e.sessions.Get(ctx, reqCtx.SessionID)
				if sessErr != nil {
					log.Warn().Str("session_id", reqCtx.SessionID).Msg("session not found, using empty history")
				} else {
					stored = sess.Events
				}
			}
			policy := models.DefaultMemoryPolicy()
			if spec.MemoryPolicy != nil {
				policy = *spec.MemoryPolicy
			}
			memory = mergeMemory(stored, reqCtx.Memory, policy)
			memoryUsed = len(memory)
		}
	}

	// Input validation against the spec's schema.
	inputErrs, valErr := schema.Validate(rawInput, spec.InputSchema)
	if valErr != nil {
		return nil, "", 0, &invokeError{status: http.StatusInternalServerError, code: "INTERNAL_ERROR", message: valErr.Error()}
	}
	if len(inputErrs) > 0 {
		return nil, "", 0, &invokeError{
			status:  http.StatusUnprocessableEntity,
			code:    "INPUT_VALIDATION_ERROR",
			message: "Input failed validation against agent input_schema",
			details: inputErrs,
		}
	}

	// Primary provider call.
	prompt := buildPrompt(spec, input, memory, knowledge)
	result, provErr := e.provider.Complete(ctx, prompt, spec.OutputSchema)
	if provErr != nil {
		return nil, "", 0, &invokeError{
			status:  http.StatusInternalServerError,
			code:    "INTERNAL_ERROR",
			message: "Provider failure",
			details: map[string]any{"message": provErr.Error()},
		}
	}

	output, repairErr := e.validateWithRepair(ctx, spec, result)
	if repairErr != nil {
		return nil, "", 0, repairErr
	}
	output = postprocessOutput(spec, input, output)

	// Session append is best-effort: a storage failure is logged, the invoke
	// still succeeds.
	if sessionID != "" && spec.SupportsMemory {
		e.appendInvokeEvents(ctx, sessionID, spec, input, result.RawText, output)
	}
	return output, sessionID, memoryUsed, nil
}

// validateWithRepair validates provider output against the output schema,
// performing at most one repair round trip. The provider is therefore called
// at most twice per invoke.
func (e *Engine) validateWithRepair(ctx context.Context, spec *models.AgentSpec, result provider.Result) (map[string]any, *invokeError) {
	parsed := parseResult(result)
	errs, err := schema.Validate(parsed, spec.OutputSchema)
	if err != nil {
		return nil, &invokeError{status: http.StatusInternalServerError, code: "INTERNAL_ERROR", message: err.Error()}
	}
	if len(errs) == 0 {
		return parsed, nil
	}

	repaired, provErr := e.provider.Complete(ctx, repairPrompt(spec, result.RawText, errs), spec.OutputSchema)
	if provErr != nil {
		return nil, &invokeError{
			status:  http.StatusInternalServerError,
			code:    "INTERNAL_ERROR",
			message: "Provider failure",
			details: map[string]any{"message": provErr.Error()},
		}
	}
	parsed = parseResult(repaired)
	errs, err = schema.Validate(parsed, spec.OutputSchema)
	if err != nil {
		return nil, &invokeError{status: http.StatusInternalServerError, code: "INTERNAL_ERROR", message: err.Error()}
	}
	if len(errs) == 0 {
		return parsed, nil
	}
	return nil, &invokeError{
		status:  http.StatusUnprocessableEntity,
		code:    "OUTPUT_VALIDATION_ERROR",
		message: "Provider output did not validate against output_schema after one repair attempt",
		details: errs,
	}
}

// parseResult yields the structured output, falling back to an empty object
// when the raw text cannot be parsed; validation then reports the mismatch.
func parseResult(result provider.Result) map[string]any {
	if result.Parsed != nil {
		return result.Parsed
	}
	parsed, err := provider.ParseObject(result.RawText)
	if err != nil {
		return map[string]any{}
	}
	return parsed
}

// parseContext tolerantly decodes the optional context object. Invalid
// shapes are ignored rather than rejected.
func parseContext(raw any) *models.InvokeContext {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	c := &models.InvokeContext{}
	if sid, ok := m["session_id"].(string); ok {
		c.SessionID = sid
	}
	if mem, ok := m["memory"].([]any); ok {
		for _, item := range mem {
			em, ok := item.(map[string]any)
			if !ok {
				continue
			}
			ev := models.Event{Role: "user"}
			if role, ok := em["role"].(string); ok && role != "" {
				ev.Role = role
			}
			if content, ok := em["content"].(string); ok {
				ev.Content = content
			}
			c.Memory = append(c.Memory, ev)
		}
	}
	if kn, ok := m["knowledge"].([]any); ok {
		for _, item := range kn {
			if km, ok := item.(map[string]any); ok {
				c.Knowledge = append(c.Knowledge, km)
			}
		}
	}
	return c
}

// mergeMemory combines stored session events (first) with inline context
// memory (second), then bounds the result: last max_messages by recency,
// then a max_chars budget consumed newest-first.
func mergeMemory(stored, inline []models.Event, policy models.MemoryPolicy) []models.Event {
	combined := make([]models.Event, 0, len(stored)+len(inline))
	for _, e := range append(append([]models.Event{}, stored...), inline...) {
		role := e.Role
		if role == "" {
			role = "user"
		}
		combined = append(combined, models.Event{Role: role, Content: e.Content})
	}
	if n := policy.MaxMessages; n > 0 && len(combined) > n {
		combined = combined[len(combined)-n:]
	}
	if policy.MaxChars > 0 {
		total := 0
		kept := 0
		for i := len(combined) - 1; i >= 0; i-- {
			total += len(combined[i].Content)
			if total > policy.MaxChars {
				break
			}
			kept++
		}
		combined = combined[len(combined)-kept:]
	}
	return combined
}

// postprocessOutput applies contract-level fixups the schema alone does not
// enforce. For extract agents, every field the caller asked for appears in
// output.data even when the model omitted it.
func postprocessOutput(spec *models.AgentSpec, input, output map[string]any) map[string]any {
	if spec.Primitive != models.PrimitiveExtract || output == nil {
		return output
	}
	fields, ok := input["schema"].(map[string]any)
	if !ok {
		return output
	}
	data, ok := output["data"].(map[string]any)
	if !ok {
		data = map[string]any{}
		output["data"] = data
	}
	for name := range fields {
		if _, present := data[name]; !present {
			data[name] = ""
		}
	}
	return output
}

func (e *Engine) appendInvokeEvents(ctx context.Context, sessionID string, spec *models.AgentSpec, input map[string]any, rawText string, output map[string]any) {
	userContent := "invoke"
	if len(input) > 0 {
		if data, err := json.Marshal(input); err == nil {
			userContent = truncate(string(data), maxUserEventChars)
		}
	}
	assistantContent := rawText
	if assistantContent == "" {
		if data, err := json.Marshal(output); err == nil {
			assistantContent = string(data)
		}
	}
	assistantContent = truncate(assistantContent, maxAssistantEventChars)

	err := e.sessions.AppendEvents(ctx, sessionID, []models.Event{
		{Role: "user", Content: userContent, Meta: map[string]any{"input": input, "agent": spec.ID}},
		{Role: "assistant", Content: assistantContent, Meta: map[string]any{"output": output}},
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("session append failed")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
