package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentgate/agentgate/internal/api"
	"github.com/agentgate/agentgate/internal/api/handlers"
	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/engine"
	"github.com/agentgate/agentgate/internal/provider"
	"github.com/agentgate/agentgate/internal/registry"
	"github.com/agentgate/agentgate/internal/sessions"
)

func summarizerSpec() map[string]any {
	return map[string]any{
		"id":              "summarizer",
		"version":         "1.0.0",
		"name":            "Summarizer",
		"description":     "Summarizes text",
		"primitive":       "transform",
		"prompt":          "Summarize the input text.",
		"supports_memory": true,
		"input_schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
		"output_schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{"type": "string"},
				"bullets": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required": []any{"summary", "bullets"},
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{ActivePreset: "summarizer", CORSOrigins: []string{"*"}}
	}
	reg := registry.NewMemoryStore()
	if _, _, err := reg.Register(context.Background(), summarizerSpec()); err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	sess := sessions.NewMemoryStore()
	eng := engine.New(sess, provider.NewStub())
	h := handlers.New(reg, sess, eng, cfg)

	srv := httptest.NewServer(api.NewRouter(cfg, h))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthReportsActiveAgent(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "ok" || body["agent"] != "summarizer" || body["version"] != "1.0.0" {
		t.Errorf("health body: %v", body)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, _ := http.Get(srv.URL + "/schema")
	body := decodeBody(t, resp)
	if body["agent"] != "summarizer" || body["primitive"] != "transform" {
		t.Errorf("schema body: %v", body)
	}
	if _, ok := body["input_schema"]; !ok {
		t.Error("schema body missing input_schema")
	}
	if _, ok := body["output_schema"]; !ok {
		t.Error("schema body missing output_schema")
	}
}

func TestInvokeWithStubProvider(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/invoke", map[string]any{
		"input": map[string]any{"text": "a long paragraph"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	output, _ := body["output"].(map[string]any)
	if output["summary"] != "stub summary" {
		t.Errorf("output: %v", output)
	}
	meta, _ := body["meta"].(map[string]any)
	if meta["agent"] != "summarizer" || meta["request_id"] == "" {
		t.Errorf("meta: %v", meta)
	}
	if _, ok := meta["latency_ms"]; !ok {
		t.Error("meta missing latency_ms")
	}
}

func TestInvokeRequiresAuthWhenConfigured(t *testing.T) {
	cfg := &config.Config{ActivePreset: "summarizer", CORSOrigins: []string{"*"}, AuthToken: "sekrit"}
	srv := newTestServer(t, cfg)

	resp := postJSON(t, srv.URL+"/invoke", map[string]any{
		"input": map[string]any{"text": "x"},
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	errBody, _ := body["error"].(map[string]any)
	if errBody["code"] != "UNAUTHORIZED" {
		t.Errorf("error: %v", errBody)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/invoke",
		bytes.NewReader([]byte(`{"input": {"text": "x"}}`)))
	req.Header.Set("Authorization", "Bearer sekrit")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authorized POST: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("status with token: got %d", resp2.StatusCode)
	}
}

func TestStreamNotImplemented(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/stream", map[string]any{})
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	errBody, _ := body["error"].(map[string]any)
	if errBody["code"] != "NOT_IMPLEMENTED" {
		t.Errorf("error: %v", errBody)
	}
	meta, _ := body["meta"].(map[string]any)
	if meta["agent"] != "summarizer" || meta["request_id"] == "" {
		t.Errorf("meta: %v", meta)
	}
}

func TestRegisterListAndGetAgent(t *testing.T) {
	srv := newTestServer(t, nil)

	spec := summarizerSpec()
	spec["id"] = "echo"
	resp := postJSON(t, srv.URL+"/agents/register", map[string]any{"spec": spec})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["ok"] != true || body["agent_id"] != "echo" || body["status"] != "registered" {
		t.Errorf("register body: %v", body)
	}

	// Duplicate (id, version) conflicts.
	resp = postJSON(t, srv.URL+"/agents/register", map[string]any{"spec": summarizerSpec()})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate register status: got %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	errBody, _ := body["error"].(map[string]any)
	if errBody["code"] != "AGENT_VERSION_EXISTS" {
		t.Errorf("duplicate error: %v", errBody)
	}

	// Invalid spec is rejected with structured code.
	bad := summarizerSpec()
	bad["primitive"] = "conjure"
	bad["id"] = "badagent"
	resp = postJSON(t, srv.URL+"/agents/register", map[string]any{"spec": bad})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid register status: got %d", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/agents")
	body = decodeBody(t, resp)
	agents, _ := body["agents"].([]any)
	if len(agents) != 2 {
		t.Errorf("expected 2 agents in listing, got %d", len(agents))
	}

	resp, _ = http.Get(srv.URL + "/agents/echo")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get agent status: got %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	if body["id"] != "echo" || body["prompt"] == "" {
		t.Errorf("agent body: %v", body)
	}
}

func TestRegisterAgentFromYAMLString(t *testing.T) {
	srv := newTestServer(t, nil)

	specYAML := `
id: yamlagent
version: 1.0.0
name: YAML Agent
description: Registered from a YAML string
primitive: transform
prompt: Do it.
input_schema:
  type: object
  properties:
    text:
      type: string
output_schema:
  type: object
  properties:
    summary:
      type: string
`
	resp := postJSON(t, srv.URL+"/agents/register", map[string]any{"spec": specYAML})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["agent_id"] != "yamlagent" {
		t.Errorf("register body: %v", body)
	}
}

func TestUnknownAgentReturns404Envelope(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, _ := http.Get(srv.URL + "/agents/ghost")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	errBody, _ := body["error"].(map[string]any)
	if errBody["code"] != "AGENT_NOT_FOUND" {
		t.Errorf("error: %v", errBody)
	}
}

func TestInvokeRegisteredAgentByID(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/agents/summarizer/invoke", map[string]any{
		"input": map[string]any{"text": "hello"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if _, ok := body["output"]; !ok {
		t.Errorf("invoke body: %v", body)
	}
}

func TestArchiveHidesAgentFromLatest(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/agents/summarizer/archive", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("archive status: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["ok"] != true || body["status"] != "archived" {
		t.Errorf("archive body: %v", body)
	}

	resp, _ = http.Get(srv.URL + "/agents/summarizer")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("archived agent should not resolve as latest, got %d", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/agents/summarizer/unarchive", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unarchive status: got %d", resp.StatusCode)
	}
	resp, _ = http.Get(srv.URL + "/agents/summarizer")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unarchived agent should resolve again, got %d", resp.StatusCode)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/sessions", map[string]any{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatal("session_id missing from create response")
	}

	resp = postJSON(t, srv.URL+"/sessions/"+sessionID+"/events", map[string]any{
		"events": []map[string]any{
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("append status: got %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	if body["appended"] != float64(2) {
		t.Errorf("append body: %v", body)
	}

	resp, _ = http.Get(srv.URL + "/sessions/" + sessionID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get session status: got %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	events, _ := body["events"].([]any)
	if len(events) != 2 {
		t.Errorf("session events: %v", body)
	}

	// Invoke with the session merges its history and appends the turn.
	resp = postJSON(t, srv.URL+"/invoke", map[string]any{
		"input":   map[string]any{"text": "next turn"},
		"context": map[string]any{"session_id": sessionID},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invoke with session status: got %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	meta, _ := body["meta"].(map[string]any)
	if meta["session_id"] != sessionID {
		t.Errorf("meta session id: %v", meta)
	}
	if meta["memory_used_count"] != float64(2) {
		t.Errorf("memory used count: %v", meta["memory_used_count"])
	}

	resp, _ = http.Get(srv.URL + "/sessions/" + sessionID)
	body = decodeBody(t, resp)
	events, _ = body["events"].([]any)
	if len(events) != 4 {
		t.Errorf("expected 4 events after invoke, got %d", len(events))
	}
}

func TestAppendEventsToUnknownSession(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/sessions/ghost/events", map[string]any{
		"events": []map[string]any{{"role": "user", "content": "x"}},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	errBody, _ := body["error"].(map[string]any)
	if errBody["code"] != "NOT_FOUND" {
		t.Errorf("error: %v", errBody)
	}
}
