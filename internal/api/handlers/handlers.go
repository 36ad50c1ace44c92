// Package handlers implements the HTTP handlers for the agent gateway:
// active-preset routes, the agent registry, and session memory.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/agentgate/agentgate/internal/auth"
	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/engine"
	"github.com/agentgate/agentgate/internal/registry"
	"github.com/agentgate/agentgate/internal/sessions"
	"github.com/agentgate/agentgate/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Registry registry.Store
	Sessions sessions.Store
	Engine   *engine.Engine
	Auth     *auth.Verifier
	Cfg      *config.Config
}

// New creates a Handlers instance with all dependencies.
func New(reg registry.Store, sess sessions.Store, eng *engine.Engine, cfg *config.Config) *Handlers {
	return &Handlers{
		Registry: reg,
		Sessions: sess,
		Engine:   eng,
		Auth:     auth.NewVerifier(cfg.AuthToken),
		Cfg:      cfg,
	}
}

// ── Active preset routes ─────────────────────────────────────

func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	spec, err := h.activeSpec(r)
	if err != nil {
		h.respondError(r, w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "agent-gateway",
		"agent":   spec.ID,
		"version": spec.Version,
		"schema":  "/schema",
		"health":  "/health",
	})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	spec, err := h.activeSpec(r)
	if err != nil {
		h.respondError(r, w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"agent":    spec.ID,
		"version":  spec.Version,
		"provider": h.Engine.ProviderName(),
	})
}

func (h *Handlers) Schema(w http.ResponseWriter, r *http.Request) {
	spec, err := h.activeSpec(r)
	if err != nil {
		h.respondError(r, w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, spec.Schema())
}

func (h *Handlers) Invoke(w http.ResponseWriter, r *http.Request) {
	spec, err := h.activeSpec(r)
	if err != nil {
		h.respondError(r, w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}
	h.invokeSpec(w, r, spec)
}

func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	spec, _ := h.activeSpec(r)
	h.streamNotImplemented(w, r, spec)
}

// ── Registry routes ──────────────────────────────────────────

func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.respondError(r, w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid Authorization header", nil)
		return
	}
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondError(r, w, http.StatusBadRequest, "MALFORMED_REQUEST", "Request body must be valid JSON", nil)
		return
	}
	rawSpec, ok := payload["spec"]
	if !ok {
		h.respondError(r, w, http.StatusBadRequest, "AGENT_SPEC_INVALID", "Missing 'spec' field", nil)
		return
	}

	var specObj map[string]any
	switch v := rawSpec.(type) {
	case string:
		if err := yaml.Unmarshal([]byte(v), &specObj); err != nil {
			h.respondError(r, w, http.StatusBadRequest, "AGENT_SPEC_INVALID", "Spec must be valid YAML",
				map[string]any{"message": err.Error()})
			return
		}
	case map[string]any:
		specObj = v
	default:
		h.respondError(r, w, http.StatusBadRequest, "AGENT_SPEC_INVALID", "Spec must be a YAML string or JSON object", nil)
		return
	}

	id, version, err := h.Registry.Register(r.Context(), specObj)
	if err != nil {
		var invalid *registry.ErrSpecInvalid
		var exists *registry.ErrVersionExists
		switch {
		case errors.As(err, &invalid):
			h.respondError(r, w, http.StatusBadRequest, "AGENT_SPEC_INVALID", invalid.Message, invalid.Details)
		case errors.As(err, &exists):
			h.respondError(r, w, http.StatusConflict, "AGENT_VERSION_EXISTS", exists.Error(), nil)
		default:
			log.Error().Err(err).Msg("register agent failed")
			h.respondError(r, w, http.StatusInternalServerError, "REGISTRY_ERROR", "Failed to register agent",
				map[string]any{"message": err.Error()})
		}
		return
	}

	log.Info().Str("agent", id).Str("version", version).Msg("agent registered")
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"agent_id": id,
		"version":  version,
		"status":   "registered",
	})
}

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := registry.ListFilter{
		Query:           q.Get("q"),
		Primitive:       q.Get("primitive"),
		SupportsMemory:  parseBool(q.Get("supports_memory")),
		LatestOnly:      boolOr(parseBool(q.Get("latest_only")), true),
		IncludeArchived: boolOr(parseBool(q.Get("include_archived")), false),
	}
	agents, err := h.Registry.List(r.Context(), filter)
	if err != nil {
		h.respondError(r, w, http.StatusInternalServerError, "REGISTRY_ERROR", "Failed to list agents",
			map[string]any{"message": err.Error()})
		return
	}
	if agents == nil {
		agents = []models.AgentSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	spec, err := h.Registry.Get(r.Context(), agentID, r.URL.Query().Get("version"))
	if err != nil {
		h.respondRegistryError(r, w, agentID, err)
		return
	}
	respondJSON(w, http.StatusOK, spec)
}

func (h *Handlers) GetAgentSchema(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	spec, err := h.Registry.Get(r.Context(), agentID, r.URL.Query().Get("version"))
	if err != nil {
		h.respondRegistryError(r, w, agentID, err)
		return
	}
	respondJSON(w, http.StatusOK, spec.Schema())
}

func (h *Handlers) InvokeAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	spec, err := h.Registry.Get(r.Context(), agentID, r.URL.Query().Get("version"))
	if err != nil {
		h.respondRegistryError(r, w, agentID, err)
		return
	}
	h.invokeSpec(w, r, spec)
}

func (h *Handlers) StreamAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	spec, _ := h.Registry.Get(r.Context(), agentID, r.URL.Query().Get("version"))
	h.streamNotImplemented(w, r, spec)
}

func (h *Handlers) ArchiveAgent(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, true)
}

func (h *Handlers) UnarchiveAgent(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, false)
}

func (h *Handlers) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	if !h.authorized(r) {
		h.respondError(r, w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid Authorization header", nil)
		return
	}
	agentID := chi.URLParam(r, "agentID")
	version := r.URL.Query().Get("version")

	var err error
	if archived {
		err = h.Registry.Archive(r.Context(), agentID, version)
	} else {
		err = h.Registry.Unarchive(r.Context(), agentID, version)
	}
	if err != nil {
		h.respondRegistryError(r, w, agentID, err)
		return
	}

	status := "archived"
	if !archived {
		status = "active"
	}
	log.Info().Str("agent", agentID).Str("version", version).Str("status", status).Msg("agent archive state changed")
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"agent_id": agentID,
		"version":  version,
		"status":   status,
	})
}

// ── Session routes ───────────────────────────────────────────

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	agentID := ""
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		if id, ok := body["agent_id"].(string); ok {
			agentID = id
		}
	}
	if agentID == "" {
		spec, err := h.activeSpec(r)
		if err != nil {
			h.respondError(r, w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
			return
		}
		agentID = spec.ID
	}

	sess, err := h.Sessions.Create(r.Context(), agentID)
	if err != nil {
		h.respondError(r, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create session",
			map[string]any{"message": err.Error()})
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"session_id": sess.ID})
}

func (h *Handlers) AppendSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body struct {
		Events []models.Event `json:"events"`
	}
	data, err := io.ReadAll(r.Body)
	if err != nil || json.Unmarshal(data, &body) != nil {
		h.respondError(r, w, http.StatusBadRequest, "MALFORMED_REQUEST", "Request body must be valid JSON", nil)
		return
	}
	if body.Events == nil {
		h.respondError(r, w, http.StatusBadRequest, "MALFORMED_REQUEST", "Request body must include 'events' array",
			[]map[string]any{{"message": "Missing 'events' field"}})
		return
	}

	if err := h.Sessions.AppendEvents(r.Context(), sessionID, body.Events); err != nil {
		var notFound *sessions.ErrNotFound
		if errors.As(err, &notFound) {
			h.respondError(r, w, http.StatusNotFound, "NOT_FOUND", notFound.Error(), nil)
			return
		}
		h.respondError(r, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to append events",
			map[string]any{"message": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"session_id": sessionID,
		"appended":   len(body.Events),
	})
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		var notFound *sessions.ErrNotFound
		if errors.As(err, &notFound) {
			h.respondError(r, w, http.StatusNotFound, "NOT_FOUND", notFound.Error(), nil)
			return
		}
		h.respondError(r, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load session",
			map[string]any{"message": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// ── Shared helpers ───────────────────────────────────────────

// invokeSpec enforces auth, reads the body, and hands off to the engine.
func (h *Handlers) invokeSpec(w http.ResponseWriter, r *http.Request, spec *models.AgentSpec) {
	if !h.authorized(r) {
		respondJSON(w, http.StatusUnauthorized, &models.Envelope{
			Error: &models.ErrorBody{Code: "UNAUTHORIZED", Message: "Missing or invalid Authorization header"},
			Meta:  models.Meta{RequestID: uuid.NewString(), Agent: spec.ID, Version: spec.Version},
		})
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, &models.Envelope{
			Error: &models.ErrorBody{Code: "MALFORMED_REQUEST", Message: "Failed to read request body"},
			Meta:  models.Meta{RequestID: uuid.NewString(), Agent: spec.ID, Version: spec.Version},
		})
		return
	}
	status, envelope := h.Engine.Invoke(r.Context(), spec, body)
	respondJSON(w, status, envelope)
}

// streamNotImplemented answers the streaming routes: auth still applies, then
// a NOT_IMPLEMENTED envelope.
func (h *Handlers) streamNotImplemented(w http.ResponseWriter, r *http.Request, spec *models.AgentSpec) {
	agent, version := "unknown", "unknown"
	if spec != nil {
		agent, version = spec.ID, spec.Version
	}
	meta := models.Meta{RequestID: uuid.NewString(), Agent: agent, Version: version}
	if !h.authorized(r) {
		respondJSON(w, http.StatusUnauthorized, &models.Envelope{
			Error: &models.ErrorBody{Code: "UNAUTHORIZED", Message: "Missing or invalid Authorization header"},
			Meta:  meta,
		})
		return
	}
	respondJSON(w, http.StatusNotImplemented, &models.Envelope{
		Error: &models.ErrorBody{Code: "NOT_IMPLEMENTED", Message: "Streaming endpoint is not implemented"},
		Meta:  meta,
	})
}

func (h *Handlers) authorized(r *http.Request) bool {
	return h.Auth.Allow(r)
}

// activeSpec resolves the configured preset from the registry.
func (h *Handlers) activeSpec(r *http.Request) (*models.AgentSpec, error) {
	return h.Registry.Get(r.Context(), h.Cfg.ActivePreset, "")
}

// respondError writes an error envelope. Meta carries the active agent's
// identity when it resolves, "unknown" otherwise.
func (h *Handlers) respondError(r *http.Request, w http.ResponseWriter, status int, code, message string, details any) {
	agent, version := "unknown", "unknown"
	if spec, err := h.activeSpec(r); err == nil {
		agent, version = spec.ID, spec.Version
	}
	respondJSON(w, status, &models.Envelope{
		Error: &models.ErrorBody{Code: code, Message: message, Details: details},
		Meta:  models.Meta{RequestID: uuid.NewString(), Agent: agent, Version: version},
	})
}

// respondRegistryError maps registry lookup failures to envelope responses.
func (h *Handlers) respondRegistryError(r *http.Request, w http.ResponseWriter, agentID string, err error) {
	var notFound *registry.ErrNotFound
	if errors.As(err, &notFound) {
		h.respondError(r, w, http.StatusNotFound, "AGENT_NOT_FOUND", "Agent not found: "+agentID, nil)
		return
	}
	h.respondError(r, w, http.StatusInternalServerError, "REGISTRY_ERROR", "Registry lookup failed",
		map[string]any{"message": err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func parseBool(v string) *bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		b := true
		return &b
	case "false", "0", "no":
		b := false
		return &b
	}
	return nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
