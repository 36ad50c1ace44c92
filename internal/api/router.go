package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentgate/agentgate/internal/api/handlers"
	"github.com/agentgate/agentgate/internal/api/middleware"
	"github.com/agentgate/agentgate/internal/config"
)

// NewRouter creates the HTTP router with all gateway routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Active preset surface
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/schema", h.Schema)
	r.Post("/invoke", h.Invoke)
	r.Post("/stream", h.Stream)

	// Registry
	r.Route("/agents", func(r chi.Router) {
		r.Get("/", h.ListAgents)
		r.Post("/register", h.RegisterAgent)
		r.Route("/{agentID}", func(r chi.Router) {
			r.Get("/", h.GetAgent)
			r.Get("/schema", h.GetAgentSchema)
			r.Post("/invoke", h.InvokeAgent)
			r.Post("/stream", h.StreamAgent)
			r.Post("/archive", h.ArchiveAgent)
			r.Post("/unarchive", h.UnarchiveAgent)
		})
	})

	// Session memory
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/events", h.AppendSessionEvents)
		})
	})

	return r
}
