// Package server is the composition root for the agent gateway: it wires
// configuration, stores, the provider, the invoke engine, and the HTTP
// router into a ready-to-serve handler.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/agentgate/agentgate/internal/api"
	"github.com/agentgate/agentgate/internal/api/handlers"
	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/engine"
	"github.com/agentgate/agentgate/internal/provider"
	"github.com/agentgate/agentgate/internal/registry"
	"github.com/agentgate/agentgate/internal/sessions"
	"github.com/agentgate/agentgate/internal/telemetry"
)

// Server holds the initialized gateway.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Registry and Sessions back the HTTP surface; exposed for embedding
	// the gateway in other processes and for tests.
	Registry registry.Store
	Sessions sessions.Store

	// Config is the resolved configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New initializes the gateway from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the gateway with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var reg registry.Store
	var sess sessions.Store
	if cfg.Storage.Path != "" {
		reg, err = registry.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open registry store: %w", err)
		}
		sess, err = sessions.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		log.Info().Str("path", cfg.Storage.Path).Msg("SQLite stores initialized")
	} else {
		reg = registry.NewMemoryStore()
		sess = sessions.NewMemoryStore()
		log.Info().Msg("In-memory stores initialized")
	}

	if err := registry.Seed(ctx, reg, cfg.PresetsDir); err != nil {
		return nil, fmt.Errorf("seed presets: %w", err)
	}

	prov := provider.New(cfg.Provider)
	log.Info().Str("provider", prov.Name()).Msg("Provider initialized")

	eng := engine.New(sess, prov)
	h := handlers.New(reg, sess, eng, cfg)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Registry:     reg,
		Sessions:     sess,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// Close releases store resources.
func (s *Server) Close() {
	if err := s.Registry.Close(); err != nil {
		log.Warn().Err(err).Msg("registry close failed")
	}
	if err := s.Sessions.Close(); err != nil {
		log.Warn().Err(err).Msg("session store close failed")
	}
}
