package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"guildmirror/internal/metrics"
	"guildmirror/internal/models"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes the operational endpoints: liveness and metrics.
type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	registry *metrics.Registry
	server   *http.Server
	cfg      models.ServerConfig
}

func NewServer(cfg models.ServerConfig, registry *metrics.Registry, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		registry: registry,
		cfg:      cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	readTimeout := time.Duration(s.cfg.ReadTimeoutSec) * time.Second

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: readTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Infof("Starting ops server on port %d", s.cfg.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			s.logger.WithError(err).Warn("Failed to write health response")
		}
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(s.registry.Snapshot()); err != nil {
			s.logger.WithError(err).Warn("Failed to write metrics response")
		}
	}
}
