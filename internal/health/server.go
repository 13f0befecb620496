// Package health exposes a minimal HTTP endpoint for external
// monitoring: last successful cycle timestamp and per-kind
// consecutive-failure counts.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gamepulse/gamepulse/internal/logger"
	"github.com/gamepulse/gamepulse/internal/scheduler"
)

// Reporter provides the current health snapshot.
type Reporter interface {
	Health() scheduler.HealthSnapshot
}

// Server serves the health endpoint.
type Server struct {
	srv *http.Server
}

// NewServer creates a health server listening on addr.
func NewServer(addr string, reporter Reporter) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(reporter.Health()); err != nil {
			logger.Warn("Failed to encode health response: %v", err)
		}
	})
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server failed: %v", err)
		}
	}()
}

// Shutdown stops the server, waiting up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
