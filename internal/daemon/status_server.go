package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"intake/internal/logging"
)

// statusServer exposes /metrics and the /api control routes on
// paths.metrics_bind.
type statusServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newStatusServer(bind, token string, d *Daemon, logger *slog.Logger) *statusServer {
	bind = strings.TrimSpace(bind)
	if bind == "" || d == nil {
		return nil
	}
	return &statusServer{
		bind:   bind,
		token:  strings.TrimSpace(token),
		logger: logging.NewComponentLogger(logger, "status-server"),
		daemon: d,
	}
}

func (s *statusServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.daemon.deps.Metrics.Handler())
	mux.HandleFunc("/api/status", authMiddleware(s.token, s.handleStatus))
	mux.HandleFunc("/api/reset", authMiddleware(s.token, s.handleReset))
	mux.HandleFunc("/api/rescan", authMiddleware(s.token, s.handleRescan))
	return mux
}

func (s *statusServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener, s.server = listener, server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("status server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, useful when binding port 0.
func (s *statusServer) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *statusServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server := s.server
	s.server, s.listener = nil, nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *statusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

// handleReset clears failure counters so blocked files are picked up again.
func (s *statusServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cleared := s.daemon.ResetFailures()
	s.daemon.Rescan(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *statusServer) handleRescan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.daemon.Rescan(r.Context())
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

func (s *statusServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *statusServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
