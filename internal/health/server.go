// Package health exposes a lightweight HTTP health endpoint for container probes.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"tg_ocr_bot/internal/logging"
)

const (
	historyPingTimeout = 2 * time.Second
	readHeaderTimeout  = 2 * time.Second
	healthListenPrefix = ":"
)

// HistoryChecker defines the subset of the history store needed for health.
type HistoryChecker interface {
	Ping(ctx context.Context) error
}

// Server hosts the health endpoint and owns the underlying HTTP server.
type Server struct {
	server         *http.Server
	logger         *logrus.Entry
	historyChecker HistoryChecker
}

type response struct {
	Status  string `json:"status"`
	History string `json:"history,omitempty"`
}

// NewServer constructs a health server that exposes GET /healthz on the
// provided port. historyChecker may be nil when the processing history is
// disabled.
func NewServer(port int, historyChecker HistoryChecker, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger:         logger,
		historyChecker: historyChecker,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", healthListenPrefix, port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("event", "health_stopped").Info("health server stopped")
			return nil
		}

		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok"}
	statusCode := http.StatusOK

	ctx := r.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if s.historyChecker != nil {
		pingCtx, cancel := context.WithTimeout(ctx, historyPingTimeout)
		defer cancel()

		if err := s.historyChecker.Ping(pingCtx); err != nil {
			s.logger.WithError(err).WithField("event", "health_history_failed").Warn("history store ping failed")
			resp.Status = "degraded"
			resp.History = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			resp.History = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithError(err).WithField("event", "health_encode_failed").Error("failed to encode health response")
	}
}
