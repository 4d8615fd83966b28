// Package ingest feeds signals into the execution pipeline from its two
// producers: the authenticated webhook endpoint and the periodic
// strategy runner.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proptrader/internal/config"
	"proptrader/internal/executor"
	"proptrader/internal/ledger"
)

// Server runs the ingress HTTP surface: the TradingView webhook
// endpoint, the operator kill switch, a health probe, and the
// Prometheus metrics handler.
type Server struct {
	cfg        config.WebhookConfig
	ledger     *ledger.Store
	executor   *executor.Executor
	throttle   *Throttle
	server     *http.Server
	killSwitch func(context.Context) error
	logger     *slog.Logger
}

// NewServer creates the ingress server.
func NewServer(cfg config.WebhookConfig, st *ledger.Store, exec *executor.Executor, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		ledger:   st,
		executor: exec,
		throttle: NewThrottle(cfg.RateBurst, cfg.RatePerSec),
		logger:   logger.With("component", "ingest"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/webhooks/tradingview/", s.handleWebhook)
	mux.HandleFunc("/api/v1/killswitch", s.handleKillSwitch)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("ingress server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ingress server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping ingress server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// SetKillSwitch installs the operator kill-switch action. Installed by
// the engine after wiring, since the action spans broker and ledger.
func (s *Server) SetKillSwitch(fn func(context.Context) error) {
	s.killSwitch = fn
}

// handleKillSwitch engages the kill switch: all future trades reject,
// open orders are cancelled, and positions are flattened.
//
// POST /api/v1/killswitch
func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed,
			webhookResponse{Status: "error", Message: "Method not allowed"})
		return
	}
	if r.Header.Get("X-API-Token") != s.cfg.AuthToken {
		writeJSON(w, http.StatusUnauthorized,
			webhookResponse{Status: "error", Message: "Unauthorized"})
		return
	}
	if s.killSwitch == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			webhookResponse{Status: "error", Message: "Kill switch not wired"})
		return
	}

	s.logger.Warn("operator kill switch requested", "ip", extractClientIP(r))
	if err := s.killSwitch(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError,
			webhookResponse{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Status: "success", Message: "Kill switch engaged"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
