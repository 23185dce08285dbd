// Package statusserver runs the agent's read-only HTTP surface: a liveness
// probe, a JSON snapshot of current strategy state, and the Prometheus
// scrape endpoint. It never accepts a command that could affect quoting;
// all control stays inside the strategy coordinator.
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"etfmm/internal/config"
	"etfmm/internal/metrics"
)

// StatusSnapshot is the payload served at /status. It's provided by the
// coordinator, refreshed after every tick.
type StatusSnapshot struct {
	Positions       map[string]int64   `json:"positions"`
	VWAP            map[string]float64 `json:"vwap"`
	RealizedPnL     float64            `json:"realized_pnl"`
	UnrealizedPnL   float64            `json:"unrealized_pnl"`
	DrawdownPct     float64            `json:"drawdown_pct"`
	MispricingBps   float64            `json:"etf_mispricing_bps"`
	Throttled       bool               `json:"throttled"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// SnapshotProvider is implemented by the strategy coordinator.
type SnapshotProvider interface {
	Status() StatusSnapshot
}

// Server is the status/metrics HTTP server.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// New builds a Server bound to cfg.Port, serving /healthz, /status, and
// /metrics.
func New(cfg config.DashboardConfig, provider SnapshotProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(provider.Status()); err != nil {
			logger.Warn("status encode failed", "error", err)
		}
	})

	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
		logger: logger.With("component", "status-server"),
	}
}

// Start runs the server until it's shut down. Blocks.
func (s *Server) Start() error {
	s.logger.Info("status server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
