// Delta ETF/basket market maker — a single-process quoting agent for a
// fixed four-symbol universe (one ETF plus its three basket constituents)
// on the competition's Delta Exchange gateway.
//
// Architecture:
//
//	main.go                        — entry point: loads config, wires transports, runs until SIGINT/SIGTERM
//	internal/config/config.go      — compile-time tunables layered with YAML + DELTA_*-prefixed env overrides
//	internal/quote/engine.go       — pure ladder construction: fair value + skew -> bid/ask rungs
//	internal/risk/engine.go        — pure PnL accounting, drawdown-response curve
//	internal/ladder/manager.go     — reconciles desired ladders against live orders under a shared rate budget
//	internal/strategy/coordinator.go — tick loop: refresh books, compute mispricing, quote, ingest fills
//	internal/transport/gateway.go  — binary TCP client for the order gateway
//	internal/transport/marketdata.go — HTTP client for order-book snapshots
//	internal/statusserver/server.go — read-only /healthz, /status, /metrics
//
// There are no subcommands and no flags: one config file (or its
// environment overrides) fully determines behavior.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"etfmm/internal/config"
	"etfmm/internal/ladder"
	"etfmm/internal/statusserver"
	"etfmm/internal/strategy"
	"etfmm/internal/transport"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("DELTA_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	runID := uuid.NewString()
	logger := newLogger(cfg.Logging).With("run_id", runID)

	token, err := transport.ResolveTeamToken(cfg.Gateway.TeamToken)
	if err != nil {
		logger.Error("failed to resolve team token", "error", err)
		os.Exit(1)
	}
	cfg.Gateway.TeamToken = token

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, err := transport.DialGateway(ctx, cfg.Gateway.Host, cfg.Gateway.GatewayPort, logger)
	if err != nil {
		logger.Error("failed to connect to gateway", "error", err)
		os.Exit(1)
	}
	defer gateway.Close()

	snapshots := transport.NewSnapshotClient(cfg.Gateway.SnapshotHost)

	orderManager := ladder.NewManager(gateway, config.AllSymbols, logger)
	coordinator := strategy.NewCoordinator(snapshots, orderManager, config.DefaultSymbolConfigs, logger)
	gateway.SubscribeFills(coordinator.RegisterFill)

	var statusSrv *statusserver.Server
	if cfg.Dashboard.Enabled {
		statusSrv = statusserver.New(cfg.Dashboard, coordinator, logger)
		go func() {
			if err := statusSrv.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		logger.Info("status server started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — orders will be logged but not sent")
	}

	logger.Info("delta market maker started",
		"symbols", config.AllSymbols,
		"max_position", config.Limits.MaxPosition,
		"max_dollar_exposure", config.Limits.MaxDollarExposure,
		"dry_run", cfg.DryRun,
	)

	runErr := make(chan error, 1)
	go func() { runErr <- coordinator.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-runErr:
		if err != nil {
			logger.Error("strategy loop exited", "error", err)
		}
	}

	if statusSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := statusSrv.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop status server", "error", err)
		}
		cancel()
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := coordinator.CancelAll(cancelCtx); err != nil {
		logger.Error("failed to cancel all on shutdown", "error", err)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
