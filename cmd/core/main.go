// Proptrader — the trade execution core of a multi-account automated
// trading system.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires ingress → risk → executor → ledger, manages goroutines
//	ingest/webhook.go    — authenticated TradingView webhook ingress with per-source throttling
//	ingest/runner.go     — periodic strategy runner over recent OHLCV bars
//	risk/gate.go         — ordered pre-trade check pipeline (kill switch first, cost basis last)
//	allocator/           — expectancy-weighted capital allocation + Kelly sizing
//	strategy/            — pluggable strategies: momentum breakout, mean reversion, sector rotation, smart DCA
//	executor/            — block order routing, equity-weighted fill proration, cost basis & P&L
//	broker/              — REST client, institutional routing tags, trade_updates stream
//	ledger/              — append-only SQLite trade ledger with derived account state
//	account/             — prop-firm evaluation state machine and EOD reporting
//
// How it trades:
//
//	Signals arrive from TradingView webhooks or the internal strategy
//	runner. Each signal passes an eight-stage risk gate per linked
//	prop-firm account, survivors are aggregated into a single block
//	order at the broker, and the resulting fill is prorated back into
//	per-account ledger entries that carry cost basis and realized P&L.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"proptrader/internal/config"
	"proptrader/internal/engine"
)

func main() {
	// Load .env before config so PROP_* overrides are visible.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PROP_CONFIG"); p != "" {
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

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("execution core started",
		"webhook_port", cfg.Webhook.Port,
		"scan_interval", cfg.Runner.ScanInterval,
		"kelly_mode", cfg.Runner.KellyMode,
		"dry_run", cfg.DryRun,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
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
