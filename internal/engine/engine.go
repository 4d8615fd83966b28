// Package engine is the central orchestrator of the execution core.
//
// It wires together all subsystems and owns their goroutine lifecycle:
//
//  1. The ingress server receives webhook signals.
//  2. The strategy runner produces internal signals on a cadence.
//  3. Both feed the executor, which gates, routes, and ledgers trades.
//  4. The fill listener applies broker trade_updates to the ledger.
//  5. Periodic sweeps run the prop-firm evaluation state machine, and
//     an end-of-day task reports the portfolio.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/internal/account"
	"proptrader/internal/allocator"
	"proptrader/internal/broker"
	"proptrader/internal/config"
	"proptrader/internal/executor"
	"proptrader/internal/ingest"
	"proptrader/internal/ledger"
	"proptrader/internal/notify"
	"proptrader/internal/risk"
	"proptrader/internal/vault"
)

// eodHour is the local-ET hour after which the end-of-day report fires
// (16:15, shortly after the close).
const (
	eodHour   = 16
	eodMinute = 15
)

// Engine owns every long-lived component and its goroutines.
type Engine struct {
	cfg       config.Config
	ledger    *ledger.Store
	client    broker.Client
	stream    *broker.StreamFeed
	notifier  *notify.Notifier
	gate      *risk.Gate
	executor  *executor.Executor
	listener  *executor.FillListener
	runner    *ingest.Runner
	evaluator *account.Evaluator
	server    *ingest.Server
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components. The active risk profile
// is seeded from configuration on first start.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	st, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}

	if err := seedRiskConfig(st, cfg.Risk); err != nil {
		st.Close()
		return nil, err
	}

	// Broker credentials may be stored encrypted (enc:<token>); open
	// the vault and decrypt them before the client is built.
	if err := decryptBrokerCredentials(&cfg); err != nil {
		st.Close()
		return nil, err
	}

	client := broker.NewRESTClient(cfg.Broker, cfg.DryRun, logger)
	router := broker.NewRouter(client, cfg.Broker.IBTag)
	stream := broker.NewStreamFeed(cfg.Broker, logger)
	notifier := notify.New(cfg.Notify.DiscordWebhookURL, logger)
	gate := risk.NewGate(st, client, notifier, logger)
	exec := executor.New(st, gate, router, notifier, logger)
	listener := executor.NewFillListener(exec, logger)
	alloc := allocator.New(st, logger)
	kelly := allocator.NewKellyEngine(allocator.KellyMode(cfg.Runner.KellyMode), logger)
	runner := ingest.NewRunner(cfg.Runner, st, alloc, kelly, client, exec, logger)
	evaluator := account.NewEvaluator(st, notifier, logger)
	server := ingest.NewServer(cfg.Webhook, st, exec, logger)

	ctx, cancel := context.WithCancel(context.Background())

	eng := &Engine{
		cfg:       cfg,
		ledger:    st,
		client:    client,
		stream:    stream,
		notifier:  notifier,
		gate:      gate,
		executor:  exec,
		listener:  listener,
		runner:    runner,
		evaluator: evaluator,
		server:    server,
		logger:    logger.With("component", "engine"),
		ctx:       ctx,
		cancel:    cancel,
	}
	server.SetKillSwitch(eng.KillSwitch)
	return eng, nil
}

// encPrefix marks a credential stored as a vault token.
const encPrefix = "enc:"

// decryptBrokerCredentials opens the configured vault and replaces
// enc:-prefixed broker credentials with their plaintext.
func decryptBrokerCredentials(cfg *config.Config) error {
	hasToken := strings.HasPrefix(cfg.Broker.APIKey, encPrefix) ||
		strings.HasPrefix(cfg.Broker.SecretKey, encPrefix)
	if !hasToken {
		return nil
	}
	if cfg.Vault.EncryptionKey == "" {
		return fmt.Errorf("broker credentials are encrypted but ENCRYPTION_KEY is not set")
	}

	v, err := vault.New(cfg.Vault.EncryptionKey)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	if strings.HasPrefix(cfg.Broker.APIKey, encPrefix) {
		key, err := v.Decrypt(strings.TrimPrefix(cfg.Broker.APIKey, encPrefix))
		if err != nil {
			return fmt.Errorf("decrypt broker api key: %w", err)
		}
		cfg.Broker.APIKey = key
	}
	if strings.HasPrefix(cfg.Broker.SecretKey, encPrefix) {
		secret, err := v.Decrypt(strings.TrimPrefix(cfg.Broker.SecretKey, encPrefix))
		if err != nil {
			return fmt.Errorf("decrypt broker secret key: %w", err)
		}
		cfg.Broker.SecretKey = secret
	}
	return nil
}

// seedRiskConfig creates a default active risk profile if none exists.
func seedRiskConfig(st *ledger.Store, cfg config.RiskConfig) error {
	if _, err := st.ActiveRiskConfig(); err == nil {
		return nil
	} else if !errors.Is(err, ledger.ErrNoActiveRiskConfig) {
		return err
	}

	seeded := &ledger.RiskConfig{
		Name:                "default",
		IsActive:            true,
		MaxDailyDrawdownPct: cfg.MaxDailyDrawdownPct,
		MaxTotalDrawdownPct: cfg.MaxTotalDrawdownPct,
		MaxPositionSizePct:  cfg.MaxPositionSizePct,
		MaxOpenPositions:    cfg.MaxOpenPositions,
		MaxDailyTrades:      cfg.MaxDailyTrades,
		DailyLossLimit:      decimal.NewFromFloat(cfg.DailyLossLimit),
	}
	return st.SaveRiskConfig(seeded)
}

// Start launches all background goroutines: the ingress server, the
// strategy runner, the trade_updates stream + fill listener, and the
// periodic sweeps.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.server.Start(); err != nil && e.ctx.Err() == nil {
			e.logger.Error("ingress server error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.stream.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("trade stream error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.listener.Listen(e.ctx, e.stream.Updates())
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runner.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSweeps()
	}()

	return nil
}

// Stop gracefully shuts down: stops ingress, cancels every goroutine,
// waits for them, and closes resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	if err := e.server.Stop(); err != nil {
		e.logger.Error("failed to stop ingress server", "error", err)
	}

	e.cancel()
	e.stream.Close()
	e.wg.Wait()

	if err := e.ledger.Close(); err != nil {
		e.logger.Error("failed to close ledger", "error", err)
	}
	e.logger.Info("shutdown complete")
}

// KillSwitch engages the operator kill switch: every future trade is
// rejected, open orders are cancelled, and positions are flattened.
func (e *Engine) KillSwitch(ctx context.Context) error {
	if err := e.ledger.SetKillSwitch(true); err != nil {
		return fmt.Errorf("engage kill switch: %w", err)
	}
	cancelled, err := e.client.CancelAllOrders(ctx)
	if err != nil {
		return fmt.Errorf("cancel open orders: %w", err)
	}
	closed, err := e.client.CloseAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("close positions: %w", err)
	}
	e.logger.Warn("kill switch engaged", "orders_cancelled", cancelled, "positions_closed", closed)
	e.notifier.SystemAlert("Kill switch engaged",
		fmt.Sprintf("Cancelled %d orders, closed %d positions", cancelled, closed), "CRITICAL")
	return nil
}

// runSweeps drives the evaluation state machine on the sweep cadence
// and fires the end-of-day report once per trading day.
func (e *Engine) runSweeps() {
	ticker := time.NewTicker(e.cfg.Runner.SweepInterval)
	defer ticker.Stop()

	var lastEOD time.Time

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.evaluator.Sweep(); err != nil {
				e.logger.Error("evaluation sweep failed", "error", err)
			}

			if now := time.Now(); afterEOD(now) && !sameDay(lastEOD, now) {
				if err := e.evaluator.EODReport(); err != nil {
					e.logger.Error("EOD report failed", "error", err)
				} else {
					lastEOD = now
				}
			}
		}
	}
}

func afterEOD(now time.Time) bool {
	et := now.In(easternTime())
	return et.Hour()*60+et.Minute() >= eodHour*60+eodMinute
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	ay, am, ad := a.In(easternTime()).Date()
	by, bm, bd := b.In(easternTime()).Date()
	return ay == by && am == bm && ad == bd
}

func easternTime() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}
