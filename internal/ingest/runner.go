package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"proptrader/internal/allocator"
	"proptrader/internal/broker"
	"proptrader/internal/config"
	"proptrader/internal/executor"
	"proptrader/internal/ledger"
	"proptrader/internal/metrics"
	"proptrader/internal/strategy"
	"proptrader/pkg/types"
)

// minBarsForScan is the history floor below which a symbol is skipped.
const minBarsForScan = 50

// maxConcurrentScans bounds the per-symbol fan-out of one runner tick.
const maxConcurrentScans = 4

// Runner is the internal signal producer. On a fixed cadence it splits
// equity across the active strategies, evaluates each strategy's
// symbols over recent bars, and dispatches actionable signals through
// the same execution pipeline the webhook uses.
type Runner struct {
	cfg      config.RunnerConfig
	ledger   *ledger.Store
	alloc    *allocator.Allocator
	kelly    *allocator.KellyEngine
	broker   broker.Client
	executor *executor.Executor
	logger   *slog.Logger
}

// NewRunner creates a strategy runner.
func NewRunner(cfg config.RunnerConfig, st *ledger.Store, alloc *allocator.Allocator,
	kelly *allocator.KellyEngine, bk broker.Client, exec *executor.Executor, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		ledger:   st,
		alloc:    alloc,
		kelly:    kelly,
		broker:   bk,
		executor: exec,
		logger:   logger.With("component", "runner"),
	}
}

// Run fires RunOnce on the configured cadence until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("strategy run failed", "error", err)
			}
		}
	}
}

// RunOnce evaluates every active strategy once.
func (r *Runner) RunOnce(ctx context.Context) error {
	defs, err := r.ledger.ActiveStrategies()
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}
	if len(defs) == 0 {
		r.logger.Debug("no active strategies")
		return nil
	}

	totalEquity := r.totalEquity(ctx)
	allocations, err := r.alloc.StrategyAllocations(totalEquity)
	if err != nil {
		return fmt.Errorf("allocate equity: %w", err)
	}

	for _, def := range defs {
		allocated := allocations[def.Name]
		if !allocated.IsPositive() {
			r.logger.Warn("no capital allocated, skipping strategy", "strategy", def.Name)
			continue
		}
		if err := r.runStrategy(ctx, def, allocated); err != nil {
			r.logger.Error("strategy evaluation failed", "strategy", def.Name, "error", err)
		}
	}
	return nil
}

// totalEquity reads live equity from the broker, defaulting to $100k
// when the broker is unreachable.
func (r *Runner) totalEquity(ctx context.Context) decimal.Decimal {
	acct, err := r.broker.GetAccount(ctx)
	if err != nil || !acct.Equity.IsPositive() {
		r.logger.Warn("broker equity unavailable, using default", "error", err)
		return decimal.NewFromInt(100000)
	}
	return acct.Equity
}

// runStrategy evaluates one strategy definition across its symbols.
func (r *Runner) runStrategy(ctx context.Context, def *ledger.StrategyDef, allocated decimal.Decimal) error {
	strategyType := def.StrategyType()
	strat, err := strategy.New(strategyType, strategy.Config{
		Name:          def.Name,
		StopLossPct:   def.StopLossPct,
		TakeProfitPct: def.TakeProfitPct,
		Params:        def.CustomParams,
	})
	if err != nil {
		return err
	}
	if len(def.Symbols) == 0 {
		r.logger.Warn("no symbols configured", "strategy", def.Name)
		return nil
	}

	r.logger.Info("evaluating strategy",
		"strategy", def.Name, "type", strategyType,
		"symbols", len(def.Symbols), "allocated", allocated.StringFixed(2))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentScans)
	for _, ticker := range def.Symbols {
		ticker := ticker
		g.Go(func() error {
			if err := r.scanSymbol(gctx, def, strat, ticker, allocated); err != nil {
				r.logger.Error("symbol scan failed",
					"strategy", def.Name, "ticker", ticker, "error", err)
			}
			return nil // one bad symbol never stops the rest
		})
	}
	return g.Wait()
}

// scanSymbol runs the entry and exit evaluations for one symbol.
func (r *Runner) scanSymbol(ctx context.Context, def *ledger.StrategyDef, strat strategy.Strategy, ticker string, allocated decimal.Decimal) error {
	bars, err := r.ledger.RecentBars(ticker, def.Timeframe, r.cfg.BarLimit)
	if err != nil {
		return err
	}
	if len(bars) < minBarsForScan {
		r.logger.Debug("not enough bars", "ticker", ticker, "bars", len(bars))
		return nil
	}

	if err := r.checkEntry(ctx, def, strat, ticker, bars, allocated); err != nil {
		return err
	}
	return r.checkExit(ctx, def, strat, ticker, bars)
}

// checkEntry generates, filters, sizes, and dispatches an entry signal.
func (r *Runner) checkEntry(ctx context.Context, def *ledger.StrategyDef, strat strategy.Strategy, ticker string, bars []types.OHLCVBar, allocated decimal.Decimal) error {
	signal := strat.GenerateSignal(ticker, bars)
	signal = strategy.ApplyFilters(signal, strategy.ConfidenceFilter(def.AIConfidenceThreshold))
	if !signal.IsActionable() {
		r.logger.Debug("hold", "ticker", ticker, "reason", signal.Reason)
		return nil
	}

	// Heuristic size from the allocator slice, then Kelly on top.
	signal.Quantity = strat.PositionSize(ticker, signal.Price, allocated)
	signal.Quantity = r.applyKellySizing(signal, def, allocated)
	if !signal.Quantity.IsPositive() {
		r.logger.Info("entry blocked by sizing", "ticker", ticker, "strategy", def.Name)
		return nil
	}

	return r.dispatch(ctx, signal)
}

// checkExit evaluates an open position against the strategy's exit
// ladder and dispatches a sell for the full open quantity.
func (r *Runner) checkExit(ctx context.Context, def *ledger.StrategyDef, strat strategy.Strategy, ticker string, bars []types.OHLCVBar) error {
	openQty, err := r.ledger.OpenPositionQuantity(ticker, "")
	if err != nil {
		return err
	}
	if !openQty.IsPositive() {
		return nil
	}
	avgCost, ok, err := r.ledger.AverageCostBasis(ticker, "")
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	currentPrice := decimal.NewFromFloat(bars[len(bars)-1].Close)
	signal := strat.CheckExit(ticker, avgCost, currentPrice, bars)
	if !signal.IsActionable() {
		return nil
	}

	// Stop and panic exits go out unpriced: they route as market
	// orders, and the cost-basis guard only binds priced sells.
	reason := strings.ToLower(signal.Reason)
	if strings.Contains(reason, "stop") || strings.Contains(reason, "panic") {
		signal.Price = decimal.Decimal{}
	}

	signal.Quantity = openQty
	return r.dispatch(ctx, signal)
}

// applyKellySizing overrides the heuristic quantity when the strategy
// has a statistically significant history: a positive Kelly fraction
// resizes against the stop distance, a non-positive fraction (negative
// edge) zeroes the trade.
func (r *Runner) applyKellySizing(signal types.Signal, def *ledger.StrategyDef, allocated decimal.Decimal) decimal.Decimal {
	outcomes, err := r.ledger.SellOutcomes(def.Name)
	if err != nil {
		r.logger.Error("kelly history lookup failed", "strategy", def.Name, "error", err)
		return signal.Quantity
	}
	perf := allocator.PerformanceFromOutcomes(outcomes)
	if perf == nil {
		return signal.Quantity // not enough history — keep the heuristic size
	}
	if def.StopLossPct <= 0 {
		return signal.Quantity // Kelly sizing needs a stop distance
	}

	fraction := r.kelly.Fraction(perf.WinRate, perf.AvgWin, perf.AvgLoss)
	if fraction <= 0 {
		r.logger.Info("kelly blocked entry (negative edge)", "strategy", def.Name, "ticker", signal.Ticker)
		return decimal.Decimal{}
	}

	stop := signal.Price.Mul(decimal.NewFromFloat(1 - def.StopLossPct/100))
	kellyQty := r.kelly.PositionSize(allocated, fraction, signal.Price, stop).Floor()
	if !kellyQty.IsPositive() {
		return decimal.Decimal{}
	}
	return kellyQty
}

func (r *Runner) dispatch(ctx context.Context, signal types.Signal) error {
	metrics.SignalsReceived.WithLabelValues("runner").Inc()
	r.logger.Info("dispatching signal",
		"action", signal.Action, "ticker", signal.Ticker,
		"quantity", signal.Quantity.String(), "reason", signal.Reason)

	_, err := r.executor.ExecuteSignal(ctx, signal)
	if errors.Is(err, executor.ErrBlockAborted) {
		return nil // expected outcome, rejection stubs are in the ledger
	}
	return err
}
