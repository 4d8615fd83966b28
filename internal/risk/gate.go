// Package risk implements the pre-trade risk gate.
//
// The gate is a stateless pipeline of ordered checks over
// (signal, account). Order is load-bearing — cheapest and most
// restrictive checks run first, and the first failure short-circuits
// with its reason:
//
//  1. Kill switch
//  2. Market hours (stocks only; crypto and futures trade 24/7)
//  3. Daily drawdown
//  4. Daily dollar loss limit
//  5. Daily trade count
//  6. Max open positions
//  7. Position size vs. equity
//  8. Sell-above-cost-basis
//
// Every check reads the active RiskConfig from the ledger — the
// configuration is never cached. Broker read failures in checks 6 and 7
// degrade to ledger estimates or a static equity default; they never
// reject on their own.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/internal/broker"
	"proptrader/internal/ledger"
	"proptrader/pkg/types"
)

// defaultEquity is the fallback when the broker account is unreachable
// during the position-size check.
var defaultEquity = decimal.NewFromInt(100000)

// cryptoTickers trade around the clock and bypass the market-hours check.
var cryptoTickers = map[string]bool{
	"BTC": true, "ETH": true, "SOL": true, "DOGE": true, "AVAX": true,
}

// Alerter is the sliver of the notifier the gate needs.
type Alerter interface {
	SystemAlert(title, message, level string)
}

// Gate runs the pre-trade check pipeline.
type Gate struct {
	ledger  *ledger.Store
	broker  broker.Client
	alerter Alerter
	logger  *slog.Logger

	now func() time.Time // injectable clock for the market-hours check

	missingConfigOnce sync.Once // alert once per process when no config is active
}

// NewGate creates a risk gate. The alerter may be nil.
func NewGate(st *ledger.Store, bk broker.Client, alerter Alerter, logger *slog.Logger) *Gate {
	return &Gate{
		ledger:  st,
		broker:  bk,
		alerter: alerter,
		logger:  logger.With("component", "risk"),
		now:     time.Now,
	}
}

// WithClock overrides the gate's clock, pinning the market-hours and
// daily-window checks to a known instant. Used by tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// CheckTrade runs the full pipeline. Returns (approved, reason); the
// reason of a rejection is that of the first failing check.
func (g *Gate) CheckTrade(ctx context.Context, signal types.Signal, account *ledger.PropFirmAccount) (bool, string) {
	cfg, err := g.ledger.ActiveRiskConfig()
	if err != nil {
		g.logger.Error("no active risk config, rejecting trade", "error", err)
		g.missingConfigOnce.Do(func() {
			if g.alerter != nil {
				g.alerter.SystemAlert("Risk configuration missing",
					"No active RiskConfig found — every trade is being rejected", "CRITICAL")
			}
		})
		return false, "No active risk configuration found"
	}

	checks := []struct {
		name string
		fn   func() (bool, string)
	}{
		{"kill_switch", func() (bool, string) { return g.checkKillSwitch(cfg) }},
		{"market_hours", func() (bool, string) { return g.checkMarketHours(signal) }},
		{"daily_drawdown", func() (bool, string) { return g.checkDailyDrawdown(cfg) }},
		{"daily_loss_limit", func() (bool, string) { return g.checkDailyLossLimit(cfg) }},
		{"daily_trade_count", func() (bool, string) { return g.checkDailyTradeCount(cfg) }},
		{"max_open_positions", func() (bool, string) { return g.checkMaxOpenPositions(ctx, cfg) }},
		{"position_size", func() (bool, string) { return g.checkPositionSize(ctx, cfg, signal) }},
		{"sell_above_cost", func() (bool, string) { return g.checkSellAboveCostBasis(signal, account) }},
	}

	for _, check := range checks {
		approved, reason := check.fn()
		if !approved {
			g.logger.Warn("risk check failed", "check", check.name, "reason", reason)
			return false, reason
		}
	}

	g.logger.Info("risk check passed",
		"action", signal.Action, "quantity", signal.Quantity, "ticker", signal.Ticker)
	return true, "All risk checks passed"
}

// checkKillSwitch rejects everything while the kill switch is engaged.
func (g *Gate) checkKillSwitch(cfg *ledger.RiskConfig) (bool, string) {
	if cfg.KillSwitchActive {
		return false, "Kill switch is ACTIVE — all trading halted"
	}
	return true, ""
}

// checkMarketHours restricts stock signals to 09:30–16:00 US/Eastern on
// weekdays. Crypto tickers and futures are exempt.
func (g *Gate) checkMarketHours(signal types.Signal) (bool, string) {
	ticker := signal.Ticker

	if strings.Contains(ticker, "/") || cryptoTickers[ticker] {
		return true, ""
	}
	if strings.HasPrefix(ticker, "MES") || strings.HasPrefix(ticker, "MNQ") {
		return true, ""
	}

	nowET := g.now().In(easternTime())

	if wd := nowET.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false, fmt.Sprintf("Market closed — weekend (%s)", wd)
	}

	minutes := nowET.Hour()*60 + nowET.Minute()
	marketOpen := 9*60 + 30
	marketClose := 16 * 60
	if minutes < marketOpen || minutes > marketClose {
		return false, fmt.Sprintf("Market closed — current time %02d:%02d ET (open 09:30-16:00)",
			nowET.Hour(), nowET.Minute())
	}
	return true, ""
}

// checkDailyDrawdown rejects once today's realized losses reach the
// configured limit.
func (g *Gate) checkDailyDrawdown(cfg *ledger.RiskConfig) (bool, string) {
	dailyPnL, err := g.ledger.DailyRealizedPnL(g.now())
	if err != nil {
		g.logger.Error("daily drawdown query failed", "error", err)
		return true, "" // degraded read never rejects on its own
	}
	if dailyPnL.Sign() >= 0 {
		return true, ""
	}
	if dailyPnL.Abs().GreaterThanOrEqual(cfg.DailyLossLimit) {
		return false, fmt.Sprintf("Daily drawdown limit reached — lost $%s (limit: $%s)",
			dailyPnL.Abs().StringFixed(2), cfg.DailyLossLimit.StringFixed(2))
	}
	return true, ""
}

// checkDailyLossLimit is the dollar-absolute twin of the drawdown check.
// Kept distinct so a future %-based split doesn't reorder the pipeline.
func (g *Gate) checkDailyLossLimit(cfg *ledger.RiskConfig) (bool, string) {
	dailyPnL, err := g.ledger.DailyRealizedPnL(g.now())
	if err != nil {
		g.logger.Error("daily loss query failed", "error", err)
		return true, ""
	}
	if dailyPnL.Sign() < 0 && dailyPnL.Abs().GreaterThanOrEqual(cfg.DailyLossLimit) {
		return false, fmt.Sprintf("Daily loss limit hit — $%s lost (limit: $%s)",
			dailyPnL.Abs().StringFixed(2), cfg.DailyLossLimit.StringFixed(2))
	}
	return true, ""
}

// checkDailyTradeCount caps today's trades across all statuses.
func (g *Gate) checkDailyTradeCount(cfg *ledger.RiskConfig) (bool, string) {
	count, err := g.ledger.DailyTradeCount(g.now())
	if err != nil {
		g.logger.Error("daily trade count query failed", "error", err)
		return true, ""
	}
	if count >= cfg.MaxDailyTrades {
		return false, fmt.Sprintf("Daily trade limit reached — %d trades today (limit: %d)",
			count, cfg.MaxDailyTrades)
	}
	return true, ""
}

// checkMaxOpenPositions prefers the broker's live position list and
// falls back to the ledger approximation (filled buys without matching
// sells) when the broker is unreachable.
func (g *Gate) checkMaxOpenPositions(ctx context.Context, cfg *ledger.RiskConfig) (bool, string) {
	var openPositions int
	positions, err := g.broker.GetPositions(ctx)
	if err == nil {
		openPositions = len(positions)
	} else {
		g.logger.Warn("broker positions unavailable, using ledger estimate", "error", err)
		openPositions, err = g.ledger.OpenPositionCount()
		if err != nil {
			g.logger.Error("open position estimate failed", "error", err)
			return true, ""
		}
	}

	if openPositions >= cfg.MaxOpenPositions {
		return false, fmt.Sprintf("Max open positions reached — %d open (limit: %d)",
			openPositions, cfg.MaxOpenPositions)
	}
	return true, ""
}

// checkPositionSize bounds the order value by a percentage of equity.
// Market orders (no price) skip the check.
func (g *Gate) checkPositionSize(ctx context.Context, cfg *ledger.RiskConfig, signal types.Signal) (bool, string) {
	if !signal.Price.IsPositive() || !signal.Quantity.IsPositive() {
		return true, "" // market order — nothing to validate against
	}

	orderValue := signal.Quantity.Mul(signal.Price)

	equity := defaultEquity
	if acct, err := g.broker.GetAccount(ctx); err == nil && acct.Equity.IsPositive() {
		equity = acct.Equity
	} else if err != nil {
		g.logger.Warn("broker account unavailable, using default equity", "error", err)
	}

	maxPositionValue := equity.Mul(decimal.NewFromFloat(cfg.MaxPositionSizePct)).Div(decimal.NewFromInt(100))
	if orderValue.GreaterThan(maxPositionValue) {
		return false, fmt.Sprintf("Position too large — $%s exceeds %.1f%% of equity ($%s)",
			orderValue.StringFixed(2), cfg.MaxPositionSizePct, maxPositionValue.StringFixed(2))
	}
	return true, ""
}

// checkSellAboveCostBasis rejects priced sells below the weighted
// average cost basis. Never voluntarily realize a loss. Market-priced
// sells bypass — there is no price to compare before the fill.
func (g *Gate) checkSellAboveCostBasis(signal types.Signal, account *ledger.PropFirmAccount) (bool, string) {
	if signal.Action != types.ActionSell {
		return true, ""
	}
	if !signal.Price.IsPositive() {
		return true, ""
	}

	// Scope on the same key the executor stamps onto trades, so the
	// guard evaluates the exact basis later P&L is booked against.
	accountID := ""
	if account != nil {
		accountID = account.TradeScopeID()
	}
	avgCost, ok, err := g.ledger.AverageCostBasis(signal.Ticker, accountID)
	if err != nil {
		g.logger.Error("cost basis query failed", "error", err)
		return true, ""
	}
	if !ok {
		return true, "" // no position quantity for the ticker
	}

	if signal.Price.LessThan(avgCost) {
		return false, fmt.Sprintf("Sell below cost basis rejected — sell $%s < avg cost $%s for %s",
			signal.Price.StringFixed(2), avgCost.StringFixed(2), signal.Ticker)
	}
	return true, ""
}

func easternTime() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Close enough for safety when tzdata is missing.
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}
