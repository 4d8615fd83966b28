// Package strategy implements the pluggable trading strategies.
//
// Each strategy is a value behind the Strategy interface with three
// operations: entry signal generation over a bar window, exit evaluation
// for an open position, and risk-based position sizing. Strategies are
// constructed from ledger-held definitions through a registry keyed by
// the strategy_type custom parameter — adding a strategy means adding a
// constructor to the registry, nothing else.
package strategy

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"proptrader/pkg/types"
)

// Strategy is the contract every trading strategy implements.
type Strategy interface {
	// Name is the configured strategy name (Config.Name), not the
	// registry key.
	Name() string

	// GenerateSignal decides a buy/hold entry at the last bar of the
	// window. Actionable signals carry the last close as price and a
	// confidence in [0, 1].
	GenerateSignal(ticker string, bars []types.OHLCVBar) types.Signal

	// CheckExit decides whether an open position should be closed.
	// The standard ladder runs stop-loss, take-profit, then the
	// strategy's own reversal conditions.
	CheckExit(ticker string, entryPrice, currentPrice decimal.Decimal, bars []types.OHLCVBar) types.Signal

	// PositionSize converts a price and an equity budget into a share
	// quantity. The risk-per-trade and sector-rotation sizers floor at 1
	// share even when one share exceeds the budget; smart_dca returns
	// zero when its budget is below one share.
	PositionSize(ticker string, price, equity decimal.Decimal) decimal.Decimal
}

// Config carries the ledger-held parameters into a strategy constructor.
type Config struct {
	Name          string
	StopLossPct   float64
	TakeProfitPct float64
	Params        map[string]any
}

// Constructor builds a strategy from its configuration.
type Constructor func(cfg Config) Strategy

var registry = map[string]Constructor{
	"momentum_breakout": newMomentumBreakout,
	"mean_reversion":    newMeanReversion,
	"sector_rotation":   newSectorRotation,
	"smart_dca":         newSmartDCA,
}

// New constructs a strategy by its registered type.
func New(strategyType string, cfg Config) (Strategy, error) {
	ctor, ok := registry[strategyType]
	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q (supported: %v)", strategyType, Types())
	}
	return ctor(cfg), nil
}

// Types lists the registered strategy types, sorted.
func Types() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// paramFloat reads a numeric custom parameter with a default. JSON
// numbers decode as float64; int is accepted for hand-built configs.
func paramFloat(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// hold is the canonical non-actionable signal.
func hold(name, ticker, reason string) types.Signal {
	return types.Signal{
		Action:       types.ActionHold,
		Ticker:       ticker,
		Reason:       reason,
		StrategyName: name,
	}
}

// closes extracts the close series from a bar window.
func closes(bars []types.OHLCVBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// stopOrTakeExit runs the shared stop-loss / take-profit ladder.
// Returns a sell signal and true when either threshold is crossed.
func stopOrTakeExit(name, ticker string, entry, current decimal.Decimal, stopPct, takePct float64) (types.Signal, bool) {
	if !entry.IsPositive() {
		return types.Signal{}, false
	}
	hundred := decimal.NewFromInt(100)
	lossPct := entry.Sub(current).Div(entry).Mul(hundred)
	if stopPct > 0 && lossPct.GreaterThanOrEqual(decimal.NewFromFloat(stopPct)) {
		return types.Signal{
			Action:       types.ActionSell,
			Ticker:       ticker,
			Price:        current,
			Reason:       fmt.Sprintf("Stop loss hit: -%s%% (limit: %.1f%%)", lossPct.StringFixed(1), stopPct),
			StrategyName: name,
		}, true
	}
	gainPct := current.Sub(entry).Div(entry).Mul(hundred)
	if takePct > 0 && gainPct.GreaterThanOrEqual(decimal.NewFromFloat(takePct)) {
		return types.Signal{
			Action:       types.ActionSell,
			Ticker:       ticker,
			Price:        current,
			Reason:       fmt.Sprintf("Take profit hit: +%s%% (target: %.1f%%)", gainPct.StringFixed(1), takePct),
			StrategyName: name,
		}, true
	}
	return types.Signal{}, false
}

// riskPerTradeSize is the shared sizing rule: risk a fixed percent of
// equity against the stop distance. shares = equity × riskPct/100 /
// (price × stopPct/100), floored at 1.
func riskPerTradeSize(price, equity decimal.Decimal, riskPct, stopPct float64) decimal.Decimal {
	stopDistance := price.Mul(decimal.NewFromFloat(stopPct)).Div(decimal.NewFromInt(100))
	if !stopDistance.IsPositive() {
		return decimal.NewFromInt(1)
	}
	riskAmount := equity.Mul(decimal.NewFromFloat(riskPct)).Div(decimal.NewFromInt(100))
	shares := riskAmount.Div(stopDistance).Floor()
	if shares.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return shares
}
