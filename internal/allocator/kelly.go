// Package allocator apportions account equity across active strategies
// and sizes individual positions with the Kelly criterion.
package allocator

import (
	"log/slog"

	"github.com/shopspring/decimal"
)

// KellyMode scales the raw Kelly fraction. Full Kelly is mathematically
// optimal but brutally volatile; half and quarter trade growth for
// drawdown control.
type KellyMode string

const (
	KellyFull    KellyMode = "full"
	KellyHalf    KellyMode = "half"
	KellyQuarter KellyMode = "quarter"
)

// Performance is the historical win/loss profile of a strategy.
type Performance struct {
	WinRate float64 // probability of a winning trade, 0..1
	AvgWin  float64 // average profit per winning trade (positive)
	AvgLoss float64 // average loss per losing trade (positive)
}

// Expectancy is the expected profit per trade:
// p·avgWin − (1−p)·avgLoss.
func (p Performance) Expectancy() float64 {
	return p.WinRate*p.AvgWin - (1-p.WinRate)*p.AvgLoss
}

// minResolvedTrades is the statistical baseline below which historical
// performance is treated as unavailable.
const minResolvedTrades = 10

// KellyEngine computes position-size fractions from historical
// performance.
type KellyEngine struct {
	mode   KellyMode
	logger *slog.Logger
}

// NewKellyEngine creates an engine for the given mode. Invalid modes
// fall back to half Kelly.
func NewKellyEngine(mode KellyMode, logger *slog.Logger) *KellyEngine {
	switch mode {
	case KellyFull, KellyHalf, KellyQuarter:
	default:
		logger.Warn("invalid kelly mode, defaulting to half", "mode", string(mode))
		mode = KellyHalf
	}
	return &KellyEngine{mode: mode, logger: logger}
}

// Fraction computes the scaled Kelly fraction f* = p − (1−p)/R where
// R = avgWin/avgLoss. Clamped to [0, 1]; invalid inputs and negative
// edges yield 0.
func (k *KellyEngine) Fraction(winRate, avgWin, avgLoss float64) float64 {
	if winRate <= 0 || winRate >= 1 {
		return 0
	}
	if avgWin <= 0 || avgLoss <= 0 {
		return 0
	}

	payoffRatio := avgWin / avgLoss
	fraction := winRate - (1-winRate)/payoffRatio
	if fraction <= 0 {
		// Negative edge mathematically dictates sitting in cash.
		return 0
	}

	switch k.mode {
	case KellyHalf:
		fraction *= 0.5
	case KellyQuarter:
		fraction *= 0.25
	}
	if fraction > 1 {
		fraction = 1
	}
	return fraction
}

// PositionSize translates a Kelly fraction into a share quantity from
// the distance to the stop: equity × f / |entry − stop|. Returns zero
// when the stop is absent or equals the entry.
func (k *KellyEngine) PositionSize(equity decimal.Decimal, fraction float64, entry, stop decimal.Decimal) decimal.Decimal {
	if fraction <= 0 || !entry.IsPositive() || !stop.IsPositive() {
		return decimal.Decimal{}
	}
	riskPerShare := entry.Sub(stop).Abs()
	if riskPerShare.IsZero() {
		return decimal.Decimal{}
	}
	capitalToRisk := equity.Mul(decimal.NewFromFloat(fraction))
	return capitalToRisk.Div(riskPerShare)
}

// PerformanceFromOutcomes derives (winRate, avgWin, avgLoss) from a list
// of realized P&L outcomes. Returns nil below the statistical baseline
// of 10 resolved trades; break-even outcomes are not counted as resolved.
func PerformanceFromOutcomes(outcomes []decimal.Decimal) *Performance {
	var wins, losses []float64
	for _, pnl := range outcomes {
		v, _ := pnl.Float64()
		switch {
		case v > 0:
			wins = append(wins, v)
		case v < 0:
			losses = append(losses, -v)
		}
	}

	resolved := len(wins) + len(losses)
	if resolved < minResolvedTrades {
		return nil
	}

	perf := &Performance{WinRate: float64(len(wins)) / float64(resolved)}
	for _, w := range wins {
		perf.AvgWin += w
	}
	if len(wins) > 0 {
		perf.AvgWin /= float64(len(wins))
	}
	for _, l := range losses {
		perf.AvgLoss += l
	}
	if len(losses) > 0 {
		perf.AvgLoss /= float64(len(losses))
	}
	return perf
}
