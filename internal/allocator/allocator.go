package allocator

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"proptrader/internal/ledger"
)

// Allocator distributes total account equity across active strategies
// using expectancy-weighted shares: every active strategy gets a base
// score of 1.0, and strategies with a proven positive statistical edge
// get that edge added on top. Weights are normalized so allocations sum
// to the total equity.
type Allocator struct {
	ledger *ledger.Store
	logger *slog.Logger
}

// New creates an allocator over the given ledger.
func New(st *ledger.Store, logger *slog.Logger) *Allocator {
	return &Allocator{ledger: st, logger: logger.With("component", "allocator")}
}

// StrategyAllocations maps each active strategy name to its capital
// slice. An empty map means no active strategies.
func (a *Allocator) StrategyAllocations(totalEquity decimal.Decimal) (map[string]decimal.Decimal, error) {
	active, err := a.ledger.ActiveStrategies()
	if err != nil {
		return nil, fmt.Errorf("load active strategies: %w", err)
	}
	if len(active) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	scores := make(map[string]decimal.Decimal, len(active))
	totalScore := decimal.Decimal{}

	for _, strat := range active {
		// Base score ensures every active strategy gets some capital.
		score := decimal.NewFromInt(1)

		outcomes, err := a.ledger.SellOutcomes(strat.Name)
		if err != nil {
			return nil, fmt.Errorf("sell outcomes for %s: %w", strat.Name, err)
		}
		if perf := PerformanceFromOutcomes(outcomes); perf != nil {
			if edge := perf.Expectancy(); edge > 0 {
				score = score.Add(decimal.NewFromFloat(edge))
			}
		}

		scores[strat.Name] = score
		totalScore = totalScore.Add(score)
	}

	allocations := make(map[string]decimal.Decimal, len(scores))
	for name, score := range scores {
		weight := score.Div(totalScore)
		allocated := totalEquity.Mul(weight)
		allocations[name] = allocated
		a.logger.Info("strategy allocation",
			"strategy", name,
			"weight_pct", weight.Mul(decimal.NewFromInt(100)).StringFixed(1),
			"allocated", allocated.StringFixed(2),
		)
	}
	return allocations, nil
}
