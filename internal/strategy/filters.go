package strategy

import (
	"fmt"

	"proptrader/pkg/types"
)

// Filter post-processes a signal. Filters may downgrade an actionable
// signal to hold or zero its quantity; they never upgrade.
type Filter func(types.Signal) types.Signal

// ApplyFilters runs filters in order, stopping as soon as the signal is
// no longer actionable.
func ApplyFilters(sig types.Signal, filters ...Filter) types.Signal {
	for _, f := range filters {
		if !sig.IsActionable() {
			return sig
		}
		sig = f(sig)
	}
	return sig
}

// ConfidenceFilter downgrades signals whose confidence falls below the
// configured threshold. A zero threshold disables the filter.
func ConfidenceFilter(threshold float64) Filter {
	return func(sig types.Signal) types.Signal {
		if threshold <= 0 || sig.Confidence >= threshold {
			return sig
		}
		return types.Signal{
			Action:       types.ActionHold,
			Ticker:       sig.Ticker,
			Reason:       fmt.Sprintf("Confidence %.2f below threshold %.2f", sig.Confidence, threshold),
			StrategyName: sig.StrategyName,
		}
	}
}

// RegimeFilter blocks new buys while the supplied regime reads bearish.
// The regime provider is an external collaborator; a nil provider
// disables the filter.
func RegimeFilter(regime func() string) Filter {
	return func(sig types.Signal) types.Signal {
		if regime == nil || sig.Action != types.ActionBuy {
			return sig
		}
		if r := regime(); r == "bearish" {
			return types.Signal{
				Action:       types.ActionHold,
				Ticker:       sig.Ticker,
				Reason:       "Regime filter: bearish regime blocks new entries",
				StrategyName: sig.StrategyName,
			}
		}
		return sig
	}
}
