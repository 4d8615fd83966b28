package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"proptrader/internal/indicator"
	"proptrader/pkg/types"
)

// sectorRotation buys strong momentum names in a long-term uptrend.
//
// Entry (ALL): close > SMA(200); ROC(90) > entry threshold.
// Exit (ANY): close < SMA(200); ROC(90) < 0; stop loss; take profit.
type sectorRotation struct {
	name              string
	rocPeriod         int
	rocEntryThreshold float64
	smaTrendPeriod    int
	targetSectors     float64
	stopLossPct       float64
	takeProfitPct     float64
}

func newSectorRotation(cfg Config) Strategy {
	return &sectorRotation{
		name:              cfg.Name,
		rocPeriod:         int(paramFloat(cfg.Params, "roc_period", 90)),
		rocEntryThreshold: paramFloat(cfg.Params, "roc_entry_threshold", 5.0),
		smaTrendPeriod:    int(paramFloat(cfg.Params, "sma_trend_period", 200)),
		targetSectors:     paramFloat(cfg.Params, "target_sectors", 5),
		stopLossPct:       cfg.StopLossPct,
		takeProfitPct:     cfg.TakeProfitPct,
	}
}

func (s *sectorRotation) Name() string { return s.name }

func (s *sectorRotation) GenerateSignal(ticker string, bars []types.OHLCVBar) types.Signal {
	need := s.smaTrendPeriod
	if s.rocPeriod > need {
		need = s.rocPeriod
	}
	if len(bars) < need+1 {
		return hold(s.name, ticker, "Not enough data")
	}

	cs := closes(bars)
	trendSMA := indicator.SMA(cs, s.smaTrendPeriod)
	rocVals := indicator.ROC(cs, s.rocPeriod)

	last := len(cs) - 1
	currentClose := cs[last]
	currentROC := rocVals[last]

	inUptrend := currentClose > trendSMA[last]
	strongMomentum := currentROC > s.rocEntryThreshold

	if inUptrend && strongMomentum {
		return types.Signal{
			Action:     types.ActionBuy,
			Ticker:     ticker,
			Price:      decimal.NewFromFloat(currentClose),
			Confidence: math.Min(currentROC/20.0, 0.95),
			Reason: fmt.Sprintf("Sector rotation: ROC(%d) %.2f%% > %.1f%%, close $%.2f > SMA%d $%.2f",
				s.rocPeriod, currentROC, s.rocEntryThreshold, currentClose, s.smaTrendPeriod, trendSMA[last]),
			StrategyName: s.name,
		}
	}
	return hold(s.name, ticker, "No momentum rotation signal")
}

func (s *sectorRotation) CheckExit(ticker string, entryPrice, currentPrice decimal.Decimal, bars []types.OHLCVBar) types.Signal {
	if len(bars) == 0 {
		return hold(s.name, ticker, "")
	}
	if sig, ok := stopOrTakeExit(s.name, ticker, entryPrice, currentPrice, s.stopLossPct, s.takeProfitPct); ok {
		return sig
	}

	cs := closes(bars)
	last := len(cs) - 1

	trendSMA := indicator.SMA(cs, s.smaTrendPeriod)
	if cs[last] < trendSMA[last] && trendSMA[last] > 0 {
		return types.Signal{
			Action:       types.ActionSell,
			Ticker:       ticker,
			Price:        currentPrice,
			Reason:       fmt.Sprintf("Trend broken: close $%.2f < SMA%d $%.2f", cs[last], s.smaTrendPeriod, trendSMA[last]),
			StrategyName: s.name,
		}
	}

	rocVals := indicator.ROC(cs, s.rocPeriod)
	if rocVals[last] < 0 {
		return types.Signal{
			Action:       types.ActionSell,
			Ticker:       ticker,
			Price:        currentPrice,
			Reason:       fmt.Sprintf("Momentum lost: ROC(%d) is negative (%.2f%%)", s.rocPeriod, rocVals[last]),
			StrategyName: s.name,
		}
	}
	return hold(s.name, ticker, "")
}

// PositionSize splits equity evenly across the target sector count.
func (s *sectorRotation) PositionSize(ticker string, price, equity decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || s.targetSectors <= 0 {
		return decimal.NewFromInt(1)
	}
	allocation := equity.Div(decimal.NewFromFloat(s.targetSectors))
	shares := allocation.Div(price).Floor()
	if shares.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return shares
}
