package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"proptrader/internal/indicator"
	"proptrader/pkg/types"
)

// momentumBreakout buys stocks breaking out above resistance on volume.
//
// Entry (ALL): close > SMA(20); RSI(14) in 40-70; volume > 1.5× avg20;
// close > prior bar's high.
// Exit (ANY): RSI > 80; close < EMA(9); stop loss; take profit.
type momentumBreakout struct {
	name             string
	smaPeriod        int
	rsiPeriod        int
	volumeMultiplier float64
	rsiEntryLow      float64
	rsiEntryHigh     float64
	rsiExitOverbought float64
	riskPerTradePct  float64
	stopLossPct      float64
	takeProfitPct    float64
}

func newMomentumBreakout(cfg Config) Strategy {
	return &momentumBreakout{
		name:              cfg.Name,
		smaPeriod:         int(paramFloat(cfg.Params, "sma_period", 20)),
		rsiPeriod:         int(paramFloat(cfg.Params, "rsi_period", 14)),
		volumeMultiplier:  paramFloat(cfg.Params, "volume_multiplier", 1.5),
		rsiEntryLow:       paramFloat(cfg.Params, "rsi_entry_low", 40),
		rsiEntryHigh:      paramFloat(cfg.Params, "rsi_entry_high", 70),
		rsiExitOverbought: paramFloat(cfg.Params, "rsi_exit_overbought", 80),
		riskPerTradePct:   paramFloat(cfg.Params, "risk_per_trade_pct", 2.0),
		stopLossPct:       cfg.StopLossPct,
		takeProfitPct:     cfg.TakeProfitPct,
	}
}

func (m *momentumBreakout) Name() string { return m.name }

func (m *momentumBreakout) GenerateSignal(ticker string, bars []types.OHLCVBar) types.Signal {
	if len(bars) < m.smaPeriod+1 {
		return hold(m.name, ticker, "Not enough data")
	}

	cs := closes(bars)
	smaVals := indicator.SMA(cs, m.smaPeriod)
	rsiVals := indicator.RSI(cs, m.rsiPeriod)

	avgVolume := 0.0
	for _, b := range bars[len(bars)-m.smaPeriod:] {
		avgVolume += b.Volume
	}
	avgVolume /= float64(m.smaPeriod)

	last := len(bars) - 1
	currentClose := cs[last]
	currentRSI := rsiVals[last]
	currentSMA := smaVals[last]
	currentVol := bars[last].Volume
	priorHigh := bars[last-1].High

	aboveSMA := currentClose > currentSMA
	rsiInRange := currentRSI >= m.rsiEntryLow && currentRSI <= m.rsiEntryHigh
	volumeSurge := currentVol > avgVolume*m.volumeMultiplier
	breakout := currentClose > priorHigh

	if aboveSMA && rsiInRange && volumeSurge && breakout {
		return types.Signal{
			Action:     types.ActionBuy,
			Ticker:     ticker,
			Price:      decimal.NewFromFloat(currentClose),
			Confidence: math.Min(currentRSI/100, 0.95),
			Reason: fmt.Sprintf("Breakout: close $%.2f > SMA%d $%.2f, RSI %.1f, vol %.1fx avg",
				currentClose, m.smaPeriod, currentSMA, currentRSI, currentVol/avgVolume),
			StrategyName: m.name,
		}
	}
	return hold(m.name, ticker, "No breakout signal")
}

func (m *momentumBreakout) CheckExit(ticker string, entryPrice, currentPrice decimal.Decimal, bars []types.OHLCVBar) types.Signal {
	if len(bars) == 0 {
		return hold(m.name, ticker, "")
	}
	if sig, ok := stopOrTakeExit(m.name, ticker, entryPrice, currentPrice, m.stopLossPct, m.takeProfitPct); ok {
		return sig
	}

	cs := closes(bars)
	last := len(cs) - 1

	rsiVals := indicator.RSI(cs, m.rsiPeriod)
	if rsiVals[last] > m.rsiExitOverbought {
		return types.Signal{
			Action:       types.ActionSell,
			Ticker:       ticker,
			Price:        currentPrice,
			Reason:       fmt.Sprintf("RSI overbought: %.1f > %.0f", rsiVals[last], m.rsiExitOverbought),
			StrategyName: m.name,
		}
	}

	emaVals := indicator.EMA(cs, 9)
	if cs[last] < emaVals[last] {
		return types.Signal{
			Action:       types.ActionSell,
			Ticker:       ticker,
			Price:        currentPrice,
			Reason:       fmt.Sprintf("Price $%.2f below EMA9 $%.2f", cs[last], emaVals[last]),
			StrategyName: m.name,
		}
	}
	return hold(m.name, ticker, "")
}

func (m *momentumBreakout) PositionSize(ticker string, price, equity decimal.Decimal) decimal.Decimal {
	return riskPerTradeSize(price, equity, m.riskPerTradePct, m.stopLossPct)
}
