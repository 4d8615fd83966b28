package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"proptrader/internal/indicator"
	"proptrader/pkg/types"
)

// meanReversion buys oversold blue-chips bouncing off Bollinger support.
//
// Entry (ALL): close < lower BB(20, 2σ); Z(20) < -1.5; RSI(14) < 35;
// close > SMA(200) — only stocks still in a long-term uptrend.
// Exit (ANY): close > SMA(20); RSI > 60; stop loss; take profit.
type meanReversion struct {
	name            string
	bbPeriod        int
	bbStdDevs       float64
	zScoreThreshold float64
	rsiEntry        float64
	rsiExit         float64
	smaTrendPeriod  int
	riskPerTradePct float64
	stopLossPct     float64
	takeProfitPct   float64
}

func newMeanReversion(cfg Config) Strategy {
	return &meanReversion{
		name:            cfg.Name,
		bbPeriod:        int(paramFloat(cfg.Params, "bb_period", 20)),
		bbStdDevs:       paramFloat(cfg.Params, "bb_std_devs", 2.0),
		zScoreThreshold: paramFloat(cfg.Params, "zscore_threshold", -1.5),
		rsiEntry:        paramFloat(cfg.Params, "rsi_entry_threshold", 35),
		rsiExit:         paramFloat(cfg.Params, "rsi_exit_threshold", 60),
		smaTrendPeriod:  int(paramFloat(cfg.Params, "sma_trend_period", 200)),
		riskPerTradePct: paramFloat(cfg.Params, "risk_per_trade_pct", 1.5),
		stopLossPct:     cfg.StopLossPct,
		takeProfitPct:   cfg.TakeProfitPct,
	}
}

func (m *meanReversion) Name() string { return m.name }

func (m *meanReversion) GenerateSignal(ticker string, bars []types.OHLCVBar) types.Signal {
	if len(bars) < m.smaTrendPeriod {
		return hold(m.name, ticker, fmt.Sprintf("Not enough data for SMA%d", m.smaTrendPeriod))
	}

	cs := closes(bars)
	_, _, lower := indicator.BollingerBands(cs, m.bbPeriod, m.bbStdDevs)
	zVals := indicator.ZScore(cs, m.bbPeriod)
	rsiVals := indicator.RSI(cs, 14)
	trendSMA := indicator.SMA(cs, m.smaTrendPeriod)

	last := len(cs) - 1
	currentClose := cs[last]
	currentZ := zVals[last]
	currentRSI := rsiVals[last]

	belowLowerBB := currentClose < lower[last]
	zscoreOversold := currentZ < m.zScoreThreshold
	rsiOversold := currentRSI < m.rsiEntry
	inUptrend := currentClose > trendSMA[last]

	if belowLowerBB && zscoreOversold && rsiOversold && inUptrend {
		return types.Signal{
			Action:     types.ActionBuy,
			Ticker:     ticker,
			Price:      decimal.NewFromFloat(currentClose),
			Confidence: math.Min(math.Abs(currentZ)/3.0, 0.95),
			Reason: fmt.Sprintf("Mean reversion: Z=%.2f, RSI=%.1f, close $%.2f < BB lower $%.2f",
				currentZ, currentRSI, currentClose, lower[last]),
			StrategyName: m.name,
		}
	}
	return hold(m.name, ticker, "No mean reversion signal")
}

func (m *meanReversion) CheckExit(ticker string, entryPrice, currentPrice decimal.Decimal, bars []types.OHLCVBar) types.Signal {
	if len(bars) == 0 {
		return hold(m.name, ticker, "")
	}
	if sig, ok := stopOrTakeExit(m.name, ticker, entryPrice, currentPrice, m.stopLossPct, m.takeProfitPct); ok {
		return sig
	}

	cs := closes(bars)
	last := len(cs) - 1

	// Mean reverted — close above the middle band
	smaVals := indicator.SMA(cs, m.bbPeriod)
	if cs[last] > smaVals[last] && smaVals[last] > 0 {
		return types.Signal{
			Action:       types.ActionSell,
			Ticker:       ticker,
			Price:        currentPrice,
			Reason:       fmt.Sprintf("Mean reverted: close $%.2f > SMA%d $%.2f", cs[last], m.bbPeriod, smaVals[last]),
			StrategyName: m.name,
		}
	}

	rsiVals := indicator.RSI(cs, 14)
	if rsiVals[last] > m.rsiExit {
		return types.Signal{
			Action:       types.ActionSell,
			Ticker:       ticker,
			Price:        currentPrice,
			Reason:       fmt.Sprintf("RSI recovered: %.1f > %.0f", rsiVals[last], m.rsiExit),
			StrategyName: m.name,
		}
	}
	return hold(m.name, ticker, "")
}

func (m *meanReversion) PositionSize(ticker string, price, equity decimal.Decimal) decimal.Decimal {
	return riskPerTradeSize(price, equity, m.riskPerTradePct, m.stopLossPct)
}
