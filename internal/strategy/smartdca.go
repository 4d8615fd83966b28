package strategy

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"proptrader/internal/indicator"
	"proptrader/pkg/types"
)

// smartDCA accumulates long-term positions by buying dips. It never
// sells — exits require operator intervention.
//
// Entry (ANY): close < SMA(50), or RSI(14) < 40.
type smartDCA struct {
	name         string
	smaPeriod    int
	rsiPeriod    int
	rsiThreshold float64
	dcaAmount    decimal.Decimal
}

func newSmartDCA(cfg Config) Strategy {
	return &smartDCA{
		name:         cfg.Name,
		smaPeriod:    int(paramFloat(cfg.Params, "sma_period", 50)),
		rsiPeriod:    int(paramFloat(cfg.Params, "rsi_period", 14)),
		rsiThreshold: paramFloat(cfg.Params, "rsi_threshold", 40),
		dcaAmount:    decimal.NewFromFloat(paramFloat(cfg.Params, "dca_amount", 500)),
	}
}

func (d *smartDCA) Name() string { return d.name }

func (d *smartDCA) GenerateSignal(ticker string, bars []types.OHLCVBar) types.Signal {
	need := d.smaPeriod
	if d.rsiPeriod > need {
		need = d.rsiPeriod
	}
	if len(bars) < need+1 {
		return hold(d.name, ticker, "Not enough data")
	}

	cs := closes(bars)
	smaVals := indicator.SMA(cs, d.smaPeriod)
	rsiVals := indicator.RSI(cs, d.rsiPeriod)

	last := len(cs) - 1
	currentClose := cs[last]
	currentSMA := smaVals[last]
	currentRSI := rsiVals[last]

	belowSMA := currentClose < currentSMA
	oversold := currentRSI < d.rsiThreshold

	if belowSMA || oversold {
		var parts []string
		if belowSMA {
			parts = append(parts, fmt.Sprintf("Close $%.2f < SMA%d $%.2f", currentClose, d.smaPeriod, currentSMA))
		}
		if oversold {
			parts = append(parts, fmt.Sprintf("RSI(%d) %.1f < %.0f", d.rsiPeriod, currentRSI, d.rsiThreshold))
		}
		return types.Signal{
			Action:       types.ActionBuy,
			Ticker:       ticker,
			Price:        decimal.NewFromFloat(currentClose),
			Confidence:   math.Min((100-currentRSI)/100.0, 0.95),
			Reason:       "Smart DCA dip: " + strings.Join(parts, " AND "),
			StrategyName: d.name,
		}
	}
	return hold(d.name, ticker, "Price is elevated, waiting for dip")
}

// CheckExit never fires — accumulation only.
func (d *smartDCA) CheckExit(ticker string, entryPrice, currentPrice decimal.Decimal, bars []types.OHLCVBar) types.Signal {
	return hold(d.name, ticker, "")
}

// PositionSize spends the fixed DCA amount, capped by available equity.
func (d *smartDCA) PositionSize(ticker string, price, equity decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.NewFromInt(1)
	}
	buyAmount := d.dcaAmount
	if buyAmount.GreaterThan(equity) {
		buyAmount = equity.Mul(decimal.NewFromFloat(0.95))
	}
	if buyAmount.LessThan(price) {
		return decimal.Decimal{} // can't afford one share
	}
	shares := buyAmount.Div(price).Floor()
	if shares.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return shares
}
