// Package indicator provides the technical indicator math the strategies
// build on. All functions are pure: they take price/bar series ordered
// oldest-first and return a series of the same length, zero-padded (or
// neutral-padded for RSI) until enough history accumulates.
package indicator

import (
	"math"

	"proptrader/pkg/types"
)

// SMA is the simple moving average over the given period.
func SMA(closes []float64, period int) []float64 {
	result := make([]float64, len(closes))
	if period <= 0 {
		return result
	}
	sum := 0.0
	for i, c := range closes {
		sum += c
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			result[i] = sum / float64(period)
		}
	}
	return result
}

// EMA is the exponential moving average with smoothing 2/(period+1),
// seeded from the first close.
func EMA(closes []float64, period int) []float64 {
	if len(closes) == 0 {
		return nil
	}
	result := make([]float64, len(closes))
	multiplier := 2.0 / float64(period+1)
	result[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		result[i] = closes[i]*multiplier + result[i-1]*(1-multiplier)
	}
	return result
}

// RSI is the Wilder-smoothed Relative Strength Index (0-100).
// Series shorter than period+1 return a neutral 50 throughout.
func RSI(closes []float64, period int) []float64 {
	if len(closes) < period+1 {
		result := make([]float64, len(closes))
		for i := range result {
			result[i] = 50.0
		}
		return result
	}

	result := make([]float64, 0, len(closes))
	for i := 0; i < period; i++ {
		result = append(result, 50.0)
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		avgGain += math.Max(change, 0)
		avgLoss += math.Max(-change, 0)
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	result = append(result, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		avgGain = (avgGain*float64(period-1) + math.Max(change, 0)) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + math.Max(-change, 0)) / float64(period)
		result = append(result, rsiValue(avgGain, avgLoss))
	}
	return result
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// BollingerBands returns (upper, middle, lower) where middle is the SMA
// and the bands sit stdDevs standard deviations away.
func BollingerBands(closes []float64, period int, stdDevs float64) (upper, middle, lower []float64) {
	middle = SMA(closes, period)
	upper = make([]float64, len(closes))
	lower = make([]float64, len(closes))

	for i := range closes {
		if i < period-1 {
			continue
		}
		std := windowStdDev(closes[i-period+1:i+1], middle[i])
		upper[i] = middle[i] + stdDevs*std
		lower[i] = middle[i] - stdDevs*std
	}
	return upper, middle, lower
}

// ZScore is how many standard deviations the close sits from the
// rolling mean. Zero while the window has no spread.
func ZScore(closes []float64, period int) []float64 {
	result := make([]float64, len(closes))
	for i := range closes {
		if i < period-1 {
			continue
		}
		window := closes[i-period+1 : i+1]
		mean := 0.0
		for _, c := range window {
			mean += c
		}
		mean /= float64(period)
		std := windowStdDev(window, mean)
		if std > 0 {
			result[i] = (closes[i] - mean) / std
		}
	}
	return result
}

// ATR is the average true range over the period, computed as an SMA of
// true ranges. The first bar's true range is its high-low span.
func ATR(bars []types.OHLCVBar, period int) []float64 {
	if len(bars) < 2 {
		return make([]float64, len(bars))
	}

	trueRanges := make([]float64, len(bars))
	trueRanges[0] = bars[0].High - bars[0].Low
	for i := 1; i < len(bars); i++ {
		tr := bars[i].High - bars[i].Low
		tr = math.Max(tr, math.Abs(bars[i].High-bars[i-1].Close))
		tr = math.Max(tr, math.Abs(bars[i].Low-bars[i-1].Close))
		trueRanges[i] = tr
	}
	return SMA(trueRanges, period)
}

// MACD returns (macdLine, signalLine, histogram) for the classic
// fast/slow/signal EMA construction.
func MACD(closes []float64, fast, slow, signalPeriod int) (macdLine, signalLine, histogram []float64) {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	macdLine = make([]float64, len(closes))
	for i := range closes {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine = EMA(macdLine, signalPeriod)
	histogram = make([]float64, len(closes))
	for i := range closes {
		histogram[i] = macdLine[i] - signalLine[i]
	}
	return macdLine, signalLine, histogram
}

// VWAP is the cumulative volume-weighted average price using
// (high+low+close)/3 as the typical price. Bars with no cumulative
// volume yet report the typical price itself.
func VWAP(bars []types.OHLCVBar) []float64 {
	result := make([]float64, len(bars))
	var cumTPVol, cumVol float64
	for i, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		cumTPVol += typical * b.Volume
		cumVol += b.Volume
		if cumVol > 0 {
			result[i] = cumTPVol / cumVol
		} else {
			result[i] = typical
		}
	}
	return result
}

// ROC is the rate of change over the period, in percent:
// (close - close[n periods ago]) / close[n periods ago] × 100.
func ROC(closes []float64, period int) []float64 {
	result := make([]float64, len(closes))
	for i := period; i < len(closes); i++ {
		prev := closes[i-period]
		if prev != 0 {
			result[i] = (closes[i] - prev) / prev * 100
		}
	}
	return result
}

func windowStdDev(window []float64, mean float64) float64 {
	variance := 0.0
	for _, x := range window {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(window))
	return math.Sqrt(variance)
}
