package strategy

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/pkg/types"
)

// flatBars builds n bars closing at the given price with steady volume.
func flatBars(n int, close, volume float64) []types.OHLCVBar {
	bars := make([]types.OHLCVBar, n)
	ts := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = types.OHLCVBar{
			Symbol:    "TEST",
			Timeframe: "1d",
			Timestamp: ts.AddDate(0, 0, i),
			Open:      close,
			High:      close * 1.005,
			Low:       close * 0.995,
			Close:     close,
			Volume:    volume,
		}
	}
	return bars
}

func momentumConfig() Config {
	return Config{
		Name:          "momentum_v1",
		StopLossPct:   3,
		TakeProfitPct: 6,
		Params:        map[string]any{},
	}
}

// breakoutBars produce a textbook momentum entry: a gentle uptrend, a
// final bar closing above the prior high on triple volume.
func breakoutBars() []types.OHLCVBar {
	bars := flatBars(60, 100, 1000)
	for i := range bars {
		// Sawtooth uptrend keeps RSI in the entry band instead of
		// pinning it at 100.
		c := 100 + float64(i)*0.2 + float64(i%2)*1.0
		bars[i].Open = c - 0.1
		bars[i].Close = c
		bars[i].High = c + 0.3
		bars[i].Low = c - 0.3
	}
	last := len(bars) - 1
	bars[last].Close = bars[last-1].High + 1
	bars[last].High = bars[last].Close + 0.2
	bars[last].Volume = 3000
	return bars
}

func TestRegistryConstructsAllTypes(t *testing.T) {
	t.Parallel()
	for _, st := range Types() {
		s, err := New(st, Config{Name: "x", Params: map[string]any{}})
		if err != nil {
			t.Errorf("New(%q): %v", st, err)
		}
		if s.Name() != "x" {
			t.Errorf("New(%q).Name() = %q", st, s.Name())
		}
	}
}

func TestRegistryUnknownType(t *testing.T) {
	t.Parallel()
	if _, err := New("martingale", Config{}); err == nil {
		t.Fatal("unknown strategy type should error")
	}
}

func TestMomentumBreakoutEntry(t *testing.T) {
	t.Parallel()
	s, _ := New("momentum_breakout", momentumConfig())

	bars := breakoutBars()
	sig := s.GenerateSignal("AAPL", bars)
	if sig.Action != types.ActionBuy {
		t.Fatalf("signal = %s (%s), want buy", sig.Action, sig.Reason)
	}

	// Generated entry price equals the last close.
	lastClose := decimal.NewFromFloat(bars[len(bars)-1].Close)
	if !sig.Price.Equal(lastClose) {
		t.Errorf("price = %s, want last close %s", sig.Price, lastClose)
	}
	if sig.Confidence <= 0 || sig.Confidence > 0.95 {
		t.Errorf("confidence = %v, want (0, 0.95]", sig.Confidence)
	}
}

func TestMomentumBreakoutHoldsWithoutVolume(t *testing.T) {
	t.Parallel()
	s, _ := New("momentum_breakout", momentumConfig())

	bars := breakoutBars()
	bars[len(bars)-1].Volume = 1000 // no surge
	if sig := s.GenerateSignal("AAPL", bars); sig.Action != types.ActionHold {
		t.Errorf("signal = %s, want hold without a volume surge", sig.Action)
	}
}

func TestMomentumBreakoutInsufficientData(t *testing.T) {
	t.Parallel()
	s, _ := New("momentum_breakout", momentumConfig())
	sig := s.GenerateSignal("AAPL", flatBars(5, 100, 1000))
	if sig.Action != types.ActionHold {
		t.Errorf("signal = %s, want hold on thin history", sig.Action)
	}
}

func TestStopLossAndTakeProfitLadder(t *testing.T) {
	t.Parallel()
	s, _ := New("momentum_breakout", momentumConfig())
	bars := flatBars(60, 100, 1000)
	entry := decimal.NewFromInt(100)

	// -4% against a 3% stop → sell, reason names the stop.
	sig := s.CheckExit("AAPL", entry, decimal.NewFromInt(96), bars)
	if sig.Action != types.ActionSell || !strings.Contains(sig.Reason, "Stop loss") {
		t.Errorf("stop exit = %s (%q)", sig.Action, sig.Reason)
	}

	// +7% against a 6% target → sell, reason names the target.
	sig = s.CheckExit("AAPL", entry, decimal.NewFromInt(107), bars)
	if sig.Action != types.ActionSell || !strings.Contains(sig.Reason, "Take profit") {
		t.Errorf("take profit exit = %s (%q)", sig.Action, sig.Reason)
	}
}

func TestMeanReversionEntry(t *testing.T) {
	t.Parallel()
	s, _ := New("mean_reversion", Config{
		Name:          "mr_v1",
		StopLossPct:   5,
		TakeProfitPct: 4,
		Params:        map[string]any{},
	})

	// A long uptrend keeps price above SMA200, then a violent dip
	// pierces the lower band while staying above the long average.
	bars := flatBars(260, 100, 1000)
	for i := range bars {
		c := 100 + float64(i)*0.25
		bars[i].Open, bars[i].Close = c, c
		bars[i].High, bars[i].Low = c+0.3, c-0.3
	}
	last := len(bars) - 1
	dip := bars[last-1].Close * 0.93
	bars[last].Close = dip
	bars[last].Low = dip - 0.3

	sig := s.GenerateSignal("KO", bars)
	if sig.Action != types.ActionBuy {
		t.Fatalf("signal = %s (%s), want buy on the dip", sig.Action, sig.Reason)
	}
	if !sig.Price.Equal(decimal.NewFromFloat(dip)) {
		t.Errorf("price = %s, want last close", sig.Price)
	}
}

func TestSectorRotationEntryAndExit(t *testing.T) {
	t.Parallel()
	s, _ := New("sector_rotation", Config{
		Name:          "rotation_v1",
		StopLossPct:   8,
		TakeProfitPct: 15,
		Params:        map[string]any{},
	})

	// Steady growth: above SMA200 with strong 90-bar ROC.
	bars := flatBars(300, 100, 1000)
	for i := range bars {
		c := 100 * (1 + float64(i)*0.002)
		bars[i].Open, bars[i].Close = c, c
		bars[i].High, bars[i].Low = c+0.2, c-0.2
	}
	sig := s.GenerateSignal("XLK", bars)
	if sig.Action != types.ActionBuy {
		t.Fatalf("signal = %s (%s), want buy in a strong uptrend", sig.Action, sig.Reason)
	}

	// Momentum gone: a long decline turns ROC negative.
	for i := range bars {
		c := 200 - float64(i)*0.1
		bars[i].Open, bars[i].Close = c, c
		bars[i].High, bars[i].Low = c+0.2, c-0.2
	}
	entry := decimal.NewFromFloat(bars[len(bars)-1].Close)
	exit := s.CheckExit("XLK", entry, entry, bars)
	if exit.Action != types.ActionSell {
		t.Errorf("exit = %s (%s), want sell on broken trend", exit.Action, exit.Reason)
	}
}

func TestSmartDCABuysDips(t *testing.T) {
	t.Parallel()
	s, _ := New("smart_dca", Config{Name: "dca_v1", Params: map[string]any{}})

	// Price below SMA50 is a dip.
	bars := flatBars(100, 100, 1000)
	last := len(bars) - 1
	bars[last].Close = 90
	bars[last].Low = 89

	sig := s.GenerateSignal("VOO", bars)
	if sig.Action != types.ActionBuy {
		t.Fatalf("signal = %s (%s), want buy on dip", sig.Action, sig.Reason)
	}
}

func TestSmartDCANeverExits(t *testing.T) {
	t.Parallel()
	s, _ := New("smart_dca", Config{Name: "dca_v1", Params: map[string]any{}})
	bars := flatBars(100, 100, 1000)

	// Even a catastrophic drawdown holds — accumulation only.
	sig := s.CheckExit("VOO", decimal.NewFromInt(100), decimal.NewFromInt(20), bars)
	if sig.Action != types.ActionHold {
		t.Errorf("smart DCA exit = %s, want hold always", sig.Action)
	}
}

func TestRiskPerTradePositionSize(t *testing.T) {
	t.Parallel()
	s, _ := New("momentum_breakout", momentumConfig())

	// equity 100k, risk 2% = $2000; stop distance 3% of $100 = $3
	// → floor(2000/3) = 666 shares
	qty := s.PositionSize("AAPL", decimal.NewFromInt(100), decimal.NewFromInt(100000))
	if !qty.Equal(decimal.NewFromInt(666)) {
		t.Errorf("position size = %s, want 666", qty)
	}
}

func TestPositionSizeFloorsAtOne(t *testing.T) {
	t.Parallel()
	s, _ := New("momentum_breakout", momentumConfig())
	qty := s.PositionSize("BRK.A", decimal.NewFromInt(600000), decimal.NewFromInt(1000))
	if !qty.Equal(decimal.NewFromInt(1)) {
		t.Errorf("position size = %s, want floor of 1", qty)
	}
}

func TestConfidenceFilterDowngrades(t *testing.T) {
	t.Parallel()

	sig := types.Signal{
		Action:       types.ActionBuy,
		Ticker:       "AAPL",
		Confidence:   0.5,
		StrategyName: "momentum_v1",
	}
	filtered := ApplyFilters(sig, ConfidenceFilter(0.7))
	if filtered.Action != types.ActionHold {
		t.Errorf("filtered action = %s, want hold below threshold", filtered.Action)
	}

	sig.Confidence = 0.9
	filtered = ApplyFilters(sig, ConfidenceFilter(0.7))
	if filtered.Action != types.ActionBuy {
		t.Errorf("filtered action = %s, want buy above threshold", filtered.Action)
	}

	// Zero threshold disables the filter.
	sig.Confidence = 0.01
	if got := ApplyFilters(sig, ConfidenceFilter(0)); got.Action != types.ActionBuy {
		t.Errorf("disabled filter action = %s, want buy", got.Action)
	}
}

func TestRegimeFilterBlocksBearishBuys(t *testing.T) {
	t.Parallel()

	buy := types.Signal{Action: types.ActionBuy, Ticker: "AAPL"}
	sell := types.Signal{Action: types.ActionSell, Ticker: "AAPL"}
	bearish := func() string { return "bearish" }

	if got := ApplyFilters(buy, RegimeFilter(bearish)); got.Action != types.ActionHold {
		t.Errorf("bearish buy = %s, want hold", got.Action)
	}
	if got := ApplyFilters(sell, RegimeFilter(bearish)); got.Action != types.ActionSell {
		t.Errorf("bearish sell = %s, want sell (exits always allowed)", got.Action)
	}
	if got := ApplyFilters(buy, RegimeFilter(nil)); got.Action != types.ActionBuy {
		t.Errorf("nil regime provider = %s, want buy", got.Action)
	}
}
