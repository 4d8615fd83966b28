package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

func insertFilled(t *testing.T, st *Store, symbol string, side types.Side, qty, fillPrice, costBasis string, pnl string, accountID, strategyName string) *Trade {
	t.Helper()
	trade := &Trade{
		Symbol:          symbol,
		Side:            side,
		Quantity:        dec(qty),
		Status:          types.StatusFilled,
		FillPrice:       nd(fillPrice),
		CostBasis:       nd(costBasis),
		Strategy:        strategyName,
		BrokerAccountID: accountID,
		RiskApproved:    true,
	}
	if pnl != "" {
		trade.RealizedPnL = nd(pnl)
	}
	if err := st.InsertTrade(trade); err != nil {
		t.Fatalf("insert trade: %v", err)
	}
	return trade
}

func TestInsertAndGetTradeRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	trade := &Trade{
		Symbol:         "AAPL",
		Side:           types.Buy,
		Quantity:       dec("10"),
		OrderType:      types.Limit,
		Status:         types.StatusSubmitted,
		RequestedPrice: nd("150.00"),
		Strategy:       "momentum_v1",
		BrokerOrderID:  "ord-1",
		RiskApproved:   true,
		RiskReason:     "Passed block check",
	}
	if err := st.InsertTrade(trade); err != nil {
		t.Fatal(err)
	}
	if trade.TradeID == "" {
		t.Fatal("trade ID not assigned")
	}

	got, err := st.GetTrade(trade.TradeID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Symbol != "AAPL" || got.Side != types.Buy || !got.Quantity.Equal(dec("10")) {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Status != types.StatusSubmitted || got.OrderType != types.Limit {
		t.Errorf("status/type mismatch: %s %s", got.Status, got.OrderType)
	}
	if !got.RequestedPrice.Valid || !got.RequestedPrice.Decimal.Equal(dec("150.00")) {
		t.Errorf("requested price mismatch: %+v", got.RequestedPrice)
	}
	if got.FillPrice.Valid {
		t.Error("fill price should be null before fill")
	}
}

func TestGetTradeNotFound(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	if _, err := st.GetTrade("trd_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTradeImmutableOnceTerminal(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	trade := insertFilled(t, st, "AAPL", types.Buy, "10", "150.25", "150.25", "", "", "momentum_v1")

	// Changing symbol or side is rejected outright.
	mutated := *trade
	mutated.Symbol = "TSLA"
	if err := st.UpdateTradeFill(&mutated); !errors.Is(err, ErrImmutable) {
		t.Errorf("symbol change = %v, want ErrImmutable", err)
	}
	mutated = *trade
	mutated.Side = types.Sell
	if err := st.UpdateTradeFill(&mutated); !errors.Is(err, ErrImmutable) {
		t.Errorf("side change = %v, want ErrImmutable", err)
	}

	// A different fill against a terminal trade is rejected.
	mutated = *trade
	mutated.FillPrice = nd("151.00")
	if err := st.UpdateTradeFill(&mutated); !errors.Is(err, ErrImmutable) {
		t.Errorf("terminal refill = %v, want ErrImmutable", err)
	}

	// Reapplying identical values is an idempotent no-op.
	same := *trade
	if err := st.UpdateTradeFill(&same); err != nil {
		t.Errorf("idempotent reapply = %v, want nil", err)
	}
}

func TestTradeStatusTransitions(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	trade := &Trade{
		Symbol:   "AAPL",
		Side:     types.Buy,
		Quantity: dec("5"),
		Status:   types.StatusSubmitted,
		Strategy: "momentum_v1",
	}
	if err := st.InsertTrade(trade); err != nil {
		t.Fatal(err)
	}

	// submitted → filled is legal.
	trade.Status = types.StatusFilled
	trade.FillPrice = nd("101.00")
	if err := st.UpdateTradeFill(trade); err != nil {
		t.Fatalf("submitted→filled: %v", err)
	}

	// filled → cancelled is not.
	if err := st.MarkTradeStatus(trade.TradeID, types.StatusCancelled, ""); !errors.Is(err, ErrImmutable) {
		t.Errorf("filled→cancelled = %v, want ErrImmutable", err)
	}
}

func TestPartialMayCompleteIntoFilled(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	trade := &Trade{
		Symbol:   "MSFT",
		Side:     types.Buy,
		Quantity: dec("20"),
		Status:   types.StatusSubmitted,
		Strategy: "momentum_v1",
	}
	if err := st.InsertTrade(trade); err != nil {
		t.Fatal(err)
	}

	trade.Status = types.StatusPartial
	trade.Quantity = dec("12")
	trade.FillPrice = nd("300.00")
	if err := st.UpdateTradeFill(trade); err != nil {
		t.Fatalf("submitted→partial: %v", err)
	}

	trade.Status = types.StatusFilled
	trade.Quantity = dec("20")
	if err := st.UpdateTradeFill(trade); err != nil {
		t.Fatalf("partial→filled: %v", err)
	}
}

func TestDailyAggregates(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	now := time.Now()

	insertFilled(t, st, "AAPL", types.Sell, "10", "160", "150", "-120.50", "", "momentum_v1")
	insertFilled(t, st, "TSLA", types.Sell, "5", "180", "200", "-79.50", "", "momentum_v1")
	insertFilled(t, st, "MSFT", types.Sell, "5", "310", "300", "50.00", "", "momentum_v1")
	// A pending trade counts toward the trade count, not P&L.
	pending := &Trade{Symbol: "NVDA", Side: types.Buy, Quantity: dec("1"), Strategy: "momentum_v1"}
	if err := st.InsertTrade(pending); err != nil {
		t.Fatal(err)
	}

	pnl, err := st.DailyRealizedPnL(now)
	if err != nil {
		t.Fatal(err)
	}
	if !pnl.Equal(dec("-150.00")) {
		t.Errorf("daily pnl = %s, want -150.00", pnl)
	}

	count, err := st.DailyTradeCount(now)
	if err != nil {
		t.Fatal(err)
	}
	if count != 4 {
		t.Errorf("daily trade count = %d, want 4", count)
	}
}

func TestOpenPositionCount(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	insertFilled(t, st, "AAPL", types.Buy, "10", "150", "150", "", "", "s")
	insertFilled(t, st, "TSLA", types.Buy, "5", "200", "200", "", "", "s")
	insertFilled(t, st, "TSLA", types.Sell, "5", "210", "200", "50", "", "s")

	count, err := st.OpenPositionCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("open positions = %d, want 1 (AAPL only)", count)
	}
}

func TestAverageCostBasisWeighted(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	// 10 @ 100 and 30 @ 120 → (1000 + 3600) / 40 = 115
	insertFilled(t, st, "AAPL", types.Buy, "10", "100", "100", "", "", "s")
	insertFilled(t, st, "AAPL", types.Buy, "30", "120", "120", "", "", "s")

	avg, ok, err := st.AverageCostBasis("AAPL", "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a cost basis")
	}
	if !avg.Equal(dec("115")) {
		t.Errorf("avg cost = %s, want 115", avg)
	}
}

func TestAverageCostBasisScopes(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	insertFilled(t, st, "AAPL", types.Buy, "10", "100", "100", "", "ACCT-1", "s")
	insertFilled(t, st, "AAPL", types.Buy, "10", "200", "200", "", "ACCT-2", "s")

	// Per-account scope.
	avg, ok, err := st.AverageCostBasis("AAPL", "ACCT-1")
	if err != nil || !ok {
		t.Fatalf("per-account basis: ok=%v err=%v", ok, err)
	}
	if !avg.Equal(dec("100")) {
		t.Errorf("ACCT-1 avg = %s, want 100", avg)
	}

	// Global scope spans both accounts.
	avg, ok, err = st.AverageCostBasis("AAPL", "")
	if err != nil || !ok {
		t.Fatalf("global basis: ok=%v err=%v", ok, err)
	}
	if !avg.Equal(dec("150")) {
		t.Errorf("global avg = %s, want 150", avg)
	}
}

func TestAverageCostBasisNoBuys(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	_, ok, err := st.AverageCostBasis("GOOG", "")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected no cost basis for unseen symbol")
	}
}

func TestOpenPositionQuantityNets(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	insertFilled(t, st, "AAPL", types.Buy, "10", "100", "100", "", "", "s")
	insertFilled(t, st, "AAPL", types.Buy, "6", "110", "110", "", "", "s")
	insertFilled(t, st, "AAPL", types.Sell, "4", "120", "103.75", "65", "", "s")

	qty, err := st.OpenPositionQuantity("AAPL", "")
	if err != nil {
		t.Fatal(err)
	}
	if !qty.Equal(dec("12")) {
		t.Errorf("open qty = %s, want 12", qty)
	}
}

func TestSellOutcomes(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	insertFilled(t, st, "AAPL", types.Sell, "1", "110", "100", "10", "", "alpha")
	insertFilled(t, st, "AAPL", types.Sell, "1", "90", "100", "-10", "", "alpha")
	insertFilled(t, st, "AAPL", types.Sell, "1", "120", "100", "20", "", "beta")
	insertFilled(t, st, "AAPL", types.Buy, "1", "100", "100", "", "", "alpha")

	outcomes, err := st.SellOutcomes("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
}

func TestTradesByBrokerOrderID(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	for i := 0; i < 2; i++ {
		trade := &Trade{
			Symbol: "AAPL", Side: types.Buy, Quantity: dec("5"),
			Status: types.StatusSubmitted, Strategy: "s", BrokerOrderID: "block-1",
		}
		if err := st.InsertTrade(trade); err != nil {
			t.Fatal(err)
		}
	}

	trades, err := st.TradesByBrokerOrderID("block-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 {
		t.Errorf("block trades = %d, want 2", len(trades))
	}

	none, err := st.TradesByBrokerOrderID("")
	if err != nil || none != nil {
		t.Errorf("empty order id should return nothing, got %v, %v", none, err)
	}
}
