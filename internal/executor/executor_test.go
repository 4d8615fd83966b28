package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/internal/broker"
	"proptrader/internal/ledger"
	"proptrader/internal/notify"
	"proptrader/internal/risk"
	"proptrader/pkg/types"
)

// tradingWednesday is 12:00 ET on a regular trading day.
var tradingWednesday = time.Date(2026, 3, 4, 17, 0, 0, 0, time.UTC)

// fakeBroker fills every order at a configured price and records the
// last request for assertions.
type fakeBroker struct {
	fillPrice decimal.Decimal
	submitErr error
	lastReq   broker.OrderRequest
	orderSeq  int
}

func (f *fakeBroker) GetAccount(ctx context.Context) (*types.BrokerAccount, error) {
	return &types.BrokerAccount{ID: "master", Equity: decimal.NewFromInt(1000000)}, nil
}

func (f *fakeBroker) GetPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	return nil, nil
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*types.BrokerOrder, error) {
	f.lastReq = req
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.orderSeq++
	return &types.BrokerOrder{
		OrderID:        "ord-" + string(rune('0'+f.orderSeq)),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Status:         "filled",
		FilledAvgPrice: f.fillPrice,
	}, nil
}

func (f *fakeBroker) CancelAllOrders(ctx context.Context) (int, error)   { return 0, nil }
func (f *fakeBroker) CloseAllPositions(ctx context.Context) (int, error) { return 0, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testRig struct {
	store    *ledger.Store
	broker   *fakeBroker
	executor *Executor
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	st, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	err = st.SaveRiskConfig(&ledger.RiskConfig{
		Name:                "default",
		IsActive:            true,
		MaxDailyDrawdownPct: 5,
		MaxTotalDrawdownPct: 10,
		MaxPositionSizePct:  5,
		MaxOpenPositions:    10,
		MaxDailyTrades:      50,
		DailyLossLimit:      decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatal(err)
	}

	bk := &fakeBroker{fillPrice: decimal.NewFromFloat(150.25)}
	logger := testLogger()
	gate := risk.NewGate(st, bk, nil, logger).WithClock(func() time.Time { return tradingWednesday })
	router := broker.NewRouter(bk, "PFRM_IB")
	notifier := notify.New("", logger)
	exec := New(st, gate, router, notifier, logger)

	return &testRig{store: st, broker: bk, executor: exec}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func insertPriorBuy(t *testing.T, st *ledger.Store, symbol, qty, price, accountID string) {
	t.Helper()
	err := st.InsertTrade(&ledger.Trade{
		Symbol:          symbol,
		Side:            types.Buy,
		Quantity:        dec(qty),
		Status:          types.StatusFilled,
		FillPrice:       decimal.NullDecimal{Decimal: dec(price), Valid: true},
		CostBasis:       decimal.NullDecimal{Decimal: dec(price), Valid: true},
		BrokerAccountID: accountID,
		Strategy:        "momentum_v1",
		RiskApproved:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

// S1 — accepted buy: default config, no prior trades, the broker fills
// at 150.25. One filled trade with cost_basis = fill price.
func TestAcceptedBuy(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	signal := types.Signal{
		Action:       types.ActionBuy,
		Ticker:       "AAPL",
		Quantity:     decimal.NewFromInt(10),
		Price:        decimal.NewFromInt(150),
		StrategyName: "momentum_v1",
	}
	trades, err := rig.executor.ExecuteSignal(context.Background(), signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}

	trade := trades[0]
	if trade.Status != types.StatusFilled {
		t.Errorf("status = %s, want filled", trade.Status)
	}
	if !trade.RiskApproved {
		t.Error("risk_approved = false, want true")
	}
	if !trade.CostBasis.Valid || !trade.CostBasis.Decimal.Equal(dec("150.25")) {
		t.Errorf("cost basis = %+v, want 150.25", trade.CostBasis)
	}
	if trade.BrokerOrderID == "" {
		t.Error("broker order id missing")
	}

	// Persisted row matches.
	got, err := rig.store.GetTrade(trade.TradeID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusFilled || !got.CostBasis.Decimal.Equal(dec("150.25")) {
		t.Errorf("persisted trade mismatch: %+v", got)
	}
}

// S2 — profitable sell: a prior buy at 150, sell 10 filled at 160 →
// cost_basis 150, realized_pnl 100.
func TestProfitableSell(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	insertPriorBuy(t, rig.store, "AAPL", "10", "150.00", "")
	rig.broker.fillPrice = decimal.NewFromInt(160)

	signal := types.Signal{
		Action:       types.ActionSell,
		Ticker:       "AAPL",
		Quantity:     decimal.NewFromInt(10),
		Price:        decimal.NewFromInt(160),
		StrategyName: "momentum_v1",
	}
	trades, err := rig.executor.ExecuteSignal(context.Background(), signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}

	trade := trades[0]
	if !trade.CostBasis.Valid || !trade.CostBasis.Decimal.Equal(dec("150.00")) {
		t.Errorf("cost basis = %+v, want 150.00", trade.CostBasis)
	}
	if !trade.RealizedPnL.Valid || !trade.RealizedPnL.Decimal.Equal(dec("100.00")) {
		t.Errorf("realized pnl = %+v, want 100.00", trade.RealizedPnL)
	}
}

// S3 — sell below cost basis is rejected with a qty-0 stub.
func TestSellBelowCostRejected(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	insertPriorBuy(t, rig.store, "TSLA", "5", "200.00", "")

	signal := types.Signal{
		Action:       types.ActionSell,
		Ticker:       "TSLA",
		Quantity:     decimal.NewFromInt(5),
		Price:        decimal.NewFromInt(180),
		StrategyName: "momentum_v1",
	}
	trades, err := rig.executor.ExecuteSignal(context.Background(), signal)
	if !errors.Is(err, ErrBlockAborted) {
		t.Fatalf("err = %v, want ErrBlockAborted", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1 rejection stub", len(trades))
	}

	stub := trades[0]
	if stub.Status != types.StatusRejected {
		t.Errorf("status = %s, want rejected", stub.Status)
	}
	if !stub.Quantity.IsZero() {
		t.Errorf("stub quantity = %s, want 0", stub.Quantity)
	}
	if !strings.Contains(stub.RiskReason, "cost basis") {
		t.Errorf("risk reason = %q, want cost basis message", stub.RiskReason)
	}
}

// S4 — kill switch rejects any signal.
func TestKillSwitchRejects(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	if err := rig.store.SetKillSwitch(true); err != nil {
		t.Fatal(err)
	}

	signal := types.Signal{
		Action:       types.ActionBuy,
		Ticker:       "AAPL",
		Quantity:     decimal.NewFromInt(1),
		Price:        decimal.NewFromInt(100),
		StrategyName: "momentum_v1",
	}
	trades, err := rig.executor.ExecuteSignal(context.Background(), signal)
	if !errors.Is(err, ErrBlockAborted) {
		t.Fatalf("err = %v, want ErrBlockAborted", err)
	}
	if len(trades) != 1 || trades[0].Status != types.StatusRejected {
		t.Fatalf("want one rejection stub, got %+v", trades)
	}
	if !strings.Contains(trades[0].RiskReason, "Kill switch") {
		t.Errorf("risk reason = %q", trades[0].RiskReason)
	}
}

// S6 — block proration: two accounts with 60k and 40k equity split a
// 10-share block 6/4, sharing one broker_order_id and fill price.
func TestBlockProration(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	accounts := []struct {
		number, brokerID string
		size             int64
	}{
		{"N-1", "BRK-1", 60000},
		{"N-2", "BRK-2", 40000},
	}
	for _, a := range accounts {
		err := rig.store.SaveAccount(&ledger.PropFirmAccount{
			Name:                a.number,
			Firm:                "ftmo",
			AccountNumber:       a.number,
			BrokerAccountID:     a.brokerID,
			Phase:               types.PhaseEvaluation,
			IsActive:            true,
			AccountSize:         decimal.NewFromInt(a.size),
			MaxTotalDrawdownPct: 10,
			ProfitTargetPct:     10,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	err := rig.store.SaveStrategy(&ledger.StrategyDef{
		Name:           "momentum_v1",
		IsActive:       true,
		AccountNumbers: []string{"N-1", "N-2"},
		CustomParams:   map[string]any{"strategy_type": "momentum_breakout"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rig.broker.fillPrice = decimal.NewFromInt(150)
	signal := types.Signal{
		Action:       types.ActionBuy,
		Ticker:       "AAPL",
		Quantity:     decimal.NewFromInt(10),
		Price:        decimal.NewFromInt(150),
		StrategyName: "momentum_v1",
	}
	trades, err := rig.executor.ExecuteSignal(context.Background(), signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}

	byAccount := map[string]*ledger.Trade{}
	total := decimal.Decimal{}
	for _, trade := range trades {
		byAccount[trade.BrokerAccountID] = trade
		total = total.Add(trade.Quantity)

		// Block consistency: shared order ID and fill price.
		if trade.BrokerOrderID != trades[0].BrokerOrderID {
			t.Errorf("broker order ids differ: %s vs %s", trade.BrokerOrderID, trades[0].BrokerOrderID)
		}
		if !trade.FillPrice.Decimal.Equal(dec("150")) {
			t.Errorf("fill price = %+v, want 150", trade.FillPrice)
		}
	}
	if !byAccount["BRK-1"].Quantity.Equal(dec("6")) {
		t.Errorf("BRK-1 quantity = %s, want 6", byAccount["BRK-1"].Quantity)
	}
	if !byAccount["BRK-2"].Quantity.Equal(dec("4")) {
		t.Errorf("BRK-2 quantity = %s, want 4", byAccount["BRK-2"].Quantity)
	}
	if total.GreaterThan(dec("10")) {
		t.Errorf("Σ quantity = %s, want ≤ 10", total)
	}
}

// Partial block: one account rejected, the other fills its prorated
// share; the rejection stub stays in the result set.
func TestBlockPartialRejection(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	healthy := &ledger.PropFirmAccount{
		Name: "healthy", Firm: "ftmo", AccountNumber: "N-1", BrokerAccountID: "BRK-1",
		Phase: types.PhaseEvaluation, IsActive: true,
		AccountSize: decimal.NewFromInt(50000), MaxTotalDrawdownPct: 10, ProfitTargetPct: 10,
	}
	underwater := &ledger.PropFirmAccount{
		Name: "underwater", Firm: "ftmo", AccountNumber: "N-2", BrokerAccountID: "BRK-2",
		Phase: types.PhaseEvaluation, IsActive: true,
		AccountSize: decimal.NewFromInt(50000), MaxTotalDrawdownPct: 10, ProfitTargetPct: 10,
	}
	for _, a := range []*ledger.PropFirmAccount{healthy, underwater} {
		if err := rig.store.SaveAccount(a); err != nil {
			t.Fatal(err)
		}
	}
	err := rig.store.SaveStrategy(&ledger.StrategyDef{
		Name:           "momentum_v1",
		IsActive:       true,
		AccountNumbers: []string{"N-1", "N-2"},
		CustomParams:   map[string]any{"strategy_type": "momentum_breakout"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// N-2 holds NVDA at a 300 basis — selling at 250 fails its gate,
	// while N-1 (basis 200) passes.
	insertPriorBuy(t, rig.store, "NVDA", "10", "200", "BRK-1")
	insertPriorBuy(t, rig.store, "NVDA", "10", "300", "BRK-2")

	rig.broker.fillPrice = decimal.NewFromInt(250)
	signal := types.Signal{
		Action:       types.ActionSell,
		Ticker:       "NVDA",
		Quantity:     decimal.NewFromInt(10),
		Price:        decimal.NewFromInt(250),
		StrategyName: "momentum_v1",
	}
	trades, err := rig.executor.ExecuteSignal(context.Background(), signal)
	if err != nil {
		t.Fatal(err)
	}

	var stubs, fills int
	for _, trade := range trades {
		switch trade.Status {
		case types.StatusRejected:
			stubs++
			if trade.BrokerAccountID != "BRK-2" {
				t.Errorf("rejected account = %s, want BRK-2", trade.BrokerAccountID)
			}
		case types.StatusFilled:
			fills++
			if trade.BrokerAccountID != "BRK-1" {
				t.Errorf("filled account = %s, want BRK-1", trade.BrokerAccountID)
			}
		}
	}
	if stubs != 1 || fills != 1 {
		t.Errorf("stubs=%d fills=%d, want 1/1", stubs, fills)
	}
}

func TestOrderTypeSelection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		signal    types.Signal
		wantType  types.OrderType
		wantLimit string
	}{
		{
			name: "priced buy gets +1% limit cap",
			signal: types.Signal{
				Action: types.ActionBuy, Price: dec("100"),
			},
			wantType:  types.Limit,
			wantLimit: "101",
		},
		{
			name: "priced sell gets -1% limit floor",
			signal: types.Signal{
				Action: types.ActionSell, Price: dec("100"), Reason: "take profit",
			},
			wantType:  types.Limit,
			wantLimit: "99",
		},
		{
			name: "panic sell goes to market",
			signal: types.Signal{
				Action: types.ActionSell, Price: dec("100"), Reason: "PANIC: flash crash",
			},
			wantType: types.Market,
		},
		{
			name: "stop sell goes to market",
			signal: types.Signal{
				Action: types.ActionSell, Price: dec("100"), Reason: "Stop loss hit: -3.2%",
			},
			wantType: types.Market,
		},
		{
			name:     "unpriced signal goes to market",
			signal:   types.Signal{Action: types.ActionBuy},
			wantType: types.Market,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			orderType, limit := chooseOrderType(tc.signal)
			if orderType != tc.wantType {
				t.Errorf("order type = %s, want %s", orderType, tc.wantType)
			}
			if tc.wantLimit == "" && limit != nil {
				t.Errorf("limit = %s, want none", limit)
			}
			if tc.wantLimit != "" && (limit == nil || !limit.Equal(dec(tc.wantLimit))) {
				t.Errorf("limit = %v, want %s", limit, tc.wantLimit)
			}
		})
	}
}

func TestBrokerSubmitErrorCreatesErrorTrades(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	rig.broker.submitErr = errors.New("503 service unavailable")

	signal := types.Signal{
		Action:       types.ActionBuy,
		Ticker:       "AAPL",
		Quantity:     decimal.NewFromInt(10),
		Price:        decimal.NewFromInt(150),
		StrategyName: "momentum_v1",
	}
	trades, err := rig.executor.ExecuteSignal(context.Background(), signal)
	if err == nil {
		t.Fatal("want submit error surfaced to caller")
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1 error row", len(trades))
	}
	if trades[0].Status != types.StatusError {
		t.Errorf("status = %s, want error", trades[0].Status)
	}
	if trades[0].ErrorMessage == "" {
		t.Error("error message missing")
	}
}
