package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/internal/broker"
	"proptrader/internal/config"
	"proptrader/internal/executor"
	"proptrader/internal/ledger"
	"proptrader/internal/notify"
	"proptrader/internal/risk"
	"proptrader/pkg/types"
)

var tradingWednesday = time.Date(2026, 3, 4, 17, 0, 0, 0, time.UTC)

type fakeBroker struct {
	fillPrice decimal.Decimal
	submitErr error
}

func (f *fakeBroker) GetAccount(ctx context.Context) (*types.BrokerAccount, error) {
	return &types.BrokerAccount{Equity: decimal.NewFromInt(1000000)}, nil
}
func (f *fakeBroker) GetPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	return nil, nil
}
func (f *fakeBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*types.BrokerOrder, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &types.BrokerOrder{
		OrderID:        "ord-1",
		Symbol:         req.Symbol,
		Side:           req.Side,
		Status:         "filled",
		FilledAvgPrice: f.fillPrice,
	}, nil
}
func (f *fakeBroker) CancelAllOrders(ctx context.Context) (int, error)   { return 0, nil }
func (f *fakeBroker) CloseAllPositions(ctx context.Context) (int, error) { return 0, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, bk *fakeBroker) (*Server, *ledger.Store) {
	t.Helper()
	st, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	err = st.SaveRiskConfig(&ledger.RiskConfig{
		Name: "default", IsActive: true,
		MaxDailyDrawdownPct: 5, MaxTotalDrawdownPct: 10, MaxPositionSizePct: 5,
		MaxOpenPositions: 10, MaxDailyTrades: 50,
		DailyLossLimit: decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatal(err)
	}

	logger := testLogger()
	gate := risk.NewGate(st, bk, nil, logger).WithClock(func() time.Time { return tradingWednesday })
	router := broker.NewRouter(bk, "PFRM_IB")
	exec := executor.New(st, gate, router, notify.New("", logger), logger)

	cfg := config.WebhookConfig{
		Port:       8000,
		AuthToken:  "secret-token",
		RateBurst:  100,
		RatePerSec: 100,
	}
	return NewServer(cfg, st, exec, logger), st
}

func postWebhook(s *Server, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		json.NewEncoder(&buf).Encode(b)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/tradingview/", &buf)
	req.RemoteAddr = "203.0.113.7:4242"
	if token != "" {
		req.Header.Set("X-API-Token", token)
	}
	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)
	return rec
}

func validPayload() map[string]string {
	return map[string]string{
		"ticker":   "AAPL",
		"action":   "buy",
		"quantity": "10",
		"price":    "185.50",
		"strategy": "momentum_v1",
	}
}

func TestWebhookDispatchSuccess(t *testing.T) {
	t.Parallel()
	bk := &fakeBroker{fillPrice: decimal.NewFromFloat(185.60)}
	s, st := newTestServer(t, bk)

	rec := postWebhook(s, "secret-token", validPayload())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			WebhookID string   `json:"webhook_id"`
			TradeIDs  []string `json:"trade_ids"`
			Symbol    string   `json:"symbol"`
			Side      string   `json:"side"`
			Quantity  string   `json:"quantity"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" {
		t.Errorf("status = %q, want success", resp.Status)
	}
	if resp.Data.Symbol != "AAPL" || resp.Data.Side != "buy" || resp.Data.Quantity != "10" {
		t.Errorf("data mismatch: %+v", resp.Data)
	}
	if len(resp.Data.TradeIDs) != 1 {
		t.Fatalf("trade ids = %v, want one", resp.Data.TradeIDs)
	}

	// The trade is in the ledger, filled, and carries the webhook id.
	trade, err := st.GetTrade(resp.Data.TradeIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	if trade.Status != types.StatusFilled {
		t.Errorf("trade status = %s, want filled", trade.Status)
	}
	if trade.WebhookID != resp.Data.WebhookID {
		t.Errorf("trade webhook id = %q, want %q", trade.WebhookID, resp.Data.WebhookID)
	}
}

func TestWebhookUnauthorized(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &fakeBroker{})

	for _, token := range []string{"", "wrong-token"} {
		rec := postWebhook(s, token, validPayload())
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rec.Code)
		}
	}
}

func TestWebhookValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &fakeBroker{})

	cases := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"missing ticker", func(p map[string]string) { delete(p, "ticker") }},
		{"bad action", func(p map[string]string) { p["action"] = "short" }},
		{"zero quantity", func(p map[string]string) { p["quantity"] = "0" }},
		{"negative quantity", func(p map[string]string) { p["quantity"] = "-5" }},
		{"non-numeric quantity", func(p map[string]string) { p["quantity"] = "ten" }},
		{"missing strategy", func(p map[string]string) { delete(p, "strategy") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPayload()
			tc.mutate(p)
			rec := postWebhook(s, "secret-token", p)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
			}
		})
	}

	rec := postWebhook(s, "secret-token", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed json: status = %d, want 400", rec.Code)
	}
}

func TestWebhookBrokerErrorReturns500(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &fakeBroker{submitErr: errors.New("503 upstream down")})

	rec := postWebhook(s, "secret-token", validPayload())
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// A fully risk-rejected signal is still a successful dispatch: the
// rejection stubs are the documented outcome, not a server error.
func TestWebhookRiskRejectionIsNot500(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t, &fakeBroker{})
	if err := st.SetKillSwitch(true); err != nil {
		t.Fatal(err)
	}

	rec := postWebhook(s, "secret-token", validPayload())
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with rejection stubs", rec.Code)
	}
}

func TestWebhookThrottle(t *testing.T) {
	t.Parallel()
	bk := &fakeBroker{fillPrice: decimal.NewFromInt(100)}
	s, _ := newTestServer(t, bk)
	s.throttle = NewThrottle(2, 0.0001) // 2 requests, then dry

	for i := 0; i < 2; i++ {
		if rec := postWebhook(s, "secret-token", validPayload()); rec.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d throttled inside burst", i)
		}
	}
	if rec := postWebhook(s, "secret-token", validPayload()); rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 after burst", rec.Code)
	}
}

func TestKillSwitchEndpoint(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &fakeBroker{})

	engaged := false
	s.SetKillSwitch(func(ctx context.Context) error {
		engaged = true
		return nil
	})

	// Wrong token first.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/killswitch", nil)
	rec := httptest.NewRecorder()
	s.handleKillSwitch(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if engaged {
		t.Fatal("kill switch fired without auth")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/killswitch", nil)
	req.Header.Set("X-API-Token", "secret-token")
	rec = httptest.NewRecorder()
	s.handleKillSwitch(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !engaged {
		t.Error("kill switch action not invoked")
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &fakeBroker{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/tradingview/", nil)
	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
