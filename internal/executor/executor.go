// Package executor is the coordination hot path: it turns one validated
// signal into a single aggregated block order at the broker and a set
// of per-account ledger entries.
//
// Pipeline:
//
//  1. Resolve the candidate accounts from the signal's strategy.
//  2. Run the risk gate per account; rejected accounts become qty-0
//     rejection stubs and drop out of the block.
//  3. Aggregate the surviving accounts into ONE master order with
//     slippage-capped pricing.
//  4. Submit the block through the routing layer (institutional tag).
//  5. Prorate the master fill across accounts by equity weight and
//     materialize one Trade per account sharing the master order ID.
//  6. Track cost basis on buys and realized P&L on sells.
//
// The block is all-or-nothing at the broker: per-account rows reflect
// whatever status the single master call returned, and nothing is
// partially retried.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"proptrader/internal/broker"
	"proptrader/internal/ledger"
	"proptrader/internal/metrics"
	"proptrader/internal/notify"
	"proptrader/internal/risk"
	"proptrader/pkg/types"
)

// ErrBlockAborted is returned when every candidate account failed the
// risk gate and no order reached the broker.
var ErrBlockAborted = errors.New("block trade aborted: all accounts failed risk check")

// Executor routes approved signals to the broker and materializes the
// resulting ledger entries.
type Executor struct {
	ledger   *ledger.Store
	gate     *risk.Gate
	router   *broker.Router
	notifier *notify.Notifier
	logger   *slog.Logger
}

// New creates an executor.
func New(st *ledger.Store, gate *risk.Gate, router *broker.Router, notifier *notify.Notifier, logger *slog.Logger) *Executor {
	return &Executor{
		ledger:   st,
		gate:     gate,
		router:   router,
		notifier: notifier,
		logger:   logger.With("component", "executor"),
	}
}

// ExecuteSignal runs the block pipeline for one validated signal.
// It always returns every Trade it persisted (rejection stubs
// included). The error is non-nil when the master submit failed or when
// every account was rejected — callers on the webhook path surface it
// as a 500, the internal path logs and alerts.
func (e *Executor) ExecuteSignal(ctx context.Context, signal types.Signal) ([]*ledger.Trade, error) {
	accounts, err := e.resolveAccounts(signal.StrategyName)
	if err != nil {
		return nil, err
	}

	// Per-account risk gate. Rejected accounts produce a qty-0 stub and
	// leave the block.
	var (
		approved []*ledger.PropFirmAccount
		trades   []*ledger.Trade
	)
	for _, account := range accounts {
		ok, reason := e.gate.CheckTrade(ctx, signal, account)
		if ok {
			approved = append(approved, account)
			continue
		}
		stub := &ledger.Trade{
			Symbol:          signal.Ticker,
			Side:            signal.Side(),
			Quantity:        decimal.Decimal{},
			Status:          types.StatusRejected,
			Strategy:        signal.StrategyName,
			WebhookID:       signal.WebhookID,
			BrokerAccountID: brokerAccountID(account),
			RiskApproved:    false,
			RiskReason:      reason,
			ErrorMessage:    reason,
		}
		if err := e.ledger.InsertTrade(stub); err != nil {
			return trades, fmt.Errorf("persist rejection stub: %w", err)
		}
		metrics.TradesRejected.Inc()
		e.logger.Warn("trade rejected", "account", stub.BrokerAccountID, "reason", reason)
		trades = append(trades, stub)
	}

	if len(approved) == 0 {
		e.logger.Warn("block trade aborted: all accounts failed risk check",
			"strategy", signal.StrategyName)
		return trades, ErrBlockAborted
	}

	// The signal quantity is the portfolio-level master size.
	totalQuantity := signal.Quantity
	orderType, limitPrice := chooseOrderType(signal)

	req := broker.OrderRequest{
		Symbol:      signal.Ticker,
		Qty:         totalQuantity.String(),
		Side:        signal.Side(),
		Type:        orderType,
		TimeInForce: "day",
	}
	if limitPrice != nil {
		req.LimitPrice = limitPrice.String()
	}

	status := types.StatusSubmitted
	errorMessage := ""
	masterOrderID := ""
	var masterFill decimal.NullDecimal

	order, submitErr := e.router.SubmitBlockOrder(ctx, signal.StrategyName, req)
	if submitErr != nil {
		status = types.StatusError
		errorMessage = submitErr.Error()
		e.logger.Error("master block trade failed", "error", submitErr)
	} else {
		masterOrderID = order.OrderID
		if order.FilledAvgPrice.IsPositive() {
			masterFill = decimal.NullDecimal{Decimal: order.FilledAvgPrice, Valid: true}
			status = types.StatusFilled
		}
	}

	// Prorate the block quantity across approved accounts by equity
	// weight. Uniform weights when total equity is unknown or zero.
	weights, err := e.accountWeights(approved)
	if err != nil {
		return trades, err
	}

	for i, account := range approved {
		acctQty := totalQuantity
		if account != nil {
			acctQty = totalQuantity.Mul(weights[i])
		}

		trade := &ledger.Trade{
			TradeID:         ledger.NewTradeID(),
			Symbol:          signal.Ticker,
			Side:            signal.Side(),
			Quantity:        acctQty,
			OrderType:       orderType,
			Status:          status,
			Strategy:        signal.StrategyName,
			WebhookID:       signal.WebhookID,
			BrokerOrderID:   masterOrderID,
			BrokerAccountID: brokerAccountID(account),
			RiskApproved:    true,
			RiskReason:      "Passed block check",
			ErrorMessage:    errorMessage,
		}
		if signal.Price.IsPositive() {
			trade.RequestedPrice = decimal.NullDecimal{Decimal: signal.Price, Valid: true}
		}
		if status == types.StatusFilled && masterFill.Valid {
			trade.FillPrice = masterFill
			e.updateCostBasis(trade)
		}

		if err := e.ledger.InsertTrade(trade); err != nil {
			return trades, fmt.Errorf("persist block trade: %w", err)
		}
		trades = append(trades, trade)

		switch status {
		case types.StatusFilled:
			metrics.TradesFilled.Inc()
			e.notifier.TradeAlert(trade)
		case types.StatusSubmitted:
			metrics.TradesSubmitted.Inc()
		case types.StatusError:
			metrics.TradeErrors.Inc()
		}
	}

	if submitErr != nil {
		return trades, fmt.Errorf("submit block order: %w", submitErr)
	}
	return trades, nil
}

// resolveAccounts returns the candidate accounts for a strategy. A nil
// entry stands for the default (master) broker account.
func (e *Executor) resolveAccounts(strategyName string) ([]*ledger.PropFirmAccount, error) {
	def, err := e.ledger.GetStrategy(strategyName)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("resolve strategy: %w", err)
	}

	if def != nil && def.IsActive && len(def.AccountNumbers) > 0 {
		accounts, err := e.ledger.ActiveAccountsByNumbers(def.AccountNumbers)
		if err != nil {
			return nil, fmt.Errorf("resolve accounts: %w", err)
		}
		if len(accounts) > 0 {
			return accounts, nil
		}
	}
	return []*ledger.PropFirmAccount{nil}, nil
}

// accountWeights computes each account's equity share of the block.
func (e *Executor) accountWeights(accounts []*ledger.PropFirmAccount) ([]decimal.Decimal, error) {
	equities := make([]decimal.Decimal, len(accounts))
	total := decimal.Decimal{}
	for i, account := range accounts {
		if account == nil {
			continue
		}
		eq, err := e.ledger.AccountEquity(account)
		if err != nil {
			return nil, fmt.Errorf("account equity: %w", err)
		}
		equities[i] = eq
		total = total.Add(eq)
	}

	weights := make([]decimal.Decimal, len(accounts))
	uniform := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(accounts))))
	for i := range accounts {
		if total.IsPositive() {
			weights[i] = equities[i].Div(total)
		} else {
			weights[i] = uniform
		}
	}
	return weights, nil
}

// chooseOrderType applies the slippage rules: buys with a known price
// get a limit 1% above it, sells 1% below — unless the sell reason
// carries panic/stop language, which forces a market order out.
func chooseOrderType(signal types.Signal) (types.OrderType, *decimal.Decimal) {
	if !signal.Price.IsPositive() {
		return types.Market, nil
	}

	switch signal.Action {
	case types.ActionBuy:
		limit := signal.Price.Mul(decimal.NewFromFloat(1.01))
		return types.Limit, &limit
	case types.ActionSell:
		reason := strings.ToLower(signal.Reason)
		if strings.Contains(reason, "panic") || strings.Contains(reason, "stop") {
			return types.Market, nil
		}
		limit := signal.Price.Mul(decimal.NewFromFloat(0.99))
		return types.Limit, &limit
	}
	return types.Market, nil
}

// updateCostBasis tracks cost basis on buys and realized P&L on sells.
// Buy: cost_basis = fill_price. Sell: realized_pnl =
// (fill_price − avg_cost) × quantity, with avg_cost scoped to the
// trade's broker account (global when the trade has none).
func (e *Executor) updateCostBasis(trade *ledger.Trade) {
	if !trade.FillPrice.Valid {
		return
	}

	if trade.Side == types.Buy {
		trade.CostBasis = trade.FillPrice
		e.logger.Info("cost basis set",
			"trade_id", trade.TradeID, "symbol", trade.Symbol,
			"cost_basis", trade.CostBasis.Decimal.String())
		return
	}

	avgCost, ok, err := e.ledger.AverageCostBasis(trade.Symbol, trade.BrokerAccountID)
	if err != nil {
		e.logger.Error("cost basis lookup failed", "trade_id", trade.TradeID, "error", err)
		return
	}
	if !ok || !avgCost.IsPositive() {
		trade.RealizedPnL = decimal.NullDecimal{Decimal: decimal.Decimal{}, Valid: true}
		e.logger.Warn("no cost basis found, P&L set to 0",
			"trade_id", trade.TradeID, "symbol", trade.Symbol)
		return
	}

	trade.CostBasis = decimal.NullDecimal{Decimal: avgCost, Valid: true}
	pnl := trade.FillPrice.Decimal.Sub(avgCost).Mul(trade.Quantity)
	trade.RealizedPnL = decimal.NullDecimal{Decimal: pnl, Valid: true}
	e.logger.Info("sell P&L realized",
		"trade_id", trade.TradeID, "symbol", trade.Symbol,
		"fill_price", trade.FillPrice.Decimal.String(),
		"cost_basis", avgCost.String(),
		"realized_pnl", pnl.String())
}

// brokerAccountID is the ledger scope key for an account's trades.
// The nil (default master) account scopes globally.
func brokerAccountID(a *ledger.PropFirmAccount) string {
	if a == nil {
		return ""
	}
	return a.TradeScopeID()
}
