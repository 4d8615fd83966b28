// Package types defines the shared domain types of the trade execution core:
// signals, trade lifecycle enums, OHLCV bars, and the broker wire DTOs.
//
// These are plain data plus a few small helpers (Terminal, IsActionable,
// Side); the domain logic lives in the internal packages.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Action extends Side with the non-actionable hold decision a strategy
// may emit.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// OrderType is the broker order type.
type OrderType string

const (
	Market    OrderType = "market"
	Limit     OrderType = "limit"
	Stop      OrderType = "stop"
	StopLimit OrderType = "stop_limit"
)

// TradeStatus is the lifecycle state of a Trade record.
// Transitions only move forward: pending → submitted → terminal.
type TradeStatus string

const (
	StatusPending   TradeStatus = "pending"
	StatusSubmitted TradeStatus = "submitted"
	StatusFilled    TradeStatus = "filled"
	StatusPartial   TradeStatus = "partial"
	StatusCancelled TradeStatus = "cancelled"
	StatusRejected  TradeStatus = "rejected"
	StatusError     TradeStatus = "error"
)

// Terminal reports whether a status admits no further transitions.
// Partial is non-terminal: the broker may still complete the fill.
func (s TradeStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusError:
		return true
	}
	return false
}

// AccountPhase is the prop-firm challenge phase.
type AccountPhase string

const (
	PhaseEvaluation   AccountPhase = "evaluation"
	PhaseVerification AccountPhase = "verification"
	PhaseFunded       AccountPhase = "funded"
	PhaseSuspended    AccountPhase = "suspended"
	PhaseFailed       AccountPhase = "failed"
)

// Signal is a trade intent produced by a strategy or a webhook.
// Price is zero for market-priced signals.
type Signal struct {
	Action       Action
	Ticker       string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Confidence   float64 // 0..1
	Reason       string
	StrategyName string
	WebhookID    string
}

// IsActionable reports whether the signal should reach the executor.
func (s Signal) IsActionable() bool {
	return s.Action == ActionBuy || s.Action == ActionSell
}

// Side maps the signal action to a trade side. Only valid for
// actionable signals.
func (s Signal) Side() Side {
	if s.Action == ActionSell {
		return Sell
	}
	return Buy
}

// OHLCVBar is one candle of market data. (Symbol, Timeframe, Timestamp)
// is unique; bars are consumed in ascending timestamp order.
type OHLCVBar struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// BrokerAccount is the broker's view of an account.
type BrokerAccount struct {
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	BuyingPower      decimal.Decimal `json:"buying_power"`
	Equity           decimal.Decimal `json:"equity"`
	Cash             decimal.Decimal `json:"cash"`
	PortfolioValue   decimal.Decimal `json:"portfolio_value"`
	PatternDayTrader bool            `json:"pattern_day_trader"`
}

// BrokerOrder is the broker's response to an order submission.
type BrokerOrder struct {
	OrderID       string          `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	Status        string          `json:"status"`
	SubmittedAt   string          `json:"submitted_at"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
}

// BrokerPosition is one open position at the broker.
type BrokerPosition struct {
	Symbol         string          `json:"symbol"`
	Qty            decimal.Decimal `json:"qty"`
	Side           string          `json:"side"`
	AvgEntryPrice  decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	MarketValue    decimal.Decimal `json:"market_value"`
	UnrealizedPL   decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPC decimal.Decimal `json:"unrealized_plpc"`
}

// TradeUpdateEvent names a trade_updates stream event.
type TradeUpdateEvent string

const (
	EventFill        TradeUpdateEvent = "fill"
	EventPartialFill TradeUpdateEvent = "partial_fill"
	EventRejected    TradeUpdateEvent = "rejected"
	EventCanceled    TradeUpdateEvent = "canceled"
	EventSuspended   TradeUpdateEvent = "suspended"
)

// TradeUpdate is one message from the broker's trade_updates stream.
type TradeUpdate struct {
	Event TradeUpdateEvent `json:"event"`
	Order struct {
		ID             string          `json:"id"`
		FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
		FilledQty      decimal.Decimal `json:"filled_qty"`
	} `json:"order"`
}
