// Package broker implements the upstream broker integration: the REST
// client for accounts, orders, and positions; the block-order router
// that applies the institutional tag; and the trade_updates WebSocket
// feed with automatic reconnection.
//
// Broker-specific wire details stay behind the Client interface — the
// risk gate and executor see only these five operations.
package broker

import (
	"context"

	"proptrader/pkg/types"
)

// OrderRequest describes one order submission.
type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	Qty           string          `json:"qty"`
	Side          types.Side      `json:"side"`
	Type          types.OrderType `json:"type"`
	TimeInForce   string          `json:"time_in_force"`
	LimitPrice    string          `json:"limit_price,omitempty"`
	StopPrice     string          `json:"stop_price,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
}

// Client is the broker abstraction the execution core depends on.
type Client interface {
	// GetAccount fetches the master account state (equity, buying power).
	GetAccount(ctx context.Context) (*types.BrokerAccount, error)

	// SubmitOrder places one order and returns the broker's view of it.
	SubmitOrder(ctx context.Context, req OrderRequest) (*types.BrokerOrder, error)

	// GetPositions lists all open positions.
	GetPositions(ctx context.Context) ([]types.BrokerPosition, error)

	// CancelAllOrders cancels every open order (kill-switch actuator).
	// Returns the number of orders cancelled.
	CancelAllOrders(ctx context.Context) (int, error)

	// CloseAllPositions liquidates every open position (kill-switch
	// actuator). Returns the number of positions closed.
	CloseAllPositions(ctx context.Context) (int, error)
}
