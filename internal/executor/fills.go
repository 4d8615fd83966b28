package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"proptrader/internal/ledger"
	"proptrader/internal/metrics"
	"proptrader/pkg/types"
)

// FillListener consumes the broker's trade_updates stream and applies
// order lifecycle events to the ledger. Events may arrive out of order
// relative to the originating submit — updates for unknown order IDs
// are ignored (a periodic reconciliation sync catches anything missed),
// and duplicate fill events are idempotent.
type FillListener struct {
	executor *Executor
	logger   *slog.Logger
}

// NewFillListener creates a listener bound to the executor's ledger.
func NewFillListener(e *Executor, logger *slog.Logger) *FillListener {
	return &FillListener{
		executor: e,
		logger:   logger.With("component", "fill-listener"),
	}
}

// Listen drains the update channel until ctx is cancelled.
func (l *FillListener) Listen(ctx context.Context, updates <-chan types.TradeUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			if err := l.executor.ApplyTradeUpdate(update); err != nil {
				l.logger.Error("trade update failed",
					"event", update.Event, "order_id", update.Order.ID, "error", err)
			}
		}
	}
}

// ApplyTradeUpdate applies one stream event to the block's ledger rows.
func (e *Executor) ApplyTradeUpdate(update types.TradeUpdate) error {
	metrics.StreamUpdates.WithLabelValues(string(update.Event)).Inc()

	trades, err := e.ledger.TradesByBrokerOrderID(update.Order.ID)
	if err != nil {
		return fmt.Errorf("lookup block trades: %w", err)
	}
	if len(trades) == 0 {
		// Order placed outside the system, or the submit hasn't been
		// persisted yet. Ignore.
		e.logger.Debug("trade update for unknown order", "order_id", update.Order.ID)
		return nil
	}

	switch update.Event {
	case types.EventFill, types.EventPartialFill:
		return e.applyFillEvent(update, trades)
	case types.EventRejected, types.EventCanceled, types.EventSuspended:
		return e.applyInterruptionEvent(update, trades)
	default:
		e.logger.Debug("ignoring trade update event", "event", update.Event)
		return nil
	}
}

// applyFillEvent promotes the block's trades on a fill or partial fill.
// The broker reports the block-level filled quantity; it is prorated
// back across the per-account rows in proportion to their submitted
// quantities so the block invariant (Σ quantity ≤ total) holds.
func (e *Executor) applyFillEvent(update types.TradeUpdate, trades []*ledger.Trade) error {
	status := types.StatusFilled
	if update.Event == types.EventPartialFill {
		status = types.StatusPartial
	}

	blockQty := decimal.Decimal{}
	for _, t := range trades {
		blockQty = blockQty.Add(t.Quantity)
	}

	for _, t := range trades {
		if t.Status.Terminal() && t.Status != types.StatusFilled {
			continue // rejection stubs and errored rows stay put
		}
		// Already-filled rows are reprocessed only so duplicate stream
		// events stay idempotent; they must not alert again.
		wasFilled := t.Status == types.StatusFilled

		if update.Order.FilledAvgPrice.IsPositive() {
			t.FillPrice = decimal.NullDecimal{Decimal: update.Order.FilledAvgPrice, Valid: true}
		}
		if update.Order.FilledQty.IsPositive() && blockQty.IsPositive() {
			share := t.Quantity.Div(blockQty)
			t.Quantity = update.Order.FilledQty.Mul(share)
		}
		t.Status = status

		// Re-run cost basis / P&L on the new truth.
		t.CostBasis = decimal.NullDecimal{}
		t.RealizedPnL = decimal.NullDecimal{}
		e.updateCostBasis(t)

		if err := e.ledger.UpdateTradeFill(t); err != nil {
			return fmt.Errorf("apply fill to %s: %w", t.TradeID, err)
		}

		if update.Event == types.EventFill && !wasFilled {
			metrics.TradesFilled.Inc()
			e.notifier.TradeAlert(t)
		}
	}
	return nil
}

// applyInterruptionEvent marks the block's live trades rejected,
// cancelled, or errored and raises a warning alert.
func (e *Executor) applyInterruptionEvent(update types.TradeUpdate, trades []*ledger.Trade) error {
	status := types.StatusCancelled
	switch update.Event {
	case types.EventRejected:
		status = types.StatusRejected
	case types.EventSuspended:
		status = types.StatusError
	}

	for _, t := range trades {
		if t.Status.Terminal() {
			continue
		}
		msg := fmt.Sprintf("Broker %s order %s", update.Event, update.Order.ID)
		if err := e.ledger.MarkTradeStatus(t.TradeID, status, msg); err != nil {
			return fmt.Errorf("mark %s %s: %w", t.TradeID, status, err)
		}
		e.notifier.SystemAlert(
			fmt.Sprintf("Order %s: %s", update.Event, t.Symbol),
			msg,
			"WARNING",
		)
	}
	return nil
}
