package ledger

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"proptrader/pkg/types"
)

// Trade is one row of the append-only trade table. Core fields
// (trade_id, symbol, side, quantity, created_at) are invariant once the
// record reaches a terminal status; quantity may still be adjusted to the
// broker-reported fill quantity while the trade is live.
type Trade struct {
	TradeID         string
	Symbol          string
	Side            types.Side
	Quantity        decimal.Decimal
	OrderType       types.OrderType
	Status          types.TradeStatus
	RequestedPrice  decimal.NullDecimal
	FillPrice       decimal.NullDecimal
	CostBasis       decimal.NullDecimal
	RealizedPnL     decimal.NullDecimal
	Strategy        string
	WebhookID       string
	BrokerOrderID   string
	BrokerAccountID string
	RiskApproved    bool
	RiskReason      string
	ErrorMessage    string
	CreatedAt       time.Time
}

// NewTradeID generates a prefixed unique trade identifier.
func NewTradeID() string {
	return "trd_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

const tradeColumns = `trade_id, symbol, side, quantity, order_type, status,
	requested_price, fill_price, cost_basis, realized_pnl,
	strategy, webhook_id, broker_order_id, broker_account_id,
	risk_approved, risk_reason, error_message, created_at`

// InsertTrade persists a new trade row. TradeID and CreatedAt are
// assigned if unset.
func (s *Store) InsertTrade(t *Trade) error {
	if t.TradeID == "" {
		t.TradeID = NewTradeID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.OrderType == "" {
		t.OrderType = types.Market
	}
	if t.Status == "" {
		t.Status = types.StatusPending
	}

	_, err := s.db.Exec(`
		INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Symbol, string(t.Side), t.Quantity.String(), string(t.OrderType), string(t.Status),
		nullDecimalArg(t.RequestedPrice), nullDecimalArg(t.FillPrice),
		nullDecimalArg(t.CostBasis), nullDecimalArg(t.RealizedPnL),
		t.Strategy, t.WebhookID, t.BrokerOrderID, t.BrokerAccountID,
		t.RiskApproved, t.RiskReason, t.ErrorMessage,
		t.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTrade loads one trade by ID.
func (s *Store) GetTrade(tradeID string) (*Trade, error) {
	row := s.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	return scanTrade(row)
}

// TradesByBrokerOrderID loads all trades of a block (they share the
// master broker order ID).
func (s *Store) TradesByBrokerOrderID(orderID string) ([]*Trade, error) {
	if orderID == "" {
		return nil, nil
	}
	rows, err := s.db.Query(`SELECT `+tradeColumns+` FROM trades WHERE broker_order_id = ?`, orderID)
	if err != nil {
		return nil, fmt.Errorf("trades by order: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// validTransition encodes the forward-only status machine:
// pending → submitted → {filled, partial, cancelled, rejected, error},
// with partial allowed to complete into filled or be interrupted.
func validTransition(from, to types.TradeStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case types.StatusPending:
		return true
	case types.StatusSubmitted:
		return to != types.StatusPending
	case types.StatusPartial:
		switch to {
		case types.StatusFilled, types.StatusCancelled, types.StatusError, types.StatusPartial:
			return true
		}
	}
	return false
}

// UpdateTradeFill applies a fill/P&L update to a live trade. It enforces
// the append-only contract: terminal trades are immutable, status moves
// only forward, and core identity fields never change. Reapplying the
// same values to a filled trade is a no-op (idempotent fill events).
func (s *Store) UpdateTradeFill(t *Trade) error {
	current, err := s.GetTrade(t.TradeID)
	if err != nil {
		return err
	}
	if current.Symbol != t.Symbol || current.Side != t.Side {
		return fmt.Errorf("%w: symbol/side cannot change", ErrImmutable)
	}
	if current.Status.Terminal() {
		// Idempotent re-apply of an identical fill is allowed.
		if current.Status == t.Status &&
			current.FillPrice.Decimal.Equal(t.FillPrice.Decimal) &&
			current.Quantity.Equal(t.Quantity) {
			return nil
		}
		return fmt.Errorf("%w: status %s is terminal", ErrImmutable, current.Status)
	}
	if !validTransition(current.Status, t.Status) {
		return fmt.Errorf("%w: illegal transition %s -> %s", ErrImmutable, current.Status, t.Status)
	}

	_, err = s.db.Exec(`
		UPDATE trades
		SET status = ?, quantity = ?, fill_price = ?, cost_basis = ?,
		    realized_pnl = ?, broker_order_id = ?, error_message = ?
		WHERE trade_id = ?`,
		string(t.Status), t.Quantity.String(),
		nullDecimalArg(t.FillPrice), nullDecimalArg(t.CostBasis), nullDecimalArg(t.RealizedPnL),
		t.BrokerOrderID, t.ErrorMessage, t.TradeID,
	)
	if err != nil {
		return fmt.Errorf("update trade: %w", err)
	}
	return nil
}

// MarkTradeStatus moves a live trade to a new status (e.g. cancelled by
// the broker stream) without touching pricing fields.
func (s *Store) MarkTradeStatus(tradeID string, status types.TradeStatus, errMsg string) error {
	current, err := s.GetTrade(tradeID)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return fmt.Errorf("%w: status %s is terminal", ErrImmutable, current.Status)
	}
	if !validTransition(current.Status, status) {
		return fmt.Errorf("%w: illegal transition %s -> %s", ErrImmutable, current.Status, status)
	}
	_, err = s.db.Exec(`UPDATE trades SET status = ?, error_message = ? WHERE trade_id = ?`,
		string(status), errMsg, tradeID)
	if err != nil {
		return fmt.Errorf("mark trade status: %w", err)
	}
	return nil
}

// DailyRealizedPnL sums realized P&L over today's filled trades.
// "Today" starts at local midnight of now.
func (s *Store) DailyRealizedPnL(now time.Time) (decimal.Decimal, error) {
	rows, err := s.db.Query(`
		SELECT realized_pnl FROM trades
		WHERE created_at >= ? AND status = 'filled' AND realized_pnl IS NOT NULL`,
		startOfDay(now).Format(time.RFC3339Nano))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("daily pnl: %w", err)
	}
	defer rows.Close()

	total := decimal.Decimal{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Decimal{}, err
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("decode realized_pnl: %w", err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// DailyTradeCount counts today's trades across all statuses.
func (s *Store) DailyTradeCount(now time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE created_at >= ?`,
		startOfDay(now).Format(time.RFC3339Nano)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("daily trade count: %w", err)
	}
	return count, nil
}

// OpenPositionCount approximates the number of open positions from the
// ledger: symbols with filled buys that have no filled sell. Used when
// the broker's live position list is unreachable.
func (s *Store) OpenPositionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT DISTINCT symbol FROM trades WHERE side = 'buy' AND status = 'filled'
			EXCEPT
			SELECT DISTINCT symbol FROM trades WHERE side = 'sell' AND status = 'filled'
		)`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("open position count: %w", err)
	}
	return count, nil
}

// AverageCostBasis returns the weighted average cost basis over all
// filled buys of a symbol: Σ(cost_basis × qty) / Σ qty. Scoped to one
// broker account when accountID is set, global otherwise. Returns false
// when no priced buys exist.
func (s *Store) AverageCostBasis(symbol, accountID string) (decimal.Decimal, bool, error) {
	query := `
		SELECT cost_basis, quantity FROM trades
		WHERE symbol = ? AND side = 'buy' AND status = 'filled' AND cost_basis IS NOT NULL`
	args := []any{symbol}
	if accountID != "" {
		query += ` AND broker_account_id = ?`
		args = append(args, accountID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("avg cost basis: %w", err)
	}
	defer rows.Close()

	totalCost := decimal.Decimal{}
	totalQty := decimal.Decimal{}
	for rows.Next() {
		var cbRaw, qtyRaw string
		if err := rows.Scan(&cbRaw, &qtyRaw); err != nil {
			return decimal.Decimal{}, false, err
		}
		cb, err := decimal.NewFromString(cbRaw)
		if err != nil {
			return decimal.Decimal{}, false, fmt.Errorf("decode cost_basis: %w", err)
		}
		qty, err := decimal.NewFromString(qtyRaw)
		if err != nil {
			return decimal.Decimal{}, false, fmt.Errorf("decode quantity: %w", err)
		}
		if cb.IsPositive() {
			totalCost = totalCost.Add(cb.Mul(qty))
			totalQty = totalQty.Add(qty)
		}
	}
	if err := rows.Err(); err != nil {
		return decimal.Decimal{}, false, err
	}
	if !totalQty.IsPositive() {
		return decimal.Decimal{}, false, nil
	}
	return totalCost.Div(totalQty), true, nil
}

// OpenPositionQuantity nets filled buys against filled sells for a
// symbol. Scoped to one broker account when accountID is set.
func (s *Store) OpenPositionQuantity(symbol, accountID string) (decimal.Decimal, error) {
	query := `SELECT side, quantity FROM trades WHERE symbol = ? AND status = 'filled'`
	args := []any{symbol}
	if accountID != "" {
		query += ` AND broker_account_id = ?`
		args = append(args, accountID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("open position quantity: %w", err)
	}
	defer rows.Close()

	net := decimal.Decimal{}
	for rows.Next() {
		var side, qtyRaw string
		if err := rows.Scan(&side, &qtyRaw); err != nil {
			return decimal.Decimal{}, err
		}
		qty, err := decimal.NewFromString(qtyRaw)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("decode quantity: %w", err)
		}
		if side == string(types.Buy) {
			net = net.Add(qty)
		} else {
			net = net.Sub(qty)
		}
	}
	return net, rows.Err()
}

// SellOutcomes returns the realized P&L of every filled sell for a
// strategy, feeding expectancy and Kelly statistics.
func (s *Store) SellOutcomes(strategy string) ([]decimal.Decimal, error) {
	rows, err := s.db.Query(`
		SELECT realized_pnl FROM trades
		WHERE strategy = ? AND side = 'sell' AND status = 'filled' AND realized_pnl IS NOT NULL`,
		strategy)
	if err != nil {
		return nil, fmt.Errorf("sell outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []decimal.Decimal
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode realized_pnl: %w", err)
		}
		outcomes = append(outcomes, d)
	}
	return outcomes, rows.Err()
}

func startOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).UTC()
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*Trade, error) {
	var (
		t                        Trade
		side, orderType, status  string
		qtyRaw, createdRaw       string
		reqP, fillP, costB, pnl  sql.NullString
	)
	err := row.Scan(
		&t.TradeID, &t.Symbol, &side, &qtyRaw, &orderType, &status,
		&reqP, &fillP, &costB, &pnl,
		&t.Strategy, &t.WebhookID, &t.BrokerOrderID, &t.BrokerAccountID,
		&t.RiskApproved, &t.RiskReason, &t.ErrorMessage, &createdRaw,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}

	t.Side = types.Side(side)
	t.OrderType = types.OrderType(orderType)
	t.Status = types.TradeStatus(status)
	if t.Quantity, err = decimal.NewFromString(qtyRaw); err != nil {
		return nil, fmt.Errorf("decode quantity: %w", err)
	}
	if t.RequestedPrice, err = scanNullDecimal(reqP); err != nil {
		return nil, err
	}
	if t.FillPrice, err = scanNullDecimal(fillP); err != nil {
		return nil, err
	}
	if t.CostBasis, err = scanNullDecimal(costB); err != nil {
		return nil, err
	}
	if t.RealizedPnL, err = scanNullDecimal(pnl); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdRaw); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]*Trade, error) {
	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanNullDecimal(ns sql.NullString) (decimal.NullDecimal, error) {
	if !ns.Valid || ns.String == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("decode decimal: %w", err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
