package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"proptrader/pkg/types"
)

// PropFirmAccount is one external funded-trader challenge account.
// Equity and drawdown are never stored — they derive from the trade
// table via the aggregate methods below.
type PropFirmAccount struct {
	AccountID           string
	Name                string
	Firm                string
	AccountNumber       string
	BrokerAccountID     string
	Phase               types.AccountPhase
	IsActive            bool
	AccountSize         decimal.Decimal
	MaxDailyDrawdownPct float64
	MaxTotalDrawdownPct float64
	ProfitTargetPct     float64
	MinTradingDays      int
	CreatedAt           time.Time
}

// ProfitTargetAmount is the dollar P&L needed to pass the phase.
func (a *PropFirmAccount) ProfitTargetAmount() decimal.Decimal {
	return a.AccountSize.Mul(decimal.NewFromFloat(a.ProfitTargetPct)).Div(decimal.NewFromInt(100))
}

// TradeScopeID is the broker_account_id stamped on this account's
// trades: the broker account ID when linked, the firm account number
// otherwise. The executor and the risk gate's cost-basis check scope on
// this value; AccountTotalPnL scopes on BrokerAccountID alone.
func (a *PropFirmAccount) TradeScopeID() string {
	if a.BrokerAccountID != "" {
		return a.BrokerAccountID
	}
	return a.AccountNumber
}

const accountColumns = `account_id, name, firm, account_number, broker_account_id,
	phase, is_active, account_size, max_daily_drawdown_pct, max_total_drawdown_pct,
	profit_target_pct, min_trading_days, created_at`

// SaveAccount inserts or updates a prop-firm account.
func (s *Store) SaveAccount(a *PropFirmAccount) error {
	if a.AccountID == "" {
		a.AccountID = "acct_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Phase == "" {
		a.Phase = types.PhaseEvaluation
	}
	_, err := s.db.Exec(`
		INSERT INTO prop_firm_accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			name = excluded.name,
			firm = excluded.firm,
			account_number = excluded.account_number,
			broker_account_id = excluded.broker_account_id,
			phase = excluded.phase,
			is_active = excluded.is_active,
			account_size = excluded.account_size,
			max_daily_drawdown_pct = excluded.max_daily_drawdown_pct,
			max_total_drawdown_pct = excluded.max_total_drawdown_pct,
			profit_target_pct = excluded.profit_target_pct,
			min_trading_days = excluded.min_trading_days`,
		a.AccountID, a.Name, a.Firm, a.AccountNumber, a.BrokerAccountID,
		string(a.Phase), a.IsActive, a.AccountSize.String(),
		a.MaxDailyDrawdownPct, a.MaxTotalDrawdownPct,
		a.ProfitTargetPct, a.MinTradingDays,
		a.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// ActiveAccountsByNumbers loads active accounts matching the given
// account numbers (a strategy's linked accounts).
func (s *Store) ActiveAccountsByNumbers(numbers []string) ([]*PropFirmAccount, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(numbers)), ",")
	args := make([]any, len(numbers))
	for i, n := range numbers {
		args[i] = n
	}
	rows, err := s.db.Query(`
		SELECT `+accountColumns+` FROM prop_firm_accounts
		WHERE account_number IN (`+placeholders+`) AND is_active = 1`, args...)
	if err != nil {
		return nil, fmt.Errorf("accounts by numbers: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// ActiveAccounts loads every active account, optionally filtered to the
// tradable phases (evaluation, verification, funded).
func (s *Store) ActiveAccounts(tradablePhasesOnly bool) ([]*PropFirmAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM prop_firm_accounts WHERE is_active = 1`
	if tradablePhasesOnly {
		query += ` AND phase IN ('evaluation', 'verification', 'funded')`
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("active accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// AccountTotalPnL sums realized P&L over filled trades carrying this
// account's broker account ID. Accounts with no broker link report zero.
func (s *Store) AccountTotalPnL(a *PropFirmAccount) (decimal.Decimal, error) {
	if a.BrokerAccountID == "" {
		return decimal.Decimal{}, nil
	}
	rows, err := s.db.Query(`
		SELECT realized_pnl FROM trades
		WHERE broker_account_id = ? AND status = 'filled' AND realized_pnl IS NOT NULL`,
		a.BrokerAccountID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("account pnl: %w", err)
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

// AccountEquity is account_size + total realized P&L.
func (s *Store) AccountEquity(a *PropFirmAccount) (decimal.Decimal, error) {
	pnl, err := s.AccountTotalPnL(a)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return a.AccountSize.Add(pnl), nil
}

// AccountTotalDrawdownPct is the current total drawdown as a percentage
// of account size. Zero while the account is at or above water.
func (s *Store) AccountTotalDrawdownPct(a *PropFirmAccount) (float64, error) {
	pnl, err := s.AccountTotalPnL(a)
	if err != nil {
		return 0, err
	}
	if pnl.Sign() >= 0 || !a.AccountSize.IsPositive() {
		return 0, nil
	}
	dd, _ := pnl.Abs().Div(a.AccountSize).Mul(decimal.NewFromInt(100)).Float64()
	return dd, nil
}

// AccountPassing reports whether the account is in a passing state:
// not failed, and total drawdown strictly under the firm limit.
func (s *Store) AccountPassing(a *PropFirmAccount) (bool, error) {
	if a.Phase == types.PhaseFailed {
		return false, nil
	}
	dd, err := s.AccountTotalDrawdownPct(a)
	if err != nil {
		return false, err
	}
	return dd < a.MaxTotalDrawdownPct, nil
}

// GetAccount loads one account by its account number.
func (s *Store) GetAccount(accountNumber string) (*PropFirmAccount, error) {
	row := s.db.QueryRow(`SELECT `+accountColumns+` FROM prop_firm_accounts WHERE account_number = ?`,
		accountNumber)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanAccount(row rowScanner) (*PropFirmAccount, error) {
	var (
		a          PropFirmAccount
		phase      string
		sizeRaw    string
		createdRaw string
	)
	err := row.Scan(&a.AccountID, &a.Name, &a.Firm, &a.AccountNumber, &a.BrokerAccountID,
		&phase, &a.IsActive, &sizeRaw, &a.MaxDailyDrawdownPct, &a.MaxTotalDrawdownPct,
		&a.ProfitTargetPct, &a.MinTradingDays, &createdRaw)
	if err != nil {
		return nil, err
	}
	a.Phase = types.AccountPhase(phase)
	if a.AccountSize, err = decimal.NewFromString(sizeRaw); err != nil {
		return nil, fmt.Errorf("decode account_size: %w", err)
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdRaw); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	return &a, nil
}

func scanAccounts(rows *sql.Rows) ([]*PropFirmAccount, error) {
	var accounts []*PropFirmAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
