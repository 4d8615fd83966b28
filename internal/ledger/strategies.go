package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StrategyDef is a configurable strategy definition. Parameters live in
// the ledger, not in code — the runner re-reads them on every tick.
type StrategyDef struct {
	StrategyID            string
	Name                  string
	IsActive              bool
	AssetClass            string
	Timeframe             string
	Symbols               []string
	AccountNumbers        []string // linked prop-firm account numbers
	PositionSizePct       float64
	MaxPositions          int
	StopLossPct           float64
	TakeProfitPct         float64
	AIModel               string
	AIConfidenceThreshold float64
	CustomParams          map[string]any // includes the strategy_type selector
}

// StrategyType returns the registry key from custom_params.
func (d *StrategyDef) StrategyType() string {
	if t, ok := d.CustomParams["strategy_type"].(string); ok {
		return t
	}
	return ""
}

const strategyColumns = `strategy_id, name, is_active, asset_class, timeframe,
	symbols, account_numbers, position_size_pct, max_positions,
	stop_loss_pct, take_profit_pct, ai_model, ai_confidence_threshold, custom_params`

// SaveStrategy inserts or updates a strategy definition.
func (s *Store) SaveStrategy(d *StrategyDef) error {
	if d.StrategyID == "" {
		d.StrategyID = "stg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	}
	if d.CustomParams == nil {
		d.CustomParams = map[string]any{}
	}
	symbols, err := json.Marshal(d.Symbols)
	if err != nil {
		return fmt.Errorf("encode symbols: %w", err)
	}
	params, err := json.Marshal(d.CustomParams)
	if err != nil {
		return fmt.Errorf("encode custom_params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO strategies (`+strategyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			is_active = excluded.is_active,
			asset_class = excluded.asset_class,
			timeframe = excluded.timeframe,
			symbols = excluded.symbols,
			account_numbers = excluded.account_numbers,
			position_size_pct = excluded.position_size_pct,
			max_positions = excluded.max_positions,
			stop_loss_pct = excluded.stop_loss_pct,
			take_profit_pct = excluded.take_profit_pct,
			ai_model = excluded.ai_model,
			ai_confidence_threshold = excluded.ai_confidence_threshold,
			custom_params = excluded.custom_params`,
		d.StrategyID, d.Name, d.IsActive, d.AssetClass, d.Timeframe,
		string(symbols), strings.Join(d.AccountNumbers, ","),
		d.PositionSizePct, d.MaxPositions, d.StopLossPct, d.TakeProfitPct,
		d.AIModel, d.AIConfidenceThreshold, string(params))
	if err != nil {
		return fmt.Errorf("save strategy: %w", err)
	}
	return nil
}

// GetStrategy loads one strategy definition by name.
func (s *Store) GetStrategy(name string) (*StrategyDef, error) {
	row := s.db.QueryRow(`SELECT `+strategyColumns+` FROM strategies WHERE name = ?`, name)
	d, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ActiveStrategies loads every active strategy definition.
func (s *Store) ActiveStrategies() ([]*StrategyDef, error) {
	rows, err := s.db.Query(`SELECT ` + strategyColumns + ` FROM strategies WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("active strategies: %w", err)
	}
	defer rows.Close()

	var defs []*StrategyDef
	for rows.Next() {
		d, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func scanStrategy(row rowScanner) (*StrategyDef, error) {
	var (
		d                      StrategyDef
		symbolsRaw, paramsRaw  string
		accountNumbersRaw      string
	)
	err := row.Scan(&d.StrategyID, &d.Name, &d.IsActive, &d.AssetClass, &d.Timeframe,
		&symbolsRaw, &accountNumbersRaw, &d.PositionSizePct, &d.MaxPositions,
		&d.StopLossPct, &d.TakeProfitPct, &d.AIModel, &d.AIConfidenceThreshold, &paramsRaw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(symbolsRaw), &d.Symbols); err != nil {
		return nil, fmt.Errorf("decode symbols: %w", err)
	}
	if err := json.Unmarshal([]byte(paramsRaw), &d.CustomParams); err != nil {
		return nil, fmt.Errorf("decode custom_params: %w", err)
	}
	for _, n := range strings.Split(accountNumbersRaw, ",") {
		if n = strings.TrimSpace(n); n != "" {
			d.AccountNumbers = append(d.AccountNumbers, n)
		}
	}
	return &d, nil
}
