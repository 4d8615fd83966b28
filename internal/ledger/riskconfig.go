package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RiskConfig is one risk profile row. Exactly one profile carries
// IsActive; the gate reads it on every signal — no caching.
type RiskConfig struct {
	Name                string
	IsActive            bool
	KillSwitchActive    bool
	MaxDailyDrawdownPct float64
	MaxTotalDrawdownPct float64
	MaxPositionSizePct  float64
	MaxOpenPositions    int
	MaxDailyTrades      int
	DailyLossLimit      decimal.Decimal
}

// ActiveRiskConfig returns the single active risk profile, or
// ErrNoActiveRiskConfig if none is flagged.
func (s *Store) ActiveRiskConfig() (*RiskConfig, error) {
	row := s.db.QueryRow(`
		SELECT name, is_active, kill_switch_active,
		       max_daily_drawdown_pct, max_total_drawdown_pct, max_position_size_pct,
		       max_open_positions, max_daily_trades, daily_loss_limit
		FROM risk_configs WHERE is_active = 1 LIMIT 1`)

	var (
		cfg      RiskConfig
		limitRaw string
	)
	err := row.Scan(&cfg.Name, &cfg.IsActive, &cfg.KillSwitchActive,
		&cfg.MaxDailyDrawdownPct, &cfg.MaxTotalDrawdownPct, &cfg.MaxPositionSizePct,
		&cfg.MaxOpenPositions, &cfg.MaxDailyTrades, &limitRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveRiskConfig
		}
		return nil, fmt.Errorf("active risk config: %w", err)
	}
	if cfg.DailyLossLimit, err = decimal.NewFromString(limitRaw); err != nil {
		return nil, fmt.Errorf("decode daily_loss_limit: %w", err)
	}
	return &cfg, nil
}

// SaveRiskConfig inserts or replaces a risk profile. Activating a
// profile deactivates every other one, preserving the singleton
// invariant.
func (s *Store) SaveRiskConfig(cfg *RiskConfig) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save risk config: %w", err)
	}
	defer tx.Rollback()

	if cfg.IsActive {
		if _, err := tx.Exec(`UPDATE risk_configs SET is_active = 0 WHERE name != ?`, cfg.Name); err != nil {
			return fmt.Errorf("deactivate risk configs: %w", err)
		}
	}
	_, err = tx.Exec(`
		INSERT INTO risk_configs (name, is_active, kill_switch_active,
			max_daily_drawdown_pct, max_total_drawdown_pct, max_position_size_pct,
			max_open_positions, max_daily_trades, daily_loss_limit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			is_active = excluded.is_active,
			kill_switch_active = excluded.kill_switch_active,
			max_daily_drawdown_pct = excluded.max_daily_drawdown_pct,
			max_total_drawdown_pct = excluded.max_total_drawdown_pct,
			max_position_size_pct = excluded.max_position_size_pct,
			max_open_positions = excluded.max_open_positions,
			max_daily_trades = excluded.max_daily_trades,
			daily_loss_limit = excluded.daily_loss_limit`,
		cfg.Name, cfg.IsActive, cfg.KillSwitchActive,
		cfg.MaxDailyDrawdownPct, cfg.MaxTotalDrawdownPct, cfg.MaxPositionSizePct,
		cfg.MaxOpenPositions, cfg.MaxDailyTrades, cfg.DailyLossLimit.String())
	if err != nil {
		return fmt.Errorf("upsert risk config: %w", err)
	}
	return tx.Commit()
}

// SetKillSwitch flips the kill switch on the active profile.
func (s *Store) SetKillSwitch(active bool) error {
	res, err := s.db.Exec(`UPDATE risk_configs SET kill_switch_active = ? WHERE is_active = 1`, active)
	if err != nil {
		return fmt.Errorf("set kill switch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoActiveRiskConfig
	}
	return nil
}
