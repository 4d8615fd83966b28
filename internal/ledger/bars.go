package ledger

import (
	"fmt"
	"time"

	"proptrader/pkg/types"
)

// UpsertBar stores one OHLCV bar, replacing any existing bar at the same
// (symbol, timeframe, timestamp). The upstream feed may re-deliver the
// forming bar as it finalizes.
func (s *Store) UpsertBar(b types.OHLCVBar) error {
	_, err := s.db.Exec(`
		INSERT INTO ohlcv_bars (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, timestamp) DO UPDATE SET
			open = excluded.open, high = excluded.high,
			low = excluded.low, close = excluded.close, volume = excluded.volume`,
		b.Symbol, b.Timeframe, b.Timestamp.UTC().Format(time.RFC3339),
		b.Open, b.High, b.Low, b.Close, b.Volume)
	if err != nil {
		return fmt.Errorf("upsert bar: %w", err)
	}
	return nil
}

// RecentBars returns up to limit bars for a symbol/timeframe, ordered by
// timestamp ascending (oldest first), as the strategies consume them.
func (s *Store) RecentBars(symbol, timeframe string, limit int) ([]types.OHLCVBar, error) {
	rows, err := s.db.Query(`
		SELECT symbol, timeframe, timestamp, open, high, low, close, volume
		FROM (
			SELECT * FROM ohlcv_bars
			WHERE symbol = ? AND timeframe = ?
			ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC`,
		symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("recent bars: %w", err)
	}
	defer rows.Close()

	var bars []types.OHLCVBar
	for rows.Next() {
		var (
			b   types.OHLCVBar
			ts  string
		)
		if err := rows.Scan(&b.Symbol, &b.Timeframe, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		if b.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("decode bar timestamp: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
