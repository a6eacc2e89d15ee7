package store

import (
	"context"
	"fmt"
	"time"
)

// ExchangeStats aggregates stored trades for one exchange over a window.
type ExchangeStats struct {
	Exchange   string
	TradeCount int64
	TotalUSD   float64
	AverageUSD float64
	MaxUSD     float64
}

// RecentTradeCount returns how many trades were stored with a trade time
// inside the window, optionally filtered by exchange ("" = all).
func (s *Postgres) RecentTradeCount(ctx context.Context, exchange string, window time.Duration) (int64, error) {
	cutoff := time.Now().Add(-window)

	var count int64
	var err error
	if exchange == "" {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM large_trades WHERE trade_time > $1`, cutoff).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM large_trades WHERE trade_time > $1 AND exchange = $2`, cutoff, exchange).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count recent trades: %w", err)
	}
	return count, nil
}

// StatsByExchange returns 24h aggregates per exchange, largest volume first.
func (s *Postgres) StatsByExchange(ctx context.Context) ([]ExchangeStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT exchange,
		       COUNT(*),
		       COALESCE(SUM(value_usd), 0)::float8,
		       COALESCE(AVG(value_usd), 0)::float8,
		       COALESCE(MAX(value_usd), 0)::float8
		FROM large_trades
		WHERE trade_time > now() - interval '24 hours'
		GROUP BY exchange
		ORDER BY SUM(value_usd) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query exchange stats: %w", err)
	}
	defer rows.Close()

	var stats []ExchangeStats
	for rows.Next() {
		var st ExchangeStats
		if err := rows.Scan(&st.Exchange, &st.TradeCount, &st.TotalUSD, &st.AverageUSD, &st.MaxUSD); err != nil {
			return nil, fmt.Errorf("scan exchange stats: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read exchange stats: %w", err)
	}
	return stats, nil
}
