package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vkuzmin/whalewatch/internal/model"
)

// PairsFresh reports whether the exchange has at least one active pair row
// updated within maxAge.
func (s *Postgres) PairsFresh(ctx context.Context, exchange string, maxAge time.Duration) (bool, error) {
	cutoff := time.Now().Add(-maxAge)

	var fresh bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trading_pairs_cache
			WHERE exchange = $1 AND is_active AND last_updated > $2
		)
	`, exchange, cutoff).Scan(&fresh)
	if err != nil {
		return false, fmt.Errorf("check pairs freshness: %w", err)
	}
	return fresh, nil
}

// ActivePairs returns the exchange's active pairs at or above minVolume,
// ordered by 24h volume descending.
func (s *Postgres) ActivePairs(ctx context.Context, exchange string, minVolume decimal.Decimal) ([]model.TradingPairInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, base_asset, quote_asset, volume_24h_usd::text, quote_price_usd::text
		FROM trading_pairs_cache
		WHERE exchange = $1 AND is_active AND volume_24h_usd >= $2::numeric
		ORDER BY volume_24h_usd DESC
	`, exchange, minVolume.String())
	if err != nil {
		return nil, fmt.Errorf("query active pairs: %w", err)
	}
	defer rows.Close()

	var pairs []model.TradingPairInfo
	for rows.Next() {
		var p model.TradingPairInfo
		var volume, quotePrice string
		if err := rows.Scan(&p.Symbol, &p.BaseAsset, &p.QuoteAsset, &volume, &quotePrice); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		p.Exchange = exchange
		if p.Volume24hUSD, err = decimal.NewFromString(volume); err != nil {
			return nil, fmt.Errorf("parse volume for %s: %w", p.Symbol, err)
		}
		if p.QuotePriceUSD, err = decimal.NewFromString(quotePrice); err != nil {
			return nil, fmt.Errorf("parse quote price for %s: %w", p.Symbol, err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read active pairs: %w", err)
	}
	return pairs, nil
}

// UpsertPairs reconciles the stored pair set for an exchange with the
// incoming snapshot inside one transaction: readers see either the old or
// the new state, never a mix.
func (s *Postgres) UpsertPairs(ctx context.Context, exchange string, pairs []model.TradingPairInfo) (UpsertResult, error) {
	var res UpsertResult
	if len(pairs) == 0 {
		return res, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin pairs upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	symbols := make([]string, 0, len(pairs))
	for _, p := range pairs {
		symbols = append(symbols, p.Symbol)

		// xmax = 0 only for freshly inserted rows, which distinguishes
		// insert from update without a second round trip.
		var inserted bool
		err := tx.QueryRow(ctx, `
			INSERT INTO trading_pairs_cache
				(exchange, symbol, base_asset, quote_asset, volume_24h_usd, quote_price_usd, is_active, last_updated)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, TRUE, now())
			ON CONFLICT (exchange, symbol) DO UPDATE SET
				base_asset      = EXCLUDED.base_asset,
				quote_asset     = EXCLUDED.quote_asset,
				volume_24h_usd  = EXCLUDED.volume_24h_usd,
				quote_price_usd = EXCLUDED.quote_price_usd,
				is_active       = TRUE,
				last_updated    = now()
			RETURNING (xmax = 0)
		`,
			exchange,
			p.Symbol,
			s.truncateAsset(p.BaseAsset),
			s.truncateAsset(p.QuoteAsset),
			p.Volume24hUSD.String(),
			p.QuotePriceUSD.String(),
		).Scan(&inserted)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("upsert pair %s: %w", p.Symbol, err)
		}
		if inserted {
			res.Added++
		} else {
			res.Updated++
		}
	}

	ct, err := tx.Exec(ctx, `
		UPDATE trading_pairs_cache
		SET is_active = FALSE
		WHERE exchange = $1 AND is_active AND symbol <> ALL($2::varchar[])
	`, exchange, symbols)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("deactivate stale pairs: %w", err)
	}
	res.Deactivated = int(ct.RowsAffected())

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, fmt.Errorf("commit pairs upsert: %w", err)
	}
	return res, nil
}

// CleanupInactivePairs physically removes rows that have been inactive for
// longer than the retention period. The pairs cache runs this after each
// successful API refresh.
func (s *Postgres) CleanupInactivePairs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	ct, err := s.pool.Exec(ctx, `
		DELETE FROM trading_pairs_cache
		WHERE NOT is_active AND last_updated < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup inactive pairs: %w", err)
	}
	return int(ct.RowsAffected()), nil
}
