package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vkuzmin/whalewatch/internal/model"
)

// TradesExist returns which of the given keys are already stored.
func (s *Postgres) TradesExist(ctx context.Context, keys []model.TradeKey) (map[model.TradeKey]struct{}, error) {
	if len(keys) == 0 {
		return map[model.TradeKey]struct{}{}, nil
	}

	exchanges := make([]string, len(keys))
	ids := make([]int64, len(keys))
	byStorage := make(map[storageKey]model.TradeKey, len(keys))
	for i, k := range keys {
		sid := model.StorageID(k.ID)
		exchanges[i] = k.Exchange
		ids[i] = sid
		byStorage[storageKey{exchange: k.Exchange, id: sid}] = k
	}

	rows, err := s.pool.Query(ctx, `
		SELECT t.exchange, t.id
		FROM large_trades t
		JOIN unnest($1::varchar[], $2::bigint[]) AS k(exchange, id)
		  ON t.exchange = k.exchange AND t.id = k.id
	`, exchanges, ids)
	if err != nil {
		return nil, fmt.Errorf("query existing trades: %w", err)
	}
	defer rows.Close()

	existing := make(map[model.TradeKey]struct{})
	for rows.Next() {
		var exchange string
		var id int64
		if err := rows.Scan(&exchange, &id); err != nil {
			return nil, fmt.Errorf("scan existing trade key: %w", err)
		}
		if k, ok := byStorage[storageKey{exchange: exchange, id: id}]; ok {
			existing[k] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read existing trades: %w", err)
	}
	return existing, nil
}

// InsertTrades stores the trades, absorbing duplicate keys via the primary
// key constraint, and returns the number of rows actually inserted.
func (s *Postgres) InsertTrades(ctx context.Context, trades []model.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(`
			INSERT INTO large_trades
				(exchange, id, symbol, base_asset, quote_asset, price, quantity, value_usd, is_buyer_maker, trade_time)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10)
			ON CONFLICT (exchange, id) DO NOTHING
		`,
			t.Exchange,
			t.StorageID(),
			t.Symbol,
			s.truncateAsset(t.BaseAsset),
			s.truncateAsset(t.QuoteAsset),
			t.Price.String(),
			t.Quantity.String(),
			t.ValueUSD.String(),
			t.IsBuyerMaker,
			dbTime(t.TradeTime),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range trades {
		ct, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert trade: %w", err)
		}
		inserted += int(ct.RowsAffected())
	}
	return inserted, nil
}

type storageKey struct {
	exchange string
	id       int64
}
