package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS large_trades (
		exchange       VARCHAR(20)   NOT NULL,
		id             BIGINT        NOT NULL,
		symbol         VARCHAR(50)   NOT NULL,
		base_asset     VARCHAR(20),
		quote_asset    VARCHAR(20)   NOT NULL,
		price          NUMERIC(30,8) NOT NULL,
		quantity       NUMERIC(30,8) NOT NULL,
		value_usd      NUMERIC(20,2) NOT NULL,
		is_buyer_maker BOOLEAN       NOT NULL,
		trade_time     TIMESTAMPTZ   NOT NULL,
		created_at     TIMESTAMPTZ   NOT NULL DEFAULT now(),
		PRIMARY KEY (exchange, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_large_trades_symbol ON large_trades (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_large_trades_value_usd ON large_trades (value_usd)`,
	`CREATE INDEX IF NOT EXISTS idx_large_trades_trade_time ON large_trades (trade_time)`,

	`CREATE TABLE IF NOT EXISTS trading_pairs_cache (
		exchange        VARCHAR(20)   NOT NULL,
		symbol          VARCHAR(50)   NOT NULL,
		base_asset      VARCHAR(20)   NOT NULL,
		quote_asset     VARCHAR(20)   NOT NULL,
		volume_24h_usd  NUMERIC(20,2) NOT NULL,
		quote_price_usd NUMERIC(30,8) NOT NULL,
		is_active       BOOLEAN       NOT NULL DEFAULT TRUE,
		last_updated    TIMESTAMPTZ   NOT NULL DEFAULT now(),
		PRIMARY KEY (exchange, symbol)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pairs_cache_volume ON trading_pairs_cache (volume_24h_usd)`,
	`CREATE INDEX IF NOT EXISTS idx_pairs_cache_last_updated ON trading_pairs_cache (last_updated)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
