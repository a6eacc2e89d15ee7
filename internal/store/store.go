package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vkuzmin/whalewatch/internal/model"
)

// UpsertResult summarizes one pairs-cache reconciliation.
type UpsertResult struct {
	Added       int
	Updated     int
	Deactivated int
}

// Store is the persistence surface the workers depend on.
type Store interface {
	// TradesExist returns which of the given keys are already stored.
	TradesExist(ctx context.Context, keys []model.TradeKey) (map[model.TradeKey]struct{}, error)
	// InsertTrades stores the given trades, silently skipping any that
	// already exist, and returns the number actually inserted.
	InsertTrades(ctx context.Context, trades []model.Trade) (int, error)

	// PairsFresh reports whether the exchange has at least one active pair
	// row updated within maxAge.
	PairsFresh(ctx context.Context, exchange string, maxAge time.Duration) (bool, error)
	// ActivePairs returns the exchange's active pairs with volume at or
	// above minVolume, ordered by volume descending.
	ActivePairs(ctx context.Context, exchange string, minVolume decimal.Decimal) ([]model.TradingPairInfo, error)
	// UpsertPairs reconciles the stored pair set with the incoming one:
	// incoming pairs are inserted or updated, stored pairs absent from the
	// incoming set are marked inactive.
	UpsertPairs(ctx context.Context, exchange string, pairs []model.TradingPairInfo) (UpsertResult, error)
	// CleanupInactivePairs removes pairs that have been inactive for longer
	// than olderThan and returns how many were removed.
	CleanupInactivePairs(ctx context.Context, olderThan time.Duration) (int, error)
}
