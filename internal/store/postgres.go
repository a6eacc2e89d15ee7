package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// maxAssetLen is the column width of the asset name columns. Longer names
// are truncated before writing.
const maxAssetLen = 20

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a Postgres store.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

// Ping verifies the underlying pool is healthy.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// truncateAsset clips an asset name to the storage column width. Lossy but
// non-fatal; long names come from exotic listings, not core pairs.
func (s *Postgres) truncateAsset(name string) string {
	if len(name) <= maxAssetLen {
		return name
	}
	s.logger.Warn("asset name exceeds column width, truncating",
		"asset", name,
		"max_len", maxAssetLen,
	)
	return name[:maxAssetLen]
}

var _ Store = (*Postgres)(nil)

// dbTime converts a millisecond epoch timestamp into time.Time for a
// timestamptz column.
func dbTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
