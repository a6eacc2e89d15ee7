// Package store persists trades and the trading-pairs cache in PostgreSQL.
//
// The trades table is append-only with a composite primary key on
// (exchange, id); duplicate inserts are absorbed by ON CONFLICT DO NOTHING,
// making retries idempotent. The pairs cache table is reconciled as a whole
// per exchange inside a single transaction.
package store
