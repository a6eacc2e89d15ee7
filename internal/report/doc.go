// Package report periodically logs aggregate monitoring statistics.
//
// The Reporter snapshots every worker's counters on a fixed interval and
// pairs them with database-side aggregates (stored trade counts, per
// exchange 24h totals), giving a single log line per exchange that answers
// "is it still finding whales" without a metrics stack.
package report
