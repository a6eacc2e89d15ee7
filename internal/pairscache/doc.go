// Package pairscache implements the tiered trading-pair cache each worker
// owns: an in-process tier with a short TTL, a cooldown-gated API refresh,
// and a persistent tier with a permissive freshness bound. The tiers are
// strictly ordered by permissiveness so the exchange API stays the path of
// last resort.
package pairscache
