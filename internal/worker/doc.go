// Package worker runs the per-exchange polling cycle: acquire the pair
// list through the tiered cache, fan out trade fetches under a concurrency
// cap, filter by USD value, deduplicate, and persist. One worker per
// exchange; each owns its cache and dedup ledger outright.
package worker
