package pairscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/vkuzmin/whalewatch/internal/model"
	"github.com/vkuzmin/whalewatch/internal/store"
)

// ErrNoPairs is returned when every tier comes up empty and the in-process
// cache was never populated.
var ErrNoPairs = errors.New("no trading pairs available from any cache tier")

// Source identifies which tier satisfied a Get call.
type Source string

const (
	SourceMemory Source = "memory"
	SourceAPI    Source = "api"
	SourceDB     Source = "db"
	SourceStale  Source = "stale"
)

// RefreshFunc fetches a fresh pair list from the exchange API. The caller
// supplies it so the cache stays ignorant of exchange wiring.
type RefreshFunc func(ctx context.Context) ([]model.TradingPairInfo, error)

// PairStore is the slice of the persistent store the cache needs.
type PairStore interface {
	PairsFresh(ctx context.Context, exchange string, maxAge time.Duration) (bool, error)
	ActivePairs(ctx context.Context, exchange string, minVolume decimal.Decimal) ([]model.TradingPairInfo, error)
	UpsertPairs(ctx context.Context, exchange string, pairs []model.TradingPairInfo) (store.UpsertResult, error)
	CleanupInactivePairs(ctx context.Context, olderThan time.Duration) (int, error)
}

// inactiveRetention is how long deactivated pairs stay in the store before
// a refresh sweeps them out.
const inactiveRetention = 7 * 24 * time.Hour

// Counters is a snapshot of cache activity.
type Counters struct {
	MemoryHits   uint64
	DBHits       uint64
	APIRefreshes uint64
	FallbackUses uint64
	Misses       uint64
}

// Options configures a Cache.
type Options struct {
	// MemoryTTL is the in-process tier lifetime.
	MemoryTTL time.Duration
	// APICooldown is the minimum spacing between exchange API refreshes.
	APICooldown time.Duration
	// DBTTL is the permissive freshness bound for the persistent tier.
	DBTTL time.Duration
	// MinVolumeUSD filters the persistent tier reads.
	MinVolumeUSD decimal.Decimal
	// Clock defaults to the wall clock.
	Clock  clock.Clock
	Logger *slog.Logger
}

// Cache is a worker-owned pair cache. Not safe for concurrent use; each
// worker holds exactly one and calls it from its own cycle goroutine.
type Cache struct {
	exchange  string
	store     PairStore
	memoryTTL time.Duration
	cooldown  time.Duration
	dbTTL     time.Duration
	minVolume decimal.Decimal
	clock     clock.Clock
	logger    *slog.Logger

	pairs    []model.TradingPairInfo
	loadedAt time.Time
	source   Source
	// lastAPIAttempt gates the cooldown. It is set before the refresh call
	// starts so a hanging call cannot trigger a refresh stampede, and
	// cleared when the call fails so the next cycle may retry.
	lastAPIAttempt time.Time

	// counters are atomic so Counters() may be read from reporting
	// goroutines while the owning worker is mid-cycle.
	memoryHits   atomic.Uint64
	dbHits       atomic.Uint64
	apiRefreshes atomic.Uint64
	fallbackUses atomic.Uint64
	misses       atomic.Uint64
}

// New creates a cache for one exchange.
func New(exchange string, st PairStore, opts Options) *Cache {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		exchange:  exchange,
		store:     st,
		memoryTTL: opts.MemoryTTL,
		cooldown:  opts.APICooldown,
		dbTTL:     opts.DBTTL,
		minVolume: opts.MinVolumeUSD,
		clock:     opts.Clock,
		logger:    opts.Logger.With("exchange", exchange),
	}
}

// Get returns the best available pair list, sorted by 24h USD volume
// descending, and the tier that served it.
//
// Order of preference: valid in-process cache, then — depending on the
// cooldown — either the persistent tier or a full API refresh, then stale
// in-process contents as the last resort. ErrNoPairs only when the cache
// was never populated at all.
func (c *Cache) Get(ctx context.Context, refresh RefreshFunc) ([]model.TradingPairInfo, Source, error) {
	if c.memoryValid() {
		c.memoryHits.Add(1)
		return c.pairs, SourceMemory, nil
	}

	if c.cooldownActive() {
		if pairs := c.loadFromDB(ctx); pairs != nil {
			return pairs, SourceDB, nil
		}
	} else {
		if pairs := c.refreshFromAPI(ctx, refresh); pairs != nil {
			return pairs, SourceAPI, nil
		}
		// API failed outside cooldown; the persistent tier may still hold
		// something usable.
		if pairs := c.loadFromDB(ctx); pairs != nil {
			return pairs, SourceDB, nil
		}
	}

	if len(c.pairs) > 0 {
		c.fallbackUses.Add(1)
		age := c.clock.Now().Sub(c.loadedAt)
		c.logger.Warn("serving stale pair cache", "age", age, "pairs", len(c.pairs))
		return c.pairs, SourceStale, nil
	}

	c.misses.Add(1)
	return nil, "", fmt.Errorf("%s: %w", c.exchange, ErrNoPairs)
}

// Counters returns a snapshot of cache activity.
func (c *Cache) Counters() Counters {
	return Counters{
		MemoryHits:   c.memoryHits.Load(),
		DBHits:       c.dbHits.Load(),
		APIRefreshes: c.apiRefreshes.Load(),
		FallbackUses: c.fallbackUses.Load(),
		Misses:       c.misses.Load(),
	}
}

func (c *Cache) memoryValid() bool {
	if len(c.pairs) == 0 || c.loadedAt.IsZero() {
		return false
	}
	return c.clock.Now().Sub(c.loadedAt) < c.memoryTTL
}

func (c *Cache) cooldownActive() bool {
	if c.lastAPIAttempt.IsZero() {
		return false
	}
	return c.clock.Now().Sub(c.lastAPIAttempt) < c.cooldown
}

// loadFromDB consults the persistent tier under its permissive TTL,
// populating the in-process tier on a hit. Returns nil on any miss or
// error; the persistent tier is advisory, never fatal.
func (c *Cache) loadFromDB(ctx context.Context) []model.TradingPairInfo {
	fresh, err := c.store.PairsFresh(ctx, c.exchange, c.dbTTL)
	if err != nil {
		c.logger.Error("pair cache freshness check failed", "error", err)
		return nil
	}
	if !fresh {
		return nil
	}

	pairs, err := c.store.ActivePairs(ctx, c.exchange, c.minVolume)
	if err != nil {
		c.logger.Error("pair cache read failed", "error", err)
		return nil
	}
	if len(pairs) == 0 {
		return nil
	}

	c.remember(pairs, SourceDB)
	c.dbHits.Add(1)
	c.logger.Info("loaded pairs from persistent cache", "pairs", len(pairs))
	return pairs
}

// refreshFromAPI performs a full refresh: exchange fetch, persistent-tier
// reconciliation, in-process population. Returns nil on failure.
func (c *Cache) refreshFromAPI(ctx context.Context, refresh RefreshFunc) []model.TradingPairInfo {
	// Stamp the attempt up front; cleared below on failure.
	c.lastAPIAttempt = c.clock.Now()

	pairs, err := refresh(ctx)
	if err != nil {
		c.lastAPIAttempt = time.Time{}
		c.logger.Error("pair refresh from api failed", "error", err)
		return nil
	}
	if len(pairs) == 0 {
		c.lastAPIAttempt = time.Time{}
		c.logger.Warn("pair refresh from api returned no pairs")
		return nil
	}

	res, err := c.store.UpsertPairs(ctx, c.exchange, pairs)
	if err != nil {
		// The fetched list is still good; keep serving it and let the next
		// refresh retry the write.
		c.logger.Error("pair cache write-back failed", "error", err)
	} else {
		c.logger.Info("refreshed pairs from api",
			"pairs", len(pairs),
			"added", res.Added,
			"updated", res.Updated,
			"deactivated", res.Deactivated,
		)
		if removed, err := c.store.CleanupInactivePairs(ctx, inactiveRetention); err != nil {
			c.logger.Warn("inactive pair cleanup failed", "error", err)
		} else if removed > 0 {
			c.logger.Info("removed long-inactive pairs", "count", removed)
		}
	}

	c.remember(pairs, SourceAPI)
	c.apiRefreshes.Add(1)
	return c.pairs
}

func (c *Cache) remember(pairs []model.TradingPairInfo, src Source) {
	sorted := make([]model.TradingPairInfo, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Volume24hUSD.GreaterThan(sorted[j].Volume24hUSD)
	})

	c.pairs = sorted
	c.loadedAt = c.clock.Now()
	c.source = src
}
