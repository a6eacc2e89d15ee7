package report

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vkuzmin/whalewatch/internal/store"
	"github.com/vkuzmin/whalewatch/internal/worker"
)

// StatsSource yields a point-in-time counter snapshot.
type StatsSource interface {
	Stats() worker.Stats
}

// StatsStore is the slice of the persistent store the reporter reads.
type StatsStore interface {
	RecentTradeCount(ctx context.Context, exchange string, window time.Duration) (int64, error)
	StatsByExchange(ctx context.Context) ([]store.ExchangeStats, error)
}

// Options configures a Reporter.
type Options struct {
	// Interval is how often a summary is logged.
	Interval time.Duration
	// Store is optional; without it only in-process counters are logged.
	Store  StatsStore
	Clock  clock.Clock
	Logger *slog.Logger
}

// Reporter logs periodic summaries for a set of workers.
type Reporter struct {
	sources  []StatsSource
	interval time.Duration
	store    StatsStore
	clock    clock.Clock
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Reporter over the given stats sources.
func New(sources []StatsSource, opts Options) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reporter{
		sources:  sources,
		interval: opts.Interval,
		store:    opts.Store,
		clock:    opts.Clock,
		logger:   opts.Logger.With("component", "reporter"),
	}
}

// Start launches the reporting loop.
func (r *Reporter) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("reporter started", "interval", r.interval)
	return nil
}

// Stop halts the loop, logging one final summary first.
func (r *Reporter) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.report(ctx)
	r.logger.Info("reporter stopped")
	return nil
}

func (r *Reporter) run() {
	defer r.wg.Done()

	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.report(r.ctx)
		}
	}
}

// report logs one summary line per worker plus database aggregates.
func (r *Reporter) report(ctx context.Context) {
	for _, src := range r.sources {
		s := src.Stats()
		r.logger.Info("worker stats",
			"exchange", s.Exchange,
			"cycles", s.Cycles,
			"trades_found", s.TradesFound,
			"trades_saved", s.TradesSaved,
			"duplicates", s.Duplicates,
			"fetch_errors", s.FetchErrors,
			"pending", s.Pending,
			"cache_memory_hits", s.Cache.MemoryHits,
			"cache_db_hits", s.Cache.DBHits,
			"cache_api_refreshes", s.Cache.APIRefreshes,
			"cache_fallbacks", s.Cache.FallbackUses,
		)
	}

	if r.store == nil {
		return
	}

	queryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if count, err := r.store.RecentTradeCount(queryCtx, "", time.Hour); err != nil {
		r.logger.Warn("failed to count recent trades", "error", err)
	} else {
		r.logger.Info("stored trades", "window", "1h", "count", count)
	}

	stats, err := r.store.StatsByExchange(queryCtx)
	if err != nil {
		r.logger.Warn("failed to query exchange stats", "error", err)
		return
	}
	for _, st := range stats {
		r.logger.Info("exchange 24h totals",
			"exchange", st.Exchange,
			"trades", st.TradeCount,
			"total_usd", st.TotalUSD,
			"avg_usd", st.AverageUSD,
			"max_usd", st.MaxUSD,
		)
	}
}
