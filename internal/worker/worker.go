package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/vkuzmin/whalewatch/internal/config"
	"github.com/vkuzmin/whalewatch/internal/dedup"
	"github.com/vkuzmin/whalewatch/internal/exchange"
	"github.com/vkuzmin/whalewatch/internal/model"
	"github.com/vkuzmin/whalewatch/internal/pairscache"
)

const (
	// errorBackoff is the pause after a cycle fails outright.
	errorBackoff = time.Minute
	// maxSleepChunk bounds each sleep slice so Stop never waits long.
	maxSleepChunk = 30 * time.Second
)

// TradeStore is the slice of the persistent store the worker needs.
type TradeStore interface {
	TradesExist(ctx context.Context, keys []model.TradeKey) (map[model.TradeKey]struct{}, error)
	InsertTrades(ctx context.Context, trades []model.Trade) (int, error)
}

// Stats is a point-in-time snapshot of one worker's counters.
type Stats struct {
	Exchange    string
	Cycles      uint64
	TradesFound uint64
	TradesSaved uint64
	Duplicates  uint64
	FetchErrors uint64
	Pending     int
	Cache       pairscache.Counters
}

// Worker polls a single exchange for large trades.
type Worker struct {
	exchange string
	cfg      config.ExchangeConfig
	mon      config.MonitorConfig
	client   exchange.Client
	analyzer exchange.Analyzer
	store    TradeStore
	cache    *pairscache.Cache
	ledger   *dedup.Ledger
	clock    clock.Clock
	logger   *slog.Logger

	sem      *semaphore.Weighted
	minValue decimal.Decimal

	// pending holds trades whose persistence failed; they ride along with
	// the next flush. The uniqueness constraint makes the retry idempotent.
	pending   []model.Trade
	pendingMu sync.Mutex

	cycles      atomic.Uint64
	tradesFound atomic.Uint64
	tradesSaved atomic.Uint64
	duplicates  atomic.Uint64
	fetchErrors atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options bundles the worker's collaborators.
type Options struct {
	Exchange config.ExchangeConfig
	Monitor  config.MonitorConfig
	Client   exchange.Client
	Analyzer exchange.Analyzer
	Store    TradeStore
	Cache    *pairscache.Cache
	Ledger   *dedup.Ledger
	Clock    clock.Clock
	Logger   *slog.Logger
}

// New creates a worker for one exchange.
func New(name string, opts Options) *Worker {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Ledger == nil {
		opts.Ledger = dedup.NewLedger()
	}
	concurrency := opts.Monitor.MaxConcurrentRequests
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		exchange: name,
		cfg:      opts.Exchange,
		mon:      opts.Monitor,
		client:   opts.Client,
		analyzer: opts.Analyzer,
		store:    opts.Store,
		cache:    opts.Cache,
		ledger:   opts.Ledger,
		clock:    opts.Clock,
		logger:   opts.Logger.With("exchange", name),
		sem:      semaphore.NewWeighted(int64(concurrency)),
		minValue: decimal.NewFromInt(opts.Monitor.MinTradeValueUSD),
	}
}

// Start launches the cycle loop.
func (w *Worker) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run()

	w.logger.Info("worker started",
		"cycle_pause", w.cfg.CyclePause,
		"batch_size", w.mon.BatchSize,
		"concurrency", w.mon.MaxConcurrentRequests,
		"min_trade_value_usd", w.minValue.String(),
	)
	return nil
}

// Stop shuts the worker down, waiting for the current batch to finish.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	w.pendingMu.Lock()
	pending := len(w.pending)
	w.pendingMu.Unlock()

	return Stats{
		Exchange:    w.exchange,
		Cycles:      w.cycles.Load(),
		TradesFound: w.tradesFound.Load(),
		TradesSaved: w.tradesSaved.Load(),
		Duplicates:  w.duplicates.Load(),
		FetchErrors: w.fetchErrors.Load(),
		Pending:     pending,
		Cache:       w.cache.Counters(),
	}
}

// run is the main loop: one cycle, then the configured pause. A failed
// cycle logs and backs off; the loop itself never exits except on Stop.
func (w *Worker) run() {
	defer w.wg.Done()

	if err := w.client.TestConnectivity(w.ctx); err != nil {
		w.logger.Warn("connectivity check failed", "error", err)
	}

	// Warm the pair cache ahead of the first cycle. Failure is not fatal;
	// the first cycle will try again.
	if _, src, err := w.cache.Get(w.ctx, w.refreshPairs); err != nil {
		w.logger.Warn("initial pair load failed", "error", err)
	} else {
		w.logger.Info("initial pair load complete", "source", src)
	}

	for {
		if w.ctx.Err() != nil {
			return
		}

		pause := w.cfg.CyclePause
		if err := w.runCycle(w.ctx); err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.logger.Error("cycle failed", "error", err)
			pause = errorBackoff
		}

		if !w.sleep(w.ctx, pause) {
			return
		}
	}
}

// runCycle processes every pair once. Panics are contained here so a
// malformed payload cannot take the worker down.
func (w *Worker) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()

	cycle := w.cycles.Add(1)
	start := w.clock.Now()

	pairs, src, err := w.cache.Get(ctx, w.refreshPairs)
	if err != nil {
		return fmt.Errorf("get trading pairs: %w", err)
	}

	w.logger.Info("cycle started",
		"cycle", cycle,
		"pairs", len(pairs),
		"pair_source", src,
		"top_pairs", topSymbols(pairs, 5),
	)

	var found, saved, dups int
	for i := 0; i < len(pairs); i += w.mon.BatchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		end := i + w.mon.BatchSize
		if end > len(pairs) {
			end = len(pairs)
		}

		fetched := w.fetchBatch(ctx, pairs[i:end])

		// Dedup first, threshold second: a repeated id is dropped before
		// its value is ever considered.
		fresh := w.ledger.Filter(fetched)
		ledgerDups := len(fetched) - len(fresh)
		dups += ledgerDups
		w.duplicates.Add(uint64(ledgerDups))

		large := fresh[:0:0]
		for _, t := range fresh {
			if t.ValueUSD.GreaterThanOrEqual(w.minValue) {
				large = append(large, t)
			}
		}
		found += len(large)

		batchSaved, batchDups := w.flush(ctx, large)
		saved += batchSaved
		dups += batchDups

		if batchSaved > 0 {
			w.logger.Info("batch persisted",
				"progress", fmt.Sprintf("%d/%d", end, len(pairs)),
				"found", len(large),
				"saved", batchSaved,
				"duplicates", batchDups,
			)
		}

		if end < len(pairs) && !w.sleep(ctx, w.mon.BatchPause) {
			return nil
		}
	}

	w.tradesFound.Add(uint64(found))

	w.logger.Info("cycle complete",
		"cycle", cycle,
		"duration", w.clock.Now().Sub(start),
		"found", found,
		"saved", saved,
		"duplicates", dups,
	)
	return nil
}

// fetchBatch fans out trade fetches for one batch of pairs under the
// concurrency cap and returns every parsed trade. Per-pair failures are
// counted and dropped, never propagated.
func (w *Worker) fetchBatch(ctx context.Context, pairs []model.TradingPairInfo) []model.Trade {
	results := make([][]model.Trade, len(pairs))

	var wg sync.WaitGroup
	for i, pair := range pairs {
		wg.Add(1)
		go func(i int, pair model.TradingPairInfo) {
			defer wg.Done()

			if err := w.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer w.sem.Release(1)

			trades, err := w.fetchPair(ctx, pair)
			if err != nil {
				w.fetchErrors.Add(1)
				w.logger.Debug("pair fetch failed", "symbol", pair.Symbol, "error", err)
				return
			}
			results[i] = trades
		}(i, pair)
	}
	wg.Wait()

	var candidates []model.Trade
	for _, trades := range results {
		candidates = append(candidates, trades...)
	}
	return candidates
}

// fetchPair fetches and parses one pair's recent trades. Unparsable
// entries are logged and skipped.
func (w *Worker) fetchPair(ctx context.Context, pair model.TradingPairInfo) ([]model.Trade, error) {
	raws, err := w.client.GetRecentTrades(ctx, pair.Symbol)
	if err != nil {
		return nil, err
	}

	trades := make([]model.Trade, 0, len(raws))
	for _, raw := range raws {
		trade, err := w.client.ParseTrade(raw, pair)
		if err != nil {
			w.logger.Debug("trade parse failed", "symbol", pair.Symbol, "error", err)
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// flush persists trades plus anything left over from a failed earlier
// flush. On write failure the whole batch returns to the pending buffer;
// the insert's conflict handling makes the eventual retry idempotent.
func (w *Worker) flush(ctx context.Context, trades []model.Trade) (saved, dups int) {
	w.pendingMu.Lock()
	batch := append(w.pending, trades...)
	w.pending = nil
	w.pendingMu.Unlock()

	if len(batch) == 0 {
		return 0, 0
	}

	fresh := batch
	keys := make([]model.TradeKey, len(batch))
	for i, t := range batch {
		keys[i] = t.Key()
	}

	existing, err := w.store.TradesExist(ctx, keys)
	if err != nil {
		// Pre-check is an optimization; the insert conflict clause is the
		// real guard.
		w.logger.Warn("duplicate pre-check failed", "error", err)
	} else if len(existing) > 0 {
		fresh = fresh[:0:0]
		for _, t := range batch {
			if _, dup := existing[t.Key()]; !dup {
				fresh = append(fresh, t)
			}
		}
	}

	inserted, err := w.store.InsertTrades(ctx, fresh)
	if err != nil {
		w.pendingMu.Lock()
		w.pending = append(w.pending, batch...)
		pending := len(w.pending)
		w.pendingMu.Unlock()

		w.logger.Error("trade persistence failed, buffering batch",
			"batch", len(batch),
			"pending", pending,
			"error", err,
		)
		return 0, 0
	}

	dups = len(batch) - inserted
	w.tradesSaved.Add(uint64(inserted))
	w.duplicates.Add(uint64(dups))
	return inserted, dups
}

// refreshPairs is the cache's API-refresh callback.
func (w *Worker) refreshPairs(ctx context.Context) ([]model.TradingPairInfo, error) {
	instruments, err := w.client.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	tickers, err := w.client.GetTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("get tickers: %w", err)
	}
	return w.analyzer.FilterPairs(instruments, tickers)
}

// topSymbols returns the first n symbols of an already volume-sorted list.
func topSymbols(pairs []model.TradingPairInfo, n int) []string {
	if n > len(pairs) {
		n = len(pairs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pairs[i].Symbol
	}
	return out
}

// sleep pauses for d in chunks, so Stop is honored promptly even across
// long cycle pauses. Returns false when the worker is shutting down.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	for d > 0 {
		chunk := d
		if chunk > maxSleepChunk {
			chunk = maxSleepChunk
		}
		d -= chunk

		timer := w.clock.Timer(chunk)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
	return true
}
