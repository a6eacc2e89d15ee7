package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vkuzmin/whalewatch/internal/config"
	"github.com/vkuzmin/whalewatch/internal/exchange"
	"github.com/vkuzmin/whalewatch/internal/pairscache"
	"github.com/vkuzmin/whalewatch/internal/ratelimit"
	"github.com/vkuzmin/whalewatch/internal/report"
	"github.com/vkuzmin/whalewatch/internal/store"
	"github.com/vkuzmin/whalewatch/internal/version"
	"github.com/vkuzmin/whalewatch/internal/worker"
)

func main() {
	configPath := flag.String("config", "configs/monitor.yaml", "path to config file")
	healthPort := flag.Int("health-port", 8080, "port for the health endpoint")
	flag.Parse()

	// Load configuration first so the log level can honor it.
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	instanceID := cfg.Instance.ID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	logger.Info("starting monitor",
		"version", version.String(),
		"instance_id", instanceID,
		"config", *configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database ready")

	db := store.NewPostgres(pool, logger)
	minVolume := decimal.NewFromInt(cfg.Monitor.MinVolumeUSD)

	// One worker per enabled exchange, each with its own rate budget,
	// pair cache, and dedup ledger.
	var workers []*worker.Worker
	var sources []report.StatsSource
	for name, exCfg := range cfg.Exchanges {
		if !exCfg.Enabled {
			logger.Info("exchange disabled", "exchange", name)
			continue
		}

		limiter := ratelimit.New(exCfg.RateBudgetPerMinute)
		client, analyzer, err := exchange.New(name, exCfg, minVolume, limiter, logger)
		if err != nil {
			logger.Error("failed to create exchange client", "exchange", name, "error", err)
			os.Exit(1)
		}

		cache := pairscache.New(name, db, pairscache.Options{
			MemoryTTL:    cfg.Monitor.MemoryCacheTTL,
			APICooldown:  cfg.Monitor.APIRefreshCooldown,
			DBTTL:        cfg.Monitor.DBCacheTTL,
			MinVolumeUSD: minVolume,
			Logger:       logger,
		})

		w := worker.New(name, worker.Options{
			Exchange: exCfg,
			Monitor:  cfg.Monitor,
			Client:   client,
			Analyzer: analyzer,
			Store:    db,
			Cache:    cache,
			Logger:   logger,
		})
		workers = append(workers, w)
		sources = append(sources, w)
	}

	logger.Info("starting workers", "count", len(workers))
	for _, w := range workers {
		if err := w.Start(ctx); err != nil {
			logger.Error("failed to start worker", "error", err)
			os.Exit(1)
		}
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		for _, w := range workers {
			if err := w.Stop(shutdownCtx); err != nil {
				logger.Warn("worker stop timed out", "error", err)
			}
		}
	}()

	reporter := report.New(sources, report.Options{
		Interval: cfg.Monitor.StatsInterval,
		Store:    db,
		Logger:   logger,
	})
	if err := reporter.Start(ctx); err != nil {
		logger.Error("failed to start reporter", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		reporter.Stop(shutdownCtx)
	}()

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *healthPort),
		Handler: createHealthHandler(pool, workers),
	}
	go func() {
		logger.Info("starting health server", "port", *healthPort)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("monitor running",
		"instance_id", instanceID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", *healthPort),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	logger.Info("monitor stopped")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(pool *pgxpool.Pool, workers []*worker.Worker) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		// Per-worker counters
		for _, wk := range workers {
			s := wk.Stats()
			health.Components[s.Exchange] = map[string]interface{}{
				"cycles":       s.Cycles,
				"trades_found": s.TradesFound,
				"trades_saved": s.TradesSaved,
				"fetch_errors": s.FetchErrors,
				"pending":      s.Pending,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		out := make([]worker.Stats, 0, len(workers))
		for _, wk := range workers {
			out = append(out, wk.Stats())
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	return mux
}
