package config

import "time"

// Config is the root configuration for a monitor instance.
type Config struct {
	Instance  InstanceConfig            `yaml:"instance"`
	Log       LogConfig                 `yaml:"log"`
	Database  DBConfig                  `yaml:"database"`
	Monitor   MonitorConfig             `yaml:"monitor"`
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`
}

// InstanceConfig identifies this monitor process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DBConfig holds the PostgreSQL connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MonitorConfig holds settings shared by all exchange workers.
type MonitorConfig struct {
	// MinTradeValueUSD is the threshold below which trades are discarded.
	MinTradeValueUSD int64 `yaml:"min_trade_value_usd"`
	// MinVolumeUSD is the 24h volume floor for a pair to be polled.
	MinVolumeUSD int64 `yaml:"min_volume_usd"`
	// BatchSize is the number of pairs fetched per fan-out batch.
	BatchSize int `yaml:"batch_size"`
	// MaxConcurrentRequests caps in-flight trade fetches per worker.
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`
	// BatchPause smooths request bursts between batches.
	BatchPause time.Duration `yaml:"batch_pause"`
	// StatsInterval is how often the reporter logs aggregate statistics.
	StatsInterval time.Duration `yaml:"stats_interval"`

	// MemoryCacheTTL is the in-process pair cache lifetime.
	MemoryCacheTTL time.Duration `yaml:"memory_cache_ttl"`
	// APIRefreshCooldown is the minimum spacing between API pair refreshes.
	APIRefreshCooldown time.Duration `yaml:"api_refresh_cooldown"`
	// DBCacheTTL is the permissive freshness bound for the persistent tier.
	DBCacheTTL time.Duration `yaml:"db_cache_ttl"`
}

// ExchangeConfig holds per-exchange settings, fully resolved before a worker
// ever sees them.
type ExchangeConfig struct {
	APIURL              string        `yaml:"api_url"`
	TradesLimit         int           `yaml:"trades_limit"`
	CyclePause          time.Duration `yaml:"cycle_pause"`
	RateBudgetPerMinute int           `yaml:"rate_budget_per_minute"`
	Weights             WeightsConfig `yaml:"weights"`
	Enabled             bool          `yaml:"enabled"`
}

// WeightsConfig is the exchange-specific request cost accounting. Binance
// charges different weights per endpoint; most other exchanges count every
// request as 1.
type WeightsConfig struct {
	Trades      int `yaml:"trades"`
	Instruments int `yaml:"instruments"`
	Tickers     int `yaml:"tickers"`
}
