package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultMinTradeValueUSD      = 49_000
	DefaultMinVolumeUSD          = 1_000_000
	DefaultBatchSize             = 30
	DefaultMaxConcurrentRequests = 3
	DefaultBatchPause            = 500 * time.Millisecond
	DefaultStatsInterval         = 10 * time.Minute

	DefaultMemoryCacheTTL     = 30 * time.Minute
	DefaultAPIRefreshCooldown = time.Hour
	DefaultDBCacheTTL         = 4 * time.Hour

	DefaultLogLevel = "info"
)

// defaultExchanges mirrors the rate budgets and endpoint weights published by
// each exchange. Binance weighs endpoints individually; the others count
// plain requests.
var defaultExchanges = map[string]ExchangeConfig{
	"binance": {
		APIURL:              "https://api.binance.com",
		TradesLimit:         1000,
		CyclePause:          5 * time.Minute,
		RateBudgetPerMinute: 1200,
		Weights:             WeightsConfig{Trades: 10, Instruments: 20, Tickers: 40},
		Enabled:             true,
	},
	"bybit": {
		APIURL:              "https://api.bybit.com",
		TradesLimit:         60,
		CyclePause:          3 * time.Minute,
		RateBudgetPerMinute: 1200,
		Weights:             WeightsConfig{Trades: 1, Instruments: 1, Tickers: 1},
		Enabled:             true,
	},
	"coinbase": {
		APIURL:              "https://api.exchange.coinbase.com",
		TradesLimit:         1000,
		CyclePause:          7 * time.Minute,
		RateBudgetPerMinute: 600,
		Weights:             WeightsConfig{Trades: 1, Instruments: 1, Tickers: 1},
		Enabled:             true,
	},
	"okx": {
		APIURL:              "https://www.okx.com",
		TradesLimit:         100,
		CyclePause:          4 * time.Minute,
		RateBudgetPerMinute: 1200,
		Weights:             WeightsConfig{Trades: 1, Instruments: 1, Tickers: 1},
		Enabled:             true,
	},
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}

	applyDBDefaults(&c.Database)

	m := &c.Monitor
	if m.MinTradeValueUSD == 0 {
		m.MinTradeValueUSD = DefaultMinTradeValueUSD
	}
	if m.MinVolumeUSD == 0 {
		m.MinVolumeUSD = DefaultMinVolumeUSD
	}
	if m.BatchSize == 0 {
		m.BatchSize = DefaultBatchSize
	}
	if m.MaxConcurrentRequests == 0 {
		m.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if m.BatchPause == 0 {
		m.BatchPause = DefaultBatchPause
	}
	if m.StatsInterval == 0 {
		m.StatsInterval = DefaultStatsInterval
	}
	if m.MemoryCacheTTL == 0 {
		m.MemoryCacheTTL = DefaultMemoryCacheTTL
	}
	if m.APIRefreshCooldown == 0 {
		m.APIRefreshCooldown = DefaultAPIRefreshCooldown
	}
	if m.DBCacheTTL == 0 {
		m.DBCacheTTL = DefaultDBCacheTTL
	}

	if c.Exchanges == nil {
		c.Exchanges = make(map[string]ExchangeConfig)
	}
	for name, def := range defaultExchanges {
		ex, ok := c.Exchanges[name]
		if !ok {
			c.Exchanges[name] = def
			continue
		}
		if ex.APIURL == "" {
			ex.APIURL = def.APIURL
		}
		if ex.TradesLimit == 0 {
			ex.TradesLimit = def.TradesLimit
		}
		if ex.CyclePause == 0 {
			ex.CyclePause = def.CyclePause
		}
		if ex.RateBudgetPerMinute == 0 {
			ex.RateBudgetPerMinute = def.RateBudgetPerMinute
		}
		if ex.Weights == (WeightsConfig{}) {
			ex.Weights = def.Weights
		}
		c.Exchanges[name] = ex
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
