package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := c.Database.validate("database"); err != nil {
		return err
	}

	m := c.Monitor
	if m.MinTradeValueUSD < 0 {
		return errors.New("monitor.min_trade_value_usd must be >= 0")
	}
	if m.MinVolumeUSD < 0 {
		return errors.New("monitor.min_volume_usd must be >= 0")
	}
	if m.BatchSize < 1 {
		return errors.New("monitor.batch_size must be >= 1")
	}
	if m.MaxConcurrentRequests < 1 {
		return errors.New("monitor.max_concurrent_requests must be >= 1")
	}

	// Each cache tier must be strictly more permissive than the one before
	// it, otherwise the fallback ordering degenerates.
	if m.MemoryCacheTTL >= m.APIRefreshCooldown {
		return fmt.Errorf("monitor.memory_cache_ttl (%s) must be shorter than api_refresh_cooldown (%s)",
			m.MemoryCacheTTL, m.APIRefreshCooldown)
	}
	if m.APIRefreshCooldown >= m.DBCacheTTL {
		return fmt.Errorf("monitor.api_refresh_cooldown (%s) must be shorter than db_cache_ttl (%s)",
			m.APIRefreshCooldown, m.DBCacheTTL)
	}

	enabled := 0
	for name, ex := range c.Exchanges {
		if !ex.Enabled {
			continue
		}
		enabled++
		if ex.APIURL == "" {
			return fmt.Errorf("exchanges.%s.api_url is required", name)
		}
		if ex.TradesLimit < 1 {
			return fmt.Errorf("exchanges.%s.trades_limit must be >= 1", name)
		}
		if ex.RateBudgetPerMinute < 1 {
			return fmt.Errorf("exchanges.%s.rate_budget_per_minute must be >= 1", name)
		}
		if ex.Weights.Trades < 1 || ex.Weights.Instruments < 1 || ex.Weights.Tickers < 1 {
			return fmt.Errorf("exchanges.%s.weights must all be >= 1", name)
		}
	}
	if enabled == 0 {
		return errors.New("at least one exchange must be enabled")
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
