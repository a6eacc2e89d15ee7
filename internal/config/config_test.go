package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
database:
  host: localhost
  name: whalewatch
  user: monitor
  password: secret
`

func TestLoadAndValidate_Minimal(t *testing.T) {
	cfg, err := LoadAndValidate(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadAndValidate() error: %v", err)
	}

	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("db port = %d, want %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Monitor.MinTradeValueUSD != DefaultMinTradeValueUSD {
		t.Errorf("min trade value = %d, want %d", cfg.Monitor.MinTradeValueUSD, DefaultMinTradeValueUSD)
	}
	if cfg.Monitor.BatchSize != DefaultBatchSize {
		t.Errorf("batch size = %d, want %d", cfg.Monitor.BatchSize, DefaultBatchSize)
	}

	// All four exchanges materialize with defaults.
	for _, name := range []string{"binance", "bybit", "coinbase", "okx"} {
		ex, ok := cfg.Exchanges[name]
		if !ok {
			t.Fatalf("exchange %s missing from defaults", name)
		}
		if !ex.Enabled {
			t.Errorf("exchange %s should default to enabled", name)
		}
		if ex.APIURL == "" {
			t.Errorf("exchange %s has empty api_url", name)
		}
	}

	if cfg.Exchanges["binance"].Weights.Tickers != 40 {
		t.Errorf("binance tickers weight = %d, want 40", cfg.Exchanges["binance"].Weights.Tickers)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("WW_DB_PASSWORD", "hunter2")

	cfg, err := Load(writeConfig(t, `
database:
  host: localhost
  name: whalewatch
  user: monitor
  password: ${WW_DB_PASSWORD}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Password != "hunter2" {
		t.Errorf("password = %q, want env-expanded value", cfg.Database.Password)
	}
}

func TestLoad_ExchangeOverride(t *testing.T) {
	cfg, err := LoadWithDefaults(writeConfig(t, minimalConfig+`
exchanges:
  bybit:
    cycle_pause: 10m
    enabled: true
  okx:
    enabled: false
`))
	if err != nil {
		t.Fatal(err)
	}

	if got := cfg.Exchanges["bybit"].CyclePause; got != 10*time.Minute {
		t.Errorf("bybit cycle_pause = %s, want 10m", got)
	}
	// Unset fields still fall back to defaults.
	if got := cfg.Exchanges["bybit"].TradesLimit; got != 60 {
		t.Errorf("bybit trades_limit = %d, want default 60", got)
	}
	if cfg.Exchanges["okx"].Enabled {
		t.Error("okx should stay disabled")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing db host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantErr: "database.host",
		},
		{
			name:    "batch size",
			mutate:  func(c *Config) { c.Monitor.BatchSize = 0 },
			wantErr: "batch_size",
		},
		{
			name: "memory ttl not shorter than cooldown",
			mutate: func(c *Config) {
				c.Monitor.MemoryCacheTTL = 2 * time.Hour
				c.Monitor.APIRefreshCooldown = time.Hour
			},
			wantErr: "memory_cache_ttl",
		},
		{
			name: "cooldown not shorter than db ttl",
			mutate: func(c *Config) {
				c.Monitor.APIRefreshCooldown = 5 * time.Hour
				c.Monitor.DBCacheTTL = 4 * time.Hour
			},
			wantErr: "api_refresh_cooldown",
		},
		{
			name: "no enabled exchanges",
			mutate: func(c *Config) {
				for name, ex := range c.Exchanges {
					ex.Enabled = false
					c.Exchanges[name] = ex
				}
			},
			wantErr: "at least one exchange",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadWithDefaults(writeConfig(t, minimalConfig))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
