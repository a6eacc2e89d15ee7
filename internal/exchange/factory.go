package exchange

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/vkuzmin/whalewatch/internal/config"
	"github.com/vkuzmin/whalewatch/internal/ratelimit"
)

// New constructs the client/analyzer pair for a named exchange. The limiter
// carries that exchange's per-minute weight budget; minVolumeUSD is the 24h
// volume floor applied when filtering pairs.
func New(name string, cfg config.ExchangeConfig, minVolumeUSD decimal.Decimal, limiter *ratelimit.Limiter, logger *slog.Logger) (Client, Analyzer, error) {
	switch name {
	case "binance":
		return NewBinanceClient(cfg, limiter, logger), NewBinanceAnalyzer(minVolumeUSD, logger), nil
	case "bybit":
		return NewBybitClient(cfg, limiter, logger), NewBybitAnalyzer(minVolumeUSD, logger), nil
	case "coinbase":
		return NewCoinbaseClient(cfg, limiter, logger), NewCoinbaseAnalyzer(minVolumeUSD, logger), nil
	case "okx":
		return NewOKXClient(cfg, limiter, logger), NewOKXAnalyzer(minVolumeUSD, logger), nil
	default:
		return nil, nil, fmt.Errorf("unknown exchange %q", name)
	}
}
