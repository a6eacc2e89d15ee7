package exchange

import (
	"context"
	"encoding/json"

	"github.com/vkuzmin/whalewatch/internal/model"
)

// Client translates generic market-data operations into calls against one
// exchange's REST API. Instrument and ticker payloads are returned as raw
// JSON; only the exchange's Analyzer knows their shape.
//
// Implementations apply their own retry-with-backoff for rate-limit
// statuses, and treat "symbol not found" as an empty result rather than
// an error.
type Client interface {
	// Name returns the lowercase exchange identifier ("binance", "bybit", ...).
	Name() string

	// TestConnectivity performs a cheap unauthenticated call to verify the
	// API is reachable.
	TestConnectivity(ctx context.Context) error

	// ListInstruments fetches the instrument/product catalog.
	ListInstruments(ctx context.Context) (json.RawMessage, error)

	// GetTickers fetches the 24h statistics snapshot for all symbols.
	// Exchanges without a bulk ticker endpoint return an empty payload.
	GetTickers(ctx context.Context) (json.RawMessage, error)

	// GetRecentTrades fetches the most recent public trades for symbol,
	// unparsed. The symbol is in the exchange's native format.
	GetRecentTrades(ctx context.Context, symbol string) ([]json.RawMessage, error)

	// ParseTrade decodes one raw trade into the common model. The USD value
	// is computed here, once, from the pair's quote price.
	ParseTrade(raw json.RawMessage, pair model.TradingPairInfo) (model.Trade, error)
}

// Analyzer turns an exchange's raw instrument and ticker payloads into the
// filtered set of pairs worth polling. Implementations keep a running map
// of quote-asset USD prices, refreshed from each ticker snapshot.
type Analyzer interface {
	FilterPairs(instruments, tickers json.RawMessage) ([]model.TradingPairInfo, error)
}
