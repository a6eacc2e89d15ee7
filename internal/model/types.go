package model

import (
	"hash/fnv"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// TradeKey is the composite identity of a trade: the exchange name plus the
// exchange-native trade id. Two trades are the same trade iff their keys are
// equal; ids are never compared across exchanges.
type TradeKey struct {
	Exchange string
	ID       string
}

// Trade is an immutable record of one executed transaction on one exchange.
type Trade struct {
	Exchange     string          // exchange name (e.g. "binance")
	ID           string          // exchange-native trade id, numeric or opaque
	Symbol       string          // trading pair symbol (e.g. "BTCUSDT")
	BaseAsset    string          // base asset (e.g. "BTC")
	QuoteAsset   string          // quote asset (e.g. "USDT")
	Price        decimal.Decimal // trade price in quote asset
	Quantity     decimal.Decimal // traded quantity in base asset
	ValueUSD     decimal.Decimal // price * quantity * quote USD rate, fixed at parse time
	IsBuyerMaker bool            // true when the buyer was the passive side
	TradeTime    int64           // trade timestamp, ms since epoch
}

// Key returns the trade's composite identity.
func (t Trade) Key() TradeKey {
	return TradeKey{Exchange: t.Exchange, ID: t.ID}
}

// StorageID maps the native trade id onto a non-negative 63-bit integer for
// the storage primary key. Numeric ids are used as-is; opaque string ids are
// hashed. The result is only meaningful together with the exchange column.
func (t Trade) StorageID() int64 {
	return StorageID(t.ID)
}

// StorageID derives the 63-bit storage key for a native trade id.
func StorageID(id string) int64 {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil && n >= 0 {
		return n
	}
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64() & (1<<63 - 1))
}

// Timestamp returns the trade time as a time.Time.
func (t Trade) Timestamp() time.Time {
	return time.UnixMilli(t.TradeTime)
}

// TradingPairInfo is metadata about one tradable symbol on one exchange at a
// point in time. Instances are replaced wholesale on each refresh, never
// mutated.
type TradingPairInfo struct {
	Exchange      string
	Symbol        string
	BaseAsset     string
	QuoteAsset    string
	Volume24hUSD  decimal.Decimal // 24h traded volume converted to USD
	QuotePriceUSD decimal.Decimal // quote asset USD rate at snapshot time
}

// PollingEligible reports whether the pair is worth polling. Pairs with zero
// or negative volume never are.
func (p TradingPairInfo) PollingEligible() bool {
	return p.Volume24hUSD.IsPositive()
}
