package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vkuzmin/whalewatch/internal/config"
	"github.com/vkuzmin/whalewatch/internal/model"
	"github.com/vkuzmin/whalewatch/internal/ratelimit"
)

func newTestCoinbaseClient(t *testing.T, srv *httptest.Server) *CoinbaseClient {
	t.Helper()
	cfg := config.ExchangeConfig{
		APIURL:      srv.URL,
		TradesLimit: 100,
		Weights:     config.WeightsConfig{Trades: 1, Instruments: 1, Tickers: 1},
	}
	return NewCoinbaseClient(cfg, ratelimit.New(10_000), nil, fastOptions()...)
}

func TestToCoinbaseProduct(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"BTCUSDT", "BTC-USD"},
		{"ETHUSDC", "ETH-USD"},
		{"SOLEUR", "SOL-EUR"},
		{"ETHBTC", "ETH-BTC"},
		{"BTC-USD", "BTC-USD"}, // already native
	}
	for _, tc := range cases {
		if got := toCoinbaseProduct(tc.in); got != tc.want {
			t.Errorf("toCoinbaseProduct(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeCoinbaseSymbol(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"BTC-USD", "BTCUSDT"},
		{"ETH-BTC", "ETHBTC"},
		{"SOL-EUR", "SOLEUR"},
	}
	for _, tc := range cases {
		if got := normalizeCoinbaseSymbol(tc.in); got != tc.want {
			t.Errorf("normalizeCoinbaseSymbol(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCoinbaseGetRecentTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/BTC-USD/trades" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"trades":[
			{"trade_id":"123","price":"65000","size":"1","side":"sell","time":"2024-01-15T10:30:00.123456Z"}
		]}`))
	}))
	defer srv.Close()

	c := newTestCoinbaseClient(t, srv)

	// Internal symbol converts to the native product id on the wire.
	trades, err := c.GetRecentTrades(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 raw trade, got %d", len(trades))
	}
}

func TestCoinbaseGetRecentTradesBareList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"trade_id":1,"price":"65000","size":"1","side":"buy","time":"2024-01-15T10:30:00Z"}]`))
	}))
	defer srv.Close()

	c := newTestCoinbaseClient(t, srv)

	trades, err := c.GetRecentTrades(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 raw trade, got %d", len(trades))
	}
}

func TestCoinbaseUnknownProductIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Product not found"}`))
	}))
	defer srv.Close()

	c := newTestCoinbaseClient(t, srv)

	trades, err := c.GetRecentTrades(context.Background(), "NOSUCHPAIR")
	if err != nil {
		t.Fatalf("expected nil error for unknown product, got %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected empty trade list, got %d", len(trades))
	}
}

func TestCoinbaseParseTrade(t *testing.T) {
	c := &CoinbaseClient{}
	pair := model.TradingPairInfo{
		Symbol:        "BTCUSDT",
		BaseAsset:     "BTC",
		QuoteAsset:    "USD",
		QuotePriceUSD: decimal.NewFromInt(1),
	}

	// trade_id arrives as either a number or a string depending on the
	// endpoint version.
	for _, raw := range []json.RawMessage{
		json.RawMessage(`{"trade_id":123,"price":"65000","size":"1.5","side":"sell","time":"2024-01-15T10:30:00.123456Z"}`),
		json.RawMessage(`{"trade_id":"123","price":"65000","size":"1.5","side":"SELL","time":"2024-01-15T10:30:00.123456Z"}`),
	} {
		trade, err := c.ParseTrade(raw, pair)
		if err != nil {
			t.Fatalf("ParseTrade: %v", err)
		}
		if trade.ID != "123" {
			t.Errorf("ID = %q, want \"123\"", trade.ID)
		}
		if want := decimal.NewFromInt(97500); !trade.ValueUSD.Equal(want) {
			t.Errorf("ValueUSD = %s, want %s", trade.ValueUSD, want)
		}
		if !trade.IsBuyerMaker {
			t.Error("sell side should mean buyer-maker")
		}
		if trade.TradeTime == 0 {
			t.Error("expected parsed RFC 3339 timestamp")
		}
	}
}

func TestCoinbaseFilterPairs(t *testing.T) {
	products := json.RawMessage(`{"products":[
		{"product_id":"BTC-USD","status":"online","volume_24h":"5000000","price":"65000"},
		{"product_id":"ETH-USD","status":"online","trading_disabled":true,"volume_24h":"50000"},
		{"product_id":"USDT-USD","status":"online","volume_24h":"90000000"},
		{"product_id":"DUST-USD","status":"online","volume_24h":"10"}
	]}`)

	a := NewCoinbaseAnalyzer(decimal.NewFromInt(1_000_000), nil)
	pairs, err := a.FilterPairs(products, nil)
	if err != nil {
		t.Fatalf("FilterPairs: %v", err)
	}

	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %+v", pairs)
	}
	p := pairs[0]
	if p.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want normalized BTCUSDT", p.Symbol)
	}
	if p.QuoteAsset != "USD" {
		t.Errorf("QuoteAsset = %q, want USD", p.QuoteAsset)
	}
	if !p.Volume24hUSD.Equal(decimal.NewFromInt(5_000_000)) {
		t.Errorf("Volume24hUSD = %s", p.Volume24hUSD)
	}
}

func TestCoinbaseFilterPairsBareList(t *testing.T) {
	products := json.RawMessage(`[
		{"product_id":"BTC-USD","status":"","base_24h_volume":"100","price":"65000"}
	]`)

	a := NewCoinbaseAnalyzer(decimal.NewFromInt(1_000_000), nil)
	pairs, err := a.FilterPairs(products, nil)
	if err != nil {
		t.Fatalf("FilterPairs: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair from base-volume estimate, got %+v", pairs)
	}
	// 100 BTC * $65000 = $6.5M
	if want := decimal.NewFromInt(6_500_000); !pairs[0].Volume24hUSD.Equal(want) {
		t.Errorf("Volume24hUSD = %s, want %s", pairs[0].Volume24hUSD, want)
	}
}
