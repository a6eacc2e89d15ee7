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

func newTestBinanceClient(t *testing.T, srv *httptest.Server) *BinanceClient {
	t.Helper()
	cfg := config.ExchangeConfig{
		APIURL:      srv.URL,
		TradesLimit: 100,
		Weights:     config.WeightsConfig{Trades: 10, Instruments: 20, Tickers: 40},
	}
	return NewBinanceClient(cfg, ratelimit.New(10_000), nil, fastOptions()...)
}

func TestBinanceGetRecentTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/trades" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("unexpected symbol %q", got)
		}
		w.Write([]byte(`[
			{"id":1001,"price":"65000.00","qty":"2.0","time":1700000000000,"isBuyerMaker":true},
			{"id":1002,"price":"65001.00","qty":"0.1","time":1700000001000,"isBuyerMaker":false}
		]`))
	}))
	defer srv.Close()

	c := newTestBinanceClient(t, srv)

	trades, err := c.GetRecentTrades(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 raw trades, got %d", len(trades))
	}
}

func TestBinanceInvalidSymbolIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	c := newTestBinanceClient(t, srv)

	trades, err := c.GetRecentTrades(context.Background(), "NOSUCHPAIR")
	if err != nil {
		t.Fatalf("expected nil error for invalid symbol, got %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected empty trade list, got %d", len(trades))
	}
}

func TestBinanceParseTrade(t *testing.T) {
	c := &BinanceClient{}
	pair := model.TradingPairInfo{
		Exchange:      "binance",
		Symbol:        "ETHBTC",
		BaseAsset:     "ETH",
		QuoteAsset:    "BTC",
		QuotePriceUSD: decimal.NewFromInt(65000),
	}

	raw := json.RawMessage(`{"id":42,"price":"0.05","qty":"10","time":1700000000000,"isBuyerMaker":true}`)
	trade, err := c.ParseTrade(raw, pair)
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}

	if trade.ID != "42" {
		t.Errorf("ID = %q, want \"42\"", trade.ID)
	}
	// 0.05 BTC * 10 * $65000 = $32500
	if want := decimal.NewFromInt(32500); !trade.ValueUSD.Equal(want) {
		t.Errorf("ValueUSD = %s, want %s", trade.ValueUSD, want)
	}
	if !trade.IsBuyerMaker {
		t.Error("expected IsBuyerMaker")
	}
	if trade.TradeTime != 1700000000000 {
		t.Errorf("TradeTime = %d", trade.TradeTime)
	}
}

func TestBinanceParseTradeBadPrice(t *testing.T) {
	c := &BinanceClient{}
	raw := json.RawMessage(`{"id":1,"price":"not-a-number","qty":"1","time":0,"isBuyerMaker":false}`)
	if _, err := c.ParseTrade(raw, model.TradingPairInfo{}); err == nil {
		t.Fatal("expected error for unparsable price")
	}
}

func TestBinanceFilterPairs(t *testing.T) {
	instruments := json.RawMessage(`{"symbols":[
		{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","isSpotTradingAllowed":true},
		{"symbol":"ETHBTC","status":"TRADING","baseAsset":"ETH","quoteAsset":"BTC","isSpotTradingAllowed":true},
		{"symbol":"USDCUSDT","status":"TRADING","baseAsset":"USDC","quoteAsset":"USDT","isSpotTradingAllowed":true},
		{"symbol":"WBTCUSDT","status":"TRADING","baseAsset":"WBTC","quoteAsset":"USDT","isSpotTradingAllowed":true},
		{"symbol":"HALTUSDT","status":"BREAK","baseAsset":"HALT","quoteAsset":"USDT","isSpotTradingAllowed":true},
		{"symbol":"TINYUSDT","status":"TRADING","baseAsset":"TINY","quoteAsset":"USDT","isSpotTradingAllowed":true}
	]}`)
	tickers := json.RawMessage(`[
		{"symbol":"BTCUSDT","lastPrice":"65000","quoteVolume":"900000000"},
		{"symbol":"ETHBTC","lastPrice":"0.05","quoteVolume":"40000"},
		{"symbol":"USDCUSDT","lastPrice":"1.0","quoteVolume":"500000000"},
		{"symbol":"WBTCUSDT","lastPrice":"65000","quoteVolume":"20000000"},
		{"symbol":"TINYUSDT","lastPrice":"0.001","quoteVolume":"5000"}
	]`)

	a := NewBinanceAnalyzer(decimal.NewFromInt(1_000_000), nil)
	pairs, err := a.FilterPairs(instruments, tickers)
	if err != nil {
		t.Fatalf("FilterPairs: %v", err)
	}

	got := make(map[string]model.TradingPairInfo, len(pairs))
	for _, p := range pairs {
		got[p.Symbol] = p
	}

	if _, ok := got["BTCUSDT"]; !ok {
		t.Error("expected BTCUSDT to survive filtering")
	}
	// 40000 BTC-quote volume * $65000 = $2.6B, above the floor.
	if p, ok := got["ETHBTC"]; !ok {
		t.Error("expected ETHBTC to survive via BTC quote price")
	} else if !p.QuotePriceUSD.Equal(decimal.NewFromInt(65000)) {
		t.Errorf("ETHBTC quote price = %s, want 65000", p.QuotePriceUSD)
	}
	if _, ok := got["USDCUSDT"]; ok {
		t.Error("stablecoin/stablecoin pair should be excluded")
	}
	if _, ok := got["WBTCUSDT"]; ok {
		t.Error("wrapped base should be excluded")
	}
	if _, ok := got["HALTUSDT"]; ok {
		t.Error("non-trading pair should be excluded")
	}
	if _, ok := got["TINYUSDT"]; ok {
		t.Error("pair under the volume floor should be excluded")
	}
}
