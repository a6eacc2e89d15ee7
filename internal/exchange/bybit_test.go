package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vkuzmin/whalewatch/internal/config"
	"github.com/vkuzmin/whalewatch/internal/model"
	"github.com/vkuzmin/whalewatch/internal/ratelimit"
)

func newTestBybitClient(t *testing.T, srv *httptest.Server) *BybitClient {
	t.Helper()
	cfg := config.ExchangeConfig{
		APIURL:      srv.URL,
		TradesLimit: 60,
		Weights:     config.WeightsConfig{Trades: 1, Instruments: 1, Tickers: 1},
	}
	return NewBybitClient(cfg, ratelimit.New(10_000), nil, fastOptions()...)
}

func TestBybitGetRecentTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("category"); got != "spot" {
			t.Errorf("category = %q, want spot", got)
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"execId":"2280000000-1","price":"65000","size":"1.5","side":"Sell","time":"1700000000000"}
		]}}`))
	}))
	defer srv.Close()

	c := newTestBybitClient(t, srv)

	trades, err := c.GetRecentTrades(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 raw trade, got %d", len(trades))
	}
}

func TestBybitRetriesOn403(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[]}}`))
	}))
	defer srv.Close()

	c := newTestBybitClient(t, srv)

	if _, err := c.GetRecentTrades(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("expected retry to recover from 403, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestBybitInvalidSymbolIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"retCode":10001,"retMsg":"params error"}`))
	}))
	defer srv.Close()

	c := newTestBybitClient(t, srv)

	trades, err := c.GetRecentTrades(context.Background(), "NOSUCHPAIR")
	if err != nil {
		t.Fatalf("expected nil error for invalid symbol, got %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected empty trade list, got %d", len(trades))
	}
}

func TestBybitParseTrade(t *testing.T) {
	c := &BybitClient{}
	pair := model.TradingPairInfo{
		Symbol:        "BTCUSDT",
		BaseAsset:     "BTC",
		QuoteAsset:    "USDT",
		QuotePriceUSD: decimal.NewFromInt(1),
	}

	raw := json.RawMessage(`{"execId":"2280000000-1755-5-1","price":"65000","size":"2","side":"Sell","time":"1700000000000"}`)
	trade, err := c.ParseTrade(raw, pair)
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}

	if trade.ID != "2280000000-1755-5-1" {
		t.Errorf("ID = %q", trade.ID)
	}
	if want := decimal.NewFromInt(130000); !trade.ValueUSD.Equal(want) {
		t.Errorf("ValueUSD = %s, want %s", trade.ValueUSD, want)
	}
	if !trade.IsBuyerMaker {
		t.Error("Sell side should mean buyer-maker")
	}
	if trade.TradeTime != 1700000000000 {
		t.Errorf("TradeTime = %d", trade.TradeTime)
	}
}

func TestBybitFilterPairs(t *testing.T) {
	instruments := json.RawMessage(`{"list":[
		{"symbol":"BTCUSDT","status":"Trading","baseCoin":"BTC","quoteCoin":"USDT"},
		{"symbol":"SOLEUR","status":"Trading","baseCoin":"SOL","quoteCoin":"EUR"},
		{"symbol":"DELISTED","status":"Closed","baseCoin":"OLD","quoteCoin":"USDT"}
	]}`)
	tickers := json.RawMessage(`{"list":[
		{"symbol":"BTCUSDT","lastPrice":"65000","turnover24h":"900000000"},
		{"symbol":"SOLEUR","lastPrice":"150","turnover24h":"90000000"}
	]}`)

	a := NewBybitAnalyzer(decimal.NewFromInt(1_000_000), nil)
	pairs, err := a.FilterPairs(instruments, tickers)
	if err != nil {
		t.Fatalf("FilterPairs: %v", err)
	}

	if len(pairs) != 1 || pairs[0].Symbol != "BTCUSDT" {
		t.Fatalf("expected only BTCUSDT (EUR quote has no USD price, Closed is inactive), got %+v", pairs)
	}
}

func TestBybitTradesLimitCap(t *testing.T) {
	cfg := config.ExchangeConfig{APIURL: "http://localhost", TradesLimit: 500}
	c := NewBybitClient(cfg, ratelimit.New(100), nil)
	if c.tradesLimit != bybitSpotTradesMax {
		t.Errorf("tradesLimit = %d, want cap %d", c.tradesLimit, bybitSpotTradesMax)
	}
}
