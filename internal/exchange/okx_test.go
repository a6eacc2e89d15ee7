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

func newTestOKXClient(t *testing.T, srv *httptest.Server) *OKXClient {
	t.Helper()
	cfg := config.ExchangeConfig{
		APIURL:      srv.URL,
		TradesLimit: 100,
		Weights:     config.WeightsConfig{Trades: 1, Instruments: 1, Tickers: 1},
	}
	return NewOKXClient(cfg, ratelimit.New(10_000), nil, fastOptions()...)
}

func TestOKXGetRecentTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("instId"); got != "BTC-USDT" {
			t.Errorf("instId = %q, want BTC-USDT", got)
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[
			{"tradeId":"555","px":"65000","sz":"1","side":"sell","ts":"1700000000000"}
		]}`))
	}))
	defer srv.Close()

	c := newTestOKXClient(t, srv)

	trades, err := c.GetRecentTrades(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 raw trade, got %d", len(trades))
	}
}

func TestOKXInvalidInstrumentIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist"}`))
	}))
	defer srv.Close()

	c := newTestOKXClient(t, srv)

	trades, err := c.GetRecentTrades(context.Background(), "NO-SUCH")
	if err != nil {
		t.Fatalf("expected nil error for unknown instrument, got %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected empty trade list, got %d", len(trades))
	}
}

func TestOKXParseTrade(t *testing.T) {
	c := &OKXClient{}
	pair := model.TradingPairInfo{
		Symbol:        "BTC-USDT",
		BaseAsset:     "BTC",
		QuoteAsset:    "USDT",
		QuotePriceUSD: decimal.NewFromInt(1),
	}

	raw := json.RawMessage(`{"tradeId":"987654","px":"65000","sz":"0.5","side":"sell","ts":"1700000000000"}`)
	trade, err := c.ParseTrade(raw, pair)
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}

	if trade.ID != "987654" {
		t.Errorf("ID = %q", trade.ID)
	}
	if want := decimal.NewFromInt(32500); !trade.ValueUSD.Equal(want) {
		t.Errorf("ValueUSD = %s, want %s", trade.ValueUSD, want)
	}
	if !trade.IsBuyerMaker {
		t.Error("sell side should mean buyer-maker")
	}
	if trade.TradeTime != 1700000000000 {
		t.Errorf("TradeTime = %d", trade.TradeTime)
	}
}

func TestOKXFilterPairs(t *testing.T) {
	instruments := json.RawMessage(`[
		{"instId":"BTC-USDT","state":"live","baseCcy":"BTC","quoteCcy":"USDT"},
		{"instId":"ETH-BTC","state":"live","baseCcy":"ETH","quoteCcy":"BTC"},
		{"instId":"OLD-USDT","state":"suspend","baseCcy":"OLD","quoteCcy":"USDT"}
	]`)
	tickers := json.RawMessage(`[
		{"instId":"BTC-USDT","last":"65000","volCcy24h":"900000000"},
		{"instId":"ETH-BTC","last":"0.05","volCcy24h":"40000"}
	]`)

	a := NewOKXAnalyzer(decimal.NewFromInt(1_000_000), nil)
	pairs, err := a.FilterPairs(instruments, tickers)
	if err != nil {
		t.Fatalf("FilterPairs: %v", err)
	}

	got := make(map[string]model.TradingPairInfo, len(pairs))
	for _, p := range pairs {
		got[p.Symbol] = p
	}

	if _, ok := got["BTC-USDT"]; !ok {
		t.Error("expected BTC-USDT to survive filtering")
	}
	// BTC quote price learned from the same snapshot: 40000 * 65000 >> floor.
	if _, ok := got["ETH-BTC"]; !ok {
		t.Error("expected ETH-BTC to survive via BTC quote price")
	}
	if _, ok := got["OLD-USDT"]; ok {
		t.Error("suspended instrument should be excluded")
	}
}

func TestOKXEnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"50011","msg":"rate limit reached","data":[]}`))
	}))
	defer srv.Close()

	c := newTestOKXClient(t, srv)

	if _, err := c.ListInstruments(context.Background()); err == nil {
		t.Fatal("expected error for non-zero envelope code")
	}
}
