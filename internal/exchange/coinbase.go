package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vkuzmin/whalewatch/internal/config"
	"github.com/vkuzmin/whalewatch/internal/model"
	"github.com/vkuzmin/whalewatch/internal/ratelimit"
)

// CoinbaseClient talks to the Coinbase Advanced Trade public REST API.
//
// Coinbase uses dash-separated product ids (BTC-USD) while the rest of the
// system works with normalized symbols (BTCUSDT); the client converts on
// the way out.
type CoinbaseClient struct {
	rest        *restClient
	tradesLimit int
	weights     config.WeightsConfig
}

// NewCoinbaseClient creates a Coinbase client.
func NewCoinbaseClient(cfg config.ExchangeConfig, limiter *ratelimit.Limiter, logger *slog.Logger, opts ...restOption) *CoinbaseClient {
	opts = append([]restOption{withLogger(logger)}, opts...)
	return &CoinbaseClient{
		rest:        newRESTClient(cfg.APIURL, limiter, opts...),
		tradesLimit: cfg.TradesLimit,
		weights:     cfg.Weights,
	}
}

func (c *CoinbaseClient) Name() string { return "coinbase" }

// TestConnectivity lists products as a reachability probe; Coinbase has no
// dedicated ping endpoint.
func (c *CoinbaseClient) TestConnectivity(ctx context.Context) error {
	_, err := c.rest.doRequest(ctx, "/products", nil)
	return err
}

// ListInstruments fetches the product catalog.
func (c *CoinbaseClient) ListInstruments(ctx context.Context) (json.RawMessage, error) {
	return c.rest.get(ctx, "/products", nil, c.weights.Instruments)
}

// GetTickers returns an empty payload: Coinbase has no bulk ticker
// endpoint, so 24h statistics come from the product catalog itself.
func (c *CoinbaseClient) GetTickers(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage("[]"), nil
}

// GetRecentTrades fetches recent public trades for a normalized symbol.
// Any 400 means the product id does not exist; that is an empty list.
func (c *CoinbaseClient) GetRecentTrades(ctx context.Context, symbol string) ([]json.RawMessage, error) {
	product := toCoinbaseProduct(symbol)
	query := url.Values{
		"limit": {strconv.Itoa(c.tradesLimit)},
	}

	body, err := c.rest.get(ctx, "/products/"+product+"/trades", query, c.weights.Trades)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return nil, nil
		}
		return nil, err
	}

	// Trades arrive either bare or wrapped in a "trades" object.
	var list []json.RawMessage
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var wrapper struct {
		Trades []json.RawMessage `json:"trades"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal coinbase trades: %w", err)
	}
	return wrapper.Trades, nil
}

// coinbaseTrade is one element of the product trades response.
type coinbaseTrade struct {
	TradeID json.Number `json:"trade_id"`
	Price   string      `json:"price"`
	Size    string      `json:"size"`
	Side    string      `json:"side"`
	Time    string      `json:"time"`
}

// ParseTrade decodes a raw Coinbase trade. Timestamps are RFC 3339; a
// "sell" taker side means the buyer was the maker.
func (c *CoinbaseClient) ParseTrade(raw json.RawMessage, pair model.TradingPairInfo) (model.Trade, error) {
	var t coinbaseTrade
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Trade{}, fmt.Errorf("unmarshal coinbase trade: %w", err)
	}

	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return model.Trade{}, fmt.Errorf("coinbase trade price %q: %w", t.Price, err)
	}
	size, err := decimal.NewFromString(t.Size)
	if err != nil {
		return model.Trade{}, fmt.Errorf("coinbase trade size %q: %w", t.Size, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, t.Time)
	if err != nil {
		return model.Trade{}, fmt.Errorf("coinbase trade time %q: %w", t.Time, err)
	}

	return model.Trade{
		Exchange:     "coinbase",
		ID:           t.TradeID.String(),
		Symbol:       pair.Symbol,
		BaseAsset:    pair.BaseAsset,
		QuoteAsset:   pair.QuoteAsset,
		Price:        price,
		Quantity:     size,
		ValueUSD:     price.Mul(size).Mul(pair.QuotePriceUSD),
		IsBuyerMaker: strings.EqualFold(t.Side, "sell"),
		TradeTime:    ts.UnixMilli(),
	}, nil
}

// coinbaseQuotes maps a normalized quote suffix to the native one.
var coinbaseQuotes = []struct{ internal, native string }{
	{"USDT", "USD"},
	{"USDC", "USD"},
	{"USD", "USD"},
	{"EUR", "EUR"},
	{"GBP", "GBP"},
	{"BTC", "BTC"},
	{"ETH", "ETH"},
	{"DAI", "DAI"},
}

// toCoinbaseProduct converts a normalized symbol into a Coinbase product id
// (BTCUSDT -> BTC-USD). Symbols already carrying a dash pass through.
func toCoinbaseProduct(symbol string) string {
	if strings.Contains(symbol, "-") {
		return symbol
	}
	for _, q := range coinbaseQuotes {
		if base, ok := strings.CutSuffix(symbol, q.internal); ok && base != "" {
			return base + "-" + q.native
		}
	}
	return symbol
}

// normalizeCoinbaseSymbol converts a product id into the internal symbol
// format (BTC-USD -> BTCUSDT).
func normalizeCoinbaseSymbol(productID string) string {
	base, quote, ok := strings.Cut(productID, "-")
	if !ok {
		return productID
	}
	if quote == "USD" {
		quote = "USDT"
	}
	return base + quote
}

// CoinbaseAnalyzer filters the product catalog down to pollable pairs.
// With no ticker feed, quote prices stay at their seeded values and 24h
// volume is estimated from the product statistics.
type CoinbaseAnalyzer struct {
	minVolume decimal.Decimal
	quotes    *quoteBook
	logger    *slog.Logger
}

// NewCoinbaseAnalyzer creates an analyzer with the given 24h USD volume
// floor.
func NewCoinbaseAnalyzer(minVolumeUSD decimal.Decimal, logger *slog.Logger) *CoinbaseAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	q := newQuoteBook()
	q.set("USD", "1")
	return &CoinbaseAnalyzer{
		minVolume: minVolumeUSD,
		quotes:    q,
		logger:    logger,
	}
}

type coinbaseProduct struct {
	ProductID       string `json:"product_id"`
	Status          string `json:"status"`
	TradingDisabled bool   `json:"trading_disabled"`
	ProductType     string `json:"product_type"`
	Price           string `json:"price"`
	Volume24h       string `json:"volume_24h"`
	BaseVolume24h   string `json:"base_24h_volume"`
}

// FilterPairs keeps active spot products above the volume floor. The
// tickers payload is ignored.
func (a *CoinbaseAnalyzer) FilterPairs(instruments, _ json.RawMessage) ([]model.TradingPairInfo, error) {
	products, err := decodeCoinbaseProducts(instruments)
	if err != nil {
		return nil, err
	}

	var pairs []model.TradingPairInfo
	for _, p := range products {
		if !productActive(p) {
			continue
		}

		base, quote, ok := strings.Cut(p.ProductID, "-")
		if !ok {
			continue
		}
		base = strings.ToUpper(base)
		quote = strings.ToUpper(quote)

		if _, stable := Stablecoins[base]; stable {
			continue
		}
		if IsWrappedAsset(base) {
			continue
		}

		quotePrice := a.quotes.usd(quote)
		if !quotePrice.IsPositive() {
			continue
		}

		volumeUSD := a.estimateVolume(p, quotePrice)
		if volumeUSD.LessThan(a.minVolume) {
			continue
		}

		pairs = append(pairs, model.TradingPairInfo{
			Exchange:      "coinbase",
			Symbol:        normalizeCoinbaseSymbol(p.ProductID),
			BaseAsset:     base,
			QuoteAsset:    quote,
			Volume24hUSD:  volumeUSD,
			QuotePriceUSD: quotePrice,
		})
	}

	a.logger.Info("filtered trading pairs",
		"exchange", "coinbase",
		"pairs", len(pairs),
		"min_volume_usd", a.minVolume.String(),
	)
	return pairs, nil
}

// decodeCoinbaseProducts accepts both response shapes: a bare list or an
// object with a "products" key.
func decodeCoinbaseProducts(raw json.RawMessage) ([]coinbaseProduct, error) {
	var wrapper struct {
		Products []coinbaseProduct `json:"products"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Products != nil {
		return wrapper.Products, nil
	}
	var list []coinbaseProduct
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("unmarshal coinbase products: %w", err)
	}
	return list, nil
}

func productActive(p coinbaseProduct) bool {
	status := strings.ToUpper(p.Status)
	if status != "" && status != "ONLINE" && status != "ACTIVE" {
		return false
	}
	if p.TradingDisabled {
		return false
	}
	productType := strings.ToUpper(p.ProductType)
	return productType == "" || productType == "SPOT"
}

// estimateVolume derives the 24h USD volume from whatever statistics the
// product carries: quote volume directly, or base volume times last price.
func (a *CoinbaseAnalyzer) estimateVolume(p coinbaseProduct, quotePrice decimal.Decimal) decimal.Decimal {
	if v, err := decimal.NewFromString(p.Volume24h); err == nil && v.IsPositive() {
		return v.Mul(quotePrice)
	}
	baseVolume, err := decimal.NewFromString(p.BaseVolume24h)
	if err != nil || !baseVolume.IsPositive() {
		return decimal.Zero
	}
	price, err := decimal.NewFromString(p.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero
	}
	return baseVolume.Mul(price).Mul(quotePrice)
}
