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

	"github.com/shopspring/decimal"

	"github.com/vkuzmin/whalewatch/internal/config"
	"github.com/vkuzmin/whalewatch/internal/model"
	"github.com/vkuzmin/whalewatch/internal/ratelimit"
)

const (
	// bybitInvalidSymbol is the v5 retCode for an unknown symbol.
	bybitInvalidSymbol = 10001
	// bybitSpotTradesMax is the per-request cap on the spot recent-trade
	// endpoint.
	bybitSpotTradesMax = 60
)

// bybitEnvelope is the v5 API response wrapper.
type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// BybitClient talks to the Bybit v5 spot REST API.
type BybitClient struct {
	rest        *restClient
	tradesLimit int
	weights     config.WeightsConfig
}

// NewBybitClient creates a Bybit client. Bybit signals throttling with 403,
// so that status joins the retryable set.
func NewBybitClient(cfg config.ExchangeConfig, limiter *ratelimit.Limiter, logger *slog.Logger, opts ...restOption) *BybitClient {
	opts = append([]restOption{withLogger(logger), withRetryStatus(http.StatusForbidden)}, opts...)
	limit := cfg.TradesLimit
	if limit > bybitSpotTradesMax {
		limit = bybitSpotTradesMax
	}
	return &BybitClient{
		rest:        newRESTClient(cfg.APIURL, limiter, opts...),
		tradesLimit: limit,
		weights:     cfg.Weights,
	}
}

func (c *BybitClient) Name() string { return "bybit" }

// TestConnectivity checks the server time endpoint answers with retCode 0.
func (c *BybitClient) TestConnectivity(ctx context.Context) error {
	body, err := c.rest.doRequest(ctx, "/v5/market/time", nil)
	if err != nil {
		return err
	}
	var env bybitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("unmarshal bybit time: %w", err)
	}
	if env.RetCode != 0 {
		return fmt.Errorf("bybit api error: %s", env.RetMsg)
	}
	return nil
}

// envelope performs a GET and unwraps the v5 response envelope, returning
// the result payload.
func (c *BybitClient) envelope(ctx context.Context, path string, query url.Values, weight int) (json.RawMessage, error) {
	body, err := c.rest.get(ctx, path, query, weight)
	if err != nil {
		return nil, err
	}
	var env bybitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal bybit response from %s: %w", path, err)
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit api error from %s: %s (retCode %d)", path, env.RetMsg, env.RetCode)
	}
	return env.Result, nil
}

// ListInstruments fetches the spot instrument catalog.
func (c *BybitClient) ListInstruments(ctx context.Context) (json.RawMessage, error) {
	return c.envelope(ctx, "/v5/market/instruments-info", url.Values{"category": {"spot"}}, c.weights.Instruments)
}

// GetTickers fetches 24h statistics for all spot symbols.
func (c *BybitClient) GetTickers(ctx context.Context) (json.RawMessage, error) {
	return c.envelope(ctx, "/v5/market/tickers", url.Values{"category": {"spot"}}, c.weights.Tickers)
}

// GetRecentTrades fetches recent public spot trades. Unknown symbols and
// non-zero retCodes degrade to an empty list.
func (c *BybitClient) GetRecentTrades(ctx context.Context, symbol string) ([]json.RawMessage, error) {
	query := url.Values{
		"category": {"spot"},
		"symbol":   {symbol},
		"limit":    {strconv.Itoa(c.tradesLimit)},
	}

	body, err := c.rest.get(ctx, "/v5/market/recent-trade", query, c.weights.Trades)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			var env bybitEnvelope
			if json.Unmarshal(apiErr.Body, &env) == nil && env.RetCode == bybitInvalidSymbol {
				return nil, nil
			}
		}
		return nil, err
	}

	var env bybitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal bybit trades: %w", err)
	}
	if env.RetCode != 0 {
		c.rest.logger.Warn("bybit trades error", "symbol", symbol, "ret_msg", env.RetMsg)
		return nil, nil
	}

	var result struct {
		List []json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal bybit trade list: %w", err)
	}
	return result.List, nil
}

// bybitTrade is one element of the recent-trade result list.
type bybitTrade struct {
	ExecID string `json:"execId"`
	Price  string `json:"price"`
	Size   string `json:"size"`
	Side   string `json:"side"`
	Time   string `json:"time"`
}

// ParseTrade decodes a raw Bybit trade. A "Sell" taker side means the buyer
// was the maker.
func (c *BybitClient) ParseTrade(raw json.RawMessage, pair model.TradingPairInfo) (model.Trade, error) {
	var t bybitTrade
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Trade{}, fmt.Errorf("unmarshal bybit trade: %w", err)
	}

	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return model.Trade{}, fmt.Errorf("bybit trade price %q: %w", t.Price, err)
	}
	size, err := decimal.NewFromString(t.Size)
	if err != nil {
		return model.Trade{}, fmt.Errorf("bybit trade size %q: %w", t.Size, err)
	}
	tradeTime, err := strconv.ParseInt(t.Time, 10, 64)
	if err != nil {
		return model.Trade{}, fmt.Errorf("bybit trade time %q: %w", t.Time, err)
	}

	return model.Trade{
		Exchange:     "bybit",
		ID:           t.ExecID,
		Symbol:       pair.Symbol,
		BaseAsset:    pair.BaseAsset,
		QuoteAsset:   pair.QuoteAsset,
		Price:        price,
		Quantity:     size,
		ValueUSD:     price.Mul(size).Mul(pair.QuotePriceUSD),
		IsBuyerMaker: t.Side == "Sell",
		TradeTime:    tradeTime,
	}, nil
}

// BybitAnalyzer filters the Bybit spot catalog down to pollable pairs.
type BybitAnalyzer struct {
	minVolume decimal.Decimal
	quotes    *quoteBook
	logger    *slog.Logger
}

// NewBybitAnalyzer creates an analyzer with the given 24h USD volume floor.
func NewBybitAnalyzer(minVolumeUSD decimal.Decimal, logger *slog.Logger) *BybitAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BybitAnalyzer{
		minVolume: minVolumeUSD,
		quotes:    newQuoteBook(),
		logger:    logger,
	}
}

type bybitInstrument struct {
	Symbol    string `json:"symbol"`
	Status    string `json:"status"`
	BaseCoin  string `json:"baseCoin"`
	QuoteCoin string `json:"quoteCoin"`
}

type bybitTicker struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	Turnover24h string `json:"turnover24h"`
}

// FilterPairs keeps trading pairs above the volume floor. Both payloads are
// the result objects of instruments-info and tickers (each holding a list).
func (a *BybitAnalyzer) FilterPairs(instruments, tickers json.RawMessage) ([]model.TradingPairInfo, error) {
	var instResult struct {
		List []bybitInstrument `json:"list"`
	}
	if err := json.Unmarshal(instruments, &instResult); err != nil {
		return nil, fmt.Errorf("unmarshal bybit instruments: %w", err)
	}

	var tickResult struct {
		List []bybitTicker `json:"list"`
	}
	if err := json.Unmarshal(tickers, &tickResult); err != nil {
		return nil, fmt.Errorf("unmarshal bybit tickers: %w", err)
	}

	tickerMap := make(map[string]bybitTicker, len(tickResult.List))
	for _, t := range tickResult.List {
		tickerMap[t.Symbol] = t
	}

	for asset, symbol := range map[string]string{"BTC": "BTCUSDT", "ETH": "ETHUSDT", "BNB": "BNBUSDT", "USDC": "USDCUSDT"} {
		if t, ok := tickerMap[symbol]; ok {
			a.quotes.set(asset, t.LastPrice)
		}
	}

	var pairs []model.TradingPairInfo
	for _, inst := range instResult.List {
		if inst.Status != "Trading" {
			continue
		}
		if excludePair(inst.BaseCoin, inst.QuoteCoin) {
			continue
		}

		ticker, ok := tickerMap[inst.Symbol]
		if !ok {
			continue
		}

		// turnover24h is already denominated in the quote currency.
		volumeUSD := a.quotes.volumeUSD(ticker.Turnover24h, inst.QuoteCoin)
		if volumeUSD.LessThan(a.minVolume) {
			continue
		}

		quotePrice := a.quotes.usd(inst.QuoteCoin)
		if !quotePrice.IsPositive() {
			continue
		}

		pairs = append(pairs, model.TradingPairInfo{
			Exchange:      "bybit",
			Symbol:        inst.Symbol,
			BaseAsset:     inst.BaseCoin,
			QuoteAsset:    inst.QuoteCoin,
			Volume24hUSD:  volumeUSD,
			QuotePriceUSD: quotePrice,
		})
	}

	a.logger.Info("filtered trading pairs",
		"exchange", "bybit",
		"pairs", len(pairs),
		"min_volume_usd", a.minVolume.String(),
	)
	return pairs, nil
}
