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

// binanceInvalidSymbol is the API error code for an unknown symbol.
const binanceInvalidSymbol = -1121

// BinanceClient talks to the Binance spot REST API (api/v3).
type BinanceClient struct {
	rest        *restClient
	tradesLimit int
	weights     config.WeightsConfig
}

// NewBinanceClient creates a Binance client over the shared REST plumbing.
func NewBinanceClient(cfg config.ExchangeConfig, limiter *ratelimit.Limiter, logger *slog.Logger, opts ...restOption) *BinanceClient {
	opts = append([]restOption{withLogger(logger)}, opts...)
	return &BinanceClient{
		rest:        newRESTClient(cfg.APIURL, limiter, opts...),
		tradesLimit: cfg.TradesLimit,
		weights:     cfg.Weights,
	}
}

func (c *BinanceClient) Name() string { return "binance" }

// TestConnectivity hits the unauthenticated ping endpoint.
func (c *BinanceClient) TestConnectivity(ctx context.Context) error {
	_, err := c.rest.doRequest(ctx, "/api/v3/ping", nil)
	return err
}

// ListInstruments fetches the exchangeInfo catalog.
func (c *BinanceClient) ListInstruments(ctx context.Context) (json.RawMessage, error) {
	return c.rest.get(ctx, "/api/v3/exchangeInfo", nil, c.weights.Instruments)
}

// GetTickers fetches the 24h statistics for all symbols.
func (c *BinanceClient) GetTickers(ctx context.Context) (json.RawMessage, error) {
	return c.rest.get(ctx, "/api/v3/ticker/24hr", nil, c.weights.Tickers)
}

// GetRecentTrades fetches the latest public trades for a symbol. An unknown
// symbol yields an empty list, not an error.
func (c *BinanceClient) GetRecentTrades(ctx context.Context, symbol string) ([]json.RawMessage, error) {
	query := url.Values{
		"symbol": {symbol},
		"limit":  {strconv.Itoa(c.tradesLimit)},
	}

	body, err := c.rest.get(ctx, "/api/v3/trades", query, c.weights.Trades)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			var payload struct {
				Code int `json:"code"`
			}
			if json.Unmarshal(apiErr.Body, &payload) == nil && payload.Code == binanceInvalidSymbol {
				return nil, nil
			}
		}
		return nil, err
	}

	var trades []json.RawMessage
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("unmarshal binance trades: %w", err)
	}
	return trades, nil
}

// binanceTrade is one element of the /api/v3/trades response.
type binanceTrade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

// ParseTrade decodes a raw Binance trade and computes its USD value.
func (c *BinanceClient) ParseTrade(raw json.RawMessage, pair model.TradingPairInfo) (model.Trade, error) {
	var t binanceTrade
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Trade{}, fmt.Errorf("unmarshal binance trade: %w", err)
	}

	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return model.Trade{}, fmt.Errorf("binance trade price %q: %w", t.Price, err)
	}
	qty, err := decimal.NewFromString(t.Qty)
	if err != nil {
		return model.Trade{}, fmt.Errorf("binance trade qty %q: %w", t.Qty, err)
	}

	return model.Trade{
		Exchange:     "binance",
		ID:           strconv.FormatInt(t.ID, 10),
		Symbol:       pair.Symbol,
		BaseAsset:    pair.BaseAsset,
		QuoteAsset:   pair.QuoteAsset,
		Price:        price,
		Quantity:     qty,
		ValueUSD:     price.Mul(qty).Mul(pair.QuotePriceUSD),
		IsBuyerMaker: t.IsBuyerMaker,
		TradeTime:    t.Time,
	}, nil
}

// BinanceAnalyzer filters the Binance instrument catalog down to the pairs
// worth polling.
type BinanceAnalyzer struct {
	minVolume decimal.Decimal
	quotes    *quoteBook
	logger    *slog.Logger
}

// NewBinanceAnalyzer creates an analyzer with the given 24h USD volume floor.
func NewBinanceAnalyzer(minVolumeUSD decimal.Decimal, logger *slog.Logger) *BinanceAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BinanceAnalyzer{
		minVolume: minVolumeUSD,
		quotes:    newQuoteBook(),
		logger:    logger,
	}
}

type binanceSymbol struct {
	Symbol             string `json:"symbol"`
	Status             string `json:"status"`
	BaseAsset          string `json:"baseAsset"`
	QuoteAsset         string `json:"quoteAsset"`
	IsSpotTradingAllow bool   `json:"isSpotTradingAllowed"`
}

type binanceTicker struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	QuoteVolume string `json:"quoteVolume"`
}

// FilterPairs keeps active spot pairs above the volume floor, dropping
// stablecoin/stablecoin pairs and wrapped bases. Quote prices are refreshed
// from the same ticker snapshot before volumes are converted.
func (a *BinanceAnalyzer) FilterPairs(instruments, tickers json.RawMessage) ([]model.TradingPairInfo, error) {
	var info struct {
		Symbols []binanceSymbol `json:"symbols"`
	}
	if err := json.Unmarshal(instruments, &info); err != nil {
		return nil, fmt.Errorf("unmarshal binance exchangeInfo: %w", err)
	}

	var ticks []binanceTicker
	if err := json.Unmarshal(tickers, &ticks); err != nil {
		return nil, fmt.Errorf("unmarshal binance tickers: %w", err)
	}

	tickerMap := make(map[string]binanceTicker, len(ticks))
	for _, t := range ticks {
		tickerMap[t.Symbol] = t
	}

	// Majors that act as quote currencies on Binance.
	for asset, symbol := range map[string]string{"BTC": "BTCUSDT", "ETH": "ETHUSDT", "BNB": "BNBUSDT"} {
		if t, ok := tickerMap[symbol]; ok {
			a.quotes.set(asset, t.LastPrice)
		}
	}

	var pairs []model.TradingPairInfo
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || !s.IsSpotTradingAllow {
			continue
		}
		if excludePair(s.BaseAsset, s.QuoteAsset) {
			continue
		}

		ticker, ok := tickerMap[s.Symbol]
		if !ok {
			continue
		}

		volumeUSD := a.quotes.volumeUSD(ticker.QuoteVolume, s.QuoteAsset)
		if volumeUSD.LessThan(a.minVolume) {
			continue
		}

		pairs = append(pairs, model.TradingPairInfo{
			Exchange:      "binance",
			Symbol:        s.Symbol,
			BaseAsset:     s.BaseAsset,
			QuoteAsset:    s.QuoteAsset,
			Volume24hUSD:  volumeUSD,
			QuotePriceUSD: a.quotes.usd(s.QuoteAsset),
		})
	}

	a.logger.Info("filtered trading pairs",
		"exchange", "binance",
		"pairs", len(pairs),
		"min_volume_usd", a.minVolume.String(),
	)
	return pairs, nil
}
