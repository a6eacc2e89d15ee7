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

// okxTradesMax is the per-request cap on the market trades endpoint.
const okxTradesMax = 100

// okxEnvelope is the v5 API response wrapper. Codes are strings.
type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// okxInvalidInstrument reports whether a v5 error code means the
// instrument does not exist.
func okxInvalidInstrument(code string) bool {
	return code == "51001" || code == "51002"
}

// OKXClient talks to the OKX v5 REST API. Symbols are native instrument
// ids (BTC-USDT) end to end.
type OKXClient struct {
	rest        *restClient
	tradesLimit int
	weights     config.WeightsConfig
}

// NewOKXClient creates an OKX client.
func NewOKXClient(cfg config.ExchangeConfig, limiter *ratelimit.Limiter, logger *slog.Logger, opts ...restOption) *OKXClient {
	opts = append([]restOption{withLogger(logger)}, opts...)
	limit := cfg.TradesLimit
	if limit > okxTradesMax {
		limit = okxTradesMax
	}
	return &OKXClient{
		rest:        newRESTClient(cfg.APIURL, limiter, opts...),
		tradesLimit: limit,
		weights:     cfg.Weights,
	}
}

func (c *OKXClient) Name() string { return "okx" }

// TestConnectivity checks the public time endpoint answers with code "0".
func (c *OKXClient) TestConnectivity(ctx context.Context) error {
	body, err := c.rest.doRequest(ctx, "/api/v5/public/time", nil)
	if err != nil {
		return err
	}
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("unmarshal okx time: %w", err)
	}
	if env.Code != "0" {
		return fmt.Errorf("okx api error: %s", env.Msg)
	}
	return nil
}

// data performs a GET and unwraps the v5 envelope, returning the data
// payload.
func (c *OKXClient) data(ctx context.Context, path string, query url.Values, weight int) (json.RawMessage, error) {
	body, err := c.rest.get(ctx, path, query, weight)
	if err != nil {
		return nil, err
	}
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal okx response from %s: %w", path, err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("okx api error from %s: %s (code %s)", path, env.Msg, env.Code)
	}
	return env.Data, nil
}

// ListInstruments fetches the spot instrument catalog.
func (c *OKXClient) ListInstruments(ctx context.Context) (json.RawMessage, error) {
	return c.data(ctx, "/api/v5/public/instruments", url.Values{"instType": {"SPOT"}}, c.weights.Instruments)
}

// GetTickers fetches 24h statistics for all spot instruments.
func (c *OKXClient) GetTickers(ctx context.Context) (json.RawMessage, error) {
	return c.data(ctx, "/api/v5/market/tickers", url.Values{"instType": {"SPOT"}}, c.weights.Tickers)
}

// GetRecentTrades fetches recent public trades for an instrument id.
// Unknown instruments and non-zero codes degrade to an empty list.
func (c *OKXClient) GetRecentTrades(ctx context.Context, symbol string) ([]json.RawMessage, error) {
	query := url.Values{
		"instId": {symbol},
		"limit":  {strconv.Itoa(c.tradesLimit)},
	}

	body, err := c.rest.get(ctx, "/api/v5/market/trades", query, c.weights.Trades)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			var env okxEnvelope
			if json.Unmarshal(apiErr.Body, &env) == nil && okxInvalidInstrument(env.Code) {
				return nil, nil
			}
		}
		return nil, err
	}

	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal okx trades: %w", err)
	}
	if env.Code != "0" {
		c.rest.logger.Warn("okx trades error", "symbol", symbol, "msg", env.Msg)
		return nil, nil
	}

	var trades []json.RawMessage
	if err := json.Unmarshal(env.Data, &trades); err != nil {
		return nil, fmt.Errorf("unmarshal okx trade list: %w", err)
	}
	return trades, nil
}

// okxTrade is one element of the market trades data array.
type okxTrade struct {
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

// ParseTrade decodes a raw OKX trade. A "sell" taker side means the buyer
// was the maker.
func (c *OKXClient) ParseTrade(raw json.RawMessage, pair model.TradingPairInfo) (model.Trade, error) {
	var t okxTrade
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Trade{}, fmt.Errorf("unmarshal okx trade: %w", err)
	}

	price, err := decimal.NewFromString(t.Px)
	if err != nil {
		return model.Trade{}, fmt.Errorf("okx trade price %q: %w", t.Px, err)
	}
	size, err := decimal.NewFromString(t.Sz)
	if err != nil {
		return model.Trade{}, fmt.Errorf("okx trade size %q: %w", t.Sz, err)
	}
	tradeTime, err := strconv.ParseInt(t.Ts, 10, 64)
	if err != nil {
		return model.Trade{}, fmt.Errorf("okx trade ts %q: %w", t.Ts, err)
	}

	return model.Trade{
		Exchange:     "okx",
		ID:           t.TradeID,
		Symbol:       pair.Symbol,
		BaseAsset:    pair.BaseAsset,
		QuoteAsset:   pair.QuoteAsset,
		Price:        price,
		Quantity:     size,
		ValueUSD:     price.Mul(size).Mul(pair.QuotePriceUSD),
		IsBuyerMaker: t.Side == "sell",
		TradeTime:    tradeTime,
	}, nil
}

// OKXAnalyzer filters the OKX spot catalog down to pollable pairs.
type OKXAnalyzer struct {
	minVolume decimal.Decimal
	quotes    *quoteBook
	logger    *slog.Logger
}

// NewOKXAnalyzer creates an analyzer with the given 24h USD volume floor.
func NewOKXAnalyzer(minVolumeUSD decimal.Decimal, logger *slog.Logger) *OKXAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OKXAnalyzer{
		minVolume: minVolumeUSD,
		quotes:    newQuoteBook(),
		logger:    logger,
	}
}

type okxInstrument struct {
	InstID   string `json:"instId"`
	State    string `json:"state"`
	BaseCcy  string `json:"baseCcy"`
	QuoteCcy string `json:"quoteCcy"`
}

type okxTicker struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	VolCcy24h string `json:"volCcy24h"`
}

// FilterPairs keeps live instruments above the volume floor. Both payloads
// are the data arrays of the instruments and tickers endpoints.
func (a *OKXAnalyzer) FilterPairs(instruments, tickers json.RawMessage) ([]model.TradingPairInfo, error) {
	var insts []okxInstrument
	if err := json.Unmarshal(instruments, &insts); err != nil {
		return nil, fmt.Errorf("unmarshal okx instruments: %w", err)
	}

	var ticks []okxTicker
	if err := json.Unmarshal(tickers, &ticks); err != nil {
		return nil, fmt.Errorf("unmarshal okx tickers: %w", err)
	}

	tickerMap := make(map[string]okxTicker, len(ticks))
	for _, t := range ticks {
		tickerMap[t.InstID] = t
	}

	for asset, instID := range map[string]string{"BTC": "BTC-USDT", "ETH": "ETH-USDT", "USDC": "USDC-USDT", "OKB": "OKB-USDT"} {
		if t, ok := tickerMap[instID]; ok {
			a.quotes.set(asset, t.Last)
		}
	}

	var pairs []model.TradingPairInfo
	for _, inst := range insts {
		if inst.State != "live" || inst.InstID == "" || inst.BaseCcy == "" || inst.QuoteCcy == "" {
			continue
		}
		if excludePair(inst.BaseCcy, inst.QuoteCcy) {
			continue
		}

		ticker, ok := tickerMap[inst.InstID]
		if !ok {
			continue
		}

		// volCcy24h is denominated in the quote currency.
		volumeUSD := a.quotes.volumeUSD(ticker.VolCcy24h, inst.QuoteCcy)
		if volumeUSD.LessThan(a.minVolume) {
			continue
		}

		quotePrice := a.quotes.usd(inst.QuoteCcy)
		if !quotePrice.IsPositive() {
			continue
		}

		pairs = append(pairs, model.TradingPairInfo{
			Exchange:      "okx",
			Symbol:        inst.InstID,
			BaseAsset:     inst.BaseCcy,
			QuoteAsset:    inst.QuoteCcy,
			Volume24hUSD:  volumeUSD,
			QuotePriceUSD: quotePrice,
		})
	}

	a.logger.Info("filtered trading pairs",
		"exchange", "okx",
		"pairs", len(pairs),
		"min_volume_usd", a.minVolume.String(),
	)
	return pairs, nil
}
