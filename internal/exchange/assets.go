package exchange

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Stablecoins lists assets pegged to a fiat unit. Pairs where both sides
// are stablecoins carry no price information worth monitoring.
var Stablecoins = map[string]struct{}{
	"USDT": {}, "USDC": {}, "BUSD": {}, "TUSD": {}, "USDP": {}, "USDD": {}, "GUSD": {},
	"FRAX": {}, "LUSD": {}, "USTC": {}, "ALUSD": {}, "CUSD": {}, "CEUR": {}, "EUROC": {},
	"AGEUR": {}, "AEUR": {}, "STEUR": {}, "EURS": {}, "EURT": {}, "EURC": {}, "PAX": {},
	"FDUSD": {}, "PYUSD": {}, "USDB": {}, "USDJ": {}, "USDX": {}, "USDQ": {}, "TRIBE": {},
	"XUSD": {}, "DAI": {}, "USDN": {}, "USDZ": {}, "HUSD": {}, "UST": {}, "MUSD": {},
	"SUSD": {}, "USDK": {}, "USDH": {}, "USDS": {}, "USDEX": {}, "FLEXUSD": {}, "USDE": {},
}

// WrappedTokens lists bridge/wrapper assets whose trades mirror the
// underlying asset's market.
var WrappedTokens = map[string]struct{}{
	"WBTC": {}, "WETH": {}, "WBNB": {}, "WBETH": {}, "WBCH": {}, "WLTC": {}, "WZEC": {},
	"WMATIC": {}, "WAVAX": {}, "WFTM": {}, "WONE": {}, "WCRO": {}, "WNEAR": {}, "WKAVA": {},
	"WXRP": {}, "WADA": {}, "WDOT": {}, "WSOL": {}, "WTRX": {}, "WEOS": {}, "WXLM": {},
	"WALGO": {}, "WICP": {}, "WEGLD": {}, "WXTZ": {}, "WFIL": {}, "WAXL": {}, "WFLOW": {},
	"WMINA": {}, "WGLMR": {}, "WKLAY": {}, "WRUNE": {}, "WZIL": {}, "WAR": {}, "WROSE": {},
	"WVET": {}, "WQTUM": {}, "WNEO": {}, "WHBAR": {}, "WZRX": {}, "WBAT": {}, "WENJ": {},
	"WCHZ": {}, "WMANA": {}, "WGRT": {}, "W1INCH": {}, "WCOMP": {}, "WSNX": {}, "WCRV": {},
	"WTON": {}, "WDOGE": {}, "WSHIB": {}, "WLINK": {}, "WUNI": {}, "WAAVE": {}, "WMAKER": {},
}

// IsStablecoinPair reports whether both sides of a pair are stablecoins.
func IsStablecoinPair(base, quote string) bool {
	_, b := Stablecoins[base]
	_, q := Stablecoins[quote]
	return b && q
}

// IsWrappedAsset reports whether an asset is a wrapped token. Besides the
// known list, a leading W on a 3+ character symbol is treated as wrapped;
// the false positives this catches are not assets worth polling anyway.
func IsWrappedAsset(asset string) bool {
	if _, ok := WrappedTokens[asset]; ok {
		return true
	}
	return strings.HasPrefix(asset, "W") && len(asset) > 2
}

// excludePair is the shared pair filter: stablecoin/stablecoin pairs and
// wrapped bases never make it into the polling set.
func excludePair(base, quote string) bool {
	return IsStablecoinPair(base, quote) || IsWrappedAsset(base)
}

// quoteBook tracks quote-asset prices in USD, seeded with the pegged
// stablecoins and refreshed from ticker snapshots. Not safe for concurrent
// use; each analyzer is owned by a single worker.
type quoteBook struct {
	prices map[string]decimal.Decimal
}

func newQuoteBook() *quoteBook {
	one := decimal.NewFromInt(1)
	return &quoteBook{prices: map[string]decimal.Decimal{
		"USDT":  one,
		"USDC":  one,
		"BUSD":  one,
		"FDUSD": one,
		"DAI":   one,
		"TUSD":  one,
	}}
}

// set records the USD price for a quote asset, ignoring unparsable input.
func (q *quoteBook) set(asset, price string) {
	d, err := decimal.NewFromString(price)
	if err != nil || !d.IsPositive() {
		return
	}
	q.prices[asset] = d
}

// usd returns the known USD price of an asset, or zero when unknown.
// Unknown quotes yield zero volume and fall out at the volume floor.
func (q *quoteBook) usd(asset string) decimal.Decimal {
	return q.prices[asset]
}

// volumeUSD converts a quote-denominated volume into USD.
func (q *quoteBook) volumeUSD(volume, quoteAsset string) decimal.Decimal {
	d, err := decimal.NewFromString(volume)
	if err != nil {
		return decimal.Zero
	}
	return d.Mul(q.usd(quoteAsset))
}
