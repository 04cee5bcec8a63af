package aggregator

import (
	"github.com/pulsefeed/marketfan/internal/sources"
)

// Snapshot is the flat dashboard record broadcast to every subscriber and
// appended to the snapshot stream. Every field is always present; failed
// fetches leave zero/default values and set PartialFailure.
type Snapshot struct {
	BTCPriceUSD   float64 `json:"btc_price_usd"`
	BTCChange24h  float64 `json:"btc_change_24h"`
	ETHPriceUSD   float64 `json:"eth_price_usd"`
	ETHChange24h  float64 `json:"eth_change_24h"`
	SOLPriceUSD   float64 `json:"sol_price_usd"`
	SOLChange24h  float64 `json:"sol_change_24h"`
	XRPPriceUSD   float64 `json:"xrp_price_usd"`
	XRPChange24h  float64 `json:"xrp_change_24h"`
	ADAPriceUSD   float64 `json:"ada_price_usd"`
	ADAChange24h  float64 `json:"ada_change_24h"`
	LINKPriceUSD  float64 `json:"link_price_usd"`
	LINKChange24h float64 `json:"link_change_24h"`
	BNBPriceUSD   float64 `json:"bnb_price_usd"`
	BNBChange24h  float64 `json:"bnb_change_24h"`

	MarketCapUSD       float64 `json:"market_cap_usd"`
	Volume24hUSD       float64 `json:"volume_24h_usd"`
	MarketCapChange24h float64 `json:"market_cap_change_percentage_24h_usd"`
	BTCDominance       float64 `json:"btc_market_cap_percentage"`
	ETHDominance       float64 `json:"eth_market_cap_percentage"`

	FNGValue int     `json:"fng_value"`
	BTCRSI14 float64 `json:"btc_rsi_14"`

	USStockIndices map[string]sources.IndexQuote `json:"us_stock_indices"`

	FetchDurationMS int64  `json:"fetch_duration_ms"`
	PartialFailure  bool   `json:"partial_failure"`
	LastUpdated     string `json:"last_updated"`
	Timestamp       string `json:"timestamp"`
}

func (s *Snapshot) setPrice(symbol string, p sources.CryptoPrice) {
	switch symbol {
	case "BTC":
		s.BTCPriceUSD, s.BTCChange24h = p.PriceUSD, p.Change24h
	case "ETH":
		s.ETHPriceUSD, s.ETHChange24h = p.PriceUSD, p.Change24h
	case "SOL":
		s.SOLPriceUSD, s.SOLChange24h = p.PriceUSD, p.Change24h
	case "XRP":
		s.XRPPriceUSD, s.XRPChange24h = p.PriceUSD, p.Change24h
	case "ADA":
		s.ADAPriceUSD, s.ADAChange24h = p.PriceUSD, p.Change24h
	case "LINK":
		s.LINKPriceUSD, s.LINKChange24h = p.PriceUSD, p.Change24h
	case "BNB":
		s.BNBPriceUSD, s.BNBChange24h = p.PriceUSD, p.Change24h
	}
}
