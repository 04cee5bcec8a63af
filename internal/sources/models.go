package sources

// Upstream response shapes. Decoded at the fetcher boundary only; the rest
// of the pipeline sees the named result types in client.go.

type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
}

type coingeckoGlobal struct {
	Data struct {
		TotalMarketCap            map[string]float64 `json:"total_market_cap"`
		TotalVolume               map[string]float64 `json:"total_volume"`
		MarketCapChangePercent24h float64            `json:"market_cap_change_percentage_24h_usd"`
		MarketCapPercentage       map[string]float64 `json:"market_cap_percentage"`
	} `json:"data"`
}

type cmcGlobal struct {
	Data struct {
		Quote map[string]cmcGlobalQuote `json:"quote"`
	} `json:"data"`
}

type cmcGlobalQuote struct {
	TotalMarketCap            float64 `json:"total_market_cap"`
	TotalVolume24h            float64 `json:"total_volume_24h"`
	MarketCapChangePercent24h float64 `json:"market_cap_change_percentage_24h"`
	BTCDominance              float64 `json:"btc_dominance"`
	ETHDominance              float64 `json:"eth_dominance"`
}

type fearGreedResponse struct {
	Data []struct {
		Value string `json:"value"`
	} `json:"data"`
}

type taapiRSIResponse struct {
	Value float64 `json:"value"`
}

// Finnhub quote uses single-letter field names.
type finnhubQuote struct {
	CurrentPrice  float64 `json:"c"`
	Change        float64 `json:"d"`
	PercentChange float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
}
