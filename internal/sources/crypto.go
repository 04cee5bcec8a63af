package sources

import (
	"context"
	"fmt"
	"strconv"
)

// pairSymbols maps Binance trading pairs to dashboard symbols. The fetch is
// valid only when every one of these is present with a positive price.
var pairSymbols = map[string]string{
	"BTCUSDT":  "BTC",
	"ETHUSDT":  "ETH",
	"SOLUSDT":  "SOL",
	"XRPUSDT":  "XRP",
	"ADAUSDT":  "ADA",
	"LINKUSDT": "LINK",
	"BNBUSDT":  "BNB",
}

// FetchCryptoPrices fetches all seven symbols in a single batched Binance
// call. There is no fallback for this class.
func (c *Client) FetchCryptoPrices(ctx context.Context) (map[string]CryptoPrice, error) {
	out, err := c.guarded(srcCrypto, func() (interface{}, error) {
		var tickers []binanceTicker
		if err := c.http.GetJSON(ctx, c.cfg.Endpoints.BinanceMultiTicker, nil, &tickers); err != nil {
			return nil, fmt.Errorf("binance multi-ticker: %w", err)
		}

		prices := make(map[string]CryptoPrice, len(pairSymbols))
		now := nowRFC3339()
		for _, tk := range tickers {
			symbol, ok := pairSymbols[tk.Symbol]
			if !ok {
				continue
			}
			price, _ := strconv.ParseFloat(tk.LastPrice, 64)
			change, _ := strconv.ParseFloat(tk.PriceChangePercent, 64)
			prices[symbol] = CryptoPrice{
				PriceUSD:    price,
				Change24h:   change,
				Source:      "binance",
				LastUpdated: now,
			}
		}

		if len(prices) != len(pairSymbols) {
			return nil, fmt.Errorf("binance multi-ticker validation: expected %d symbols, got %d", len(pairSymbols), len(prices))
		}
		for symbol, p := range prices {
			if p.PriceUSD <= 0 {
				return nil, fmt.Errorf("binance %s price validation: price=%v", symbol, p.PriceUSD)
			}
		}
		return prices, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(map[string]CryptoPrice), nil
}
