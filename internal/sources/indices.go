package sources

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ETF proxies for the major US indices, usable on Finnhub's free tier.
var stockIndices = []struct {
	symbol string
	name   string
}{
	{"DIA", "SPDR Dow Jones Industrial Average ETF"},
	{"SPY", "SPDR S&P 500 ETF Trust"},
	{"QQQM", "INVESCO NASDAQ 100 ETF"},
}

// FetchStockIndices fetches all index quotes concurrently. Failed symbols
// are kept in the returned map with Status "failed" and zeroed fields; any
// failure also raises an error so the class counts as a partial failure.
func (c *Client) FetchStockIndices(ctx context.Context) (map[string]IndexQuote, error) {
	if c.cfg.FinnhubAPIKey == "" {
		return nil, fmt.Errorf("finnhub indices: %w", ErrNotConfigured)
	}

	out, err := c.guarded(srcIndices, func() (interface{}, error) {
		results := make(map[string]IndexQuote, len(stockIndices))
		var mu sync.Mutex
		var wg sync.WaitGroup
		allSuccess := true

		for _, idx := range stockIndices {
			wg.Add(1)
			go func(symbol, name string) {
				defer wg.Done()
				quote, err := c.fetchSingleIndex(ctx, symbol, name)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					log.Warn().Err(err).Str("symbol", symbol).Msg("Stock index fetch failed")
					allSuccess = false
					results[symbol] = IndexQuote{Symbol: symbol, Name: name, Status: "failed"}
					return
				}
				results[symbol] = *quote
			}(idx.symbol, idx.name)
		}
		wg.Wait()

		if !allSuccess {
			// The map with failed placeholders rides along with the error.
			return results, fmt.Errorf("some US indices failed to fetch")
		}
		return results, nil
	})
	if err != nil {
		if partial, ok := out.(map[string]IndexQuote); ok {
			return partial, err
		}
		return nil, err
	}
	return out.(map[string]IndexQuote), nil
}

func (c *Client) fetchSingleIndex(ctx context.Context, symbol, name string) (*IndexQuote, error) {
	url := fmt.Sprintf("%s?symbol=%s&token=%s", c.cfg.Endpoints.FinnhubQuote, symbol, c.cfg.FinnhubAPIKey)
	var resp finnhubQuote
	if err := c.http.GetJSON(ctx, url, nil, &resp); err != nil {
		return nil, fmt.Errorf("finnhub %s: %w", symbol, err)
	}
	if resp.CurrentPrice <= 0 {
		return nil, fmt.Errorf("finnhub %s validation: price=%v", symbol, resp.CurrentPrice)
	}
	return &IndexQuote{
		Symbol:        symbol,
		Name:          name,
		Price:         resp.CurrentPrice,
		Change:        resp.Change,
		ChangePercent: resp.PercentChange,
		Status:        "success",
	}, nil
}
