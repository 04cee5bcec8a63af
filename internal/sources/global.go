package sources

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// FetchGlobal fetches global market metrics, trying CoinGecko first and
// falling back to CoinMarketCap when a key is configured.
func (c *Client) FetchGlobal(ctx context.Context) (*GlobalMetrics, error) {
	out, err := c.guarded(srcGlobal, func() (interface{}, error) {
		metrics, err := c.fetchGlobalCoinGecko(ctx)
		if err == nil {
			return metrics, nil
		}
		log.Warn().Err(err).Msg("CoinGecko global data failed, trying CoinMarketCap")

		if c.cfg.CMCAPIKey == "" {
			return nil, fmt.Errorf("coingecko failed and no fallback key: %w", err)
		}
		metrics, cmcErr := c.fetchGlobalCMC(ctx)
		if cmcErr != nil {
			return nil, fmt.Errorf("primary error: %v; fallback error: %w", err, cmcErr)
		}
		return metrics, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*GlobalMetrics), nil
}

func (c *Client) fetchGlobalCoinGecko(ctx context.Context) (*GlobalMetrics, error) {
	var resp coingeckoGlobal
	if err := c.http.GetJSON(ctx, c.cfg.Endpoints.CoinGeckoGlobal, nil, &resp); err != nil {
		return nil, fmt.Errorf("coingecko global: %w", err)
	}

	m := &GlobalMetrics{
		MarketCap:          resp.Data.TotalMarketCap["usd"],
		Volume24h:          resp.Data.TotalVolume["usd"],
		MarketCapChange24h: resp.Data.MarketCapChangePercent24h,
		BTCDominance:       resp.Data.MarketCapPercentage["btc"],
		ETHDominance:       resp.Data.MarketCapPercentage["eth"],
		Source:             "coingecko",
		LastUpdated:        nowRFC3339(),
	}
	if m.MarketCap <= 0 || m.Volume24h <= 0 || m.BTCDominance <= 0 {
		return nil, fmt.Errorf("coingecko validation: market_cap=%v volume_24h=%v btc_dominance=%v",
			m.MarketCap, m.Volume24h, m.BTCDominance)
	}
	return m, nil
}

func (c *Client) fetchGlobalCMC(ctx context.Context) (*GlobalMetrics, error) {
	headers := map[string]string{"X-CMC_PRO_API_KEY": c.cfg.CMCAPIKey}
	var resp cmcGlobal
	if err := c.http.GetJSON(ctx, c.cfg.Endpoints.CMCGlobal, headers, &resp); err != nil {
		return nil, fmt.Errorf("coinmarketcap global: %w", err)
	}

	quote, ok := resp.Data.Quote["USD"]
	if !ok {
		return nil, fmt.Errorf("coinmarketcap global: missing USD quote")
	}
	return &GlobalMetrics{
		MarketCap:          quote.TotalMarketCap,
		Volume24h:          quote.TotalVolume24h,
		MarketCapChange24h: quote.MarketCapChangePercent24h,
		BTCDominance:       quote.BTCDominance,
		ETHDominance:       quote.ETHDominance,
		Source:             "coinmarketcap",
		LastUpdated:        nowRFC3339(),
	}, nil
}
