package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefeed/marketfan/internal/cache"
	"github.com/pulsefeed/marketfan/internal/sources"
)

type stubSource struct {
	cryptoCalls  atomic.Int64
	cryptoErr    error
	globalErr    error
	fngErr       error
	rsiErr       error
	indicesErr   error
	indicesExtra map[string]sources.IndexQuote
}

func (s *stubSource) FetchCryptoPrices(ctx context.Context) (map[string]sources.CryptoPrice, error) {
	s.cryptoCalls.Add(1)
	if s.cryptoErr != nil {
		return nil, s.cryptoErr
	}
	out := make(map[string]sources.CryptoPrice)
	for i, sym := range []string{"BTC", "ETH", "SOL", "XRP", "ADA", "LINK", "BNB"} {
		out[sym] = sources.CryptoPrice{PriceUSD: float64(1000 * (i + 1)), Change24h: float64(i), Source: "binance"}
	}
	return out, nil
}

func (s *stubSource) FetchGlobal(ctx context.Context) (*sources.GlobalMetrics, error) {
	if s.globalErr != nil {
		return nil, s.globalErr
	}
	return &sources.GlobalMetrics{
		MarketCap: 3.4e12, Volume24h: 1.2e11, MarketCapChange24h: 1.5,
		BTCDominance: 56.2, ETHDominance: 12.8, Source: "coingecko",
	}, nil
}

func (s *stubSource) FetchFearGreed(ctx context.Context) (*sources.SentimentReading, error) {
	if s.fngErr != nil {
		return nil, s.fngErr
	}
	return &sources.SentimentReading{Value: 72}, nil
}

func (s *stubSource) FetchBTCRSI(ctx context.Context) (*sources.RSIReading, error) {
	if s.rsiErr != nil {
		return nil, s.rsiErr
	}
	return &sources.RSIReading{Value: 61.4, Period: "14"}, nil
}

func (s *stubSource) FetchStockIndices(ctx context.Context) (map[string]sources.IndexQuote, error) {
	if s.indicesErr != nil {
		return s.indicesExtra, s.indicesErr
	}
	return map[string]sources.IndexQuote{
		"SPY": {Symbol: "SPY", Name: "SPDR S&P 500 ETF Trust", Price: 450.2, Status: "success"},
	}, nil
}

func newTestAggregator(src MarketSource) *Aggregator {
	return New(src, cache.NewTiered(nil))
}

func TestFetchSnapshot_HappyPath(t *testing.T) {
	agg := newTestAggregator(&stubSource{})
	snap := agg.FetchSnapshot(context.Background(), false)

	assert.False(t, snap.PartialFailure)
	assert.Equal(t, 1000.0, snap.BTCPriceUSD)
	assert.Equal(t, 7000.0, snap.BNBPriceUSD)
	assert.Equal(t, 3.4e12, snap.MarketCapUSD)
	assert.Equal(t, 72, snap.FNGValue)
	assert.Equal(t, 61.4, snap.BTCRSI14)
	assert.Equal(t, "success", snap.USStockIndices["SPY"].Status)
	assert.NotEmpty(t, snap.Timestamp)
	assert.NotEmpty(t, snap.LastUpdated)
}

// Every top-level field must be serialized even when everything failed.
func TestFetchSnapshot_Completeness(t *testing.T) {
	boom := errors.New("down")
	agg := newTestAggregator(&stubSource{
		cryptoErr: boom, globalErr: boom, fngErr: boom, rsiErr: boom, indicesErr: boom,
	})
	snap := agg.FetchSnapshot(context.Background(), false)
	require.True(t, snap.PartialFailure)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))

	for _, key := range []string{
		"btc_price_usd", "btc_change_24h", "eth_price_usd", "eth_change_24h",
		"sol_price_usd", "sol_change_24h", "xrp_price_usd", "xrp_change_24h",
		"ada_price_usd", "ada_change_24h", "link_price_usd", "link_change_24h",
		"bnb_price_usd", "bnb_change_24h",
		"market_cap_usd", "volume_24h_usd", "market_cap_change_percentage_24h_usd",
		"btc_market_cap_percentage", "eth_market_cap_percentage",
		"fng_value", "btc_rsi_14", "us_stock_indices",
		"fetch_duration_ms", "partial_failure", "last_updated", "timestamp",
	} {
		assert.Contains(t, fields, key)
	}

	// Defaults, not absent fields.
	assert.Equal(t, float64(50), fields["fng_value"])
	assert.Equal(t, 50.0, fields["btc_rsi_14"])
	assert.Equal(t, map[string]interface{}{}, fields["us_stock_indices"])
	assert.Equal(t, float64(0), fields["btc_price_usd"])
}

func TestFetchSnapshot_PartialFailureFlag(t *testing.T) {
	agg := newTestAggregator(&stubSource{fngErr: errors.New("fng down")})
	snap := agg.FetchSnapshot(context.Background(), false)

	assert.True(t, snap.PartialFailure)
	assert.Equal(t, 50, snap.FNGValue, "failed class falls back to default")
	assert.Equal(t, 1000.0, snap.BTCPriceUSD, "healthy classes still populate")
}

func TestFetchSnapshot_IndicesPlaceholdersSurvivePartialFailure(t *testing.T) {
	agg := newTestAggregator(&stubSource{
		indicesErr: errors.New("one symbol failed"),
		indicesExtra: map[string]sources.IndexQuote{
			"SPY": {Symbol: "SPY", Status: "failed"},
			"DIA": {Symbol: "DIA", Price: 400, Status: "success"},
		},
	})
	snap := agg.FetchSnapshot(context.Background(), false)

	assert.True(t, snap.PartialFailure)
	assert.Equal(t, "failed", snap.USStockIndices["SPY"].Status)
	assert.Equal(t, "success", snap.USStockIndices["DIA"].Status)
}

func TestFetchSnapshot_SecondCallServedFromCache(t *testing.T) {
	src := &stubSource{}
	agg := newTestAggregator(src)

	agg.FetchSnapshot(context.Background(), false)
	agg.FetchSnapshot(context.Background(), false)

	assert.Equal(t, int64(1), src.cryptoCalls.Load(), "second tick within TTL must not hit upstream")
}

func TestFetchSnapshot_ForceRealtimeBypassesCache(t *testing.T) {
	src := &stubSource{}
	agg := newTestAggregator(src)

	agg.FetchSnapshot(context.Background(), false)
	agg.FetchSnapshot(context.Background(), true)

	assert.Equal(t, int64(2), src.cryptoCalls.Load(), "force refresh must hit upstream despite a fresh cache")
}

func TestFetchSnapshot_RecordsStats(t *testing.T) {
	agg := newTestAggregator(&stubSource{globalErr: errors.New("down")})
	agg.FetchSnapshot(context.Background(), false)
	total, partials := agg.Stats()
	assert.Equal(t, uint64(1), total)
	assert.Equal(t, uint64(1), partials)
}
