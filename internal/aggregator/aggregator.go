// Package aggregator composes the per-class fetchers into one dashboard
// snapshot. Sub-fetches run concurrently under individual timeouts; any
// failure degrades that class to defaults and flags the snapshot as a
// partial failure instead of failing the tick.
package aggregator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsefeed/marketfan/internal/cache"
	"github.com/pulsefeed/marketfan/internal/metrics"
	"github.com/pulsefeed/marketfan/internal/sources"
)

// Cache keys per data class. The key doubles as the coalescing unit: every
// concurrent fetch of a class shares one upstream call.
const (
	keyCryptoPrices = "multi_crypto_prices_realtime"
	keyGlobal       = "global_coingecko_1h"
	keySentiment    = "fng_alternative_5m"
	keyRSI          = "btc_rsi_14_taapi_3h"
	keyIndices      = "us_indices_finnhub_5m"
)

const defaultTaskTimeout = 8 * time.Second

// MarketSource is the upstream adapter surface consumed by the aggregator.
// *sources.Client implements it.
type MarketSource interface {
	FetchCryptoPrices(ctx context.Context) (map[string]sources.CryptoPrice, error)
	FetchGlobal(ctx context.Context) (*sources.GlobalMetrics, error)
	FetchFearGreed(ctx context.Context) (*sources.SentimentReading, error)
	FetchBTCRSI(ctx context.Context) (*sources.RSIReading, error)
	FetchStockIndices(ctx context.Context) (map[string]sources.IndexQuote, error)
}

// Aggregator fans in the five data classes through the tiered cache.
type Aggregator struct {
	source      MarketSource
	cache       *cache.Tiered
	taskTimeout time.Duration

	total    atomic.Uint64
	partials atomic.Uint64
}

// New builds an aggregator over the given source and cache.
func New(source MarketSource, tiered *cache.Tiered) *Aggregator {
	return &Aggregator{
		source:      source,
		cache:       tiered,
		taskTimeout: defaultTaskTimeout,
	}
}

// FetchSnapshot runs all five sub-fetches concurrently and composes the
// snapshot. When forceRealtime is set, the RealTime class (crypto prices)
// bypasses the cache, hits upstream, and overwrites the cached entry; other
// classes honor their TTLs. The result is always a complete snapshot.
func (a *Aggregator) FetchSnapshot(ctx context.Context, forceRealtime bool) *Snapshot {
	start := time.Now()
	a.total.Add(1)

	var (
		wg      sync.WaitGroup
		prices  map[string]sources.CryptoPrice
		global  *sources.GlobalMetrics
		fng     *sources.SentimentReading
		rsi     *sources.RSIReading
		indices map[string]sources.IndexQuote

		pricesErr, globalErr, fngErr, rsiErr, indicesErr error
	)

	run := func(fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			taskCtx, cancel := context.WithTimeout(ctx, a.taskTimeout)
			defer cancel()
			fn(taskCtx)
		}()
	}

	run(func(ctx context.Context) { prices, pricesErr = a.cryptoPrices(ctx, forceRealtime) })
	run(func(ctx context.Context) { global, globalErr = a.globalMetrics(ctx) })
	run(func(ctx context.Context) { fng, fngErr = a.sentiment(ctx) })
	run(func(ctx context.Context) { rsi, rsiErr = a.btcRSI(ctx) })
	run(func(ctx context.Context) { indices, indicesErr = a.stockIndices(ctx) })
	wg.Wait()

	snap := &Snapshot{
		FNGValue:       50,
		BTCRSI14:       50.0,
		USStockIndices: make(map[string]sources.IndexQuote),
	}
	partial := false

	if pricesErr != nil {
		partial = true
		log.Warn().Err(pricesErr).Msg("Multi-crypto prices fetch failed")
	} else {
		for symbol, p := range prices {
			snap.setPrice(symbol, p)
		}
	}

	if globalErr != nil {
		partial = true
		log.Warn().Err(globalErr).Msg("Global metrics fetch failed")
	} else {
		snap.MarketCapUSD = global.MarketCap
		snap.Volume24hUSD = global.Volume24h
		snap.MarketCapChange24h = global.MarketCapChange24h
		snap.BTCDominance = global.BTCDominance
		snap.ETHDominance = global.ETHDominance
	}

	if fngErr != nil {
		partial = true
		log.Warn().Err(fngErr).Msg("Fear & Greed fetch failed")
	} else {
		snap.FNGValue = fng.Value
	}

	if rsiErr != nil {
		partial = true
		log.Warn().Err(rsiErr).Msg("BTC RSI fetch failed")
	} else {
		snap.BTCRSI14 = rsi.Value
	}

	if indicesErr != nil {
		partial = true
		log.Warn().Err(indicesErr).Msg("Stock indices fetch failed")
		// Failed symbols may still carry diagnostic placeholders.
		if indices != nil {
			snap.USStockIndices = indices
		}
	} else if indices != nil {
		snap.USStockIndices = indices
	}

	duration := time.Since(start)
	snap.FetchDurationMS = duration.Milliseconds()
	snap.PartialFailure = partial
	now := time.Now().UTC().Format(time.RFC3339)
	snap.LastUpdated = now
	snap.Timestamp = now

	if partial {
		a.partials.Add(1)
		metrics.AggregationsTotal.WithLabelValues("partial_failure").Inc()
		log.Warn().Dur("duration", duration).Msg("Dashboard snapshot aggregated with partial failures")
	} else {
		metrics.AggregationsTotal.WithLabelValues("success").Inc()
		log.Info().Dur("duration", duration).Msg("Dashboard snapshot aggregated")
	}

	return snap
}

// Stats reports aggregation counters for the health endpoint.
func (a *Aggregator) Stats() (total, partials uint64) {
	return a.total.Load(), a.partials.Load()
}

func (a *Aggregator) cryptoPrices(ctx context.Context, force bool) (map[string]sources.CryptoPrice, error) {
	if force {
		prices, err := a.source.FetchCryptoPrices(ctx)
		if err != nil {
			return nil, err
		}
		if payload, err := json.Marshal(prices); err == nil {
			a.cache.Set(ctx, keyCryptoPrices, payload, cache.RealTime)
		}
		return prices, nil
	}

	payload, err := a.cache.GetOrCompute(ctx, keyCryptoPrices, cache.RealTime, func(ctx context.Context) ([]byte, error) {
		prices, err := a.source.FetchCryptoPrices(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(prices)
	})
	if err != nil {
		return nil, err
	}
	var prices map[string]sources.CryptoPrice
	if err := json.Unmarshal(payload, &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

func (a *Aggregator) globalMetrics(ctx context.Context) (*sources.GlobalMetrics, error) {
	payload, err := a.cache.GetOrCompute(ctx, keyGlobal, cache.MediumTerm, func(ctx context.Context) ([]byte, error) {
		m, err := a.source.FetchGlobal(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(m)
	})
	if err != nil {
		return nil, err
	}
	var m sources.GlobalMetrics
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (a *Aggregator) sentiment(ctx context.Context) (*sources.SentimentReading, error) {
	payload, err := a.cache.GetOrCompute(ctx, keySentiment, cache.ShortTerm, func(ctx context.Context) ([]byte, error) {
		s, err := a.source.FetchFearGreed(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(s)
	})
	if err != nil {
		return nil, err
	}
	var s sources.SentimentReading
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *Aggregator) btcRSI(ctx context.Context) (*sources.RSIReading, error) {
	payload, err := a.cache.GetOrCompute(ctx, keyRSI, cache.LongTerm, func(ctx context.Context) ([]byte, error) {
		r, err := a.source.FetchBTCRSI(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(r)
	})
	if err != nil {
		return nil, err
	}
	var r sources.RSIReading
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (a *Aggregator) stockIndices(ctx context.Context) (map[string]sources.IndexQuote, error) {
	payload, err := a.cache.GetOrCompute(ctx, keyIndices, cache.ShortTerm, func(ctx context.Context) ([]byte, error) {
		quotes, err := a.source.FetchStockIndices(ctx)
		if err != nil {
			// Surface the partial map to this caller; it is not cached.
			if quotes != nil {
				if payload, merr := json.Marshal(quotes); merr == nil {
					return payload, err
				}
			}
			return nil, err
		}
		return json.Marshal(quotes)
	})
	var quotes map[string]sources.IndexQuote
	if payload != nil {
		if uerr := json.Unmarshal(payload, &quotes); uerr != nil {
			quotes = nil
		}
	}
	return quotes, err
}
