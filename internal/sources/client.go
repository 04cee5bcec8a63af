// Package sources holds the per-source upstream adapters. Each data class
// has one fetch method with validation and a primary-to-fallback chain, all
// guarded by a per-source circuit breaker.
package sources

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/pulsefeed/marketfan/internal/httpclient"
	"github.com/pulsefeed/marketfan/internal/metrics"
)

// ErrNotConfigured marks a source whose credential is absent.
var ErrNotConfigured = errors.New("source credential not configured")

// Endpoints carries the upstream URLs so tests can point the client at
// local fakes.
type Endpoints struct {
	BinanceMultiTicker string
	CoinGeckoGlobal    string
	CMCGlobal          string
	FearGreed          string
	TaapiRSI           string // expects one %s for the secret
	FinnhubQuote       string // expects ?symbol=&token= appended
}

// DefaultEndpoints returns the production upstream URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		BinanceMultiTicker: `https://api.binance.com/api/v3/ticker/24hr?symbols=["BTCUSDT","ETHUSDT","SOLUSDT","XRPUSDT","ADAUSDT","LINKUSDT","BNBUSDT"]`,
		CoinGeckoGlobal:    "https://api.coingecko.com/api/v3/global",
		CMCGlobal:          "https://pro-api.coinmarketcap.com/v1/global-metrics/quotes/latest",
		FearGreed:          "https://api.alternative.me/fng/?limit=1",
		TaapiRSI:           "https://api.taapi.io/rsi?secret=%s&exchange=binance&symbol=BTC/USDT&interval=1d",
		FinnhubQuote:       "https://finnhub.io/api/v1/quote",
	}
}

// Config wires credentials and the shared HTTP client into the adapters.
type Config struct {
	TaapiSecret   string
	CMCAPIKey     string
	FinnhubAPIKey string
	Endpoints     Endpoints
	HTTP          *httpclient.Client
}

// CryptoPrice is one symbol's entry in the multi-crypto fetch.
type CryptoPrice struct {
	PriceUSD    float64 `json:"price_usd"`
	Change24h   float64 `json:"change_24h"`
	Source      string  `json:"source"`
	LastUpdated string  `json:"last_updated"`
}

// GlobalMetrics is the flattened global-market result.
type GlobalMetrics struct {
	MarketCap          float64 `json:"market_cap"`
	Volume24h          float64 `json:"volume_24h"`
	MarketCapChange24h float64 `json:"market_cap_change_percentage_24h_usd"`
	BTCDominance       float64 `json:"btc_market_cap_percentage"`
	ETHDominance       float64 `json:"eth_market_cap_percentage"`
	Source             string  `json:"source"`
	LastUpdated        string  `json:"last_updated"`
}

// SentimentReading is the Fear & Greed index value.
type SentimentReading struct {
	Value       int    `json:"value"`
	LastUpdated string `json:"last_updated"`
}

// RSIReading is the BTC RSI-14 value.
type RSIReading struct {
	Value       float64 `json:"value"`
	Period      string  `json:"period"`
	LastUpdated string  `json:"last_updated"`
}

// IndexQuote is one stock index entry; failed symbols carry zeros and
// Status "failed" for diagnostic visibility.
type IndexQuote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Status        string  `json:"status"`
}

// SourceStats aggregates per-source call counters.
type SourceStats struct {
	Calls     uint64 `json:"calls"`
	Successes uint64 `json:"successes"`
	Failures  uint64 `json:"failures"`
}

type counters struct {
	calls     atomic.Uint64
	successes atomic.Uint64
	failures  atomic.Uint64
}

// Client owns all upstream adapters.
type Client struct {
	cfg      Config
	http     *httpclient.Client
	breakers map[string]*gobreaker.CircuitBreaker
	stats    map[string]*counters
}

const (
	srcCrypto    = "binance_multi"
	srcGlobal    = "global"
	srcSentiment = "fear_greed"
	srcRSI       = "taapi_rsi"
	srcIndices   = "finnhub_indices"
)

var sourceNames = []string{srcCrypto, srcGlobal, srcSentiment, srcRSI, srcIndices}

// New builds the source client. Missing credentials are logged once here
// and disable the corresponding source or fallback.
func New(cfg Config) *Client {
	if cfg.HTTP == nil {
		cfg.HTTP = httpclient.Shared()
	}
	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = DefaultEndpoints()
	}

	if cfg.CMCAPIKey == "" {
		log.Warn().Msg("No CoinMarketCap API key, global metrics fallback disabled")
	}
	if cfg.TaapiSecret == "" {
		log.Warn().Msg("No TAAPI secret, BTC RSI source disabled")
	}
	if cfg.FinnhubAPIKey == "" {
		log.Warn().Msg("No Finnhub API key, US stock indices disabled")
	}

	c := &Client{
		cfg:      cfg,
		http:     cfg.HTTP,
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(sourceNames)),
		stats:    make(map[string]*counters, len(sourceNames)),
	}
	for _, name := range sourceNames {
		name := name
		c.stats[name] = &counters{}
		c.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("source", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("Circuit breaker state change")
			},
		})
	}
	return c
}

// guarded runs fn through the source's circuit breaker and records stats.
func (c *Client) guarded(source string, fn func() (interface{}, error)) (interface{}, error) {
	st := c.stats[source]
	st.calls.Add(1)
	out, err := c.breakers[source].Execute(fn)
	if err != nil {
		st.failures.Add(1)
		metrics.SourceRequests.WithLabelValues(source, "failure").Inc()
		// Partial results (e.g. indices with failed placeholders) ride
		// along with the error.
		return out, err
	}
	st.successes.Add(1)
	metrics.SourceRequests.WithLabelValues(source, "success").Inc()
	return out, nil
}

// Stats returns call counters per source for the health endpoint.
func (c *Client) Stats() map[string]SourceStats {
	out := make(map[string]SourceStats, len(c.stats))
	for name, st := range c.stats {
		out[name] = SourceStats{
			Calls:     st.calls.Load(),
			Successes: st.successes.Load(),
			Failures:  st.failures.Load(),
		}
	}
	return out
}

// Healthy reports whether the upstream layer can serve fetches. Rate
// limiting is temporary and still counts as healthy; only a fully open
// crypto-price breaker (the one source with no fallback and no default)
// marks the layer unhealthy.
func (c *Client) Healthy() bool {
	return c.breakers[srcCrypto].State() != gobreaker.StateOpen
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
