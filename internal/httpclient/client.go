// Package httpclient provides the process-wide upstream HTTP client with
// connection pooling and bounded retry on rate-limit responses.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrRateLimited is returned once the retry budget for 429/418 responses
// is exhausted.
var ErrRateLimited = errors.New("upstream rate limit exceeded")

// ErrUpstream wraps non-success statuses that are not retryable.
var ErrUpstream = errors.New("upstream request failed")

// ClientConfig tunes pooling and retry behavior.
type ClientConfig struct {
	RequestTimeout      time.Duration
	ConnectTimeout      time.Duration
	MaxIdleConnsPerHost int
	MaxAttempts         int
	// Backoff bases for the two rate-limit paths. The delay before retry
	// n (1-based) is base << n.
	RateLimitBackoff time.Duration // HTTP 429
	BlockedBackoff   time.Duration // HTTP 418 (Binance teapot blocking)
}

// DefaultConfig matches the upstream contract: 10 idle conns per host,
// 30s total timeout, 10s connect timeout, 3 attempts.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		RequestTimeout:      30 * time.Second,
		ConnectTimeout:      10 * time.Second,
		MaxIdleConnsPerHost: 10,
		MaxAttempts:         3,
		RateLimitBackoff:    time.Second,
		BlockedBackoff:      2 * time.Second,
	}
}

// Client is a pooled HTTP client with JSON decoding and retry on 429/418.
type Client struct {
	config ClientConfig
	http   *http.Client
}

var (
	sharedOnce sync.Once
	shared     *Client
)

// Shared returns the lazily constructed process-wide client. All fetchers
// go through this instance so the connection pool is actually shared.
func Shared() *Client {
	sharedOnce.Do(func() {
		shared = New(DefaultConfig())
	})
	return shared
}

// New builds a client with its own transport.
func New(config ClientConfig) *Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		DialContext: (&net.Dialer{
			Timeout: config.ConnectTimeout,
		}).DialContext,
	}
	return &Client{
		config: config,
		http: &http.Client{
			Timeout:   config.RequestTimeout,
			Transport: transport,
		},
	}
}

// GetJSON performs a GET against url, decoding a 2xx JSON body into v.
// Responses with status 429 or 418 are retried with exponential backoff up
// to MaxAttempts total attempts; any other non-success status fails
// immediately.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, v interface{}) error {
	attempts := 0
	for attempts < c.config.MaxAttempts {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		for k, val := range headers {
			req.Header.Set(k, val)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request %s: %w", url, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			err := json.NewDecoder(resp.Body).Decode(v)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("decode %s: %w", url, err)
			}
			return nil

		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			attempts++
			if attempts >= c.config.MaxAttempts {
				return fmt.Errorf("%w: 429 after %d attempts for %s", ErrRateLimited, attempts, url)
			}
			if err := c.backoff(ctx, c.config.RateLimitBackoff, attempts, url, resp.StatusCode); err != nil {
				return err
			}

		case resp.StatusCode == http.StatusTeapot:
			// Binance answers 418 when it is rate limiting or blocking an IP.
			resp.Body.Close()
			attempts++
			if attempts >= c.config.MaxAttempts {
				return fmt.Errorf("%w: 418 after %d attempts for %s", ErrRateLimited, attempts, url)
			}
			if err := c.backoff(ctx, c.config.BlockedBackoff, attempts, url, resp.StatusCode); err != nil {
				return err
			}

		default:
			status := resp.Status
			resp.Body.Close()
			return fmt.Errorf("%w: status %s for %s", ErrUpstream, status, url)
		}
	}
	return fmt.Errorf("%w: retries exhausted for %s", ErrRateLimited, url)
}

func (c *Client) backoff(ctx context.Context, base time.Duration, attempt int, url string, status int) error {
	delay := base * (1 << uint(attempt))
	log.Warn().
		Int("status", status).
		Int("attempt", attempt).
		Int("max_attempts", c.config.MaxAttempts).
		Dur("delay", delay).
		Str("url", url).
		Msg("Upstream rate limited, backing off")

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
