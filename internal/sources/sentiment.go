package sources

import (
	"context"
	"fmt"
	"strconv"
)

// neutralSentiment is used when the provider returns an unparseable value.
const neutralSentiment = 50

// FetchFearGreed fetches the Fear & Greed index. An unparseable value
// degrades to the neutral default rather than failing the fetch.
func (c *Client) FetchFearGreed(ctx context.Context) (*SentimentReading, error) {
	out, err := c.guarded(srcSentiment, func() (interface{}, error) {
		var resp fearGreedResponse
		if err := c.http.GetJSON(ctx, c.cfg.Endpoints.FearGreed, nil, &resp); err != nil {
			return nil, fmt.Errorf("fear & greed: %w", err)
		}

		value := neutralSentiment
		if len(resp.Data) > 0 {
			if v, err := strconv.Atoi(resp.Data[0].Value); err == nil {
				value = v
			}
		}
		return &SentimentReading{Value: value, LastUpdated: nowRFC3339()}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*SentimentReading), nil
}
