package sources

import (
	"context"
	"fmt"
)

// FetchBTCRSI fetches the BTC RSI-14 from TAAPI. The secret travels in the
// query string; without one the source is disabled.
func (c *Client) FetchBTCRSI(ctx context.Context) (*RSIReading, error) {
	if c.cfg.TaapiSecret == "" {
		return nil, fmt.Errorf("taapi rsi: %w", ErrNotConfigured)
	}
	out, err := c.guarded(srcRSI, func() (interface{}, error) {
		url := fmt.Sprintf(c.cfg.Endpoints.TaapiRSI, c.cfg.TaapiSecret)
		var resp taapiRSIResponse
		if err := c.http.GetJSON(ctx, url, nil, &resp); err != nil {
			return nil, fmt.Errorf("taapi rsi: %w", err)
		}
		return &RSIReading{Value: resp.Value, Period: "14", LastUpdated: nowRFC3339()}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*RSIReading), nil
}
