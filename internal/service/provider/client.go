// Package provider implements the REST backfill source for intraday bars,
// guarded by a circuit breaker.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"ChartDesk/internal/domain/models"
	"ChartDesk/internal/domain/repository"
	"ChartDesk/pkg/logger"
	"ChartDesk/pkg/util"
)

// Config holds the REST provider settings.
type Config struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	RateLimitWindow time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Client fetches OHLCV bars from the vendor REST API. It implements
// repository.VendorAPI.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *Breaker
	log     *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		breaker: NewBreaker(cfg.BreakerFailures, cfg.BreakerCooldown, cfg.RateLimitWindow),
		log:     log,
	}
}

// Available reports whether the provider circuit is closed.
func (c *Client) Available() bool {
	return c.breaker.Allow()
}

// vendorInterval maps resolutions to the provider's interval tokens. Only
// intraday resolutions have a REST mapping.
var vendorInterval = map[repository.Resolution]string{
	repository.Res1m:  "1min",
	repository.Res5m:  "5min",
	repository.Res15m: "15min",
	repository.Res30m: "30min",
}

// SupportsResolution reports whether the provider can serve the resolution.
func SupportsResolution(res repository.Resolution) bool {
	_, ok := vendorInterval[res]
	return ok
}

// flexTime tolerates the vendor's drifting timestamp encodings: unix
// milliseconds, unix seconds, or an RFC3339 string, with or without quotes.
// The decoded value is unix milliseconds.
type flexTime int64

func (t *flexTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, ok := util.ParseTime(s)
	if !ok {
		return fmt.Errorf("bar time %q not parseable", s)
	}
	*t = flexTime(parsed.UnixMilli())
	return nil
}

type barDTO struct {
	Time   flexTime `json:"time"`
	Open   float64  `json:"open"`
	High   float64  `json:"high"`
	Low    float64  `json:"low"`
	Close  float64  `json:"close"`
	Volume float64  `json:"volume"`
}

type barsResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Bars    []barDTO `json:"bars"`
}

// Intraday fetches bars for [startMs, endMs). The call is never retried here;
// a failure degrades the caller to its next source tier.
func (c *Client) Intraday(ctx context.Context, symbol string, res repository.Resolution, startMs, endMs int64) ([]models.Candle, error) {
	interval, ok := vendorInterval[res]
	if !ok {
		return nil, fmt.Errorf("resolution %s has no vendor mapping", res)
	}
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("vendor circuit open")
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("from", fmt.Sprintf("%d", startMs))
	q.Set("to", fmt.Sprintf("%d", endMs))
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/bars?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("vendor request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Failure(false)
		return nil, fmt.Errorf("vendor fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.breaker.Failure(true)
		return nil, fmt.Errorf("vendor throttled")
	}
	if resp.StatusCode != http.StatusOK {
		c.breaker.Failure(false)
		return nil, fmt.Errorf("vendor status %d", resp.StatusCode)
	}

	var body barsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.breaker.Failure(false)
		return nil, fmt.Errorf("vendor decode: %w", err)
	}
	if body.Status != "" && body.Status != "ok" {
		c.breaker.Failure(false)
		return nil, fmt.Errorf("vendor error: %s", body.Message)
	}
	c.breaker.Success()

	candles := make([]models.Candle, 0, len(body.Bars))
	for _, b := range body.Bars {
		if int64(b.Time) < startMs || int64(b.Time) >= endMs {
			continue
		}
		candles = append(candles, models.Candle{
			Time:   int64(b.Time),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	return candles, nil
}
