package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ChartDesk/internal/domain/repository"
	"ChartDesk/pkg/logger"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewClient(Config{
		BaseURL:         baseURL,
		APIKey:          "test",
		Timeout:         2 * time.Second,
		RateLimitWindow: time.Minute,
		BreakerFailures: 3,
		BreakerCooldown: 30 * time.Second,
	}, log)
}

func TestIntradayDecodesMixedTimeEncodings(t *testing.T) {
	start := time.Date(2024, time.June, 12, 13, 30, 0, 0, time.UTC)
	msBar := start.Add(1 * time.Minute)
	secBar := start.Add(2 * time.Minute)
	strBar := start.Add(3 * time.Minute)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"status":"ok","bars":[
			{"time":%d,"open":1,"high":2,"low":1,"close":1.5,"volume":100},
			{"time":%d,"open":1,"high":2,"low":1,"close":1.6,"volume":110},
			{"time":%q,"open":1,"high":2,"low":1,"close":1.7,"volume":120}
		]}`, msBar.UnixMilli(), secBar.Unix(), strBar.Format(time.RFC3339))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	candles, err := c.Intraday(context.Background(), "AAPL", repository.Res1m,
		start.UnixMilli(), start.Add(10*time.Minute).UnixMilli())
	if err != nil {
		t.Fatalf("Intraday: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("len(candles) = %d, want 3", len(candles))
	}
	want := []int64{msBar.UnixMilli(), secBar.UnixMilli(), strBar.UnixMilli()}
	for i, w := range want {
		if candles[i].Time != w {
			t.Fatalf("candles[%d].Time = %d, want %d", i, candles[i].Time, w)
		}
	}
}

func TestIntradayRejectsUnparseableBarTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","bars":[{"time":"soon","close":1.5}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Intraday(context.Background(), "AAPL", repository.Res1m, 0, time.Now().UnixMilli())
	if err == nil {
		t.Fatal("expected a decode error for an unparseable bar time")
	}
}
