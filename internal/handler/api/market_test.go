package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"ChartDesk/internal/domain/models"
	domrepo "ChartDesk/internal/domain/repository"
	"ChartDesk/internal/service/cache"
	"ChartDesk/internal/service/calendar"
	"ChartDesk/internal/service/diag"
	"ChartDesk/internal/service/ratelimit"
	"ChartDesk/internal/service/session"
	"ChartDesk/internal/service/stream"
	"ChartDesk/internal/usecase"
	pkgcache "ChartDesk/pkg/cache"
	"ChartDesk/pkg/config"
	xlogger "ChartDesk/pkg/logger"
)

type stubStore struct{ err error }

func (s *stubStore) FetchDailySeries(context.Context, []string, time.Time) (map[string][]models.Candle, error) {
	return map[string][]models.Candle{}, s.err
}
func (s *stubStore) Health(context.Context) error { return s.err }

type stubVendor struct{}

func (stubVendor) Intraday(context.Context, string, domrepo.Resolution, int64, int64) ([]models.Candle, error) {
	return nil, nil
}
func (stubVendor) Available() bool { return true }

type stubStreamCache struct{}

func (stubStreamCache) IntradayBars(string) ([]models.StreamBar, int64, error) {
	return nil, 0, nil
}

func newTestHandler(t *testing.T) *MarketHandler {
	t.Helper()
	log, err := xlogger.New(&xlogger.Config{Level: "error", Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	cal, err := calendar.New("America/New_York")
	if err != nil {
		t.Fatalf("calendar.New: %v", err)
	}
	store := &stubStore{}
	api := stubVendor{}
	svc := usecase.NewService(usecase.ServiceDeps{
		Store:      store,
		Vendor:     api,
		Windows:    session.NewComputer(cal),
		Reconciler: usecase.NewReconciler(stubStreamCache{}, api, nil, nil, nil),
		Aggregator: usecase.NewPostureAggregator(cal),
		Calendar:   cal,
		Log:        log,
		Groups:     []config.IndustryGroup{{Code: "4510", Abbrev: "SOFT", Symbols: []string{"AAPL"}}},
		IndexProxy: "SPY",
	})
	adapter := stream.New(stream.Config{URL: "ws://localhost"}, log, nil, nil)
	return NewMarketHandler(log, svc, cache.NewResponseCache(), ratelimit.New(), adapter, store, api, diag.NewRing(16), CacheTTLs{
		Candles:         time.Second,
		Posture:         time.Minute,
		DegradedPosture: time.Second,
	})
}

func doRequest(t *testing.T, h *MarketHandler, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCandlesRequiresScope(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h, "/api/candles")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body struct {
		OK    bool `json:"ok"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.OK {
		t.Fatal("error envelope must carry ok:false")
	}
	if body.Error.Code == "" || body.Error.Message == "" {
		t.Fatalf("error body = %+v, want code and message", body.Error)
	}
}

func TestCandlesTotalFailureReturnsStructuredError(t *testing.T) {
	h := newTestHandler(t)
	// Empty stream cache and an empty REST payload exhaust every tier.
	rec := doRequest(t, h, "/api/candles?symbol=AAPL&range=1D&resolution=1m")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		OK    bool `json:"ok"`
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.OK || body.Error.Code != "ERR_UPSTREAM_UNAVAILABLE" {
		t.Fatalf("body = %+v, want ok:false ERR_UPSTREAM_UNAVAILABLE", body)
	}
}

func TestCandlesServedFromSharedCache(t *testing.T) {
	h := newTestHandler(t)
	shared := pkgcache.NewMemoryCache()
	h.SetSharedCache(shared)

	// Seed the second-level cache under the exact request key. Every source
	// behind the service is empty, so a 200 here can only come from the
	// shared cache.
	seeded := candlesResponse{
		OK:      true,
		Candles: []models.Candle{{Time: 1718198700000, Close: 190.5}},
		Meta:    models.CanonicalMeta{Source: models.SourceRest},
	}
	b, err := json.Marshal(seeded)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := shared.Set(context.Background(), "candles:AAPL|1D|1m|", b, time.Minute); err != nil {
		t.Fatalf("seed shared cache: %v", err)
	}

	rec := doRequest(t, h, "/api/candles?symbol=AAPL&range=1D&resolution=1m")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body candlesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Candles) != 1 || body.Candles[0].Close != 190.5 {
		t.Fatalf("candles = %+v, want the seeded bar", body.Candles)
	}
}

func TestPostureRequiresOwner(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h, "/api/posture")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPostureCacheOnlyReturnsDegradedItems(t *testing.T) {
	h := newTestHandler(t)
	rec := doRequest(t, h, "/api/posture?owner=alice&cacheOnly=true")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		OK       bool                         `json:"ok"`
		Items    []models.IndustryPostureItem `json:"items"`
		Degraded bool                         `json:"degraded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !body.OK || !body.Degraded {
		t.Fatalf("body ok=%t degraded=%t, want true/true", body.OK, body.Degraded)
	}
	if len(body.Items) != 1 || body.Items[0].Trend5D != models.TrendFlat {
		t.Fatalf("items = %+v, want neutral classification", body.Items)
	}
}

func TestDiagnosticsAndHealth(t *testing.T) {
	h := newTestHandler(t)

	rec := doRequest(t, h, "/api/diagnostics")
	if rec.Code != http.StatusOK {
		t.Fatalf("diagnostics status = %d", rec.Code)
	}
	var dbody struct {
		OK     bool                  `json:"ok"`
		Stream models.StreamSnapshot `json:"stream"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &dbody); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !dbody.OK || dbody.Stream.State != models.StateDisconnected {
		t.Fatalf("diagnostics = %+v", dbody)
	}

	rec = doRequest(t, h, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var hbody struct {
		OK    bool   `json:"ok"`
		Store string `json:"store"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hbody); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !hbody.OK || hbody.Store != "up" {
		t.Fatalf("health = %+v", hbody)
	}
}
