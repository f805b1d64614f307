// Package api exposes the market-data truth layer over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	models "ChartDesk/internal/domain/models"
	domrepo "ChartDesk/internal/domain/repository"
	"ChartDesk/internal/service/cache"
	"ChartDesk/internal/service/diag"
	svcmetrics "ChartDesk/internal/service/metrics"
	"ChartDesk/internal/service/ratelimit"
	"ChartDesk/internal/service/stream"
	"ChartDesk/internal/usecase"
	pkgcache "ChartDesk/pkg/cache"
	xhttp "ChartDesk/pkg/http"
	xlogger "ChartDesk/pkg/logger"
)

const (
	rateCapacity  = 20
	ratePerSecond = 10
)

// CacheTTLs carries the per-endpoint response cache lifetimes. Degraded
// posture responses expire faster so a recovered provider is picked up
// promptly.
type CacheTTLs struct {
	Candles         time.Duration
	Posture         time.Duration
	DegradedPosture time.Duration
}

// MarketHandler implements the candle, posture, diagnostics and health
// endpoints.
type MarketHandler struct {
	logger  *xlogger.Logger
	svc     *usecase.Service
	cache   *cache.ResponseCache
	limiter *ratelimit.Limiter
	adapter *stream.Adapter
	store   domrepo.CandleStore
	vendor  domrepo.VendorAPI
	events  *diag.Ring
	ttls    CacheTTLs
	shared  pkgcache.Service
}

func NewMarketHandler(logger *xlogger.Logger, svc *usecase.Service, rc *cache.ResponseCache, limiter *ratelimit.Limiter, adapter *stream.Adapter, store domrepo.CandleStore, vendorAPI domrepo.VendorAPI, events *diag.Ring, ttls CacheTTLs) *MarketHandler {
	svcmetrics.Register()
	return &MarketHandler{
		logger:  logger,
		svc:     svc,
		cache:   rc,
		limiter: limiter,
		adapter: adapter,
		store:   store,
		vendor:  vendorAPI,
		events:  events,
		ttls:    ttls,
	}
}

// SetSharedCache attaches a second-level byte cache for candle responses,
// shared across instances when Redis-backed.
func (h *MarketHandler) SetSharedCache(s pkgcache.Service) { h.shared = s }

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/candles", h.Candles)
	g.GET("/posture", h.Posture)
	g.GET("/diagnostics", h.Diagnostics)
	g.GET("/health", h.Health)
}

type candlesResponse struct {
	OK      bool                 `json:"ok"`
	Candles []models.Candle      `json:"candles"`
	Meta    models.CanonicalMeta `json:"meta"`
}

func (h *MarketHandler) Candles(c echo.Context) error {
	start := time.Now()
	defer func() {
		svcmetrics.MarketLatency.WithLabelValues("candles").Observe(time.Since(start).Seconds())
	}()

	if !h.limiter.Allow("candles:"+c.RealIP(), rateCapacity, ratePerSecond) {
		return xhttp.ErrorResponse(c, http.StatusTooManyRequests, "ERR_RATE_LIMITED", "too many requests")
	}

	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		svcmetrics.MarketErrors.WithLabelValues("candles").Inc()
		return xhttp.BadRequestResponse(c, verr)
	}

	symbols := splitSymbols(req.Symbol, req.Watchlist)
	if len(symbols) == 0 {
		svcmetrics.MarketErrors.WithLabelValues("candles").Inc()
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbol or watchlist is required"))
	}

	key := fmt.Sprintf("candles:%s|%s|%s|%s",
		strings.Join(symbols, ","), req.Range, req.Resolution, req.Session)

	if h.shared != nil {
		if b, err := h.shared.Get(c.Request().Context(), key); err == nil {
			var cached candlesResponse
			if json.Unmarshal(b, &cached) == nil {
				svcmetrics.CacheHits.WithLabelValues("candles").Inc()
				return xhttp.SuccessResponse(c, cached)
			}
		}
	}

	v, err := h.cache.Do(key, h.ttls.Candles, func() (any, error) {
		res, err := h.svc.Candles(c.Request().Context(), usecase.CandlesQuery{
			Symbols:    symbols,
			Range:      domrepo.Range(req.Range),
			Resolution: domrepo.Resolution(req.Resolution),
			Session:    domrepo.NormalizeSession(req.Session),
		})
		if err != nil {
			return nil, err
		}
		return candlesResponse{OK: true, Candles: res.Candles, Meta: res.Meta}, nil
	})
	if err != nil {
		svcmetrics.MarketErrors.WithLabelValues("candles").Inc()
		if errors.Is(err, usecase.ErrAllSourcesFailed) {
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("no candle source available"))
		}
		h.logger.Error("candles usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	if h.shared != nil {
		if b, merr := json.Marshal(v); merr == nil {
			_ = h.shared.Set(c.Request().Context(), key, b, h.ttls.Candles)
		}
	}
	return xhttp.SuccessResponse(c, v)
}

type postureResponse struct {
	OK       bool                         `json:"ok"`
	Items    []models.IndustryPostureItem `json:"items"`
	Degraded bool                         `json:"degraded"`
}

func (h *MarketHandler) Posture(c echo.Context) error {
	start := time.Now()
	defer func() {
		svcmetrics.MarketLatency.WithLabelValues("posture").Observe(time.Since(start).Seconds())
	}()

	if !h.limiter.Allow("posture:"+c.RealIP(), rateCapacity, ratePerSecond) {
		return xhttp.ErrorResponse(c, http.StatusTooManyRequests, "ERR_RATE_LIMITED", "too many requests")
	}

	req := &models.PostureRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		svcmetrics.MarketErrors.WithLabelValues("posture").Inc()
		return xhttp.BadRequestResponse(c, verr)
	}
	watchlist := splitSymbols("", req.Watchlist)

	// The key covers every input that affects the result, the mode flag
	// included.
	key := fmt.Sprintf("posture:%s|%s|cacheOnly=%t", req.Owner, strings.Join(watchlist, ","), req.CacheOnly)

	v, err := h.cache.Do(key, h.ttls.Posture, func() (any, error) {
		items, degraded, err := h.svc.Posture(c.Request().Context(), watchlist, req.CacheOnly)
		if err != nil {
			return nil, err
		}
		return postureResponse{OK: true, Items: items, Degraded: degraded}, nil
	})
	if err != nil {
		svcmetrics.MarketErrors.WithLabelValues("posture").Inc()
		h.logger.Error("posture usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	// Classification-only responses are cached on a shorter clock so a
	// recovered provider replaces them quickly.
	if resp, ok := v.(postureResponse); ok && resp.Degraded {
		h.cache.Set(key, v, h.ttls.DegradedPosture)
	}
	return xhttp.SuccessResponse(c, v)
}

type diagnosticsResponse struct {
	OK     bool                  `json:"ok"`
	Stream models.StreamSnapshot `json:"stream"`
	Events []diag.Event          `json:"events"`
}

func (h *MarketHandler) Diagnostics(c echo.Context) error {
	return xhttp.SuccessResponse(c, diagnosticsResponse{
		OK:     true,
		Stream: h.adapter.Snapshot(),
		Events: h.events.Recent(50),
	})
}

type healthResponse struct {
	OK     bool   `json:"ok"`
	Store  string `json:"store"`
	Stream string `json:"stream"`
	Vendor string `json:"vendor"`
}

func (h *MarketHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{OK: true, Store: "up", Vendor: "up"}
	if err := h.store.Health(ctx); err != nil {
		resp.Store = "down"
	}
	resp.Stream = string(h.adapter.Snapshot().State)
	if !h.vendor.Available() {
		resp.Vendor = "circuit_open"
	}
	return xhttp.SuccessResponse(c, resp)
}

// splitSymbols merges the single-symbol and comma-separated watchlist scopes
// into one cleaned list.
func splitSymbols(symbol, watchlist string) []string {
	out := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	add(symbol)
	for _, s := range strings.Split(watchlist, ",") {
		add(s)
	}
	return out
}
