package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ChartDesk/internal/domain/models"
	"ChartDesk/internal/domain/repository"
	"ChartDesk/internal/service/calendar"
	"ChartDesk/internal/service/session"
	"ChartDesk/pkg/config"
	applogger "ChartDesk/pkg/logger"
)

// CandlesQuery is a resolved historical candle request. Symbols holds one
// entry for a single-symbol query or the watchlist constituents for a
// composite.
type CandlesQuery struct {
	Symbols    []string
	Range      repository.Range
	Resolution repository.Resolution
	Session    repository.Session
}

// ServiceDeps wires the market service's collaborators.
type ServiceDeps struct {
	Store      repository.CandleStore
	Vendor     repository.VendorAPI
	Windows    *session.Computer
	Reconciler *Reconciler
	Aggregator *PostureAggregator
	Calendar   *calendar.Calendar
	Log        *applogger.Logger
	Groups     []config.IndustryGroup
	IndexProxy string
	FanOut     int
	Timeout    time.Duration
}

// Service is the market-data truth layer behind the HTTP handlers.
type Service struct {
	deps ServiceDeps
	now  func() time.Time
}

func NewService(deps ServiceDeps) *Service {
	if deps.FanOut <= 0 {
		deps.FanOut = 8
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 8 * time.Second
	}
	return &Service{deps: deps, now: time.Now}
}

// Candles resolves a historical candle query: intraday resolutions go through
// source reconciliation, durable resolutions through the row store, and
// multi-symbol queries are fused into a composite.
func (s *Service) Candles(ctx context.Context, q CandlesQuery) (Result, error) {
	if len(q.Symbols) == 0 {
		return Result{}, fmt.Errorf("candles: no symbols in scope")
	}
	w := s.deps.Windows.ComputeWindow(s.now(), q.Range, q.Resolution, q.Session)

	if len(q.Symbols) == 1 {
		return s.fetchOne(ctx, q.Symbols[0], w)
	}
	return s.fetchComposite(ctx, q.Symbols, w)
}

func (s *Service) fetchOne(ctx context.Context, symbol string, w session.Window) (Result, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
	defer cancel()

	if w.Resolution.Intraday() {
		return s.deps.Reconciler.Reconcile(fetchCtx, symbol, w)
	}
	series, err := s.durableSeries(fetchCtx, []string{symbol}, w)
	if err != nil {
		return Result{}, err
	}
	candles := series[symbol]
	return Result{
		Candles: candles,
		Meta: models.CanonicalMeta{
			Source:       models.SourceStore,
			ExpectedBars: w.ExpectedBars,
			ReceivedBars: len(candles),
			Window:       w.Model(),
		},
	}, nil
}

// fetchComposite joins all constituent fetches before aggregating; partial
// arrival never produces a partial composite. Individual symbols that fail
// every source tier are excluded rather than failing the basket.
func (s *Service) fetchComposite(ctx context.Context, symbols []string, w session.Window) (Result, error) {
	series := make(map[string][]models.Candle, len(symbols))
	anyFallback := false

	if w.Resolution.Intraday() {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.deps.FanOut)
		for _, symbol := range symbols {
			symbol := symbol
			g.Go(func() error {
				fetchCtx, cancel := context.WithTimeout(gctx, s.deps.Timeout)
				defer cancel()
				res, err := s.deps.Reconciler.Reconcile(fetchCtx, symbol, w)
				if err != nil {
					// Fully failed constituents drop out of the basket.
					return nil
				}
				mu.Lock()
				if len(res.Candles) > 0 {
					series[symbol] = res.Candles
				}
				anyFallback = anyFallback || res.Meta.FallbackUsed
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Result{}, err
		}
	} else {
		fetchCtx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
		defer cancel()
		fetched, err := s.durableSeries(fetchCtx, symbols, w)
		if err != nil {
			return Result{}, err
		}
		for sym, candles := range fetched {
			if len(candles) > 0 {
				series[sym] = candles
			}
		}
	}

	if len(series) == 0 {
		return Result{
			Meta: models.CanonicalMeta{
				Source:       models.SourceNone,
				ExpectedBars: w.ExpectedBars,
				FallbackUsed: true,
				Window:       w.Model(),
			},
		}, fmt.Errorf("%w: composite of %d symbols", ErrAllSourcesFailed, len(symbols))
	}

	comp := BuildComposite(series)
	return Result{
		Candles: comp,
		Meta: models.CanonicalMeta{
			Source:       models.SourceComposite,
			ExpectedBars: w.ExpectedBars,
			ReceivedBars: len(comp),
			FallbackUsed: anyFallback,
			Window:       w.Model(),
		},
	}, nil
}

// durableSeries reads day-level series and trims them to the window's day
// span. Day-key comparison avoids clock-of-day artifacts from midday anchors.
func (s *Service) durableSeries(ctx context.Context, symbols []string, w session.Window) (map[string][]models.Candle, error) {
	fetched, err := s.deps.Store.FetchDailySeries(ctx, symbols, w.Start)
	if err != nil {
		return nil, fmt.Errorf("durable series: %w", err)
	}

	startKey := s.deps.Calendar.DayKeyFromTimestamp(w.Start.UnixMilli())
	endKey := s.deps.Calendar.DayKeyFromTimestamp(w.End.UnixMilli())
	for sym, candles := range fetched {
		kept := candles[:0]
		for _, c := range candles {
			key := s.deps.Calendar.DayKeyFromTimestamp(c.Time)
			if key >= startKey && key <= endKey {
				kept = append(kept, c)
			}
		}
		fetched[sym] = kept
	}
	return fetched, nil
}

// Posture computes the cross-sectional industry posture for a watchlist
// scope. degraded reports the classification-only mode, used when the
// cache-only flag is set, the provider circuit is open, or the store is
// unreachable.
func (s *Service) Posture(ctx context.Context, watchlist []string, cacheOnly bool) (items []models.IndustryPostureItem, degraded bool, err error) {
	groups := s.scopedGroups(watchlist)
	if len(groups) == 0 {
		return nil, false, fmt.Errorf("posture: no industries in scope")
	}
	if cacheOnly || (s.deps.Vendor != nil && !s.deps.Vendor.Available()) {
		return s.deps.Aggregator.DegradedPosture(groups), true, nil
	}

	symbols := make([]string, 0, 64)
	for _, g := range groups {
		symbols = append(symbols, g.Symbols...)
	}
	symbols = append(symbols, s.deps.IndexProxy)

	fetchCtx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
	defer cancel()

	// 11 session anchors need roughly 3 calendar weeks; fetch a cushion.
	start := s.now().AddDate(0, 0, -35)
	series, err := s.deps.Store.FetchDailySeries(fetchCtx, symbols, start)
	if err != nil {
		if s.deps.Log != nil {
			s.deps.Log.Warn("posture store fetch failed, serving degraded", applogger.Error(err))
		}
		return s.deps.Aggregator.DegradedPosture(groups), true, nil
	}

	indexSeries := series[s.deps.IndexProxy]
	if len(indexSeries) == 0 {
		return s.deps.Aggregator.DegradedPosture(groups), true, nil
	}
	return s.deps.Aggregator.ComputePosture(groups, series, indexSeries), false, nil
}

// scopedGroups filters the configured industry groups down to a watchlist.
// An empty watchlist means the full configured universe.
func (s *Service) scopedGroups(watchlist []string) []config.IndustryGroup {
	if len(watchlist) == 0 {
		return s.deps.Groups
	}
	inScope := make(map[string]struct{}, len(watchlist))
	for _, sym := range watchlist {
		inScope[sym] = struct{}{}
	}
	out := make([]config.IndustryGroup, 0, len(s.deps.Groups))
	for _, g := range s.deps.Groups {
		kept := make([]string, 0, len(g.Symbols))
		for _, sym := range g.Symbols {
			if _, ok := inScope[sym]; ok {
				kept = append(kept, sym)
			}
		}
		if len(kept) > 0 {
			out = append(out, config.IndustryGroup{Code: g.Code, Abbrev: g.Abbrev, Symbols: kept})
		}
	}
	return out
}
