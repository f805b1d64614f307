// Package usecase implements the market-data truth layer: source
// reconciliation, composite building, and industry posture aggregation.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ChartDesk/internal/domain/models"
	"ChartDesk/internal/domain/repository"
	"ChartDesk/internal/service/diag"
	"ChartDesk/internal/service/provider"
	"ChartDesk/internal/service/session"
	applogger "ChartDesk/pkg/logger"
)

// ErrAllSourcesFailed marks a total reconcile failure: both the streaming
// cache and the REST backfill produced nothing usable.
var ErrAllSourcesFailed = errors.New("all intraday sources failed")

// Result pairs a candle series with its provenance envelope.
type Result struct {
	Candles []models.Candle
	Meta    models.CanonicalMeta
}

// Reconciler selects the intraday candle source per symbol: streaming cache
// when its coverage is trustworthy, REST backfill otherwise, degraded
// streaming when REST also fails.
type Reconciler struct {
	cache   repository.StreamCache
	vendor  repository.VendorAPI
	metrics repository.Metrics
	events  *diag.Ring
	log     *applogger.Logger

	undersupplyRatio float64
	skewToleranceMs  int64
}

func NewReconciler(cache repository.StreamCache, api repository.VendorAPI, m repository.Metrics, events *diag.Ring, log *applogger.Logger) *Reconciler {
	return &Reconciler{
		cache:            cache,
		vendor:           api,
		metrics:          m,
		events:           events,
		log:              log,
		undersupplyRatio: 0.6,
		skewToleranceMs:  60_000,
	}
}

// Reconcile resolves one symbol's intraday series for the canonical window.
// On total failure the returned Result still carries a meaningful envelope
// (source "none") so callers can render a stable no-data state.
func (r *Reconciler) Reconcile(ctx context.Context, symbol string, w session.Window) (Result, error) {
	startMs := w.Start.UnixMilli()
	endMs := w.End.UnixMilli()

	streamed, reason := r.streamingCandles(symbol, w)
	if reason == "" {
		return r.finish(symbol, w, streamed, models.SourceStreaming, false, ""), nil
	}

	if r.vendor != nil && r.vendor.Available() && provider.SupportsResolution(w.Resolution) {
		rest, err := r.vendor.Intraday(ctx, symbol, w.Resolution, startMs, endMs)
		if err == nil && len(rest) > 0 {
			return r.finish(symbol, w, rest, models.SourceRest, true, reason), nil
		}
		if err != nil && r.log != nil {
			r.log.Warn("rest backfill failed",
				applogger.String("symbol", symbol),
				applogger.Error(err))
		}
	}

	// REST failed or has no mapping; partial streaming truth beats a hard
	// failure.
	if len(streamed) > 0 {
		return r.finish(symbol, w, streamed, models.SourceStreaming, true, models.FallbackRestFallbackFailed), nil
	}

	res := r.finish(symbol, w, nil, models.SourceNone, true, models.FallbackRestFallbackFailed)
	return res, fmt.Errorf("%w: %s", ErrAllSourcesFailed, symbol)
}

// streamingCandles reads and validates the cached streaming bars. The empty
// reason means the source is viable; otherwise the reason names the first
// disqualifier.
func (r *Reconciler) streamingCandles(symbol string, w session.Window) ([]models.Candle, models.FallbackReason) {
	bars, sessionStartMs, err := r.cache.IntradayBars(symbol)
	if err != nil {
		return nil, models.FallbackWSError
	}
	if len(bars) == 0 {
		return nil, models.FallbackWSEmpty
	}

	candles := downsample(bars, w)
	if len(candles) == 0 {
		return nil, models.FallbackWSEmpty
	}

	if sessionStartMs > 0 {
		skew := sessionStartMs - w.Start.UnixMilli()
		if skew < 0 {
			skew = -skew
		}
		if skew > r.skewToleranceMs {
			return candles, models.FallbackWSWindowMismatch
		}
	}
	if float64(len(candles))/float64(w.ExpectedBars) < r.undersupplyRatio {
		return candles, models.FallbackWSUndersupplied
	}
	return candles, ""
}

func (r *Reconciler) finish(symbol string, w session.Window, candles []models.Candle, source models.Source, fallback bool, reason models.FallbackReason) Result {
	meta := models.CanonicalMeta{
		Source:         source,
		ExpectedBars:   w.ExpectedBars,
		ReceivedBars:   len(candles),
		FallbackUsed:   fallback,
		FallbackReason: reason,
		Window:         w.Model(),
	}
	if fallback && r.metrics != nil {
		r.metrics.RecordFallback(string(reason))
	}
	if r.events != nil {
		r.events.Add(diag.Event{
			At:           time.Now(),
			Symbol:       symbol,
			Source:       string(source),
			FallbackUsed: fallback,
			Reason:       string(reason),
			ExpectedBars: meta.ExpectedBars,
			ReceivedBars: meta.ReceivedBars,
		})
	}
	return Result{Candles: candles, Meta: meta}
}

// downsample folds cached minute bars into the window's resolution, aligned
// to the window start, keeping only bars inside [start, end).
func downsample(bars []models.StreamBar, w session.Window) []models.Candle {
	startMs := w.Start.UnixMilli()
	endMs := w.End.UnixMilli()
	resMs := int64(w.Resolution.Minutes()) * 60_000
	if resMs <= 0 {
		resMs = 60_000
	}

	out := make([]models.Candle, 0, len(bars))
	for _, b := range bars {
		if b.Start < startMs || b.Start >= endMs {
			continue
		}
		bucket := startMs + (b.Start-startMs)/resMs*resMs
		if n := len(out); n > 0 && out[n-1].Time == bucket {
			c := &out[n-1]
			if b.High > c.High {
				c.High = b.High
			}
			if b.Low < c.Low {
				c.Low = b.Low
			}
			c.Close = b.Close
			c.Volume += b.Volume
			continue
		}
		out = append(out, models.Candle{
			Time:   bucket,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	return out
}
