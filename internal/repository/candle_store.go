// Package repository contains the ClickHouse-backed data access layer.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"ChartDesk/internal/domain/models"
	"ChartDesk/internal/service/calendar"
	pkgch "ChartDesk/pkg/clickhouse"
	applogger "ChartDesk/pkg/logger"
	"ChartDesk/pkg/util"
)

// projection is one candidate column shape for the daily candle table. The
// store tries them in order and keeps the first that queries cleanly, so
// schema drift upstream (short column names, missing day column) does not
// break reads.
type projection struct {
	name   string
	query  string
	hasDay bool
}

var dailyProjections = []projection{
	{
		name: "day_full",
		query: `SELECT symbol, day, toUnixTimestamp64Milli(ts) AS ts_ms, open, high, low, close, volume
			FROM daily_candles WHERE symbol IN (%s) AND day >= ? ORDER BY symbol, ts_ms`,
		hasDay: true,
	},
	{
		name: "day_short",
		query: `SELECT symbol, day, toUnixTimestamp64Milli(ts) AS ts_ms, o AS open, h AS high, l AS low, c AS close, v AS volume
			FROM daily_candles WHERE symbol IN (%s) AND day >= ? ORDER BY symbol, ts_ms`,
		hasDay: true,
	},
	{
		name: "ts_only",
		query: `SELECT symbol, '' AS day, toUnixTimestamp64Milli(ts) AS ts_ms, open, high, low, close, volume
			FROM daily_candles WHERE symbol IN (%s) AND ts >= ? ORDER BY symbol, ts_ms`,
		hasDay: false,
	},
}

// rawRow is the single consistent row shape all projections normalize into.
type rawRow struct {
	Symbol string
	Day    string
	TsMs   int64
	Open   sql.NullFloat64
	High   sql.NullFloat64
	Low    sql.NullFloat64
	Close  sql.NullFloat64
	Volume sql.NullFloat64
}

// CHCandleStore implements the durable candle store over ClickHouse.
type CHCandleStore struct {
	db       *sql.DB
	cal      *calendar.Calendar
	l        *applogger.Logger
	priceEps float64
	volEps   float64
	health   func(context.Context) error
}

func NewCHCandleStore(ch *pkgch.Client, cal *calendar.Calendar, l *applogger.Logger, priceEps, volEps float64) *CHCandleStore {
	if priceEps <= 0 {
		priceEps = 0.001
	}
	if volEps <= 0 {
		volEps = 2000
	}
	return &CHCandleStore{
		db:       ch.DB(),
		cal:      cal,
		l:        l,
		priceEps: priceEps,
		volEps:   volEps,
		health:   ch.Health,
	}
}

// FetchDailySeries reads day-level series for the symbols from startDate
// forward. Each projection is attempted in order; the first that both queries
// and scans without error wins.
func (s *CHCandleStore) FetchDailySeries(ctx context.Context, symbols []string, startDate time.Time) (map[string][]models.Candle, error) {
	if len(symbols) == 0 {
		return map[string][]models.Candle{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	args := make([]any, 0, len(symbols)+1)
	for _, sym := range symbols {
		args = append(args, sym)
	}

	var lastErr error
	for _, p := range dailyProjections {
		pArgs := args
		if p.hasDay {
			pArgs = append(pArgs, startDate.Format(calendar.DayKeyLayout))
		} else {
			pArgs = append(pArgs, startDate)
		}

		raw, err := s.queryProjection(ctx, fmt.Sprintf(p.query, placeholders), pArgs)
		if err != nil {
			lastErr = err
			if s.l != nil {
				s.l.Debug("candle projection rejected",
					applogger.String("projection", p.name),
					applogger.Error(err))
			}
			continue
		}
		return s.normalizeSeries(raw), nil
	}
	return nil, fmt.Errorf("fetch daily series: all projections failed: %w", lastErr)
}

// Health pings the underlying store.
func (s *CHCandleStore) Health(ctx context.Context) error {
	return s.health(ctx)
}

func (s *CHCandleStore) queryProjection(ctx context.Context, query string, args []any) ([]rawRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]rawRow, 0, 1024)
	for rows.Next() {
		var r rawRow
		if err := rows.Scan(&r.Symbol, &r.Day, &r.TsMs, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeSeries turns raw rows into sorted, de-duplicated per-symbol series.
// Day-key precedence: explicit day column, else the row timestamp converted
// into the exchange timezone. Candle time uses the parsed timestamp when
// valid, else the midday-UTC anchor of the derived day key. Rows without a
// close or without any usable day identity are dropped individually.
func (s *CHCandleStore) normalizeSeries(raw []rawRow) map[string][]models.Candle {
	out := make(map[string][]models.Candle)
	for _, r := range raw {
		c, ok := s.normalizeRow(r)
		if !ok {
			continue
		}
		out[r.Symbol] = append(out[r.Symbol], c)
	}
	for sym, series := range out {
		sort.Slice(series, func(i, j int) bool { return series[i].Time < series[j].Time })
		out[sym] = s.dropDuplicates(series)
	}
	return out
}

func (s *CHCandleStore) normalizeRow(r rawRow) (models.Candle, bool) {
	if !r.Close.Valid {
		return models.Candle{}, false
	}

	day := r.Day
	if day == "" {
		if r.TsMs <= 0 {
			return models.Candle{}, false
		}
		day = s.cal.DayKeyFromTimestamp(r.TsMs)
	}

	ts := r.TsMs
	if ts <= 0 {
		anchor, err := time.Parse(calendar.DayKeyLayout, day)
		if err != nil {
			return models.Candle{}, false
		}
		ts = util.MiddayUTC(anchor.Year(), anchor.Month(), anchor.Day()).UnixMilli()
	}

	c := models.Candle{
		Time:  ts,
		Close: r.Close.Float64,
	}
	if r.Open.Valid {
		c.Open = r.Open.Float64
	} else {
		c.Open = r.Close.Float64
	}
	if r.High.Valid {
		c.High = r.High.Float64
	} else {
		c.High = math.Max(c.Open, c.Close)
	}
	if r.Low.Valid {
		c.Low = r.Low.Float64
	} else {
		c.Low = math.Min(c.Open, c.Close)
	}
	if r.Volume.Valid && r.Volume.Float64 >= 0 {
		c.Volume = r.Volume.Float64
	}
	return c, true
}

// dropDuplicates removes vendor duplicate-day artifacts: a later row whose
// close and volume both sit within the configured epsilons of the row
// immediately before it in the raw series is not a real session and is
// dropped. Comparing against the raw predecessor means a chain of
// near-identical rows collapses to its first occurrence even when the
// values drift past the epsilons over the whole run.
func (s *CHCandleStore) dropDuplicates(series []models.Candle) []models.Candle {
	if len(series) < 2 {
		return series
	}
	out := make([]models.Candle, 1, len(series))
	out[0] = series[0]
	for i, c := range series[1:] {
		prev := series[i]
		if c.Time > prev.Time &&
			math.Abs(c.Close-prev.Close) <= s.priceEps &&
			math.Abs(c.Volume-prev.Volume) <= s.volEps {
			continue
		}
		out = append(out, c)
	}
	return out
}
