package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ChartDesk/internal/domain/models"
	pkgch "ChartDesk/pkg/clickhouse"
	applogger "ChartDesk/pkg/logger"
)

// Schema returns the DDL applied at startup.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS daily_candles (
			symbol String,
			day String,
			ts DateTime64(3),
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64
		) ENGINE = ReplacingMergeTree
		ORDER BY (symbol, day, ts)`,
		`CREATE TABLE IF NOT EXISTS minute_bars (
			symbol String,
			start DateTime64(3),
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64
		) ENGINE = ReplacingMergeTree
		ORDER BY (symbol, start)`,
	}
}

// CHTickWriter persists minute aggregates from the ingestion pipeline.
type CHTickWriter struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHTickWriter(ch *pkgch.Client, l *applogger.Logger) *CHTickWriter {
	return &CHTickWriter{db: ch.DB(), l: l}
}

// WriteBar stores one minute aggregate. ReplacingMergeTree folds repeated
// writes of the same (symbol, start).
func (w *CHTickWriter) WriteBar(ctx context.Context, bar *models.StreamBar) error {
	const q = `INSERT INTO minute_bars (symbol, start, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := w.db.ExecContext(ctx, q,
		bar.Symbol, time.UnixMilli(bar.Start), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	if err != nil {
		if w.l != nil {
			w.l.Error("minute bar insert",
				applogger.String("symbol", bar.Symbol),
				applogger.Error(err))
		}
		return fmt.Errorf("write bar: %w", err)
	}
	return nil
}

func (w *CHTickWriter) Close() error { return nil }
