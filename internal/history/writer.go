package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/funding"
	"funding-arb-bot/internal/hedge"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// FundingRecord is one normalized funding observation as persisted.
type FundingRecord struct {
	Time     time.Time
	Venue    string
	Symbol   string
	Rate8h   float64
	RawRate  float64
	Interval time.Duration
}

// Writer streams funding samples, edge snapshots and hedge attempts
// into TimescaleDB for offline analysis. Writes are asynchronous and
// lossy under backpressure: a full queue drops records rather than
// stalling the trading loop.
type Writer struct {
	db       *sql.DB
	log      *zap.Logger
	schema   string
	fundings chan FundingRecord
	edges    chan funding.EdgeSnapshot
	attempts chan hedge.Attempt
	started  atomic.Bool
	dropped  atomic.Uint64
}

// New returns nil when history is disabled; a nil Writer accepts and
// discards every enqueue.
func New(cfg config.HistoryConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("history dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		db:       db,
		log:      log,
		schema:   schema,
		fundings: make(chan FundingRecord, queueSize),
		edges:    make(chan funding.EdgeSnapshot, queueSize),
		attempts: make(chan hedge.Attempt, queueSize),
	}
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueFunding(rec FundingRecord) {
	if w == nil {
		return
	}
	select {
	case w.fundings <- rec:
	default:
		w.noteDrop()
	}
}

func (w *Writer) EnqueueEdge(snap funding.EdgeSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.edges <- snap:
	default:
		w.noteDrop()
	}
}

func (w *Writer) EnqueueAttempt(attempt hedge.Attempt) {
	if w == nil {
		return
	}
	select {
	case w.attempts <- attempt:
	default:
		w.noteDrop()
	}
}

func (w *Writer) noteDrop() {
	if w.dropped.Add(1) == 1 && w.log != nil {
		w.log.Warn("history queue full, dropping records")
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-w.fundings:
			w.writeFunding(ctx, rec)
		case snap := <-w.edges:
			w.writeEdge(ctx, snap)
		case attempt := <-w.attempts:
			w.writeAttempt(ctx, attempt)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("history db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		venue TEXT NOT NULL,
		symbol TEXT NOT NULL,
		rate_8h DOUBLE PRECISION NOT NULL,
		raw_rate DOUBLE PRECISION NOT NULL,
		interval_seconds BIGINT NOT NULL,
		PRIMARY KEY (ts, venue, symbol)
	)`, w.table("funding_samples"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		venue_a TEXT NOT NULL,
		venue_b TEXT NOT NULL,
		rate_a DOUBLE PRECISION NOT NULL,
		rate_b DOUBLE PRECISION NOT NULL,
		edge_bps DOUBLE PRECISION NOT NULL,
		stale BOOLEAN NOT NULL,
		PRIMARY KEY (ts, symbol)
	)`, w.table("edge_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		state TEXT NOT NULL,
		venue_a TEXT NOT NULL,
		venue_b TEXT NOT NULL,
		size_a DOUBLE PRECISION NOT NULL,
		size_b DOUBLE PRECISION NOT NULL,
		price_a DOUBLE PRECISION NOT NULL,
		price_b DOUBLE PRECISION NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`, w.table("hedge_attempts"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescaledb extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{"funding_samples", "edge_snapshots", "hedge_attempts"} {
		column := "ts"
		if table == "hedge_attempts" {
			column = "started_at"
		}
		query := fmt.Sprintf("SELECT create_hypertable('%s', '%s', if_not_exists => TRUE)", w.table(table), column)
		if err := w.exec(ctx, query); err != nil && w.log != nil {
			w.log.Warn("hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeFunding(ctx context.Context, rec FundingRecord) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, venue, symbol, rate_8h, raw_rate, interval_seconds)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (ts, venue, symbol) DO NOTHING`, w.table("funding_samples"))
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time, rec.Venue, rec.Symbol, rec.Rate8h, rec.RawRate, int64(rec.Interval.Seconds()),
	); err != nil && w.log != nil {
		w.log.Warn("funding sample insert failed", zap.Error(err))
	}
}

func (w *Writer) writeEdge(ctx context.Context, snap funding.EdgeSnapshot) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, symbol, venue_a, venue_b, rate_a, rate_b, edge_bps, stale)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (ts, symbol) DO NOTHING`, w.table("edge_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.ComputedAt, snap.Symbol, snap.VenueA, snap.VenueB, snap.RateA, snap.RateB, snap.EdgeBps, snap.Stale,
	); err != nil && w.log != nil {
		w.log.Warn("edge snapshot insert failed", zap.Error(err))
	}
}

func (w *Writer) writeAttempt(ctx context.Context, attempt hedge.Attempt) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		started_at, ended_at, symbol, state, venue_a, venue_b, size_a, size_b, price_a, price_b, error
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, w.table("hedge_attempts"))
	if _, err := w.db.ExecContext(ctx, query,
		attempt.StartedAt,
		attempt.EndedAt,
		attempt.Symbol,
		string(attempt.State),
		attempt.LegA.Venue,
		attempt.LegB.Venue,
		attempt.ResultA.FilledSize,
		attempt.ResultB.FilledSize,
		attempt.ResultA.AvgPrice,
		attempt.ResultB.AvgPrice,
		attempt.Err,
	); err != nil && w.log != nil {
		w.log.Warn("hedge attempt insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
