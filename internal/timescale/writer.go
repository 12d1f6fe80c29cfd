package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"okx-funding-bot/internal/config"
	"okx-funding-bot/internal/market"
	"okx-funding-bot/internal/strategy"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Writer mirrors snapshots and trade events into Postgres/TimescaleDB. Writes
// are synchronous and idempotent so a replayed cycle does not duplicate rows.
type Writer struct {
	db     *sql.DB
	log    *zap.Logger
	schema string
}

// New returns nil when the sink is disabled; a nil *Writer is a no-op.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema, err := schemaName(cfg.Schema)
	if err != nil {
		return nil, err
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
	if log == nil {
		log = zap.NewNop()
	}
	writer := &Writer{db: db, log: log, schema: schema}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func schemaName(raw string) (string, error) {
	schema := strings.TrimSpace(raw)
	if schema == "" {
		return "public", nil
	}
	if !identPattern.MatchString(schema) {
		return "", fmt.Errorf("invalid timescale schema %q", raw)
	}
	return schema, nil
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		inst_id TEXT NOT NULL,
		price NUMERIC NOT NULL,
		funding_rate NUMERIC NOT NULL,
		open_interest NUMERIC,
		open_interest_usd NUMERIC,
		next_funding_time TIMESTAMPTZ,
		PRIMARY KEY (ts, inst_id)
	)`, w.table("funding_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		kind TEXT NOT NULL,
		side TEXT NOT NULL,
		price NUMERIC NOT NULL,
		size NUMERIC NOT NULL,
		funding_rate NUMERIC NOT NULL,
		reason TEXT NOT NULL,
		realized_pnl NUMERIC,
		pnl_pct NUMERIC,
		balance_after NUMERIC,
		PRIMARY KEY (id, ts)
	)`, w.table("paper_trades"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"funding_snapshots", "paper_trades"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) WriteSnapshot(ctx context.Context, snap market.Snapshot) error {
	if w == nil || w.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	var next any
	if !snap.NextFundingTime.IsZero() {
		next = snap.NextFundingTime
	}
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, inst_id, price, funding_rate, open_interest, open_interest_usd, next_funding_time
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (ts, inst_id) DO NOTHING`, w.table("funding_snapshots"))
	_, err := w.db.ExecContext(ctx, query,
		snap.Timestamp,
		snap.InstID,
		snap.Price,
		snap.FundingRate,
		snap.OpenInterest,
		snap.OpenInterestUSD,
		next,
	)
	return err
}

func (w *Writer) WriteTrade(ctx context.Context, ev strategy.TradeEvent) error {
	if w == nil || w.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		id, ts, kind, side, price, size, funding_rate, reason, realized_pnl, pnl_pct, balance_after
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (id, ts) DO NOTHING`, w.table("paper_trades"))
	_, err := w.db.ExecContext(ctx, query,
		ev.ID,
		ev.Timestamp,
		string(ev.Kind),
		string(ev.Side),
		ev.Price,
		ev.Size,
		ev.FundingRate,
		string(ev.Reason),
		ev.RealizedPnL,
		ev.PnLPct,
		ev.BalanceAfter,
	)
	return err
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
