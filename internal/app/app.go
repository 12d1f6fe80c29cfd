package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"okx-funding-bot/internal/alerts"
	"okx-funding-bot/internal/config"
	"okx-funding-bot/internal/history"
	"okx-funding-bot/internal/market"
	"okx-funding-bot/internal/metrics"
	"okx-funding-bot/internal/okx/rest"
	"okx-funding-bot/internal/state"
	"okx-funding-bot/internal/state/file"
	"okx-funding-bot/internal/state/sqlite"
	"okx-funding-bot/internal/strategy"
	"okx-funding-bot/internal/timescale"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Mode selects which halves of the cycle a process runs.
type Mode string

const (
	ModeCrawler Mode = "crawler"
	ModeTrader  Mode = "trader"
	ModeBoth    Mode = "both"
)

func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeCrawler, ModeTrader, ModeBoth:
		return m, nil
	case "":
		return ModeBoth, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want crawler, trader or both)", raw)
	}
}

func (m Mode) crawls() bool { return m == ModeCrawler || m == ModeBoth }
func (m Mode) trades() bool { return m == ModeTrader || m == ModeBoth }

type snapshotSource interface {
	Fetch(ctx context.Context) (market.Snapshot, error)
}

type snapshotRecorder interface {
	Append(snap market.Snapshot) error
	Close() error
}

type tradeRecorder interface {
	Append(ev strategy.TradeEvent) (bool, error)
	Close() error
}

type tradeNotifier interface {
	NotifyTrade(ctx context.Context, ev strategy.TradeEvent) error
}

type mirror interface {
	WriteSnapshot(ctx context.Context, snap market.Snapshot) error
	WriteTrade(ctx context.Context, ev strategy.TradeEvent) error
	Close() error
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	mode      Mode
	source    snapshotSource
	store     state.Store
	snapshots snapshotRecorder
	trades    tradeRecorder
	params    strategy.Params
	starting  decimal.Decimal
	machine   *strategy.Machine
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    tradeNotifier
	timescale mirror
	server    *http.Server
	closeOnce sync.Once
}

func New(cfg *config.Config, mode Mode, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		log:      log,
		mode:     mode,
		params:   strategy.ParamsFromConfig(cfg.Strategy),
		starting: decimal.NewFromFloat(cfg.Strategy.StartingBalance),
		metrics:  metrics.NewNoop(),
		alerts:   alerts.NewTelegram(cfg.Telegram, cfg.OKX.InstID, log),
	}
	if cfg.Metrics.EnabledValue() {
		a.prom = metrics.NewPrometheus()
		a.metrics = a.prom.Metrics
	}

	client := rest.New(cfg.OKX.BaseURL, cfg.OKX.Timeout, log)
	fetcher := market.NewFetcher(client, cfg.OKX.InstID, cfg.OKX.IncludeOpenInterest, market.RetryPolicy{
		MaxRetries: cfg.Fetch.MaxRetries,
		Backoff:    cfg.Fetch.RetryBackoff,
		MaxBackoff: cfg.Fetch.MaxBackoff,
	}, log)
	fetcher.OnRetry(func(int, error) { a.metrics.FetchRetries.Inc() })
	a.source = fetcher

	if mode.crawls() {
		snapshots, err := history.OpenSnapshotLog(cfg.History.SnapshotsPath)
		if err != nil {
			return nil, fmt.Errorf("open snapshot history: %w", err)
		}
		a.snapshots = snapshots
	}
	if mode.trades() {
		store, err := OpenStore(cfg.State)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open state store: %w", err)
		}
		a.store = store
		journal, err := history.OpenTradeJournal(cfg.History.TradesPath)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open trade journal: %w", err)
		}
		a.trades = journal
	}

	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		a.log.Warn("timescale disabled", zap.Error(err))
	} else if writer != nil {
		a.timescale = writer
	}
	if cfg.Metrics.EnabledValue() {
		a.server = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           a.router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

// OpenStore opens the configured paper state backend.
func OpenStore(cfg config.StateConfig) (state.Store, error) {
	switch cfg.Backend {
	case config.StateBackendSQLite:
		return sqlite.New(cfg.SQLitePath)
	default:
		return file.New(cfg.Dir)
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()
	stopServer := a.startServer()
	defer stopServer()

	a.log.Info("poll loop starting",
		zap.String("mode", string(a.mode)),
		zap.String("inst_id", a.cfg.OKX.InstID),
		zap.Duration("interval", a.cfg.Poll.Interval),
	)
	if err := a.cycle(ctx); err != nil {
		if errors.Is(err, strategy.ErrInvariant) {
			return err
		}
		a.log.Warn("cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(a.cfg.Poll.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.log.Info("poll loop stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := a.cycle(ctx); err != nil {
				if errors.Is(err, strategy.ErrInvariant) {
					return err
				}
				a.log.Warn("cycle failed", zap.Error(err))
			}
		}
	}
}

// cycle runs one fetch and hands the snapshot to the enabled halves. Writes
// run on a context that survives cancellation so shutdown never cuts them.
func (a *App) cycle(ctx context.Context) error {
	snap, err := a.source.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.metrics.FetchFailed.Inc()
		a.log.Warn("snapshot fetch failed, skipping cycle",
			zap.Error(err),
			zap.Bool("malformed", errors.Is(err, market.ErrMalformed)),
		)
		return nil
	}
	a.metrics.SnapshotsFetched.Inc()
	a.metrics.FundingRate.Set(snap.FundingRate.InexactFloat64())
	a.log.Debug("snapshot fetched",
		zap.Time("ts", snap.Timestamp),
		zap.Stringer("price", snap.Price),
		zap.Stringer("funding_rate", snap.FundingRate),
	)

	persistCtx := context.WithoutCancel(ctx)
	if a.mode.crawls() {
		a.record(persistCtx, snap)
	}
	if a.mode.trades() {
		return a.trade(persistCtx, snap)
	}
	return nil
}

func (a *App) record(ctx context.Context, snap market.Snapshot) {
	if a.snapshots != nil {
		switch err := a.snapshots.Append(snap); {
		case errors.Is(err, history.ErrNotIncreasing):
			a.log.Debug("duplicate snapshot skipped", zap.Time("ts", snap.Timestamp))
		case err != nil:
			a.log.Warn("history append failed", zap.Error(err))
		default:
			a.metrics.HistoryAppended.Inc()
		}
	}
	if a.timescale != nil {
		if err := a.timescale.WriteSnapshot(ctx, snap); err != nil {
			a.log.Warn("timescale snapshot write failed", zap.Error(err))
		}
	}
}

func (a *App) trade(ctx context.Context, snap market.Snapshot) error {
	if err := a.ensureMachine(ctx); err != nil {
		return err
	}
	a.flushPending(ctx)
	if !a.machine.Accepts(snap.Timestamp) {
		a.log.Debug("stale snapshot ignored", zap.Time("ts", snap.Timestamp))
		return nil
	}

	current := a.machine.Snapshot()
	decision := strategy.Evaluate(snap, current.Position, a.params)
	if a.closeRequested(ctx, current.Position != nil) && !decision.Closes() {
		decision = strategy.DecisionCloseManual
	}

	tr, err := a.machine.Step(decision, snap)
	if err != nil {
		return fmt.Errorf("step %s: %w", decision, err)
	}
	if !tr.Changed() {
		a.machine.Commit(tr)
		a.updateGauges(snap)
		return nil
	}
	if err := state.SavePaperState(ctx, a.store, tr.Next); err != nil {
		a.metrics.PersistFailed.Inc()
		return fmt.Errorf("persist %s: %w", decision, err)
	}
	a.machine.Commit(tr)
	ev := *tr.Event
	a.logTrade(ev)
	if decision.Opens() {
		a.metrics.PositionsOpened.Inc()
	} else {
		a.metrics.PositionsClosed.Inc()
	}
	if decision.Closes() {
		if err := state.ClearCloseRequest(ctx, a.store); err != nil {
			a.log.Warn("close request clear failed", zap.Error(err))
		}
	}
	a.flushPending(ctx)
	if a.timescale != nil {
		if err := a.timescale.WriteTrade(ctx, ev); err != nil {
			a.log.Warn("timescale trade write failed", zap.Error(err))
		}
	}
	if a.alerts != nil {
		_ = a.alerts.NotifyTrade(ctx, ev)
	}
	a.updateGauges(snap)
	return nil
}

func (a *App) ensureMachine(ctx context.Context) error {
	if a.machine != nil {
		return nil
	}
	ps, ok, err := state.LoadPaperState(ctx, a.store)
	if err != nil {
		return fmt.Errorf("load paper state: %w", err)
	}
	if !ok {
		ps = strategy.NewPaperState(a.starting)
		a.log.Info("no saved paper state, starting flat", zap.Stringer("balance", a.starting))
	} else {
		a.log.Info("paper state restored",
			zap.String("state", string(ps.State())),
			zap.Stringer("balance", ps.Account.Balance),
			zap.Int("pending_trades", len(ps.PendingTrades)),
		)
	}
	a.machine = strategy.NewMachine(a.params, ps)
	return nil
}

// closeRequested reports whether an operator close request applies to this
// cycle. A request seen while flat is stale and removed.
func (a *App) closeRequested(ctx context.Context, open bool) bool {
	req, ok, err := state.LoadCloseRequest(ctx, a.store)
	if err != nil {
		a.log.Warn("close request read failed", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if !open {
		a.log.Info("close request ignored while flat", zap.Time("requested_at", req.RequestedAt))
		if err := state.ClearCloseRequest(ctx, a.store); err != nil {
			a.log.Warn("close request clear failed", zap.Error(err))
		}
		return false
	}
	a.log.Info("operator close requested", zap.Time("requested_at", req.RequestedAt), zap.String("reason", req.Reason))
	return true
}

// flushPending moves committed trade events into the journal. Events the
// journal already holds are acknowledged without a second write.
func (a *App) flushPending(ctx context.Context) {
	pending := a.machine.Snapshot().PendingTrades
	if len(pending) == 0 || a.trades == nil {
		return
	}
	delivered := make([]string, 0, len(pending))
	for _, ev := range pending {
		if _, err := a.trades.Append(ev); err != nil {
			a.metrics.TradeAppendFailed.Inc()
			a.log.Warn("trade journal append failed, will retry",
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
			break
		}
		delivered = append(delivered, ev.ID)
	}
	if len(delivered) == 0 {
		return
	}
	tr := a.machine.Settle(delivered)
	if err := state.SavePaperState(ctx, a.store, tr.Next); err != nil {
		a.metrics.PersistFailed.Inc()
		a.log.Warn("pending trade settle not persisted", zap.Error(err))
		return
	}
	a.machine.Commit(tr)
}

func (a *App) logTrade(ev strategy.TradeEvent) {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.String("side", string(ev.Side)),
		zap.String("reason", string(ev.Reason)),
		zap.Stringer("price", ev.Price),
		zap.Stringer("size", ev.Size),
		zap.Stringer("funding_rate", ev.FundingRate),
	}
	if ev.RealizedPnL != nil {
		fields = append(fields, zap.Stringer("realized_pnl", *ev.RealizedPnL))
	}
	if ev.BalanceAfter != nil {
		fields = append(fields, zap.Stringer("balance", *ev.BalanceAfter))
	}
	a.log.Info("paper trade", fields...)
}

func (a *App) updateGauges(snap market.Snapshot) {
	ps := a.machine.Snapshot()
	a.metrics.Balance.Set(ps.Account.Balance.InexactFloat64())
	if ps.Position == nil {
		a.metrics.PositionOpen.Set(0)
		a.metrics.UnrealizedPnLPct.Set(0)
		return
	}
	side := 1.0
	if ps.Position.Side == strategy.SideLong {
		side = -1
	}
	a.metrics.PositionOpen.Set(side)
	a.metrics.UnrealizedPnLPct.Set(strategy.UnrealizedPnLPct(*ps.Position, snap.Price).InexactFloat64())
}

func (a *App) close() {
	a.closeOnce.Do(a.release)
}

func (a *App) release() {
	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			a.log.Warn("snapshot history close failed", zap.Error(err))
		}
	}
	if a.trades != nil {
		if err := a.trades.Close(); err != nil {
			a.log.Warn("trade journal close failed", zap.Error(err))
		}
	}
	if a.timescale != nil {
		_ = a.timescale.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
