// Command ctl inspects and steers the paper trader through its state and
// journal files. It never talks to a running bot process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"okx-funding-bot/internal/app"
	"okx-funding-bot/internal/config"
	"okx-funding-bot/internal/history"
	"okx-funding-bot/internal/market"
	"okx-funding-bot/internal/state"
	"okx-funding-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

const usage = `usage: ctl [-config path] <command> [flags]

commands:
  status      show position, balance and pending operator requests
  close       ask the trader to close the open position on its next cycle
  history     list recent trade events
  stats       summarise closed trades
  snapshots   print recent snapshot history rows as CSV
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("ctl", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	configPath := global.String("config", "config.example.yaml", "path to config file")
	if err := global.Parse(args); err != nil {
		return errUsage
	}
	rest := global.Args()
	if len(rest) == 0 {
		return errUsage
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "status":
		return runStatus(ctx, cfg, out)
	case "close":
		return runClose(ctx, cfg, cmdArgs, out)
	case "history":
		return runHistory(cfg, cmdArgs, out)
	case "stats":
		return runStats(cfg, out)
	case "snapshots":
		return runSnapshots(cfg, cmdArgs, out)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func withStore(cfg *config.Config, fn func(state.Store) error) error {
	store, err := app.OpenStore(cfg.State)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func loadPaper(ctx context.Context, cfg *config.Config, store state.Store) (strategy.PaperState, error) {
	ps, ok, err := state.LoadPaperState(ctx, store)
	if err != nil {
		return strategy.PaperState{}, err
	}
	if !ok {
		return strategy.NewPaperState(decimal.NewFromFloat(cfg.Strategy.StartingBalance)), nil
	}
	return ps, nil
}

func runStatus(ctx context.Context, cfg *config.Config, out io.Writer) error {
	return withStore(cfg, func(store state.Store) error {
		ps, err := loadPaper(ctx, cfg, store)
		if err != nil {
			return err
		}
		req, pending, err := state.LoadCloseRequest(ctx, store)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "instrument\t%s\n", cfg.OKX.InstID)
		fmt.Fprintf(tw, "state\t%s\n", ps.State())
		fmt.Fprintf(tw, "balance\t%s\n", ps.Account.Balance.StringFixed(4))
		if !ps.LastSnapshotAt.IsZero() {
			fmt.Fprintf(tw, "last snapshot\t%s\n", ps.LastSnapshotAt.Format(time.RFC3339))
		}
		if pos := ps.Position; pos != nil {
			fmt.Fprintf(tw, "side\t%s\n", pos.Side)
			fmt.Fprintf(tw, "entry price\t%s\n", pos.EntryPrice.String())
			fmt.Fprintf(tw, "entry time\t%s\n", pos.EntryTime.Format(time.RFC3339))
			fmt.Fprintf(tw, "size\t%s\n", pos.Size.String())
			if last, ok := lastSnapshot(cfg.History.SnapshotsPath); ok {
				pnl := strategy.UnrealizedPnLPct(*pos, last.Price)
				fmt.Fprintf(tw, "mark price\t%s (%s)\n", last.Price.String(), last.Timestamp.Format(time.RFC3339))
				fmt.Fprintf(tw, "unrealized pnl\t%s%%\n", pnl.StringFixed(2))
			}
		}
		if n := len(ps.PendingTrades); n > 0 {
			fmt.Fprintf(tw, "pending trades\t%d\n", n)
		}
		if pending {
			fmt.Fprintf(tw, "close requested\t%s\n", req.RequestedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	})
}

func lastSnapshot(path string) (market.Snapshot, bool) {
	snaps, err := history.ReadSnapshots(path)
	if err != nil || len(snaps) == 0 {
		return market.Snapshot{}, false
	}
	return snaps[len(snaps)-1], true
}

func runClose(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fset := flag.NewFlagSet("close", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	reason := fset.String("reason", "", "note stored with the request")
	if err := fset.Parse(args); err != nil {
		return errUsage
	}
	return withStore(cfg, func(store state.Store) error {
		ps, err := loadPaper(ctx, cfg, store)
		if err != nil {
			return err
		}
		if ps.Position == nil {
			return errors.New("no open position")
		}
		req := state.CloseRequest{RequestedAt: time.Now().UTC(), Reason: strings.TrimSpace(*reason)}
		if err := state.SaveCloseRequest(ctx, store, req); err != nil {
			return err
		}
		fmt.Fprintf(out, "close requested for %s %s position; the trader applies it on its next cycle\n",
			ps.Position.Side, cfg.OKX.InstID)
		return nil
	})
}

func readTrades(path string) ([]strategy.TradeEvent, error) {
	events, err := history.ReadTrades(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return events, err
}

func runHistory(cfg *config.Config, args []string, out io.Writer) error {
	fset := flag.NewFlagSet("history", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	limit := fset.Int("n", 20, "number of events to show")
	if err := fset.Parse(args); err != nil || *limit <= 0 {
		return errUsage
	}
	events, err := readTrades(cfg.History.TradesPath)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "no trades yet")
		return nil
	}
	if len(events) > *limit {
		events = events[len(events)-*limit:]
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tSIDE\tREASON\tPRICE\tSIZE\tFUNDING %\tPNL\tPNL %\tBALANCE")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.Format(time.RFC3339),
			ev.Kind,
			ev.Side,
			ev.Reason,
			ev.Price.String(),
			ev.Size.String(),
			ev.FundingRate.Mul(decimal.NewFromInt(100)).StringFixed(4),
			optional(ev.RealizedPnL, 4),
			optional(ev.PnLPct, 2),
			optional(ev.BalanceAfter, 4),
		)
	}
	return tw.Flush()
}

func optional(v *decimal.Decimal, places int32) string {
	if v == nil {
		return "-"
	}
	return v.StringFixed(places)
}

func runStats(cfg *config.Config, out io.Writer) error {
	events, err := readTrades(cfg.History.TradesPath)
	if err != nil {
		return err
	}
	stats := history.ComputeStats(events, decimal.NewFromFloat(cfg.Strategy.StartingBalance))
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "closed trades\t%d\n", stats.ClosedTrades)
	fmt.Fprintf(tw, "wins / losses\t%d / %d\n", stats.Wins, stats.Losses)
	fmt.Fprintf(tw, "win rate\t%s%%\n", stats.WinRatePct.StringFixed(2))
	fmt.Fprintf(tw, "total pnl\t%s\n", stats.TotalPnL.StringFixed(4))
	fmt.Fprintf(tw, "average pnl\t%s\n", stats.AvgPnL.StringFixed(4))
	fmt.Fprintf(tw, "best / worst\t%s / %s\n", optional(stats.BestPnL, 4), optional(stats.WorstPnL, 4))
	fmt.Fprintf(tw, "balance\t%s -> %s\n", stats.StartingBalance.StringFixed(2), stats.FinalBalance.StringFixed(4))
	fmt.Fprintf(tw, "total return\t%s%%\n", stats.TotalReturnPct.StringFixed(2))
	return tw.Flush()
}

func runSnapshots(cfg *config.Config, args []string, out io.Writer) error {
	fset := flag.NewFlagSet("snapshots", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	limit := fset.Int("n", 20, "number of rows to print")
	if err := fset.Parse(args); err != nil || *limit <= 0 {
		return errUsage
	}
	snaps, err := history.ReadSnapshots(cfg.History.SnapshotsPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if len(snaps) > *limit {
		snaps = snaps[len(snaps)-*limit:]
	}
	return history.WriteSnapshotsCSV(out, snaps)
}
