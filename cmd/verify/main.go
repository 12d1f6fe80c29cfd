// Command verify performs one live poll against OKX and prints the snapshot
// together with the decision the evaluator would take against the saved
// paper state. It never writes state.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"okx-funding-bot/internal/app"
	"okx-funding-bot/internal/config"
	"okx-funding-bot/internal/logging"
	"okx-funding-bot/internal/market"
	"okx-funding-bot/internal/okx/rest"
	"okx-funding-bot/internal/state"
	"okx-funding-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

const defaultVerifyEnvFile = ".env"

func main() {
	configPath := flag.String("config", "config.example.yaml", "path to config file")
	withState := flag.Bool("state", true, "evaluate against the saved paper state")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline for the poll")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(config.LoggingConfig{Level: "warn", Format: "console"})
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := rest.New(cfg.OKX.BaseURL, cfg.OKX.Timeout, log)
	fetcher := market.NewFetcher(client, cfg.OKX.InstID, cfg.OKX.IncludeOpenInterest, market.RetryPolicy{
		MaxRetries: cfg.Fetch.MaxRetries,
		Backoff:    cfg.Fetch.RetryBackoff,
		MaxBackoff: cfg.Fetch.MaxBackoff,
	}, log)
	fetcher.OnRetry(func(attempt int, err error) {
		fmt.Fprintf(os.Stderr, "retry %d: %v\n", attempt, err)
	})
	snap, err := fetcher.Fetch(ctx)
	if err != nil {
		var fe *market.FetchError
		if errors.As(err, &fe) {
			fatal(fmt.Errorf("%s after %d attempt(s): %w", fe.Kind, fe.Attempts, fe.Err))
		}
		fatal(err)
	}

	ps := strategy.NewPaperState(decimal.NewFromFloat(cfg.Strategy.StartingBalance))
	if *withState {
		loaded, err := loadPaperState(ctx, cfg)
		if err != nil {
			fatal(err)
		}
		ps = loaded
	}
	params := strategy.ParamsFromConfig(cfg.Strategy)
	out := struct {
		Snapshot       market.Snapshot   `json:"snapshot"`
		FundingRatePct decimal.Decimal   `json:"funding_rate_pct"`
		State          strategy.State    `json:"state"`
		UnrealizedPct  *decimal.Decimal  `json:"unrealized_pnl_pct,omitempty"`
		Decision       strategy.Decision `json:"decision"`
	}{
		Snapshot:       snap,
		FundingRatePct: snap.FundingRatePct(),
		State:          ps.State(),
		Decision:       strategy.Evaluate(snap, ps.Position, params),
	}
	if ps.Position != nil {
		pnl := strategy.UnrealizedPnLPct(*ps.Position, snap.Price).Round(4)
		out.UnrealizedPct = &pnl
	}
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(pretty))
}

func loadPaperState(ctx context.Context, cfg *config.Config) (strategy.PaperState, error) {
	store, err := app.OpenStore(cfg.State)
	if err != nil {
		return strategy.PaperState{}, err
	}
	defer store.Close()
	ps, ok, err := state.LoadPaperState(ctx, store)
	if err != nil {
		return strategy.PaperState{}, err
	}
	if !ok {
		return strategy.NewPaperState(decimal.NewFromFloat(cfg.Strategy.StartingBalance)), nil
	}
	return ps, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
