package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validStrategy() StrategyConfig {
	return StrategyConfig{
		ShortThreshold: 0.003,
		LongThreshold:  0.003,
		ExitThreshold:  0.001,
		StopLossPct:    -2.0,
		TakeProfitPct:  1.5,
	}
}

func TestDefaults(t *testing.T) {
	cfg := &Config{Strategy: validStrategy()}
	applyDefaults(cfg)
	if cfg.OKX.BaseURL != "https://www.okx.com" {
		t.Fatalf("expected okx base url default, got %q", cfg.OKX.BaseURL)
	}
	if cfg.OKX.InstID != "BTC-USDT-SWAP" {
		t.Fatalf("expected inst id default, got %q", cfg.OKX.InstID)
	}
	if cfg.Poll.Interval != 5*time.Minute {
		t.Fatalf("expected 5m poll interval, got %v", cfg.Poll.Interval)
	}
	if cfg.Strategy.PositionFraction != 0.3 {
		t.Fatalf("expected position fraction 0.3, got %v", cfg.Strategy.PositionFraction)
	}
	if cfg.Strategy.StartingBalance != 50 {
		t.Fatalf("expected starting balance 50, got %v", cfg.Strategy.StartingBalance)
	}
	if cfg.Strategy.FeePctValue() != 0.1 {
		t.Fatalf("expected fee pct 0.1, got %v", cfg.Strategy.FeePctValue())
	}
	if !cfg.Strategy.LongEnabledValue() {
		t.Fatalf("expected long enabled by default")
	}
	if cfg.State.Backend != StateBackendFile {
		t.Fatalf("expected file backend default, got %q", cfg.State.Backend)
	}
	if !cfg.Metrics.EnabledValue() || cfg.Metrics.Path != "/metrics" {
		t.Fatalf("expected metrics defaults, got %+v", cfg.Metrics)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestBaseURLTrailingSlashTrimmed(t *testing.T) {
	cfg := &Config{OKX: OKXConfig{BaseURL: "https://example.com/"}}
	applyDefaults(cfg)
	if cfg.OKX.BaseURL != "https://example.com" {
		t.Fatalf("expected trimmed base url, got %q", cfg.OKX.BaseURL)
	}
}

func TestValidateRejectsRiskParameters(t *testing.T) {
	cases := map[string]func(*StrategyConfig){
		"stop loss zero":          func(s *StrategyConfig) { s.StopLossPct = 0 },
		"stop loss positive":      func(s *StrategyConfig) { s.StopLossPct = 1 },
		"take profit zero":        func(s *StrategyConfig) { s.TakeProfitPct = 0 },
		"take profit negative":    func(s *StrategyConfig) { s.TakeProfitPct = -1 },
		"short threshold zero":    func(s *StrategyConfig) { s.ShortThreshold = 0 },
		"long threshold zero":     func(s *StrategyConfig) { s.LongThreshold = 0 },
		"exit above short":        func(s *StrategyConfig) { s.ExitThreshold = 0.004 },
		"exit negative":           func(s *StrategyConfig) { s.ExitThreshold = -0.001 },
		"fraction above one":      func(s *StrategyConfig) { s.PositionFraction = 1.5 },
		"fee negative":            func(s *StrategyConfig) { s.FeePct = float64Ptr(-0.1) },
		"starting balance negate": func(s *StrategyConfig) { s.StartingBalance = -10 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{Strategy: validStrategy()}
			mutate(&cfg.Strategy)
			applyDefaults(cfg)
			err := validate(cfg)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestValidateLongDisabledIgnoresLongThreshold(t *testing.T) {
	disabled := false
	s := validStrategy()
	s.LongThreshold = 0
	s.LongEnabled = &disabled
	cfg := &Config{Strategy: s}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config with long disabled, got %v", err)
	}
	if cfg.Strategy.LongEnabledValue() {
		t.Fatalf("expected long_enabled=false to be preserved")
	}
}

func TestValidateRejectsNegativeRetries(t *testing.T) {
	cfg := &Config{Strategy: validStrategy(), Fetch: FetchConfig{MaxRetries: -1}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for negative max_retries")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := &Config{Strategy: validStrategy(), State: StateConfig{Backend: "redis"}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for unknown state backend")
	}
}

func TestValidateRejectsMetricsPathWithoutSlash(t *testing.T) {
	cfg := &Config{Strategy: validStrategy(), Metrics: MetricsConfig{Path: "metrics"}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for metrics path without leading slash")
	}
}

func TestValidateRejectsTelegramEnabledWithoutConfig(t *testing.T) {
	t.Setenv("PAPER_TELEGRAM_TOKEN", "")
	t.Setenv("PAPER_TELEGRAM_CHAT_ID", "")
	cfg := &Config{Strategy: validStrategy(), Telegram: TelegramConfig{Enabled: true}}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing telegram token/chat_id")
	}
}

func TestTelegramEnvOverridesConfig(t *testing.T) {
	t.Setenv("PAPER_TELEGRAM_TOKEN", "env-token")
	t.Setenv("PAPER_TELEGRAM_CHAT_ID", "123")
	cfg := &Config{
		Strategy: validStrategy(),
		Telegram: TelegramConfig{Enabled: true, Token: "config-token", ChatID: "999"},
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("expected env token override, got %q", cfg.Telegram.Token)
	}
	if cfg.Telegram.ChatID != "123" {
		t.Fatalf("expected env chat id override, got %q", cfg.Telegram.ChatID)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config with env overrides, got %v", err)
	}
}

func TestValidateRejectsTimescaleWithoutDSN(t *testing.T) {
	t.Setenv("PAPER_TIMESCALE_DSN", "")
	cfg := &Config{Strategy: validStrategy(), Timescale: TimescaleConfig{Enabled: true}}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing timescale dsn")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "" +
		"okx:\n" +
		"  inst_id: ETH-USDT-SWAP\n" +
		"fetch:\n" +
		"  max_retries: 5\n" +
		"  retry_backoff: 10s\n" +
		"poll:\n" +
		"  interval: 1m\n" +
		"strategy:\n" +
		"  short_threshold: 0.003\n" +
		"  long_threshold: 0.004\n" +
		"  exit_threshold: 0.001\n" +
		"  stop_loss_pct: -2.0\n" +
		"  take_profit_pct: 1.5\n" +
		"state:\n" +
		"  backend: sqlite\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.OKX.InstID != "ETH-USDT-SWAP" {
		t.Fatalf("unexpected inst id %q", cfg.OKX.InstID)
	}
	if cfg.Fetch.MaxRetries != 5 || cfg.Fetch.RetryBackoff != 10*time.Second {
		t.Fatalf("unexpected fetch config %+v", cfg.Fetch)
	}
	if cfg.Poll.Interval != time.Minute {
		t.Fatalf("unexpected poll interval %v", cfg.Poll.Interval)
	}
	if cfg.Strategy.LongThreshold != 0.004 {
		t.Fatalf("unexpected long threshold %v", cfg.Strategy.LongThreshold)
	}
	if cfg.State.Backend != StateBackendSQLite {
		t.Fatalf("unexpected backend %q", cfg.State.Backend)
	}
}

func TestLoadKeepsExplicitZeroFee(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "strategy:\n  short_threshold: 0.003\n  long_threshold: 0.003\n  exit_threshold: 0.001\n  stop_loss_pct: -2.0\n  take_profit_pct: 1.5\n  fee_pct: 0\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Strategy.FeePct == nil || cfg.Strategy.FeePctValue() != 0 {
		t.Fatalf("expected fee_pct 0 to be kept, got %v", cfg.Strategy.FeePct)
	}
}

func float64Ptr(v float64) *float64 {
	return &v
}

func TestLoadRejectsInvalidRisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "strategy:\n  short_threshold: 0.003\n  long_threshold: 0.003\n  exit_threshold: 0.001\n  stop_loss_pct: 2.0\n  take_profit_pct: 1.5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.Fetch.MaxRetries != 3 {
		t.Fatalf("expected example max_retries 3, got %d", cfg.Fetch.MaxRetries)
	}
	if !cfg.OKX.IncludeOpenInterest {
		t.Fatalf("expected example to request open interest")
	}
}
