package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration that must not be run with.
var ErrInvalid = errors.New("invalid config")

const (
	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	OKX       OKXConfig       `yaml:"okx"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Poll      PollConfig      `yaml:"poll"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	State     StateConfig     `yaml:"state"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type OKXConfig struct {
	BaseURL             string        `yaml:"base_url"`
	InstID              string        `yaml:"inst_id"`
	Timeout             time.Duration `yaml:"timeout"`
	IncludeOpenInterest bool          `yaml:"include_open_interest"`
}

type FetchConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
}

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// StrategyConfig holds the risk parameters. Funding thresholds are fractional
// (0.003 = 0.3%); stop_loss_pct and take_profit_pct are percentages of entry
// price (-2.0 = -2%).
type StrategyConfig struct {
	ShortThreshold   float64  `yaml:"short_threshold"`
	LongThreshold    float64  `yaml:"long_threshold"`
	LongEnabled      *bool    `yaml:"long_enabled"`
	ExitThreshold    float64  `yaml:"exit_threshold"`
	StopLossPct      float64  `yaml:"stop_loss_pct"`
	TakeProfitPct    float64  `yaml:"take_profit_pct"`
	FeePct           *float64 `yaml:"fee_pct"`
	PositionFraction float64  `yaml:"position_fraction"`
	StartingBalance  float64  `yaml:"starting_balance"`
}

func (s StrategyConfig) LongEnabledValue() bool {
	return s.LongEnabled == nil || *s.LongEnabled
}

// FeePctValue is the taker fee per side; an unset fee means 0.1%.
func (s StrategyConfig) FeePctValue() float64 {
	if s.FeePct == nil {
		return 0.1
	}
	return *s.FeePct
}

type StateConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

type HistoryConfig struct {
	SnapshotsPath string `yaml:"snapshots_path"`
	TradesPath    string `yaml:"trades_path"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.OKX.BaseURL == "" {
		cfg.OKX.BaseURL = "https://www.okx.com"
	}
	cfg.OKX.BaseURL = strings.TrimRight(cfg.OKX.BaseURL, "/")
	if cfg.OKX.InstID == "" {
		cfg.OKX.InstID = "BTC-USDT-SWAP"
	}
	if cfg.OKX.Timeout == 0 {
		cfg.OKX.Timeout = 15 * time.Second
	}
	if cfg.Fetch.RetryBackoff == 0 {
		cfg.Fetch.RetryBackoff = 5 * time.Second
	}
	if cfg.Fetch.MaxBackoff == 0 {
		cfg.Fetch.MaxBackoff = time.Minute
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = 5 * time.Minute
	}
	if cfg.Strategy.FeePct == nil {
		fee := 0.1
		cfg.Strategy.FeePct = &fee
	}
	if cfg.Strategy.PositionFraction == 0 {
		cfg.Strategy.PositionFraction = 0.3
	}
	if cfg.Strategy.StartingBalance == 0 {
		cfg.Strategy.StartingBalance = 50
	}
	if cfg.Strategy.LongEnabled == nil {
		enabled := true
		cfg.Strategy.LongEnabled = &enabled
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = StateBackendFile
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = "data/state"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/paper.db"
	}
	if cfg.History.SnapshotsPath == "" {
		cfg.History.SnapshotsPath = "data/okx_btc_data.csv"
	}
	if cfg.History.TradesPath == "" {
		cfg.History.TradesPath = "data/trade_history.ndjson"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "okx-funding"
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}
}

func applyEnvOverrides(cfg *Config) {
	if val := strings.TrimSpace(os.Getenv("PAPER_TELEGRAM_TOKEN")); val != "" {
		cfg.Telegram.Token = val
	}
	if val := strings.TrimSpace(os.Getenv("PAPER_TELEGRAM_CHAT_ID")); val != "" {
		cfg.Telegram.ChatID = val
	}
	if val := strings.TrimSpace(os.Getenv("PAPER_TIMESCALE_DSN")); val != "" {
		cfg.Timescale.DSN = val
	}
	if val := strings.TrimSpace(os.Getenv("PAPER_ARCHIVE_BUCKET")); val != "" {
		cfg.Archive.Bucket = val
	}
}

func validate(cfg *Config) error {
	if cfg.OKX.InstID == "" {
		return invalid("okx.inst_id is required")
	}
	if cfg.OKX.Timeout < 0 {
		return invalid("okx.timeout must be >= 0")
	}
	if cfg.Fetch.MaxRetries < 0 {
		return invalid("fetch.max_retries must be >= 0")
	}
	if cfg.Fetch.RetryBackoff < 0 || cfg.Fetch.MaxBackoff < 0 {
		return invalid("fetch backoff must be >= 0")
	}
	if cfg.Poll.Interval <= 0 {
		return invalid("poll.interval must be > 0")
	}
	if err := validateStrategy(cfg.Strategy); err != nil {
		return err
	}
	switch cfg.State.Backend {
	case StateBackendFile, StateBackendSQLite:
	default:
		return invalid(fmt.Sprintf("state.backend %q is not supported", cfg.State.Backend))
	}
	if cfg.Metrics.EnabledValue() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return invalid("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return invalid("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return invalid("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

func validateStrategy(s StrategyConfig) error {
	if s.ShortThreshold <= 0 {
		return invalid("strategy.short_threshold must be > 0")
	}
	if s.LongEnabledValue() && s.LongThreshold <= 0 {
		return invalid("strategy.long_threshold must be > 0")
	}
	if s.ExitThreshold < 0 {
		return invalid("strategy.exit_threshold must be >= 0")
	}
	if s.ExitThreshold >= s.ShortThreshold {
		return invalid("strategy.exit_threshold must be below strategy.short_threshold")
	}
	if s.LongEnabledValue() && s.ExitThreshold >= s.LongThreshold {
		return invalid("strategy.exit_threshold must be below strategy.long_threshold")
	}
	if s.StopLossPct >= 0 {
		return invalid("strategy.stop_loss_pct must be < 0")
	}
	if s.TakeProfitPct <= 0 {
		return invalid("strategy.take_profit_pct must be > 0")
	}
	if s.FeePctValue() < 0 {
		return invalid("strategy.fee_pct must be >= 0")
	}
	if s.PositionFraction <= 0 || s.PositionFraction > 1 {
		return invalid("strategy.position_fraction must be in (0, 1]")
	}
	if s.StartingBalance <= 0 {
		return invalid("strategy.starting_balance must be > 0")
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}
