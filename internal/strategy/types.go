package strategy

import (
	"time"

	"okx-funding-bot/internal/config"

	"github.com/shopspring/decimal"
)

type State string

const (
	StateFlat State = "FLAT"
	StateOpen State = "OPEN"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

type Decision string

const (
	DecisionOpenShort       Decision = "OPEN_SHORT"
	DecisionOpenLong        Decision = "OPEN_LONG"
	DecisionCloseTakeProfit Decision = "CLOSE_TAKE_PROFIT"
	DecisionCloseStopLoss   Decision = "CLOSE_STOP_LOSS"
	DecisionCloseSignal     Decision = "CLOSE_SIGNAL"
	DecisionCloseManual     Decision = "CLOSE_MANUAL"
	DecisionHold            Decision = "HOLD"
)

func (d Decision) Opens() bool {
	return d == DecisionOpenShort || d == DecisionOpenLong
}

func (d Decision) Closes() bool {
	switch d {
	case DecisionCloseTakeProfit, DecisionCloseStopLoss, DecisionCloseSignal, DecisionCloseManual:
		return true
	default:
		return false
	}
}

type EventKind string

const (
	EventOpen  EventKind = "OPEN"
	EventClose EventKind = "CLOSE"
)

// Params are the risk parameters as decimals. Thresholds are fractional
// funding rates; StopLossPct, TakeProfitPct and FeePct are percentages.
type Params struct {
	ShortThreshold   decimal.Decimal
	LongThreshold    decimal.Decimal
	LongEnabled      bool
	ExitThreshold    decimal.Decimal
	StopLossPct      decimal.Decimal
	TakeProfitPct    decimal.Decimal
	FeePct           decimal.Decimal
	PositionFraction decimal.Decimal
}

func ParamsFromConfig(cfg config.StrategyConfig) Params {
	return Params{
		ShortThreshold:   decimal.NewFromFloat(cfg.ShortThreshold),
		LongThreshold:    decimal.NewFromFloat(cfg.LongThreshold),
		LongEnabled:      cfg.LongEnabledValue(),
		ExitThreshold:    decimal.NewFromFloat(cfg.ExitThreshold),
		StopLossPct:      decimal.NewFromFloat(cfg.StopLossPct),
		TakeProfitPct:    decimal.NewFromFloat(cfg.TakeProfitPct),
		FeePct:           decimal.NewFromFloat(cfg.FeePctValue()),
		PositionFraction: decimal.NewFromFloat(cfg.PositionFraction),
	}
}

type Position struct {
	Side       Side            `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryTime  time.Time       `json:"entry_time"`
	Size       decimal.Decimal `json:"size"`
}

// Notional is the quote value of the position at entry.
func (p Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice)
}

type Account struct {
	Balance decimal.Decimal `json:"balance"`
}

// TradeEvent is an immutable open or close record. Close events carry the
// realized PnL net of fees and the balance after it was applied.
type TradeEvent struct {
	ID           string           `json:"id"`
	Kind         EventKind        `json:"kind"`
	Side         Side             `json:"side"`
	Price        decimal.Decimal  `json:"price"`
	Size         decimal.Decimal  `json:"size"`
	FundingRate  decimal.Decimal  `json:"funding_rate"`
	Timestamp    time.Time        `json:"timestamp"`
	Reason       Decision         `json:"reason"`
	EntryPrice   *decimal.Decimal `json:"entry_price,omitempty"`
	RealizedPnL  *decimal.Decimal `json:"realized_pnl,omitempty"`
	PnLPct       *decimal.Decimal `json:"pnl_pct,omitempty"`
	BalanceAfter *decimal.Decimal `json:"balance_after,omitempty"`
}

// PaperState is the persisted value of the machine. PendingTrades holds events
// that are not yet in the trade journal.
type PaperState struct {
	Position       *Position    `json:"position"`
	Account        Account      `json:"account"`
	LastSnapshotAt time.Time    `json:"last_snapshot_at"`
	PendingTrades  []TradeEvent `json:"pending_trades,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func NewPaperState(startingBalance decimal.Decimal) PaperState {
	return PaperState{Account: Account{Balance: startingBalance}}
}

func (s PaperState) State() State {
	if s.Position == nil {
		return StateFlat
	}
	return StateOpen
}

// Clone returns a copy that shares no mutable memory with s.
func (s PaperState) Clone() PaperState {
	out := s
	if s.Position != nil {
		pos := *s.Position
		out.Position = &pos
	}
	if len(s.PendingTrades) > 0 {
		out.PendingTrades = append([]TradeEvent(nil), s.PendingTrades...)
	} else {
		out.PendingTrades = nil
	}
	return out
}
