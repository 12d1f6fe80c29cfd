package strategy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"okx-funding-bot/internal/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	sizeDecimals  = 8
	moneyDecimals = 8
)

var (
	// ErrInvariant is a programming error: opening while open or closing
	// while flat. The loop treats it as fatal.
	ErrInvariant = errors.New("position invariant violated")
	// ErrStaleSnapshot rejects snapshots not newer than the last one applied.
	ErrStaleSnapshot = errors.New("snapshot not newer than last applied")
	// ErrNoFunds means the sized position rounds to zero.
	ErrNoFunds = errors.New("balance too small to open position")
)

// Transition is a proposed next state. It takes effect only through Commit,
// so a caller that fails to persist Next simply drops it.
type Transition struct {
	Decision Decision
	Event    *TradeEvent
	Next     PaperState
}

// Changed reports whether the transition alters the position or account.
func (t Transition) Changed() bool {
	return t.Event != nil
}

type Machine struct {
	mu     sync.Mutex
	params Params
	state  PaperState
	now    func() time.Time
	newID  func() string
}

func NewMachine(params Params, initial PaperState) *Machine {
	return &Machine{
		params: params,
		state:  initial.Clone(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (m *Machine) Params() Params {
	return m.params
}

// Snapshot returns a copy of the committed state.
func (m *Machine) Snapshot() PaperState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.State()
}

// Accepts reports whether a snapshot taken at ts is newer than the last one
// applied.
func (m *Machine) Accepts(ts time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ts.After(m.state.LastSnapshotAt)
}

// Step proposes the transition for decision at snap without changing the
// committed state.
func (m *Machine) Step(decision Decision, snap market.Snapshot) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !snap.Timestamp.After(m.state.LastSnapshotAt) {
		return Transition{}, fmt.Errorf("%w: %s <= %s", ErrStaleSnapshot,
			snap.Timestamp.Format(time.RFC3339), m.state.LastSnapshotAt.Format(time.RFC3339))
	}
	next := m.state.Clone()
	next.LastSnapshotAt = snap.Timestamp
	tr := Transition{Decision: decision, Next: next}
	switch {
	case decision == DecisionHold:
		return tr, nil
	case decision.Opens():
		if next.Position != nil {
			return Transition{}, fmt.Errorf("%w: %s with %s position open", ErrInvariant, decision, next.Position.Side)
		}
		return m.open(tr, snap)
	case decision.Closes():
		if next.Position == nil {
			return Transition{}, fmt.Errorf("%w: %s while flat", ErrInvariant, decision)
		}
		return m.close(tr, snap), nil
	default:
		return Transition{}, fmt.Errorf("%w: unknown decision %q", ErrInvariant, decision)
	}
}

func (m *Machine) open(tr Transition, snap market.Snapshot) (Transition, error) {
	side := SideShort
	if tr.Decision == DecisionOpenLong {
		side = SideLong
	}
	balance := tr.Next.Account.Balance
	size := decimal.Zero
	if snap.Price.IsPositive() {
		size = balance.Mul(m.params.PositionFraction).DivRound(snap.Price, sizeDecimals+4).Truncate(sizeDecimals)
	}
	if !size.IsPositive() {
		return Transition{}, fmt.Errorf("%w: balance %s", ErrNoFunds, balance)
	}
	tr.Next.Position = &Position{
		Side:       side,
		EntryPrice: snap.Price,
		EntryTime:  snap.Timestamp,
		Size:       size,
	}
	event := TradeEvent{
		ID:          m.newID(),
		Kind:        EventOpen,
		Side:        side,
		Price:       snap.Price,
		Size:        size,
		FundingRate: snap.FundingRate,
		Timestamp:   snap.Timestamp,
		Reason:      tr.Decision,
	}
	return m.emit(tr, event), nil
}

func (m *Machine) close(tr Transition, snap market.Snapshot) Transition {
	pos := *tr.Next.Position
	gross := UnrealizedPnLPct(pos, snap.Price)
	notional := pos.Notional()
	fee := notional.Mul(m.params.FeePct).Div(hundred)
	realized := notional.Mul(gross).Div(hundred).Sub(fee).Round(moneyDecimals)
	netPct := decimal.Zero
	if !notional.IsZero() {
		netPct = realized.Mul(hundred).DivRound(notional, 4)
	}
	balance := tr.Next.Account.Balance.Add(realized)
	tr.Next.Account.Balance = balance
	tr.Next.Position = nil
	entry := pos.EntryPrice
	event := TradeEvent{
		ID:           m.newID(),
		Kind:         EventClose,
		Side:         pos.Side,
		Price:        snap.Price,
		Size:         pos.Size,
		FundingRate:  snap.FundingRate,
		Timestamp:    snap.Timestamp,
		Reason:       tr.Decision,
		EntryPrice:   &entry,
		RealizedPnL:  &realized,
		PnLPct:       &netPct,
		BalanceAfter: &balance,
	}
	return m.emit(tr, event)
}

func (m *Machine) emit(tr Transition, event TradeEvent) Transition {
	tr.Next.PendingTrades = append(tr.Next.PendingTrades, event)
	tr.Next.UpdatedAt = m.now().UTC()
	tr.Event = &event
	return tr
}

// Commit makes a proposed transition the current state.
func (m *Machine) Commit(tr Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = tr.Next.Clone()
}

// Settle proposes the current state minus the pending trades whose IDs were
// delivered to the journal.
func (m *Machine) Settle(delivered []string) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.Clone()
	if len(delivered) == 0 || len(next.PendingTrades) == 0 {
		return Transition{Decision: DecisionHold, Next: next}
	}
	done := make(map[string]bool, len(delivered))
	for _, id := range delivered {
		done[id] = true
	}
	kept := next.PendingTrades[:0]
	for _, ev := range next.PendingTrades {
		if !done[ev.ID] {
			kept = append(kept, ev)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	next.PendingTrades = kept
	next.UpdatedAt = m.now().UTC()
	return Transition{Decision: DecisionHold, Next: next}
}
