package state

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"okx-funding-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string]string
	sets  int
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	m.sets++
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func openState() strategy.PaperState {
	entry := time.Date(2025, 11, 26, 8, 0, 0, 0, time.UTC)
	return strategy.PaperState{
		Position: &strategy.Position{
			Side:       strategy.SideShort,
			EntryPrice: decimal.RequireFromString("91000"),
			EntryTime:  entry,
			Size:       decimal.RequireFromString("0.00016483"),
		},
		Account:        strategy.Account{Balance: decimal.RequireFromString("50.12345678")},
		LastSnapshotAt: entry,
		PendingTrades: []strategy.TradeEvent{{
			ID:          "ev-1",
			Kind:        strategy.EventOpen,
			Side:        strategy.SideShort,
			Price:       decimal.RequireFromString("91000"),
			Size:        decimal.RequireFromString("0.00016483"),
			FundingRate: decimal.RequireFromString("0.0035"),
			Timestamp:   entry,
			Reason:      strategy.DecisionOpenShort,
		}},
		UpdatedAt: entry.Add(time.Second),
	}
}

func TestPaperStateRoundTrip(t *testing.T) {
	cases := map[string]strategy.PaperState{
		"open": openState(),
		"flat": strategy.NewPaperState(decimal.NewFromInt(50)),
	}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			store := &memoryStore{}
			ctx := context.Background()
			if err := SavePaperState(ctx, store, want); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, ok, err := LoadPaperState(ctx, store)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if !ok {
				t.Fatalf("expected state to be present")
			}
			if got.State() != want.State() {
				t.Fatalf("expected %s, got %s", want.State(), got.State())
			}
			if !got.Account.Balance.Equal(want.Account.Balance) {
				t.Fatalf("balance: expected %s, got %s", want.Account.Balance, got.Account.Balance)
			}
			if want.Position != nil {
				if !got.Position.EntryPrice.Equal(want.Position.EntryPrice) ||
					!got.Position.Size.Equal(want.Position.Size) ||
					!got.Position.EntryTime.Equal(want.Position.EntryTime) ||
					got.Position.Side != want.Position.Side {
					t.Fatalf("position mismatch: %+v vs %+v", got.Position, want.Position)
				}
			}
			if len(got.PendingTrades) != len(want.PendingTrades) {
				t.Fatalf("pending trades: expected %d, got %d", len(want.PendingTrades), len(got.PendingTrades))
			}
			if !got.LastSnapshotAt.Equal(want.LastSnapshotAt) {
				t.Fatalf("last snapshot: expected %s, got %s", want.LastSnapshotAt, got.LastSnapshotAt)
			}
		})
	}
}

func TestPaperStateSaveIsIdempotent(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	ps := openState()
	if err := SavePaperState(ctx, store, ps); err != nil {
		t.Fatalf("save: %v", err)
	}
	first := store.items[PaperStateKey]
	if err := SavePaperState(ctx, store, ps); err != nil {
		t.Fatalf("save again: %v", err)
	}
	if store.items[PaperStateKey] != first {
		t.Fatalf("expected identical payload on replay")
	}
	got, _, err := LoadPaperState(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.PendingTrades) != 1 {
		t.Fatalf("replay must not duplicate pending trades, got %d", len(got.PendingTrades))
	}
}

func TestPaperStateMissing(t *testing.T) {
	_, ok, err := LoadPaperState(context.Background(), &memoryStore{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected cold start")
	}
}

func TestPaperStateCorrupt(t *testing.T) {
	store := &memoryStore{items: map[string]string{PaperStateKey: "{not json"}}
	if _, _, err := LoadPaperState(context.Background(), store); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	if err := SavePaperState(context.Background(), nil, openState()); err != nil {
		t.Fatalf("save with nil store: %v", err)
	}
	if _, ok, err := LoadPaperState(context.Background(), nil); err != nil || ok {
		t.Fatalf("expected empty load from nil store, got ok=%v err=%v", ok, err)
	}
}

func TestCloseRequestLifecycle(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	want := CloseRequest{RequestedAt: time.Date(2025, 11, 26, 9, 0, 0, 0, time.UTC), Reason: "operator"}
	if err := SaveCloseRequest(ctx, store, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := LoadCloseRequest(ctx, store)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if err := ClearCloseRequest(ctx, store); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := LoadCloseRequest(ctx, store); ok {
		t.Fatalf("expected request to be cleared")
	}
}
