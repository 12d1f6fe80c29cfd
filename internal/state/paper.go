package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"okx-funding-bot/internal/strategy"
)

const (
	PaperStateKey   = "paper:state"
	CloseRequestKey = "operator:close_request"
)

// LoadPaperState returns the persisted position and account, or ok=false on a
// cold start.
func LoadPaperState(ctx context.Context, store Store) (strategy.PaperState, bool, error) {
	if store == nil {
		return strategy.PaperState{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, PaperStateKey)
	if err != nil {
		return strategy.PaperState{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return strategy.PaperState{}, false, nil
	}
	var ps strategy.PaperState
	if err := json.Unmarshal([]byte(raw), &ps); err != nil {
		return strategy.PaperState{}, false, fmt.Errorf("decode %s: %w", PaperStateKey, err)
	}
	return ps, true, nil
}

func SavePaperState(ctx context.Context, store Store, ps strategy.PaperState) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	return store.Set(ctx, PaperStateKey, string(payload))
}

// CloseRequest asks the trading loop to close the open position on its next
// cycle.
type CloseRequest struct {
	RequestedAt time.Time `json:"requested_at"`
	Reason      string    `json:"reason,omitempty"`
}

func LoadCloseRequest(ctx context.Context, store Store) (CloseRequest, bool, error) {
	if store == nil {
		return CloseRequest{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, CloseRequestKey)
	if err != nil {
		return CloseRequest{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return CloseRequest{}, false, nil
	}
	var req CloseRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return CloseRequest{}, false, fmt.Errorf("decode %s: %w", CloseRequestKey, err)
	}
	return req, true, nil
}

func SaveCloseRequest(ctx context.Context, store Store, req CloseRequest) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return store.Set(ctx, CloseRequestKey, string(payload))
}

func ClearCloseRequest(ctx context.Context, store Store) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return store.Delete(ctx, CloseRequestKey)
}
