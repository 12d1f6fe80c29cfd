package strategy

import (
	"testing"
	"time"

	"okx-funding-bot/internal/market"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testParams() Params {
	return Params{
		ShortThreshold:   d("0.003"),
		LongThreshold:    d("0.003"),
		LongEnabled:      true,
		ExitThreshold:    d("0.001"),
		StopLossPct:      d("-2.0"),
		TakeProfitPct:    d("1.5"),
		FeePct:           d("0.1"),
		PositionFraction: d("0.3"),
	}
}

func snapAt(price, rate string, ts time.Time) market.Snapshot {
	return market.Snapshot{
		InstID:      "BTC-USDT-SWAP",
		Timestamp:   ts,
		Price:       d(price),
		FundingRate: d(rate),
	}
}

var t0 = time.Date(2025, 11, 26, 8, 0, 0, 0, time.UTC)

func TestEvaluateShortThresholdIsStrict(t *testing.T) {
	p := testParams()
	if got := Evaluate(snapAt("91000", "0.003", t0), nil, p); got != DecisionHold {
		t.Fatalf("rate equal to threshold: expected HOLD, got %s", got)
	}
	if got := Evaluate(snapAt("91000", "0.0030000001", t0), nil, p); got != DecisionOpenShort {
		t.Fatalf("rate just above threshold: expected OPEN_SHORT, got %s", got)
	}
	if got := Evaluate(snapAt("91000", "0.0035", t0), nil, p); got != DecisionOpenShort {
		t.Fatalf("rate 0.0035: expected OPEN_SHORT, got %s", got)
	}
}

func TestEvaluateLongThreshold(t *testing.T) {
	p := testParams()
	p.LongThreshold = d("0.004")
	if got := Evaluate(snapAt("91000", "-0.004", t0), nil, p); got != DecisionHold {
		t.Fatalf("rate equal to -long threshold: expected HOLD, got %s", got)
	}
	if got := Evaluate(snapAt("91000", "-0.0041", t0), nil, p); got != DecisionOpenLong {
		t.Fatalf("expected OPEN_LONG, got %s", got)
	}
	p.LongEnabled = false
	if got := Evaluate(snapAt("91000", "-0.01", t0), nil, p); got != DecisionHold {
		t.Fatalf("long disabled: expected HOLD, got %s", got)
	}
}

func TestEvaluateFlatHoldsInsideBand(t *testing.T) {
	if got := Evaluate(snapAt("91000", "0.0001", t0), nil, testParams()); got != DecisionHold {
		t.Fatalf("expected HOLD, got %s", got)
	}
}

func TestEvaluateShortTakeProfit(t *testing.T) {
	pos := &Position{Side: SideShort, EntryPrice: d("91000"), EntryTime: t0, Size: d("0.0001")}
	pnl := UnrealizedPnLPct(*pos, d("88843"))
	if pnl.Round(2).String() != "2.37" {
		t.Fatalf("expected unrealized pnl ~2.37%%, got %s", pnl)
	}
	if got := Evaluate(snapAt("88843", "0.004", t0), pos, testParams()); got != DecisionCloseTakeProfit {
		t.Fatalf("expected CLOSE_TAKE_PROFIT, got %s", got)
	}
}

func TestEvaluateShortStopLoss(t *testing.T) {
	pos := &Position{Side: SideShort, EntryPrice: d("91000"), EntryTime: t0, Size: d("0.0001")}
	pnl := UnrealizedPnLPct(*pos, d("92820"))
	if !pnl.Equal(d("-2")) {
		t.Fatalf("expected unrealized pnl -2%%, got %s", pnl)
	}
	if got := Evaluate(snapAt("92820", "0.004", t0), pos, testParams()); got != DecisionCloseStopLoss {
		t.Fatalf("expected CLOSE_STOP_LOSS, got %s", got)
	}
}

func TestEvaluateLongPnLSignInverted(t *testing.T) {
	pos := &Position{Side: SideLong, EntryPrice: d("100"), EntryTime: t0, Size: d("1")}
	if got := UnrealizedPnLPct(*pos, d("102")); !got.Equal(d("2")) {
		t.Fatalf("expected +2%% for long, got %s", got)
	}
	if got := Evaluate(snapAt("97.5", "-0.004", t0), pos, testParams()); got != DecisionCloseStopLoss {
		t.Fatalf("expected CLOSE_STOP_LOSS for long, got %s", got)
	}
}

func TestEvaluateStopLossBeatsSignalExit(t *testing.T) {
	pos := &Position{Side: SideShort, EntryPrice: d("100"), EntryTime: t0, Size: d("1")}
	if got := Evaluate(snapAt("103", "0", t0), pos, testParams()); got != DecisionCloseStopLoss {
		t.Fatalf("expected stop loss precedence, got %s", got)
	}
}

func TestEvaluateSignalExit(t *testing.T) {
	pos := &Position{Side: SideShort, EntryPrice: d("100"), EntryTime: t0, Size: d("1")}
	p := testParams()
	if got := Evaluate(snapAt("100.5", "0.0009", t0), pos, p); got != DecisionCloseSignal {
		t.Fatalf("expected CLOSE_SIGNAL, got %s", got)
	}
	if got := Evaluate(snapAt("100.5", "-0.0009", t0), pos, p); got != DecisionCloseSignal {
		t.Fatalf("expected CLOSE_SIGNAL on negative weak rate, got %s", got)
	}
	if got := Evaluate(snapAt("100.5", "0.001", t0), pos, p); got != DecisionHold {
		t.Fatalf("rate equal to exit threshold: expected HOLD, got %s", got)
	}
}
