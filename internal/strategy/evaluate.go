package strategy

import (
	"okx-funding-bot/internal/market"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate maps a snapshot and the current position to a decision. With a
// position open, stop loss beats take profit beats the funding exit. All
// comparisons are strict except the stop and take-profit bounds.
func Evaluate(snap market.Snapshot, pos *Position, p Params) Decision {
	if pos != nil {
		pnl := UnrealizedPnLPct(*pos, snap.Price)
		switch {
		case pnl.LessThanOrEqual(p.StopLossPct):
			return DecisionCloseStopLoss
		case pnl.GreaterThanOrEqual(p.TakeProfitPct):
			return DecisionCloseTakeProfit
		case snap.FundingRate.Abs().LessThan(p.ExitThreshold):
			return DecisionCloseSignal
		default:
			return DecisionHold
		}
	}
	if snap.FundingRate.GreaterThan(p.ShortThreshold) {
		return DecisionOpenShort
	}
	if p.LongEnabled && snap.FundingRate.LessThan(p.LongThreshold.Neg()) {
		return DecisionOpenLong
	}
	return DecisionHold
}

// UnrealizedPnLPct is the gross price move in percent, positive when the
// position is in profit.
func UnrealizedPnLPct(pos Position, price decimal.Decimal) decimal.Decimal {
	if pos.EntryPrice.IsZero() {
		return decimal.Zero
	}
	move := pos.EntryPrice.Sub(price)
	if pos.Side == SideLong {
		move = move.Neg()
	}
	return move.Mul(hundred).Div(pos.EntryPrice)
}
