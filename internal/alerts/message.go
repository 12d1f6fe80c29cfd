package alerts

import (
	"fmt"
	"strings"
	"time"

	"okx-funding-bot/internal/strategy"
)

var reasonLabels = map[strategy.Decision]string{
	strategy.DecisionCloseTakeProfit: "take profit",
	strategy.DecisionCloseStopLoss:   "stop loss",
	strategy.DecisionCloseSignal:     "funding normalized",
	strategy.DecisionCloseManual:     "manual close",
}

// FormatTrade renders a trade event as a short plain-text alert.
func FormatTrade(instID string, ev strategy.TradeEvent) string {
	var b strings.Builder
	switch ev.Kind {
	case strategy.EventOpen:
		fmt.Fprintf(&b, "[paper] OPEN %s %s\n", ev.Side, instID)
		fmt.Fprintf(&b, "price: %s\n", ev.Price.StringFixed(2))
		fmt.Fprintf(&b, "size: %s\n", ev.Size.String())
		fmt.Fprintf(&b, "funding: %s%%\n", ev.FundingRate.Shift(2).StringFixed(4))
	case strategy.EventClose:
		label := reasonLabels[ev.Reason]
		if label == "" {
			label = string(ev.Reason)
		}
		fmt.Fprintf(&b, "[paper] CLOSE %s %s (%s)\n", ev.Side, instID, label)
		if ev.EntryPrice != nil {
			fmt.Fprintf(&b, "entry: %s exit: %s\n", ev.EntryPrice.StringFixed(2), ev.Price.StringFixed(2))
		} else {
			fmt.Fprintf(&b, "exit: %s\n", ev.Price.StringFixed(2))
		}
		if ev.RealizedPnL != nil && ev.PnLPct != nil {
			fmt.Fprintf(&b, "pnl: %s (%s%%)\n", ev.RealizedPnL.StringFixed(4), ev.PnLPct.StringFixed(2))
		}
		if ev.BalanceAfter != nil {
			fmt.Fprintf(&b, "balance: %s\n", ev.BalanceAfter.StringFixed(2))
		}
	default:
		fmt.Fprintf(&b, "[paper] %s %s %s\n", ev.Kind, ev.Side, instID)
	}
	b.WriteString(ev.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}
