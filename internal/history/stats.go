package history

import (
	"okx-funding-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Stats summarises closed paper trades.
type Stats struct {
	ClosedTrades    int              `json:"closed_trades"`
	Wins            int              `json:"wins"`
	Losses          int              `json:"losses"`
	WinRatePct      decimal.Decimal  `json:"win_rate_pct"`
	TotalPnL        decimal.Decimal  `json:"total_pnl"`
	AvgPnL          decimal.Decimal  `json:"avg_pnl"`
	BestPnL         *decimal.Decimal `json:"best_pnl,omitempty"`
	WorstPnL        *decimal.Decimal `json:"worst_pnl,omitempty"`
	StartingBalance decimal.Decimal  `json:"starting_balance"`
	FinalBalance    decimal.Decimal  `json:"final_balance"`
	TotalReturnPct  decimal.Decimal  `json:"total_return_pct"`
}

func ComputeStats(events []strategy.TradeEvent, startingBalance decimal.Decimal) Stats {
	stats := Stats{StartingBalance: startingBalance, FinalBalance: startingBalance}
	for _, ev := range events {
		if ev.Kind != strategy.EventClose || ev.RealizedPnL == nil {
			continue
		}
		pnl := *ev.RealizedPnL
		stats.ClosedTrades++
		if pnl.IsPositive() {
			stats.Wins++
		} else {
			stats.Losses++
		}
		stats.TotalPnL = stats.TotalPnL.Add(pnl)
		if stats.BestPnL == nil || pnl.GreaterThan(*stats.BestPnL) {
			best := pnl
			stats.BestPnL = &best
		}
		if stats.WorstPnL == nil || pnl.LessThan(*stats.WorstPnL) {
			worst := pnl
			stats.WorstPnL = &worst
		}
		if ev.BalanceAfter != nil {
			stats.FinalBalance = *ev.BalanceAfter
		}
	}
	if stats.ClosedTrades > 0 {
		n := decimal.NewFromInt(int64(stats.ClosedTrades))
		stats.WinRatePct = decimal.NewFromInt(int64(stats.Wins)).Mul(hundred).DivRound(n, 2)
		stats.AvgPnL = stats.TotalPnL.DivRound(n, 8)
	}
	if startingBalance.IsPositive() {
		stats.TotalReturnPct = stats.FinalBalance.Sub(startingBalance).Mul(hundred).DivRound(startingBalance, 4)
	}
	return stats
}
