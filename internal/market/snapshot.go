package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is one observation of the instrument. Timestamp is the exchange
// ticker time; FundingRate is fractional (0.003 = 0.3%).
type Snapshot struct {
	InstID          string              `json:"inst_id"`
	Timestamp       time.Time           `json:"timestamp"`
	Price           decimal.Decimal     `json:"price"`
	FundingRate     decimal.Decimal     `json:"funding_rate"`
	NextFundingTime time.Time           `json:"next_funding_time"`
	OpenInterest    decimal.NullDecimal `json:"open_interest"`
	OpenInterestUSD decimal.NullDecimal `json:"open_interest_usd"`
}

// FundingRatePct returns the funding rate on the percentage scale.
func (s Snapshot) FundingRatePct() decimal.Decimal {
	return s.FundingRate.Shift(2)
}
