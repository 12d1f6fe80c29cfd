package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	SnapshotsFetched  Counter
	FetchFailed       Counter
	FetchRetries      Counter
	HistoryAppended   Counter
	PositionsOpened   Counter
	PositionsClosed   Counter
	PersistFailed     Counter
	TradeAppendFailed Counter

	Balance          Gauge
	UnrealizedPnLPct Gauge
	PositionOpen     Gauge
	FundingRate      Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		SnapshotsFetched:  n,
		FetchFailed:       n,
		FetchRetries:      n,
		HistoryAppended:   n,
		PositionsOpened:   n,
		PositionsClosed:   n,
		PersistFailed:     n,
		TradeAppendFailed: n,
		Balance:           g,
		UnrealizedPnLPct:  g,
		PositionOpen:      g,
		FundingRate:       g,
	}
}
