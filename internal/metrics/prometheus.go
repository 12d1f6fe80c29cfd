package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "okx_funding_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry          *prometheus.Registry
	snapshotsFetched  prometheus.Counter
	fetchFailed       prometheus.Counter
	fetchRetries      prometheus.Counter
	historyAppended   prometheus.Counter
	positionsOpened   prometheus.Counter
	positionsClosed   prometheus.Counter
	persistFailed     prometheus.Counter
	tradeAppendFailed prometheus.Counter
	balance           prometheus.Gauge
	unrealizedPnLPct  prometheus.Gauge
	positionOpen      prometheus.Gauge
	fundingRate       prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:          registry,
		snapshotsFetched:  newCounter("snapshots_fetched_total", "Total number of snapshots fetched."),
		fetchFailed:       newCounter("fetch_failed_total", "Total number of polls that produced no snapshot."),
		fetchRetries:      newCounter("fetch_retries_total", "Total number of snapshot fetch retries."),
		historyAppended:   newCounter("history_appended_total", "Total number of snapshots appended to history."),
		positionsOpened:   newCounter("positions_opened_total", "Total number of paper positions opened."),
		positionsClosed:   newCounter("positions_closed_total", "Total number of paper positions closed."),
		persistFailed:     newCounter("persist_failed_total", "Total number of state writes that failed."),
		tradeAppendFailed: newCounter("trade_append_failed_total", "Total number of trade journal appends that failed."),
		balance:           newGauge("paper_balance", "Paper account balance in quote currency."),
		unrealizedPnLPct:  newGauge("unrealized_pnl_pct", "Unrealized PnL of the open position in percent."),
		positionOpen:      newGauge("position_open", "Open position side: 1 short, -1 long, 0 flat."),
		fundingRate:       newGauge("funding_rate", "Last observed fractional funding rate."),
	}
	registry.MustRegister(
		p.snapshotsFetched, p.fetchFailed, p.fetchRetries, p.historyAppended,
		p.positionsOpened, p.positionsClosed, p.persistFailed, p.tradeAppendFailed,
		p.balance, p.unrealizedPnLPct, p.positionOpen, p.fundingRate,
	)
	p.Metrics = &Metrics{
		SnapshotsFetched:  promCounter{p.snapshotsFetched},
		FetchFailed:       promCounter{p.fetchFailed},
		FetchRetries:      promCounter{p.fetchRetries},
		HistoryAppended:   promCounter{p.historyAppended},
		PositionsOpened:   promCounter{p.positionsOpened},
		PositionsClosed:   promCounter{p.positionsClosed},
		PersistFailed:     promCounter{p.persistFailed},
		TradeAppendFailed: promCounter{p.tradeAppendFailed},
		Balance:           promGauge{p.balance},
		UnrealizedPnLPct:  promGauge{p.unrealizedPnLPct},
		PositionOpen:      promGauge{p.positionOpen},
		FundingRate:       promGauge{p.fundingRate},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
