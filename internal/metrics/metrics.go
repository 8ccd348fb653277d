// Package metrics registers the Prometheus series the engine updates while
// trading. Served by the web server at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TradesOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_trades_opened_total",
			Help: "Positions opened",
		},
	)

	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_closed_total",
			Help: "Positions closed, split by close reason",
		},
		[]string{"reason"},
	)

	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_admission_rejections_total",
			Help: "Candidate entries rejected, split by reason code",
		},
		[]string{"reason"},
	)

	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity_usdc",
			Help: "Current account equity in USDC",
		},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Open position count",
		},
	)

	GuardStop = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_guard_stop",
			Help: "1 while the daily drawdown guard blocks new entries",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TradesOpened,
		TradesClosed,
		Rejections,
		Equity,
		OpenPositions,
		GuardStop,
	)
}
