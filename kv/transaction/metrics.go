package transaction

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "occkv",
			Subsystem: "txn",
			Name:      "txns_count",
			Help:      "Counter of finished txns.",
		}, []string{"result"})

	txnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "occkv",
			Subsystem: "txn",
			Name:      "commit_duration_seconds",
			Help:      "Bucketed histogram of time (s) from commit submission to a terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
		}, []string{"result"})

	historyOverrunCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "occkv",
			Subsystem: "txn",
			Name:      "history_overrun_total",
			Help:      "Counter of txns aborted because the commit history no longer covered their start.",
		})

	activeValidationsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "occkv",
			Subsystem: "txn",
			Name:      "active_validations",
			Help:      "Number of txns between entering validation and finishing.",
		})

	historyGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "occkv",
			Subsystem: "txn",
			Name:      "history_index",
			Help:      "Transaction number of the latest commit.",
		})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(txnDuration)
	prometheus.MustRegister(historyOverrunCounter)
	prometheus.MustRegister(activeValidationsGauge)
	prometheus.MustRegister(historyGauge)
}
