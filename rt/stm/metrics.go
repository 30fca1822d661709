package stm

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyclj",
			Subsystem: "stm",
			Name:      "transactions_total",
			Help:      "Counter of finished transaction runs by outcome.",
		}, []string{"type"})

	retryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyclj",
			Subsystem: "stm",
			Name:      "retries_total",
			Help:      "Counter of abandoned transaction attempts by reason.",
		}, []string{"reason"})

	bargeCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinyclj",
			Subsystem: "stm",
			Name:      "barges_total",
			Help:      "Counter of younger transactions killed by older ones.",
		})

	historyFaultCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinyclj",
			Subsystem: "stm",
			Name:      "history_faults_total",
			Help:      "Counter of reads which found no value old enough in a ref history.",
		})

	attemptsHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinyclj",
			Subsystem: "stm",
			Name:      "attempts",
			Help:      "Bucketed histogram of attempts needed per transaction run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		})

	commitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinyclj",
			Subsystem: "stm",
			Name:      "commit_duration_seconds",
			Help:      "Bucketed histogram of time spent in the commit protocol.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 20),
		})

	activeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tinyclj",
			Subsystem: "stm",
			Name:      "active_transactions",
			Help:      "Number of transaction attempts currently running.",
		})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(retryCounter)
	prometheus.MustRegister(bargeCounter)
	prometheus.MustRegister(historyFaultCounter)
	prometheus.MustRegister(attemptsHistogram)
	prometheus.MustRegister(commitDuration)
	prometheus.MustRegister(activeGauge)
}
