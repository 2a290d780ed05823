package cms

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transaction outcomes counted by Metrics.
const (
	OutcomeCommitted  = "committed"
	OutcomeFailed     = "failed"
	OutcomeNoop       = "noop"
	OutcomeRolledBack = "rolled_back"
)

const namespace = "codex"

// Metrics holds the transaction counters and the commit latency histogram.
type Metrics struct {
	transactions *prometheus.CounterVec
	commitTime   prometheus.Histogram
	urlRebuilds  prometheus.Counter
}

// NewMetrics registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "total",
			Help:      "Transactions processed, by outcome.",
		}, []string{"outcome"}),
		commitTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "commit_duration_seconds",
			Help:      "Time spent validating and applying a transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		urlRebuilds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "urlindex",
			Name:      "rebuilds_total",
			Help:      "Full URL index rebuilds.",
		}),
	}
	for _, o := range []string{OutcomeCommitted, OutcomeFailed, OutcomeNoop, OutcomeRolledBack} {
		m.transactions.WithLabelValues(o)
	}
	return m
}

func (m *Metrics) count(outcome string) {
	if m != nil {
		m.transactions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) observeCommit(seconds float64) {
	if m != nil {
		m.commitTime.Observe(seconds)
	}
}

func (m *Metrics) rebuilt() {
	if m != nil {
		m.urlRebuilds.Inc()
	}
}
