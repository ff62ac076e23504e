package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionsTotal counts coordinator actions by outcome (ok or an error kind).
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mercato",
			Subsystem: "coordinator",
			Name:      "actions_total",
			Help:      "Coordinator actions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// ActionLatency includes the time the user spends on the wallet prompt.
	ActionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mercato",
			Subsystem: "coordinator",
			Name:      "action_seconds",
			Help:      "Coordinator action latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
		[]string{"action"},
	)

	// LedgerDivergence counts on-chain successes whose DB write failed.
	LedgerDivergence = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mercato",
			Name:      "ledger_divergence_total",
			Help:      "On-chain transactions whose off-chain write failed",
		},
		[]string{"action"},
	)

	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mercato",
			Name:      "reconcile_total",
			Help:      "Reconciliation runs by result (repaired, in_sync, skipped, error)",
		},
		[]string{"result"},
	)
)

// ObserveAction records one finished coordinator action.
func ObserveAction(action, outcome string, start time.Time) {
	ActionsTotal.WithLabelValues(action, outcome).Inc()
	ActionLatency.WithLabelValues(action).Observe(time.Since(start).Seconds())
}
