package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_committed_total",
			Help: "Total number of ledger transactions persisted",
		},
		[]string{"type", "dry_run"},
	)

	transactionsUndone = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_undone_total",
			Help: "Total number of compensating undo runs",
		},
		[]string{"type"},
	)

	gatewayCharges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_charges_total",
			Help: "Total number of gateway charge attempts",
		},
		[]string{"outcome"},
	)

	gatewayRefunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_refunds_total",
			Help: "Total number of gateway refund attempts",
		},
		[]string{"outcome"},
	)

	workflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_workflow_duration_seconds",
			Help:    "Workflow duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow", "outcome"},
	)
)

// TransactionCommitted records a persisted ledger transaction
func TransactionCommitted(txType string, dryRun bool) {
	label := "false"
	if dryRun {
		label = "true"
	}
	transactionsCommitted.WithLabelValues(txType, label).Inc()
}

// TransactionUndone records a compensating undo run
func TransactionUndone(txType string) {
	transactionsUndone.WithLabelValues(txType).Inc()
}

// ChargeAttempt records a gateway charge outcome ("succeeded",
// "failed", "skipped")
func ChargeAttempt(outcome string) {
	gatewayCharges.WithLabelValues(outcome).Inc()
}

// RefundAttempt records a gateway refund outcome
func RefundAttempt(outcome string) {
	gatewayRefunds.WithLabelValues(outcome).Inc()
}

// ObserveWorkflow records a workflow run
func ObserveWorkflow(workflow string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	workflowDuration.WithLabelValues(workflow, outcome).Observe(time.Since(start).Seconds())
}
