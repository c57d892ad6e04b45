package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CreditsGranted counts credits added to balances, by transaction type.
	CreditsGranted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_granted_total",
			Help: "Total credits granted",
		},
		[]string{"type"},
	)
	// CreditsConsumed counts credits spent through FIFO consumption.
	CreditsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_consumed_total",
			Help: "Total credits consumed",
		},
	)
	// CreditsExpired counts credits removed by the expiration sweep.
	CreditsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_expired_total",
			Help: "Total credits expired",
		},
	)
	// OperationsFailed counts failed ledger operations, by operation.
	OperationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_operations_failed_total",
			Help: "Total failed credit ledger operations",
		},
		[]string{"op"},
	)
	// SweepRowsFailed counts rows the sweeper could not expire.
	SweepRowsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_sweep_rows_failed_total",
			Help: "Total credit rows that failed to expire",
		},
	)
	// BalanceDrift counts users whose balance disagreed with their rows.
	BalanceDrift = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_balance_drift_total",
			Help: "Total balance drifts found by reconciliation",
		},
	)
	// HTTPLatency observes request latency by method, route and status.
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	registerOnce sync.Once
)

// Handler serves the default registry.
var Handler = promhttp.Handler

// Register adds all collectors to the default registry once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CreditsGranted,
			CreditsConsumed,
			CreditsExpired,
			OperationsFailed,
			SweepRowsFailed,
			BalanceDrift,
			HTTPLatency,
		)
	})
}
