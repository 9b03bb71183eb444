package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every flasharb metric
const DefaultNamespace = "flasharb"

var registry = prometheus.NewRegistry()

// Registry returns the process-wide registry served on /metrics
func Registry() *prometheus.Registry {
	return registry
}

// ExecutorMetrics instruments arbitrage invocations
type ExecutorMetrics struct {
	Attempts      prometheus.Counter
	Successes     prometheus.Counter
	Failures      *prometheus.CounterVec
	ProfitTotal   prometheus.Counter
	PathLength    prometheus.Histogram
	ExecutionTime prometheus.Histogram
}

// NewExecutorMetrics registers executor metrics with reg
func NewExecutorMetrics(reg prometheus.Registerer, namespace string) *ExecutorMetrics {
	factory := promauto.With(reg)
	return &ExecutorMetrics{
		Attempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "attempts_total",
			Help:      "Total number of arbitrage invocations",
		}),
		Successes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "successes_total",
			Help:      "Total number of committed arbitrage invocations",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "failures_total",
			Help:      "Aborted invocations by error kind",
		}, []string{"kind"}),
		ProfitTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "profit_total",
			Help:      "Total surplus forwarded to the owner in token base units",
		}),
		PathLength: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "path_length",
			Help:      "Number of swap legs per invocation",
			Buckets:   prometheus.LinearBuckets(1, 1, 6),
		}),
		ExecutionTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "execution_time_seconds",
			Help:      "Time taken to execute an invocation",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
}

// VaultMetrics instruments flash loans taken from the vault
type VaultMetrics struct {
	Loans       prometheus.Counter
	Volume      prometheus.Counter
	Latency     prometheus.Histogram
	ActiveLoans prometheus.Gauge
	Errors      *prometheus.CounterVec
}

// NewVaultMetrics registers vault client metrics with reg
func NewVaultMetrics(reg prometheus.Registerer, namespace string) *VaultMetrics {
	factory := promauto.With(reg)
	return &VaultMetrics{
		Loans: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flashloan",
			Name:      "loans_total",
			Help:      "Total number of repaid flash loans",
		}),
		Volume: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flashloan",
			Name:      "volume_total",
			Help:      "Total principal borrowed in token base units",
		}),
		Latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flashloan",
			Name:      "latency_seconds",
			Help:      "Latency of flash loans including the callback",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		ActiveLoans: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flashloan",
			Name:      "active_loans",
			Help:      "Number of currently outstanding flash loans",
		}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flashloan",
			Name:      "errors_total",
			Help:      "Failed flash loans by error kind",
		}, []string{"kind"}),
	}
}
