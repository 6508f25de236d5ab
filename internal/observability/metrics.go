// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the keeper.
type Metrics struct {
	// Submission metrics
	SubmissionsTotal  *prometheus.CounterVec
	SequenceConflicts prometheus.Counter
	SequenceResyncs   prometheus.Counter

	// Price feed metrics
	QuotesAccepted *prometheus.CounterVec
	QuotesRejected *prometheus.CounterVec
	TrackedSymbols prometheus.Gauge

	// Liquidation loop metrics
	LiquidationScans      prometheus.Counter
	PositionsEvaluated    prometheus.Counter
	PositionsSkipped      *prometheus.CounterVec
	LiquidationsSubmitted prometheus.Counter
	ForceLiquidations     prometheus.Counter
	ScanDuration          prometheus.Histogram

	// Conditional order metrics
	OrderChecks       prometheus.Counter
	OrdersExecuted    prometheus.Counter
	OrdersFailed      prometheus.Counter
	OrdersNeedsResign prometheus.Counter
	OrdersExpired     prometheus.Counter
	PendingOrders     prometheus.Gauge

	// Ledger metrics
	RPCCallLatency *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tethra_keeper"
	}

	return &Metrics{
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submitter",
			Name:      "submissions_total",
			Help:      "Total transaction submissions by operation and outcome",
		}, []string{"operation", "outcome"}),
		SequenceConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submitter",
			Name:      "sequence_conflicts_total",
			Help:      "Total submissions rejected for a sequence conflict",
		}),
		SequenceResyncs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "resyncs_total",
			Help:      "Total sequence counter resyncs from the ledger",
		}),

		QuotesAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "quotes_accepted_total",
			Help:      "Total quotes accepted into the cache by source",
		}, []string{"source"}),
		QuotesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "quotes_rejected_total",
			Help:      "Total quotes rejected as stale or out of order",
		}, []string{"source"}),
		TrackedSymbols: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "tracked_symbols",
			Help:      "Number of symbols with a cached quote",
		}),

		LiquidationScans: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidation",
			Name:      "scans_total",
			Help:      "Total liquidation scan cycles",
		}),
		PositionsEvaluated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidation",
			Name:      "positions_evaluated_total",
			Help:      "Total open positions evaluated",
		}),
		PositionsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidation",
			Name:      "positions_skipped_total",
			Help:      "Total positions skipped by reason",
		}, []string{"reason"}),
		LiquidationsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidation",
			Name:      "submitted_total",
			Help:      "Total force-close submissions",
		}),
		ForceLiquidations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidation",
			Name:      "force_floor_total",
			Help:      "Total liquidations forced by the local loss floor",
		}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "liquidation",
			Name:      "scan_duration_seconds",
			Help:      "Liquidation scan duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		OrderChecks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "checks_total",
			Help:      "Total conditional-order evaluation cycles",
		}),
		OrdersExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "executed_total",
			Help:      "Total conditional orders executed",
		}),
		OrdersFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "failed_total",
			Help:      "Total conditional orders terminally failed",
		}),
		OrdersNeedsResign: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "needs_resign_total",
			Help:      "Total orders quarantined for a stale authorization",
		}),
		OrdersExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "expired_total",
			Help:      "Total orders swept to expired",
		}),
		PendingOrders: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "pending",
			Help:      "Current number of pending conditional orders",
		}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_latency_seconds",
			Help:      "Ledger RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
