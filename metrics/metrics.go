package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Coordinator
	DistributionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rfqflow_distributions_created_total",
			Help: "Total number of distribution records created",
		},
	)

	DistributeSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfqflow_distribute_skipped_total",
			Help: "Distribute calls that created nothing, by reason",
		},
		[]string{"reason"},
	)

	// Worker
	DeliveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfqflow_delivery_outcomes_total",
			Help: "Delivery job outcomes",
		},
		[]string{"outcome"},
	)

	TargetSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfqflow_target_sends_total",
			Help: "Individual target sends by result",
		},
		[]string{"result"},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rfqflow_delivery_duration_seconds",
			Help:    "Duration of a delivery job in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciler
	ReconcileRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rfqflow_reconcile_requeued_total",
			Help: "Pending distributions re-enqueued by the reconciliation sweep",
		},
	)
)

// Delivery outcome label values.
const (
	OutcomeDelivered    = "delivered"
	OutcomeSkipped      = "skipped"
	OutcomeNoTargets    = "no_targets"
	OutcomeFailedRetry  = "failed_retryable"
	OutcomeFailedFinal  = "failed_permanent"
	OutcomeUnexpected   = "unexpected"
	SendResultOK        = "ok"
	SendResultTransient = "transient"
	SendResultPermanent = "permanent"
)

// Handler serves /metrics and a trivial /healthz.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
