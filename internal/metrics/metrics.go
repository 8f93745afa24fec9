package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PredictionsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroscan_predictions_submitted_total",
		Help: "Prediction jobs accepted and debited",
	}, []string{"kind"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroscan_jobs_completed_total",
		Help: "Jobs that reached completed",
	}, []string{"kind"})

	JobsRefunded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroscan_jobs_refunded_total",
		Help: "Jobs that failed permanently and were refunded",
	}, []string{"kind"})

	JobRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "neuroscan_job_retries_total",
		Help: "Transient failures sent back to the queue",
	})

	DuplicateDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "neuroscan_duplicate_deliveries_total",
		Help: "Queue deliveries discarded by the claim guard",
	})

	InsufficientBalanceRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "neuroscan_insufficient_balance_total",
		Help: "Submissions rejected for insufficient balance",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "neuroscan_inference_duration_seconds",
		Help:    "Latency of engine calls",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"op"})
)
