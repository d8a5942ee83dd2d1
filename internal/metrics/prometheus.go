package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitl_submissions_total",
			Help: "Submissions processed, by resulting status",
		},
		[]string{"status"},
	)

	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitl_gate_decisions_total",
			Help: "Confidence gate routing decisions",
		},
		[]string{"decision"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hitl_confidence_score",
			Help:    "Self-evaluated confidence of generated answers",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ContextItemsUsed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hitl_context_items_used",
			Help:    "Approved examples used as retrieval context per submission",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	PendingItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hitl_pending_items",
			Help: "Items waiting for human review",
		},
	)

	PublishedItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hitl_published_items",
			Help: "Items in the published corpus",
		},
	)

	ReviewDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitl_review_decisions_total",
			Help: "Human review decisions applied",
		},
		[]string{"action"},
	)

	RetrainRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitl_retrain_runs_total",
			Help: "Classifier retrain attempts, by outcome",
		},
		[]string{"result"},
	)

	SubmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hitl_submit_duration_seconds",
			Help:    "End-to-end submission latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
)

func Init() {
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(GateDecisions)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(ContextItemsUsed)
	prometheus.MustRegister(PendingItems)
	prometheus.MustRegister(PublishedItems)
	prometheus.MustRegister(ReviewDecisions)
	prometheus.MustRegister(RetrainRuns)
	prometheus.MustRegister(SubmitDuration)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
