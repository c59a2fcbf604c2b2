package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts job resolutions by outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "categorizer_jobs_total",
			Help: "Jobs resolved by the worker, labeled by outcome (completed, skipped, retried, failed).",
		},
		[]string{"outcome"},
	)

	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "categorizer_decisions_total",
			Help: "Categorization decisions by kind (cache, override, model, skip).",
		},
		[]string{"kind"},
	)

	CacheInvalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "categorizer_cache_invalidations_total",
			Help: "Merchant cache entries dropped because their category no longer exists.",
		},
	)

	CategoryCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "categorizer_category_cache_requests_total",
			Help: "Category list lookups against Redis, labeled hit or miss.",
		},
		[]string{"result"},
	)

	ClassifierLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "categorizer_classifier_latency_seconds",
			Help:    "Classifier call latency in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"provider", "success"},
	)
)

func IncJob(outcome string) { JobsTotal.WithLabelValues(outcome).Inc() }

func IncDecision(kind string) { DecisionsTotal.WithLabelValues(kind).Inc() }

func IncCategoryCache(result string) { CategoryCacheRequests.WithLabelValues(result).Inc() }

func ObserveClassifier(provider string, success bool, d time.Duration) {
	ClassifierLatency.WithLabelValues(provider, strconv.FormatBool(success)).Observe(d.Seconds())
}

// RegisterPendingGauge exposes the queue backlog, read on every scrape.
func RegisterPendingGauge(count func(ctx context.Context) (int, error)) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "categorizer_jobs_pending",
			Help: "Jobs currently waiting in the pending state.",
		},
		func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := count(ctx)
			if err != nil {
				return -1
			}
			return float64(n)
		},
	)
}
