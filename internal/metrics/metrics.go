package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinetrack",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cinetrack",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"method", "path"})

	RetryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinetrack",
		Name:      "retry_attempts_total",
		Help:      "Attempts made by the backoff executor by operation label and outcome.",
	}, []string{"label", "outcome"})

	FetchCommitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinetrack",
		Name:      "fetch_commits_total",
		Help:      "Fetch controller results by controller label and outcome (success, error, superseded).",
	}, []string{"label", "outcome"})

	CatalogRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinetrack",
		Name:      "catalog_requests_total",
		Help:      "Total requests to the movie catalog by operation and result status.",
	}, []string{"operation", "status"})

	CatalogRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cinetrack",
		Name:      "catalog_request_duration_seconds",
		Help:      "Movie catalog request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinetrack",
		Name:      "catalog_cache_hits_total",
		Help:      "Catalog cache hits by cache layer (memory, redis).",
	}, []string{"layer"})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cinetrack",
		Name:      "catalog_cache_misses_total",
		Help:      "Catalog lookups that missed every cache layer.",
	})

	SearchesRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinetrack",
		Name:      "searches_recorded_total",
		Help:      "Search events applied to trend aggregates by result (created, merged, failed).",
	}, []string{"result"})

	SearchEventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinetrack",
		Name:      "search_events_published_total",
		Help:      "Search events handed to the event transport by transport and status.",
	}, []string{"transport", "status"})

	ReconcileRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinetrack",
		Name:      "reconcile_runs_total",
		Help:      "Reconciliation passes by status (ok, partial, error).",
	}, []string{"status"})

	ReconcileGroupsMergedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cinetrack",
		Name:      "reconcile_groups_merged_total",
		Help:      "Duplicate aggregate groups merged into a canonical record.",
	})

	ReconcileRecordsRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cinetrack",
		Name:      "reconcile_records_removed_total",
		Help:      "Duplicate aggregate records deleted by reconciliation.",
	})

	ReconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cinetrack",
		Name:      "reconcile_duration_seconds",
		Help:      "Reconciliation pass duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	ReconcileLastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cinetrack",
		Name:      "reconcile_last_success_timestamp_seconds",
		Help:      "Unix time of the last reconciliation pass that completed without error.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RetryAttemptsTotal,
		FetchCommitsTotal,
		CatalogRequestsTotal,
		CatalogRequestDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		SearchesRecordedTotal,
		SearchEventsPublishedTotal,
		ReconcileRunsTotal,
		ReconcileGroupsMergedTotal,
		ReconcileRecordsRemovedTotal,
		ReconcileDuration,
		ReconcileLastSuccess,
	)
}
