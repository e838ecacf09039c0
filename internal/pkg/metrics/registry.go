package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database/Repository Metrics
var (
	// DBOperations tracks total database operations
	DBOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauthlink_db_operations_total",
			Help: "Total database operations by repository, operation, and status",
		},
		[]string{"repo", "operation", "status"},
	)

	// DBDuration tracks database operation latency
	DBDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "oauthlink_db_operation_duration_ms",
			Help:                            "Database operation duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"repo", "operation"},
	)

	// DBRowsAffected tracks rows affected by write operations
	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "oauthlink_db_rows_affected",
			Help:                            "Number of rows affected by database write operations",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"repo", "operation"},
	)

	// DBErrors tracks database errors by type
	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauthlink_db_errors_total",
			Help: "Total database errors by repository, operation, and error type",
		},
		[]string{"repo", "operation", "error_type"},
	)
)

// Flow Metrics
var (
	// FlowOutcomes counts finished authorization-code flows
	FlowOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauthlink_flow_outcomes_total",
			Help: "Completed authorization flows by audience, provider, and outcome",
		},
		[]string{"audience", "provider", "outcome"},
	)

	// FlowStepDuration tracks outbound provider calls
	FlowStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "oauthlink_flow_step_duration_ms",
			Help:                            "Duration of token exchange and identity fetch calls in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"provider", "step"},
	)

	// IdentityLookups counts account resolution results
	IdentityLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauthlink_identity_lookups_total",
			Help: "Identity to account lookups by audience and result (hit, miss, ambiguous)",
		},
		[]string{"audience", "result"},
	)

	// LinkOperations counts link mutations
	LinkOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauthlink_link_operations_total",
			Help: "Identity link mutations by audience, operation, and status",
		},
		[]string{"audience", "operation", "status"},
	)
)

// Cache Metrics
var (
	// CacheHits tracks cache hits
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauthlink_cache_hits_total",
			Help: "Total cache hits by cache name",
		},
		[]string{"cache_name"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauthlink_cache_misses_total",
			Help: "Total cache misses by cache name",
		},
		[]string{"cache_name"},
	)
)

// HTTP Handler Metrics
var (
	// HTTPRequests tracks HTTP requests
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauthlink_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration tracks HTTP request duration
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "oauthlink_http_request_duration_ms",
			Help:                            "HTTP request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "route"},
	)

	// HTTPActiveRequests tracks active HTTP requests
	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oauthlink_http_active_requests",
			Help: "Number of active HTTP requests",
		},
	)
)
