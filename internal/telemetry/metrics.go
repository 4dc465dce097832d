// Package telemetry provides application-level observability for devflowfix.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<DFX_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router and
// is therefore absent from the OpenAPI/Swagger spec.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Webhook ingest counters (labelled by provider and verification outcome)
//   - Remediation attempt counters, duration histogram, and queue depth gauge
//   - Code-host API call counters (labelled by provider and operation)
//   - Fix-generation model call counters and latency histogram
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/repositories/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as repository ids or run ids.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening:
//
//	import _ "github.com/devflowfix/devflowfix/internal/telemetry"
//
// Or import it directly and use an exported var:
//
//	telemetry.WebhookEventsTotal.WithLabelValues("github", "workflow_run", "accepted").Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /api/v1/runs/:id/incidents),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Webhook ingest metrics — recorded by the webhook handlers for every delivery,
// including ones rejected before any processing.
//
// WebhookEventsTotal is a CounterVec with labels {provider, event, outcome}.
// provider is "github" or "gitlab"; event is the provider's event type header
// value; outcome is one of accepted, ignored, invalid_signature,
// unknown_connection, or malformed.
//
// Example PromQL queries:
//   - Delivery rate by provider:    sum by (provider) (rate(webhook_events_total[5m]))
//   - Signature failure alert:      increase(webhook_events_total{outcome="invalid_signature"}[15m]) > 10
//   - Ignored-to-accepted ratio:    sum(rate(webhook_events_total{outcome="ignored"}[1h])) / sum(rate(webhook_events_total{outcome="accepted"}[1h]))
var WebhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of webhook deliveries received, by provider, event type, and verification outcome.",
	},
	[]string{"provider", "event", "outcome"},
)

// Workflow tracking metrics — recorded by the tracker as verified deliveries
// land.
//
// WorkflowRunsTotal is a CounterVec with labels {provider, conclusion},
// incremented once per completed run (in-progress status updates are not
// counted). conclusion is the normalized value: success, failure, cancelled,
// skipped, timed_out, action_required, or unknown.
//
// IncidentsOpenedTotal is a CounterVec with labels {provider, severity},
// incremented when a run failure mints a new incident row. Redeliveries of the
// same failure do not count.
//
// Example PromQL queries:
//   - Failure rate (%):        sum(rate(workflow_runs_total{conclusion="failure"}[1h])) / sum(rate(workflow_runs_total[1h])) * 100
//   - High-severity incidents: increase(incidents_opened_total{severity="high"}[24h])
var (
	WorkflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_runs_total",
			Help: "Total number of completed workflow runs observed, by provider and conclusion.",
		},
		[]string{"provider", "conclusion"},
	)

	IncidentsOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidents_opened_total",
			Help: "Total number of incidents minted from failed runs, by provider and severity.",
		},
		[]string{"provider", "severity"},
	)
)

// Remediation metrics — recorded by the remediation workers.
//
// RemediationAttemptsTotal is a CounterVec with labels {provider, outcome}.
// outcome is the terminal incident status: remediated, or one of the
// failed_* statuses (failed_no_credentials, failed_no_logs, failed_no_signal,
// failed_provider, failed_budget, failed_conflict, failed_timeout,
// failed_remediation).
//
// Example PromQL queries:
//   - Success rate (%):       sum(rate(remediation_attempts_total{outcome="remediated"}[1h])) / sum(rate(remediation_attempts_total[1h])) * 100
//   - Failures by cause:      sum by (outcome) (increase(remediation_attempts_total{outcome=~"failed_.*"}[24h]))
//
// RemediationDuration is a Histogram observing wall time from claim to terminal
// status, with buckets sized for a 300 s deadline.
//
// Example PromQL queries:
//   - p95 attempt duration:   histogram_quantile(0.95, rate(remediation_duration_seconds_bucket[1h]))
//
// RemediationQueueDepth is a Gauge tracking incidents waiting in the in-process
// dispatch queue. Sustained growth means the worker pool is undersized.
//
// Example PromQL queries:
//   - Backlog alert:          remediation_queue_depth > 32
var (
	RemediationAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remediation_attempts_total",
			Help: "Total number of completed remediation attempts, by provider and terminal outcome.",
		},
		[]string{"provider", "outcome"},
	)

	RemediationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "remediation_duration_seconds",
			Help:    "Wall time of a remediation attempt from claim to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 240, 300, 450},
		},
	)

	RemediationQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remediation_queue_depth",
			Help: "Number of incidents currently waiting in the remediation dispatch queue.",
		},
	)
)

// Code-host client metrics — recorded by the provider connectors around every
// outbound API call, after retries are exhausted.
//
// ProviderRequestsTotal is a CounterVec with labels {provider, operation, status}.
// operation is the connector method name (e.g. get_file, create_pull_request);
// status is the final HTTP status code, or "network" when no response arrived.
//
// Example PromQL queries:
//   - Rate-limit pressure:   sum by (provider) (rate(provider_requests_total{status="429"}[15m]))
//   - Call mix by operation: sum by (operation) (rate(provider_requests_total[1h]))
var ProviderRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "provider_requests_total",
		Help: "Total number of code-host API calls, by provider, operation, and final HTTP status.",
	},
	[]string{"provider", "operation", "status"},
)

// Fix-generation model metrics.
//
// LLMRequestsTotal is a CounterVec with label {outcome}: ok, error, or
// unparseable (the model replied but the response contained no usable JSON).
//
// LLMRequestDuration is a Histogram of chat-completion round-trip time.
//
// LLMTokensTotal is a CounterVec with label {direction}: prompt or completion,
// accumulated from the usage block of each model response. This is the number
// to watch for cost; duration alone hides oversized prompts.
//
// Example PromQL queries:
//   - Unparseable ratio:  sum(rate(llm_requests_total{outcome="unparseable"}[1h])) / sum(rate(llm_requests_total[1h]))
//   - p99 model latency:  histogram_quantile(0.99, rate(llm_request_duration_seconds_bucket[1h]))
//   - Token burn (per h): sum by (direction) (increase(llm_tokens_total[1h]))
var (
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of fix-generation model calls, by outcome.",
		},
		[]string{"outcome"},
	)

	LLMRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Round-trip latency of fix-generation model calls.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90, 120},
		},
	)

	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total tokens consumed by fix-generation model calls, by direction.",
		},
		[]string{"direction"},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <DFX_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
