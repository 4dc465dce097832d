// metrics.go records per-request Prometheus metrics for every route.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devflowfix/devflowfix/internal/telemetry"
)

// MetricsMiddleware returns a Gin handler that records two Prometheus metrics
// for every request that passes through the router.
//
// Recorded metrics:
//   - http_requests_total{method, path, status}    — CounterVec
//   - http_request_duration_seconds{method, path}  — HistogramVec
//
// The path label is set from c.FullPath(), which returns the matched Gin route
// template (e.g. /api/v1/incidents/:id) rather than the raw URL, so per-id
// URLs do not explode label cardinality. Requests that match no registered
// route (404/405) use the literal string "<no-route>" for the same reason.
//
// Register this after gin.Recovery() and RequestIDMiddleware so the status set
// by error handlers is captured correctly. See telemetry.HTTPRequestsTotal and
// telemetry.HTTPRequestDuration for example PromQL queries.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := fmt.Sprintf("%d", c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}
