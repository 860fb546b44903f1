package adminhttp

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurahashiryo/orientdb/pkg/metrics"
)

// metricsMiddleware records traffic/latency/error metrics for the
// admin HTTP surface, adapted from the teacher's per-request metrics
// middleware and scoped to this node's identity instead of a storage
// server id.
func metricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		statusCode := strconv.Itoa(c.Writer.Status())

		metrics.AdminHTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode, node).Inc()
		metrics.AdminHTTPRequestDuration.WithLabelValues(method, endpoint, node).Observe(duration)

		if c.Writer.Status() >= 400 {
			metrics.AdminHTTPErrorsTotal.WithLabelValues(method, endpoint, statusCode, errorType(c.Writer.Status()), node).Inc()
		}
	}
}

func errorType(statusCode int) string {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "unknown"
	}
}
