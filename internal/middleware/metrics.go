package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/isotope-submissions-api/internal/service"
)

// unmatchedRoute labels requests that hit no registered route, so scans for
// random paths cannot grow the label set.
const unmatchedRoute = "unmatched"

// Metrics observes latency and status per route template. Submission IDs stay
// out of the labels because FullPath keeps the :id placeholder.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
