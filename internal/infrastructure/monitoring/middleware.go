package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())

		metrics.RecordHTTPRequest(method, path, status, duration)
	}
}

// Timer measures an external call duration.
type Timer struct {
	start   time.Time
	metrics *Metrics
	service string
}

// NewTimer creates a new timer for an external service call.
func NewTimer(metrics *Metrics, service string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		service: service,
	}
}

// Stop stops the timer and records the call outcome.
func (t *Timer) Stop(status string) {
	t.metrics.RecordExternalCall(t.service, status, time.Since(t.start))
}
