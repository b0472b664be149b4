package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures a call's duration
type Timer struct {
	start   time.Time
	metrics *Metrics
	channel string
	method  string
}

// NewTimer starts timing a call
func NewTimer(metrics *Metrics, channel, method string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		channel: channel,
		method:  method,
	}
}

// Stop records the call with its outcome
func (t *Timer) Stop(outcome string) {
	t.metrics.RecordCall(t.channel, t.method, outcome, time.Since(t.start))
}
