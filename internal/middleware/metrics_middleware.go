package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

type HTTPRecorder interface {
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)
}

// Metrics records every request under its route template so path
// parameters do not explode label cardinality.
func Metrics(recorder HTTPRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		recorder.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
