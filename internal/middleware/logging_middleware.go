package middleware

import (
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type LoggingConfig struct {
	ExcludePaths         []string
	SlowRequestThreshold time.Duration
}

type LoggingMiddleware struct {
	logger  *logrus.Logger
	exclude map[string]bool
	slow    time.Duration
}

func NewLoggingMiddleware(logger *logrus.Logger, config *LoggingConfig) *LoggingMiddleware {
	if config == nil {
		config = &LoggingConfig{
			ExcludePaths:         []string{"/health", "/ready", "/metrics"},
			SlowRequestThreshold: 2 * time.Second,
		}
	}

	exclude := make(map[string]bool, len(config.ExcludePaths))
	for _, p := range config.ExcludePaths {
		exclude[p] = true
	}

	return &LoggingMiddleware{
		logger:  logger,
		exclude: exclude,
		slow:    config.SlowRequestThreshold,
	}
}

// RequestLogger logs one structured line per request once it completes.
func (l *LoggingMiddleware) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if l.exclude[path] {
			return
		}

		latency := time.Since(start)
		status := c.Writer.Status()
		entry := l.logger.WithFields(logrus.Fields{
			"request_id":    requestid.Get(c),
			"method":        c.Request.Method,
			"path":          path,
			"route":         c.FullPath(),
			"status_code":   status,
			"latency_ms":    latency.Milliseconds(),
			"client_ip":     c.ClientIP(),
			"user_agent":    c.Request.UserAgent(),
			"response_size": c.Writer.Size(),
		})

		if userID, ok := UserID(c); ok {
			entry = entry.WithField("user_id", userID)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("Server error")
		case status >= 400:
			entry.Warn("Client error")
		case l.slow > 0 && latency > l.slow:
			entry.WithField("slow_request", true).Warn("Slow request detected")
		default:
			entry.Info("Request completed")
		}
	}
}

// Recovery turns a panic into a 500 and logs it with the request id.
func (l *LoggingMiddleware) Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		l.logger.WithFields(logrus.Fields{
			"request_id": requestid.Get(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"panic":      recovered,
		}).Error("Panic recovered")
		c.AbortWithStatusJSON(500, gin.H{
			"error":   "internal",
			"message": "Internal server error",
		})
	})
}
