package mw

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestLogger writes one structured access log line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		entry := log.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
			"request_id": c.GetString(RequestIDKey),
		})
		switch {
		case len(c.Errors) > 0:
			entry.WithField("errors", c.Errors.String()).Warn("request completed with errors")
		case c.Writer.Status() >= 500:
			entry.Warn("request failed")
		default:
			entry.Info("request completed")
		}
	}
}
