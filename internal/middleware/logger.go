package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		statusCode := c.Writer.Status()
		fields := log.Fields{
			"request_id": c.GetString(KeyRequestID),
			"method":     method,
			"path":       path,
			"status":     statusCode,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}

		if d, ok := DecisionFrom(c); ok {
			fields["verdict"] = d.Verdict.String()
			if d.Resolution.TrackingKey != "" {
				fields["tracking_key"] = d.Resolution.TrackingKey
				fields["group"] = d.Resolution.Group
			}
			if d.FailedOpen {
				fields["failed_open"] = true
			}
		}

		entry := log.WithFields(fields)
		switch {
		case statusCode >= 500:
			entry.Error("request completed")
		case statusCode >= 400:
			entry.Warn("request completed")
		default:
			entry.Info("request completed")
		}
	}
}
