// file: internal/server/logger.go
// version: 2.0.0
// guid: 1d2e3f4a-5b6c-7d8e-9f0a-1b2c3d4e5f6a

package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/jdfalk/dj-tagger/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// requestLogger assigns a request id and logs each request once it completes.
// Health checks and metric scrapes are logged at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = ulid.Make().String()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		fields := []logger.Field{
			logger.String("request_id", requestID),
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", status),
			logger.Int("bytes", c.Writer.Size()),
			logger.Duration("latency", time.Since(start)),
			logger.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			logger.Error("request", fields...)
		case isQuietPath(c.FullPath()):
			logger.Debug("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

func isQuietPath(route string) bool {
	switch route {
	case "/health", "/api/v1/health", "/metrics":
		return true
	default:
		return false
	}
}
