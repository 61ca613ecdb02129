package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"filevault/internal/shared/telemetry"
)

const fileIDKey = "fileId"

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		userID, _ := c.Get(userIDKey)
		fileID, _ := c.Get(fileIDKey)

		telemetry.Info("request.complete", map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"user_id":     userID,
			"file_id":     fileID,
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		})
	}
}

// SetFileID records the file a request operated on for the request log.
func SetFileID(c *gin.Context, id string) {
	if c != nil && id != "" {
		c.Set(fileIDKey, id)
	}
}
