// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"anova-service/internal/utils"
)

// LoggingMiddleware logs every request except the metrics scrape and probes.
// Stream routes are logged once, when the stream ends.
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		route := c.FullPath()
		switch route {
		case "/metrics", "/live":
			return
		}

		logger.LogAPIRequest(utils.APIRequest{
			Method:    c.Request.Method,
			Route:     route,
			Path:      c.Request.URL.Path,
			Device:    c.Param("id"),
			RequestID: c.GetString(RequestIDKey),
			ClientIP:  c.ClientIP(),
			Status:    c.Writer.Status(),
			Duration:  time.Since(startTime),
		})
	}
}
