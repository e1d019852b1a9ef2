package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"evalplane/internal/logging"
	"evalplane/internal/services"
)

// RequestIDHeader carries the correlation id in and out of the API.
const RequestIDHeader = "X-Request-ID"

// requestID tags every request with a correlation id, reusing the caller's
// when one is supplied.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// accessLog records one debug line per request and a warning for 5xx.
func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []logging.Attr{
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", status),
			logging.Duration("elapsed", time.Since(start)),
		}
		log := logging.WithContext(c.Request.Context(), logger)
		if status >= http.StatusInternalServerError {
			logging.WarnWithContext(log, "api request failed", "api_request_failed", attrs...)
			return
		}
		log.Debug("api request", logging.Args(attrs...)...)
	}
}

// bearerAuth requires "Authorization: Bearer <token>" when token is set.
func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}
