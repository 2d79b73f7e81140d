// Package middleware provides the gin middleware shared by the
// replica and client HTTP servers.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	apierrors "github.com/0xjeffro/pbftd/internal/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// RequestID stamps every request with a UUID, reusing one supplied by
// an upstream caller if present, and echoes it back on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs one structured line per request at the configured
// logger's level, including the request id stamped by RequestID.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		requestID, _ := c.Get("request_id")
		log.Info("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.Any("request_id", requestID),
		)
	}
}

// Recovery converts a panic into a structured 500 response instead of
// gin's default plaintext trace.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("error", r),
					zap.String("path", c.Request.URL.Path),
				)
				apiErr := apierrors.NewInternalError("internal error").
					WithStackTrace(string(debug.Stack())).
					WithMetadata("path", c.Request.URL.Path)
				c.JSON(http.StatusInternalServerError, apiErr)
				c.Abort()
			}
		}()
		c.Next()
	}
}
