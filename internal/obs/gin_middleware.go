package obs

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in and out of gin handlers.
const RequestIDHeader = "X-Request-ID"

const requestIDContextKey = "request_id"

// GinRequestLogger logs one line per request and propagates a request id,
// generating one when the caller did not send a usable value.
func GinRequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		requestID := strings.TrimSpace(contextGin.GetHeader(RequestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		contextGin.Set(requestIDContextKey, requestID)
		contextGin.Header(RequestIDHeader, requestID)

		contextGin.Next()

		logger.Info("http",
			zap.String("request_id", requestID),
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}

// RequestID returns the id GinRequestLogger assigned to the request.
func RequestID(contextGin *gin.Context) string {
	return contextGin.GetString(requestIDContextKey)
}
