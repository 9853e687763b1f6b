package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/championportal/pkg/apiclient"
)

// Error codes returned in gateway error bodies.
const (
	errorCodeUnauthorized = "session.unauthorized"
	errorCodeTimeout      = "backend.timeout"
	errorCodeTransport    = "backend.transport"
	errorCodeStatus       = "backend.status"
	errorCodeUnresolved   = "identity.unresolved"
	errorCodeInvalidJSON  = "request.invalid_json"
)

// statusForError maps client failures onto gateway responses: authorization
// failures become 401, timeouts 504, upstream statuses pass through and any
// other transport failure becomes 502.
func statusForError(err error) (int, string) {
	var statusErr *apiclient.StatusError
	switch {
	case errors.Is(err, apiclient.ErrAuthorization):
		return http.StatusUnauthorized, errorCodeUnauthorized
	case errors.Is(err, apiclient.ErrTimeout):
		return http.StatusGatewayTimeout, errorCodeTimeout
	case errors.Is(err, apiclient.ErrUnresolvedIdentity):
		return http.StatusNotFound, errorCodeUnresolved
	case errors.As(err, &statusErr):
		return statusErr.StatusCode, errorCodeStatus
	default:
		return http.StatusBadGateway, errorCodeTransport
	}
}

func (server *Server) abortWithError(contextGin *gin.Context, operation string, err error) {
	status, code := statusForError(err)
	server.logger.Warn("gateway request failed",
		zap.String("code", code),
		zap.String("operation", operation),
		zap.Int("status", status),
		zap.Error(err))
	contextGin.AbortWithStatusJSON(status, gin.H{"error": code})
}
