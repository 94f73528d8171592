// internal/handler/errors.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"anova-service/internal/command"
	"anova-service/internal/protocol"
	"anova-service/internal/registry"
	"anova-service/internal/service"
	"anova-service/internal/transport"
	"anova-service/internal/utils"
)

// StatusFor maps a device operation error onto an HTTP status.
// Decode failures are checked before invalid payloads because a bad unit
// reply wraps both.
func StatusFor(err error) int {
	var decodeErr *command.DecodeError
	var connErr *protocol.ConnectionError
	var cmdErr *protocol.CommandError
	var transportErr *transport.Error

	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, service.ErrNoDevice):
		return http.StatusNotFound
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, command.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.As(err, &connErr), errors.As(err, &cmdErr), errors.As(err, &transportErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the standard error envelope for a device operation
func respondError(c *gin.Context, message string, err error) {
	utils.ErrorResponse(c, StatusFor(err), message, err)
}
