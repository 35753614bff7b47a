package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobvault/internal/api/dto"
	"github.com/cuongbtq/jobvault/internal/domain"
)

// Error codes carried in the response envelope
const (
	CodeInvalidInput       = "invalid_input"
	CodeUnauthenticated    = "unauthenticated"
	CodeTokenExpired       = "token_expired"
	CodeInvalidCredentials = "invalid_credentials"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeDuplicateIdentity  = "duplicate_identity"
	CodeRateLimited        = "rate_limited"
	CodeUnavailable        = "service_unavailable"
	CodeInternal           = "internal"
)

// classify maps a service error to its HTTP status and code
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, domain.ErrTokenExpired):
		return http.StatusUnauthorized, CodeTokenExpired
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeInvalidCredentials
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, CodeUnauthenticated
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrDuplicateIdentity):
		return http.StatusConflict, CodeDuplicateIdentity
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// RespondError writes the error envelope for err and aborts the request.
// Internal errors are logged and never echoed to the caller.
func RespondError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := classify(err)
	message := err.Error()

	switch {
	case errors.Is(err, domain.ErrIllegalTransition):
		logger.Error("Illegal job state transition reached the API",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		message = "internal error"
	case status == http.StatusInternalServerError:
		logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		message = "internal error"
	case status == http.StatusServiceUnavailable:
		message = "service temporarily unavailable"
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: message, Code: code})
}
