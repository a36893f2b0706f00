// Package handlers provides HTTP handler implementations for the public API.
//
// Every failure goes through fail (or failErr, which maps service errors to
// a status and code) so clients always receive an ErrorResponse.
//
//	HTTP/1.1 429 Too Many Requests
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "too_many_requests",
//	  "message": "daily generation quota exceeded"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/assessment-chat/internal/http/middleware"
	"github.com/tbourn/assessment-chat/internal/ratelimit"
	"github.com/tbourn/assessment-chat/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"conversation not found"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error to its status and code. Persistence details
// are logged but not echoed to the client.
func failErr(c *gin.Context, err error) {
	var perr *services.PersistenceError
	switch {
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, err.Error())
	case errors.Is(err, services.ErrOwnershipViolation):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrConversationNotFound),
		errors.Is(err, services.ErrMessageNotFound),
		errors.Is(err, services.ErrJobNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrEmptyContent),
		errors.Is(err, services.ErrTooLong),
		errors.Is(err, services.ErrInvalidRole),
		errors.Is(err, services.ErrInvalidWebhookURL),
		errors.Is(err, services.ErrNotEditable):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.As(err, &perr):
		middleware.LoggerFrom(c).Error().Err(err).Str("op", perr.Op).Msg("persistence failure")
		fail(c, http.StatusInternalServerError, ErrCodePersistenceFailed, "could not "+perr.Op)
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unexpected error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
