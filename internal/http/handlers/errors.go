// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes give clients a stable, machine-readable error taxonomy alongside the
// human-readable message. Every error response carries one of them.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes mirror HTTP status semantics.
//   - Domain-specific codes (e.g., upstream_exhausted, credential_missing)
//     cover relay outcomes the status alone cannot express.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "upstream_exhausted",
//	  "message": "all upstream models failed"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-botrelay/internal/http/middleware"
	"github.com/tbourn/go-botrelay/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeUpstreamExhausted = "upstream_exhausted"
	ErrCodeCredentialMissing = "credential_missing"
	ErrCodeCreateFailed      = "create_failed"
	ErrCodeListFailed        = "list_failed"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
)

// failService maps a service error to its status and code.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidRequest), errors.Is(err, services.ErrInvalidBot):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "not allowed to chat with this bot")
	case errors.Is(err, services.ErrBotNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "bot not found")
	case errors.Is(err, services.ErrShareNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "share link not found or expired")
	case errors.Is(err, services.ErrCredentialMissing):
		fail(c, http.StatusBadRequest, ErrCodeCredentialMissing, err.Error())
	case errors.Is(err, services.ErrUpstreamExhausted):
		fail(c, http.StatusInternalServerError, ErrCodeUpstreamExhausted, services.ErrUpstreamExhausted.Error())
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled service error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// isClientError reports whether err is a caller mistake rather than a failure.
func isClientError(err error) bool {
	return errors.Is(err, services.ErrInvalidRequest) ||
		errors.Is(err, services.ErrInvalidBot) ||
		errors.Is(err, services.ErrUnauthorized) ||
		errors.Is(err, services.ErrBotNotFound) ||
		errors.Is(err, services.ErrShareNotFound)
}
