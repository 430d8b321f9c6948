package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/scanium/enricher/internal/domain"
	"github.com/scanium/enricher/internal/logger"
)

// Error codes returned in the error envelope.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeCapacity        = "CAPACITY_EXCEEDED"
	CodeNotFound        = "NOT_FOUND"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInternal        = "INTERNAL_ERROR"
)

// ErrorBody is the error part of a failed response.
type ErrorBody struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
	Details   []string `json:"details,omitempty"`
}

// ErrorResponse is the envelope of every failed response.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// RespondError aborts the request with the error envelope.
func RespondError(c *gin.Context, status int, body ErrorBody) {
	c.AbortWithStatusJSON(status, ErrorResponse{Success: false, Error: body})
}

// respondServiceError maps a service error onto an HTTP status and code.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		RespondError(c, http.StatusBadRequest, ErrorBody{Code: CodeValidation, Message: err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		RespondError(c, http.StatusUnauthorized, ErrorBody{Code: CodeUnauthorized, Message: "missing or invalid API key"})
	case errors.Is(err, domain.ErrCapacityExceeded):
		c.Header("Retry-After", "1")
		RespondError(c, http.StatusTooManyRequests, ErrorBody{Code: CodeCapacity, Message: err.Error(), Retryable: true})
	case errors.Is(err, domain.ErrNotFound):
		RespondError(c, http.StatusNotFound, ErrorBody{Code: CodeNotFound, Message: "enrichment request not found or expired"})
	case errors.Is(err, domain.ErrShuttingDown):
		RespondError(c, http.StatusServiceUnavailable, ErrorBody{Code: CodeUnavailable, Message: err.Error(), Retryable: true})
	default:
		logger.CtxError(c.Request.Context(), "Unhandled service error: %v", err)
		RespondError(c, http.StatusInternalServerError, ErrorBody{Code: CodeInternal, Message: "internal error"})
	}
}
