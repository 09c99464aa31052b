package api

import (
	"errors"
	"net/http"

	"github.com/septivank/water-billing/internal/apperr"
)

// ErrorCode identifies an API failure for clients
type ErrorCode string

const (
	ErrCodeInternal          ErrorCode = "internal_server_error"
	ErrCodeBadRequest        ErrorCode = "bad_request"
	ErrCodeBodyTooLarge      ErrorCode = "request_too_large"
	ErrCodeInvalidFormat     ErrorCode = "invalid_format"
	ErrCodeValidation        ErrorCode = "validation_failed"
	ErrCodeNotFound          ErrorCode = "resource_not_found"
	ErrCodeDuplicate         ErrorCode = "duplicate_resource"
	ErrCodeUnavailable       ErrorCode = "database_unavailable"
	ErrCodeStorage           ErrorCode = "offline_storage_failed"
	ErrCodeRateNotConfigured ErrorCode = "rate_not_configured"
)

// APIError is the JSON body of every failed request
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	StatusCode int       `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError creates an API error
func NewAPIError(code ErrorCode, message string, statusCode int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// toAPIError maps an application error onto a status code and error code.
// Unclassified store errors are surfaced verbatim as a 500.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	msg := apperr.MessageOf(err)
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return NewAPIError(ErrCodeValidation, msg, http.StatusBadRequest)
	case apperr.KindConflict:
		return NewAPIError(ErrCodeDuplicate, msg, http.StatusConflict)
	case apperr.KindNotFound:
		return NewAPIError(ErrCodeNotFound, msg, http.StatusNotFound)
	case apperr.KindConnectivity:
		return NewAPIError(ErrCodeUnavailable, msg, http.StatusServiceUnavailable)
	case apperr.KindRateNotConfigured:
		return NewAPIError(ErrCodeRateNotConfigured, msg, http.StatusServiceUnavailable)
	case apperr.KindStorage:
		return NewAPIError(ErrCodeStorage, msg, http.StatusInsufficientStorage)
	default:
		return NewAPIError(ErrCodeInternal, msg, http.StatusInternalServerError)
	}
}
