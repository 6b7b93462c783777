// Package apperrors defines the user-visible error kinds of the analysis
// surface. The kind strings are wire-stable.
package apperrors

import (
	"errors"
	"net/http"
)

var (
	ErrValidation            = errors.New("validation_error")
	ErrThrottled             = errors.New("throttled")
	ErrQuotaExceeded         = errors.New("quota_exceeded")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDataSourceUnavailable = errors.New("data_source_unavailable")
	ErrAnalysisFailed        = errors.New("analysis_failed")
	ErrInternal              = errors.New("internal_error")
)

// Kind returns the wire-stable kind string for a known error, or
// "internal_error" for anything unrecognized.
func Kind(err error) string {
	for _, known := range []error{
		ErrValidation, ErrThrottled, ErrQuotaExceeded, ErrUnauthorized,
		ErrDataSourceUnavailable, ErrAnalysisFailed, ErrInternal,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return ErrInternal.Error()
}

// HTTPStatus maps a user-visible error to its HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrDataSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrAnalysisFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
