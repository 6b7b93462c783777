// Package handlers exposes the analysis surface over HTTP: request
// admission, streaming, and the non-streaming JSON envelope.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/lucidata-ai/lucid-engine/pkg/apperrors"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// ErrorBody is the wire shape of every user-visible failure.
type ErrorBody struct {
	Success         bool                    `json:"success"`
	Kind            string                  `json:"kind"`
	Message         string                  `json:"message"`
	ClassifiedError *models.ClassifiedError `json:"classified_error,omitempty"`
	RetryAfterSec   int64                   `json:"retry_after,omitempty"`
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes the standard error envelope for a known error kind.
func ErrorResponse(w http.ResponseWriter, kind error, message string) error {
	return WriteJSON(w, apperrors.HTTPStatus(kind), ErrorBody{
		Kind:    apperrors.Kind(kind),
		Message: message,
	})
}
