// Package server provides the HTTP REST API for the FinSight analysis service.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/davidchen/finsight/internal/store"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error.
// The backing store is an external service, so unclassified failures
// surface as 502 rather than 500.
func HTTPStatus(err error) int {
	var ve *ErrValidation
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve), store.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
