// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps generic platform errors to HTTP responses using RFC7807.
// Domain packages map their own taxonomies first and fall back to this.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		WriteProblem(w, ProblemDetail{Status: http.StatusNotFound, Title: "Not Found", Code: "not_found", Detail: err.Error()})
	case errors.Is(err, ErrDuplicate):
		WriteProblem(w, ProblemDetail{Status: http.StatusConflict, Title: "Duplicate", Code: "duplicate", Detail: err.Error()})
	case errors.Is(err, ErrValidation):
		WriteProblem(w, ProblemDetail{Status: http.StatusBadRequest, Title: "Validation Failed", Code: "validation_failed", Detail: err.Error()})
	case errors.Is(err, ErrForbidden):
		WriteProblem(w, ProblemDetail{Status: http.StatusForbidden, Title: "Forbidden", Code: "forbidden", Detail: err.Error()})
	case errors.Is(err, ErrUnauthorized):
		WriteProblem(w, ProblemDetail{Status: http.StatusUnauthorized, Title: "Unauthorized", Code: "unauthorized", Detail: err.Error()})
	default:
		WriteProblem(w, ProblemDetail{Status: http.StatusInternalServerError, Title: "Internal Error", Code: "internal"})
	}
}
