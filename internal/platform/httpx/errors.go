// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ErrMalformedBody marks a request body that could not be decoded.
var ErrMalformedBody = fmt.Errorf("%w: malformed request body", shared.ErrValidation)

type errorMapping struct {
	target error
	status int
	title  string
	code   string
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{shared.ErrInvalidQuantity, http.StatusBadRequest, "Invalid Quantity", "invalid_quantity"},
	{shared.ErrValidation, http.StatusBadRequest, "Validation Failed", "validation_failed"},
	{shared.ErrNotFound, http.StatusNotFound, "Not Found", "not_found"},
	{shared.ErrInsufficientStock, http.StatusUnprocessableEntity, "Insufficient Stock", "insufficient_stock"},
	{shared.ErrDuplicateInvoice, http.StatusConflict, "Duplicate Invoice", "duplicate_invoice"},
	{shared.ErrConcurrencyConflict, http.StatusConflict, "Concurrency Conflict", "concurrency_conflict"},
	{shared.ErrConflict, http.StatusConflict, "Conflict", "conflict"},
}

// StatusFor returns the HTTP status mapped to err.
func StatusFor(err error) int {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Unmapped errors are logged and answered with a generic 500.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		ValidationProblem(w, fieldErrs)
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			JSON(w, m.status, ProblemDetail{Title: m.title, Status: m.status, Detail: err.Error(), Code: m.code})
			return
		}
	}
	if logger != nil {
		logger.Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

// ValidationProblem renders validator field errors keyed by JSON field name.
func ValidationProblem(w http.ResponseWriter, errs validator.ValidationErrors) {
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fe.Field()] = fmt.Sprintf("failed on %s", fe.Tag())
	}
	JSON(w, http.StatusBadRequest, ProblemDetail{
		Title:  "Validation Failed",
		Status: http.StatusBadRequest,
		Code:   "validation_failed",
		Errors: fields,
	})
}
