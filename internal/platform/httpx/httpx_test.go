package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("line 1: %w", shared.ErrInvalidQuantity), http.StatusBadRequest, "invalid_quantity"},
		{fmt.Errorf("product: %w", shared.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("sugar: %w", shared.ErrInsufficientStock), http.StatusUnprocessableEntity, "insufficient_stock"},
		{shared.ErrDuplicateInvoice, http.StatusConflict, "duplicate_invoice"},
		{shared.ErrConcurrencyConflict, http.StatusConflict, "concurrency_conflict"},
		{shared.ErrIdempotencyConflict, http.StatusConflict, "conflict"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, httptest.NewRequest(http.MethodGet, "/", nil), nil, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())

		var body ProblemDetail
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		require.Equal(t, tc.code, body.Code)
		require.Equal(t, tc.status, StatusFor(tc.err))
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, httptest.NewRequest(http.MethodGet, "/", nil), nil, errors.New("dial tcp: refused"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "refused")
}

func TestValidationErrorsUseJSONNames(t *testing.T) {
	type input struct {
		BaseUnit string `json:"base_unit" validate:"required"`
	}
	err := NewValidator().Struct(input{})
	require.Error(t, err)

	rr := httptest.NewRecorder()
	RespondError(rr, httptest.NewRequest(http.MethodPost, "/", nil), nil, err)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Contains(t, body.Errors, "base_unit")
}

func TestDecodeJSONRejectsEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	var target map[string]any
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)
}
