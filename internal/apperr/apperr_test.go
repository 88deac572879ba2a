package apperr

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		Unauthenticated:   http.StatusUnauthorized,
		Forbidden:         http.StatusForbidden,
		Validation:        http.StatusBadRequest,
		InsufficientFunds: http.StatusBadRequest,
		CannotCancel:      http.StatusBadRequest,
		UnknownTicker:     http.StatusNotFound,
		OrderNotFound:     http.StatusNotFound,
		Conflict:          http.StatusConflict,
		Internal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.Status(), "kind %s", kind)
	}
}

func TestStatusForWrapsPlainErrors(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
	assert.Equal(t, http.StatusNotFound, StatusFor(New(OrderNotFound, "nope")))
}

func TestAsReturnsOutermostError(t *testing.T) {
	base := New(InsufficientFunds, "too poor")
	wrapped := Wrap(Internal, "outer", base)

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, Internal, e.Kind)
}

func TestValidatorAccumulatesAllFailures(t *testing.T) {
	v := &Validator{}
	v.Require(true, "this passes")
	v.Require(false, "qty must be positive")
	v.Require(false, "ticker is required")

	err := v.Err()
	require.Error(t, err)

	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, Validation, e.Kind)
	assert.Contains(t, err.Error(), "qty must be positive")
	assert.Contains(t, err.Error(), "ticker is required")
}

func TestValidatorNoFailuresReturnsNil(t *testing.T) {
	v := &Validator{}
	v.Require(true, "fine")
	assert.NoError(t, v.Err())
}

func TestWriteJSONUsesKindStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, New(CannotCancel, "order is not open"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"CANNOT_CANCEL","message":"order is not open"}`, rec.Body.String())
}

func TestWriteJSONFallsBackToInternalForPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, errors.New("disk on fire"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"INTERNAL","message":"disk on fire"}`, rec.Body.String())
}
