package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	cases := []struct {
		err      *AppError
		code     string
		status   int
		sentinel error
	}{
		{NotFound("drug"), CodeNotFound, http.StatusNotFound, ErrNotFound},
		{ValidationField("quantity", "must be positive"), CodeValidation, http.StatusUnprocessableEntity, ErrValidation},
		{InvalidStateTransition("supply request", "approved", "preapproved"), CodeInvalidStateTransition, http.StatusConflict, ErrInvalidStateTransition},
		{InsufficientStock("drug-1", 5, 2), CodeInsufficientStock, http.StatusBadRequest, ErrInsufficientStock},
		{MissingLocation("warehouse"), CodeMissingLocation, http.StatusBadRequest, ErrMissingLocation},
		{Conflict("duplicate"), CodeConflict, http.StatusConflict, ErrConflict},
		{Forbidden("nope"), CodeForbidden, http.StatusForbidden, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.status, tc.err.StatusCode)
			assert.ErrorIs(t, tc.err, tc.sentinel)
		})
	}
}

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("dispense: %w", InsufficientStock("drug-1", 5, 2))
	assert.Equal(t, CodeInsufficientStock, CodeOf(err))
	assert.Empty(t, CodeOf(fmt.Errorf("plain")))
}

func TestLocalize(t *testing.T) {
	err := InsufficientStock("drug-1", 5, 2)
	assert.Equal(t, "Insufficient stock: requested 5, available 2", err.Localize(context.Background()))
	assert.Equal(t, map[string]string{"from": "approved", "to": "preapproved"},
		InvalidStateTransition("supply request", "approved", "preapproved").Details)
}
