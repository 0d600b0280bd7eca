package database

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  *pq.Error
		code string
	}{
		{"negative stock", &pq.Error{Code: "23514", Constraint: "pharmacy_inventory_quantity_non_negative"}, errors.CodeInsufficientStock},
		{"second active prescription", &pq.Error{Code: "23505", Constraint: "prescriptions_one_active_per_patient"}, errors.CodeConflict},
		{"duplicate open alert", &pq.Error{Code: "23505", Constraint: "stock_alerts_open_unique"}, errors.CodeConflict},
		{"other unique", &pq.Error{Code: "23505", Constraint: "drugs_name_key"}, errors.CodeConflict},
		{"unknown check", &pq.Error{Code: "23514", Constraint: "drugs_something"}, errors.CodeBadRequest},
		{"dangling drug", &pq.Error{Code: "23503", Table: "request_items", Constraint: "request_items_drug_id_fkey"}, errors.CodeValidation},
		{"row locked", &pq.Error{Code: "55P03"}, errors.CodeConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := MapError(fmt.Errorf("exec: %w", tc.err))
			assert.Equal(t, tc.code, errors.CodeOf(err))

			var pqErr *pq.Error
			assert.True(t, stderrors.As(err, &pqErr), "original error stays reachable")
		})
	}

	t.Run("foreign key field", func(t *testing.T) {
		err := MapPQError(&pq.Error{Code: "23503", Table: "request_items", Constraint: "request_items_drug_id_fkey"})
		assert.Contains(t, err.Details, "drug_id")
	})

	t.Run("passthrough", func(t *testing.T) {
		plain := stderrors.New("connection reset")
		assert.Same(t, plain, MapError(plain))
		assert.Nil(t, MapError(nil))
	})
}
