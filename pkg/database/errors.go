package database

import (
	stderrors "errors"
	"strings"

	"github.com/lib/pq"

	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// constraintErrors maps named schema constraints to the API error callers
// see. Matched by substring so tenant prefixes do not matter.
var constraintErrors = []struct {
	name string
	err  func() *errors.AppError
}{
	{"quantity_non_negative", func() *errors.AppError {
		e := errors.InsufficientStock("", 0, 0)
		e.Message = "stock quantity cannot go below zero"
		e.Params = map[string]string{"requested": "?", "available": "?"}
		e.Details = nil
		return e
	}},
	{"requested_qty_positive", func() *errors.AppError {
		return errors.ValidationField("requested_qty", "must be greater than 0")
	}},
	{"location_type_valid", func() *errors.AppError {
		return errors.ValidationField("location_type", "must be one of: warehouse, pharmacy, supplier")
	}},
	{"status_valid", func() *errors.AppError {
		return errors.ValidationField("status", "is not a recognised status")
	}},
	{"one_active_per_patient", func() *errors.AppError {
		return errors.Conflict("the patient already has an active prescription")
	}},
	{"prescription_drugs_pkey", func() *errors.AppError {
		return errors.Conflict("the drug is already on this prescription")
	}},
	{"request_items_drug", func() *errors.AppError {
		return errors.Conflict("a request may list each drug only once")
	}},
	{"alerts_open_unique", func() *errors.AppError {
		return errors.Conflict("an open alert already exists for this record")
	}},
}

// MapPQError translates integrity and concurrency failures into API errors.
// It returns nil for anything else.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code.Name() {
	case "check_violation", "unique_violation":
		for _, c := range constraintErrors {
			if strings.Contains(pqErr.Constraint, c.name) {
				return c.err()
			}
		}
		if pqErr.Code.Name() == "unique_violation" {
			return errors.Conflict("a record with these values already exists")
		}
		return errors.BadRequest("data validation failed: " + pqErr.Constraint)
	case "foreign_key_violation":
		return errors.ValidationField(foreignKeyField(pqErr), "referenced record does not exist")
	case "not_null_violation":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.ValidationField(col, "must not be empty")
	case "serialization_failure", "lock_not_available":
		return errors.Conflict("the record is being modified by another request, retry")
	}
	return nil
}

// MapError maps pq errors and passes everything else through unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if appErr := MapPQError(err); appErr != nil {
		appErr.Err = err
		return appErr
	}
	return err
}

// foreignKeyField recovers the column from a <table>_<column>_fkey name.
func foreignKeyField(pqErr *pq.Error) string {
	name := strings.TrimSuffix(pqErr.Constraint, "_fkey")
	if pqErr.Table != "" {
		name = strings.TrimPrefix(name, pqErr.Table+"_")
	}
	if name == "" {
		return "reference"
	}
	return name
}
