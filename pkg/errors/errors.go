// Package errors defines the API error model of the pharmacy service. Every
// failure a caller can act on is an *AppError with a stable code, an HTTP
// status and a message key resolved through i18n.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/medflow/medflow-pharmacy/pkg/i18n"
)

// Sentinels, matchable with errors.Is on any AppError of that kind.
var (
	ErrNotFound               = errors.New("resource not found")
	ErrForbidden              = errors.New("forbidden")
	ErrBadRequest             = errors.New("bad request")
	ErrConflict               = errors.New("resource conflict")
	ErrInternal               = errors.New("internal server error")
	ErrValidation             = errors.New("validation error")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrMissingLocation        = errors.New("missing location")
)

// Codes returned to API clients.
const (
	CodeNotFound               = "NOT_FOUND"
	CodeValidation             = "VALIDATION_ERROR"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeInsufficientStock      = "INSUFFICIENT_STOCK"
	CodeMissingLocation        = "MISSING_LOCATION"
	CodeConflict               = "CONFLICT"
	CodeForbidden              = "FORBIDDEN"
	CodeBadRequest             = "BAD_REQUEST"
	CodeInternal               = "INTERNAL_ERROR"
)

type kind struct {
	sentinel error
	status   int
	key      string
}

var kinds = map[string]kind{
	CodeNotFound:               {ErrNotFound, http.StatusNotFound, "errors.not_found"},
	CodeValidation:             {ErrValidation, http.StatusUnprocessableEntity, "errors.validation_failed"},
	CodeInvalidStateTransition: {ErrInvalidStateTransition, http.StatusConflict, "errors.invalid_state_transition"},
	CodeInsufficientStock:      {ErrInsufficientStock, http.StatusBadRequest, "errors.insufficient_stock"},
	CodeMissingLocation:        {ErrMissingLocation, http.StatusBadRequest, "errors.missing_location"},
	CodeConflict:               {ErrConflict, http.StatusConflict, "errors.conflict"},
	CodeForbidden:              {ErrForbidden, http.StatusForbidden, "errors.forbidden"},
	CodeBadRequest:             {ErrBadRequest, http.StatusBadRequest, "errors.bad_request"},
	CodeInternal:               {ErrInternal, http.StatusInternalServerError, "errors.internal"},
}

// AppError is an error with an API code.
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	MessageKey string            `json:"-"`
	Params     map[string]string `json:"-"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// Localize renders the message in the request locale.
func (e *AppError) Localize(ctx context.Context) string {
	if e.MessageKey == "" {
		return e.Message
	}
	return i18n.TFromContext(ctx, e.MessageKey, e.Params)
}

func newError(code, message string, params, details map[string]string) *AppError {
	k := kinds[code]
	return &AppError{
		Err:        k.sentinel,
		Code:       code,
		Message:    message,
		MessageKey: k.key,
		Params:     params,
		StatusCode: k.status,
		Details:    details,
	}
}

func NotFound(resource string) *AppError {
	return newError(CodeNotFound, resource+" not found", map[string]string{"resource": resource}, nil)
}

func Forbidden(message string) *AppError {
	return newError(CodeForbidden, message, nil, nil)
}

func BadRequest(reason string) *AppError {
	return newError(CodeBadRequest, reason, map[string]string{"reason": reason}, nil)
}

func Conflict(reason string) *AppError {
	return newError(CodeConflict, reason, map[string]string{"reason": reason}, nil)
}

func Internal(message string) *AppError {
	return newError(CodeInternal, message, nil, nil)
}

// Validation carries per-field reasons keyed by JSON field path.
func Validation(fields map[string]string) *AppError {
	return newError(CodeValidation, "validation failed", nil, fields)
}

func ValidationField(field, reason string) *AppError {
	return Validation(map[string]string{field: reason})
}

// InvalidStateTransition reports an edge the state graph does not have.
func InvalidStateTransition(entity, from, to string) *AppError {
	return newError(CodeInvalidStateTransition,
		fmt.Sprintf("cannot move %s from %s to %s", entity, from, to),
		map[string]string{"entity": entity, "from": from, "to": to},
		map[string]string{"from": from, "to": to})
}

// InsufficientStock reports a dispatch larger than the stock on hand.
func InsufficientStock(drugID string, requested, available int) *AppError {
	req, avail := strconv.Itoa(requested), strconv.Itoa(available)
	return newError(CodeInsufficientStock,
		fmt.Sprintf("insufficient stock for drug %s: requested %d, available %d", drugID, requested, available),
		map[string]string{"drug": drugID, "requested": req, "available": avail},
		map[string]string{"drug_id": drugID, "requested": req, "available": avail})
}

// MissingLocation reports that the actor has no pharmacy, warehouse or
// supplier of the needed kind.
func MissingLocation(kind string) *AppError {
	return newError(CodeMissingLocation, "unable to resolve "+kind+" location",
		map[string]string{"location": kind}, nil)
}

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
