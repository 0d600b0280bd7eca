package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/i18n"
)

// Response is the success envelope: {success, message, data}.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorResponse is the failure envelope: {success, message, errors, statusCode}.
type ErrorResponse struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	Errors     map[string]string `json:"errors"`
	StatusCode int               `json:"statusCode"`
}

// Meta contains pagination and other metadata
type Meta struct {
	Page       int   `json:"page,omitempty"`
	PerPage    int   `json:"per_page,omitempty"`
	Total      int64 `json:"total,omitempty"`
	TotalPages int   `json:"total_pages,omitempty"`
}

// NewMeta builds pagination metadata from a limit/offset query.
func NewMeta(limit, offset int, total int64) *Meta {
	if limit <= 0 {
		return &Meta{Total: total}
	}
	pages := int((total + int64(limit) - 1) / int64(limit))
	return &Meta{
		Page:       offset/limit + 1,
		PerPage:    limit,
		Total:      total,
		TotalPages: pages,
	}
}

// JSON sends a success envelope with the default "ok" message.
func JSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	Message(w, r, statusCode, "messages.ok", data)
}

// Message sends a success envelope with a localized message key.
func Message(w http.ResponseWriter, r *http.Request, statusCode int, messageKey string, data interface{}) {
	write(w, statusCode, Response{
		Success: statusCode >= 200 && statusCode < 300,
		Message: i18n.TFromContext(r.Context(), messageKey),
		Data:    data,
	})
}

// JSONWithMeta sends a JSON response with metadata
func JSONWithMeta(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}, meta *Meta) {
	write(w, statusCode, Response{
		Success: statusCode >= 200 && statusCode < 300,
		Message: i18n.TFromContext(r.Context(), "messages.ok"),
		Data:    data,
		Meta:    meta,
	})
}

// Error sends a localized error envelope. Non-AppErrors become 500s.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		appErr = errors.Internal("an unexpected error occurred")
	}

	details := appErr.Details
	if details == nil {
		details = map[string]string{}
	}

	write(w, appErr.StatusCode, ErrorResponse{
		Success:    false,
		Message:    appErr.Localize(r.Context()),
		Code:       appErr.Code,
		Errors:     details,
		StatusCode: appErr.StatusCode,
	})
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response
func Created(w http.ResponseWriter, r *http.Request, messageKey string, data interface{}) {
	Message(w, r, http.StatusCreated, messageKey, data)
}

// DecodeJSON decodes the request body into the provided struct
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.BadRequest(i18n.TFromContext(r.Context(), "errors.invalid_json"))
	}
	return nil
}

func write(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
