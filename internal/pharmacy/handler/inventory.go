package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
)

type stockKeyRequest struct {
	DrugID       string  `json:"drug_id" validate:"required"`
	LocationType string  `json:"location_type" validate:"required,oneof=warehouse pharmacy supplier"`
	LocationID   string  `json:"location_id" validate:"required"`
	BatchNumber  *string `json:"batch_number,omitempty" validate:"omitempty,max=100"`
	ExpiryDate   *string `json:"expiry_date,omitempty"`
}

func (req stockKeyRequest) toKey() (domain.StockKey, error) {
	expiry, err := parseDate("expiry_date", req.ExpiryDate)
	if err != nil {
		return domain.StockKey{}, err
	}
	return domain.StockKey{
		DrugID:      req.DrugID,
		Location:    domain.Location{Type: domain.LocationType(req.LocationType), ID: req.LocationID},
		BatchNumber: req.BatchNumber,
		ExpiryDate:  expiry,
	}, nil
}

type adjustStockRequest struct {
	stockKeyRequest
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

type importLine struct {
	stockKeyRequest
	Quantity     int  `json:"quantity" validate:"gt=0"`
	MinimumLevel *int `json:"minimum_level,omitempty" validate:"omitempty,gte=0"`
}

type importStockRequest struct {
	Lines                 []importLine `json:"lines" validate:"required,min=1,dive"`
	SuppressNotifications bool         `json:"suppress_notifications"`
}

type setQuantityRequest struct {
	Quantity *int   `json:"quantity" validate:"required,gte=0"`
	Reason   string `json:"reason" validate:"max=500"`
}

type minimumLevelRequest struct {
	MinimumLevel *int `json:"minimum_level" validate:"required,gte=0"`
}

// ListInventory lists records. Filters: drug_id, location_type + location_id,
// hospital_id, include_empty, expiring_before.
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	q := r.URL.Query()

	f := domain.InventoryFilter{
		DrugID:       q.Get("drug_id"),
		HospitalID:   q.Get("hospital_id"),
		IncludeEmpty: queryBool(r, "include_empty"),
		Limit:        limit,
		Offset:       offset,
	}
	if lt, lid := q.Get("location_type"), q.Get("location_id"); lt != "" || lid != "" {
		f.Location = &domain.Location{Type: domain.LocationType(lt), ID: lid}
	}
	if v := q.Get("expiring_before"); v != "" {
		before, err := parseDate("expiring_before", &v)
		if err != nil {
			httputil.Error(w, r, err)
			return
		}
		f.ExpiringBefore = before
	}

	records, total, err := h.svc.Ledger.List(r.Context(), f)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, r, http.StatusOK, records, httputil.NewMeta(limit, offset, total))
}

// GetInventory gets one record
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, r, http.StatusOK, rec)
}

// AdjustStock adds a signed delta to the record for a stock key, creating it
// on the first receipt.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := decode(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	key, err := req.toKey()
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	rec, err := h.svc.Ledger.UpsertQuantity(r.Context(), key, req.Delta, req.Reason)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, "messages.stock_adjusted", rec)
}

// ImportStock receives many lines in one transaction
func (h *Handler) ImportStock(w http.ResponseWriter, r *http.Request) {
	var req importStockRequest
	if err := decode(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	lines := make([]service.StockLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		key, err := l.toKey()
		if err != nil {
			httputil.Error(w, r, err)
			return
		}
		lines = append(lines, service.StockLine{Key: key, Quantity: l.Quantity, MinimumLevel: l.MinimumLevel})
	}

	n, err := h.svc.Ledger.Import(r.Context(), lines, req.SuppressNotifications)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, "messages.stock_adjusted", map[string]int{"imported": n})
}

// SetQuantity corrects a record after a physical count
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if err := decode(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	rec, err := h.svc.Ledger.SetQuantity(r.Context(), chi.URLParam(r, "id"), *req.Quantity, req.Reason)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, "messages.stock_adjusted", rec)
}

// SetMinimumLevel changes the low-stock threshold
func (h *Handler) SetMinimumLevel(w http.ResponseWriter, r *http.Request) {
	var req minimumLevelRequest
	if err := decode(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	rec, err := h.svc.Ledger.UpdateMinimumLevel(r.Context(), chi.URLParam(r, "id"), *req.MinimumLevel)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, "messages.updated", rec)
}

// DeleteInventory removes a record
func (h *Handler) DeleteInventory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.Error(w, r, errors.BadRequest("missing inventory id"))
		return
	}

	if err := h.svc.Ledger.DeleteRecord(r.Context(), id); err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.NoContent(w)
}
