package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
)

type createDrugRequest struct {
	Name              string  `json:"name" validate:"required,max=255"`
	GenericName       *string `json:"generic_name,omitempty"`
	Strength          *string `json:"strength,omitempty"`
	Form              *string `json:"form,omitempty"`
	Category          *string `json:"category,omitempty"`
	Unit              string  `json:"unit" validate:"omitempty,max=50"`
	UnitsPerBox       int     `json:"units_per_box" validate:"omitempty,gt=0"`
	MaxMonthlyDose    *int    `json:"max_monthly_dose,omitempty" validate:"omitempty,gt=0"`
	Manufacturer      *string `json:"manufacturer,omitempty"`
	Warnings          *string `json:"warnings,omitempty"`
	Indications       *string `json:"indications,omitempty"`
	Contraindications *string `json:"contraindications,omitempty"`
}

func (req createDrugRequest) toDomain() *domain.Drug {
	return &domain.Drug{
		Name:              req.Name,
		GenericName:       req.GenericName,
		Strength:          req.Strength,
		Form:              req.Form,
		Category:          req.Category,
		Unit:              req.Unit,
		UnitsPerBox:       req.UnitsPerBox,
		MaxMonthlyDose:    req.MaxMonthlyDose,
		Manufacturer:      req.Manufacturer,
		Warnings:          req.Warnings,
		Indications:       req.Indications,
		Contraindications: req.Contraindications,
	}
}

// ListDrugs lists the catalog. Filters: search, status, category.
func (h *Handler) ListDrugs(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	q := r.URL.Query()

	drugs, total, err := h.svc.Drugs.List(r.Context(), domain.DrugFilter{
		Search:   q.Get("search"),
		Status:   domain.DrugStatus(q.Get("status")),
		Category: q.Get("category"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, r, http.StatusOK, drugs, httputil.NewMeta(limit, offset, total))
}

// CreateDrug adds a catalog entry
func (h *Handler) CreateDrug(w http.ResponseWriter, r *http.Request) {
	var req createDrugRequest
	if err := decode(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	drug, err := h.svc.Drugs.Create(r.Context(), req.toDomain())
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, r, "messages.created", drug)
}

// GetDrug gets a drug by ID
func (h *Handler) GetDrug(w http.ResponseWriter, r *http.Request) {
	drug, err := h.svc.Drugs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, r, http.StatusOK, drug)
}

// UpdateDrug applies a partial edit. A status field runs the matching
// lifecycle action; ?suppress_notifications=true keeps it quiet.
func (h *Handler) UpdateDrug(w http.ResponseWriter, r *http.Request) {
	var changes domain.DrugChanges
	if err := decode(r, &changes); err != nil {
		httputil.Error(w, r, err)
		return
	}

	drug, err := h.svc.Drugs.ApplyChanges(r.Context(), chi.URLParam(r, "id"), changes, queryBool(r, "suppress_notifications"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, "messages.updated", drug)
}

// DrugStock reports total stock, stock in transit and availability.
func (h *Handler) DrugStock(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Drugs.StockSummary(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("hospital_id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, r, http.StatusOK, summary)
}

func (h *Handler) PhaseOutDrug(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Drugs.StartPhasingOut, "messages.drug_phasing_out")
}

func (h *Handler) ArchiveDrug(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Drugs.Archive, "messages.drug_archived")
}

func (h *Handler) ReactivateDrug(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Drugs.Reactivate, "messages.drug_reactivated")
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (*domain.Drug, error), messageKey string) {
	drug, err := action(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, messageKey, drug)
}
