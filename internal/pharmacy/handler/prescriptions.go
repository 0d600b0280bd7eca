package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
)

type prescriptionLine struct {
	DrugID          string `json:"drug_id" validate:"required"`
	MonthlyQuantity int    `json:"monthly_quantity" validate:"gt=0"`
	DailyQuantity   int    `json:"daily_quantity" validate:"gt=0"`
}

func (l prescriptionLine) toService() service.PrescriptionLine {
	return service.PrescriptionLine{
		DrugID:          l.DrugID,
		MonthlyQuantity: l.MonthlyQuantity,
		DailyQuantity:   l.DailyQuantity,
	}
}

type createPrescriptionRequest struct {
	PatientID  string             `json:"patient_id" validate:"required"`
	DoctorID   string             `json:"doctor_id"`
	HospitalID string             `json:"hospital_id" validate:"required"`
	StartDate  *string            `json:"start_date,omitempty"`
	EndDate    *string            `json:"end_date,omitempty"`
	Drugs      []prescriptionLine `json:"drugs" validate:"required,min=1,dive"`
}

type updateLineRequest struct {
	MonthlyQuantity int `json:"monthly_quantity" validate:"gt=0"`
	DailyQuantity   int `json:"daily_quantity" validate:"gt=0"`
}

type dispenseRequest struct {
	PharmacyID string `json:"pharmacy_id"`
	Items      []struct {
		DrugID   string `json:"drug_id" validate:"required"`
		Quantity int    `json:"quantity" validate:"gt=0"`
	} `json:"items" validate:"required,min=1,dive"`
}

// ListPrescriptions lists the prescriptions of ?patient_id, newest first.
func (h *Handler) ListPrescriptions(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patient_id")
	if patientID == "" {
		httputil.Error(w, r, errors.ValidationField("patient_id", "this field is required"))
		return
	}

	list, err := h.svc.Prescriptions.ListByPatient(r.Context(), patientID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, r, http.StatusOK, list)
}

// CreatePrescription opens an active prescription
func (h *Handler) CreatePrescription(w http.ResponseWriter, r *http.Request) {
	var req createPrescriptionRequest
	if err := decode(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	in := service.CreatePrescriptionInput{
		PatientID:  req.PatientID,
		DoctorID:   req.DoctorID,
		HospitalID: req.HospitalID,
		EndDate:    end,
	}
	if start != nil {
		in.StartDate = *start
	}
	for _, l := range req.Drugs {
		in.Drugs = append(in.Drugs, l.toService())
	}

	p, err := h.svc.Prescriptions.Create(r.Context(), in)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, r, "messages.created", p)
}

// GetPrescription gets a prescription with its drug lines
func (h *Handler) GetPrescription(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Prescriptions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, r, http.StatusOK, p)
}

// ListDispensings lists what was handed out against a prescription
func (h *Handler) ListDispensings(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Prescriptions.Dispensings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, r, http.StatusOK, records)
}

func (h *Handler) AddPrescriptionDrug(w http.ResponseWriter, r *http.Request) {
	var req prescriptionLine
	if err := decode(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	p, err := h.svc.Prescriptions.AddDrug(r.Context(), chi.URLParam(r, "id"), req.toService())
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, "messages.updated", p)
}

func (h *Handler) UpdatePrescriptionDrug(w http.ResponseWriter, r *http.Request) {
	var req updateLineRequest
	if err := decode(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	p, err := h.svc.Prescriptions.UpdateDrug(r.Context(), chi.URLParam(r, "id"), service.PrescriptionLine{
		DrugID:          chi.URLParam(r, "drugId"),
		MonthlyQuantity: req.MonthlyQuantity,
		DailyQuantity:   req.DailyQuantity,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, "messages.updated", p)
}

func (h *Handler) RemovePrescriptionDrug(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Prescriptions.RemoveDrug(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "drugId"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, "messages.deleted", p)
}

func (h *Handler) SuspendPrescription(w http.ResponseWriter, r *http.Request) {
	h.prescriptionStatus(w, r, h.svc.Prescriptions.Suspend)
}

func (h *Handler) CancelPrescription(w http.ResponseWriter, r *http.Request) {
	h.prescriptionStatus(w, r, h.svc.Prescriptions.Cancel)
}

func (h *Handler) ResumePrescription(w http.ResponseWriter, r *http.Request) {
	h.prescriptionStatus(w, r, h.svc.Prescriptions.Resume)
}

func (h *Handler) prescriptionStatus(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*domain.Prescription, error)) {
	p, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, "messages.updated", p)
}

// Dispense hands drugs over against an active prescription
func (h *Handler) Dispense(w http.ResponseWriter, r *http.Request) {
	var req dispenseRequest
	if err := decode(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	in := service.DispenseInput{PharmacyID: req.PharmacyID}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.DispenseItem{DrugID: it.DrugID, Quantity: it.Quantity})
	}

	records, err := h.svc.Prescriptions.Dispense(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, "messages.dispensed", records)
}
