package domain

import (
	"time"

	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// PrescriptionStatus is the closed set of prescription states.
type PrescriptionStatus string

const (
	PrescriptionActive    PrescriptionStatus = "active"
	PrescriptionSuspended PrescriptionStatus = "suspended"
	PrescriptionCancelled PrescriptionStatus = "cancelled"
)

var prescriptionTransitions = map[PrescriptionStatus][]PrescriptionStatus{
	PrescriptionActive:    {PrescriptionSuspended, PrescriptionCancelled},
	PrescriptionSuspended: {PrescriptionActive, PrescriptionCancelled},
}

// CheckPrescriptionTransition validates a status change.
func CheckPrescriptionTransition(from, to PrescriptionStatus) error {
	for _, next := range prescriptionTransitions[from] {
		if next == to {
			return nil
		}
	}
	return errors.InvalidStateTransition("prescription", string(from), string(to))
}

// Prescription is a patient's standing medication plan. A patient has at
// most one active prescription.
type Prescription struct {
	ID              string              `json:"id" db:"id"`
	PatientID       string              `json:"patient_id" db:"patient_id"`
	DoctorID        string              `json:"doctor_id" db:"doctor_id"`
	HospitalID      string              `json:"hospital_id" db:"hospital_id"`
	Status          PrescriptionStatus  `json:"status" db:"status"`
	StartDate       time.Time           `json:"start_date" db:"start_date"`
	EndDate         *time.Time          `json:"end_date,omitempty" db:"end_date"`
	LastDispensedAt *time.Time          `json:"last_dispensed_at,omitempty" db:"last_dispensed_at"`
	Drugs           []*PrescriptionDrug `json:"drugs" db:"-"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at" db:"updated_at"`
}

// Drug returns the line for drugID.
func (p *Prescription) Drug(drugID string) (*PrescriptionDrug, bool) {
	for _, d := range p.Drugs {
		if d.DrugID == drugID {
			return d, true
		}
	}
	return nil, false
}

// CoversDate reports whether day falls within the start/end window.
func (p *Prescription) CoversDate(day time.Time) bool {
	day = DateOf(day)
	if day.Before(DateOf(p.StartDate)) {
		return false
	}
	return p.EndDate == nil || !day.After(DateOf(*p.EndDate))
}

// PrescriptionDrug is one drug line with its monthly and daily allowance.
type PrescriptionDrug struct {
	PrescriptionID  string `json:"prescription_id" db:"prescription_id"`
	DrugID          string `json:"drug_id" db:"drug_id"`
	MonthlyQuantity int    `json:"monthly_quantity" db:"monthly_quantity"`
	DailyQuantity   int    `json:"daily_quantity" db:"daily_quantity"`
}

// DispensingRecord is one handover of medication to a patient.
type DispensingRecord struct {
	ID             string      `json:"id" db:"id"`
	PrescriptionID string      `json:"prescription_id" db:"prescription_id"`
	PatientID      string      `json:"patient_id" db:"patient_id"`
	DrugID         string      `json:"drug_id" db:"drug_id"`
	PharmacyID     string      `json:"pharmacy_id" db:"pharmacy_id"`
	Quantity       int         `json:"quantity" db:"quantity"`
	Allocations    Allocations `json:"allocations" db:"allocations"`
	DispensedBy    string      `json:"dispensed_by" db:"dispensed_by"`
	DispensedAt    time.Time   `json:"dispensed_at" db:"dispensed_at"`
}
