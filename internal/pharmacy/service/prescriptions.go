package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
)

// PrescriptionService manages prescriptions and dispensing against them.
type PrescriptionService struct {
	r             *runner
	prescriptions PrescriptionStore
	dispensing    DispensingStore
	drugs         DrugStore
	resolver      *locationResolver
	ledger        *LedgerService
	clock         Clock
	logger        *logger.Logger
}

// CreatePrescriptionInput describes a new prescription. DoctorID defaults
// to the caller and StartDate to today.
type CreatePrescriptionInput struct {
	PatientID  string
	DoctorID   string
	HospitalID string
	StartDate  time.Time
	EndDate    *time.Time
	Drugs      []PrescriptionLine
}

// PrescriptionLine is one drug with its allowances.
type PrescriptionLine struct {
	DrugID          string
	MonthlyQuantity int
	DailyQuantity   int
}

// DispenseInput hands drugs over at a pharmacy; PharmacyID defaults to the
// pharmacist's own.
type DispenseInput struct {
	PharmacyID string
	Items      []DispenseItem
}

// DispenseItem is one drug handed over.
type DispenseItem struct {
	DrugID   string
	Quantity int
}

type prescriptionView struct {
	Status domain.PrescriptionStatus `json:"status,omitempty"`
	DrugID string                    `json:"drug_id,omitempty"`
	Line   *domain.PrescriptionDrug  `json:"line,omitempty"`
}

// Create opens an active prescription. A patient can hold only one active
// prescription at a time.
func (s *PrescriptionService) Create(ctx context.Context, in CreatePrescriptionInput) (*domain.Prescription, error) {
	userID, _, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if in.PatientID == "" {
		return nil, errors.ValidationField("patient_id", "this field is required")
	}
	if in.HospitalID == "" {
		return nil, errors.ValidationField("hospital_id", "this field is required")
	}
	if len(in.Drugs) == 0 {
		return nil, errors.ValidationField("drugs", "at least one drug is required")
	}
	seen := make(map[string]bool, len(in.Drugs))
	for _, l := range in.Drugs {
		if seen[l.DrugID] {
			return nil, errors.ValidationField("drugs", fmt.Sprintf("drug %s is listed more than once", l.DrugID))
		}
		seen[l.DrugID] = true
	}

	start := s.clock.today()
	if !in.StartDate.IsZero() {
		start = domain.DateOf(in.StartDate)
	}
	if in.EndDate != nil {
		end := domain.DateOf(*in.EndDate)
		if end.Before(start) {
			return nil, errors.ValidationField("end_date", "must not be before start_date")
		}
		in.EndDate = &end
	}
	doctor := in.DoctorID
	if doctor == "" {
		doctor = userID
	}

	now := s.clock.Now().UTC()
	p := &domain.Prescription{
		ID:         uuid.New().String(),
		PatientID:  in.PatientID,
		DoctorID:   doctor,
		HospitalID: in.HospitalID,
		Status:     domain.PrescriptionActive,
		StartDate:  start,
		EndDate:    in.EndDate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.r.atomically(ctx, func(ctx context.Context) error {
		active, err := s.prescriptions.HasActive(ctx, p.PatientID, "")
		if err != nil {
			return err
		}
		if active {
			return errors.Conflict("patient already has an active prescription")
		}
		if _, err := s.resolver.locations.GetHospital(ctx, p.HospitalID); err != nil {
			return err
		}
		for _, l := range in.Drugs {
			line := &domain.PrescriptionDrug{
				PrescriptionID:  p.ID,
				DrugID:          l.DrugID,
				MonthlyQuantity: l.MonthlyQuantity,
				DailyQuantity:   l.DailyQuantity,
			}
			if err := s.checkNewLine(ctx, line); err != nil {
				return err
			}
			p.Drugs = append(p.Drugs, line)
		}
		if err := s.prescriptions.Create(ctx, p); err != nil {
			return err
		}
		s.r.queueAudit(ctx, newAudit(ctx, domain.ActionPrescription, domain.TablePrescriptions, p.ID, nil, p))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a prescription with its drug lines.
func (s *PrescriptionService) Get(ctx context.Context, id string) (*domain.Prescription, error) {
	return s.prescriptions.GetByID(ctx, id)
}

// ListByPatient returns every prescription of a patient, newest first.
func (s *PrescriptionService) ListByPatient(ctx context.Context, patientID string) ([]*domain.Prescription, error) {
	if patientID == "" {
		return nil, errors.ValidationField("patient_id", "this field is required")
	}
	return s.prescriptions.ListByPatient(ctx, patientID)
}

// Dispensings returns the dispensing history of a prescription.
func (s *PrescriptionService) Dispensings(ctx context.Context, id string) ([]*domain.DispensingRecord, error) {
	if _, err := s.prescriptions.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.dispensing.ListByPrescription(ctx, id)
}

// Drug lines

// AddDrug adds a drug to a prescription that is not cancelled.
func (s *PrescriptionService) AddDrug(ctx context.Context, id string, l PrescriptionLine) (*domain.Prescription, error) {
	return s.modify(ctx, id, func(ctx context.Context, p *domain.Prescription) (interface{}, error) {
		if p.Status == domain.PrescriptionCancelled {
			return nil, errors.Conflict("prescription is cancelled")
		}
		if _, ok := p.Drug(l.DrugID); ok {
			return nil, errors.Conflict("drug is already on the prescription")
		}
		line := &domain.PrescriptionDrug{
			PrescriptionID:  p.ID,
			DrugID:          l.DrugID,
			MonthlyQuantity: l.MonthlyQuantity,
			DailyQuantity:   l.DailyQuantity,
		}
		if err := s.checkNewLine(ctx, line); err != nil {
			return nil, err
		}
		if err := s.prescriptions.AddDrug(ctx, line); err != nil {
			return nil, err
		}
		return prescriptionView{DrugID: l.DrugID, Line: line}, nil
	})
}

// UpdateDrug changes the allowances of a drug already on the prescription.
func (s *PrescriptionService) UpdateDrug(ctx context.Context, id string, l PrescriptionLine) (*domain.Prescription, error) {
	return s.modify(ctx, id, func(ctx context.Context, p *domain.Prescription) (interface{}, error) {
		line, ok := p.Drug(l.DrugID)
		if !ok {
			return nil, errors.NotFound("prescription drug")
		}
		updated := *line
		updated.MonthlyQuantity = l.MonthlyQuantity
		updated.DailyQuantity = l.DailyQuantity
		d, err := s.drugs.GetByID(ctx, l.DrugID)
		if err != nil {
			return nil, err
		}
		if err := checkAllowance(d, &updated); err != nil {
			return nil, err
		}
		if err := s.prescriptions.UpdateDrug(ctx, &updated); err != nil {
			return nil, err
		}
		return prescriptionView{DrugID: l.DrugID, Line: &updated}, nil
	})
}

// RemoveDrug takes a drug off the prescription. Removing the last drug
// deletes the prescription; the returned prescription is then nil.
func (s *PrescriptionService) RemoveDrug(ctx context.Context, id, drugID string) (*domain.Prescription, error) {
	deleted := false
	p, err := s.modify(ctx, id, func(ctx context.Context, p *domain.Prescription) (interface{}, error) {
		if _, ok := p.Drug(drugID); !ok {
			return nil, errors.NotFound("prescription drug")
		}
		if len(p.Drugs) == 1 {
			if err := s.prescriptions.Delete(ctx, p.ID); err != nil {
				return nil, err
			}
			deleted = true
			return prescriptionView{DrugID: drugID}, nil
		}
		return prescriptionView{DrugID: drugID}, s.prescriptions.RemoveDrug(ctx, p.ID, drugID)
	})
	if deleted && errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Status

// Suspend pauses an active prescription.
func (s *PrescriptionService) Suspend(ctx context.Context, id string) (*domain.Prescription, error) {
	return s.setStatus(ctx, id, domain.PrescriptionSuspended)
}

// Cancel ends a prescription for good.
func (s *PrescriptionService) Cancel(ctx context.Context, id string) (*domain.Prescription, error) {
	return s.setStatus(ctx, id, domain.PrescriptionCancelled)
}

// Resume reactivates a suspended prescription unless the patient has
// another active one.
func (s *PrescriptionService) Resume(ctx context.Context, id string) (*domain.Prescription, error) {
	return s.setStatus(ctx, id, domain.PrescriptionActive)
}

// DeactivateInactive suspends active prescriptions nothing was dispensed
// against within window.
func (s *PrescriptionService) DeactivateInactive(ctx context.Context, window time.Duration) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-window)
	idle, err := s.prescriptions.ListInactive(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	suspended := 0
	for _, p := range idle {
		_, err := s.setStatus(ctx, p.ID, domain.PrescriptionSuspended)
		switch {
		case err == nil:
			suspended++
		case errors.Is(err, errors.ErrInvalidStateTransition):
			s.logger.Debug().Str("prescription_id", p.ID).Msg("prescription already changed")
		default:
			return suspended, err
		}
	}
	return suspended, nil
}

func (s *PrescriptionService) setStatus(ctx context.Context, id string, to domain.PrescriptionStatus) (*domain.Prescription, error) {
	return s.modify(ctx, id, func(ctx context.Context, p *domain.Prescription) (interface{}, error) {
		if err := domain.CheckPrescriptionTransition(p.Status, to); err != nil {
			return nil, err
		}
		if to == domain.PrescriptionActive {
			active, err := s.prescriptions.HasActive(ctx, p.PatientID, p.ID)
			if err != nil {
				return nil, err
			}
			if active {
				return nil, errors.Conflict("patient already has an active prescription")
			}
		}
		if err := s.prescriptions.UpdateStatus(ctx, p.ID, to); err != nil {
			return nil, err
		}
		p.Status = to
		return prescriptionView{Status: to}, nil
	})
}

// modify locks the prescription, applies fn and audits what fn reports.
func (s *PrescriptionService) modify(ctx context.Context, id string, fn func(ctx context.Context, p *domain.Prescription) (interface{}, error)) (*domain.Prescription, error) {
	var p *domain.Prescription
	err := s.r.atomically(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.prescriptions.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before := prescriptionView{Status: p.Status}
		change, err := fn(ctx, p)
		if err != nil {
			return err
		}
		s.r.queueAudit(ctx, newAudit(ctx, domain.ActionPrescription, domain.TablePrescriptions, id, before, change))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.prescriptions.GetByID(ctx, id)
}

func (s *PrescriptionService) checkNewLine(ctx context.Context, line *domain.PrescriptionDrug) error {
	if line.DrugID == "" {
		return errors.ValidationField("drug_id", "this field is required")
	}
	d, err := s.drugs.GetByID(ctx, line.DrugID)
	if err != nil {
		return err
	}
	if !d.Status.AcceptsNewPatients() {
		return errors.ValidationField("drug_id", fmt.Sprintf("drug %s is %s and cannot be prescribed", d.ID, d.Status))
	}
	return checkAllowance(d, line)
}

func checkAllowance(d *domain.Drug, line *domain.PrescriptionDrug) error {
	if line.MonthlyQuantity <= 0 {
		return errors.ValidationField("monthly_quantity", "must be greater than zero")
	}
	if line.DailyQuantity <= 0 {
		return errors.ValidationField("daily_quantity", "must be greater than zero")
	}
	if d.MaxMonthlyDose != nil && line.MonthlyQuantity > *d.MaxMonthlyDose {
		return errors.ValidationField("monthly_quantity", fmt.Sprintf("exceeds the maximum monthly dose of %d", *d.MaxMonthlyDose))
	}
	return nil
}

// Dispensing

// Dispense hands drugs to the patient from the pharmacy's stock. Each drug
// must be on the prescription and stay within its monthly allowance. All
// items go out or none do.
func (s *PrescriptionService) Dispense(ctx context.Context, id string, in DispenseInput) ([]*domain.DispensingRecord, error) {
	userID, _, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if len(in.Items) == 0 {
		return nil, errors.ValidationField("items", "at least one item is required")
	}
	seen := make(map[string]bool, len(in.Items))
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, errors.ValidationField("quantity", "must be greater than zero")
		}
		if seen[it.DrugID] {
			return nil, errors.ValidationField("items", fmt.Sprintf("drug %s is listed more than once", it.DrugID))
		}
		seen[it.DrugID] = true
	}

	var out []*domain.DispensingRecord
	err = s.r.atomically(ctx, func(ctx context.Context) error {
		p, err := s.prescriptions.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != domain.PrescriptionActive {
			return errors.ValidationField("prescription", fmt.Sprintf("prescription is %s", p.Status))
		}
		if !p.CoversDate(s.clock.today()) {
			return errors.ValidationField("prescription", "prescription does not cover today")
		}
		ph, err := s.resolver.pharmacy(ctx, in.PharmacyID, userID)
		if err != nil {
			return err
		}

		from, to := s.clock.monthWindow()
		now := s.clock.Now().UTC()
		for _, it := range in.Items {
			line, ok := p.Drug(it.DrugID)
			if !ok {
				return errors.ValidationField("drug_id", fmt.Sprintf("drug %s is not on the prescription", it.DrugID))
			}
			already, err := s.dispensing.SumForPeriod(ctx, p.ID, it.DrugID, from, to)
			if err != nil {
				return err
			}
			if already+it.Quantity > line.MonthlyQuantity {
				return errors.Validation(map[string]string{
					"quantity": fmt.Sprintf("monthly allowance of %d exceeded, %d already dispensed", line.MonthlyQuantity, already),
				})
			}

			plan, err := s.ledger.consume(ctx, it.DrugID, domain.AtPharmacy(ph.ID), it.Quantity, "dispensed against prescription "+p.ID)
			if err != nil {
				return err
			}
			rec := &domain.DispensingRecord{
				ID:             uuid.New().String(),
				PrescriptionID: p.ID,
				PatientID:      p.PatientID,
				DrugID:         it.DrugID,
				PharmacyID:     ph.ID,
				Quantity:       it.Quantity,
				Allocations:    plan,
				DispensedBy:    userID,
				DispensedAt:    now,
			}
			if err := s.dispensing.Create(ctx, rec); err != nil {
				return err
			}
			s.r.queueAudit(ctx, newAudit(ctx, domain.ActionDispensed, domain.TableDispensing, rec.ID, nil, rec))
			s.r.queueEvent(ctx, messaging.EventPrescriptionDispensed, messaging.DispensedEvent{
				DispensingID:   rec.ID,
				PrescriptionID: p.ID,
				PatientID:      p.PatientID,
				DrugID:         it.DrugID,
				PharmacyID:     ph.ID,
				Quantity:       it.Quantity,
			})
			out = append(out, rec)
		}
		return s.prescriptions.TouchDispensed(ctx, p.ID, now)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
