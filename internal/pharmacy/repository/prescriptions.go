package repository

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
)

const prescriptionColumns = `id, patient_id, doctor_id, hospital_id, status, start_date, end_date,
	last_dispensed_at, created_at, updated_at`

const dispensingColumns = `id, prescription_id, patient_id, drug_id, pharmacy_id, quantity,
	allocations, dispensed_by, dispensed_at`

// PrescriptionRepository handles prescriptions and their drug lines
type PrescriptionRepository struct {
	db *database.DB
}

// NewPrescriptionRepository creates a new prescription repository
func NewPrescriptionRepository(db *database.DB) *PrescriptionRepository {
	return &PrescriptionRepository{db: db}
}

// Create inserts a prescription with its drug lines
func (r *PrescriptionRepository) Create(ctx context.Context, p *domain.Prescription) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		_, err := exec(ctx, r.db, `
			INSERT INTO prescriptions (id, patient_id, doctor_id, hospital_id, status, start_date, end_date, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6::date, $7::date, $8, $9)
		`, p.ID, p.PatientID, p.DoctorID, p.HospitalID, p.Status, p.StartDate, p.EndDate, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return err
		}
		for _, line := range p.Drugs {
			line.PrescriptionID = p.ID
			if err := r.AddDrug(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID gets a prescription with its drug lines
func (r *PrescriptionRepository) GetByID(ctx context.Context, id string) (*domain.Prescription, error) {
	return r.load(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = $1`, id)
}

// GetForUpdate gets a prescription and locks its row
func (r *PrescriptionRepository) GetForUpdate(ctx context.Context, id string) (*domain.Prescription, error) {
	return r.load(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = $1 FOR UPDATE`, id)
}

func (r *PrescriptionRepository) load(ctx context.Context, query, id string) (*domain.Prescription, error) {
	var p domain.Prescription
	if err := get(ctx, r.db, "prescription", &p, query, id); err != nil {
		return nil, err
	}
	out := []*domain.Prescription{&p}
	if err := r.attachDrugs(ctx, out); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PrescriptionRepository) attachDrugs(ctx context.Context, ps []*domain.Prescription) error {
	if len(ps) == 0 {
		return nil
	}
	ids := make([]string, len(ps))
	byID := make(map[string]*domain.Prescription, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
		byID[p.ID] = p
		p.Drugs = []*domain.PrescriptionDrug{}
	}

	lines := []*domain.PrescriptionDrug{}
	err := selectAll(ctx, r.db, &lines, `
		SELECT prescription_id, drug_id, monthly_quantity, daily_quantity
		FROM prescription_drugs
		WHERE prescription_id = ANY($1)
		ORDER BY prescription_id, drug_id
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	for _, line := range lines {
		if p := byID[line.PrescriptionID]; p != nil {
			p.Drugs = append(p.Drugs, line)
		}
	}
	return nil
}

// HasActive reports whether the patient has an active prescription other than excludeID
func (r *PrescriptionRepository) HasActive(ctx context.Context, patientID, excludeID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM prescriptions WHERE patient_id = $1 AND status = 'active'`
	args := []interface{}{patientID}
	if excludeID != "" {
		query += ` AND id <> $2`
		args = append(args, excludeID)
	}
	query += `)`

	var found bool
	err := get(ctx, r.db, "prescription", &found, query, args...)
	return found, err
}

// ListByPatient lists a patient's prescriptions newest first
func (r *PrescriptionRepository) ListByPatient(ctx context.Context, patientID string) ([]*domain.Prescription, error) {
	return r.list(ctx, `
		SELECT `+prescriptionColumns+` FROM prescriptions
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
}

func (r *PrescriptionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Prescription, error) {
	ps := []*domain.Prescription{}
	if err := selectAll(ctx, r.db, &ps, query, args...); err != nil {
		return nil, err
	}
	if err := r.attachDrugs(ctx, ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// UpdateStatus sets the status. A second active prescription for the
// patient violates the partial unique index and surfaces as a conflict.
func (r *PrescriptionRepository) UpdateStatus(ctx context.Context, id string, status domain.PrescriptionStatus) error {
	return execOne(ctx, r.db, "prescription",
		`UPDATE prescriptions SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

// TouchDispensed records the latest dispensing time
func (r *PrescriptionRepository) TouchDispensed(ctx context.Context, id string, at time.Time) error {
	return execOne(ctx, r.db, "prescription",
		`UPDATE prescriptions SET last_dispensed_at = $2 WHERE id = $1`, id, at)
}

// AddDrug inserts a drug line
func (r *PrescriptionRepository) AddDrug(ctx context.Context, line *domain.PrescriptionDrug) error {
	_, err := exec(ctx, r.db, `
		INSERT INTO prescription_drugs (prescription_id, drug_id, monthly_quantity, daily_quantity)
		VALUES ($1, $2, $3, $4)
	`, line.PrescriptionID, line.DrugID, line.MonthlyQuantity, line.DailyQuantity)
	return err
}

// UpdateDrug changes the quantities of a drug line
func (r *PrescriptionRepository) UpdateDrug(ctx context.Context, line *domain.PrescriptionDrug) error {
	return execOne(ctx, r.db, "prescription drug", `
		UPDATE prescription_drugs SET monthly_quantity = $3, daily_quantity = $4
		WHERE prescription_id = $1 AND drug_id = $2
	`, line.PrescriptionID, line.DrugID, line.MonthlyQuantity, line.DailyQuantity)
}

// RemoveDrug deletes a drug line
func (r *PrescriptionRepository) RemoveDrug(ctx context.Context, prescriptionID, drugID string) error {
	return execOne(ctx, r.db, "prescription drug",
		`DELETE FROM prescription_drugs WHERE prescription_id = $1 AND drug_id = $2`, prescriptionID, drugID)
}

// Delete removes a prescription; lines and dispensing history cascade
func (r *PrescriptionRepository) Delete(ctx context.Context, id string) error {
	return execOne(ctx, r.db, "prescription", `DELETE FROM prescriptions WHERE id = $1`, id)
}

// ActivePatientsForDrug lists patients with an active prescription for the drug
func (r *PrescriptionRepository) ActivePatientsForDrug(ctx context.Context, drugID string) ([]string, error) {
	patients := []string{}
	err := selectAll(ctx, r.db, &patients, `
		SELECT DISTINCT p.patient_id::text
		FROM prescriptions p
		JOIN prescription_drugs d ON d.prescription_id = p.id
		WHERE p.status = 'active' AND d.drug_id = $1
		ORDER BY 1
	`, drugID)
	return patients, err
}

// ListInactive lists active prescriptions not dispensed since cutoff
func (r *PrescriptionRepository) ListInactive(ctx context.Context, cutoff time.Time) ([]*domain.Prescription, error) {
	return r.list(ctx, `
		SELECT `+prescriptionColumns+` FROM prescriptions
		WHERE status = 'active' AND COALESCE(last_dispensed_at, created_at) < $1
		ORDER BY created_at
	`, cutoff)
}

// DispensingRepository handles dispensing_records rows
type DispensingRepository struct {
	db *database.DB
}

// NewDispensingRepository creates a new dispensing repository
func NewDispensingRepository(db *database.DB) *DispensingRepository {
	return &DispensingRepository{db: db}
}

// Create inserts a dispensing record
func (r *DispensingRepository) Create(ctx context.Context, d *domain.DispensingRecord) error {
	_, err := exec(ctx, r.db, `
		INSERT INTO dispensing_records (`+dispensingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.PrescriptionID, d.PatientID, d.DrugID, d.PharmacyID, d.Quantity,
		allocationsOrEmpty(d.Allocations), d.DispensedBy, d.DispensedAt)
	return err
}

// SumForPeriod totals the quantity dispensed in [from, to)
func (r *DispensingRepository) SumForPeriod(ctx context.Context, prescriptionID, drugID string, from, to time.Time) (int, error) {
	var total int
	err := get(ctx, r.db, "dispensing record", &total, `
		SELECT COALESCE(SUM(quantity), 0) FROM dispensing_records
		WHERE prescription_id = $1 AND drug_id = $2
		  AND dispensed_at >= $3 AND dispensed_at < $4
	`, prescriptionID, drugID, from, to)
	return total, err
}

// ListByPrescription lists a prescription's dispensing history newest first
func (r *DispensingRepository) ListByPrescription(ctx context.Context, prescriptionID string) ([]*domain.DispensingRecord, error) {
	records := []*domain.DispensingRecord{}
	err := selectAll(ctx, r.db, &records, `
		SELECT `+dispensingColumns+` FROM dispensing_records
		WHERE prescription_id = $1
		ORDER BY dispensed_at DESC
	`, prescriptionID)
	return records, err
}
