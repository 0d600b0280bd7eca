package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// PrescriptionStore implements service.PrescriptionStore.
type PrescriptionStore struct{ s *Store }

func loadPrescription(st *state, p domain.Prescription) *domain.Prescription {
	p.Drugs = nil
	for _, l := range st.lines[p.ID] {
		l := l
		p.Drugs = append(p.Drugs, &l)
	}
	sort.Slice(p.Drugs, func(i, j int) bool { return p.Drugs[i].DrugID < p.Drugs[j].DrugID })
	return &p
}

func activeFor(st *state, patientID, excludeID string) bool {
	for _, p := range st.prescriptions {
		if p.PatientID == patientID && p.Status == domain.PrescriptionActive && p.ID != excludeID {
			return true
		}
	}
	return false
}

func (r *PrescriptionStore) Create(ctx context.Context, p *domain.Prescription) error {
	return r.s.write(ctx, func(st *state) error {
		if p.Status == domain.PrescriptionActive && activeFor(st, p.PatientID, p.ID) {
			return errors.Conflict("patient already has an active prescription")
		}
		row := *p
		row.Drugs = nil
		st.prescriptions[p.ID] = row
		lines := map[string]domain.PrescriptionDrug{}
		for _, l := range p.Drugs {
			lines[l.DrugID] = *l
		}
		st.lines[p.ID] = lines
		return nil
	})
}

func (r *PrescriptionStore) GetByID(_ context.Context, id string) (*domain.Prescription, error) {
	var out *domain.Prescription
	err := r.s.read(func(st *state) error {
		p, ok := st.prescriptions[id]
		if !ok {
			return errors.NotFound("prescription")
		}
		out = loadPrescription(st, p)
		return nil
	})
	return out, err
}

func (r *PrescriptionStore) GetForUpdate(ctx context.Context, id string) (*domain.Prescription, error) {
	return r.GetByID(ctx, id)
}

func (r *PrescriptionStore) HasActive(_ context.Context, patientID, excludeID string) (bool, error) {
	var found bool
	err := r.s.read(func(st *state) error {
		found = activeFor(st, patientID, excludeID)
		return nil
	})
	return found, err
}

func (r *PrescriptionStore) ListByPatient(_ context.Context, patientID string) ([]*domain.Prescription, error) {
	var out []*domain.Prescription
	err := r.s.read(func(st *state) error {
		for _, p := range st.prescriptions {
			if p.PatientID == patientID {
				out = append(out, loadPrescription(st, p))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (r *PrescriptionStore) UpdateStatus(ctx context.Context, id string, status domain.PrescriptionStatus) error {
	return r.s.write(ctx, func(st *state) error {
		p, ok := st.prescriptions[id]
		if !ok {
			return errors.NotFound("prescription")
		}
		if status == domain.PrescriptionActive && activeFor(st, p.PatientID, id) {
			return errors.Conflict("patient already has an active prescription")
		}
		p.Status = status
		p.UpdatedAt = r.s.now().UTC()
		st.prescriptions[id] = p
		return nil
	})
}

func (r *PrescriptionStore) TouchDispensed(ctx context.Context, id string, at time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		p, ok := st.prescriptions[id]
		if !ok {
			return errors.NotFound("prescription")
		}
		p.LastDispensedAt = &at
		st.prescriptions[id] = p
		return nil
	})
}

func (r *PrescriptionStore) AddDrug(ctx context.Context, line *domain.PrescriptionDrug) error {
	return r.s.write(ctx, func(st *state) error {
		lines, ok := st.lines[line.PrescriptionID]
		if !ok {
			return errors.NotFound("prescription")
		}
		if _, dup := lines[line.DrugID]; dup {
			return errors.Conflict("drug is already on the prescription")
		}
		next := cloneMap(lines)
		next[line.DrugID] = *line
		st.lines[line.PrescriptionID] = next
		return nil
	})
}

func (r *PrescriptionStore) UpdateDrug(ctx context.Context, line *domain.PrescriptionDrug) error {
	return r.s.write(ctx, func(st *state) error {
		lines := st.lines[line.PrescriptionID]
		if _, ok := lines[line.DrugID]; !ok {
			return errors.NotFound("prescription drug")
		}
		next := cloneMap(lines)
		next[line.DrugID] = *line
		st.lines[line.PrescriptionID] = next
		return nil
	})
}

func (r *PrescriptionStore) RemoveDrug(ctx context.Context, prescriptionID, drugID string) error {
	return r.s.write(ctx, func(st *state) error {
		lines := st.lines[prescriptionID]
		if _, ok := lines[drugID]; !ok {
			return errors.NotFound("prescription drug")
		}
		next := cloneMap(lines)
		delete(next, drugID)
		st.lines[prescriptionID] = next
		return nil
	})
}

func (r *PrescriptionStore) Delete(ctx context.Context, id string) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.prescriptions[id]; !ok {
			return errors.NotFound("prescription")
		}
		delete(st.prescriptions, id)
		delete(st.lines, id)
		for did, d := range st.dispensing {
			if d.PrescriptionID == id {
				delete(st.dispensing, did)
			}
		}
		return nil
	})
}

func (r *PrescriptionStore) ActivePatientsForDrug(_ context.Context, drugID string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	err := r.s.read(func(st *state) error {
		for _, p := range st.prescriptions {
			if p.Status != domain.PrescriptionActive || seen[p.PatientID] {
				continue
			}
			if _, ok := st.lines[p.ID][drugID]; ok {
				seen[p.PatientID] = true
				out = append(out, p.PatientID)
			}
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func (r *PrescriptionStore) ListInactive(_ context.Context, cutoff time.Time) ([]*domain.Prescription, error) {
	var out []*domain.Prescription
	err := r.s.read(func(st *state) error {
		for _, p := range st.prescriptions {
			if p.Status != domain.PrescriptionActive {
				continue
			}
			last := p.CreatedAt
			if p.LastDispensedAt != nil {
				last = *p.LastDispensedAt
			}
			if last.Before(cutoff) {
				out = append(out, loadPrescription(st, p))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// DispensingStore implements service.DispensingStore.
type DispensingStore struct{ s *Store }

func (r *DispensingStore) Create(ctx context.Context, d *domain.DispensingRecord) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.prescriptions[d.PrescriptionID]; !ok {
			return errors.NotFound("prescription")
		}
		cp := *d
		cp.Allocations = append(domain.Allocations{}, d.Allocations...)
		st.dispensing[d.ID] = cp
		return nil
	})
}

func (r *DispensingStore) SumForPeriod(_ context.Context, prescriptionID, drugID string, from, to time.Time) (int, error) {
	total := 0
	err := r.s.read(func(st *state) error {
		for _, d := range st.dispensing {
			if d.PrescriptionID == prescriptionID && d.DrugID == drugID &&
				!d.DispensedAt.Before(from) && d.DispensedAt.Before(to) {
				total += d.Quantity
			}
		}
		return nil
	})
	return total, err
}

func (r *DispensingStore) ListByPrescription(_ context.Context, prescriptionID string) ([]*domain.DispensingRecord, error) {
	var out []*domain.DispensingRecord
	err := r.s.read(func(st *state) error {
		for _, d := range st.dispensing {
			if d.PrescriptionID == prescriptionID {
				d := d
				out = append(out, &d)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DispensedAt.After(out[j].DispensedAt) })
	return out, err
}
