package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/notify"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
)

// DrugService manages the catalog and the drug lifecycle. Automatic status
// follows stock; phasing_out and archived are only entered administratively
// and are never overwritten by recomputation, except that a phasing_out drug
// archives itself once nothing is left on hand or in transit.
type DrugService struct {
	r             *runner
	drugs         DrugStore
	inventory     InventoryStore
	requests      SupplyRequestStore
	prescriptions PrescriptionStore
	hooks         notify.Hooks
	clock         Clock
	logger        *logger.Logger
}

// StockSummary describes where a drug stands.
type StockSummary struct {
	DrugID              string            `json:"drug_id"`
	Status              domain.DrugStatus `json:"status"`
	TotalStock          int               `json:"total_stock"`
	InTransit           int               `json:"in_transit"`
	AvailableAnywhere   bool              `json:"available_anywhere"`
	AvailableInHospital *bool             `json:"available_in_hospital,omitempty"`
}

type statusView struct {
	Status domain.DrugStatus `json:"status"`
}

// Catalog

// Create adds a drug. New drugs have no stock and start unavailable.
func (s *DrugService) Create(ctx context.Context, d *domain.Drug) (*domain.Drug, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return nil, errors.ValidationField("name", "this field is required")
	}
	if d.UnitsPerBox == 0 {
		d.UnitsPerBox = 1
	}
	if d.UnitsPerBox < 0 {
		return nil, errors.ValidationField("units_per_box", "must be greater than zero")
	}
	if d.MaxMonthlyDose != nil && *d.MaxMonthlyDose <= 0 {
		return nil, errors.ValidationField("max_monthly_dose", "must be greater than zero")
	}
	if d.Unit == "" {
		d.Unit = "unit"
	}
	d.ID = uuid.New().String()
	d.Status = domain.DrugUnavailable
	now := s.clock.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	err := s.r.atomically(ctx, func(ctx context.Context) error {
		if err := s.drugs.Create(ctx, d); err != nil {
			return err
		}
		s.r.queueAudit(ctx, newAudit(ctx, domain.ActionDrugCreated, domain.TableDrugs, d.ID, nil, d))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Get returns a drug.
func (s *DrugService) Get(ctx context.Context, id string) (*domain.Drug, error) {
	return s.drugs.GetByID(ctx, id)
}

// List returns drugs matching f.
func (s *DrugService) List(ctx context.Context, f domain.DrugFilter) ([]*domain.Drug, int64, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, errors.ValidationField("status", "unknown drug status")
	}
	return s.drugs.List(ctx, f)
}

// StockSummary reports total stock and availability. hospitalID, when set,
// adds availability across that hospital's pharmacies.
func (s *DrugService) StockSummary(ctx context.Context, drugID, hospitalID string) (*StockSummary, error) {
	d, err := s.drugs.GetByID(ctx, drugID)
	if err != nil {
		return nil, err
	}
	today := s.clock.today()
	total, err := s.inventory.SumAvailable(ctx, drugID, domain.Anywhere(), today)
	if err != nil {
		return nil, err
	}
	inTransit, err := s.requests.InTransit(ctx, drugID)
	if err != nil {
		return nil, err
	}

	out := &StockSummary{
		DrugID:            drugID,
		Status:            d.Status,
		TotalStock:        total,
		InTransit:         inTransit,
		AvailableAnywhere: total > 0,
	}
	if hospitalID != "" {
		n, err := s.inventory.SumAvailable(ctx, drugID, domain.InHospitalPharmacies(hospitalID), today)
		if err != nil {
			return nil, err
		}
		ok := n > 0
		out.AvailableInHospital = &ok
	}
	return out, nil
}

// ApplyChanges edits catalog fields. A status in changes is carried out as
// the matching lifecycle action. With suppress set no notifications are
// sent for this edit.
func (s *DrugService) ApplyChanges(ctx context.Context, id string, changes domain.DrugChanges, suppress bool) (*domain.Drug, error) {
	if changes.Name != nil && strings.TrimSpace(*changes.Name) == "" {
		return nil, errors.ValidationField("name", "must not be empty")
	}
	if changes.Status != nil && *changes.Status == domain.DrugUnavailable {
		return nil, errors.ValidationField("status", "unavailable is derived from stock")
	}

	ctx = quiet(ctx, suppress)
	err := s.r.atomically(ctx, func(ctx context.Context) error {
		d, err := s.drugs.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before := *d
		if changes.Apply(d) {
			d.UpdatedAt = s.clock.Now().UTC()
			if err := s.drugs.Update(ctx, d); err != nil {
				return err
			}
			s.r.queueAudit(ctx, newAudit(ctx, domain.ActionDrugUpdated, domain.TableDrugs, id, before, d))
		}

		if changes.Status == nil || *changes.Status == d.Status {
			return nil
		}
		switch *changes.Status {
		case domain.DrugPhasingOut:
			return s.startPhasingOut(ctx, id)
		case domain.DrugArchived:
			return s.archive(ctx, id)
		case domain.DrugAvailable:
			return s.reactivate(ctx, id)
		}
		return errors.ValidationField("status", "unknown drug status")
	})
	if err != nil {
		return nil, err
	}
	return s.drugs.GetByID(ctx, id)
}

// Lifecycle

// Recompute brings the drug's automatic status in line with its stock.
func (s *DrugService) Recompute(ctx context.Context, drugID string) error {
	return s.r.atomically(ctx, func(ctx context.Context) error {
		return s.recompute(ctx, drugID)
	})
}

// StartPhasingOut stops new prescriptions of the drug. It archives right
// away when no stock is left.
func (s *DrugService) StartPhasingOut(ctx context.Context, drugID string) (*domain.Drug, error) {
	return s.lifecycleAction(ctx, drugID, s.startPhasingOut)
}

// Archive retires the drug.
func (s *DrugService) Archive(ctx context.Context, drugID string) (*domain.Drug, error) {
	return s.lifecycleAction(ctx, drugID, s.archive)
}

// Reactivate brings the drug back from any other state and notifies the
// administrative roles and every patient with an active prescription for it.
// Without stock it settles on unavailable.
func (s *DrugService) Reactivate(ctx context.Context, drugID string) (*domain.Drug, error) {
	return s.lifecycleAction(ctx, drugID, s.reactivate)
}

func (s *DrugService) lifecycleAction(ctx context.Context, drugID string, fn func(context.Context, string) error) (*domain.Drug, error) {
	err := s.r.atomically(ctx, func(ctx context.Context) error {
		return fn(ctx, drugID)
	})
	if err != nil {
		return nil, err
	}
	return s.drugs.GetByID(ctx, drugID)
}

func (s *DrugService) startPhasingOut(ctx context.Context, drugID string) error {
	d, err := s.drugs.GetForUpdate(ctx, drugID)
	if err != nil {
		return err
	}
	if err := domain.CheckAdministrativeTransition(d.Status, domain.DrugPhasingOut); err != nil {
		return err
	}
	if err := s.setStatus(ctx, d, domain.DrugPhasingOut); err != nil {
		return err
	}
	snapshot := *d
	s.r.queueHook(ctx, notify.PhasingOutStarted, func(ctx context.Context) error {
		return s.hooks.OnDrugPhasingOutStarted(ctx, &snapshot)
	})
	return s.recompute(ctx, drugID)
}

func (s *DrugService) archive(ctx context.Context, drugID string) error {
	d, err := s.drugs.GetForUpdate(ctx, drugID)
	if err != nil {
		return err
	}
	if err := domain.CheckAdministrativeTransition(d.Status, domain.DrugArchived); err != nil {
		return err
	}
	return s.setStatus(ctx, d, domain.DrugArchived)
}

func (s *DrugService) reactivate(ctx context.Context, drugID string) error {
	d, err := s.drugs.GetForUpdate(ctx, drugID)
	if err != nil {
		return err
	}
	if err := domain.CheckAdministrativeTransition(d.Status, domain.DrugAvailable); err != nil {
		return err
	}
	patients, err := s.prescriptions.ActivePatientsForDrug(ctx, drugID)
	if err != nil {
		return err
	}
	if err := s.setStatus(ctx, d, domain.DrugAvailable); err != nil {
		return err
	}

	snapshot := *d
	audience := domain.ReactivationAudience{
		Roles:      append([]domain.Role(nil), domain.ReactivationRoles...),
		PatientIDs: patients,
	}
	s.r.queueHook(ctx, notify.DrugReactivated, func(ctx context.Context) error {
		return s.hooks.OnDrugReactivated(ctx, &snapshot, audience)
	})
	return s.recompute(ctx, drugID)
}

// recompute must run inside atomically.
func (s *DrugService) recompute(ctx context.Context, drugID string) error {
	d, err := s.drugs.GetForUpdate(ctx, drugID)
	if err != nil {
		return err
	}
	if d.Status == domain.DrugArchived {
		return nil
	}

	total, err := s.inventory.SumAvailable(ctx, drugID, domain.Anywhere(), s.clock.today())
	if err != nil {
		return err
	}

	next := domain.NextAutomaticStatus(d.Status, total)
	if next == d.Status {
		return nil
	}
	return s.setStatus(ctx, d, next)
}

// setStatus persists a status change. Entering archived fires the archive
// notification; every path into archived goes through here exactly once.
func (s *DrugService) setStatus(ctx context.Context, d *domain.Drug, next domain.DrugStatus) error {
	prev := d.Status
	if err := s.drugs.UpdateStatus(ctx, d.ID, next); err != nil {
		return err
	}
	d.Status = next
	d.UpdatedAt = s.clock.Now().UTC()

	s.r.queueAudit(ctx, newAudit(ctx, domain.ActionDrugStatusChanged, domain.TableDrugs, d.ID,
		statusView{Status: prev}, statusView{Status: next}))
	s.logger.Debug().
		Str("drug_id", d.ID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("drug status changed")

	if next == domain.DrugArchived {
		snapshot := *d
		s.r.queueHook(ctx, notify.DrugArchived, func(ctx context.Context) error {
			return s.hooks.OnDrugArchived(ctx, &snapshot)
		})
	}
	return nil
}
