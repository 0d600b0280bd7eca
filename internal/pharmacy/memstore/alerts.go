package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// AlertStore implements service.AlertStore.
type AlertStore struct{ s *Store }

func findOpen(st *state, t domain.AlertType, inventoryID string) (domain.StockAlert, bool) {
	for _, a := range st.alerts {
		if a.AlertType == t && a.InventoryID == inventoryID && a.Status != domain.AlertResolved {
			return a, true
		}
	}
	return domain.StockAlert{}, false
}

func (r *AlertStore) Create(ctx context.Context, a *domain.StockAlert) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := findOpen(st, a.AlertType, a.InventoryID); ok {
			return errors.Conflict("an open alert already exists")
		}
		st.alerts[a.ID] = *a
		return nil
	})
}

func (r *AlertStore) FindOpen(_ context.Context, t domain.AlertType, inventoryID string) (*domain.StockAlert, error) {
	var out *domain.StockAlert
	err := r.s.read(func(st *state) error {
		if a, ok := findOpen(st, t, inventoryID); ok {
			out = &a
		}
		return nil
	})
	return out, err
}

func (r *AlertStore) ListOpen(_ context.Context) ([]*domain.StockAlert, error) {
	var out []*domain.StockAlert
	err := r.s.read(func(st *state) error {
		for _, a := range st.alerts {
			if a.Status != domain.AlertResolved {
				a := a
				out = append(out, &a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (r *AlertStore) Resolve(ctx context.Context, id string, at time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		a, ok := st.alerts[id]
		if !ok {
			return errors.NotFound("alert")
		}
		a.Status = domain.AlertResolved
		a.ResolvedAt = &at
		st.alerts[id] = a
		return nil
	})
}

func (r *AlertStore) Acknowledge(ctx context.Context, id, userID string, at time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		a, ok := st.alerts[id]
		if !ok || a.Status == domain.AlertResolved {
			return errors.NotFound("alert")
		}
		a.Status = domain.AlertAcknowledged
		a.AcknowledgedBy = &userID
		a.AcknowledgedAt = &at
		st.alerts[id] = a
		return nil
	})
}

func (r *AlertStore) List(_ context.Context, f domain.AlertFilter) ([]*domain.StockAlert, int64, error) {
	var out []*domain.StockAlert
	err := r.s.read(func(st *state) error {
		for _, a := range st.alerts {
			a := a
			if f.AlertType != "" && a.AlertType != f.AlertType {
				continue
			}
			if f.Status != "" && a.Status != f.Status {
				continue
			}
			if f.DrugID != "" && a.DrugID != f.DrugID {
				continue
			}
			out = append(out, &a)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), int64(len(out)), err
}

// AuditStore implements service.AuditStore.
type AuditStore struct{ s *Store }

func (r *AuditStore) Insert(ctx context.Context, e *domain.AuditEntry) error {
	return r.s.write(ctx, func(st *state) error {
		st.audit = append(st.audit, *e)
		return nil
	})
}

func (r *AuditStore) List(_ context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, error) {
	var out []*domain.AuditEntry
	err := r.s.read(func(st *state) error {
		for i := len(st.audit) - 1; i >= 0; i-- {
			e := st.audit[i]
			if f.TableName != "" && e.TableName != f.TableName {
				continue
			}
			if f.RecordID != "" && e.RecordID != f.RecordID {
				continue
			}
			if f.ActorID != "" && e.ActorID != f.ActorID {
				continue
			}
			out = append(out, &e)
		}
		return nil
	})
	return page(out, f.Limit, 0), err
}
