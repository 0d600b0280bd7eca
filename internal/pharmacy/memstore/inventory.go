package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// InventoryStore implements service.InventoryStore.
type InventoryStore struct{ s *Store }

func (r *InventoryStore) Lock(ctx context.Context, key domain.StockKey) (*domain.InventoryRecord, error) {
	key = key.Normalized()
	var out *domain.InventoryRecord
	err := r.s.write(ctx, func(st *state) error {
		for _, rec := range st.inventory {
			if key.Matches(&rec) {
				rec := rec
				out = &rec
				return nil
			}
		}
		now := r.s.stamp()
		rec := domain.InventoryRecord{
			ID:          uuid.New().String(),
			DrugID:      key.DrugID,
			Location:    key.Location,
			BatchNumber: key.BatchNumber,
			ExpiryDate:  key.ExpiryDate,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		st.inventory[rec.ID] = rec
		out = &rec
		return nil
	})
	return out, err
}

func (r *InventoryStore) LockByID(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	return r.GetByID(ctx, id)
}

func (r *InventoryStore) LockAtLocation(_ context.Context, drugID string, loc domain.Location) ([]*domain.InventoryRecord, error) {
	var out []*domain.InventoryRecord
	err := r.s.read(func(st *state) error {
		for _, rec := range st.inventory {
			if rec.DrugID == drugID && rec.Location == loc {
				rec := rec
				out = append(out, &rec)
			}
		}
		return nil
	})
	sortByCreation(out)
	return out, err
}

func (r *InventoryStore) AddQuantity(ctx context.Context, id string, delta int) (int, error) {
	var qty int
	err := r.s.write(ctx, func(st *state) error {
		rec, ok := st.inventory[id]
		if !ok {
			return errors.NotFound("inventory record")
		}
		if rec.CurrentQuantity+delta < 0 {
			return errors.InsufficientStock(rec.DrugID, -delta, rec.CurrentQuantity)
		}
		rec.CurrentQuantity += delta
		rec.UpdatedAt = r.s.now().UTC()
		st.inventory[id] = rec
		qty = rec.CurrentQuantity
		return nil
	})
	return qty, err
}

func (r *InventoryStore) SetQuantity(ctx context.Context, id string, qty int) error {
	return r.update(ctx, id, func(rec *domain.InventoryRecord) { rec.CurrentQuantity = qty })
}

func (r *InventoryStore) SetMinimumLevel(ctx context.Context, id string, level int) error {
	return r.update(ctx, id, func(rec *domain.InventoryRecord) { rec.MinimumLevel = level })
}

func (r *InventoryStore) update(ctx context.Context, id string, fn func(rec *domain.InventoryRecord)) error {
	return r.s.write(ctx, func(st *state) error {
		rec, ok := st.inventory[id]
		if !ok {
			return errors.NotFound("inventory record")
		}
		fn(&rec)
		rec.UpdatedAt = r.s.now().UTC()
		st.inventory[id] = rec
		return nil
	})
}

func (r *InventoryStore) Delete(ctx context.Context, id string) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.inventory[id]; !ok {
			return errors.NotFound("inventory record")
		}
		delete(st.inventory, id)
		for aid, a := range st.alerts {
			if a.InventoryID == id {
				delete(st.alerts, aid)
			}
		}
		return nil
	})
}

func (r *InventoryStore) GetByID(_ context.Context, id string) (*domain.InventoryRecord, error) {
	var out *domain.InventoryRecord
	err := r.s.read(func(st *state) error {
		rec, ok := st.inventory[id]
		if !ok {
			return errors.NotFound("inventory record")
		}
		out = &rec
		return nil
	})
	return out, err
}

func (r *InventoryStore) List(_ context.Context, f domain.InventoryFilter) ([]*domain.InventoryRecord, int64, error) {
	var out []*domain.InventoryRecord
	err := r.s.read(func(st *state) error {
		for _, rec := range st.inventory {
			rec := rec
			if f.DrugID != "" && rec.DrugID != f.DrugID {
				continue
			}
			if f.Location != nil && rec.Location != *f.Location {
				continue
			}
			if f.HospitalID != "" && hospitalOf(st, rec.Location) != f.HospitalID {
				continue
			}
			if !f.IncludeEmpty && rec.CurrentQuantity == 0 {
				continue
			}
			if f.ExpiringBefore != nil && (rec.ExpiryDate == nil || !rec.ExpiryDate.Before(*f.ExpiringBefore)) {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	sortByCreation(out)
	return page(out, f.Limit, f.Offset), int64(len(out)), err
}

func (r *InventoryStore) ListAll(_ context.Context) ([]*domain.InventoryRecord, error) {
	var out []*domain.InventoryRecord
	err := r.s.read(func(st *state) error {
		for _, rec := range st.inventory {
			rec := rec
			out = append(out, &rec)
		}
		return nil
	})
	sortByCreation(out)
	return out, err
}

func (r *InventoryStore) SumAvailable(_ context.Context, drugID string, scope domain.StockScope, today time.Time) (int, error) {
	total := 0
	err := r.s.read(func(st *state) error {
		for _, rec := range st.inventory {
			if rec.DrugID != drugID {
				continue
			}
			if scope.Location != nil && rec.Location != *scope.Location {
				continue
			}
			if scope.HospitalID != "" {
				if rec.Type != domain.LocationPharmacy || hospitalOf(st, rec.Location) != scope.HospitalID {
					continue
				}
			}
			total += rec.EffectiveQuantity(today)
		}
		return nil
	})
	return total, err
}

func (r *InventoryStore) ZeroExpired(ctx context.Context, today time.Time) ([]domain.ExpiredRecord, error) {
	var out []domain.ExpiredRecord
	err := r.s.write(ctx, func(st *state) error {
		for id, rec := range st.inventory {
			if rec.CurrentQuantity == 0 || !rec.IsExpired(today) {
				continue
			}
			prev := rec.CurrentQuantity
			rec.CurrentQuantity = 0
			rec.UpdatedAt = r.s.now().UTC()
			st.inventory[id] = rec
			out = append(out, domain.ExpiredRecord{InventoryRecord: rec, PreviousQuantity: prev})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func hospitalOf(st *state, loc domain.Location) string {
	switch loc.Type {
	case domain.LocationWarehouse:
		return st.warehouses[loc.ID].HospitalID
	case domain.LocationPharmacy:
		return st.pharmacies[loc.ID].HospitalID
	}
	return ""
}

func sortByCreation(recs []*domain.InventoryRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
}
