package memstore

import (
	"context"
	"sort"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// LocationStore implements service.LocationStore.
type LocationStore struct{ s *Store }

func (r *LocationStore) GetHospital(_ context.Context, id string) (*domain.Hospital, error) {
	var out *domain.Hospital
	err := r.s.read(func(st *state) error {
		h, ok := st.hospitals[id]
		if !ok {
			return errors.NotFound("hospital")
		}
		out = &h
		return nil
	})
	return out, err
}

func (r *LocationStore) GetWarehouse(_ context.Context, id string) (*domain.Warehouse, error) {
	var out *domain.Warehouse
	err := r.s.read(func(st *state) error {
		w, ok := st.warehouses[id]
		if !ok {
			return errors.NotFound("warehouse")
		}
		out = &w
		return nil
	})
	return out, err
}

func (r *LocationStore) GetPharmacy(_ context.Context, id string) (*domain.Pharmacy, error) {
	var out *domain.Pharmacy
	err := r.s.read(func(st *state) error {
		p, ok := st.pharmacies[id]
		if !ok {
			return errors.NotFound("pharmacy")
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *LocationStore) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	var out *domain.Supplier
	err := r.s.read(func(st *state) error {
		sup, ok := st.suppliers[id]
		if !ok {
			return errors.NotFound("supplier")
		}
		out = &sup
		return nil
	})
	return out, err
}

func (r *LocationStore) WarehouseForHospital(_ context.Context, hospitalID string) (*domain.Warehouse, error) {
	var out *domain.Warehouse
	err := r.s.read(func(st *state) error {
		for _, w := range st.warehouses {
			if w.HospitalID == hospitalID {
				w := w
				out = &w
				return nil
			}
		}
		return errors.NotFound("warehouse")
	})
	return out, err
}

// StaffDirectory implements service.StaffDirectory.
type StaffDirectory struct{ s *Store }

func (r *StaffDirectory) GetProfile(_ context.Context, userID string) (*domain.StaffProfile, error) {
	var out *domain.StaffProfile
	err := r.s.read(func(st *state) error {
		p, ok := st.staff[userID]
		if !ok {
			return errors.NotFound("staff profile")
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *StaffDirectory) Upsert(ctx context.Context, p *domain.StaffProfile) error {
	return r.s.write(ctx, func(st *state) error {
		cp := *p
		cp.UpdatedAt = r.s.now().UTC()
		st.staff[p.UserID] = cp
		return nil
	})
}

func (r *StaffDirectory) Delete(ctx context.Context, userID string) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.staff[userID]; !ok {
			return errors.NotFound("staff profile")
		}
		delete(st.staff, userID)
		return nil
	})
}

// TenantStore implements service.TenantStore.
type TenantStore struct{ s *Store }

func (r *TenantStore) ListActive(context.Context) ([]domain.Tenant, error) {
	var out []domain.Tenant
	err := r.s.read(func(st *state) error {
		out = append(out, st.tenants...)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, err
}
