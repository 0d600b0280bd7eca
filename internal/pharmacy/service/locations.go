package service

import (
	"context"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// locationExists checks loc points at a registered site.
func locationExists(ctx context.Context, locations LocationStore, loc domain.Location) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	var err error
	switch loc.Type {
	case domain.LocationWarehouse:
		_, err = locations.GetWarehouse(ctx, loc.ID)
	case domain.LocationPharmacy:
		_, err = locations.GetPharmacy(ctx, loc.ID)
	case domain.LocationSupplier:
		_, err = locations.GetSupplier(ctx, loc.ID)
	}
	return err
}

// locationResolver fills in the sites a caller left out from their staff
// profile. It never guesses: anything it cannot resolve is a
// MissingLocation error.
type locationResolver struct {
	locations LocationStore
	staff     StaffDirectory
}

func (r *locationResolver) profile(ctx context.Context, userID string) (*domain.StaffProfile, error) {
	p, err := r.staff.GetProfile(ctx, userID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// pharmacy resolves the caller's pharmacy.
func (r *locationResolver) pharmacy(ctx context.Context, explicit string, userID string) (*domain.Pharmacy, error) {
	if explicit == "" {
		p, err := r.profile(ctx, userID)
		if err != nil {
			return nil, err
		}
		if p == nil || p.PharmacyID == nil {
			return nil, errors.MissingLocation("pharmacy")
		}
		explicit = *p.PharmacyID
	}
	return r.locations.GetPharmacy(ctx, explicit)
}

// hospitalWarehouse returns the warehouse of a hospital.
func (r *locationResolver) hospitalWarehouse(ctx context.Context, hospitalID string) (*domain.Warehouse, error) {
	w, err := r.locations.WarehouseForHospital(ctx, hospitalID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.MissingLocation("warehouse")
	}
	return w, err
}

// warehouse resolves the caller's warehouse: explicit, then the profile's
// warehouse, then the warehouse of the profile's hospital.
func (r *locationResolver) warehouse(ctx context.Context, explicit string, userID string) (*domain.Warehouse, error) {
	if explicit != "" {
		return r.locations.GetWarehouse(ctx, explicit)
	}
	p, err := r.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch {
	case p == nil:
		return nil, errors.MissingLocation("warehouse")
	case p.WarehouseID != nil:
		return r.locations.GetWarehouse(ctx, *p.WarehouseID)
	case p.HospitalID != nil:
		return r.hospitalWarehouse(ctx, *p.HospitalID)
	}
	return nil, errors.MissingLocation("warehouse")
}
