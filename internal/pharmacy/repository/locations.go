package repository

import (
	"context"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
)

// LocationRepository reads hospitals, warehouses, pharmacies and suppliers
type LocationRepository struct {
	db *database.DB
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(db *database.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

func (r *LocationRepository) GetHospital(ctx context.Context, id string) (*domain.Hospital, error) {
	var h domain.Hospital
	if err := get(ctx, r.db, "hospital", &h, `SELECT id, name, created_at FROM hospitals WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *LocationRepository) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	var w domain.Warehouse
	err := get(ctx, r.db, "warehouse", &w,
		`SELECT id, hospital_id, name, created_at FROM warehouses WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *LocationRepository) GetPharmacy(ctx context.Context, id string) (*domain.Pharmacy, error) {
	var p domain.Pharmacy
	err := get(ctx, r.db, "pharmacy", &p,
		`SELECT id, hospital_id, name, created_at FROM pharmacies WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *LocationRepository) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var s domain.Supplier
	err := get(ctx, r.db, "supplier", &s,
		`SELECT id, name, contact_email, created_at FROM suppliers WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// WarehouseForHospital returns the single warehouse of a hospital
func (r *LocationRepository) WarehouseForHospital(ctx context.Context, hospitalID string) (*domain.Warehouse, error) {
	var w domain.Warehouse
	err := get(ctx, r.db, "warehouse", &w,
		`SELECT id, hospital_id, name, created_at FROM warehouses WHERE hospital_id = $1`, hospitalID)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// StaffRepository is the local copy of user profiles kept in sync from
// user events
type StaffRepository struct {
	db *database.DB
}

// NewStaffRepository creates a new staff repository
func NewStaffRepository(db *database.DB) *StaffRepository {
	return &StaffRepository{db: db}
}

// GetProfile gets a staff profile by user ID
func (r *StaffRepository) GetProfile(ctx context.Context, userID string) (*domain.StaffProfile, error) {
	var p domain.StaffProfile
	err := get(ctx, r.db, "staff profile", &p, `
		SELECT user_id, role, first_name, last_name, email,
			hospital_id, pharmacy_id, warehouse_id, supplier_id, updated_at
		FROM staff_profiles WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert creates or replaces a staff profile
func (r *StaffRepository) Upsert(ctx context.Context, p *domain.StaffProfile) error {
	_, err := exec(ctx, r.db, `
		INSERT INTO staff_profiles (
			user_id, role, first_name, last_name, email,
			hospital_id, pharmacy_id, warehouse_id, supplier_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET role = $2, first_name = $3, last_name = $4, email = $5,
			hospital_id = $6, pharmacy_id = $7, warehouse_id = $8, supplier_id = $9, updated_at = NOW()
	`, p.UserID, p.Role, p.FirstName, p.LastName, p.Email,
		p.HospitalID, p.PharmacyID, p.WarehouseID, p.SupplierID)
	return err
}

// Delete deletes a staff profile
func (r *StaffRepository) Delete(ctx context.Context, userID string) error {
	return execOne(ctx, r.db, "staff profile", `DELETE FROM staff_profiles WHERE user_id = $1`, userID)
}

// TenantRepository reads the shared tenant registry in the public schema
type TenantRepository struct {
	db *database.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *database.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// ListActive lists tenants whose schema the scheduler should visit
func (r *TenantRepository) ListActive(ctx context.Context) ([]domain.Tenant, error) {
	tenants := []domain.Tenant{}
	err := selectAll(ctx, r.db, &tenants, `
		SELECT id, slug, schema_name FROM public.tenants
		WHERE deleted_at IS NULL AND subscription_status IN ('active', 'trial')
		ORDER BY slug
	`)
	return tenants, err
}
