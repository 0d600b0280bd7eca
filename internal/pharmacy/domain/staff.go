package domain

import "time"

// Role is a portal role as issued by the user service.
type Role string

const (
	RoleSuperAdmin      Role = "super_admin"
	RoleHospitalAdmin   Role = "hospital_admin"
	RoleDepartmentAdmin Role = "department_admin"
	RoleStoreKeeper     Role = "store_keeper"
	RolePharmacist      Role = "pharmacist"
	RoleDoctor          Role = "doctor"
	RoleSupplier        Role = "supplier"
	RoleDataEntry       Role = "data_entry"
	RolePatient         Role = "patient"
)

// StaffProfile is the locally cached view of a user and the sites they work at.
type StaffProfile struct {
	UserID      string    `json:"user_id" db:"user_id"`
	Role        Role      `json:"role" db:"role"`
	FirstName   string    `json:"first_name" db:"first_name"`
	LastName    string    `json:"last_name" db:"last_name"`
	Email       string    `json:"email" db:"email"`
	HospitalID  *string   `json:"hospital_id,omitempty" db:"hospital_id"`
	PharmacyID  *string   `json:"pharmacy_id,omitempty" db:"pharmacy_id"`
	WarehouseID *string   `json:"warehouse_id,omitempty" db:"warehouse_id"`
	SupplierID  *string   `json:"supplier_id,omitempty" db:"supplier_id"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Tenant is an active hospital group with its own schema.
type Tenant struct {
	ID         string `db:"id"`
	Slug       string `db:"slug"`
	SchemaName string `db:"schema_name"`
}
