package service

import (
	"context"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
)

// TxRunner runs fn inside a transaction carried by ctx. Nested calls join
// the outer transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DrugStore persists the drug catalog.
type DrugStore interface {
	Create(ctx context.Context, d *domain.Drug) error
	GetByID(ctx context.Context, id string) (*domain.Drug, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Drug, error)
	Update(ctx context.Context, d *domain.Drug) error
	UpdateStatus(ctx context.Context, id string, status domain.DrugStatus) error
	List(ctx context.Context, f domain.DrugFilter) ([]*domain.Drug, int64, error)
}

// InventoryStore persists inventory records. Lock* methods take row locks
// that are held until the enclosing transaction ends.
type InventoryStore interface {
	// Lock finds or creates the record for key and locks it.
	Lock(ctx context.Context, key domain.StockKey) (*domain.InventoryRecord, error)
	LockByID(ctx context.Context, id string) (*domain.InventoryRecord, error)
	LockAtLocation(ctx context.Context, drugID string, loc domain.Location) ([]*domain.InventoryRecord, error)
	// AddQuantity applies delta and returns the new quantity. It fails with
	// an insufficient stock error instead of going below zero.
	AddQuantity(ctx context.Context, id string, delta int) (int, error)
	SetQuantity(ctx context.Context, id string, qty int) error
	SetMinimumLevel(ctx context.Context, id string, level int) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.InventoryRecord, error)
	List(ctx context.Context, f domain.InventoryFilter) ([]*domain.InventoryRecord, int64, error)
	ListAll(ctx context.Context) ([]*domain.InventoryRecord, error)
	// SumAvailable totals non-expired quantity of a drug within scope.
	SumAvailable(ctx context.Context, drugID string, scope domain.StockScope, today time.Time) (int, error)
	// ZeroExpired zeroes every record expiring on or before today that still
	// holds stock and returns them with their previous quantity.
	ZeroExpired(ctx context.Context, today time.Time) ([]domain.ExpiredRecord, error)
}

// LocationStore reads the site registry.
type LocationStore interface {
	GetHospital(ctx context.Context, id string) (*domain.Hospital, error)
	GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error)
	GetPharmacy(ctx context.Context, id string) (*domain.Pharmacy, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	WarehouseForHospital(ctx context.Context, hospitalID string) (*domain.Warehouse, error)
}

// StaffDirectory is the local cache of user profiles and their sites.
type StaffDirectory interface {
	GetProfile(ctx context.Context, userID string) (*domain.StaffProfile, error)
	Upsert(ctx context.Context, p *domain.StaffProfile) error
	Delete(ctx context.Context, userID string) error
}

// SupplyRequestStore persists supply requests with their items.
type SupplyRequestStore interface {
	Create(ctx context.Context, r *domain.SupplyRequest) error
	GetByID(ctx context.Context, id string) (*domain.SupplyRequest, error)
	GetForUpdate(ctx context.Context, id string) (*domain.SupplyRequest, error)
	Update(ctx context.Context, r *domain.SupplyRequest) error
	UpdateItem(ctx context.Context, it *domain.SupplyRequestItem) error
	List(ctx context.Context, f domain.RequestFilter) ([]*domain.SupplyRequest, int64, error)
	// InTransit sums approved quantities of a drug on approved, unreceived requests.
	InTransit(ctx context.Context, drugID string) (int, error)
	ListStalePending(ctx context.Context, before time.Time) ([]*domain.SupplyRequest, error)
}

// PrescriptionStore persists prescriptions with their drug lines.
type PrescriptionStore interface {
	Create(ctx context.Context, p *domain.Prescription) error
	GetByID(ctx context.Context, id string) (*domain.Prescription, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Prescription, error)
	HasActive(ctx context.Context, patientID, excludeID string) (bool, error)
	ListByPatient(ctx context.Context, patientID string) ([]*domain.Prescription, error)
	UpdateStatus(ctx context.Context, id string, status domain.PrescriptionStatus) error
	TouchDispensed(ctx context.Context, id string, at time.Time) error
	AddDrug(ctx context.Context, line *domain.PrescriptionDrug) error
	UpdateDrug(ctx context.Context, line *domain.PrescriptionDrug) error
	RemoveDrug(ctx context.Context, prescriptionID, drugID string) error
	Delete(ctx context.Context, id string) error
	ActivePatientsForDrug(ctx context.Context, drugID string) ([]string, error)
	// ListInactive returns active prescriptions with no dispensing since cutoff.
	ListInactive(ctx context.Context, cutoff time.Time) ([]*domain.Prescription, error)
}

// DispensingStore persists dispensing records.
type DispensingStore interface {
	Create(ctx context.Context, d *domain.DispensingRecord) error
	SumForPeriod(ctx context.Context, prescriptionID, drugID string, from, to time.Time) (int, error)
	ListByPrescription(ctx context.Context, prescriptionID string) ([]*domain.DispensingRecord, error)
}

// AlertStore persists stock alerts.
type AlertStore interface {
	Create(ctx context.Context, a *domain.StockAlert) error
	FindOpen(ctx context.Context, t domain.AlertType, inventoryID string) (*domain.StockAlert, error)
	ListOpen(ctx context.Context) ([]*domain.StockAlert, error)
	Resolve(ctx context.Context, id string, at time.Time) error
	Acknowledge(ctx context.Context, id, userID string, at time.Time) error
	List(ctx context.Context, f domain.AlertFilter) ([]*domain.StockAlert, int64, error)
}

// AuditStore persists audit entries.
type AuditStore interface {
	Insert(ctx context.Context, e *domain.AuditEntry) error
	List(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, error)
}

// TenantStore lists tenant schemas the scheduler iterates.
type TenantStore interface {
	ListActive(ctx context.Context) ([]domain.Tenant, error)
}

// Stores bundles every persistence dependency.
type Stores struct {
	Tx            TxRunner
	Drugs         DrugStore
	Inventory     InventoryStore
	Locations     LocationStore
	Staff         StaffDirectory
	Requests      SupplyRequestStore
	Prescriptions PrescriptionStore
	Dispensing    DispensingStore
	Alerts        AlertStore
	Audit         AuditStore
	Tenants       TenantStore
}
