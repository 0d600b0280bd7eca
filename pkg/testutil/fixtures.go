package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
)

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	mu       sync.Mutex
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequence++
	return f.sequence
}

// HospitalSite is a hospital with its warehouse and one pharmacy.
type HospitalSite struct {
	Hospital  domain.Hospital
	Warehouse domain.Warehouse
	Pharmacy  domain.Pharmacy
}

// Site creates a hospital fixture with its warehouse and a pharmacy
func (f *FixtureFactory) Site() HospitalSite {
	seq := f.nextSeq()
	now := time.Now().UTC()
	h := domain.Hospital{ID: uuid.New().String(), Name: fmt.Sprintf("Hospital %d", seq), CreatedAt: now}
	return HospitalSite{
		Hospital: h,
		Warehouse: domain.Warehouse{
			ID: uuid.New().String(), HospitalID: h.ID, Name: fmt.Sprintf("Warehouse %d", seq), CreatedAt: now,
		},
		Pharmacy: domain.Pharmacy{
			ID: uuid.New().String(), HospitalID: h.ID, Name: fmt.Sprintf("Pharmacy %d", seq), CreatedAt: now,
		},
	}
}

// Supplier creates a supplier fixture
func (f *FixtureFactory) Supplier() domain.Supplier {
	seq := f.nextSeq()
	return domain.Supplier{
		ID:        uuid.New().String(),
		Name:      fmt.Sprintf("Supplier %d", seq),
		CreatedAt: time.Now().UTC(),
	}
}

// Drug creates a drug fixture with defaults
func (f *FixtureFactory) Drug(opts ...func(*domain.Drug)) *domain.Drug {
	seq := f.nextSeq()
	now := time.Now().UTC()
	d := &domain.Drug{
		ID:          uuid.New().String(),
		Name:        fmt.Sprintf("Drug %d", seq),
		Unit:        "tablet",
		UnitsPerBox: 30,
		Status:      domain.DrugUnavailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithDrugStatus sets the drug status
func WithDrugStatus(status domain.DrugStatus) func(*domain.Drug) {
	return func(d *domain.Drug) {
		d.Status = status
	}
}

// WithMaxMonthlyDose sets the monthly dose ceiling
func WithMaxMonthlyDose(n int) func(*domain.Drug) {
	return func(d *domain.Drug) {
		d.MaxMonthlyDose = &n
	}
}

// StaffProfile creates a staff profile fixture for a role at a site.
func (f *FixtureFactory) StaffProfile(role domain.Role, site HospitalSite) *domain.StaffProfile {
	seq := f.nextSeq()
	p := &domain.StaffProfile{
		UserID:     uuid.New().String(),
		Role:       role,
		FirstName:  "Test",
		LastName:   fmt.Sprintf("User%d", seq),
		Email:      fmt.Sprintf("user%d@test.medflow.local", seq),
		HospitalID: Ptr(site.Hospital.ID),
		UpdatedAt:  time.Now().UTC(),
	}
	switch role {
	case domain.RolePharmacist:
		p.PharmacyID = Ptr(site.Pharmacy.ID)
	case domain.RoleStoreKeeper:
		p.WarehouseID = Ptr(site.Warehouse.ID)
	}
	return p
}

// Date returns a pointer to today shifted by days, at midnight UTC.
func Date(days int) *time.Time {
	d := domain.DateOf(time.Now().UTC()).AddDate(0, 0, days)
	return &d
}
