package domain

import (
	"fmt"
	"time"

	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// LocationType tags which kind of site holds stock.
type LocationType string

const (
	LocationWarehouse LocationType = "warehouse"
	LocationPharmacy  LocationType = "pharmacy"
	LocationSupplier  LocationType = "supplier"
)

// Valid reports whether t is one of the known location types.
func (t LocationType) Valid() bool {
	switch t {
	case LocationWarehouse, LocationPharmacy, LocationSupplier:
		return true
	}
	return false
}

// Location is exactly one of Warehouse(id), Pharmacy(id) or Supplier(id).
type Location struct {
	Type LocationType `json:"location_type" db:"location_type"`
	ID   string       `json:"location_id" db:"location_id"`
}

func AtWarehouse(id string) Location { return Location{Type: LocationWarehouse, ID: id} }
func AtPharmacy(id string) Location  { return Location{Type: LocationPharmacy, ID: id} }
func AtSupplier(id string) Location  { return Location{Type: LocationSupplier, ID: id} }

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Type == "" && l.ID == ""
}

// Validate checks the tag and that an id is present.
func (l Location) Validate() error {
	if !l.Type.Valid() {
		return errors.ValidationField("location_type", "must be one of: warehouse, pharmacy, supplier")
	}
	if l.ID == "" {
		return errors.ValidationField("location_id", "this field is required")
	}
	return nil
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%s", l.Type, l.ID)
}

// Hospital owns one warehouse and any number of pharmacies.
type Hospital struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Warehouse struct {
	ID         string    `json:"id" db:"id"`
	HospitalID string    `json:"hospital_id" db:"hospital_id"`
	Name       string    `json:"name" db:"name"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type Pharmacy struct {
	ID         string    `json:"id" db:"id"`
	HospitalID string    `json:"hospital_id" db:"hospital_id"`
	Name       string    `json:"name" db:"name"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type Supplier struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	ContactEmail *string   `json:"contact_email,omitempty" db:"contact_email"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// StockScope narrows availability and total-stock queries.
// The zero value means every location.
type StockScope struct {
	// HospitalID limits the scope to the pharmacies of one hospital.
	HospitalID string
	// Location limits the scope to a single site.
	Location *Location
}

// Anywhere is the unrestricted scope.
func Anywhere() StockScope { return StockScope{} }

// InHospitalPharmacies scopes to every pharmacy of a hospital.
func InHospitalPharmacies(hospitalID string) StockScope { return StockScope{HospitalID: hospitalID} }

// AtLocation scopes to one site.
func AtLocation(loc Location) StockScope { return StockScope{Location: &loc} }
