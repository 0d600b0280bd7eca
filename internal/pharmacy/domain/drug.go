package domain

import (
	"time"

	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// DrugStatus is the closed set of catalog states.
type DrugStatus string

const (
	DrugAvailable   DrugStatus = "available"
	DrugPhasingOut  DrugStatus = "phasing_out"
	DrugArchived    DrugStatus = "archived"
	DrugUnavailable DrugStatus = "unavailable"
)

// Valid reports whether s is a known status.
func (s DrugStatus) Valid() bool {
	switch s {
	case DrugAvailable, DrugPhasingOut, DrugArchived, DrugUnavailable:
		return true
	}
	return false
}

// AcceptsNewPatients reports whether the drug may be added to a prescription.
func (s DrugStatus) AcceptsNewPatients() bool {
	return s == DrugAvailable || s == DrugUnavailable
}

// NextAutomaticStatus computes the status stock levels imply.
//
//   - archived never changes.
//   - phasing_out becomes archived the moment total stock reaches zero.
//   - available and unavailable follow whether any stock is on hand.
func NextAutomaticStatus(current DrugStatus, totalStock int) DrugStatus {
	switch current {
	case DrugArchived:
		return DrugArchived
	case DrugPhasingOut:
		if totalStock == 0 {
			return DrugArchived
		}
		return DrugPhasingOut
	default:
		if totalStock > 0 {
			return DrugAvailable
		}
		return DrugUnavailable
	}
}

// CheckAdministrativeTransition validates an explicit lifecycle action.
// Reactivation targets available from any other state.
func CheckAdministrativeTransition(from, to DrugStatus) error {
	ok := false
	switch to {
	case DrugPhasingOut:
		ok = from == DrugAvailable || from == DrugUnavailable
	case DrugArchived:
		ok = from != DrugArchived
	case DrugAvailable:
		ok = from != DrugAvailable
	}
	if !ok {
		return errors.InvalidStateTransition("drug", string(from), string(to))
	}
	return nil
}

// Drug is a catalog entry.
type Drug struct {
	ID                string     `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	GenericName       *string    `json:"generic_name,omitempty" db:"generic_name"`
	Strength          *string    `json:"strength,omitempty" db:"strength"`
	Form              *string    `json:"form,omitempty" db:"form"`
	Category          *string    `json:"category,omitempty" db:"category"`
	Unit              string     `json:"unit" db:"unit"`
	UnitsPerBox       int        `json:"units_per_box" db:"units_per_box"`
	MaxMonthlyDose    *int       `json:"max_monthly_dose,omitempty" db:"max_monthly_dose"`
	Status            DrugStatus `json:"status" db:"status"`
	Manufacturer      *string    `json:"manufacturer,omitempty" db:"manufacturer"`
	Warnings          *string    `json:"warnings,omitempty" db:"warnings"`
	Indications       *string    `json:"indications,omitempty" db:"indications"`
	Contraindications *string    `json:"contraindications,omitempty" db:"contraindications"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// DrugFilter narrows catalog listings.
type DrugFilter struct {
	Search   string
	Status   DrugStatus
	Category string
	Limit    int
	Offset   int
}

// DrugChanges is a partial catalog edit. Status, when set, is applied as an
// administrative lifecycle action rather than a plain field write.
type DrugChanges struct {
	Name              *string     `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	GenericName       *string     `json:"generic_name,omitempty"`
	Strength          *string     `json:"strength,omitempty"`
	Form              *string     `json:"form,omitempty"`
	Category          *string     `json:"category,omitempty"`
	Unit              *string     `json:"unit,omitempty"`
	UnitsPerBox       *int        `json:"units_per_box,omitempty" validate:"omitempty,gt=0"`
	MaxMonthlyDose    *int        `json:"max_monthly_dose,omitempty" validate:"omitempty,gt=0"`
	Manufacturer      *string     `json:"manufacturer,omitempty"`
	Warnings          *string     `json:"warnings,omitempty"`
	Indications       *string     `json:"indications,omitempty"`
	Contraindications *string     `json:"contraindications,omitempty"`
	Status            *DrugStatus `json:"status,omitempty" validate:"omitempty,oneof=available phasing_out archived"`
}

// Apply copies the set fields onto d and reports whether anything changed.
func (c DrugChanges) Apply(d *Drug) bool {
	changed := false
	setStr := func(dst *string, v *string) {
		if v != nil && *dst != *v {
			*dst = *v
			changed = true
		}
	}
	setOpt := func(dst **string, v *string) {
		if v != nil && !sameString(*dst, v) {
			s := *v
			*dst = &s
			changed = true
		}
	}

	setStr(&d.Name, c.Name)
	setStr(&d.Unit, c.Unit)
	setOpt(&d.GenericName, c.GenericName)
	setOpt(&d.Strength, c.Strength)
	setOpt(&d.Form, c.Form)
	setOpt(&d.Category, c.Category)
	setOpt(&d.Manufacturer, c.Manufacturer)
	setOpt(&d.Warnings, c.Warnings)
	setOpt(&d.Indications, c.Indications)
	setOpt(&d.Contraindications, c.Contraindications)

	if c.UnitsPerBox != nil && d.UnitsPerBox != *c.UnitsPerBox {
		d.UnitsPerBox = *c.UnitsPerBox
		changed = true
	}
	if c.MaxMonthlyDose != nil && (d.MaxMonthlyDose == nil || *d.MaxMonthlyDose != *c.MaxMonthlyDose) {
		v := *c.MaxMonthlyDose
		d.MaxMonthlyDose = &v
		changed = true
	}
	return changed
}

// ReactivationAudience lists who must hear about a reactivated drug.
type ReactivationAudience struct {
	Roles      []Role   `json:"roles"`
	PatientIDs []string `json:"patient_ids"`
}

// ReactivationRoles are always notified when a drug comes back.
var ReactivationRoles = []Role{RoleHospitalAdmin, RoleDepartmentAdmin, RoleStoreKeeper}
