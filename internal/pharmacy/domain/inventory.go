package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// InventoryRecord is the quantity of one drug batch at one location.
type InventoryRecord struct {
	ID     string `json:"id" db:"id"`
	DrugID string `json:"drug_id" db:"drug_id"`
	Location
	BatchNumber     *string    `json:"batch_number,omitempty" db:"batch_number"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty" db:"expiry_date"`
	CurrentQuantity int        `json:"current_quantity" db:"current_quantity"`
	MinimumLevel    int        `json:"minimum_level" db:"minimum_level"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// IsExpired reports whether the record has an expiry date on or before today.
// Only calendar dates are compared.
func (r *InventoryRecord) IsExpired(today time.Time) bool {
	return r.ExpiryDate != nil && !DateOf(*r.ExpiryDate).After(DateOf(today))
}

// EffectiveQuantity is the usable quantity: zero once expired.
func (r *InventoryRecord) EffectiveQuantity(today time.Time) int {
	if r.IsExpired(today) {
		return 0
	}
	return r.CurrentQuantity
}

// IsLowStock reports whether the usable quantity is at or below the minimum level.
func (r *InventoryRecord) IsLowStock(today time.Time) bool {
	return r.EffectiveQuantity(today) <= r.MinimumLevel
}

// Key returns the identity tuple of the record.
func (r *InventoryRecord) Key() StockKey {
	return StockKey{
		DrugID:      r.DrugID,
		Location:    r.Location,
		BatchNumber: r.BatchNumber,
		ExpiryDate:  r.ExpiryDate,
	}
}

// StockKey identifies an inventory record: same drug, location, batch and
// expiry accumulate into one record.
type StockKey struct {
	DrugID      string
	Location    Location
	BatchNumber *string
	ExpiryDate  *time.Time
}

// Validate checks the key is complete.
func (k StockKey) Validate() error {
	if k.DrugID == "" {
		return errors.ValidationField("drug_id", "this field is required")
	}
	return k.Location.Validate()
}

// Normalized treats an empty batch number as no batch.
func (k StockKey) Normalized() StockKey {
	k.BatchNumber = normalizeBatch(k.BatchNumber)
	if k.ExpiryDate != nil {
		d := DateOf(*k.ExpiryDate)
		k.ExpiryDate = &d
	}
	return k
}

// Matches reports whether r carries this identity.
func (k StockKey) Matches(r *InventoryRecord) bool {
	return r.DrugID == k.DrugID &&
		r.Location == k.Location &&
		sameString(normalizeBatch(r.BatchNumber), normalizeBatch(k.BatchNumber)) &&
		sameDate(r.ExpiryDate, k.ExpiryDate)
}

func normalizeBatch(b *string) *string {
	if b != nil && *b == "" {
		return nil
	}
	return b
}

// InventoryFilter narrows inventory listings.
type InventoryFilter struct {
	DrugID         string
	Location       *Location
	HospitalID     string
	IncludeEmpty   bool
	ExpiringBefore *time.Time
	Limit          int
	Offset         int
}

// ExpiredRecord is a record zeroed by the expiry sweep.
type ExpiredRecord struct {
	InventoryRecord
	PreviousQuantity int `json:"previous_quantity" db:"previous_quantity"`
}

// Allocation is the share of a movement drawn from (or put into) one batch.
type Allocation struct {
	InventoryID string     `json:"inventory_id"`
	BatchNumber *string    `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	Quantity    int        `json:"quantity"`
}

// Allocations is stored as a JSONB array.
type Allocations []Allocation

// Total sums the allocated quantity.
func (a Allocations) Total() int {
	n := 0
	for _, x := range a {
		n += x.Quantity
	}
	return n
}

// Value implements driver.Valuer.
func (a Allocations) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	return string(b), err
}

// Scan implements sql.Scanner.
func (a *Allocations) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// PlanFEFO draws qty from records first-expiry-first-out, skipping expired
// and empty batches. Undated batches go last. It returns the allocations and
// the total usable quantity; the plan is short when usable < qty.
func PlanFEFO(records []*InventoryRecord, qty int, today time.Time) (Allocations, int) {
	usable := make([]*InventoryRecord, 0, len(records))
	total := 0
	for _, r := range records {
		if q := r.EffectiveQuantity(today); q > 0 {
			usable = append(usable, r)
			total += q
		}
	}

	sort.SliceStable(usable, func(i, j int) bool {
		a, b := usable[i].ExpiryDate, usable[j].ExpiryDate
		switch {
		case a == nil && b == nil:
			return usable[i].CreatedAt.Before(usable[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		default:
			return usable[i].CreatedAt.Before(usable[j].CreatedAt)
		}
	})

	var plan Allocations
	remaining := qty
	for _, r := range usable {
		if remaining == 0 {
			break
		}
		take := r.CurrentQuantity
		if take > remaining {
			take = remaining
		}
		plan = append(plan, Allocation{
			InventoryID: r.ID,
			BatchNumber: r.BatchNumber,
			ExpiryDate:  r.ExpiryDate,
			Quantity:    take,
		})
		remaining -= take
	}
	return plan, total
}

// Distribute splits qty across the source allocations in order, used to put
// a (possibly short) receipt into the same batches it was drawn from.
func (a Allocations) Distribute(qty int) Allocations {
	var out Allocations
	for _, src := range a {
		if qty == 0 {
			break
		}
		take := src.Quantity
		if take > qty {
			take = qty
		}
		out = append(out, Allocation{
			BatchNumber: src.BatchNumber,
			ExpiryDate:  src.ExpiryDate,
			Quantity:    take,
		})
		qty -= take
	}
	return out
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dst)
	}
}
