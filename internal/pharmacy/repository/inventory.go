package repository

import (
	"context"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

const inventoryColumns = `id, drug_id, location_type, location_id, batch_number, expiry_date,
	current_quantity, minimum_level, created_at, updated_at`

// InventoryRepository handles pharmacy_inventory rows
type InventoryRepository struct {
	db *database.DB
}

// NewInventoryRepository creates a new inventory repository
func NewInventoryRepository(db *database.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// Lock finds or creates the record for key and locks it. Batch and expiry
// compare with NULL treated as its own value, matching the identity index.
func (r *InventoryRepository) Lock(ctx context.Context, key domain.StockKey) (*domain.InventoryRecord, error) {
	key = key.Normalized()

	// A concurrent insert of the same identity makes this a no-op.
	_, err := exec(ctx, r.db, `
		INSERT INTO pharmacy_inventory (id, drug_id, location_type, location_id, batch_number, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6::date)
		ON CONFLICT DO NOTHING
	`, uuid.New().String(), key.DrugID, key.Location.Type, key.Location.ID, key.BatchNumber, key.ExpiryDate)
	if err != nil {
		return nil, err
	}

	var rec domain.InventoryRecord
	err = get(ctx, r.db, "inventory record", &rec, `
		SELECT `+inventoryColumns+` FROM pharmacy_inventory
		WHERE drug_id = $1 AND location_type = $2 AND location_id = $3
		  AND COALESCE(batch_number, '') = COALESCE($4, '')
		  AND COALESCE(expiry_date, 'infinity'::date) = COALESCE($5::date, 'infinity'::date)
		FOR UPDATE
	`, key.DrugID, key.Location.Type, key.Location.ID, key.BatchNumber, key.ExpiryDate)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LockByID locks one record
func (r *InventoryRepository) LockByID(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := get(ctx, r.db, "inventory record", &rec,
		`SELECT `+inventoryColumns+` FROM pharmacy_inventory WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LockAtLocation locks every record of a drug at a location
func (r *InventoryRepository) LockAtLocation(ctx context.Context, drugID string, loc domain.Location) ([]*domain.InventoryRecord, error) {
	recs := []*domain.InventoryRecord{}
	err := selectAll(ctx, r.db, &recs, `
		SELECT `+inventoryColumns+` FROM pharmacy_inventory
		WHERE drug_id = $1 AND location_type = $2 AND location_id = $3
		ORDER BY created_at
		FOR UPDATE
	`, drugID, loc.Type, loc.ID)
	return recs, err
}

// AddQuantity applies delta unless the result would be negative
func (r *InventoryRepository) AddQuantity(ctx context.Context, id string, delta int) (int, error) {
	var qty int
	err := get(ctx, r.db, "inventory record", &qty, `
		UPDATE pharmacy_inventory
		SET current_quantity = current_quantity + $2, updated_at = NOW()
		WHERE id = $1 AND current_quantity + $2 >= 0
		RETURNING current_quantity
	`, id, delta)
	if !errors.Is(err, errors.ErrNotFound) {
		return qty, err
	}

	// Either the record is gone or it holds too little.
	rec, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return 0, errors.InsufficientStock(rec.DrugID, -delta, rec.CurrentQuantity)
}

// SetQuantity overwrites the quantity
func (r *InventoryRepository) SetQuantity(ctx context.Context, id string, qty int) error {
	return execOne(ctx, r.db, "inventory record",
		`UPDATE pharmacy_inventory SET current_quantity = $2, updated_at = NOW() WHERE id = $1`, id, qty)
}

// SetMinimumLevel sets the low stock threshold
func (r *InventoryRepository) SetMinimumLevel(ctx context.Context, id string, level int) error {
	return execOne(ctx, r.db, "inventory record",
		`UPDATE pharmacy_inventory SET minimum_level = $2, updated_at = NOW() WHERE id = $1`, id, level)
}

// Delete removes a record; its alerts cascade
func (r *InventoryRepository) Delete(ctx context.Context, id string) error {
	return execOne(ctx, r.db, "inventory record", `DELETE FROM pharmacy_inventory WHERE id = $1`, id)
}

// GetByID gets a record by ID
func (r *InventoryRepository) GetByID(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := get(ctx, r.db, "inventory record", &rec,
		`SELECT `+inventoryColumns+` FROM pharmacy_inventory WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List lists records matching f, oldest first
func (r *InventoryRepository) List(ctx context.Context, f domain.InventoryFilter) ([]*domain.InventoryRecord, int64, error) {
	ds := from("pharmacy_inventory")
	if f.DrugID != "" {
		ds = ds.Where(goqu.C("drug_id").Eq(f.DrugID))
	}
	if f.Location != nil {
		ds = ds.Where(goqu.C("location_type").Eq(f.Location.Type), goqu.C("location_id").Eq(f.Location.ID))
	}
	if f.HospitalID != "" {
		ds = ds.Where(inHospital(f.HospitalID))
	}
	if !f.IncludeEmpty {
		ds = ds.Where(goqu.C("current_quantity").Gt(0))
	}
	if f.ExpiringBefore != nil {
		ds = ds.Where(goqu.C("expiry_date").Lt(domain.DateOf(*f.ExpiringBefore)))
	}

	total, err := count(ctx, r.db, ds)
	if err != nil {
		return nil, 0, err
	}

	recs := []*domain.InventoryRecord{}
	ds = paged(ds.Select(goqu.L(inventoryColumns)).Order(goqu.C("created_at").Asc()), f.Limit, f.Offset)
	if err := selectBuilt(ctx, r.db, &recs, ds); err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// inHospital matches records held by the warehouse or a pharmacy of a hospital.
func inHospital(hospitalID string) goqu.Expression {
	return goqu.Or(
		goqu.And(
			goqu.C("location_type").Eq(domain.LocationWarehouse),
			goqu.C("location_id").In(dialect.From("warehouses").Select("id").Where(goqu.C("hospital_id").Eq(hospitalID))),
		),
		goqu.And(
			goqu.C("location_type").Eq(domain.LocationPharmacy),
			goqu.C("location_id").In(dialect.From("pharmacies").Select("id").Where(goqu.C("hospital_id").Eq(hospitalID))),
		),
	)
}

// ListAll returns every record for the alert scan
func (r *InventoryRepository) ListAll(ctx context.Context) ([]*domain.InventoryRecord, error) {
	recs := []*domain.InventoryRecord{}
	err := selectAll(ctx, r.db, &recs, `SELECT `+inventoryColumns+` FROM pharmacy_inventory ORDER BY created_at`)
	return recs, err
}

// SumAvailable totals unexpired quantity of a drug within scope
func (r *InventoryRepository) SumAvailable(ctx context.Context, drugID string, scope domain.StockScope, today time.Time) (int, error) {
	ds := from("pharmacy_inventory").
		Select(goqu.COALESCE(goqu.SUM("current_quantity"), 0)).
		Where(
			goqu.C("drug_id").Eq(drugID),
			goqu.Or(goqu.C("expiry_date").IsNull(), goqu.C("expiry_date").Gt(domain.DateOf(today))),
		)
	if scope.Location != nil {
		ds = ds.Where(goqu.C("location_type").Eq(scope.Location.Type), goqu.C("location_id").Eq(scope.Location.ID))
	}
	if scope.HospitalID != "" {
		ds = ds.Where(
			goqu.C("location_type").Eq(domain.LocationPharmacy),
			goqu.C("location_id").In(dialect.From("pharmacies").Select("id").Where(goqu.C("hospital_id").Eq(scope.HospitalID))),
		)
	}

	var total int
	err := getBuilt(ctx, r.db, "inventory", &total, ds)
	return total, err
}

// ZeroExpired zeroes stock expiring on or before today
func (r *InventoryRepository) ZeroExpired(ctx context.Context, today time.Time) ([]domain.ExpiredRecord, error) {
	out := []domain.ExpiredRecord{}
	err := selectAll(ctx, r.db, &out, `
		WITH expired AS (
			SELECT id, current_quantity AS previous_quantity
			FROM pharmacy_inventory
			WHERE current_quantity > 0 AND expiry_date <= $1::date
			FOR UPDATE
		)
		UPDATE pharmacy_inventory i
		SET current_quantity = 0, updated_at = NOW()
		FROM expired e
		WHERE i.id = e.id
		RETURNING i.id, i.drug_id, i.location_type, i.location_id, i.batch_number, i.expiry_date,
			i.current_quantity, i.minimum_level, i.created_at, i.updated_at, e.previous_quantity
	`, domain.DateOf(today))
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}
