package repository

import (
	"context"
	"strings"

	"github.com/doug-martin/goqu/v9"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
)

const drugColumns = `id, name, generic_name, strength, form, category, unit, units_per_box,
	max_monthly_dose, status, manufacturer, warnings, indications, contraindications,
	created_at, updated_at`

// DrugRepository handles the drug catalog
type DrugRepository struct {
	db *database.DB
}

// NewDrugRepository creates a new drug repository
func NewDrugRepository(db *database.DB) *DrugRepository {
	return &DrugRepository{db: db}
}

func drugRecord(d *domain.Drug) goqu.Record {
	return goqu.Record{
		"name":              d.Name,
		"generic_name":      d.GenericName,
		"strength":          d.Strength,
		"form":              d.Form,
		"category":          d.Category,
		"unit":              d.Unit,
		"units_per_box":     d.UnitsPerBox,
		"max_monthly_dose":  d.MaxMonthlyDose,
		"status":            d.Status,
		"manufacturer":      d.Manufacturer,
		"warnings":          d.Warnings,
		"indications":       d.Indications,
		"contraindications": d.Contraindications,
		"updated_at":        d.UpdatedAt,
	}
}

// Create inserts a drug
func (r *DrugRepository) Create(ctx context.Context, d *domain.Drug) error {
	rec := drugRecord(d)
	rec["id"] = d.ID
	rec["created_at"] = d.CreatedAt
	_, err := execBuilt(ctx, r.db, insertInto("drugs").Rows(rec))
	return err
}

// GetByID gets a drug by ID
func (r *DrugRepository) GetByID(ctx context.Context, id string) (*domain.Drug, error) {
	var d domain.Drug
	if err := get(ctx, r.db, "drug", &d, `SELECT `+drugColumns+` FROM drugs WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetForUpdate gets a drug and locks its row
func (r *DrugRepository) GetForUpdate(ctx context.Context, id string) (*domain.Drug, error) {
	var d domain.Drug
	if err := get(ctx, r.db, "drug", &d, `SELECT `+drugColumns+` FROM drugs WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &d, nil
}

// Update writes every editable field
func (r *DrugRepository) Update(ctx context.Context, d *domain.Drug) error {
	query, args, err := toSQL(update("drugs").Set(drugRecord(d)).Where(goqu.C("id").Eq(d.ID)))
	if err != nil {
		return err
	}
	return execOne(ctx, r.db, "drug", query, args...)
}

// UpdateStatus sets the lifecycle status
func (r *DrugRepository) UpdateStatus(ctx context.Context, id string, status domain.DrugStatus) error {
	return execOne(ctx, r.db, "drug",
		`UPDATE drugs SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

// List lists drugs ordered by name
func (r *DrugRepository) List(ctx context.Context, f domain.DrugFilter) ([]*domain.Drug, int64, error) {
	ds := from("drugs")
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(f.Status))
	}
	if f.Category != "" {
		ds = ds.Where(goqu.C("category").Eq(f.Category))
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := "%" + search + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("name").ILike(pattern),
			goqu.C("generic_name").ILike(pattern),
		))
	}

	total, err := count(ctx, r.db, ds)
	if err != nil {
		return nil, 0, err
	}

	drugs := []*domain.Drug{}
	ds = paged(ds.Select(goqu.L(drugColumns)).Order(goqu.C("name").Asc(), goqu.C("id").Asc()), f.Limit, f.Offset)
	if err := selectBuilt(ctx, r.db, &drugs, ds); err != nil {
		return nil, 0, err
	}
	return drugs, total, nil
}
