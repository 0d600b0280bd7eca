// Package repository is the PostgreSQL implementation of the pharmacy
// stores. Fixed statements are written out; filtered listings are built
// with goqu. Every call runs on the transaction carried by ctx when there
// is one, so row locks taken by the Lock* and *ForUpdate methods hold
// until the service commits.
package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

var dialect = goqu.Dialect("postgres")

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

// Store bundles the PostgreSQL stores over one connection pool.
type Store struct {
	db *database.DB
}

// New creates a store over db.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// Stores exposes the repositories through the service interfaces.
func (s *Store) Stores() service.Stores {
	return service.Stores{
		Tx:            s.db,
		Drugs:         NewDrugRepository(s.db),
		Inventory:     NewInventoryRepository(s.db),
		Locations:     NewLocationRepository(s.db),
		Staff:         NewStaffRepository(s.db),
		Requests:      NewSupplyRequestRepository(s.db),
		Prescriptions: NewPrescriptionRepository(s.db),
		Dispensing:    NewDispensingRepository(s.db),
		Alerts:        NewAlertRepository(s.db),
		Audit:         NewAuditRepository(s.db),
		Tenants:       NewTenantRepository(s.db),
	}
}

func toSQL(b sqlBuilder) (string, []interface{}, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build query: %w", err)
	}
	return query, args, nil
}

// get scans one row into dest. No rows becomes a not-found error for entity.
func get(ctx context.Context, db *database.DB, entity string, dest interface{}, query string, args ...interface{}) error {
	return db.Run(ctx, func(q database.Querier) error {
		err := q.GetContext(ctx, dest, query, args...)
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.NotFound(entity)
		}
		return database.MapError(err)
	})
}

func selectAll(ctx context.Context, db *database.DB, dest interface{}, query string, args ...interface{}) error {
	return db.Run(ctx, func(q database.Querier) error {
		return database.MapError(q.SelectContext(ctx, dest, query, args...))
	})
}

// exec runs a statement and returns the affected row count.
func exec(ctx context.Context, db *database.DB, query string, args ...interface{}) (int64, error) {
	var n int64
	err := db.Run(ctx, func(q database.Querier) error {
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return database.MapError(err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// execOne is exec for statements that must touch exactly one row.
func execOne(ctx context.Context, db *database.DB, entity, query string, args ...interface{}) error {
	n, err := exec(ctx, db, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NotFound(entity)
	}
	return nil
}

// getBuilt and friends run goqu datasets with $n placeholders.

func getBuilt(ctx context.Context, db *database.DB, entity string, dest interface{}, b sqlBuilder) error {
	query, args, err := toSQL(b)
	if err != nil {
		return err
	}
	return get(ctx, db, entity, dest, query, args...)
}

func selectBuilt(ctx context.Context, db *database.DB, dest interface{}, b sqlBuilder) error {
	query, args, err := toSQL(b)
	if err != nil {
		return err
	}
	return selectAll(ctx, db, dest, query, args...)
}

func execBuilt(ctx context.Context, db *database.DB, b sqlBuilder) (int64, error) {
	query, args, err := toSQL(b)
	if err != nil {
		return 0, err
	}
	return exec(ctx, db, query, args...)
}

// count returns the number of rows ds matches, ignoring its paging.
func count(ctx context.Context, db *database.DB, ds *goqu.SelectDataset) (int64, error) {
	var total int64
	query, args, err := toSQL(ds.ClearLimit().ClearOffset().ClearOrder().Select(goqu.COUNT(goqu.Star())))
	if err != nil {
		return 0, err
	}
	err = db.Run(ctx, func(q database.Querier) error {
		return database.MapError(q.GetContext(ctx, &total, query, args...))
	})
	return total, err
}

// paged applies limit and offset when set.
func paged(ds *goqu.SelectDataset, limit, offset int) *goqu.SelectDataset {
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	if offset > 0 {
		ds = ds.Offset(uint(offset))
	}
	return ds
}

func from(table string) *goqu.SelectDataset { return dialect.From(table).Prepared(true) }

func insertInto(table string) *goqu.InsertDataset { return dialect.Insert(table).Prepared(true) }

func update(table string) *goqu.UpdateDataset { return dialect.Update(table).Prepared(true) }
