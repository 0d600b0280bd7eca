package repository

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

const alertColumns = `id, alert_type, severity, drug_id, inventory_id, location_type, location_id,
	message, status, acknowledged_by, acknowledged_at, resolved_at, created_at`

const auditColumns = `id, actor_id, action, table_name, record_id, old_values, new_values, created_at`

// AlertRepository handles stock_alerts rows
type AlertRepository struct {
	db *database.DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *database.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts an alert. A second open alert for the same condition
// and record is a conflict.
func (r *AlertRepository) Create(ctx context.Context, a *domain.StockAlert) error {
	_, err := exec(ctx, r.db, `
		INSERT INTO stock_alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, a.ID, a.AlertType, a.Severity, a.DrugID, a.InventoryID, a.Location.Type, a.Location.ID,
		a.Message, a.Status, a.AcknowledgedBy, a.AcknowledgedAt, a.ResolvedAt, a.CreatedAt)
	if errors.CodeOf(err) == errors.CodeConflict {
		return errors.Conflict("an open alert already exists")
	}
	return err
}

// FindOpen returns the open alert for a condition and record, or nil
func (r *AlertRepository) FindOpen(ctx context.Context, t domain.AlertType, inventoryID string) (*domain.StockAlert, error) {
	var a domain.StockAlert
	err := get(ctx, r.db, "alert", &a, `
		SELECT `+alertColumns+` FROM stock_alerts
		WHERE alert_type = $1 AND inventory_id = $2 AND status <> 'resolved'
	`, t, inventoryID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListOpen lists unresolved alerts oldest first
func (r *AlertRepository) ListOpen(ctx context.Context) ([]*domain.StockAlert, error) {
	alerts := []*domain.StockAlert{}
	err := selectAll(ctx, r.db, &alerts, `
		SELECT `+alertColumns+` FROM stock_alerts
		WHERE status <> 'resolved'
		ORDER BY created_at
	`)
	return alerts, err
}

// Resolve closes an alert
func (r *AlertRepository) Resolve(ctx context.Context, id string, at time.Time) error {
	return execOne(ctx, r.db, "alert",
		`UPDATE stock_alerts SET status = 'resolved', resolved_at = $2 WHERE id = $1`, id, at)
}

// Acknowledge marks an open alert as seen by userID
func (r *AlertRepository) Acknowledge(ctx context.Context, id, userID string, at time.Time) error {
	return execOne(ctx, r.db, "alert", `
		UPDATE stock_alerts SET status = 'acknowledged', acknowledged_by = $2, acknowledged_at = $3
		WHERE id = $1 AND status <> 'resolved'
	`, id, userID, at)
}

// List lists alerts newest first
func (r *AlertRepository) List(ctx context.Context, f domain.AlertFilter) ([]*domain.StockAlert, int64, error) {
	ds := from("stock_alerts")
	if f.AlertType != "" {
		ds = ds.Where(goqu.C("alert_type").Eq(f.AlertType))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(f.Status))
	}
	if f.DrugID != "" {
		ds = ds.Where(goqu.C("drug_id").Eq(f.DrugID))
	}

	total, err := count(ctx, r.db, ds)
	if err != nil {
		return nil, 0, err
	}

	alerts := []*domain.StockAlert{}
	ds = paged(ds.Select(goqu.L(alertColumns)).Order(goqu.C("created_at").Desc()), f.Limit, f.Offset)
	if err := selectBuilt(ctx, r.db, &alerts, ds); err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// AuditRepository handles audit_logs rows
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert appends an audit entry
func (r *AuditRepository) Insert(ctx context.Context, e *domain.AuditEntry) error {
	_, err := exec(ctx, r.db, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.ActorID, e.Action, e.TableName, e.RecordID, jsonOrNull(e.OldValues), jsonOrNull(e.NewValues), e.Timestamp)
	return err
}

func jsonOrNull(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// auditRow scans the nullable JSONB columns, which json.RawMessage cannot.
type auditRow struct {
	domain.AuditEntry
	OldValues []byte `db:"old_values"`
	NewValues []byte `db:"new_values"`
}

// List lists audit entries newest first
func (r *AuditRepository) List(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, error) {
	ds := from("audit_logs").Select(goqu.L(auditColumns))
	if f.TableName != "" {
		ds = ds.Where(goqu.C("table_name").Eq(f.TableName))
	}
	if f.RecordID != "" {
		ds = ds.Where(goqu.C("record_id").Eq(f.RecordID))
	}
	if f.ActorID != "" {
		ds = ds.Where(goqu.C("actor_id").Eq(f.ActorID))
	}

	rows := []*auditRow{}
	if err := selectBuilt(ctx, r.db, &rows, paged(ds.Order(goqu.C("created_at").Desc()), f.Limit, 0)); err != nil {
		return nil, err
	}
	entries := make([]*domain.AuditEntry, len(rows))
	for i, row := range rows {
		e := row.AuditEntry
		e.OldValues = row.OldValues
		e.NewValues = row.NewValues
		entries[i] = &e
	}
	return entries, nil
}
