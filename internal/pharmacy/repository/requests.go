package repository

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
)

const requestColumns = `id, kind, status, hospital_id, origin_type, origin_id,
	destination_type, destination_id, requested_by, handled_by, handled_at,
	preapproved_by, preapproved_at, approved_at, fulfilled_at, rejected_at,
	rejection_reason, cancelled_at, notes, created_at, updated_at`

const requestItemColumns = `id, request_id, drug_id, requested_qty, approved_qty, fulfilled_qty,
	batch_number, expiry_date, allocations`

// requestRow is the flat supply_requests row.
type requestRow struct {
	ID              string               `db:"id"`
	Kind            domain.RequestKind   `db:"kind"`
	Status          domain.RequestStatus `db:"status"`
	HospitalID      string               `db:"hospital_id"`
	OriginType      domain.LocationType  `db:"origin_type"`
	OriginID        string               `db:"origin_id"`
	DestinationType domain.LocationType  `db:"destination_type"`
	DestinationID   string               `db:"destination_id"`
	RequestedBy     string               `db:"requested_by"`
	HandledBy       *string              `db:"handled_by"`
	HandledAt       *time.Time           `db:"handled_at"`
	PreapprovedBy   *string              `db:"preapproved_by"`
	PreapprovedAt   *time.Time           `db:"preapproved_at"`
	ApprovedAt      *time.Time           `db:"approved_at"`
	FulfilledAt     *time.Time           `db:"fulfilled_at"`
	RejectedAt      *time.Time           `db:"rejected_at"`
	RejectionReason *string              `db:"rejection_reason"`
	CancelledAt     *time.Time           `db:"cancelled_at"`
	Notes           domain.Notes         `db:"notes"`
	CreatedAt       time.Time            `db:"created_at"`
	UpdatedAt       time.Time            `db:"updated_at"`
}

func (row *requestRow) toDomain() *domain.SupplyRequest {
	notes := row.Notes
	if notes == nil {
		notes = domain.Notes{}
	}
	return &domain.SupplyRequest{
		ID:              row.ID,
		Kind:            row.Kind,
		Status:          row.Status,
		HospitalID:      row.HospitalID,
		Origin:          domain.Location{Type: row.OriginType, ID: row.OriginID},
		Destination:     domain.Location{Type: row.DestinationType, ID: row.DestinationID},
		RequestedBy:     row.RequestedBy,
		HandledBy:       row.HandledBy,
		HandledAt:       row.HandledAt,
		PreapprovedBy:   row.PreapprovedBy,
		PreapprovedAt:   row.PreapprovedAt,
		ApprovedAt:      row.ApprovedAt,
		FulfilledAt:     row.FulfilledAt,
		RejectedAt:      row.RejectedAt,
		RejectionReason: row.RejectionReason,
		CancelledAt:     row.CancelledAt,
		Notes:           notes,
		Items:           []*domain.SupplyRequestItem{},
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

// mutableRequestFields are the columns a transition may change.
func mutableRequestFields(req *domain.SupplyRequest) goqu.Record {
	return goqu.Record{
		"status":           req.Status,
		"handled_by":       req.HandledBy,
		"handled_at":       req.HandledAt,
		"preapproved_by":   req.PreapprovedBy,
		"preapproved_at":   req.PreapprovedAt,
		"approved_at":      req.ApprovedAt,
		"fulfilled_at":     req.FulfilledAt,
		"rejected_at":      req.RejectedAt,
		"rejection_reason": req.RejectionReason,
		"cancelled_at":     req.CancelledAt,
		"notes":            req.Notes,
		"updated_at":       req.UpdatedAt,
	}
}

// SupplyRequestRepository handles supply requests and their items
type SupplyRequestRepository struct {
	db *database.DB
}

// NewSupplyRequestRepository creates a new supply request repository
func NewSupplyRequestRepository(db *database.DB) *SupplyRequestRepository {
	return &SupplyRequestRepository{db: db}
}

// Create inserts a request with its items
func (r *SupplyRequestRepository) Create(ctx context.Context, req *domain.SupplyRequest) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		rec := mutableRequestFields(req)
		rec["id"] = req.ID
		rec["kind"] = req.Kind
		rec["hospital_id"] = req.HospitalID
		rec["origin_type"] = req.Origin.Type
		rec["origin_id"] = req.Origin.ID
		rec["destination_type"] = req.Destination.Type
		rec["destination_id"] = req.Destination.ID
		rec["requested_by"] = req.RequestedBy
		rec["created_at"] = req.CreatedAt
		if _, err := execBuilt(ctx, r.db, insertInto("supply_requests").Rows(rec)); err != nil {
			return err
		}

		if len(req.Items) == 0 {
			return nil
		}
		rows := make([]interface{}, 0, len(req.Items))
		for i, it := range req.Items {
			rows = append(rows, goqu.Record{
				"id":            it.ID,
				"request_id":    req.ID,
				"drug_id":       it.DrugID,
				"requested_qty": it.RequestedQty,
				"approved_qty":  it.ApprovedQty,
				"fulfilled_qty": it.FulfilledQty,
				"batch_number":  it.BatchNumber,
				"expiry_date":   it.ExpiryDate,
				"allocations":   allocationsOrEmpty(it.Allocations),
				"position":      i,
			})
		}
		_, err := execBuilt(ctx, r.db, insertInto("supply_request_items").Rows(rows...))
		return err
	})
}

func allocationsOrEmpty(a domain.Allocations) domain.Allocations {
	if a == nil {
		return domain.Allocations{}
	}
	return a
}

// GetByID gets a request with its items
func (r *SupplyRequestRepository) GetByID(ctx context.Context, id string) (*domain.SupplyRequest, error) {
	return r.load(ctx, `SELECT `+requestColumns+` FROM supply_requests WHERE id = $1`, id)
}

// GetForUpdate gets a request and locks its row
func (r *SupplyRequestRepository) GetForUpdate(ctx context.Context, id string) (*domain.SupplyRequest, error) {
	return r.load(ctx, `SELECT `+requestColumns+` FROM supply_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *SupplyRequestRepository) load(ctx context.Context, query, id string) (*domain.SupplyRequest, error) {
	var row requestRow
	if err := get(ctx, r.db, "supply request", &row, query, id); err != nil {
		return nil, err
	}
	reqs := []*domain.SupplyRequest{row.toDomain()}
	if err := r.attachItems(ctx, reqs); err != nil {
		return nil, err
	}
	return reqs[0], nil
}

// attachItems loads the items of every request in one query.
func (r *SupplyRequestRepository) attachItems(ctx context.Context, reqs []*domain.SupplyRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	ids := make([]string, len(reqs))
	byID := make(map[string]*domain.SupplyRequest, len(reqs))
	for i, req := range reqs {
		ids[i] = req.ID
		byID[req.ID] = req
	}

	items := []*domain.SupplyRequestItem{}
	err := selectAll(ctx, r.db, &items, `
		SELECT `+requestItemColumns+` FROM supply_request_items
		WHERE request_id = ANY($1)
		ORDER BY request_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	for _, it := range items {
		if req := byID[it.RequestID]; req != nil {
			req.Items = append(req.Items, it)
		}
	}
	return nil
}

// Update writes the request's status, handling fields and notes
func (r *SupplyRequestRepository) Update(ctx context.Context, req *domain.SupplyRequest) error {
	query, args, err := toSQL(update("supply_requests").Set(mutableRequestFields(req)).Where(goqu.C("id").Eq(req.ID)))
	if err != nil {
		return err
	}
	return execOne(ctx, r.db, "supply request", query, args...)
}

// UpdateItem writes the quantities and batch data of one item
func (r *SupplyRequestRepository) UpdateItem(ctx context.Context, it *domain.SupplyRequestItem) error {
	return execOne(ctx, r.db, "supply request item", `
		UPDATE supply_request_items
		SET approved_qty = $2, fulfilled_qty = $3, batch_number = $4, expiry_date = $5::date, allocations = $6
		WHERE id = $1
	`, it.ID, it.ApprovedQty, it.FulfilledQty, it.BatchNumber, it.ExpiryDate, allocationsOrEmpty(it.Allocations))
}

// List lists requests newest first
func (r *SupplyRequestRepository) List(ctx context.Context, f domain.RequestFilter) ([]*domain.SupplyRequest, int64, error) {
	ds := from("supply_requests")
	filters := []struct {
		col, val string
	}{
		{"kind", string(f.Kind)},
		{"status", string(f.Status)},
		{"hospital_id", f.HospitalID},
		{"origin_id", f.OriginID},
		{"destination_id", f.DestinationID},
		{"requested_by", f.RequestedBy},
	}
	for _, fl := range filters {
		if fl.val != "" {
			ds = ds.Where(goqu.C(fl.col).Eq(fl.val))
		}
	}

	total, err := count(ctx, r.db, ds)
	if err != nil {
		return nil, 0, err
	}

	rows := []*requestRow{}
	ds = paged(ds.Select(goqu.L(requestColumns)).Order(goqu.C("created_at").Desc()), f.Limit, f.Offset)
	if err := selectBuilt(ctx, r.db, &rows, ds); err != nil {
		return nil, 0, err
	}
	reqs := toRequests(rows)
	if err := r.attachItems(ctx, reqs); err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

func toRequests(rows []*requestRow) []*domain.SupplyRequest {
	reqs := make([]*domain.SupplyRequest, len(rows))
	for i, row := range rows {
		reqs[i] = row.toDomain()
	}
	return reqs
}

// InTransit sums approved quantities of a drug not yet received
func (r *SupplyRequestRepository) InTransit(ctx context.Context, drugID string) (int, error) {
	var total int
	err := get(ctx, r.db, "supply request", &total, `
		SELECT COALESCE(SUM(i.approved_qty), 0)
		FROM supply_request_items i
		JOIN supply_requests r ON r.id = i.request_id
		WHERE r.status = 'approved' AND i.drug_id = $1
	`, drugID)
	return total, err
}

// ListStalePending lists pending requests created before the cutoff
func (r *SupplyRequestRepository) ListStalePending(ctx context.Context, before time.Time) ([]*domain.SupplyRequest, error) {
	rows := []*requestRow{}
	err := selectAll(ctx, r.db, &rows, `
		SELECT `+requestColumns+` FROM supply_requests
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
	`, before)
	if err != nil {
		return nil, err
	}
	reqs := toRequests(rows)
	if err := r.attachItems(ctx, reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}
