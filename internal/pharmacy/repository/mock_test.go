package repository_test

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/repository"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
)

var inventoryCols = []string{
	"id", "drug_id", "location_type", "location_id", "batch_number", "expiry_date",
	"current_quantity", "minimum_level", "created_at", "updated_at",
}

func TestDrugRepository_GetByID_NotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("FROM drugs WHERE id = $1").
		WithArgs("missing").
		WillReturnRows(testutil.MockRows("id", "name"))

	_, err := repository.NewDrugRepository(mockDB.DB).GetByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	mockDB.ExpectationsWereMet(t)
}

func TestInventoryRepository_Lock(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	now := time.Now().UTC()
	mockDB.ExpectExec("ON CONFLICT DO NOTHING").
		WithArgs(testutil.AnyUUID{}, "drug-1", domain.LocationPharmacy, "ph-1", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("COALESCE(batch_number, '') = COALESCE($4, '')").
		WillReturnRows(testutil.MockRows(inventoryCols...).
			AddRow("inv-1", "drug-1", "pharmacy", "ph-1", nil, nil, 0, 0, now, now))

	rec, err := repository.NewInventoryRepository(mockDB.DB).Lock(context.Background(), domain.StockKey{
		DrugID:   "drug-1",
		Location: domain.Location{Type: domain.LocationPharmacy, ID: "ph-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "inv-1", rec.ID)
	assert.Equal(t, domain.LocationPharmacy, rec.Location.Type)
	mockDB.ExpectationsWereMet(t)
}

func TestInventoryRepository_AddQuantity(t *testing.T) {
	t.Run("returns the new quantity", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()

		mockDB.ExpectQuery("current_quantity + $2 >= 0").
			WithArgs("inv-1", -3).
			WillReturnRows(testutil.MockRows("current_quantity").AddRow(7))

		qty, err := repository.NewInventoryRepository(mockDB.DB).AddQuantity(context.Background(), "inv-1", -3)
		require.NoError(t, err)
		assert.Equal(t, 7, qty)
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("refuses to go negative", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()

		now := time.Now().UTC()
		mockDB.ExpectQuery("current_quantity + $2 >= 0").
			WillReturnRows(testutil.MockRows("current_quantity"))
		mockDB.ExpectQuery("FROM pharmacy_inventory WHERE id = $1").
			WillReturnRows(testutil.MockRows(inventoryCols...).
				AddRow("inv-1", "drug-1", "pharmacy", "ph-1", nil, nil, 2, 0, now, now))

		_, err := repository.NewInventoryRepository(mockDB.DB).AddQuantity(context.Background(), "inv-1", -5)
		assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("maps the check constraint", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()

		mockDB.ExpectQuery("current_quantity + $2 >= 0").
			WillReturnError(&pq.Error{Code: "23514", Constraint: "quantity_non_negative"})

		_, err := repository.NewInventoryRepository(mockDB.DB).AddQuantity(context.Background(), "inv-1", -5)
		assert.Equal(t, errors.CodeInsufficientStock, errors.CodeOf(err))
	})
}

func TestSupplyRequestRepository_GetByID(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	now := time.Now().UTC()
	mockDB.ExpectQuery("FROM supply_requests WHERE id = $1").
		WithArgs("req-1").
		WillReturnRows(testutil.MockRows(
			"id", "kind", "status", "hospital_id", "origin_type", "origin_id",
			"destination_type", "destination_id", "requested_by", "handled_by", "handled_at",
			"preapproved_by", "preapproved_at", "approved_at", "fulfilled_at", "rejected_at",
			"rejection_reason", "cancelled_at", "notes", "created_at", "updated_at",
		).AddRow(
			"req-1", "internal", "pending", "h-1", "pharmacy", "ph-1",
			"warehouse", "wh-1", "u-1", nil, nil,
			nil, nil, nil, nil, nil,
			nil, nil, []byte(`[{"author_id":"u-1","author_role":"pharmacist","message":"urgent","timestamp":"2026-03-01T10:00:00Z"}]`), now, now,
		))
	mockDB.ExpectQuery("WHERE request_id = ANY($1)").
		WillReturnRows(testutil.MockRows(
			"id", "request_id", "drug_id", "requested_qty", "approved_qty", "fulfilled_qty",
			"batch_number", "expiry_date", "allocations",
		).
			AddRow("it-1", "req-1", "drug-1", 10, nil, nil, nil, nil, []byte(`[]`)).
			AddRow("it-2", "req-1", "drug-2", 4, 4, nil, "B1", nil, []byte(`[]`)))

	req, err := repository.NewSupplyRequestRepository(mockDB.DB).GetByID(context.Background(), "req-1")
	require.NoError(t, err)

	assert.Equal(t, domain.Location{Type: domain.LocationPharmacy, ID: "ph-1"}, req.Origin)
	assert.Equal(t, domain.Location{Type: domain.LocationWarehouse, ID: "wh-1"}, req.Destination)
	require.Len(t, req.Notes, 1)
	assert.Equal(t, "urgent", req.Notes[0].Message)
	require.Len(t, req.Items, 2)
	assert.Equal(t, "it-1", req.Items[0].ID)
	assert.Equal(t, 4, *req.Items[1].ApprovedQty)
	mockDB.ExpectationsWereMet(t)
}

func TestSupplyRequestRepository_UpdateItem_NotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectExec("UPDATE supply_request_items").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repository.NewSupplyRequestRepository(mockDB.DB).UpdateItem(context.Background(), &domain.SupplyRequestItem{ID: "gone"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestPrescriptionRepository_HasActive(t *testing.T) {
	tests := []struct {
		name      string
		excludeID string
		query     string
		args      []driver.Value
	}{
		{"any active", "", "status = 'active')", []driver.Value{"pat-1"}},
		{"excluding one", "rx-1", "AND id <> $2)", []driver.Value{"pat-1", "rx-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB := testutil.NewMockDB(t)
			defer mockDB.Close()

			mockDB.ExpectQuery(tt.query).
				WithArgs(tt.args...).
				WillReturnRows(testutil.MockRows("exists").AddRow(true))

			found, err := repository.NewPrescriptionRepository(mockDB.DB).HasActive(context.Background(), "pat-1", tt.excludeID)
			require.NoError(t, err)
			assert.True(t, found)
			mockDB.ExpectationsWereMet(t)
		})
	}
}

func TestPrescriptionRepository_UpdateStatus_SecondActive(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectExec("UPDATE prescriptions SET status = $2").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "prescriptions_one_active_per_patient"})

	err := repository.NewPrescriptionRepository(mockDB.DB).UpdateStatus(context.Background(), "rx-1", domain.PrescriptionActive)
	assert.Equal(t, errors.CodeConflict, errors.CodeOf(err))
}

func TestAlertRepository_Create_DuplicateOpenAlert(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectExec("INSERT INTO stock_alerts").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "stock_alerts_open_unique"})

	err := repository.NewAlertRepository(mockDB.DB).Create(context.Background(), &domain.StockAlert{
		ID:        "a-1",
		AlertType: domain.AlertLowStock,
	})
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestAlertRepository_FindOpen_None(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("status <> 'resolved'").
		WithArgs(domain.AlertExpired, "inv-1").
		WillReturnRows(testutil.MockRows("id"))

	a, err := repository.NewAlertRepository(mockDB.DB).FindOpen(context.Background(), domain.AlertExpired, "inv-1")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestTenantScopedQueriesSetSearchPath(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectTenantExec("tenant_test", "DELETE FROM staff_profiles", sqlmock.NewResult(0, 1))

	err := repository.NewStaffRepository(mockDB.DB).Delete(testutil.TestTenantContext(), "u-1")
	require.NoError(t, err)
	mockDB.ExpectationsWereMet(t)
}
