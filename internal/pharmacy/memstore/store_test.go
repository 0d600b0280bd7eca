package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	apperrors "github.com/medflow/medflow-pharmacy/pkg/errors"
)

func seeded(t *testing.T) (*Store, domain.StockKey) {
	t.Helper()
	s := New()
	s.AddPharmacy(domain.Pharmacy{ID: "ph-1", HospitalID: "h-1"})
	s.PutDrug(domain.Drug{ID: "drug-1", Name: "Amoxicillin", Status: domain.DrugUnavailable})
	return s, domain.StockKey{DrugID: "drug-1", Location: domain.AtPharmacy("ph-1")}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s, key := seeded(t)
	inv := s.Stores().Inventory
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		rec, err := inv.Lock(ctx, key)
		require.NoError(t, err)
		_, err = inv.AddQuantity(ctx, rec.ID, 10)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.Inventory(), "record created inside the failed transaction must be gone")
}

func TestWithTx_NestedCallsJoin(t *testing.T) {
	s, key := seeded(t)
	inv := s.Stores().Inventory
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context) error {
		rec, err := inv.Lock(ctx, key)
		if err != nil {
			return err
		}
		if _, err := inv.AddQuantity(ctx, rec.ID, 5); err != nil {
			return err
		}
		// Nested calls do not open savepoints: the inner write survives
		// its own error when the outer transaction commits.
		_ = s.WithTx(ctx, func(ctx context.Context) error {
			if _, err := inv.AddQuantity(ctx, rec.ID, 1); err != nil {
				return err
			}
			return errors.New("ignored")
		})
		return nil
	})
	require.NoError(t, err)

	recs := s.Inventory()
	require.Len(t, recs, 1)
	assert.Equal(t, 6, recs[0].CurrentQuantity)
}

func TestInventory_AddQuantityNeverGoesNegative(t *testing.T) {
	s, key := seeded(t)
	inv := s.Stores().Inventory
	ctx := context.Background()

	rec, err := inv.Lock(ctx, key)
	require.NoError(t, err)
	_, err = inv.AddQuantity(ctx, rec.ID, 3)
	require.NoError(t, err)

	_, err = inv.AddQuantity(ctx, rec.ID, -4)
	assert.Equal(t, apperrors.CodeInsufficientStock, apperrors.CodeOf(err))

	got, err := inv.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentQuantity)
}

func TestInventory_LockMatchesIdentity(t *testing.T) {
	s, key := seeded(t)
	inv := s.Stores().Inventory
	ctx := context.Background()

	expiry := time.Date(2027, 1, 31, 15, 0, 0, 0, time.UTC)
	batch := "B-1"
	withBatch := key
	withBatch.BatchNumber = &batch
	withBatch.ExpiryDate = &expiry

	a, err := inv.Lock(ctx, withBatch)
	require.NoError(t, err)

	sameDay := time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)
	again := withBatch
	again.ExpiryDate = &sameDay
	b, err := inv.Lock(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "expiry compares by calendar date")

	empty := ""
	noBatch := key
	noBatch.BatchNumber = &empty
	c, err := inv.Lock(ctx, noBatch)
	require.NoError(t, err)
	d, err := inv.Lock(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, c.ID, d.ID, "empty batch is the same as no batch")
	assert.NotEqual(t, a.ID, c.ID)
}

func TestInventory_ZeroExpired(t *testing.T) {
	s, _ := seeded(t)
	ctx := context.Background()
	today := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	past := today.AddDate(0, 0, -1)
	future := today.AddDate(0, 1, 0)

	s.PutInventory(domain.InventoryRecord{ID: "old", DrugID: "drug-1", Location: domain.AtPharmacy("ph-1"), ExpiryDate: &past, CurrentQuantity: 4})
	s.PutInventory(domain.InventoryRecord{ID: "due", DrugID: "drug-1", Location: domain.AtPharmacy("ph-1"), ExpiryDate: &today, CurrentQuantity: 2})
	s.PutInventory(domain.InventoryRecord{ID: "fresh", DrugID: "drug-1", Location: domain.AtPharmacy("ph-1"), ExpiryDate: &future, CurrentQuantity: 7})

	zeroed, err := s.Stores().Inventory.ZeroExpired(ctx, today)
	require.NoError(t, err)
	require.Len(t, zeroed, 2)
	prev := map[string]int{}
	for _, z := range zeroed {
		prev[z.ID] = z.PreviousQuantity
		assert.Zero(t, z.CurrentQuantity)
	}
	assert.Equal(t, map[string]int{"old": 4, "due": 2}, prev)

	again, err := s.Stores().Inventory.ZeroExpired(ctx, today)
	require.NoError(t, err)
	assert.Empty(t, again)

	n, err := s.Stores().Inventory.SumAvailable(ctx, "drug-1", domain.Anywhere(), today)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestPrescriptions_OneActivePerPatient(t *testing.T) {
	s := New()
	ps := s.Stores().Prescriptions
	ctx := context.Background()

	require.NoError(t, ps.Create(ctx, &domain.Prescription{ID: "p1", PatientID: "pat", Status: domain.PrescriptionActive}))
	err := ps.Create(ctx, &domain.Prescription{ID: "p2", PatientID: "pat", Status: domain.PrescriptionActive})
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	require.NoError(t, ps.Create(ctx, &domain.Prescription{ID: "p3", PatientID: "pat", Status: domain.PrescriptionSuspended}))
	err = ps.UpdateStatus(ctx, "p3", domain.PrescriptionActive)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
}

func TestAlerts_OneOpenPerCondition(t *testing.T) {
	s := New()
	as := s.Stores().Alerts
	ctx := context.Background()

	a := &domain.StockAlert{ID: "a1", AlertType: domain.AlertLowStock, InventoryID: "inv", Status: domain.AlertActive}
	require.NoError(t, as.Create(ctx, a))
	err := as.Create(ctx, &domain.StockAlert{ID: "a2", AlertType: domain.AlertLowStock, InventoryID: "inv", Status: domain.AlertActive})
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	require.NoError(t, as.Resolve(ctx, "a1", time.Now()))
	open, err := as.FindOpen(ctx, domain.AlertLowStock, "inv")
	require.NoError(t, err)
	assert.Nil(t, open)
	require.NoError(t, as.Create(ctx, &domain.StockAlert{ID: "a3", AlertType: domain.AlertLowStock, InventoryID: "inv", Status: domain.AlertActive}))

	err = as.Acknowledge(ctx, "a1", "user", time.Now())
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound), "resolved alerts cannot be acknowledged")
}
