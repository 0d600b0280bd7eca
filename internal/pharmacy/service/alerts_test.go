package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/notify"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

func (h *harness) putRecord(drugID string, loc domain.Location, qty, minimum int, expiryDays *int) domain.InventoryRecord {
	rec := domain.InventoryRecord{
		ID:              uuid.New().String(),
		DrugID:          drugID,
		Location:        loc,
		CurrentQuantity: qty,
		MinimumLevel:    minimum,
	}
	if expiryDays != nil {
		rec.ExpiryDate = h.day(*expiryDays)
	}
	h.store.PutInventory(rec)
	return rec
}

func TestAlerts_ScanRaisesOncePerCondition(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	low := h.putRecord(d.ID, h.pharmacy(), 3, 10, nil)
	expiring := h.putRecord(d.ID, h.warehouse(), 20, 0, qty(5))
	expired := h.putRecord(d.ID, h.warehouse(), 4, 0, qty(-1))
	h.putRecord(d.ID, h.warehouse(), 50, 0, qty(120))
	h.putRecord(d.ID, h.warehouse(), 0, 0, qty(2))

	ctx := context.Background()
	n, err := h.svc.Alerts.ScanAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	alerts, total, err := h.svc.Alerts.List(ctx, domain.AlertFilter{Status: domain.AlertActive})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	byRecord := map[string]*domain.StockAlert{}
	for _, a := range alerts {
		byRecord[a.InventoryID] = a
	}
	require.Contains(t, byRecord, low.ID)
	assert.Equal(t, domain.AlertLowStock, byRecord[low.ID].AlertType)
	assert.Equal(t, "warning", byRecord[low.ID].Severity)
	require.Contains(t, byRecord, expiring.ID)
	assert.Equal(t, domain.AlertExpiringSoon, byRecord[expiring.ID].AlertType)
	assert.Equal(t, "critical", byRecord[expiring.ID].Severity)
	require.Contains(t, byRecord, expired.ID)
	assert.Equal(t, domain.AlertExpired, byRecord[expired.ID].AlertType)

	assert.Len(t, h.hooks.Named(notify.LowStock), 1)
	expiringCalls := h.hooks.Named(notify.StockExpiring)
	require.Len(t, expiringCalls, 2)

	n, err = h.svc.Alerts.ScanAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "open alerts are not raised again")
	assert.Len(t, h.hooks.Named(notify.LowStock), 1)
	assert.Len(t, h.hooks.Named(notify.StockExpiring), 2)
}

func TestAlerts_ResolvedWhenConditionClears(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	low := h.putRecord(d.ID, h.pharmacy(), 3, 10, nil)
	ctx := context.Background()

	_, err := h.svc.Alerts.ScanAll(ctx)
	require.NoError(t, err)

	_, err = h.svc.Ledger.SetQuantity(h.as(h.pharmacist), low.ID, 40, "restocked")
	require.NoError(t, err)

	_, err = h.svc.Alerts.ScanAll(ctx)
	require.NoError(t, err)

	resolved, _, err := h.svc.Alerts.List(ctx, domain.AlertFilter{Status: domain.AlertResolved})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, low.ID, resolved[0].InventoryID)
	assert.NotNil(t, resolved[0].ResolvedAt)

	_, err = h.svc.Ledger.SetQuantity(h.as(h.pharmacist), low.ID, 2, "breakage")
	require.NoError(t, err)
	n, err := h.svc.Alerts.ScanAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a condition that returns raises a fresh alert")
}

func TestAlerts_Acknowledge(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	h.putRecord(d.ID, h.pharmacy(), 0, 5, nil)
	ctx := context.Background()

	_, err := h.svc.Alerts.ScanAll(ctx)
	require.NoError(t, err)
	alerts, _, err := h.svc.Alerts.List(ctx, domain.AlertFilter{AlertType: domain.AlertLowStock})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "critical", alerts[0].Severity, "nothing left")

	err = h.svc.Alerts.Acknowledge(ctx, alerts[0].ID)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	require.NoError(t, h.svc.Alerts.Acknowledge(h.as(h.pharmacist), alerts[0].ID))
	acked, _, err := h.svc.Alerts.List(ctx, domain.AlertFilter{Status: domain.AlertAcknowledged})
	require.NoError(t, err)
	require.Len(t, acked, 1)
	assert.Equal(t, h.pharmacist.UserID, *acked[0].AcknowledgedBy)

	n, err := h.svc.Alerts.ScanAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "acknowledged alerts still count as open")

	err = h.svc.Alerts.Acknowledge(h.as(h.pharmacist), "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
