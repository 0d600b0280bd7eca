package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/notify"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
)

func TestDrugs_Create(t *testing.T) {
	h := newHarness(t)
	ctx := h.as(h.admin)

	d, err := h.svc.Drugs.Create(ctx, &domain.Drug{Name: "  Metformin  "})
	require.NoError(t, err)
	assert.Equal(t, "Metformin", d.Name)
	assert.Equal(t, domain.DrugUnavailable, d.Status)
	assert.Equal(t, 1, d.UnitsPerBox)
	assert.Equal(t, "unit", d.Unit)

	entries := h.store.AuditEntries()
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.ActionDrugCreated, entries[len(entries)-1].Action)
	assert.Equal(t, h.admin.UserID, entries[len(entries)-1].ActorID)

	_, err = h.svc.Drugs.Create(ctx, &domain.Drug{Name: " "})
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	_, err = h.svc.Drugs.Create(ctx, &domain.Drug{Name: "X", MaxMonthlyDose: qty(0)})
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestLifecycle_AutomaticStatusFollowsStock(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	assert.Equal(t, domain.DrugUnavailable, h.drugStatus(t, d.ID))

	h.stock(t, d.ID, h.warehouse(), 4, "", nil)
	assert.Equal(t, domain.DrugAvailable, h.drugStatus(t, d.ID))

	_, err := h.svc.Ledger.Consume(context.Background(), d.ID, h.warehouse(), 4, "used")
	require.NoError(t, err)
	assert.Equal(t, domain.DrugUnavailable, h.drugStatus(t, d.ID))
}

func TestLifecycle_PhasingOutArchivesOnceDrained(t *testing.T) {
	h := newHarness(t)
	ctx := h.as(h.admin)
	d := h.drug(t)
	h.stock(t, d.ID, h.pharmacy(), 10, "", nil)
	h.hooks.Reset()

	got, err := h.svc.Drugs.StartPhasingOut(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DrugPhasingOut, got.Status)
	assert.Len(t, h.hooks.Named(notify.PhasingOutStarted), 1)

	h.stock(t, d.ID, h.pharmacy(), 5, "", nil)
	assert.Equal(t, domain.DrugPhasingOut, h.drugStatus(t, d.ID), "stock never reverts phasing_out")

	_, err = h.svc.Ledger.Consume(ctx, d.ID, h.pharmacy(), 15, "last patients")
	require.NoError(t, err)
	assert.Equal(t, domain.DrugArchived, h.drugStatus(t, d.ID))

	h.stock(t, d.ID, h.pharmacy(), 3, "", nil)
	assert.Equal(t, domain.DrugArchived, h.drugStatus(t, d.ID), "archived never changes automatically")
	assert.Len(t, h.hooks.Named(notify.DrugArchived), 1)
}

func TestLifecycle_PhasingOutWithoutStockArchivesImmediately(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)

	got, err := h.svc.Drugs.StartPhasingOut(h.as(h.admin), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DrugArchived, got.Status)
	assert.Len(t, h.hooks.Named(notify.PhasingOutStarted), 1)
	assert.Len(t, h.hooks.Named(notify.DrugArchived), 1)
}

func TestLifecycle_ApprovingLastStockArchivesPhasingOutDrug(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	h.stock(t, d.ID, h.warehouse(), 10, "W1", h.day(90))

	_, err := h.svc.Drugs.StartPhasingOut(h.as(h.admin), d.ID)
	require.NoError(t, err)

	req, err := h.svc.Requests.Create(h.as(h.pharmacist), service.CreateRequestInput{
		Kind:  domain.RequestInternal,
		Items: []service.RequestItemInput{{DrugID: d.ID, Quantity: 10}},
	})
	require.NoError(t, err)

	_, err = h.svc.Requests.Approve(h.as(h.keeper), req.ID, nil, "")
	require.NoError(t, err)

	summary, err := h.svc.Drugs.StockSummary(context.Background(), d.ID, "")
	require.NoError(t, err)
	assert.Zero(t, summary.TotalStock)
	assert.Equal(t, 10, summary.InTransit)
	assert.Equal(t, domain.DrugArchived, h.drugStatus(t, d.ID))
	assert.Len(t, h.hooks.Named(notify.DrugArchived), 1)

	_, err = h.svc.Requests.ConfirmReceipt(h.as(h.pharmacist), req.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 10, h.available(t, d.ID, h.pharmacy()))
	assert.Equal(t, domain.DrugArchived, h.drugStatus(t, d.ID), "received stock does not revive an archived drug")
	assert.Len(t, h.hooks.Named(notify.DrugArchived), 1)
}

func TestLifecycle_EmptyReceiptKeepsPhasingOutDrugArchived(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	h.stock(t, d.ID, h.warehouse(), 6, "", nil)
	_, err := h.svc.Drugs.StartPhasingOut(h.as(h.admin), d.ID)
	require.NoError(t, err)

	req, err := h.svc.Requests.Create(h.as(h.pharmacist), service.CreateRequestInput{
		Kind:  domain.RequestInternal,
		Items: []service.RequestItemInput{{DrugID: d.ID, Quantity: 6}},
	})
	require.NoError(t, err)
	req, err = h.svc.Requests.Approve(h.as(h.keeper), req.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.DrugArchived, h.drugStatus(t, d.ID))

	_, err = h.svc.Requests.ConfirmReceipt(h.as(h.pharmacist), req.ID,
		[]service.ItemQuantity{{ItemID: req.Items[0].ID, Quantity: qty(0)}}, "box lost in transit")
	require.NoError(t, err)

	assert.Equal(t, domain.DrugArchived, h.drugStatus(t, d.ID))
	assert.Len(t, h.hooks.Named(notify.DrugArchived), 1)
	require.Len(t, h.hooks.Named(notify.ShortageDetected), 1)
	assert.Equal(t, 6, h.hooks.Named(notify.ShortageDetected)[0].Shortages[0].Gap)
}

func TestLifecycle_AdministrativeTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := h.as(h.admin)
	d := h.drug(t)

	_, err := h.svc.Drugs.Reactivate(ctx, d.ID)
	assert.NoError(t, err, "unavailable can be reactivated")

	h.stock(t, d.ID, h.pharmacy(), 2, "", nil)
	_, err = h.svc.Drugs.Reactivate(ctx, d.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition), "available cannot be reactivated")

	got, err := h.svc.Drugs.Archive(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DrugArchived, got.Status)

	_, err = h.svc.Drugs.Archive(ctx, d.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition))
	_, err = h.svc.Drugs.StartPhasingOut(ctx, d.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition))

	_, err = h.svc.Drugs.Archive(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestLifecycle_ReactivateNotifiesAudience(t *testing.T) {
	h := newHarness(t)
	doctor := h.addStaff(t, domain.RoleDoctor, h.site)
	d := h.drug(t)

	for _, patient := range []string{"patient-1", "patient-2"} {
		_, err := h.svc.Prescriptions.Create(h.as(doctor), service.CreatePrescriptionInput{
			PatientID:  patient,
			HospitalID: h.site.Hospital.ID,
			Drugs:      []service.PrescriptionLine{{DrugID: d.ID, MonthlyQuantity: 30, DailyQuantity: 1}},
		})
		require.NoError(t, err)
	}
	rx, err := h.svc.Prescriptions.ListByPatient(context.Background(), "patient-2")
	require.NoError(t, err)
	_, err = h.svc.Prescriptions.Cancel(h.as(doctor), rx[0].ID)
	require.NoError(t, err)

	_, err = h.svc.Drugs.Archive(h.as(h.admin), d.ID)
	require.NoError(t, err)

	got, err := h.svc.Drugs.Reactivate(h.as(h.admin), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DrugUnavailable, got.Status, "without stock reactivation settles on unavailable")

	calls := h.hooks.Named(notify.DrugReactivated)
	require.Len(t, calls, 1)
	assert.ElementsMatch(t, domain.ReactivationRoles, calls[0].Audience.Roles)
	assert.Equal(t, []string{"patient-1"}, calls[0].Audience.PatientIDs)
}

func TestDrugs_ApplyChanges(t *testing.T) {
	h := newHarness(t)
	ctx := h.as(h.admin)
	d := h.drug(t)
	h.stock(t, d.ID, h.pharmacy(), 5, "", nil)
	h.hooks.Reset()

	unavailable := domain.DrugUnavailable
	_, err := h.svc.Drugs.ApplyChanges(ctx, d.ID, domain.DrugChanges{Status: &unavailable}, false)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	name := "Metformin XR"
	phasing := domain.DrugPhasingOut
	got, err := h.svc.Drugs.ApplyChanges(ctx, d.ID, domain.DrugChanges{Name: &name, Status: &phasing}, true)
	require.NoError(t, err)
	assert.Equal(t, name, got.Name)
	assert.Equal(t, domain.DrugPhasingOut, got.Status)
	assert.Empty(t, h.hooks.Calls(), "suppressed edits send no notifications")

	archived := domain.DrugArchived
	_, err = h.svc.Drugs.ApplyChanges(ctx, d.ID, domain.DrugChanges{Status: &archived}, false)
	require.NoError(t, err)
	assert.Len(t, h.hooks.Named(notify.DrugArchived), 1)
}

func TestDrugs_StockSummary(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t, testutil.WithMaxMonthlyDose(60))
	h.stock(t, d.ID, h.warehouse(), 10, "", nil)
	h.stock(t, d.ID, h.pharmacy(), 5, "", nil)

	summary, err := h.svc.Drugs.StockSummary(context.Background(), d.ID, h.site.Hospital.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, summary.TotalStock)
	assert.True(t, summary.AvailableAnywhere)
	require.NotNil(t, summary.AvailableInHospital)
	assert.True(t, *summary.AvailableInHospital)

	other := h.fx.Site()
	summary, err = h.svc.Drugs.StockSummary(context.Background(), d.ID, other.Hospital.ID)
	require.NoError(t, err)
	assert.False(t, *summary.AvailableInHospital)
}
