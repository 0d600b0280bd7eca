package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/notify"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
)

func (h *harness) internalRequest(t *testing.T, drugID string, n int) *domain.SupplyRequest {
	t.Helper()
	req, err := h.svc.Requests.Create(h.as(h.pharmacist), service.CreateRequestInput{
		Kind:  domain.RequestInternal,
		Items: []service.RequestItemInput{{DrugID: drugID, Quantity: n}},
	})
	require.NoError(t, err)
	return req
}

func TestSupplyRequest_InternalRoundTrip(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	expiry := h.day(90)
	h.stock(t, d.ID, h.warehouse(), 20, "W1", expiry)

	req := h.internalRequest(t, d.ID, 8)
	assert.Equal(t, domain.RequestPending, req.Status)
	assert.Equal(t, h.pharmacy(), req.Origin)
	assert.Equal(t, h.warehouse(), req.Destination)
	assert.Equal(t, h.site.Hospital.ID, req.HospitalID)
	assert.Equal(t, h.pharmacist.UserID, req.RequestedBy)

	req, err := h.svc.Requests.Approve(h.as(h.keeper), req.ID, nil, "packed")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestApproved, req.Status)
	require.NotNil(t, req.Items[0].ApprovedQty)
	assert.Equal(t, 8, *req.Items[0].ApprovedQty)
	assert.Equal(t, "W1", *req.Items[0].BatchNumber)
	assert.Equal(t, 12, h.available(t, d.ID, h.warehouse()))
	assert.Equal(t, h.keeper.UserID, *req.HandledBy)

	req, err = h.svc.Requests.ConfirmReceipt(h.as(h.pharmacist), req.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFulfilled, req.Status)
	assert.Equal(t, 8, *req.Items[0].FulfilledQty)
	assert.NotNil(t, req.FulfilledAt)

	recs, _, err := h.svc.Ledger.List(context.Background(), domain.InventoryFilter{DrugID: d.ID, Location: locPtr(h.pharmacy())})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 8, recs[0].CurrentQuantity)
	assert.Equal(t, "W1", *recs[0].BatchNumber, "received stock keeps its batch")
	assert.True(t, recs[0].ExpiryDate.Equal(*expiry))

	got, err := h.svc.Requests.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFulfilled, got.Status)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, "packed", got.Notes[0].Message)

	assert.Len(t, h.events.Events(messaging.EventRequestStatusChanged), 3)
	assert.Empty(t, h.hooks.Named(notify.ShortageDetected))
}

func TestSupplyRequest_ApproveQuantities(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	h.stock(t, d.ID, h.warehouse(), 4, "", nil)

	t.Run("defaults to what is available", func(t *testing.T) {
		req := h.internalRequest(t, d.ID, 10)
		req, err := h.svc.Requests.Approve(h.as(h.keeper), req.ID, nil, "")
		require.NoError(t, err)
		assert.Equal(t, 4, *req.Items[0].ApprovedQty)
		assert.Zero(t, h.available(t, d.ID, h.warehouse()))
	})

	h.stock(t, d.ID, h.warehouse(), 5, "", nil)

	t.Run("explicit quantity above stock", func(t *testing.T) {
		req := h.internalRequest(t, d.ID, 10)
		_, err := h.svc.Requests.Approve(h.as(h.keeper), req.ID,
			[]service.ItemQuantity{{ItemID: req.Items[0].ID, Quantity: qty(6)}}, "")
		assert.Equal(t, errors.CodeInsufficientStock, errors.CodeOf(err))
		assert.Equal(t, 5, h.available(t, d.ID, h.warehouse()))

		got, err := h.svc.Requests.Get(context.Background(), req.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RequestPending, got.Status)
		assert.Nil(t, got.Items[0].ApprovedQty)
	})

	t.Run("explicit quantity above requested", func(t *testing.T) {
		req := h.internalRequest(t, d.ID, 2)
		_, err := h.svc.Requests.Approve(h.as(h.keeper), req.ID,
			[]service.ItemQuantity{{ItemID: req.Items[0].ID, Quantity: qty(3)}}, "")
		assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	})

	t.Run("nothing approved", func(t *testing.T) {
		req := h.internalRequest(t, d.ID, 2)
		_, err := h.svc.Requests.Approve(h.as(h.keeper), req.ID,
			[]service.ItemQuantity{{ItemID: req.Items[0].ID, Quantity: qty(0)}}, "")
		assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	})

	t.Run("unknown item", func(t *testing.T) {
		req := h.internalRequest(t, d.ID, 2)
		_, err := h.svc.Requests.Approve(h.as(h.keeper), req.ID,
			[]service.ItemQuantity{{ItemID: "other", Quantity: qty(1)}}, "")
		assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	})
}

func TestSupplyRequest_IllegalTransitions(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	h.stock(t, d.ID, h.warehouse(), 10, "", nil)
	req := h.internalRequest(t, d.ID, 2)

	_, err := h.svc.Requests.ConfirmReceipt(h.as(h.pharmacist), req.ID, nil, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition))

	_, err = h.svc.Requests.Preapprove(h.as(h.admin), req.ID, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition), "internal requests have no preapproval")

	_, err = h.svc.Requests.Reject(h.as(h.keeper), req.ID, "  ")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	_, err = h.svc.Requests.Approve(h.as(h.keeper), req.ID, nil, "")
	require.NoError(t, err)

	_, err = h.svc.Requests.Cancel(h.as(h.pharmacist), req.ID, "changed my mind")
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition), "approved requests cannot be cancelled")
	_, err = h.svc.Requests.Reject(h.as(h.keeper), req.ID, "too late")
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition))

	_, err = h.svc.Requests.ConfirmReceipt(h.as(h.pharmacist), req.ID, nil, "")
	require.NoError(t, err)
	_, err = h.svc.Requests.ConfirmReceipt(h.as(h.pharmacist), req.ID, nil, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition), "fulfilled is terminal")

	assert.Equal(t, 2, h.available(t, d.ID, h.pharmacy()), "stock is received exactly once")
}

func TestSupplyRequest_RejectAndCancel(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)

	req := h.internalRequest(t, d.ID, 2)
	req, err := h.svc.Requests.Reject(h.as(h.keeper), req.ID, "not in formulary")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestRejected, req.Status)
	assert.Equal(t, "not in formulary", *req.RejectionReason)
	assert.NotNil(t, req.RejectedAt)

	req = h.internalRequest(t, d.ID, 2)
	req, err = h.svc.Requests.Cancel(h.as(h.pharmacist), req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCancelled, req.Status)
	assert.Empty(t, req.Notes)
}

func TestSupplyRequest_ShortReceipt(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	h.stock(t, d.ID, h.warehouse(), 8, "", nil)
	req := h.internalRequest(t, d.ID, 8)
	req, err := h.svc.Requests.Approve(h.as(h.keeper), req.ID, nil, "")
	require.NoError(t, err)
	short := []service.ItemQuantity{{ItemID: req.Items[0].ID, Quantity: qty(5)}}

	_, err = h.svc.Requests.ConfirmReceipt(h.as(h.pharmacist), req.ID, short, "")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err), "a shortfall needs a note")
	got, err := h.svc.Requests.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestApproved, got.Status)
	assert.Zero(t, h.available(t, d.ID, h.pharmacy()))

	_, err = h.svc.Requests.ConfirmReceipt(h.as(h.pharmacist), req.ID,
		[]service.ItemQuantity{{ItemID: req.Items[0].ID, Quantity: qty(9)}}, "extra")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err), "cannot receive more than approved")

	req, err = h.svc.Requests.ConfirmReceipt(h.as(h.pharmacist), req.ID, short, "three boxes damaged")
	require.NoError(t, err)
	assert.Equal(t, 5, *req.Items[0].FulfilledQty)
	assert.Equal(t, 5, h.available(t, d.ID, h.pharmacy()))

	calls := h.hooks.Named(notify.ShortageDetected)
	require.Len(t, calls, 1)
	assert.Equal(t, req.ID, calls[0].RequestID)
	assert.Equal(t, "three boxes damaged", calls[0].Note)
	assert.Equal(t, h.pharmacy(), calls[0].Location)
	require.Len(t, calls[0].Shortages, 1)
	assert.Equal(t, domain.Shortage{
		ItemID: req.Items[0].ID, DrugID: d.ID, ApprovedQty: 8, FulfilledQty: 5, Gap: 3,
	}, calls[0].Shortages[0])
}

func TestSupplyRequest_ExternalFlow(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	supplier := domain.AtSupplier(h.supplier.ID)
	h.stock(t, d.ID, supplier, 100, "S-77", h.day(365))

	_, err := h.svc.Requests.Create(h.as(h.keeper), service.CreateRequestInput{
		Kind:  domain.RequestExternal,
		Items: []service.RequestItemInput{{DrugID: d.ID, Quantity: 40}},
	})
	assert.True(t, errors.Is(err, errors.ErrMissingLocation), "the supplier must be named")

	req, err := h.svc.Requests.Create(h.as(h.keeper), service.CreateRequestInput{
		Kind:          domain.RequestExternal,
		DestinationID: h.supplier.ID,
		Items:         []service.RequestItemInput{{DrugID: d.ID, Quantity: 40}},
		Note:          "monthly order",
	})
	require.NoError(t, err)
	assert.Equal(t, h.warehouse(), req.Origin)
	assert.Equal(t, supplier, req.Destination)
	require.Len(t, req.Notes, 1)

	_, err = h.svc.Requests.Approve(h.as(h.keeper), req.ID, nil, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition), "external requests need preapproval first")

	req, err = h.svc.Requests.Preapprove(h.as(h.admin), req.ID, "within budget")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPreapproved, req.Status)
	assert.Equal(t, h.admin.UserID, *req.PreapprovedBy)

	_, err = h.svc.Requests.Approve(h.as(h.keeper), req.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 60, h.available(t, d.ID, supplier))

	_, err = h.svc.Requests.ConfirmReceipt(h.as(h.keeper), req.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 40, h.available(t, d.ID, h.warehouse()))
}

func TestSupplyRequest_CreateValidation(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	archived := h.drug(t, testutil.WithDrugStatus(domain.DrugArchived))

	tests := []struct {
		name string
		ctx  context.Context
		in   service.CreateRequestInput
		want error
	}{
		{
			name: "system actor",
			ctx:  context.Background(),
			in:   service.CreateRequestInput{Kind: domain.RequestInternal, Items: []service.RequestItemInput{{DrugID: d.ID, Quantity: 1}}},
			want: errors.ErrForbidden,
		},
		{
			name: "unknown kind",
			ctx:  h.as(h.pharmacist),
			in:   service.CreateRequestInput{Kind: "transfer", Items: []service.RequestItemInput{{DrugID: d.ID, Quantity: 1}}},
			want: errors.ErrValidation,
		},
		{
			name: "no items",
			ctx:  h.as(h.pharmacist),
			in:   service.CreateRequestInput{Kind: domain.RequestInternal},
			want: errors.ErrValidation,
		},
		{
			name: "duplicate drug",
			ctx:  h.as(h.pharmacist),
			in: service.CreateRequestInput{Kind: domain.RequestInternal, Items: []service.RequestItemInput{
				{DrugID: d.ID, Quantity: 1}, {DrugID: d.ID, Quantity: 2},
			}},
			want: errors.ErrValidation,
		},
		{
			name: "zero quantity",
			ctx:  h.as(h.pharmacist),
			in:   service.CreateRequestInput{Kind: domain.RequestInternal, Items: []service.RequestItemInput{{DrugID: d.ID, Quantity: 0}}},
			want: errors.ErrValidation,
		},
		{
			name: "archived drug",
			ctx:  h.as(h.pharmacist),
			in:   service.CreateRequestInput{Kind: domain.RequestInternal, Items: []service.RequestItemInput{{DrugID: archived.ID, Quantity: 1}}},
			want: errors.ErrValidation,
		},
		{
			name: "no pharmacy on profile",
			ctx:  h.as(h.admin),
			in:   service.CreateRequestInput{Kind: domain.RequestInternal, Items: []service.RequestItemInput{{DrugID: d.ID, Quantity: 1}}},
			want: errors.ErrMissingLocation,
		},
		{
			name: "warehouse of another hospital",
			ctx:  h.as(h.pharmacist),
			in: service.CreateRequestInput{
				Kind: domain.RequestInternal, DestinationID: "other-warehouse",
				Items: []service.RequestItemInput{{DrugID: d.ID, Quantity: 1}},
			},
			want: errors.ErrValidation,
		},
	}

	other := h.fx.Site()
	h.store.AddHospital(other.Hospital)
	other.Warehouse.ID = "other-warehouse"
	h.store.AddWarehouse(other.Warehouse)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Requests.Create(tt.ctx, tt.in)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	reqs, total, err := h.svc.Requests.List(context.Background(), domain.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, reqs)
	assert.Zero(t, total)
}

func TestSupplyRequest_ConcurrentApprovalsNeverOversell(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	h.stock(t, d.ID, h.warehouse(), 10, "", nil)

	reqs := []*domain.SupplyRequest{h.internalRequest(t, d.ID, 10), h.internalRequest(t, d.ID, 10)}

	var wg sync.WaitGroup
	errs := make([]error, len(reqs))
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *domain.SupplyRequest) {
			defer wg.Done()
			_, errs[i] = h.svc.Requests.Approve(h.as(h.keeper), req.ID,
				[]service.ItemQuantity{{ItemID: req.Items[0].ID, Quantity: qty(10)}}, "")
		}(i, req)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, errors.CodeInsufficientStock, errors.CodeOf(err))
	}
	assert.Equal(t, 1, succeeded)
	assert.Zero(t, h.available(t, d.ID, h.warehouse()))
}

func TestSupplyRequest_ConcurrentApprovalsOfOneRequestSerialize(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	h.stock(t, d.ID, h.warehouse(), 10, "", nil)
	req := h.internalRequest(t, d.ID, 3)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Requests.Approve(h.as(h.keeper), req.ID, nil, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 7, h.available(t, d.ID, h.warehouse()))

	got, err := h.svc.Requests.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestApproved, got.Status)
	require.NotNil(t, got.Items[0].ApprovedQty)
	assert.Equal(t, 3, *got.Items[0].ApprovedQty)
}

func TestSupplyRequest_NotesAndStaleExpiry(t *testing.T) {
	h := newHarness(t)
	d := h.drug(t)
	old := h.internalRequest(t, d.ID, 1)

	req, err := h.svc.Requests.AddNote(h.as(h.keeper), old.ID, "checking stock")
	require.NoError(t, err)
	require.Len(t, req.Notes, 1)
	assert.Equal(t, string(domain.RoleStoreKeeper), req.Notes[0].AuthorRole)

	_, err = h.svc.Requests.AddNote(h.as(h.keeper), old.ID, "")
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	h.now = h.now.Add(31 * 24 * time.Hour)
	fresh := h.internalRequest(t, d.ID, 1)

	n, err := h.svc.Requests.ExpireStale(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.svc.Requests.Get(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCancelled, got.Status)
	require.Len(t, got.Notes, 2)
	assert.Equal(t, "system", got.Notes[1].AuthorRole)

	got, err = h.svc.Requests.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, got.Status)
}
