package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

func TestRequestKind_CanTransition(t *testing.T) {
	all := []RequestStatus{RequestPending, RequestPreapproved, RequestApproved, RequestRejected, RequestFulfilled, RequestCancelled}

	allowed := map[RequestKind]map[[2]RequestStatus]bool{
		RequestInternal: {
			{RequestPending, RequestApproved}:   true,
			{RequestPending, RequestRejected}:   true,
			{RequestPending, RequestCancelled}:  true,
			{RequestApproved, RequestFulfilled}: true,
		},
		RequestExternal: {
			{RequestPending, RequestPreapproved}:   true,
			{RequestPending, RequestRejected}:      true,
			{RequestPending, RequestCancelled}:     true,
			{RequestPreapproved, RequestApproved}:  true,
			{RequestPreapproved, RequestRejected}:  true,
			{RequestPreapproved, RequestCancelled}: true,
			{RequestApproved, RequestFulfilled}:    true,
		},
	}

	for kind, edges := range allowed {
		for _, from := range all {
			for _, to := range all {
				want := edges[[2]RequestStatus{from, to}]
				assert.Equal(t, want, kind.CanTransition(from, to), "%s: %s -> %s", kind, from, to)
			}
		}
	}
}

func TestSupplyRequest_TransitionTo(t *testing.T) {
	r := &SupplyRequest{Kind: RequestInternal, Status: RequestPending}
	require.NoError(t, r.TransitionTo(RequestApproved))
	assert.Equal(t, RequestApproved, r.Status)

	err := r.TransitionTo(RequestCancelled)
	assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition))
	assert.Equal(t, RequestApproved, r.Status, "failed transition leaves status unchanged")

	ext := &SupplyRequest{Kind: RequestExternal, Status: RequestPending}
	assert.Error(t, ext.TransitionTo(RequestApproved), "external requests need preapproval first")
}

func TestRequestStatus_IsTerminal(t *testing.T) {
	for _, s := range []RequestStatus{RequestRejected, RequestFulfilled, RequestCancelled} {
		assert.True(t, s.IsTerminal(), s)
		for _, kind := range []RequestKind{RequestInternal, RequestExternal} {
			assert.Empty(t, requestTransitions[kind][s])
		}
	}
	assert.False(t, RequestPending.IsTerminal())
}

func TestSupplyRequestItem_Gap(t *testing.T) {
	approved, fulfilled := 10, 7
	it := &SupplyRequestItem{ApprovedQty: &approved}
	assert.Zero(t, it.Gap())
	it.FulfilledQty = &fulfilled
	assert.Equal(t, 3, it.Gap())
}

func TestNotes_ValueScan(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &SupplyRequest{}
	r.AddNote("u1", "pharmacist", "urgent", at)

	v, err := r.Notes.Value()
	require.NoError(t, err)

	var back Notes
	require.NoError(t, back.Scan(v))
	require.Len(t, back, 1)
	assert.Equal(t, "urgent", back[0].Message)
	assert.True(t, at.Equal(back[0].Timestamp))
}

func TestCheckPrescriptionTransition(t *testing.T) {
	assert.NoError(t, CheckPrescriptionTransition(PrescriptionActive, PrescriptionSuspended))
	assert.NoError(t, CheckPrescriptionTransition(PrescriptionSuspended, PrescriptionActive))
	assert.NoError(t, CheckPrescriptionTransition(PrescriptionActive, PrescriptionCancelled))
	assert.Error(t, CheckPrescriptionTransition(PrescriptionCancelled, PrescriptionActive))
	assert.Error(t, CheckPrescriptionTransition(PrescriptionActive, PrescriptionActive))
}

func TestPrescription_CoversDate(t *testing.T) {
	p := &Prescription{StartDate: *day("2026-03-01"), EndDate: day("2026-03-31")}
	assert.False(t, p.CoversDate(*day("2026-02-28")))
	assert.True(t, p.CoversDate(time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)))
	assert.False(t, p.CoversDate(*day("2026-04-01")))

	p.EndDate = nil
	assert.True(t, p.CoversDate(*day("2030-01-01")))
}
