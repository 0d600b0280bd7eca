package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/memstore"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/notify"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
)

// harness wires the services over an in-memory store with a fixed clock.
type harness struct {
	store    *memstore.Store
	svc      *service.Services
	hooks    *notify.Recorder
	events   *testutil.MockPublisher
	fx       *testutil.FixtureFactory
	site     testutil.HospitalSite
	supplier domain.Supplier
	now      time.Time

	pharmacist *domain.StaffProfile
	keeper     *domain.StaffProfile
	admin      *domain.StaffProfile
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  memstore.New(),
		hooks:  &notify.Recorder{},
		events: testutil.NewMockPublisher(),
		fx:     testutil.NewFixtureFactory(),
		now:    time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
	}
	h.store.SetNow(func() time.Time { return h.now })

	h.site = h.fx.Site()
	h.supplier = h.fx.Supplier()
	h.store.AddHospital(h.site.Hospital)
	h.store.AddWarehouse(h.site.Warehouse)
	h.store.AddPharmacy(h.site.Pharmacy)
	h.store.AddSupplier(h.supplier)

	h.svc = service.New(h.store.Stores(), h.hooks, h.events, service.Options{
		Clock:             service.Clock{Now: func() time.Time { return h.now }, Location: time.UTC},
		ExpiryWarningDays: 30,
	}, logger.Nop())

	h.pharmacist = h.addStaff(t, domain.RolePharmacist, h.site)
	h.keeper = h.addStaff(t, domain.RoleStoreKeeper, h.site)
	h.admin = h.addStaff(t, domain.RoleHospitalAdmin, h.site)
	return h
}

func (h *harness) addStaff(t *testing.T, role domain.Role, site testutil.HospitalSite) *domain.StaffProfile {
	t.Helper()
	p := h.fx.StaffProfile(role, site)
	require.NoError(t, h.svc.Staff.Sync(context.Background(), p))
	return p
}

// as returns a context acting as the given staff member.
func (h *harness) as(p *domain.StaffProfile) context.Context {
	return actor.WithActor(context.Background(), &actor.Actor{
		ID:       p.UserID,
		RoleName: string(p.Role),
	})
}

func (h *harness) drug(t *testing.T, opts ...func(*domain.Drug)) *domain.Drug {
	t.Helper()
	d := h.fx.Drug(opts...)
	h.store.PutDrug(*d)
	return d
}

// day returns today shifted by days.
func (h *harness) day(days int) *time.Time {
	d := domain.DateOf(h.now).AddDate(0, 0, days)
	return &d
}

func (h *harness) stock(t *testing.T, drugID string, loc domain.Location, qty int, batch string, expiry *time.Time) *domain.InventoryRecord {
	t.Helper()
	key := domain.StockKey{DrugID: drugID, Location: loc, ExpiryDate: expiry}
	if batch != "" {
		key.BatchNumber = &batch
	}
	rec, err := h.svc.Ledger.UpsertQuantity(context.Background(), key, qty, "test stock")
	require.NoError(t, err)
	return rec
}

func (h *harness) available(t *testing.T, drugID string, loc domain.Location) int {
	t.Helper()
	n, err := h.svc.Ledger.Available(context.Background(), drugID, loc)
	require.NoError(t, err)
	return n
}

func (h *harness) drugStatus(t *testing.T, drugID string) domain.DrugStatus {
	t.Helper()
	d, err := h.svc.Drugs.Get(context.Background(), drugID)
	require.NoError(t, err)
	return d.Status
}

func (h *harness) pharmacy() domain.Location  { return domain.AtPharmacy(h.site.Pharmacy.ID) }
func (h *harness) warehouse() domain.Location { return domain.AtWarehouse(h.site.Warehouse.ID) }

func qty(n int) *int { return &n }
