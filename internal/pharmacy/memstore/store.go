// Package memstore is an in-memory implementation of the pharmacy stores.
// Transactions are serialized and roll back by restoring a snapshot, which
// matches the row-lock semantics the services rely on. Reads outside a
// transaction see uncommitted writes.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
)

type txKey struct{}

type state struct {
	hospitals     map[string]domain.Hospital
	warehouses    map[string]domain.Warehouse
	pharmacies    map[string]domain.Pharmacy
	suppliers     map[string]domain.Supplier
	staff         map[string]domain.StaffProfile
	tenants       []domain.Tenant
	drugs         map[string]domain.Drug
	inventory     map[string]domain.InventoryRecord
	requests      map[string]domain.SupplyRequest
	prescriptions map[string]domain.Prescription
	lines         map[string]map[string]domain.PrescriptionDrug
	dispensing    map[string]domain.DispensingRecord
	alerts        map[string]domain.StockAlert
	audit         []domain.AuditEntry
}

func newState() state {
	return state{
		hospitals:     map[string]domain.Hospital{},
		warehouses:    map[string]domain.Warehouse{},
		pharmacies:    map[string]domain.Pharmacy{},
		suppliers:     map[string]domain.Supplier{},
		staff:         map[string]domain.StaffProfile{},
		drugs:         map[string]domain.Drug{},
		inventory:     map[string]domain.InventoryRecord{},
		requests:      map[string]domain.SupplyRequest{},
		prescriptions: map[string]domain.Prescription{},
		lines:         map[string]map[string]domain.PrescriptionDrug{},
		dispensing:    map[string]domain.DispensingRecord{},
		alerts:        map[string]domain.StockAlert{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (st state) clone() state {
	lines := make(map[string]map[string]domain.PrescriptionDrug, len(st.lines))
	for k, v := range st.lines {
		lines[k] = cloneMap(v)
	}
	return state{
		hospitals:     cloneMap(st.hospitals),
		warehouses:    cloneMap(st.warehouses),
		pharmacies:    cloneMap(st.pharmacies),
		suppliers:     cloneMap(st.suppliers),
		staff:         cloneMap(st.staff),
		tenants:       append([]domain.Tenant(nil), st.tenants...),
		drugs:         cloneMap(st.drugs),
		inventory:     cloneMap(st.inventory),
		requests:      cloneMap(st.requests),
		prescriptions: cloneMap(st.prescriptions),
		lines:         lines,
		dispensing:    cloneMap(st.dispensing),
		alerts:        cloneMap(st.alerts),
		audit:         append([]domain.AuditEntry(nil), st.audit...),
	}
}

// Store holds every table in memory.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   state
	seq  int64
	now  func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// SetNow overrides the clock used for created/updated timestamps.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

// WithTx implements service.TxRunner. Nested calls join the outer
// transaction; an error or panic restores the state seen at begin.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, s))
}

func (s *Store) restore(snapshot state) {
	s.mu.Lock()
	s.st = snapshot
	s.mu.Unlock()
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// write applies fn under the data lock. Outside a transaction it also
// waits for running transactions, like an autocommit statement.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if !s.inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.st)
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.st)
}

// stamp returns a strictly increasing timestamp so creation order is stable.
func (s *Store) stamp() time.Time {
	s.seq++
	return s.now().UTC().Add(time.Duration(s.seq) * time.Microsecond)
}

// Stores exposes the store through the service interfaces.
func (s *Store) Stores() service.Stores {
	return service.Stores{
		Tx:            s,
		Drugs:         &DrugStore{s},
		Inventory:     &InventoryStore{s},
		Locations:     &LocationStore{s},
		Staff:         &StaffDirectory{s},
		Requests:      &SupplyRequestStore{s},
		Prescriptions: &PrescriptionStore{s},
		Dispensing:    &DispensingStore{s},
		Alerts:        &AlertStore{s},
		Audit:         &AuditStore{s},
		Tenants:       &TenantStore{s},
	}
}

// Seeding and inspection helpers for tests.

func (s *Store) AddHospital(h domain.Hospital) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.hospitals[h.ID] = h
}

func (s *Store) AddWarehouse(w domain.Warehouse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.warehouses[w.ID] = w
}

func (s *Store) AddPharmacy(p domain.Pharmacy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.pharmacies[p.ID] = p
}

func (s *Store) AddSupplier(sup domain.Supplier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.suppliers[sup.ID] = sup
}

func (s *Store) AddTenant(t domain.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.tenants = append(s.st.tenants, t)
}

// PutDrug stores d as is, bypassing the catalog service.
func (s *Store) PutDrug(d domain.Drug) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.drugs[d.ID] = d
}

// PutInventory stores rec as is, bypassing the ledger.
func (s *Store) PutInventory(rec domain.InventoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.stamp()
	}
	s.st.inventory[rec.ID] = rec
}

// PutRequest stores req with its items as is.
func (s *Store) PutRequest(req domain.SupplyRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	putRequest(&s.st, &req)
}

// Inventory returns every record sorted by creation.
func (s *Store) Inventory() []domain.InventoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InventoryRecord, 0, len(s.st.inventory))
	for _, rec := range s.st.inventory {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AuditEntries returns every persisted audit entry in insertion order.
func (s *Store) AuditEntries() []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditEntry(nil), s.st.audit...)
}

// Alerts returns every alert.
func (s *Store) Alerts() []domain.StockAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StockAlert, 0, len(s.st.alerts))
	for _, a := range s.st.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
