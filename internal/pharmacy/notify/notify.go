// Package notify defines the hooks the pharmacy services fire after a
// transaction commits. Implementations must not assume they run inside the
// transaction; errors they return are logged by the caller and dropped.
package notify

import (
	"context"
	"sync"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
)

// Hooks receives stock, request and lifecycle notifications.
type Hooks interface {
	OnLowStock(ctx context.Context, rec domain.InventoryRecord) error
	OnStockBecameAvailable(ctx context.Context, drugID string, loc domain.Location) error
	OnShortageDetected(ctx context.Context, req *domain.SupplyRequest, shortages []domain.Shortage, note string) error
	OnDrugArchived(ctx context.Context, drug *domain.Drug) error
	OnDrugReactivated(ctx context.Context, drug *domain.Drug, audience domain.ReactivationAudience) error
	OnDrugPhasingOutStarted(ctx context.Context, drug *domain.Drug) error
	OnStockExpiring(ctx context.Context, rec domain.InventoryRecord, daysLeft int) error
}

// Nop ignores every notification.
type Nop struct{}

func (Nop) OnLowStock(context.Context, domain.InventoryRecord) error { return nil }
func (Nop) OnStockBecameAvailable(context.Context, string, domain.Location) error {
	return nil
}
func (Nop) OnShortageDetected(context.Context, *domain.SupplyRequest, []domain.Shortage, string) error {
	return nil
}
func (Nop) OnDrugArchived(context.Context, *domain.Drug) error { return nil }
func (Nop) OnDrugReactivated(context.Context, *domain.Drug, domain.ReactivationAudience) error {
	return nil
}
func (Nop) OnDrugPhasingOutStarted(context.Context, *domain.Drug) error        { return nil }
func (Nop) OnStockExpiring(context.Context, domain.InventoryRecord, int) error { return nil }

// Hook names recorded by Recorder.
const (
	LowStock          = "low_stock"
	BecameAvailable   = "became_available"
	ShortageDetected  = "shortage_detected"
	DrugArchived      = "drug_archived"
	DrugReactivated   = "drug_reactivated"
	PhasingOutStarted = "phasing_out_started"
	StockExpiring     = "stock_expiring"
)

// Call is one recorded notification.
type Call struct {
	Hook      string
	DrugID    string
	Location  domain.Location
	Record    domain.InventoryRecord
	RequestID string
	Shortages []domain.Shortage
	Note      string
	Audience  domain.ReactivationAudience
	DaysLeft  int
}

// Recorder keeps every call in order. Err, when set, is returned from each
// hook after recording; Panic makes each hook panic instead.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	Err   error
	Panic bool
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	if r.Panic {
		panic("hook failure: " + c.Hook)
	}
	return r.Err
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Named returns the recorded calls of one hook.
func (r *Recorder) Named(hook string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Hook == hook {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func (r *Recorder) OnLowStock(_ context.Context, rec domain.InventoryRecord) error {
	return r.record(Call{Hook: LowStock, DrugID: rec.DrugID, Location: rec.Location, Record: rec})
}

func (r *Recorder) OnStockBecameAvailable(_ context.Context, drugID string, loc domain.Location) error {
	return r.record(Call{Hook: BecameAvailable, DrugID: drugID, Location: loc})
}

func (r *Recorder) OnShortageDetected(_ context.Context, req *domain.SupplyRequest, shortages []domain.Shortage, note string) error {
	return r.record(Call{Hook: ShortageDetected, RequestID: req.ID, Location: req.Origin, Shortages: shortages, Note: note})
}

func (r *Recorder) OnDrugArchived(_ context.Context, drug *domain.Drug) error {
	return r.record(Call{Hook: DrugArchived, DrugID: drug.ID})
}

func (r *Recorder) OnDrugReactivated(_ context.Context, drug *domain.Drug, audience domain.ReactivationAudience) error {
	return r.record(Call{Hook: DrugReactivated, DrugID: drug.ID, Audience: audience})
}

func (r *Recorder) OnDrugPhasingOutStarted(_ context.Context, drug *domain.Drug) error {
	return r.record(Call{Hook: PhasingOutStarted, DrugID: drug.ID})
}

func (r *Recorder) OnStockExpiring(_ context.Context, rec domain.InventoryRecord, daysLeft int) error {
	return r.record(Call{Hook: StockExpiring, DrugID: rec.DrugID, Location: rec.Location, Record: rec, DaysLeft: daysLeft})
}
