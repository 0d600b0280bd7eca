package service

import (
	"context"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/notify"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
)

// LedgerService owns every inventory quantity change. Each mutation audits,
// checks low stock and availability, and recomputes the drug's lifecycle
// status inside the caller's transaction.
type LedgerService struct {
	r         *runner
	inventory InventoryStore
	drugs     DrugStore
	locations LocationStore
	lifecycle *DrugService
	hooks     notify.Hooks
	clock     Clock
	logger    *logger.Logger
}

// StockLine is one row of a bulk receipt.
type StockLine struct {
	Key          domain.StockKey
	Quantity     int
	MinimumLevel *int
}

// quantityView is what audit entries record for an inventory change.
type quantityView struct {
	Quantity     int    `json:"current_quantity"`
	MinimumLevel int    `json:"minimum_level"`
	Reason       string `json:"reason,omitempty"`
}

// Mutations

// UpsertQuantity adds delta to the record identified by key, creating it when
// missing. A delta that would take the record below zero fails with
// insufficient stock and changes nothing.
func (s *LedgerService) UpsertQuantity(ctx context.Context, key domain.StockKey, delta int, reason string) (*domain.InventoryRecord, error) {
	key = key.Normalized()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, errors.ValidationField("delta", "must not be zero")
	}

	var rec *domain.InventoryRecord
	err := s.r.atomically(ctx, func(ctx context.Context) error {
		if err := s.checkTarget(ctx, key.DrugID, key.Location); err != nil {
			return err
		}
		var err error
		rec, err = s.upsert(ctx, key, delta, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SetQuantity corrects a record to an exact quantity after a physical count.
func (s *LedgerService) SetQuantity(ctx context.Context, id string, qty int, reason string) (*domain.InventoryRecord, error) {
	if qty < 0 {
		return nil, errors.ValidationField("quantity", "must be zero or greater")
	}

	var rec *domain.InventoryRecord
	err := s.r.atomically(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.inventory.LockByID(ctx, id)
		if err != nil {
			return err
		}
		before := *rec
		if err := s.inventory.SetQuantity(ctx, id, qty); err != nil {
			return err
		}
		rec.CurrentQuantity = qty
		return s.afterMutation(ctx, &before, rec, domain.ActionStockCorrected, reason)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Consume draws qty of a drug from a location first-expiry-first-out and
// returns the batches it came from. Nothing is drawn unless all of qty is
// available.
func (s *LedgerService) Consume(ctx context.Context, drugID string, loc domain.Location, qty int, reason string) (domain.Allocations, error) {
	if qty <= 0 {
		return nil, errors.ValidationField("quantity", "must be greater than zero")
	}
	var plan domain.Allocations
	err := s.r.atomically(ctx, func(ctx context.Context) error {
		var err error
		plan, err = s.consume(ctx, drugID, loc, qty, reason)
		return err
	})
	return plan, err
}

// UpdateMinimumLevel sets the low-stock threshold of a record.
func (s *LedgerService) UpdateMinimumLevel(ctx context.Context, id string, level int) (*domain.InventoryRecord, error) {
	if level < 0 {
		return nil, errors.ValidationField("minimum_level", "must be zero or greater")
	}

	var rec *domain.InventoryRecord
	err := s.r.atomically(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.inventory.LockByID(ctx, id)
		if err != nil {
			return err
		}
		before := *rec
		if err := s.inventory.SetMinimumLevel(ctx, id, level); err != nil {
			return err
		}
		rec.MinimumLevel = level

		s.r.queueAudit(ctx, newAudit(ctx, domain.ActionMinimumLevelSet, domain.TableInventory, id,
			quantityView{Quantity: before.CurrentQuantity, MinimumLevel: before.MinimumLevel},
			quantityView{Quantity: rec.CurrentQuantity, MinimumLevel: level}))
		s.checkLowStock(ctx, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteRecord removes a record and recomputes the drug status.
func (s *LedgerService) DeleteRecord(ctx context.Context, id string) error {
	return s.r.atomically(ctx, func(ctx context.Context) error {
		rec, err := s.inventory.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.inventory.Delete(ctx, id); err != nil {
			return err
		}
		s.r.queueAudit(ctx, newAudit(ctx, domain.ActionStockDeleted, domain.TableInventory, id, rec, nil))
		return s.lifecycle.recompute(ctx, rec.DrugID)
	})
}

// SweepExpired zeroes every expired record still holding stock. Running it
// again on the same day touches nothing.
func (s *LedgerService) SweepExpired(ctx context.Context) (int, error) {
	var touched int
	err := s.r.atomically(ctx, func(ctx context.Context) error {
		zeroed, err := s.inventory.ZeroExpired(ctx, s.clock.today())
		if err != nil {
			return err
		}
		for i := range zeroed {
			after := zeroed[i].InventoryRecord
			before := after
			before.CurrentQuantity = zeroed[i].PreviousQuantity
			if err := s.afterMutation(ctx, &before, &after, domain.ActionStockExpired, "expired"); err != nil {
				return err
			}
		}
		touched = len(zeroed)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if touched > 0 {
		s.logger.Info().Int("records", touched).Msg("expired stock zeroed")
	}
	return touched, nil
}

// Import receives a batch of stock lines in one transaction. With suppress
// set the low-stock and availability notifications are not sent.
func (s *LedgerService) Import(ctx context.Context, lines []StockLine, suppress bool) (int, error) {
	if len(lines) == 0 {
		return 0, errors.ValidationField("lines", "at least one line is required")
	}
	for i := range lines {
		lines[i].Key = lines[i].Key.Normalized()
		if err := lines[i].Key.Validate(); err != nil {
			return 0, err
		}
		if lines[i].Quantity <= 0 {
			return 0, errors.ValidationField("quantity", "must be greater than zero")
		}
		if lines[i].MinimumLevel != nil && *lines[i].MinimumLevel < 0 {
			return 0, errors.ValidationField("minimum_level", "must be zero or greater")
		}
	}

	err := s.r.atomically(quiet(ctx, suppress), func(ctx context.Context) error {
		for _, line := range lines {
			if err := s.checkTarget(ctx, line.Key.DrugID, line.Key.Location); err != nil {
				return err
			}
			rec, err := s.upsert(ctx, line.Key, line.Quantity, "import")
			if err != nil {
				return err
			}
			if line.MinimumLevel != nil && *line.MinimumLevel != rec.MinimumLevel {
				if err := s.inventory.SetMinimumLevel(ctx, rec.ID, *line.MinimumLevel); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

// Queries

// Get returns one record.
func (s *LedgerService) Get(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	return s.inventory.GetByID(ctx, id)
}

// List returns records matching f.
func (s *LedgerService) List(ctx context.Context, f domain.InventoryFilter) ([]*domain.InventoryRecord, int64, error) {
	if f.Location != nil {
		if err := f.Location.Validate(); err != nil {
			return nil, 0, err
		}
	}
	return s.inventory.List(ctx, f)
}

// TotalStock is the non-expired quantity of a drug across every location.
func (s *LedgerService) TotalStock(ctx context.Context, drugID string) (int, error) {
	return s.inventory.SumAvailable(ctx, drugID, domain.Anywhere(), s.clock.today())
}

// IsAvailableSomewhere reports whether any non-expired stock exists in scope.
func (s *LedgerService) IsAvailableSomewhere(ctx context.Context, drugID string, scope domain.StockScope) (bool, error) {
	n, err := s.inventory.SumAvailable(ctx, drugID, scope, s.clock.today())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Available is the non-expired quantity of a drug at one location.
func (s *LedgerService) Available(ctx context.Context, drugID string, loc domain.Location) (int, error) {
	return s.inventory.SumAvailable(ctx, drugID, domain.AtLocation(loc), s.clock.today())
}

// Internals. These expect to run inside atomically.

func (s *LedgerService) checkTarget(ctx context.Context, drugID string, loc domain.Location) error {
	if _, err := s.drugs.GetByID(ctx, drugID); err != nil {
		return err
	}
	return locationExists(ctx, s.locations, loc)
}

func (s *LedgerService) upsert(ctx context.Context, key domain.StockKey, delta int, reason string) (*domain.InventoryRecord, error) {
	rec, err := s.inventory.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	before := *rec

	if delta < 0 {
		if avail := rec.EffectiveQuantity(s.clock.today()); avail < -delta {
			return nil, errors.InsufficientStock(key.DrugID, -delta, avail)
		}
	}
	qty, err := s.inventory.AddQuantity(ctx, rec.ID, delta)
	if err != nil {
		return nil, err
	}
	rec.CurrentQuantity = qty

	if err := s.afterMutation(ctx, &before, rec, domain.ActionStockAdjusted, reason); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *LedgerService) consume(ctx context.Context, drugID string, loc domain.Location, qty int, reason string) (domain.Allocations, error) {
	recs, err := s.inventory.LockAtLocation(ctx, drugID, loc)
	if err != nil {
		return nil, err
	}
	plan, usable := domain.PlanFEFO(recs, qty, s.clock.today())
	if usable < qty {
		return nil, errors.InsufficientStock(drugID, qty, usable)
	}

	byID := make(map[string]*domain.InventoryRecord, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}
	for _, a := range plan {
		rec := byID[a.InventoryID]
		before := *rec
		n, err := s.inventory.AddQuantity(ctx, rec.ID, -a.Quantity)
		if err != nil {
			return nil, err
		}
		rec.CurrentQuantity = n
		if err := s.afterMutation(ctx, &before, rec, domain.ActionStockAdjusted, reason); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// available locks a drug's records at loc and sums what is usable.
func (s *LedgerService) available(ctx context.Context, drugID string, loc domain.Location) (int, error) {
	recs, err := s.inventory.LockAtLocation(ctx, drugID, loc)
	if err != nil {
		return 0, err
	}
	today := s.clock.today()
	total := 0
	for _, rec := range recs {
		total += rec.EffectiveQuantity(today)
	}
	return total, nil
}

// receive puts allocations into loc, batch by batch.
func (s *LedgerService) receive(ctx context.Context, drugID string, loc domain.Location, allocs domain.Allocations, reason string) error {
	for _, a := range allocs {
		if a.Quantity <= 0 {
			continue
		}
		key := domain.StockKey{
			DrugID:      drugID,
			Location:    loc,
			BatchNumber: a.BatchNumber,
			ExpiryDate:  a.ExpiryDate,
		}.Normalized()
		if _, err := s.upsert(ctx, key, a.Quantity, reason); err != nil {
			return err
		}
	}
	return nil
}

func (s *LedgerService) afterMutation(ctx context.Context, before, after *domain.InventoryRecord, action, reason string) error {
	today := s.clock.today()
	performer := actorOf(ctx).ID

	s.r.queueAudit(ctx, newAudit(ctx, action, domain.TableInventory, after.ID,
		quantityView{Quantity: before.CurrentQuantity, MinimumLevel: before.MinimumLevel},
		quantityView{Quantity: after.CurrentQuantity, MinimumLevel: after.MinimumLevel, Reason: reason}))
	s.r.queueEvent(ctx, messaging.EventStockAdjusted, messaging.StockAdjustedEvent{
		InventoryID:      after.ID,
		DrugID:           after.DrugID,
		LocationType:     string(after.Type),
		LocationID:       after.Location.ID,
		BatchNumber:      after.BatchNumber,
		PreviousQuantity: before.CurrentQuantity,
		NewQuantity:      after.CurrentQuantity,
		Reason:           reason,
		PerformedBy:      performer,
	})

	s.checkLowStock(ctx, after)

	if gained := after.EffectiveQuantity(today) - before.EffectiveQuantity(today); gained > 0 {
		atLoc, err := s.inventory.SumAvailable(ctx, after.DrugID, domain.AtLocation(after.Location), today)
		if err != nil {
			return err
		}
		if atLoc-gained <= 0 {
			drugID, loc := after.DrugID, after.Location
			s.r.queueHook(ctx, notify.BecameAvailable, func(ctx context.Context) error {
				return s.hooks.OnStockBecameAvailable(ctx, drugID, loc)
			})
		}
	}

	return s.lifecycle.recompute(ctx, after.DrugID)
}

func (s *LedgerService) checkLowStock(ctx context.Context, rec *domain.InventoryRecord) {
	if !rec.IsLowStock(s.clock.today()) {
		return
	}
	snapshot := *rec
	s.r.queueHook(ctx, notify.LowStock, func(ctx context.Context) error {
		return s.hooks.OnLowStock(ctx, snapshot)
	})
}
