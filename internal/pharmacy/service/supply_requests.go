package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/notify"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
)

// SupplyRequestService runs supply requests through their state graph.
// Approval draws stock from the fulfilling party (warehouse or supplier);
// receipt puts what actually arrived into the requesting party's stock.
type SupplyRequestService struct {
	r        *runner
	requests SupplyRequestStore
	drugs    DrugStore
	resolver *locationResolver
	ledger   *LedgerService
	hooks    notify.Hooks
	clock    Clock
	logger   *logger.Logger
}

// CreateRequestInput describes a new request. OriginID is the requesting
// pharmacy (internal) or warehouse (external); DestinationID is the
// warehouse (internal) or supplier (external). Either may be left empty to
// resolve it from the requester's staff profile, except the supplier.
type CreateRequestInput struct {
	Kind          domain.RequestKind
	OriginID      string
	DestinationID string
	Items         []RequestItemInput
	Note          string
}

// RequestItemInput is one requested drug.
type RequestItemInput struct {
	DrugID   string
	Quantity int
}

// ItemQuantity sets the approved or received quantity of one item. A nil
// Quantity takes the default for the step.
type ItemQuantity struct {
	ItemID   string
	Quantity *int
}

type requestStatusView struct {
	Status domain.RequestStatus `json:"status"`
	Note   string               `json:"note,omitempty"`
}

// Create opens a pending request.
func (s *SupplyRequestService) Create(ctx context.Context, in CreateRequestInput) (*domain.SupplyRequest, error) {
	userID, role, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !in.Kind.Valid() {
		return nil, errors.ValidationField("kind", "must be one of: internal, external")
	}
	if err := validateRequestItems(in.Items); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	req := &domain.SupplyRequest{
		ID:          uuid.New().String(),
		Kind:        in.Kind,
		Status:      domain.RequestPending,
		RequestedBy: userID,
		Notes:       domain.Notes{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.r.atomically(ctx, func(ctx context.Context) error {
		for _, it := range in.Items {
			d, err := s.drugs.GetByID(ctx, it.DrugID)
			if err != nil {
				return err
			}
			if d.Status == domain.DrugArchived {
				return errors.ValidationField("items", fmt.Sprintf("drug %s is archived", d.ID))
			}
			req.Items = append(req.Items, &domain.SupplyRequestItem{
				ID:           uuid.New().String(),
				RequestID:    req.ID,
				DrugID:       it.DrugID,
				RequestedQty: it.Quantity,
				Allocations:  domain.Allocations{},
			})
		}

		if in.Kind == domain.RequestInternal {
			err = s.resolveInternal(ctx, req, in, userID)
		} else {
			err = s.resolveExternal(ctx, req, in, userID)
		}
		if err != nil {
			return err
		}

		if note := strings.TrimSpace(in.Note); note != "" {
			req.AddNote(userID, role, note, now)
		}
		if err := s.requests.Create(ctx, req); err != nil {
			return err
		}
		s.r.queueAudit(ctx, newAudit(ctx, domain.ActionRequestCreated, domain.TableRequests, req.ID, nil, req))
		s.r.queueEvent(ctx, messaging.EventRequestStatusChanged, messaging.RequestStatusChangedEvent{
			RequestID:   req.ID,
			Kind:        string(req.Kind),
			To:          string(req.Status),
			PerformedBy: userID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func validateRequestItems(items []RequestItemInput) error {
	if len(items) == 0 {
		return errors.ValidationField("items", "at least one item is required")
	}
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		if it.DrugID == "" {
			return errors.ValidationField(fmt.Sprintf("items[%d].drug_id", i), "this field is required")
		}
		if it.Quantity <= 0 {
			return errors.ValidationField(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		if seen[it.DrugID] {
			return errors.ValidationField("items", fmt.Sprintf("drug %s is listed more than once", it.DrugID))
		}
		seen[it.DrugID] = true
	}
	return nil
}

// resolveInternal: pharmacy asks its own hospital's warehouse.
func (s *SupplyRequestService) resolveInternal(ctx context.Context, req *domain.SupplyRequest, in CreateRequestInput, userID string) error {
	ph, err := s.resolver.pharmacy(ctx, in.OriginID, userID)
	if err != nil {
		return err
	}

	var wh *domain.Warehouse
	if in.DestinationID != "" {
		if wh, err = s.resolver.locations.GetWarehouse(ctx, in.DestinationID); err != nil {
			return err
		}
		if wh.HospitalID != ph.HospitalID {
			return errors.ValidationField("destination_id", "warehouse must belong to the pharmacy's hospital")
		}
	} else if wh, err = s.resolver.hospitalWarehouse(ctx, ph.HospitalID); err != nil {
		return err
	}

	req.HospitalID = ph.HospitalID
	req.Origin = domain.AtPharmacy(ph.ID)
	req.Destination = domain.AtWarehouse(wh.ID)
	return nil
}

// resolveExternal: hospital warehouse asks an explicitly named supplier.
func (s *SupplyRequestService) resolveExternal(ctx context.Context, req *domain.SupplyRequest, in CreateRequestInput, userID string) error {
	wh, err := s.resolver.warehouse(ctx, in.OriginID, userID)
	if err != nil {
		return err
	}
	if in.DestinationID == "" {
		return errors.MissingLocation("supplier")
	}
	sup, err := s.resolver.locations.GetSupplier(ctx, in.DestinationID)
	if err != nil {
		return err
	}

	req.HospitalID = wh.HospitalID
	req.Origin = domain.AtWarehouse(wh.ID)
	req.Destination = domain.AtSupplier(sup.ID)
	return nil
}

// Transitions

// Preapprove is the hospital-side sign-off of an external request.
func (s *SupplyRequestService) Preapprove(ctx context.Context, id, note string) (*domain.SupplyRequest, error) {
	userID, role, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, id, domain.RequestPreapproved, func(ctx context.Context, req *domain.SupplyRequest, now time.Time) error {
		req.PreapprovedBy = strPtr(userID)
		req.PreapprovedAt = timePtr(now)
		addNote(req, userID, role, note, now)
		return nil
	}, nil)
}

// Approve fixes the approved quantities and draws them from the fulfilling
// location first-expiry-first-out. Omitted quantities default to the lesser
// of requested and available.
func (s *SupplyRequestService) Approve(ctx context.Context, id string, items []ItemQuantity, note string) (*domain.SupplyRequest, error) {
	userID, role, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	prepare := func(ctx context.Context, req *domain.SupplyRequest, now time.Time) error {
		explicit, err := explicitQuantities(req, items)
		if err != nil {
			return err
		}

		loc := req.FulfillingLocation()
		total := 0
		for _, it := range req.Items {
			avail, err := s.ledger.available(ctx, it.DrugID, loc)
			if err != nil {
				return err
			}
			qty := it.RequestedQty
			if avail < qty {
				qty = avail
			}
			if q := explicit[it.ID]; q != nil {
				switch {
				case *q < 0:
					return errors.ValidationField("approved_qty", "must be zero or greater")
				case *q > it.RequestedQty:
					return errors.ValidationField("approved_qty", fmt.Sprintf("cannot exceed the requested %d for drug %s", it.RequestedQty, it.DrugID))
				case *q > avail:
					return errors.InsufficientStock(it.DrugID, *q, avail)
				}
				qty = *q
			}
			it.ApprovedQty = intPtr(qty)
			total += qty
		}
		if total == 0 {
			return errors.ValidationField("items", "at least one item must be approved with a quantity above zero")
		}

		req.HandledBy = strPtr(userID)
		req.HandledAt = timePtr(now)
		req.ApprovedAt = timePtr(now)
		addNote(req, userID, role, note, now)
		return nil
	}

	// Runs once the request reads as approved so the drawn stock counts as
	// in transit when lifecycle status is recomputed.
	draw := func(ctx context.Context, req *domain.SupplyRequest) error {
		loc := req.FulfillingLocation()
		for _, it := range req.Items {
			if *it.ApprovedQty == 0 {
				continue
			}
			plan, err := s.ledger.consume(ctx, it.DrugID, loc, *it.ApprovedQty, "supply request "+req.ID)
			if err != nil {
				return err
			}
			it.Allocations = plan
			if len(plan) == 1 {
				it.BatchNumber = plan[0].BatchNumber
				it.ExpiryDate = plan[0].ExpiryDate
			}
			if err := s.requests.UpdateItem(ctx, it); err != nil {
				return err
			}
		}
		return nil
	}

	return s.transition(ctx, id, domain.RequestApproved, prepare, draw)
}

// Reject closes a request with a reason.
func (s *SupplyRequestService) Reject(ctx context.Context, id, reason string) (*domain.SupplyRequest, error) {
	userID, role, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.ValidationField("reason", "this field is required")
	}
	return s.transition(ctx, id, domain.RequestRejected, func(ctx context.Context, req *domain.SupplyRequest, now time.Time) error {
		req.RejectionReason = strPtr(reason)
		req.RejectedAt = timePtr(now)
		req.HandledBy = strPtr(userID)
		req.HandledAt = timePtr(now)
		addNote(req, userID, role, reason, now)
		return nil
	}, nil)
}

// ConfirmReceipt records what arrived. Omitted quantities carry the approved
// quantity forward; any shortfall needs a note and is reported through the
// shortage hook.
func (s *SupplyRequestService) ConfirmReceipt(ctx context.Context, id string, items []ItemQuantity, note string) (*domain.SupplyRequest, error) {
	userID, role, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)

	var shortages []domain.Shortage
	prepare := func(ctx context.Context, req *domain.SupplyRequest, now time.Time) error {
		explicit, err := explicitQuantities(req, items)
		if err != nil {
			return err
		}

		shortages = nil
		for _, it := range req.Items {
			approved := 0
			if it.ApprovedQty != nil {
				approved = *it.ApprovedQty
			}
			qty := approved
			if q := explicit[it.ID]; q != nil {
				if *q < 0 {
					return errors.ValidationField("fulfilled_qty", "must be zero or greater")
				}
				if *q > approved {
					return errors.ValidationField("fulfilled_qty", fmt.Sprintf("cannot exceed the approved %d for drug %s", approved, it.DrugID))
				}
				qty = *q
			}
			it.FulfilledQty = intPtr(qty)
			if gap := it.Gap(); gap > 0 {
				shortages = append(shortages, domain.Shortage{
					ItemID:       it.ID,
					DrugID:       it.DrugID,
					ApprovedQty:  approved,
					FulfilledQty: qty,
					Gap:          gap,
				})
			}
		}
		if len(shortages) > 0 && note == "" {
			return errors.ValidationField("note", "a note is required when received quantities fall short")
		}

		req.FulfilledAt = timePtr(now)
		addNote(req, userID, role, note, now)
		return nil
	}

	// Runs once the request reads as fulfilled: the received stock is on
	// hand and no longer in transit.
	stock := func(ctx context.Context, req *domain.SupplyRequest) error {
		loc := req.ReceivingLocation()
		for _, it := range req.Items {
			received := it.Allocations.Distribute(*it.FulfilledQty)
			if received.Total() < *it.FulfilledQty {
				received = append(received, domain.Allocation{
					BatchNumber: it.BatchNumber,
					ExpiryDate:  it.ExpiryDate,
					Quantity:    *it.FulfilledQty - received.Total(),
				})
			}
			if err := s.ledger.receive(ctx, it.DrugID, loc, received, "supply request "+req.ID); err != nil {
				return err
			}
			if err := s.ledger.lifecycle.recompute(ctx, it.DrugID); err != nil {
				return err
			}
		}

		if len(shortages) > 0 {
			snapshot := *req
			found := append([]domain.Shortage(nil), shortages...)
			s.r.queueHook(ctx, notify.ShortageDetected, func(ctx context.Context) error {
				return s.hooks.OnShortageDetected(ctx, &snapshot, found, note)
			})
		}
		return nil
	}

	return s.transition(ctx, id, domain.RequestFulfilled, prepare, stock)
}

// Cancel withdraws a request that has not been approved yet.
func (s *SupplyRequestService) Cancel(ctx context.Context, id, reason string) (*domain.SupplyRequest, error) {
	a := actorOf(ctx)
	role := a.RoleName
	if a.IsSystem() {
		role = "system"
	}
	return s.transition(ctx, id, domain.RequestCancelled, func(ctx context.Context, req *domain.SupplyRequest, now time.Time) error {
		req.CancelledAt = timePtr(now)
		addNote(req, a.ID, role, reason, now)
		return nil
	}, nil)
}

// AddNote appends to the request's discussion thread in any state.
func (s *SupplyRequestService) AddNote(ctx context.Context, id, message string) (*domain.SupplyRequest, error) {
	userID, role, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errors.ValidationField("message", "this field is required")
	}

	var req *domain.SupplyRequest
	err = s.r.atomically(ctx, func(ctx context.Context) error {
		req, err = s.requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		req.AddNote(userID, role, message, now)
		req.UpdatedAt = now
		if err := s.requests.Update(ctx, req); err != nil {
			return err
		}
		s.r.queueAudit(ctx, newAudit(ctx, domain.ActionRequestNote, domain.TableRequests, id, nil,
			domain.Note{AuthorID: userID, AuthorRole: role, Message: message, Timestamp: now}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Get returns a request with its items.
func (s *SupplyRequestService) Get(ctx context.Context, id string) (*domain.SupplyRequest, error) {
	return s.requests.GetByID(ctx, id)
}

// List returns requests matching f.
func (s *SupplyRequestService) List(ctx context.Context, f domain.RequestFilter) ([]*domain.SupplyRequest, int64, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, 0, errors.ValidationField("kind", "must be one of: internal, external")
	}
	return s.requests.List(ctx, f)
}

// ExpireStale cancels pending requests created before now-olderThan. Each
// request is cancelled in its own transaction; ones that moved on meanwhile
// are skipped.
func (s *SupplyRequestService) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-olderThan)
	stale, err := s.requests.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reason := fmt.Sprintf("cancelled automatically after %d days without action", int(olderThan.Hours()/24))
	cancelled := 0
	for _, req := range stale {
		_, err := s.Cancel(ctx, req.ID, reason)
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, errors.ErrInvalidStateTransition):
			s.logger.Debug().Str("request_id", req.ID).Msg("stale request already handled")
		default:
			return cancelled, err
		}
	}
	return cancelled, nil
}

// transition locks the request, moves it to `to`, lets prepare fill in the
// step's fields, persists it and then runs after for stock movements. Any
// error rolls the whole step back.
func (s *SupplyRequestService) transition(
	ctx context.Context,
	id string,
	to domain.RequestStatus,
	prepare func(ctx context.Context, req *domain.SupplyRequest, now time.Time) error,
	after func(ctx context.Context, req *domain.SupplyRequest) error,
) (*domain.SupplyRequest, error) {
	var req *domain.SupplyRequest
	err := s.r.atomically(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := req.Status
		if err := req.TransitionTo(to); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		if prepare != nil {
			if err := prepare(ctx, req, now); err != nil {
				return err
			}
		}
		req.UpdatedAt = now
		if err := s.requests.Update(ctx, req); err != nil {
			return err
		}
		for _, it := range req.Items {
			if err := s.requests.UpdateItem(ctx, it); err != nil {
				return err
			}
		}
		if after != nil {
			if err := after(ctx, req); err != nil {
				return err
			}
		}

		performer := actorOf(ctx).ID
		s.r.queueAudit(ctx, newAudit(ctx, domain.ActionRequestTransition, domain.TableRequests, req.ID,
			requestStatusView{Status: from}, requestStatusView{Status: to}))
		s.r.queueEvent(ctx, messaging.EventRequestStatusChanged, messaging.RequestStatusChangedEvent{
			RequestID:   req.ID,
			Kind:        string(req.Kind),
			From:        string(from),
			To:          string(to),
			PerformedBy: performer,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("kind", string(req.Kind)).
		Str("status", string(req.Status)).
		Msg("supply request transitioned")
	return req, nil
}

func explicitQuantities(req *domain.SupplyRequest, items []ItemQuantity) (map[string]*int, error) {
	out := make(map[string]*int, len(items))
	for _, q := range items {
		if _, ok := req.Item(q.ItemID); !ok {
			return nil, errors.ValidationField("items", fmt.Sprintf("item %s is not part of this request", q.ItemID))
		}
		if _, dup := out[q.ItemID]; dup {
			return nil, errors.ValidationField("items", fmt.Sprintf("item %s is listed more than once", q.ItemID))
		}
		out[q.ItemID] = q.Quantity
	}
	return out, nil
}

func addNote(req *domain.SupplyRequest, authorID, role, message string, at time.Time) {
	if message = strings.TrimSpace(message); message != "" {
		req.AddNote(authorID, role, message, at)
	}
}
