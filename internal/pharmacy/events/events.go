// Package events publishes the pharmacy notification hooks to RabbitMQ so
// that notification, reporting and ordering services can react to them.
package events

import (
	"context"
	"fmt"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/notify"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
)

// Notifier turns hook calls into events on the medflow exchange.
type Notifier struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

var _ notify.Hooks = (*Notifier)(nil)

// NewNotifier creates a notifier publishing through p.
func NewNotifier(p messaging.EventPublisher, log *logger.Logger) *Notifier {
	return &Notifier{publisher: p, logger: log}
}

func (n *Notifier) publish(ctx context.Context, eventType string, data interface{}) error {
	if err := n.publisher.Publish(ctx, eventType, data); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func (n *Notifier) OnLowStock(ctx context.Context, rec domain.InventoryRecord) error {
	n.logger.Warn().
		Str("drug_id", rec.DrugID).
		Str("location_id", rec.Location.ID).
		Int("current_quantity", rec.CurrentQuantity).
		Int("minimum_level", rec.MinimumLevel).
		Msg("stock at or below minimum level")

	return n.publish(ctx, messaging.EventStockLow, messaging.LowStockEvent{
		InventoryID:     rec.ID,
		DrugID:          rec.DrugID,
		LocationType:    string(rec.Location.Type),
		LocationID:      rec.Location.ID,
		BatchNumber:     rec.BatchNumber,
		CurrentQuantity: rec.CurrentQuantity,
		MinimumLevel:    rec.MinimumLevel,
	})
}

func (n *Notifier) OnStockBecameAvailable(ctx context.Context, drugID string, loc domain.Location) error {
	return n.publish(ctx, messaging.EventStockAvailable, messaging.StockAvailableEvent{
		DrugID:       drugID,
		LocationType: string(loc.Type),
		LocationID:   loc.ID,
	})
}

// OnShortageDetected reports to the requesting side what did not arrive.
func (n *Notifier) OnShortageDetected(ctx context.Context, req *domain.SupplyRequest, shortages []domain.Shortage, note string) error {
	items := make([]messaging.ShortageItem, len(shortages))
	for i, s := range shortages {
		items[i] = messaging.ShortageItem{
			ItemID:       s.ItemID,
			DrugID:       s.DrugID,
			ApprovedQty:  s.ApprovedQty,
			FulfilledQty: s.FulfilledQty,
			Gap:          s.Gap,
		}
	}

	n.logger.Warn().
		Str("request_id", req.ID).
		Int("items", len(items)).
		Msg("supply request received short")

	return n.publish(ctx, messaging.EventRequestShortage, messaging.ShortageDetectedEvent{
		RequestID:  req.ID,
		Kind:       string(req.Kind),
		OriginType: string(req.Origin.Type),
		OriginID:   req.Origin.ID,
		Note:       note,
		Items:      items,
	})
}

func (n *Notifier) OnDrugArchived(ctx context.Context, drug *domain.Drug) error {
	return n.publish(ctx, messaging.EventDrugArchived, lifecycle(drug))
}

func (n *Notifier) OnDrugPhasingOutStarted(ctx context.Context, drug *domain.Drug) error {
	return n.publish(ctx, messaging.EventDrugPhasingOut, lifecycle(drug))
}

// OnDrugReactivated carries the audience so the notification service can
// fan out without calling back.
func (n *Notifier) OnDrugReactivated(ctx context.Context, drug *domain.Drug, audience domain.ReactivationAudience) error {
	evt := lifecycle(drug)
	for _, role := range audience.Roles {
		evt.AudienceRoles = append(evt.AudienceRoles, string(role))
	}
	evt.PatientIDs = audience.PatientIDs
	return n.publish(ctx, messaging.EventDrugReactivated, evt)
}

func (n *Notifier) OnStockExpiring(ctx context.Context, rec domain.InventoryRecord, daysLeft int) error {
	evt := messaging.StockExpiringEvent{
		InventoryID:     rec.ID,
		DrugID:          rec.DrugID,
		LocationType:    string(rec.Location.Type),
		LocationID:      rec.Location.ID,
		BatchNumber:     rec.BatchNumber,
		DaysUntil:       daysLeft,
		CurrentQuantity: rec.CurrentQuantity,
	}
	if rec.ExpiryDate != nil {
		evt.ExpiryDate = *rec.ExpiryDate
	}
	return n.publish(ctx, messaging.EventStockExpiring, evt)
}

func lifecycle(drug *domain.Drug) messaging.DrugLifecycleEvent {
	return messaging.DrugLifecycleEvent{
		DrugID:   drug.ID,
		DrugName: drug.Name,
		Status:   string(drug.Status),
	}
}
