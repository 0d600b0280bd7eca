package consumers

import (
	"context"
	"fmt"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

// StaffSyncer is the part of the staff service the consumer drives.
type StaffSyncer interface {
	Sync(ctx context.Context, p *domain.StaffProfile) error
	Remove(ctx context.Context, userID string) error
}

// UserEventHandler keeps the staff directory in step with user events
// (testable without RabbitMQ).
type UserEventHandler struct {
	staff  StaffSyncer
	now    func() time.Time
	logger *logger.Logger
}

// NewUserEventHandler creates a new handler
func NewUserEventHandler(staff StaffSyncer, log *logger.Logger) *UserEventHandler {
	return &UserEventHandler{staff: staff, now: time.Now, logger: log}
}

// HandleEvent dispatches a user event by type
func (h *UserEventHandler) HandleEvent(ctx context.Context, event *messaging.Event) error {
	switch event.Type {
	case messaging.EventUserCreated, messaging.EventUserUpdated:
		return h.handleUserUpserted(ctx, event)
	case messaging.EventUserDeleted:
		return h.handleUserDeleted(ctx, event)
	default:
		h.logger.Warn().Str("event_type", event.Type).Msg("unknown event type received")
		return nil
	}
}

// withTenant scopes ctx to the tenant schema named in the event. Events
// without one run against the default search_path.
func withTenant(ctx context.Context, ref messaging.TenantRef) context.Context {
	if ref.TenantSchema == "" {
		return ctx
	}
	return tenant.WithTenantContext(ctx, ref.TenantID, ref.TenantSlug, ref.TenantSchema)
}

func (h *UserEventHandler) handleUserUpserted(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserProfileEvent
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.Error().Err(err).Str("event_type", event.Type).Msg("failed to unmarshal UserProfileEvent")
		return err
	}
	if data.UserID == "" {
		return fmt.Errorf("%s event without user_id", event.Type)
	}

	profile := &domain.StaffProfile{
		UserID:      data.UserID,
		Role:        domain.Role(data.RoleName),
		FirstName:   data.FirstName,
		LastName:    data.LastName,
		Email:       data.Email,
		HospitalID:  data.HospitalID,
		PharmacyID:  data.PharmacyID,
		WarehouseID: data.WarehouseID,
		SupplierID:  data.SupplierID,
		UpdatedAt:   h.now().UTC(),
	}

	ctx = withTenant(ctx, data.TenantRef)
	log := h.logger.ForContext(ctx).WithField("staff_id", data.UserID)
	if err := h.staff.Sync(ctx, profile); err != nil {
		log.Error().Err(err).Msg("failed to sync staff profile")
		return err
	}

	log.Info().Str("role", data.RoleName).Msg("staff profile synced")
	return nil
}

func (h *UserEventHandler) handleUserDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.Error().Err(err).Msg("failed to unmarshal UserDeletedEvent")
		return err
	}

	ctx = withTenant(ctx, data.TenantRef)
	log := h.logger.ForContext(ctx).WithField("staff_id", data.UserID)
	if err := h.staff.Remove(ctx, data.UserID); err != nil {
		log.Error().Err(err).Msg("failed to remove staff profile")
		return err
	}

	log.Info().Msg("staff profile removed")
	return nil
}

// UserEventConsumer consumes user.* events from RabbitMQ
type UserEventConsumer struct {
	consumer *messaging.Consumer
	handler  *UserEventHandler
}

// NewUserEventConsumer declares the service queue, binds it to user events
// and registers the handlers.
func NewUserEventConsumer(rmq *messaging.RabbitMQ, cfg config.RabbitMQConfig, staff StaffSyncer, log *logger.Logger) (*UserEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, cfg.Queue, cfg.MaxRetries, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(cfg.Exchange, "user.#"); err != nil {
		return nil, err
	}

	handler := NewUserEventHandler(staff, log)
	consumer.RegisterHandler(messaging.EventUserCreated, handler.handleUserUpserted)
	consumer.RegisterHandler(messaging.EventUserUpdated, handler.handleUserUpserted)
	consumer.RegisterHandler(messaging.EventUserDeleted, handler.handleUserDeleted)

	return &UserEventConsumer{consumer: consumer, handler: handler}, nil
}

// Start starts consuming messages
func (c *UserEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}
