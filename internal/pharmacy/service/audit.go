package service

import (
	"context"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
)

// AuditService persists audit entries and mirrors them onto the bus.
// Recording never fails the caller.
type AuditService struct {
	store  AuditStore
	events messaging.EventPublisher
	clock  Clock
	logger *logger.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(store AuditStore, events messaging.EventPublisher, clock Clock, log *logger.Logger) *AuditService {
	return &AuditService{
		store:  store,
		events: events,
		clock:  clock,
		logger: log,
	}
}

// Record stores e; failures are logged.
func (s *AuditService) Record(ctx context.Context, e *domain.AuditEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.clock.Now().UTC()
	}
	if err := s.store.Insert(ctx, e); err != nil {
		s.logger.Error().
			Err(err).
			Str("action", e.Action).
			Str("table", e.TableName).
			Str("record_id", e.RecordID).
			Msg("failed to record audit entry")
		return
	}

	if err := s.events.Publish(ctx, messaging.EventAuditRecorded, messaging.AuditRecordedEvent{
		LogID:     e.ID,
		ActorID:   e.ActorID,
		Action:    e.Action,
		TableName: e.TableName,
		RecordID:  e.RecordID,
		OldValues: e.OldValues,
		NewValues: e.NewValues,
		Timestamp: e.Timestamp,
	}); err != nil {
		s.logger.Warn().Err(err).Str("log_id", e.ID).Msg("failed to publish audit event")
	}
}

// List returns audit entries newest first.
func (s *AuditService) List(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.store.List(ctx, f)
}
