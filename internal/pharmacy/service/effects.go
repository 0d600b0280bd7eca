package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
)

type effectsKey struct{}
type quietKey struct{}

type deferred struct {
	name string
	fn   func(ctx context.Context) error
}

// effects collects what a transaction wants to happen once it commits.
type effects struct {
	mu     sync.Mutex
	audit  []*domain.AuditEntry
	hooks  []deferred
	events []deferred
}

// runner wraps service transactions. Audit entries, hooks and events queued
// during fn are flushed after commit in that order and dropped on rollback.
type runner struct {
	tx     TxRunner
	audit  *AuditService
	events messaging.EventPublisher
	log    *logger.Logger
}

func (r *runner) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(effectsKey{}).(*effects); ok {
		return r.tx.WithTx(ctx, fn)
	}

	fx := &effects{}
	if err := r.tx.WithTx(context.WithValue(ctx, effectsKey{}, fx), fn); err != nil {
		return err
	}
	r.flush(ctx, fx)
	return nil
}

func (r *runner) flush(ctx context.Context, fx *effects) {
	fx.mu.Lock()
	audit, hooks, events := fx.audit, fx.hooks, fx.events
	fx.mu.Unlock()

	for _, e := range audit {
		r.audit.Record(ctx, e)
	}
	for _, h := range hooks {
		r.safeCall(ctx, "hook", h)
	}
	for _, e := range events {
		r.safeCall(ctx, "event", e)
	}
}

// safeCall runs a post-commit effect; failures and panics are logged only.
func (r *runner) safeCall(ctx context.Context, kind string, d deferred) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().
				Interface("panic", p).
				Str(kind, d.name).
				Msg("post-commit " + kind + " panicked")
		}
	}()
	if err := d.fn(ctx); err != nil {
		r.log.Error().Err(err).Str(kind, d.name).Msg("post-commit " + kind + " failed")
	}
}

func (r *runner) queueAudit(ctx context.Context, e *domain.AuditEntry) {
	fx, ok := ctx.Value(effectsKey{}).(*effects)
	if !ok {
		r.audit.Record(ctx, e)
		return
	}
	fx.mu.Lock()
	fx.audit = append(fx.audit, e)
	fx.mu.Unlock()
}

// queueHook defers a notification. Quiet contexts drop it.
func (r *runner) queueHook(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if isQuiet(ctx) {
		r.log.Debug().Str("hook", name).Msg("notification suppressed")
		return
	}
	d := deferred{name: name, fn: fn}
	fx, ok := ctx.Value(effectsKey{}).(*effects)
	if !ok {
		r.safeCall(ctx, "hook", d)
		return
	}
	fx.mu.Lock()
	fx.hooks = append(fx.hooks, d)
	fx.mu.Unlock()
}

func (r *runner) queueEvent(ctx context.Context, eventType string, data interface{}) {
	d := deferred{name: eventType, fn: func(ctx context.Context) error {
		return r.events.Publish(ctx, eventType, data)
	}}
	fx, ok := ctx.Value(effectsKey{}).(*effects)
	if !ok {
		r.safeCall(ctx, "event", d)
		return
	}
	fx.mu.Lock()
	fx.events = append(fx.events, d)
	fx.mu.Unlock()
}

// quiet marks ctx so notifications queued under it are dropped. Audit and
// domain events still go out.
func quiet(ctx context.Context, suppress bool) context.Context {
	if !suppress {
		return ctx
	}
	return context.WithValue(ctx, quietKey{}, true)
}

func isQuiet(ctx context.Context) bool {
	v, _ := ctx.Value(quietKey{}).(bool)
	return v
}

// actorOf returns the caller, or the system actor for background work.
func actorOf(ctx context.Context) *actor.Actor {
	if a := actor.FromContext(ctx); a != nil {
		return a
	}
	return actor.SystemActor()
}

func newAudit(ctx context.Context, action, table, recordID string, oldValues, newValues interface{}) *domain.AuditEntry {
	return &domain.AuditEntry{
		ID:        uuid.New().String(),
		ActorID:   actorOf(ctx).ID,
		Action:    action,
		TableName: table,
		RecordID:  recordID,
		OldValues: rawJSON(oldValues),
		NewValues: rawJSON(newValues),
	}
}

func rawJSON(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
