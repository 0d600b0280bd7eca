// Package actor identifies who performs an action: a staff member calling
// through the gateway, or the system itself for scheduled jobs and event
// consumers. The actor is recorded on audit entries, request notes and
// dispensing records.
package actor

import (
	"context"
	"strings"

	"github.com/medflow/medflow-pharmacy/pkg/permissions"
)

// SystemID is the actor id of scheduled and event-driven work.
const SystemID = "00000000-0000-0000-0000-000000000000"

// Actor is the caller of an operation.
type Actor struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	TenantID  string `json:"tenant_id"`
	RoleName  string `json:"role_name,omitempty"`
}

// FullName joins first and last name.
func (a *Actor) FullName() string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Can reports whether the actor's role grants perm. The system actor may do
// anything.
func (a *Actor) Can(perm string) bool {
	if a.IsSystem() {
		return true
	}
	return permissions.RoleHas(a.RoleName, perm)
}

// IsSystem reports whether the actor is the system. A nil actor counts as
// the system.
func (a *Actor) IsSystem() bool {
	return a == nil || a.ID == SystemID
}

type contextKey struct{}

// FromContext returns the actor of ctx, or nil.
func FromContext(ctx context.Context) *Actor {
	a, _ := ctx.Value(contextKey{}).(*Actor)
	return a
}

// WithActor attaches a to ctx.
func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// SystemActor is used for background jobs and consumers.
func SystemActor() *Actor {
	return &Actor{
		ID:        SystemID,
		FirstName: "System",
		Email:     "system@medflow.local",
	}
}
