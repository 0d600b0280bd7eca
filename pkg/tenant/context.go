// Package tenant carries the schema-per-tenant scope of a request or job.
// Repositories read the schema to set the transaction search_path.
package tenant

import (
	"context"
	"errors"
	"regexp"
)

// ErrNoTenantInContext is returned when the context carries no tenant.
var ErrNoTenantInContext = errors.New("no tenant in context")

// ErrInvalidSchema is returned for schema names that are not tenant schemas.
var ErrInvalidSchema = errors.New("invalid tenant schema")

var schemaPattern = regexp.MustCompile(`^tenant_[a-z0-9_]{1,55}$`)

// Info identifies one tenant.
type Info struct {
	ID     string
	Slug   string
	Schema string
}

type contextKey struct{}

// WithTenantContext scopes ctx to a tenant.
func WithTenantContext(ctx context.Context, id, slug, schema string) context.Context {
	return context.WithValue(ctx, contextKey{}, Info{ID: id, Slug: slug, Schema: schema})
}

// FromContext returns the tenant of ctx.
func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(contextKey{}).(Info)
	return info, ok && info.Schema != ""
}

// TenantID returns the tenant id of ctx.
func TenantID(ctx context.Context) (string, error) {
	info, ok := FromContext(ctx)
	if !ok || info.ID == "" {
		return "", ErrNoTenantInContext
	}
	return info.ID, nil
}

// TenantSchema returns the schema of ctx, rejecting names that do not follow
// the tenant_<slug> convention so they can never reach a search_path.
func TenantSchema(ctx context.Context) (string, error) {
	info, ok := FromContext(ctx)
	if !ok {
		return "", ErrNoTenantInContext
	}
	if !ValidSchema(info.Schema) {
		return "", ErrInvalidSchema
	}
	return info.Schema, nil
}

// ValidSchema reports whether name is a tenant schema name.
func ValidSchema(name string) bool {
	return schemaPattern.MatchString(name)
}
