// Package tenant scopes every operation in the pipeline to a current tenant.
//
// The current tenant travels on the context.Context of the unit of work, so
// concurrently executing goroutines sharing a worker pool can never observe
// each other's tenant: a context value is visible only to the call tree it was
// derived for. A Registry side-table tracks which tenants have been active,
// for observability and test cleanup.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// DefaultTenant is used when no tenant has been scoped.
const DefaultTenant = "default"

// Common errors.
var (
	ErrInvalidTenantID = errors.New("invalid tenant ID")
	ErrNoTenant        = errors.New("no tenant scoped on context")
	ErrAccessDenied    = errors.New("cross-tenant access denied")
)

// tenantIDPattern allows alphanumeric, hyphen, underscore.
var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ctxKey is the context key for *Info.
type ctxKey struct{}

// Info is the tenant scoped on a unit of work.
type Info struct {
	// ID is the opaque tenant identifier.
	ID string

	// Attrs carries optional tenant attributes (org name, tier, ...).
	Attrs map[string]string

	// SessionID identifies this scoping, for log correlation.
	SessionID string

	// StartedAt is when the scope was entered.
	StartedAt time.Time
}

// ValidateID checks a tenant identifier's shape.
func ValidateID(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTenantID)
	}
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, tenantID)
	}
	return nil
}

// IntoContext returns a context scoped to tenantID. attrs may be nil.
func IntoContext(ctx context.Context, tenantID string, attrs map[string]string) (context.Context, error) {
	if err := ValidateID(tenantID); err != nil {
		return nil, err
	}
	info := &Info{
		ID:        tenantID,
		Attrs:     attrs,
		SessionID: uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	return context.WithValue(ctx, ctxKey{}, info), nil
}

// FromContext returns the scoped tenant, or ok=false when none is set.
func FromContext(ctx context.Context) (*Info, bool) {
	info, ok := ctx.Value(ctxKey{}).(*Info)
	if !ok || info == nil {
		return nil, false
	}
	return info, true
}

// IDFromContext returns the scoped tenant ID or the empty string.
func IDFromContext(ctx context.Context) string {
	if info, ok := FromContext(ctx); ok {
		return info.ID
	}
	return ""
}

// IDFromContextOrDefault returns the scoped tenant ID or DefaultTenant.
func IDFromContextOrDefault(ctx context.Context) string {
	if id := IDFromContext(ctx); id != "" {
		return id
	}
	return DefaultTenant
}

// RequireFromContext returns the scoped tenant ID or ErrNoTenant.
func RequireFromContext(ctx context.Context) (string, error) {
	id := IDFromContext(ctx)
	if id == "" {
		return "", ErrNoTenant
	}
	return id, nil
}

// ClearFromContext returns a context with no scoped tenant, shadowing any
// tenant set on a parent context.
func ClearFromContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, (*Info)(nil))
}

// WithTenant runs body with ctx scoped to tenantID, recording the tenant in
// reg when non-nil. The caller's own context is never mutated, so the prior
// tenant (or its absence) is restored on every exit path, including panics
// propagating out of body.
func WithTenant(ctx context.Context, reg *Registry, tenantID string, attrs map[string]string, body func(context.Context) error) error {
	scoped, err := IntoContext(ctx, tenantID, attrs)
	if err != nil {
		return err
	}
	if reg != nil {
		reg.Observe(tenantID, attrs)
	}
	return body(scoped)
}

// NamespaceFor derives the per-tenant storage namespace for a component,
// e.g. "acme_embeddings". Falls back to the default tenant when unscoped.
func NamespaceFor(ctx context.Context, component string) string {
	return IDFromContextOrDefault(ctx) + "_" + component
}

// ValidateAccess reports whether the scoped tenant may touch a resource owned
// by resourceTenant. An unscoped context is treated as administrative access.
func ValidateAccess(ctx context.Context, resourceTenant string) error {
	current := IDFromContext(ctx)
	if current == "" {
		return nil
	}
	if current != resourceTenant {
		return fmt.Errorf("%w: tenant %q attempted to access %q resource", ErrAccessDenied, current, resourceTenant)
	}
	return nil
}
