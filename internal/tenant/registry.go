package tenant

import (
	"sort"
	"sync"
	"time"
)

// Stats describes one tenant's activity as seen by the registry.
type Stats struct {
	TenantID     string
	Attrs        map[string]string
	FirstSeen    time.Time
	LastAccessed time.Time
	AccessCount  int64
}

// Registry is a concurrency-safe side-table of tenants that have been scoped
// at least once. It exists for observability and test cleanup; it holds no
// tenant data and guards no invariants of its own.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*Stats
}

// NewRegistry creates an empty tenant registry.
func NewRegistry() *Registry {
	return &Registry{tenants: make(map[string]*Stats)}
}

// Observe records an access by tenantID, registering it on first sight.
func (r *Registry) Observe(tenantID string, attrs map[string]string) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.tenants[tenantID]
	if !ok {
		s = &Stats{TenantID: tenantID, Attrs: attrs, FirstSeen: now}
		r.tenants[tenantID] = s
	}
	s.LastAccessed = now
	s.AccessCount++
}

// ListTenants returns all registered tenant IDs, sorted.
func (r *Registry) ListTenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns a snapshot of per-tenant activity.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stats, len(r.tenants))
	for id, s := range r.tenants {
		out[id] = *s
	}
	return out
}

// Reset clears the registry. Intended for test cleanup.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = make(map[string]*Stats)
}
