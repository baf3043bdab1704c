// Package storetest provides in-memory GraphStore and VectorStore doubles
// with failure injection for exercising registry and transaction behavior
// without a live backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/graphcore/internal/store"
)

// GraphStore is an in-memory store.GraphStore.
type GraphStore struct {
	mu     sync.RWMutex
	nodes  map[string]store.NodeRecord
	edges  map[string]store.EdgeRecord
	closed bool

	// FailAddNode, when set, is returned by AddNode calls.
	FailAddNode error
	// FailDeleteNode, when set, is returned by DeleteNode calls.
	FailDeleteNode error
	// FailBatch, when set, is returned as the single hard error of
	// AddNodesBatch.
	FailBatch error

	// DeleteCalls records ids passed to DeleteNode, in order.
	DeleteCalls []string
}

// NewGraphStore creates an empty in-memory graph store.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		nodes: make(map[string]store.NodeRecord),
		edges: make(map[string]store.EdgeRecord),
	}
}

func (g *GraphStore) AddNode(ctx context.Context, rec store.NodeRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return store.ErrStoreClosed
	}
	if g.FailAddNode != nil {
		return g.FailAddNode
	}
	g.nodes[rec.ID] = rec
	return nil
}

func (g *GraphStore) AddNodesBatch(ctx context.Context, recs []store.NodeRecord) (int, []error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailBatch != nil {
		return 0, []error{g.FailBatch}
	}
	for _, rec := range recs {
		g.nodes[rec.ID] = rec
	}
	return len(recs), nil
}

func (g *GraphStore) AddRelationship(ctx context.Context, rec store.EdgeRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[rec.SourceID]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNodeNotFound, rec.SourceID)
	}
	if _, ok := g.nodes[rec.TargetID]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNodeNotFound, rec.TargetID)
	}
	g.edges[rec.SourceID+"->"+rec.TargetID+":"+rec.Type] = rec
	return nil
}

func (g *GraphStore) DeleteNode(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.DeleteCalls = append(g.DeleteCalls, id)
	if g.FailDeleteNode != nil {
		return g.FailDeleteNode
	}
	delete(g.nodes, id)
	for k, e := range g.edges {
		if e.SourceID == id || e.TargetID == id {
			delete(g.edges, k)
		}
	}
	return nil
}

func (g *GraphStore) NodesByTenant(ctx context.Context, tenantID string) ([]store.NodeRecord, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []store.NodeRecord
	for _, n := range g.nodes {
		if n.Metadata.TenantID == tenantID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (g *GraphStore) Subgraph(ctx context.Context, tenantID string, filter store.SubgraphFilter) (*store.Subgraph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sub := &store.Subgraph{}
	for _, n := range g.nodes {
		if n.Metadata.TenantID != tenantID {
			continue
		}
		if filter.AccountID != "" && n.Metadata.AccountID != filter.AccountID {
			continue
		}
		if filter.InteractionID != "" && n.Metadata.InteractionID != filter.InteractionID {
			continue
		}
		sub.Nodes = append(sub.Nodes, n)
	}
	for _, e := range g.edges {
		if e.Metadata.TenantID == tenantID {
			sub.Relationships = append(sub.Relationships, e)
		}
	}
	sub.NodeCount = len(sub.Nodes)
	sub.RelationshipCount = len(sub.Relationships)
	return sub, nil
}

func (g *GraphStore) ClearTenantData(ctx context.Context, tenantID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, n := range g.nodes {
		if n.Metadata.TenantID == tenantID {
			delete(g.nodes, id)
		}
	}
	for k, e := range g.edges {
		if e.Metadata.TenantID == tenantID {
			delete(g.edges, k)
		}
	}
	return nil
}

func (g *GraphStore) HealthCheck(ctx context.Context) (*store.Health, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return &store.Health{Status: store.StatusUnhealthy}, store.ErrStoreClosed
	}
	return &store.Health{
		Status:  store.StatusHealthy,
		Latency: time.Microsecond,
		Detail:  map[string]any{"nodes": len(g.nodes)},
	}, nil
}

func (g *GraphStore) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// Closed reports whether Close was called.
func (g *GraphStore) Closed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

// HasNode reports whether a node id is present.
func (g *GraphStore) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// VectorStore is an in-memory store.VectorStore.
type VectorStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]store.VectorRecord
	closed     bool

	// Dimension, when non-zero, rejects upserts whose embedding length
	// differs, mimicking a remote store's dimension check.
	Dimension int

	// FailUpsert, when set, is returned by UpsertVector calls.
	FailUpsert error
	// FailBatch, when set, is returned as the single hard error of
	// UpsertVectorsBatch.
	FailBatch error

	// DeleteCalls records (namespace, ids) passed to DeleteVectors.
	DeleteCalls []DeleteCall
}

// DeleteCall records one DeleteVectors invocation.
type DeleteCall struct {
	Namespace string
	IDs       []string
}

// NewVectorStore creates an empty in-memory vector store.
func NewVectorStore() *VectorStore {
	return &VectorStore{namespaces: make(map[string]map[string]store.VectorRecord)}
}

func (v *VectorStore) namespaceFor(rec store.VectorRecord) string {
	if rec.Namespace != "" {
		return rec.Namespace
	}
	return rec.Metadata.TenantID
}

func (v *VectorStore) UpsertVector(ctx context.Context, rec store.VectorRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return store.ErrStoreClosed
	}
	if v.FailUpsert != nil {
		return v.FailUpsert
	}
	if v.Dimension != 0 && len(rec.Embedding) != v.Dimension {
		return fmt.Errorf("%w: embedding dimension %d, index expects %d",
			store.ErrInvalidRecord, len(rec.Embedding), v.Dimension)
	}
	ns := v.namespaceFor(rec)
	if v.namespaces[ns] == nil {
		v.namespaces[ns] = make(map[string]store.VectorRecord)
	}
	v.namespaces[ns][rec.ID] = rec
	return nil
}

func (v *VectorStore) UpsertVectorsBatch(ctx context.Context, recs []store.VectorRecord) (int, []error) {
	if v.FailBatch != nil {
		return 0, []error{v.FailBatch}
	}
	count := 0
	var errs []error
	for _, rec := range recs {
		if err := v.UpsertVector(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("vector %s: %w", rec.ID, err))
			continue
		}
		count++
	}
	return count, errs
}

func (v *VectorStore) Search(ctx context.Context, embedding []float32, filters map[string]string, topK int, namespace string) ([]store.SearchResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []store.SearchResult
	for _, rec := range v.namespaces[namespace] {
		meta := rec.Metadata.ToMap()
		match := true
		for k, want := range filters {
			if got, _ := meta[k].(string); got != want {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		out = append(out, store.SearchResult{ID: rec.ID, Score: 1, Metadata: meta})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (v *VectorStore) DeleteVectors(ctx context.Context, ids []string, namespace string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.DeleteCalls = append(v.DeleteCalls, DeleteCall{Namespace: namespace, IDs: ids})
	for _, id := range ids {
		delete(v.namespaces[namespace], id)
	}
	return nil
}

func (v *VectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.namespaces, namespace)
	return nil
}

func (v *VectorStore) Stats(ctx context.Context) (*store.VectorStats, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	stats := &store.VectorStats{Namespaces: make(map[string]int), Dimension: v.Dimension}
	for ns, vecs := range v.namespaces {
		stats.Namespaces[ns] = len(vecs)
		stats.TotalVectors += len(vecs)
	}
	return stats, nil
}

func (v *VectorStore) HealthCheck(ctx context.Context) (*store.Health, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return &store.Health{Status: store.StatusUnhealthy}, store.ErrStoreClosed
	}
	return &store.Health{Status: store.StatusHealthy, Latency: time.Microsecond}, nil
}

func (v *VectorStore) Close(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// Closed reports whether Close was called.
func (v *VectorStore) Closed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.closed
}

// HasVector reports whether an id is present in a namespace.
func (v *VectorStore) HasVector(id, namespace string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.namespaces[namespace][id]
	return ok
}

// Interface guards.
var (
	_ store.GraphStore  = (*GraphStore)(nil)
	_ store.VectorStore = (*VectorStore)(nil)
)
