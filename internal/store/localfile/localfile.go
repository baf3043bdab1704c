// Package localfile is the local-mode fallback store: a single JSON-backed
// implementation of both store.GraphStore and store.VectorStore.
//
// It exists for development and single-node evaluation only. Production
// deployments run distributed mode; constructing this store logs a
// deprecation warning. Similarity search is a brute-force cosine scan, which
// is fine at local-mode scale and nowhere else.
package localfile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/graphcore/internal/identity"
	"github.com/fyrsmithlabs/graphcore/internal/logging"
	"github.com/fyrsmithlabs/graphcore/internal/metadata"
	"github.com/fyrsmithlabs/graphcore/internal/store"
)

// state is the on-disk document. One file holds everything local mode knows.
type state struct {
	Nodes         map[string]store.NodeRecord `json:"nodes"`
	Relationships map[string]store.EdgeRecord `json:"relationships"`
	// Vectors maps namespace -> vector id -> record.
	Vectors map[string]map[string]vectorDoc `json:"vectors"`
}

type vectorDoc struct {
	ID        string            `json:"id"`
	Embedding []float32         `json:"embedding"`
	Metadata  metadata.Envelope `json:"metadata"`
	Extra     map[string]any    `json:"extra,omitempty"`
}

// Store implements both store interfaces over a JSON file.
type Store struct {
	mu     sync.RWMutex
	path   string
	data   state
	closed bool
	logger *logging.Logger
}

// Open loads (or creates) the backing file under dir.
func Open(ctx context.Context, dir string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating local storage dir: %w", err)
	}

	s := &Store{
		path:   filepath.Join(dir, "graphcore.json"),
		logger: logger.Named("localfile"),
		data: state{
			Nodes:         map[string]store.NodeRecord{},
			Relationships: map[string]store.EdgeRecord{},
			Vectors:       map[string]map[string]vectorDoc{},
		},
	}

	raw, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", s.path, err)
		}
	case os.IsNotExist(err):
		// Fresh store.
	default:
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	s.logger.Warn(ctx, "local file storage is deprecated, use distributed mode for production",
		zap.String("path", s.path))
	return s, nil
}

// flush writes the state atomically. Caller holds the write lock.
func (s *Store) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) checkOpen() error {
	if s.closed {
		return store.ErrStoreClosed
	}
	return nil
}

// AddNode upserts a node.
func (s *Store) AddNode(ctx context.Context, rec store.NodeRecord) error {
	if errs := rec.Metadata.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: node %s: %v", store.ErrInvalidRecord, rec.ID, errs)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.data.Nodes[rec.ID] = rec
	return s.flush()
}

// AddNodesBatch upserts all valid rows in one flush.
func (s *Store) AddNodesBatch(ctx context.Context, recs []store.NodeRecord) (int, []error) {
	var errs []error

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, []error{err}
	}

	applied := 0
	for _, rec := range recs {
		if verrs := rec.Metadata.Validate(); len(verrs) > 0 {
			errs = append(errs, fmt.Errorf("%w: node %s: %v", store.ErrInvalidRecord, rec.ID, verrs))
			continue
		}
		s.data.Nodes[rec.ID] = rec
		applied++
	}
	if applied > 0 {
		if err := s.flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return applied, errs
}

// AddRelationship upserts an edge; both endpoints must exist.
func (s *Store) AddRelationship(ctx context.Context, rec store.EdgeRecord) error {
	if errs := rec.Metadata.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: relationship %s->%s: %v", store.ErrInvalidRecord, rec.SourceID, rec.TargetID, errs)
	}
	relID, err := identity.GenerateRelationshipID(rec.SourceID, rec.TargetID, rec.Type, rec.Metadata.TenantID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.data.Nodes[rec.SourceID]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNodeNotFound, rec.SourceID)
	}
	if _, ok := s.data.Nodes[rec.TargetID]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNodeNotFound, rec.TargetID)
	}
	s.data.Relationships[relID] = rec
	return s.flush()
}

// DeleteNode removes a node and its edges. Missing nodes are not an error.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.data.Nodes[id]; !ok {
		return nil
	}
	delete(s.data.Nodes, id)
	for relID, rel := range s.data.Relationships {
		if rel.SourceID == id || rel.TargetID == id {
			delete(s.data.Relationships, relID)
		}
	}
	return s.flush()
}

// NodesByTenant returns a tenant's nodes in stable id order.
func (s *Store) NodesByTenant(ctx context.Context, tenantID string) ([]store.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var nodes []store.NodeRecord
	for _, rec := range s.data.Nodes {
		if rec.Metadata.TenantID == tenantID {
			nodes = append(nodes, rec)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func matchesFilter(env metadata.Envelope, filter store.SubgraphFilter) bool {
	if filter.AccountID != "" && env.AccountID != filter.AccountID {
		return false
	}
	if filter.InteractionID != "" && env.InteractionID != filter.InteractionID {
		return false
	}
	return true
}

// Subgraph returns the tenant's nodes and the relationships whose endpoints
// both survived the filter.
func (s *Store) Subgraph(ctx context.Context, tenantID string, filter store.SubgraphFilter) (*store.Subgraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	included := map[string]bool{}
	sub := &store.Subgraph{}
	for id, rec := range s.data.Nodes {
		if rec.Metadata.TenantID == tenantID && matchesFilter(rec.Metadata, filter) {
			included[id] = true
			sub.Nodes = append(sub.Nodes, rec)
		}
	}
	for _, rel := range s.data.Relationships {
		if included[rel.SourceID] && included[rel.TargetID] {
			sub.Relationships = append(sub.Relationships, rel)
		}
	}
	sort.Slice(sub.Nodes, func(i, j int) bool { return sub.Nodes[i].ID < sub.Nodes[j].ID })
	sub.NodeCount = len(sub.Nodes)
	sub.RelationshipCount = len(sub.Relationships)
	return sub, nil
}

// ClearTenantData removes everything owned by a tenant, vectors included.
func (s *Store) ClearTenantData(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	for id, rec := range s.data.Nodes {
		if rec.Metadata.TenantID == tenantID {
			delete(s.data.Nodes, id)
		}
	}
	for relID, rel := range s.data.Relationships {
		if rel.Metadata.TenantID == tenantID {
			delete(s.data.Relationships, relID)
		}
	}
	for ns, docs := range s.data.Vectors {
		for id, doc := range docs {
			if doc.Metadata.TenantID == tenantID {
				delete(docs, id)
			}
		}
		if len(docs) == 0 {
			delete(s.data.Vectors, ns)
		}
	}
	return s.flush()
}

// UpsertVector writes one embedding.
func (s *Store) UpsertVector(ctx context.Context, rec store.VectorRecord) error {
	if errs := rec.Metadata.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: vector %s: %v", store.ErrInvalidRecord, rec.ID, errs)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.putVectorLocked(rec)
	return s.flush()
}

func (s *Store) putVectorLocked(rec store.VectorRecord) {
	ns := rec.Namespace
	if ns == "" {
		ns = rec.Metadata.TenantID
	}
	if s.data.Vectors[ns] == nil {
		s.data.Vectors[ns] = map[string]vectorDoc{}
	}
	s.data.Vectors[ns][rec.ID] = vectorDoc{
		ID:        rec.ID,
		Embedding: rec.Embedding,
		Metadata:  rec.Metadata,
		Extra:     rec.Extra,
	}
}

// UpsertVectorsBatch writes all valid rows in one flush.
func (s *Store) UpsertVectorsBatch(ctx context.Context, recs []store.VectorRecord) (int, []error) {
	var errs []error

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, []error{err}
	}

	applied := 0
	for _, rec := range recs {
		if verrs := rec.Metadata.Validate(); len(verrs) > 0 {
			errs = append(errs, fmt.Errorf("%w: vector %s: %v", store.ErrInvalidRecord, rec.ID, verrs))
			continue
		}
		s.putVectorLocked(rec)
		applied++
	}
	if applied > 0 {
		if err := s.flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return applied, errs
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Search brute-force scans the namespace.
func (s *Store) Search(ctx context.Context, embedding []float32, filters map[string]string, topK int, namespace string) ([]store.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var results []store.SearchResult
	for _, doc := range s.data.Vectors[namespace] {
		payload := doc.Metadata.ToMap()
		for k, v := range doc.Extra {
			payload[k] = v
		}
		matched := true
		for k, want := range filters {
			if got, _ := payload[k].(string); got != want {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		results = append(results, store.SearchResult{
			ID:       doc.ID,
			Score:    cosine(embedding, doc.Embedding),
			Metadata: payload,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteVectors removes vectors by id. Missing ids are ignored.
func (s *Store) DeleteVectors(ctx context.Context, ids []string, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	docs := s.data.Vectors[namespace]
	if docs == nil {
		return nil
	}
	for _, id := range ids {
		delete(docs, id)
	}
	return s.flush()
}

// DeleteNamespace drops a namespace.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	delete(s.data.Vectors, namespace)
	return s.flush()
}

// Stats reports vector counts per namespace.
func (s *Store) Stats(ctx context.Context) (*store.VectorStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	stats := &store.VectorStats{Namespaces: map[string]int{}}
	for ns, docs := range s.data.Vectors {
		stats.Namespaces[ns] = len(docs)
		stats.TotalVectors += len(docs)
		for _, doc := range docs {
			if stats.Dimension == 0 {
				stats.Dimension = len(doc.Embedding)
			}
			break
		}
	}
	return stats, nil
}

// HealthCheck verifies the backing file is writable.
func (s *Store) HealthCheck(ctx context.Context) (*store.Health, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	if err := s.checkOpen(); err != nil {
		return &store.Health{Status: store.StatusUnhealthy, Detail: map[string]any{"error": err.Error()}}, err
	}
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return &store.Health{
			Status:  store.StatusUnhealthy,
			Latency: time.Since(start),
			Detail:  map[string]any{"error": err.Error(), "path": s.path},
		}, err
	}
	return &store.Health{
		Status:  store.StatusHealthy,
		Latency: time.Since(start),
		Detail:  map[string]any{"path": s.path},
	}, nil
}

// Close flushes and marks the store closed. Idempotent.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flush()
	s.closed = true
	return err
}

// Interface guards.
var (
	_ store.GraphStore  = (*Store)(nil)
	_ store.VectorStore = (*Store)(nil)
)
