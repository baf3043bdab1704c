package store

import (
	"time"

	"github.com/fyrsmithlabs/graphcore/internal/metadata"
)

// NodeRecord is a graph node as handed to a GraphStore. The id is
// content-addressed; the envelope has already passed validation by the time a
// record reaches an adapter.
type NodeRecord struct {
	ID         string
	Type       string
	Metadata   metadata.Envelope
	Properties map[string]any
}

// EdgeRecord is a relationship between two nodes.
type EdgeRecord struct {
	SourceID   string
	TargetID   string
	Type       string
	Metadata   metadata.Envelope
	Properties map[string]any
}

// VectorRecord is an embedding as handed to a VectorStore. Namespace is the
// tenant-scoped partition; when empty, adapters default it to the envelope's
// tenant id.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Metadata  metadata.Envelope
	Namespace string

	// Extra carries additional flat payload fields stored beside the
	// envelope (e.g. chunk offsets).
	Extra map[string]any
}

// SubgraphFilter narrows a Subgraph query. Zero value means no narrowing
// beyond the tenant.
type SubgraphFilter struct {
	AccountID     string
	InteractionID string
}

// Subgraph is the result of a tenant-scoped graph read.
type Subgraph struct {
	Nodes             []NodeRecord
	Relationships     []EdgeRecord
	NodeCount         int
	RelationshipCount int
}

// SearchResult is one vector similarity hit.
type SearchResult struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Health is a store liveness probe result.
type Health struct {
	Status  string
	Latency time.Duration
	Detail  map[string]any
}

// Healthy status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// VectorStats reports vector store occupancy.
type VectorStats struct {
	TotalVectors int
	Namespaces   map[string]int
	Dimension    int
}
