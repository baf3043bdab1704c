// Package store defines the capability interfaces for the two external
// stores the core writes to: a graph store and a vector store.
//
// The core consumes these interfaces but owns no durable state itself; every
// record lives in whichever store accepted it. Implementations live in the
// neograph, qdrantvec and localfile subpackages; storetest carries in-memory
// doubles with failure injection.
package store

import (
	"context"
	"errors"
)

// Sentinel errors shared by store implementations.
var (
	// ErrNodeNotFound is returned when a node id does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrConnectionFailed indicates the remote store could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to store")

	// ErrInvalidRecord indicates a record that failed envelope validation
	// reached an adapter. Adapters fail closed on it.
	ErrInvalidRecord = errors.New("record failed metadata validation")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store is closed")
)

// GraphStore is the narrow capability interface over the graph database.
//
// AddNode and AddRelationship are upserts keyed on content-addressed ids:
// writing the same id twice is the intended deduplication behavior, never an
// error. Every call takes a context and is safe for concurrent use once the
// adapter is constructed.
type GraphStore interface {
	// AddNode upserts a single node.
	AddNode(ctx context.Context, rec NodeRecord) error

	// AddNodesBatch upserts nodes in one store-level call, returning the
	// number applied and one error per rejected row.
	AddNodesBatch(ctx context.Context, recs []NodeRecord) (int, []error)

	// AddRelationship upserts an edge between two existing nodes.
	AddRelationship(ctx context.Context, rec EdgeRecord) error

	// DeleteNode removes a node (and its edges) by id. Deleting a missing
	// node is not an error; compensation paths rely on that.
	DeleteNode(ctx context.Context, id string) error

	// NodesByTenant returns all nodes owned by a tenant.
	NodesByTenant(ctx context.Context, tenantID string) ([]NodeRecord, error)

	// Subgraph returns the tenant's nodes and relationships, optionally
	// narrowed by filter, with counts.
	Subgraph(ctx context.Context, tenantID string, filter SubgraphFilter) (*Subgraph, error)

	// ClearTenantData removes every node and relationship of a tenant.
	ClearTenantData(ctx context.Context, tenantID string) error

	// HealthCheck probes the store.
	HealthCheck(ctx context.Context) (*Health, error)

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// VectorStore is the narrow capability interface over the vector database.
// Vectors are partitioned by per-tenant namespace.
type VectorStore interface {
	// UpsertVector writes a single embedding with its metadata.
	UpsertVector(ctx context.Context, rec VectorRecord) error

	// UpsertVectorsBatch writes embeddings in one store-level call,
	// returning the number applied and one error per rejected row.
	UpsertVectorsBatch(ctx context.Context, recs []VectorRecord) (int, []error)

	// Search returns the topK most similar vectors in a namespace,
	// narrowed by metadata filters.
	Search(ctx context.Context, embedding []float32, filters map[string]string, topK int, namespace string) ([]SearchResult, error)

	// DeleteVectors removes vectors by id from a namespace. Missing ids
	// are ignored; compensation paths rely on that.
	DeleteVectors(ctx context.Context, ids []string, namespace string) error

	// DeleteNamespace removes every vector in a namespace.
	DeleteNamespace(ctx context.Context, namespace string) error

	// Stats reports vector counts per namespace.
	Stats(ctx context.Context) (*VectorStats, error)

	// HealthCheck probes the store.
	HealthCheck(ctx context.Context) (*Health, error)

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
