package localfile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/graphcore/internal/logging"
	"github.com/fyrsmithlabs/graphcore/internal/metadata"
	"github.com/fyrsmithlabs/graphcore/internal/store"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir(), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func envelope(tenantID string) metadata.Envelope {
	return metadata.Envelope{
		TenantID:        tenantID,
		InteractionID:   "int_9b2f8e4a-1c3d-4e5f-8a7b-6c5d4e3f2a1b",
		InteractionType: "email",
		Text:            "quarterly revenue grew 12%",
		AccountID:       "acc_1f2e3d4c-5b6a-4978-8695-a4b3c2d1e0f9",
		Timestamp:       "2024-01-15T10:30:00Z",
		UserID:          "u_42",
		SourceSystem:    "outlook",
	}
}

func node(id, tenantID string) store.NodeRecord {
	return store.NodeRecord{ID: id, Type: metadata.NodeTypeEntity, Metadata: envelope(tenantID)}
}

func TestAddNodeAndReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.AddNode(ctx, node("ent_aaaaaaaaaaaaaaaa", "t1")))
	require.NoError(t, s.Close(ctx))

	// Reopen and confirm persistence.
	s2, err := Open(ctx, dir, logging.NewNop())
	require.NoError(t, err)
	defer s2.Close(ctx)

	nodes, err := s2.NodesByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "ent_aaaaaaaaaaaaaaaa", nodes[0].ID)
}

func TestAddNodeRejectsInvalidEnvelope(t *testing.T) {
	s := newStore(t)

	rec := node("ent_aaaaaaaaaaaaaaaa", "t1")
	rec.Metadata.Timestamp = "not-a-timestamp"

	err := s.AddNode(context.Background(), rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidRecord)
}

func TestRelationshipRequiresEndpoints(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddNode(ctx, node("ent_aaaaaaaaaaaaaaaa", "t1")))

	err := s.AddRelationship(ctx, store.EdgeRecord{
		SourceID: "ent_aaaaaaaaaaaaaaaa",
		TargetID: "ent_bbbbbbbbbbbbbbbb",
		Type:     "KNOWS",
		Metadata: envelope("t1"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNodeNotFound)
}

func TestDeleteNodeIdempotentAndCascades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddNode(ctx, node("ent_aaaaaaaaaaaaaaaa", "t1")))
	require.NoError(t, s.AddNode(ctx, node("ent_bbbbbbbbbbbbbbbb", "t1")))
	require.NoError(t, s.AddRelationship(ctx, store.EdgeRecord{
		SourceID: "ent_aaaaaaaaaaaaaaaa",
		TargetID: "ent_bbbbbbbbbbbbbbbb",
		Type:     "KNOWS",
		Metadata: envelope("t1"),
	}))

	require.NoError(t, s.DeleteNode(ctx, "ent_aaaaaaaaaaaaaaaa"))
	// Second delete of a now-missing id is not an error.
	require.NoError(t, s.DeleteNode(ctx, "ent_aaaaaaaaaaaaaaaa"))

	sub, err := s.Subgraph(ctx, "t1", store.SubgraphFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, sub.NodeCount)
	assert.Equal(t, 0, sub.RelationshipCount)
}

func TestTenantIsolation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddNode(ctx, node("ent_aaaaaaaaaaaaaaaa", "t1")))
	require.NoError(t, s.AddNode(ctx, node("ent_bbbbbbbbbbbbbbbb", "t2")))

	nodes, err := s.NodesByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "t1", nodes[0].Metadata.TenantID)

	require.NoError(t, s.ClearTenantData(ctx, "t1"))
	nodes, err = s.NodesByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, nodes)

	nodes, err = s.NodesByTenant(ctx, "t2")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestVectorSearchRanksByCosine(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	recs := []store.VectorRecord{
		{ID: "sem_1", Embedding: []float32{1, 0, 0}, Metadata: envelope("t1")},
		{ID: "sem_2", Embedding: []float32{0, 1, 0}, Metadata: envelope("t1")},
		{ID: "sem_3", Embedding: []float32{0.9, 0.1, 0}, Metadata: envelope("t1")},
	}
	applied, errs := s.UpsertVectorsBatch(ctx, recs)
	require.Empty(t, errs)
	require.Equal(t, 3, applied)

	results, err := s.Search(ctx, []float32{1, 0, 0}, nil, 2, "t1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "sem_1", results[0].ID)
	assert.Equal(t, "sem_3", results[1].ID)
}

func TestVectorSearchFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := envelope("t1")
	b := envelope("t1")
	b.SourceSystem = "gmail"

	_, errs := s.UpsertVectorsBatch(ctx, []store.VectorRecord{
		{ID: "sem_1", Embedding: []float32{1, 0}, Metadata: a},
		{ID: "sem_2", Embedding: []float32{1, 0}, Metadata: b},
	})
	require.Empty(t, errs)

	results, err := s.Search(ctx, []float32{1, 0}, map[string]string{"source_system": "gmail"}, 10, "t1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sem_2", results[0].ID)
}

func TestDeleteVectorsIgnoresMissing(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertVector(ctx, store.VectorRecord{
		ID: "sem_1", Embedding: []float32{1}, Metadata: envelope("t1"),
	}))
	require.NoError(t, s.DeleteVectors(ctx, []string{"sem_1", "sem_missing"}, "t1"))
	require.NoError(t, s.DeleteVectors(ctx, []string{"anything"}, "no_such_namespace"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Namespaces["t1"])
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	err := s.AddNode(ctx, node("ent_aaaaaaaaaaaaaaaa", "t1"))
	assert.ErrorIs(t, err, store.ErrStoreClosed)
}
