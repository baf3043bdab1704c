package registry

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/graphcore/internal/config"
	"github.com/fyrsmithlabs/graphcore/internal/logging"
	"github.com/fyrsmithlabs/graphcore/internal/store"
	"github.com/fyrsmithlabs/graphcore/internal/store/storetest"
)

func distributedConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Backend.Mode = config.ModeDistributed
	cfg.Backend.Lazy = true
	cfg.Neo4j.URI = "bolt://localhost:7687"
	cfg.Neo4j.Username = "neo4j"
	cfg.Neo4j.Password = "secret"
	cfg.Neo4j.Database = "neo4j"
	cfg.Qdrant.Host = "localhost"
	cfg.Qdrant.Port = 6334
	cfg.Qdrant.VectorSize = 3
	return cfg
}

func localConfig(t *testing.T) *config.Config {
	cfg := &config.Config{}
	cfg.Backend.Mode = config.ModeLocal
	cfg.Backend.Lazy = true
	cfg.Backend.LocalPath = t.TempDir()
	return cfg
}

// fakeDialers returns a registry wired to in-memory doubles, counting how
// many store instances were actually constructed.
func fakeDialers(graphDials, vectorDials *atomic.Int32) Options {
	return Options{
		Logger: logging.NewNop(),
		DialGraph: func(ctx context.Context, cfg config.Neo4jConfig, logger *logging.Logger) (store.GraphStore, error) {
			graphDials.Add(1)
			return storetest.NewGraphStore(), nil
		},
		DialVector: func(ctx context.Context, cfg config.QdrantConfig, logger *logging.Logger) (store.VectorStore, error) {
			vectorDials.Add(1)
			return storetest.NewVectorStore(), nil
		},
	}
}

func TestAccessBeforeInitialize(t *testing.T) {
	r := New(Options{Logger: logging.NewNop()})

	_, err := r.GraphStorage(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = r.EmbeddingStorage(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = r.CachedHealthCheck(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSingletonUnderConcurrency(t *testing.T) {
	var graphDials, vectorDials atomic.Int32
	r := New(fakeDialers(&graphDials, &vectorDials))
	require.NoError(t, r.Initialize(context.Background(), distributedConfig()))

	const callers = 32
	stores := make([]store.GraphStore, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stores[i], errs[i] = r.GraphStorage(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, int32(1), graphDials.Load())
	for i := 1; i < callers; i++ {
		assert.Same(t, stores[0], stores[i])
	}
}

func TestInitializeEagerConnects(t *testing.T) {
	var graphDials, vectorDials atomic.Int32
	r := New(fakeDialers(&graphDials, &vectorDials))

	cfg := distributedConfig()
	cfg.Backend.Lazy = false
	require.NoError(t, r.Initialize(context.Background(), cfg))

	assert.Equal(t, int32(1), graphDials.Load())
	assert.Equal(t, int32(1), vectorDials.Load())
}

func TestConnectionExhausted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping backoff test in short mode")
	}

	var dials atomic.Int32
	r := New(Options{
		Logger: logging.NewNop(),
		DialGraph: func(ctx context.Context, cfg config.Neo4jConfig, logger *logging.Logger) (store.GraphStore, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		},
		DialVector: func(ctx context.Context, cfg config.QdrantConfig, logger *logging.Logger) (store.VectorStore, error) {
			return storetest.NewVectorStore(), nil
		},
	})
	require.NoError(t, r.Initialize(context.Background(), distributedConfig()))

	_, err := r.GraphStorage(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionExhausted)
	assert.Equal(t, int32(3), dials.Load())
}

func TestLocalModeSharesOneStore(t *testing.T) {
	r := New(Options{Logger: logging.NewNop()})
	require.NoError(t, r.Initialize(context.Background(), localConfig(t)))
	defer r.Cleanup(context.Background())

	graph, err := r.GraphStorage(context.Background())
	require.NoError(t, err)
	vector, err := r.EmbeddingStorage(context.Background())
	require.NoError(t, err)

	// Both interfaces are served by the same local file store.
	assert.Same(t, graph, vector)
	assert.False(t, r.IsDistributed())
	assert.Equal(t, config.ModeLocal, r.Mode())
}

func TestCleanupThenReinitializeBuildsFreshInstance(t *testing.T) {
	var graphDials, vectorDials atomic.Int32
	r := New(fakeDialers(&graphDials, &vectorDials))
	ctx := context.Background()

	require.NoError(t, r.Initialize(ctx, distributedConfig()))
	first, err := r.GraphStorage(ctx)
	require.NoError(t, err)

	r.Cleanup(ctx)
	r.Cleanup(ctx) // idempotent

	_, err = r.GraphStorage(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, r.Initialize(ctx, distributedConfig()))
	second, err := r.GraphStorage(ctx)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), graphDials.Load())
}

func TestCachedHealthCheck(t *testing.T) {
	var graphDials, vectorDials atomic.Int32
	opts := fakeDialers(&graphDials, &vectorDials)
	opts.HealthTTL = time.Hour

	r := New(opts)
	ctx := context.Background()
	cfg := distributedConfig()
	cfg.Backend.Lazy = false
	require.NoError(t, r.Initialize(ctx, cfg))

	first, err := r.CachedHealthCheck(ctx)
	require.NoError(t, err)
	require.Contains(t, first, "graph")
	require.Contains(t, first, "vector")
	assert.Equal(t, store.StatusHealthy, first["graph"].Status)

	// Within the TTL the same map instance is served without re-probing.
	second, err := r.CachedHealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer())
}

func TestCachedHealthCheckBeforeLazyConnect(t *testing.T) {
	var graphDials, vectorDials atomic.Int32
	opts := fakeDialers(&graphDials, &vectorDials)
	opts.HealthTTL = time.Hour

	r := New(opts)
	ctx := context.Background()
	require.NoError(t, r.Initialize(ctx, distributedConfig()))

	// No adapter connected yet: empty, and not cached.
	empty, err := r.CachedHealthCheck(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, r.Preload(ctx))

	// The next probe must see the freshly connected stores, TTL or not.
	results, err := r.CachedHealthCheck(ctx)
	require.NoError(t, err)
	require.Contains(t, results, "graph")
	require.Contains(t, results, "vector")
}

// countingHealthGraph wraps the in-memory graph store to count probes.
type countingHealthGraph struct {
	*storetest.GraphStore
	probes atomic.Int32
}

func (c *countingHealthGraph) HealthCheck(ctx context.Context) (*store.Health, error) {
	c.probes.Add(1)
	return c.GraphStore.HealthCheck(ctx)
}

func TestCachedHealthCheckSingleFlight(t *testing.T) {
	graph := &countingHealthGraph{GraphStore: storetest.NewGraphStore()}
	r := New(Options{
		Logger: logging.NewNop(),
		DialGraph: func(ctx context.Context, cfg config.Neo4jConfig, logger *logging.Logger) (store.GraphStore, error) {
			return graph, nil
		},
		DialVector: func(ctx context.Context, cfg config.QdrantConfig, logger *logging.Logger) (store.VectorStore, error) {
			return storetest.NewVectorStore(), nil
		},
		HealthTTL: time.Hour,
	})
	ctx := context.Background()
	cfg := distributedConfig()
	cfg.Backend.Lazy = false
	require.NoError(t, r.Initialize(ctx, cfg))

	const callers = 16
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.CachedHealthCheck(ctx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, int32(1), graph.probes.Load())
}
