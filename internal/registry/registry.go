// Package registry owns the lifecycle of the storage backends.
//
// It hands out singleton store adapters per process, constructed lazily on
// first access under double-checked locking, with bounded connection retries.
// Local mode serves both the graph and vector interfaces from one file-backed
// store; distributed mode dials Neo4j and Qdrant.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/graphcore/internal/config"
	"github.com/fyrsmithlabs/graphcore/internal/logging"
	"github.com/fyrsmithlabs/graphcore/internal/store"
	"github.com/fyrsmithlabs/graphcore/internal/store/localfile"
	"github.com/fyrsmithlabs/graphcore/internal/store/neograph"
	"github.com/fyrsmithlabs/graphcore/internal/store/qdrantvec"
)

var (
	// ErrNotInitialized is returned by accessors before Initialize (or
	// after Cleanup).
	ErrNotInitialized = errors.New("registry not initialized")

	// ErrConnectionExhausted is returned when every connection attempt
	// failed.
	ErrConnectionExhausted = errors.New("connection attempts exhausted")
)

const (
	maxConnectAttempts = 3
	initialBackoff     = time.Second
	defaultHealthTTL   = 30 * time.Second
)

var connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "graphcore",
	Subsystem: "registry",
	Name:      "connect_attempts_total",
	Help:      "Store connection attempts by backend and outcome.",
}, []string{"backend", "outcome"})

// GraphDialer constructs a graph store from config.
type GraphDialer func(ctx context.Context, cfg config.Neo4jConfig, logger *logging.Logger) (store.GraphStore, error)

// VectorDialer constructs a vector store from config.
type VectorDialer func(ctx context.Context, cfg config.QdrantConfig, logger *logging.Logger) (store.VectorStore, error)

// LocalOpener constructs the local-mode file store.
type LocalOpener func(ctx context.Context, dir string, logger *logging.Logger) (*localfile.Store, error)

// Options configures a Registry. Zero-value dialers fall back to the real
// adapters; tests inject fakes.
type Options struct {
	Logger     *logging.Logger
	DialGraph  GraphDialer
	DialVector VectorDialer
	OpenLocal  LocalOpener

	// HealthTTL bounds how long a cached health result is served.
	HealthTTL time.Duration
}

// Registry hands out singleton storage backends.
type Registry struct {
	mu sync.RWMutex

	cfg         *config.Config
	initialized bool

	graph  store.GraphStore
	vector store.VectorStore
	local  *localfile.Store

	dialGraph  GraphDialer
	dialVector VectorDialer
	openLocal  LocalOpener
	logger     *logging.Logger

	// healthMu single-flights cache refreshes so concurrent misses don't
	// each probe the stores.
	healthMu    sync.Mutex
	healthTTL   time.Duration
	healthAt    time.Time
	healthCache map[string]*store.Health
}

// New creates an uninitialized registry.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.DialGraph == nil {
		opts.DialGraph = func(ctx context.Context, cfg config.Neo4jConfig, logger *logging.Logger) (store.GraphStore, error) {
			return neograph.Dial(ctx, cfg, logger)
		}
	}
	if opts.DialVector == nil {
		opts.DialVector = func(ctx context.Context, cfg config.QdrantConfig, logger *logging.Logger) (store.VectorStore, error) {
			return qdrantvec.Dial(ctx, cfg, logger)
		}
	}
	if opts.OpenLocal == nil {
		opts.OpenLocal = localfile.Open
	}
	if opts.HealthTTL <= 0 {
		opts.HealthTTL = defaultHealthTTL
	}
	return &Registry{
		dialGraph:  opts.DialGraph,
		dialVector: opts.DialVector,
		openLocal:  opts.OpenLocal,
		logger:     opts.Logger.Named("registry"),
		healthTTL:  opts.HealthTTL,
	}
}

// Initialize validates the configuration and adopts it, fully replacing any
// prior state: existing store instances are closed, not reused. Unless lazy
// mode is configured, both backends are connected eagerly.
func (r *Registry) Initialize(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	r.mu.Lock()
	r.closeLocked(ctx)
	r.cfg = cfg
	r.initialized = true
	r.healthCache = nil
	lazy := cfg.Backend.Lazy
	r.mu.Unlock()

	r.logger.Info(ctx, "registry initialized",
		zap.String("mode", cfg.Backend.Mode), zap.Bool("lazy", lazy))

	if lazy {
		return nil
	}
	return r.Preload(ctx)
}

// Mode returns the configured deployment mode.
func (r *Registry) Mode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cfg == nil {
		return ""
	}
	return r.cfg.Backend.Mode
}

// IsDistributed reports whether remote backends are in use.
func (r *Registry) IsDistributed() bool {
	return r.Mode() == config.ModeDistributed
}

// GraphStorage returns the process-wide graph store, connecting on first
// access.
func (r *Registry) GraphStorage(ctx context.Context) (store.GraphStore, error) {
	r.mu.RLock()
	if r.graph != nil {
		defer r.mu.RUnlock()
		return r.graph, nil
	}
	initialized := r.initialized
	r.mu.RUnlock()

	if !initialized {
		return nil, ErrNotInitialized
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	if r.graph != nil {
		return r.graph, nil
	}

	if r.cfg.Backend.Mode == config.ModeLocal {
		local, err := r.localLocked(ctx)
		if err != nil {
			return nil, err
		}
		r.graph = local
		return r.graph, nil
	}

	graph, err := connectWithRetry(ctx, r.logger, "graph", func(ctx context.Context) (store.GraphStore, error) {
		return r.dialGraph(ctx, r.cfg.Neo4j, r.logger)
	})
	if err != nil {
		return nil, err
	}
	r.graph = graph
	return r.graph, nil
}

// EmbeddingStorage returns the process-wide vector store, connecting on
// first access.
func (r *Registry) EmbeddingStorage(ctx context.Context) (store.VectorStore, error) {
	r.mu.RLock()
	if r.vector != nil {
		defer r.mu.RUnlock()
		return r.vector, nil
	}
	initialized := r.initialized
	r.mu.RUnlock()

	if !initialized {
		return nil, ErrNotInitialized
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	if r.vector != nil {
		return r.vector, nil
	}

	if r.cfg.Backend.Mode == config.ModeLocal {
		local, err := r.localLocked(ctx)
		if err != nil {
			return nil, err
		}
		r.vector = local
		return r.vector, nil
	}

	vector, err := connectWithRetry(ctx, r.logger, "vector", func(ctx context.Context) (store.VectorStore, error) {
		return r.dialVector(ctx, r.cfg.Qdrant, r.logger)
	})
	if err != nil {
		return nil, err
	}
	r.vector = vector
	return r.vector, nil
}

// localLocked returns the shared local-mode store, opening it once. Caller
// holds the write lock.
func (r *Registry) localLocked(ctx context.Context) (*localfile.Store, error) {
	if r.local != nil {
		return r.local, nil
	}
	local, err := r.openLocal(ctx, r.cfg.Backend.LocalPath, r.logger)
	if err != nil {
		return nil, err
	}
	r.local = local
	return local, nil
}

// connectWithRetry dials with exponential backoff. Attempts are bounded; the
// final error wraps ErrConnectionExhausted with the last dial error.
func connectWithRetry[T any](ctx context.Context, logger *logging.Logger, backend string, dial func(context.Context) (T, error)) (T, error) {
	var zero T
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		s, err := dial(ctx)
		if err == nil {
			connectAttempts.WithLabelValues(backend, "success").Inc()
			return s, nil
		}
		lastErr = err
		connectAttempts.WithLabelValues(backend, "failure").Inc()
		logger.Warn(ctx, "store connection failed",
			zap.String("backend", backend),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < maxConnectAttempts {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return zero, fmt.Errorf("%w: %s after %d attempts: %v",
		ErrConnectionExhausted, backend, maxConnectAttempts, lastErr)
}

// Preload connects every backend the mode requires, so first-request latency
// isn't paid by a caller.
func (r *Registry) Preload(ctx context.Context) error {
	if _, err := r.GraphStorage(ctx); err != nil {
		return fmt.Errorf("preloading graph storage: %w", err)
	}
	if _, err := r.EmbeddingStorage(ctx); err != nil {
		return fmt.Errorf("preloading embedding storage: %w", err)
	}
	return nil
}

// CachedHealthCheck probes every connected backend, serving cached results
// within the TTL so health endpoints don't hammer the stores.
func (r *Registry) CachedHealthCheck(ctx context.Context) (map[string]*store.Health, error) {
	r.mu.RLock()
	if r.healthCache != nil && time.Since(r.healthAt) < r.healthTTL {
		defer r.mu.RUnlock()
		return r.healthCache, nil
	}
	initialized := r.initialized
	r.mu.RUnlock()
	if !initialized {
		return nil, ErrNotInitialized
	}

	// Single-flight the refresh; callers that queued behind the probe get
	// its result from the cache instead of probing again.
	r.healthMu.Lock()
	defer r.healthMu.Unlock()

	r.mu.RLock()
	if r.healthCache != nil && time.Since(r.healthAt) < r.healthTTL {
		cached := r.healthCache
		r.mu.RUnlock()
		return cached, nil
	}
	graph, vector := r.graph, r.vector
	r.mu.RUnlock()

	results := map[string]*store.Health{}
	if graph != nil {
		h, err := graph.HealthCheck(ctx)
		if err != nil && h == nil {
			h = &store.Health{Status: store.StatusUnhealthy, Detail: map[string]any{"error": err.Error()}}
		}
		results["graph"] = h
	}
	if vector != nil {
		h, err := vector.HealthCheck(ctx)
		if err != nil && h == nil {
			h = &store.Health{Status: store.StatusUnhealthy, Detail: map[string]any{"error": err.Error()}}
		}
		results["vector"] = h
	}

	// With no adapter connected yet there is nothing to memoize; caching
	// the empty map would keep serving it for a full TTL after the first
	// connection.
	if graph == nil && vector == nil {
		return results, nil
	}

	r.mu.Lock()
	r.healthCache = results
	r.healthAt = time.Now()
	r.mu.Unlock()
	return results, nil
}

// closeLocked releases the current store instances. Caller holds the write
// lock.
func (r *Registry) closeLocked(ctx context.Context) {
	// In local mode graph and vector alias the same store; close once.
	if r.local != nil {
		if err := r.local.Close(ctx); err != nil {
			r.logger.Warn(ctx, "closing local store", zap.Error(err))
		}
		r.local = nil
		r.graph = nil
		r.vector = nil
		return
	}
	if r.graph != nil {
		if err := r.graph.Close(ctx); err != nil {
			r.logger.Warn(ctx, "closing graph store", zap.Error(err))
		}
		r.graph = nil
	}
	if r.vector != nil {
		if err := r.vector.Close(ctx); err != nil {
			r.logger.Warn(ctx, "closing vector store", zap.Error(err))
		}
		r.vector = nil
	}
}

// Cleanup closes every backend and returns the registry to the
// uninitialized state. Safe to call repeatedly; a later Initialize builds
// fresh instances.
func (r *Registry) Cleanup(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(ctx)
	r.initialized = false
	r.cfg = nil
	r.healthCache = nil
}
