// Package transaction coordinates paired writes across the graph and vector
// stores.
//
// Neither backend speaks two-phase commit, so atomicity is compensation
// based: the graph write lands first, then the vector write; when a later
// step fails, every executed step is undone in reverse order. Compensation
// runs on a context detached from the caller's cancellation so a timed-out
// request can never strand half a write.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/graphcore/internal/logging"
	"github.com/fyrsmithlabs/graphcore/internal/registry"
	"github.com/fyrsmithlabs/graphcore/internal/store"
	"github.com/fyrsmithlabs/graphcore/internal/tenant"
)

var tracer = otel.Tracer("graphcore.transaction")

// Transaction states. PARTIALLY_APPLIED marks the window between the graph
// write landing and the vector write committing; a transaction observed in it
// holds exactly one store's data.
const (
	StateInitiated        = "INITIATED"
	StatePartiallyApplied = "PARTIALLY_APPLIED"
	StateCommitted        = "COMMITTED"
	StateRolledBack       = "ROLLED_BACK"
	StateFailed           = "FAILED"
)

// ErrValidation is returned when a request fails the metadata contract
// before any store was touched.
var ErrValidation = errors.New("transaction validation failed")

var (
	txTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphcore",
		Subsystem: "transaction",
		Name:      "total",
		Help:      "Transactions by terminal state.",
	}, []string{"state"})

	txDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "graphcore",
		Subsystem: "transaction",
		Name:      "duration_seconds",
		Help:      "Transaction duration from begin to terminal state.",
		Buckets:   prometheus.DefBuckets,
	})

	compensationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "graphcore",
		Subsystem: "transaction",
		Name:      "compensation_failures_total",
		Help:      "Compensating actions that themselves failed.",
	})
)

// Request is a node plus its optional embedding.
type Request struct {
	Node      store.NodeRecord
	Embedding []float32

	// Namespace overrides the vector partition; defaults to the tenant.
	Namespace string
}

// Status describes one transaction for the active table and results.
type Status struct {
	ID        string
	State     string
	StartedAt time.Time
	NodeIDs   []string
}

// BatchResult reports a batch transaction's outcome. RowErrors carry
// per-row rejections; they do not make the transaction fail.
type BatchResult struct {
	TxID          string
	GraphApplied  int
	VectorApplied int
	RowErrors     []error
}

// compensation undoes one executed step.
type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// Manager coordinates graph-then-vector writes with compensating rollback.
type Manager struct {
	reg    *registry.Registry
	logger *logging.Logger
	audit  *auditLog

	mu     sync.Mutex
	active map[string]*Status

	committed  atomic.Uint64
	rolledBack atomic.Uint64
	failed     atomic.Uint64
}

// NewManager creates a manager over the registry's stores.
func NewManager(reg *registry.Registry, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		reg:    reg,
		logger: logger.Named("transaction"),
		audit:  newAuditLog(),
		active: map[string]*Status{},
	}
}

// begin registers a transaction in the active table and audit log.
func (m *Manager) begin(nodeIDs []string) *Status {
	st := &Status{
		ID:        "txn_" + uuid.NewString(),
		State:     StateInitiated,
		StartedAt: time.Now().UTC(),
		NodeIDs:   nodeIDs,
	}
	m.mu.Lock()
	m.active[st.ID] = st
	m.mu.Unlock()
	m.audit.record(st.ID, EventBegin, fmt.Sprintf("nodes=%d", len(nodeIDs)))
	return st
}

// markApplied flags the window where the graph write has landed but the
// vector write has not, so the active table reflects what a crash would leave
// behind.
func (m *Manager) markApplied(st *Status) {
	m.mu.Lock()
	st.State = StatePartiallyApplied
	m.mu.Unlock()
}

// finish moves a transaction to its terminal state.
func (m *Manager) finish(st *Status, state, event, detail string) {
	m.mu.Lock()
	st.State = state
	delete(m.active, st.ID)
	m.mu.Unlock()
	if event != "" {
		m.audit.record(st.ID, event, detail)
	}
	switch state {
	case StateCommitted:
		m.committed.Add(1)
	case StateRolledBack:
		m.rolledBack.Add(1)
	case StateFailed:
		m.failed.Add(1)
	}
	txTotal.WithLabelValues(state).Inc()
	txDuration.Observe(time.Since(st.StartedAt).Seconds())
}

// rollback undoes executed steps in reverse order. It runs detached from the
// caller's cancellation; compensation failures are logged and counted, never
// escalated, because the original error is what the caller needs to see. A
// transaction whose compensation did not fully apply lands in FAILED rather
// than ROLLED_BACK so operators can find it in the audit log.
func (m *Manager) rollback(ctx context.Context, st *Status, comps []compensation, cause error) {
	ctx = context.WithoutCancel(ctx)
	undone := true
	for i := len(comps) - 1; i >= 0; i-- {
		if err := comps[i].undo(ctx); err != nil {
			undone = false
			compensationFailures.Inc()
			m.logger.Error(ctx, "compensation failed",
				zap.String("tx_id", st.ID),
				zap.String("step", comps[i].name),
				zap.Error(err))
		}
	}
	state := StateRolledBack
	if !undone {
		state = StateFailed
	}
	m.finish(st, state, EventRollback, cause.Error())
}

// AddNodeWithEmbedding writes a node to the graph store and its embedding to
// the vector store as one atomic unit. In local mode the vector step is
// skipped.
func (m *Manager) AddNodeWithEmbedding(ctx context.Context, req Request) (*Status, error) {
	ctx, span := tracer.Start(ctx, "transaction.AddNodeWithEmbedding")
	defer span.End()
	span.SetAttributes(attribute.String("node_id", req.Node.ID))

	if err := tenant.ValidateAccess(ctx, req.Node.Metadata.TenantID); err != nil {
		return nil, err
	}
	if errs := req.Node.Metadata.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: node %s: %v", ErrValidation, req.Node.ID, errs)
	}

	graph, err := m.reg.GraphStorage(ctx)
	if err != nil {
		return nil, err
	}

	st := m.begin([]string{req.Node.ID})
	span.SetAttributes(attribute.String("tx_id", st.ID))
	var comps []compensation

	if err := graph.AddNode(ctx, req.Node); err != nil {
		m.rollback(ctx, st, comps, err)
		return st, fmt.Errorf("graph write for node %s: %w", req.Node.ID, err)
	}
	comps = append(comps, compensation{
		name: "delete_node",
		undo: func(ctx context.Context) error { return graph.DeleteNode(ctx, req.Node.ID) },
	})
	m.markApplied(st)

	if m.reg.IsDistributed() && len(req.Embedding) > 0 {
		vector, err := m.reg.EmbeddingStorage(ctx)
		if err != nil {
			m.rollback(ctx, st, comps, err)
			return st, err
		}

		rec := store.VectorRecord{
			ID:        req.Node.ID,
			Embedding: req.Embedding,
			Metadata:  req.Node.Metadata,
			Namespace: req.Namespace,
		}
		if err := vector.UpsertVector(ctx, rec); err != nil {
			m.rollback(ctx, st, comps, err)
			return st, fmt.Errorf("vector write for node %s: %w", req.Node.ID, err)
		}
	}

	m.finish(st, StateCommitted, EventCommit, req.Node.ID)
	return st, nil
}

// AddNodesBatch writes a batch as one graph-level call and one vector-level
// call. Per-row validation errors are reported in the result and do not fail
// the transaction; a vector phase that applies nothing rolls the graph
// writes back.
func (m *Manager) AddNodesBatch(ctx context.Context, reqs []Request) (*BatchResult, error) {
	ctx, span := tracer.Start(ctx, "transaction.AddNodesBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("request_count", len(reqs)))

	if len(reqs) == 0 {
		return &BatchResult{}, nil
	}

	graph, err := m.reg.GraphStorage(ctx)
	if err != nil {
		return nil, err
	}

	// Rows failing the metadata contract never reach a store; they are
	// reported per row and excluded from both batch calls.
	result := &BatchResult{}
	var nodes []store.NodeRecord
	var ids []string
	valid := make([]Request, 0, len(reqs))
	for _, req := range reqs {
		if err := tenant.ValidateAccess(ctx, req.Node.Metadata.TenantID); err != nil {
			result.RowErrors = append(result.RowErrors, err)
			continue
		}
		if errs := req.Node.Metadata.Validate(); len(errs) > 0 {
			result.RowErrors = append(result.RowErrors,
				fmt.Errorf("%w: node %s: %v", ErrValidation, req.Node.ID, errs))
			continue
		}
		valid = append(valid, req)
		nodes = append(nodes, req.Node)
		ids = append(ids, req.Node.ID)
	}
	if len(valid) == 0 {
		return result, fmt.Errorf("%w: no valid rows in batch", ErrValidation)
	}

	st := m.begin(ids)
	span.SetAttributes(attribute.String("tx_id", st.ID))
	result.TxID = st.ID
	var comps []compensation

	applied, rowErrs := graph.AddNodesBatch(ctx, nodes)
	result.GraphApplied = applied
	result.RowErrors = append(result.RowErrors, rowErrs...)
	if applied == 0 && len(rowErrs) > 0 {
		err := fmt.Errorf("graph batch applied nothing: %w", errors.Join(rowErrs...))
		m.rollback(ctx, st, comps, err)
		return result, err
	}
	comps = append(comps, compensation{
		name: "delete_nodes",
		undo: func(ctx context.Context) error {
			var errs []error
			for _, id := range ids {
				if err := graph.DeleteNode(ctx, id); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	})
	m.markApplied(st)

	if m.reg.IsDistributed() {
		var vectors []store.VectorRecord
		for _, req := range valid {
			if len(req.Embedding) == 0 {
				continue
			}
			vectors = append(vectors, store.VectorRecord{
				ID:        req.Node.ID,
				Embedding: req.Embedding,
				Metadata:  req.Node.Metadata,
				Namespace: req.Namespace,
			})
		}

		if len(vectors) > 0 {
			vector, err := m.reg.EmbeddingStorage(ctx)
			if err != nil {
				m.rollback(ctx, st, comps, err)
				return result, err
			}

			vApplied, vErrs := vector.UpsertVectorsBatch(ctx, vectors)
			result.VectorApplied = vApplied
			result.RowErrors = append(result.RowErrors, vErrs...)
			if vApplied == 0 && len(vErrs) > 0 {
				err := fmt.Errorf("vector batch applied nothing: %w", errors.Join(vErrs...))
				m.rollback(ctx, st, comps, err)
				return result, err
			}
		}
	}

	m.finish(st, StateCommitted, EventCommit, fmt.Sprintf("nodes=%d", applied))
	return result, nil
}

// ActiveTransactions returns a snapshot of transactions still in flight.
func (m *Manager) ActiveTransactions() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.active))
	for _, st := range m.active {
		out = append(out, *st)
	}
	return out
}

// AuditLog returns the retained events, oldest first.
func (m *Manager) AuditLog() []Event {
	return m.audit.snapshot()
}

// HealthReport combines the stores' liveness with the manager's transaction
// counters.
type HealthReport struct {
	Stores             map[string]*store.Health
	ActiveTransactions int
	Committed          uint64
	RolledBack         uint64
	Failed             uint64
}

// Health reports backend health through the registry's memoized probe, plus
// the in-flight and terminal transaction counts.
func (m *Manager) Health(ctx context.Context) (*HealthReport, error) {
	stores, err := m.reg.CachedHealthCheck(ctx)

	m.mu.Lock()
	active := len(m.active)
	m.mu.Unlock()

	return &HealthReport{
		Stores:             stores,
		ActiveTransactions: active,
		Committed:          m.committed.Load(),
		RolledBack:         m.rolledBack.Load(),
		Failed:             m.failed.Load(),
	}, err
}
