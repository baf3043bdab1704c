// Package neograph implements store.GraphStore over Neo4j.
//
// Node and relationship writes are MERGE-based upserts keyed on the
// content-addressed id, so re-writing identical content dedups instead of
// erroring. Every record is validated against the metadata contract before it
// touches the wire; the adapter fails closed on invalid envelopes.
package neograph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/graphcore/internal/config"
	"github.com/fyrsmithlabs/graphcore/internal/identity"
	"github.com/fyrsmithlabs/graphcore/internal/logging"
	"github.com/fyrsmithlabs/graphcore/internal/store"
)

var tracer = otel.Tracer("graphcore.store.neograph")

// Store is a Neo4j-backed store.GraphStore.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
	batch    int
	logger   *logging.Logger
}

// Dial connects to Neo4j, verifies connectivity and bootstraps constraints
// and indexes. The returned error wraps store.ErrConnectionFailed when the
// server is unreachable, so the registry can distinguish environment faults
// from programmer errors.
func Dial(ctx context.Context, cfg config.Neo4jConfig, logger *logging.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
			c.ConnectionAcquisitionTimeout = cfg.Timeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrConnectionFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("%w: %v", store.ErrConnectionFailed, err)
	}

	s := &Store{
		driver:   driver,
		database: cfg.Database,
		timeout:  cfg.Timeout,
		batch:    cfg.BatchSize,
		logger:   logger.Named("neograph"),
	}

	if err := s.createConstraintsAndIndexes(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}

	s.logger.Info(ctx, "connected to neo4j", zap.String("uri", cfg.URI))
	return s, nil
}

// createConstraintsAndIndexes prepares uniqueness and lookup indexes for the
// envelope fields every query filters on.
func (s *Store) createConstraintsAndIndexes(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT node_id_unique IF NOT EXISTS FOR (n:Node) REQUIRE n.node_id IS UNIQUE",
		"CREATE INDEX tenant_id_index IF NOT EXISTS FOR (n:Node) ON (n.tenant_id)",
		"CREATE INDEX account_id_index IF NOT EXISTS FOR (n:Node) ON (n.account_id)",
		"CREATE INDEX interaction_id_index IF NOT EXISTS FOR (n:Node) ON (n.interaction_id)",
		"CREATE INDEX node_type_index IF NOT EXISTS FOR (n:Node) ON (n.node_type)",
		"CREATE INDEX rel_tenant_id_index IF NOT EXISTS FOR ()-[r:RELATIONSHIP]-() ON (r.tenant_id)",
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			// Enterprise-only constraint syntax can fail on community
			// editions; log and keep going.
			s.logger.Warn(ctx, "schema statement failed",
				zap.String("statement", stmt), zap.Error(err))
		}
	}
	return nil
}

// nodePayload flattens a record into Neo4j properties.
func nodePayload(rec store.NodeRecord) map[string]any {
	props := rec.Metadata.ToMap()
	for k, v := range rec.Properties {
		props[k] = v
	}
	props["node_id"] = rec.ID
	props["node_type"] = rec.Type
	return props
}

// AddNode upserts a single node.
func (s *Store) AddNode(ctx context.Context, rec store.NodeRecord) error {
	ctx, span := tracer.Start(ctx, "neograph.AddNode")
	defer span.End()

	if errs := rec.Metadata.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: node %s: %v", store.ErrInvalidRecord, rec.ID, errs)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	query := `
		MERGE (n:Node {node_id: $node_id})
		SET n += $props
		RETURN n.node_id AS id
	`
	result, err := session.Run(ctx, query, map[string]any{
		"node_id": rec.ID,
		"props":   nodePayload(rec),
	})
	if err != nil {
		return fmt.Errorf("failed to add node %s: %w", rec.ID, err)
	}
	if _, err := result.Single(ctx); err != nil {
		return fmt.Errorf("failed to add node %s: %w", rec.ID, err)
	}
	return nil
}

// AddNodesBatch upserts nodes via UNWIND, batched in configured chunk sizes.
// Rows failing validation are reported per row; they never reach the wire.
func (s *Store) AddNodesBatch(ctx context.Context, recs []store.NodeRecord) (int, []error) {
	ctx, span := tracer.Start(ctx, "neograph.AddNodesBatch")
	defer span.End()

	var errs []error
	valid := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		if verrs := rec.Metadata.Validate(); len(verrs) > 0 {
			errs = append(errs, fmt.Errorf("%w: node %s: %v", store.ErrInvalidRecord, rec.ID, verrs))
			continue
		}
		valid = append(valid, nodePayload(rec))
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	applied := 0
	for start := 0; start < len(valid); start += s.batch {
		end := min(start+s.batch, len(valid))
		chunk := valid[start:end]

		query := `
			UNWIND $nodes AS node
			MERGE (n:Node {node_id: node.node_id})
			SET n += node
			RETURN count(n) AS created
		`
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		result, err := session.Run(runCtx, query, map[string]any{"nodes": chunk})
		if err != nil {
			cancel()
			errs = append(errs, fmt.Errorf("batch starting at %d: %w", start, err))
			continue
		}
		record, err := result.Single(runCtx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("batch starting at %d: %w", start, err))
			continue
		}
		if created, ok := record.Get("created"); ok {
			applied += int(created.(int64))
		}
	}
	return applied, errs
}

// AddRelationship upserts an edge between two existing nodes, deriving its
// content-addressed id from the endpoints, type and tenant.
func (s *Store) AddRelationship(ctx context.Context, rec store.EdgeRecord) error {
	ctx, span := tracer.Start(ctx, "neograph.AddRelationship")
	defer span.End()

	if errs := rec.Metadata.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: relationship %s->%s: %v", store.ErrInvalidRecord, rec.SourceID, rec.TargetID, errs)
	}

	relID, err := identity.GenerateRelationshipID(rec.SourceID, rec.TargetID, rec.Type, rec.Metadata.TenantID)
	if err != nil {
		return fmt.Errorf("relationship %s->%s: %w", rec.SourceID, rec.TargetID, err)
	}

	props := rec.Metadata.ToMap()
	for k, v := range rec.Properties {
		props[k] = v
	}
	props["relationship_id"] = relID
	props["relationship_type"] = rec.Type
	props["source_id"] = rec.SourceID
	props["target_id"] = rec.TargetID

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	query := `
		MATCH (source:Node {node_id: $source_id})
		MATCH (target:Node {node_id: $target_id})
		MERGE (source)-[r:RELATIONSHIP {relationship_id: $relationship_id}]->(target)
		SET r += $props
		RETURN r.relationship_id AS id
	`
	result, err := session.Run(ctx, query, map[string]any{
		"source_id":       rec.SourceID,
		"target_id":       rec.TargetID,
		"relationship_id": relID,
		"props":           props,
	})
	if err != nil {
		return fmt.Errorf("failed to add relationship %s->%s: %w", rec.SourceID, rec.TargetID, err)
	}
	if _, err := result.Single(ctx); err != nil {
		return fmt.Errorf("%w: relationship endpoints %s->%s", store.ErrNodeNotFound, rec.SourceID, rec.TargetID)
	}
	return nil
}

// DeleteNode removes a node and its edges. Missing nodes are not an error;
// transaction compensation depends on idempotent deletes.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "neograph.DeleteNode")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	query := `
		MATCH (n:Node {node_id: $node_id})
		DETACH DELETE n
	`
	if _, err := session.Run(ctx, query, map[string]any{"node_id": id}); err != nil {
		return fmt.Errorf("failed to delete node %s: %w", id, err)
	}
	return nil
}

// NodesByTenant returns every node owned by a tenant.
func (s *Store) NodesByTenant(ctx context.Context, tenantID string) ([]store.NodeRecord, error) {
	ctx, span := tracer.Start(ctx, "neograph.NodesByTenant")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	query := `
		MATCH (n:Node {tenant_id: $tenant_id})
		RETURN n
	`
	result, err := session.Run(ctx, query, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, fmt.Errorf("failed to get nodes for tenant %s: %w", tenantID, err)
	}

	var nodes []store.NodeRecord
	for result.Next(ctx) {
		if n, ok := result.Record().Get("n"); ok {
			nodes = append(nodes, recordFromProps(n.(neo4j.Node).Props))
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to get nodes for tenant %s: %w", tenantID, err)
	}
	return nodes, nil
}

// Subgraph returns the tenant's nodes and relationships with counts,
// optionally narrowed by account or interaction.
func (s *Store) Subgraph(ctx context.Context, tenantID string, filter store.SubgraphFilter) (*store.Subgraph, error) {
	ctx, span := tracer.Start(ctx, "neograph.Subgraph")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where := []string{"n.tenant_id = $tenant_id"}
	params := map[string]any{"tenant_id": tenantID}
	if filter.AccountID != "" {
		where = append(where, "n.account_id = $account_id")
		params["account_id"] = filter.AccountID
	}
	if filter.InteractionID != "" {
		where = append(where, "n.interaction_id = $interaction_id")
		params["interaction_id"] = filter.InteractionID
	}
	nodeWhere := strings.Join(where, " AND ")
	targetWhere := strings.ReplaceAll(nodeWhere, "n.", "m.")

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (n:Node)
		WHERE %s
		OPTIONAL MATCH (n)-[r:RELATIONSHIP]->(m:Node)
		WHERE %s
		RETURN n, r, m
	`, nodeWhere, targetWhere)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get subgraph for tenant %s: %w", tenantID, err)
	}

	nodes := map[string]store.NodeRecord{}
	seenRels := map[string]bool{}
	var rels []store.EdgeRecord

	for result.Next(ctx) {
		rec := result.Record()
		if n, ok := rec.Get("n"); ok && n != nil {
			node := recordFromProps(n.(neo4j.Node).Props)
			nodes[node.ID] = node
		}
		r, hasRel := rec.Get("r")
		m, hasTarget := rec.Get("m")
		if hasRel && r != nil && hasTarget && m != nil {
			rel := r.(neo4j.Relationship)
			relID, _ := rel.Props["relationship_id"].(string)
			if relID != "" && !seenRels[relID] {
				seenRels[relID] = true
				rels = append(rels, edgeFromProps(rel.Props))
			}
			target := recordFromProps(m.(neo4j.Node).Props)
			nodes[target.ID] = target
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to get subgraph for tenant %s: %w", tenantID, err)
	}

	sub := &store.Subgraph{Relationships: rels}
	for _, n := range nodes {
		sub.Nodes = append(sub.Nodes, n)
	}
	sub.NodeCount = len(sub.Nodes)
	sub.RelationshipCount = len(rels)
	return sub, nil
}

// ClearTenantData removes every node and relationship of a tenant.
func (s *Store) ClearTenantData(ctx context.Context, tenantID string) error {
	ctx, span := tracer.Start(ctx, "neograph.ClearTenantData")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	query := `
		MATCH (n:Node {tenant_id: $tenant_id})
		DETACH DELETE n
	`
	if _, err := session.Run(ctx, query, map[string]any{"tenant_id": tenantID}); err != nil {
		return fmt.Errorf("failed to clear data for tenant %s: %w", tenantID, err)
	}
	s.logger.Info(ctx, "cleared tenant data", zap.String("tenant_id", tenantID))
	return nil
}

// HealthCheck runs a trivial query and reports latency.
func (s *Store) HealthCheck(ctx context.Context) (*store.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	start := time.Now()
	result, err := session.Run(ctx, "RETURN 1 AS ok", nil)
	if err == nil {
		_, err = result.Consume(ctx)
	}
	latency := time.Since(start)

	if err != nil {
		return &store.Health{
			Status:  store.StatusUnhealthy,
			Latency: latency,
			Detail:  map[string]any{"error": err.Error(), "database": s.database},
		}, err
	}
	return &store.Health{
		Status:  store.StatusHealthy,
		Latency: latency,
		Detail:  map[string]any{"database": s.database},
	}, nil
}

// Close shuts down the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// recordFromProps rebuilds a NodeRecord from stored properties. Envelope
// fields are lifted back out; everything else lands in Properties.
func recordFromProps(props map[string]any) store.NodeRecord {
	rec := store.NodeRecord{Properties: map[string]any{}}
	for k, v := range props {
		s, _ := v.(string)
		switch k {
		case "node_id":
			rec.ID = s
		case "node_type":
			rec.Type = s
			rec.Metadata.NodeType = s
		case "tenant_id":
			rec.Metadata.TenantID = s
		case "interaction_id":
			rec.Metadata.InteractionID = s
		case "interaction_type":
			rec.Metadata.InteractionType = s
		case "text":
			rec.Metadata.Text = s
		case "account_id":
			rec.Metadata.AccountID = s
		case "timestamp":
			rec.Metadata.Timestamp = s
		case "user_id":
			rec.Metadata.UserID = s
		case "source_system":
			rec.Metadata.SourceSystem = s
		case "node_hash_id":
			rec.Metadata.NodeHashID = s
		case "created_at":
			rec.Metadata.CreatedAt = s
		case "interaction_ids":
			rec.Metadata.InteractionIDs = toStrings(v)
		case "user_ids":
			rec.Metadata.UserIDs = toStrings(v)
		default:
			rec.Properties[k] = v
		}
	}
	return rec
}

// edgeFromProps rebuilds an EdgeRecord from stored relationship properties.
func edgeFromProps(props map[string]any) store.EdgeRecord {
	rec := store.EdgeRecord{Properties: map[string]any{}}
	for k, v := range props {
		s, _ := v.(string)
		switch k {
		case "relationship_type":
			rec.Type = s
		case "source_id":
			rec.SourceID = s
		case "target_id":
			rec.TargetID = s
		case "tenant_id":
			rec.Metadata.TenantID = s
		case "interaction_id":
			rec.Metadata.InteractionID = s
		case "interaction_type":
			rec.Metadata.InteractionType = s
		case "account_id":
			rec.Metadata.AccountID = s
		case "timestamp":
			rec.Metadata.Timestamp = s
		case "user_id":
			rec.Metadata.UserID = s
		case "source_system":
			rec.Metadata.SourceSystem = s
		default:
			rec.Properties[k] = v
		}
	}
	return rec
}

func toStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Interface guard.
var _ store.GraphStore = (*Store)(nil)
