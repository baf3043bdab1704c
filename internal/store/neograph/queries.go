package neograph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fyrsmithlabs/graphcore/internal/identity"
	"github.com/fyrsmithlabs/graphcore/internal/store"
)

// AddRelationshipsBatch upserts edges via UNWIND. Rows with invalid metadata
// or missing id components are reported per row and skipped.
func (s *Store) AddRelationshipsBatch(ctx context.Context, recs []store.EdgeRecord) (int, []error) {
	ctx, span := tracer.Start(ctx, "neograph.AddRelationshipsBatch")
	defer span.End()

	var errs []error
	valid := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		if verrs := rec.Metadata.Validate(); len(verrs) > 0 {
			errs = append(errs, fmt.Errorf("%w: relationship %s->%s: %v", store.ErrInvalidRecord, rec.SourceID, rec.TargetID, verrs))
			continue
		}
		relID, err := identity.GenerateRelationshipID(rec.SourceID, rec.TargetID, rec.Type, rec.Metadata.TenantID)
		if err != nil {
			errs = append(errs, fmt.Errorf("relationship %s->%s: %w", rec.SourceID, rec.TargetID, err))
			continue
		}
		props := rec.Metadata.ToMap()
		for k, v := range rec.Properties {
			props[k] = v
		}
		props["relationship_id"] = relID
		props["relationship_type"] = rec.Type
		props["source_id"] = rec.SourceID
		props["target_id"] = rec.TargetID
		valid = append(valid, props)
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
			UNWIND $rels AS rel
			MATCH (source:Node {node_id: rel.source_id})
			MATCH (target:Node {node_id: rel.target_id})
			MERGE (source)-[r:RELATIONSHIP {relationship_id: rel.relationship_id}]->(target)
			SET r += rel
			RETURN count(r) AS created
		`
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		result, err := session.Run(runCtx, query, map[string]any{"rels": chunk})
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

// NodesByMetadata returns a tenant's nodes matching exact-value property
// filters, e.g. {"node_type": "entity", "account_id": "acc_..."}.
func (s *Store) NodesByMetadata(ctx context.Context, tenantID string, filters map[string]any) ([]store.NodeRecord, error) {
	ctx, span := tracer.Start(ctx, "neograph.NodesByMetadata")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := map[string]any{"tenant_id": tenantID}
	query := "MATCH (n:Node {tenant_id: $tenant_id}) WHERE true"
	i := 0
	for k, v := range filters {
		param := fmt.Sprintf("f%d", i)
		query += fmt.Sprintf(" AND n[$k%d] = $%s", i, param)
		params[fmt.Sprintf("k%d", i)] = k
		params[param] = v
		i++
	}
	query += " RETURN n"

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes for tenant %s: %w", tenantID, err)
	}

	var nodes []store.NodeRecord
	for result.Next(ctx) {
		if n, ok := result.Record().Get("n"); ok {
			nodes = append(nodes, recordFromProps(n.(neo4j.Node).Props))
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to query nodes for tenant %s: %w", tenantID, err)
	}
	return nodes, nil
}

// Statistics reports node and relationship counts for a tenant, broken down
// by node type.
func (s *Store) Statistics(ctx context.Context, tenantID string) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "neograph.Statistics")
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
		OPTIONAL MATCH (n)-[r:RELATIONSHIP]->()
		RETURN n.node_type AS node_type, count(DISTINCT n) AS nodes, count(r) AS rels
	`
	result, err := session.Run(ctx, query, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics for tenant %s: %w", tenantID, err)
	}

	byType := map[string]int64{}
	var totalNodes, totalRels int64
	for result.Next(ctx) {
		rec := result.Record()
		nodeType, _ := rec.Get("node_type")
		nodes, _ := rec.Get("nodes")
		rels, _ := rec.Get("rels")

		n, _ := nodes.(int64)
		r, _ := rels.(int64)
		totalNodes += n
		totalRels += r
		if t, ok := nodeType.(string); ok && t != "" {
			byType[t] += n
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to get statistics for tenant %s: %w", tenantID, err)
	}

	return map[string]any{
		"tenant_id":          tenantID,
		"node_count":         totalNodes,
		"relationship_count": totalRels,
		"nodes_by_type":      byType,
	}, nil
}
