// Package qdrantvec implements store.VectorStore over Qdrant's native gRPC
// client.
//
// Each tenant namespace maps to its own Qdrant collection, created on first
// write. The gRPC transport avoids the HTTP layer's payload limits, which
// matters for large interaction batches.
package qdrantvec

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/graphcore/internal/config"
	"github.com/fyrsmithlabs/graphcore/internal/logging"
	"github.com/fyrsmithlabs/graphcore/internal/store"
)

var tracer = otel.Tracer("graphcore.store.qdrantvec")

// namespacePattern validates namespace/collection names: lowercase letters,
// numbers, underscores, 1-64 characters. Rejects path traversal and spaces.
var namespacePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ErrInvalidNamespace is returned for namespaces failing the naming rules.
var ErrInvalidNamespace = fmt.Errorf("invalid namespace")

// ValidateNamespace checks a namespace against the collection naming rules.
func ValidateNamespace(name string) error {
	if name == "" {
		return fmt.Errorf("%w: namespace cannot be empty", ErrInvalidNamespace)
	}
	if !namespacePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidNamespace, name)
	}
	return nil
}

// isTransient reports whether a gRPC error is worth retrying.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// grpcAPI is the slice of the Qdrant client the store uses. Narrowing it to
// an interface lets tests swap in a fake without a running server.
type grpcAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	ListCollections(ctx context.Context) ([]string, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Store is a Qdrant-backed store.VectorStore.
type Store struct {
	client     grpcAPI
	vectorSize uint64
	retries    int
	backoff    time.Duration
	logger     *logging.Logger

	// collections caches collection existence so upserts don't probe
	// Qdrant on every call.
	collections sync.Map
}

// Dial connects to Qdrant over gRPC and verifies the server is reachable.
func Dial(ctx context.Context, cfg config.QdrantConfig, logger *logging.Logger) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrConnectionFailed, err)
	}

	s := &Store{
		client:     client,
		vectorSize: cfg.VectorSize,
		retries:    3,
		backoff:    time.Second,
		logger:     logger.Named("qdrantvec"),
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrConnectionFailed, err)
	}

	if !cfg.UseTLS {
		s.logger.Warn(ctx, "qdrant grpc using plaintext, insecure for production")
	}
	s.logger.Info(ctx, "connected to qdrant",
		zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return s, nil
}

// retry runs op with exponential backoff on transient gRPC errors.
func (s *Store) retry(ctx context.Context, name string, op func() error) error {
	backoff := s.backoff
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !isTransient(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt < s.retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, s.retries+1, err)
}

// ensureCollection creates the namespace's collection if it doesn't exist.
func (s *Store) ensureCollection(ctx context.Context, namespace string) error {
	if _, ok := s.collections.Load(namespace); ok {
		return nil
	}
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", namespace, err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: namespace,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", namespace, err)
		}
		s.logger.Info(ctx, "created collection", zap.String("namespace", namespace))
	}
	s.collections.Store(namespace, true)
	return nil
}

// toPoint converts a validated record into a Qdrant point. The
// content-addressed id is preserved in payload["id"]; the Qdrant point id is
// a UUID derived from it so re-upserts stay idempotent.
func toPoint(rec store.VectorRecord) *qdrant.PointStruct {
	payload := map[string]*qdrant.Value{
		"id": stringValue(rec.ID),
	}
	for k, v := range rec.Metadata.ToMap() {
		switch val := v.(type) {
		case string:
			payload[k] = stringValue(val)
		case []string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: stringList(val)}}
		}
	}
	for k, v := range rec.Extra {
		switch val := v.(type) {
		case string:
			payload[k] = stringValue(val)
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		}
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(rec.ID)).String()),
		Vectors: qdrant.NewVectors(rec.Embedding...),
		Payload: payload,
	}
}

func stringValue(v string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
}

func stringList(vals []string) *qdrant.ListValue {
	list := make([]*qdrant.Value, len(vals))
	for i, v := range vals {
		list[i] = stringValue(v)
	}
	return &qdrant.ListValue{Values: list}
}

// namespaceFor resolves the record's partition, defaulting to the tenant.
func namespaceFor(rec store.VectorRecord) string {
	if rec.Namespace != "" {
		return rec.Namespace
	}
	return rec.Metadata.TenantID
}

// validateRecord applies the contract checks shared by single and batch
// upserts.
func (s *Store) validateRecord(rec store.VectorRecord) error {
	if errs := rec.Metadata.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: vector %s: %v", store.ErrInvalidRecord, rec.ID, errs)
	}
	if uint64(len(rec.Embedding)) != s.vectorSize {
		return fmt.Errorf("%w: vector %s: dimension %d, want %d",
			store.ErrInvalidRecord, rec.ID, len(rec.Embedding), s.vectorSize)
	}
	return nil
}

// UpsertVector writes one embedding into its namespace's collection.
func (s *Store) UpsertVector(ctx context.Context, rec store.VectorRecord) error {
	ctx, span := tracer.Start(ctx, "qdrantvec.UpsertVector")
	defer span.End()

	if err := s.validateRecord(rec); err != nil {
		return err
	}
	namespace := namespaceFor(rec)
	if err := s.ensureCollection(ctx, namespace); err != nil {
		return err
	}

	// No retry here: a failed upsert inside a transaction is compensated by
	// the caller, never re-attempted against the store.
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: namespace,
		Points:         []*qdrant.PointStruct{toPoint(rec)},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting vector %s: %w", rec.ID, err)
	}
	return nil
}

// UpsertVectorsBatch writes embeddings grouped by namespace, one Upsert call
// per namespace. Rows failing validation are reported per row.
func (s *Store) UpsertVectorsBatch(ctx context.Context, recs []store.VectorRecord) (int, []error) {
	ctx, span := tracer.Start(ctx, "qdrantvec.UpsertVectorsBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("record_count", len(recs)))

	var errs []error
	grouped := map[string][]*qdrant.PointStruct{}
	for _, rec := range recs {
		if err := s.validateRecord(rec); err != nil {
			errs = append(errs, err)
			continue
		}
		ns := namespaceFor(rec)
		grouped[ns] = append(grouped[ns], toPoint(rec))
	}

	applied := 0
	for namespace, points := range grouped {
		if err := s.ensureCollection(ctx, namespace); err != nil {
			errs = append(errs, err)
			continue
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: namespace,
			Points:         points,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("namespace %s: %w", namespace, err))
			continue
		}
		applied += len(points)
	}
	return applied, errs
}

// Search returns the topK nearest vectors in a namespace, narrowed by exact
// payload matches.
func (s *Store) Search(ctx context.Context, embedding []float32, filters map[string]string, topK int, namespace string) ([]store.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "qdrantvec.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	)

	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	var filter *qdrant.Filter
	if len(filters) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filters))
		for k, v := range filters {
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: k,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: v},
						},
					},
				},
			})
		}
		filter = &qdrant.Filter{Must: conditions}
	}

	var points []*qdrant.ScoredPoint
	err := s.retry(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: namespace,
			Query:          qdrant.NewQuery(embedding...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching namespace %s: %w", namespace, err)
	}

	results := make([]store.SearchResult, 0, len(points))
	for _, point := range points {
		result := store.SearchResult{
			Score:    point.Score,
			Metadata: map[string]any{},
		}
		for k, v := range point.Payload {
			if k == "id" {
				result.ID = v.GetStringValue()
				continue
			}
			result.Metadata[k] = payloadValue(v)
		}
		results = append(results, result)
	}
	return results, nil
}

// DeleteVectors removes vectors by their content-addressed ids. Missing ids
// are ignored.
func (s *Store) DeleteVectors(ctx context.Context, ids []string, namespace string) error {
	ctx, span := tracer.Start(ctx, "qdrantvec.DeleteVectors")
	defer span.End()
	span.SetAttributes(
		attribute.Int("id_count", len(ids)),
		attribute.String("namespace", namespace),
	)

	if len(ids) == 0 {
		return nil
	}
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	err := s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: namespace,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{
							{
								ConditionOneOf: &qdrant.Condition_Field{
									Field: &qdrant.FieldCondition{
										Key: "id",
										Match: &qdrant.Match{
											MatchValue: &qdrant.Match_Keywords{
												Keywords: &qdrant.RepeatedStrings{Strings: ids},
											},
										},
									},
								},
							},
						},
					},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting vectors from %s: %w", namespace, err)
	}
	return nil
}

// DeleteNamespace drops the namespace's collection entirely.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	ctx, span := tracer.Start(ctx, "qdrantvec.DeleteNamespace")
	defer span.End()

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	err := s.retry(ctx, "delete_namespace", func() error {
		return s.client.DeleteCollection(ctx, namespace)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}
	s.collections.Delete(namespace)
	s.logger.Info(ctx, "deleted namespace", zap.String("namespace", namespace))
	return nil
}

// Stats reports vector counts across all collections.
func (s *Store) Stats(ctx context.Context) (*store.VectorStats, error) {
	ctx, span := tracer.Start(ctx, "qdrantvec.Stats")
	defer span.End()

	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}

	stats := &store.VectorStats{
		Namespaces: map[string]int{},
		Dimension:  int(s.vectorSize),
	}
	for _, name := range names {
		count, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: name})
		if err != nil {
			return nil, fmt.Errorf("counting collection %s: %w", name, err)
		}
		stats.Namespaces[name] = int(count)
		stats.TotalVectors += int(count)
	}
	return stats, nil
}

// HealthCheck probes the gRPC endpoint and reports latency.
func (s *Store) HealthCheck(ctx context.Context) (*store.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := s.client.HealthCheck(ctx)
	latency := time.Since(start)

	if err != nil {
		return &store.Health{
			Status:  store.StatusUnhealthy,
			Latency: latency,
			Detail:  map[string]any{"error": err.Error()},
		}, err
	}
	return &store.Health{Status: store.StatusHealthy, Latency: latency}, nil
}

// Close shuts down the gRPC connection.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close()
}

func payloadValue(v *qdrant.Value) any {
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		out := make([]any, 0, len(kind.ListValue.Values))
		for _, item := range kind.ListValue.Values {
			out = append(out, payloadValue(item))
		}
		return out
	default:
		return nil
	}
}

// Interface guard.
var _ store.VectorStore = (*Store)(nil)
