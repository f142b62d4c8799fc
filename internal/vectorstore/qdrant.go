package vectorstore

import (
	"context"
	"fmt"
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

	"github.com/fyrsmithlabs/docpipe/internal/logging"
)

var qdrantTracer = otel.Tracer("docpipe.vectorstore.qdrant")

// payload keys holding the document body and caller-visible id
const (
	payloadContent = "content"
	payloadDocID   = "doc_id"
)

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	Host       string
	Port       int
	UseTLS     bool
	VectorSize uint64

	MaxRetries              int
	RetryBackoff            time.Duration
	MaxMessageSize          int
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
}

// ApplyDefaults fills unset tuning knobs.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerCooldown == 0 {
		c.CircuitBreakerCooldown = 30 * time.Second
	}
}

// Validate checks required fields.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC failure is worth retrying.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if err == nil || !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// breaker opens after threshold consecutive transient failures and closes
// again once cooldown has passed since the last one.
type breaker struct {
	mu        sync.Mutex
	failures  int
	lastFail  time.Time
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func (b *breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return false
	}
	if b.now().Sub(b.lastFail) > b.cooldown {
		b.failures = 0
		return false
	}
	return true
}

func (b *breaker) fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFail = b.now()
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// QdrantStore implements Store on Qdrant.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *logging.Logger
	breaker  *breaker

	known sync.Map // collections confirmed to exist
}

// NewQdrantStore connects to Qdrant and verifies it is reachable.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, embedder Embedder, logger *logging.Logger) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn(ctx, "qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
		breaker:  &breaker{threshold: cfg.CircuitBreakerThreshold, cooldown: cfg.CircuitBreakerCooldown, now: time.Now},
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	return s, nil
}

// retry runs op with exponential backoff on transient errors.
func (s *QdrantStore) retry(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		if s.breaker.open() {
			return fmt.Errorf("%s: %w", name, ErrCircuitOpen)
		}
		err := op()
		if err == nil {
			s.breaker.reset()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		s.breaker.fail()
		if attempt >= s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// pointID maps a caller id onto a stable UUID so re-indexing a page
// overwrites its previous point.
func pointID(docID string) *qdrant.PointId {
	if _, err := uuid.Parse(docID); err == nil {
		return qdrant.NewIDUUID(docID)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(docID)).String())
}

func (s *QdrantStore) ensureCollection(ctx context.Context, collection string) error {
	if _, ok := s.known.Load(collection); ok {
		return nil
	}

	var exists bool
	err := s.retry(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, collection)
		return err
	})
	if err != nil {
		return err
	}
	if !exists {
		err = s.retry(ctx, "create_collection", func() error {
			return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: collection,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     s.config.VectorSize,
					Distance: qdrant.Distance_Cosine,
				}),
			})
		})
		if err != nil {
			return err
		}
		s.logger.Info(ctx, "created qdrant collection", zap.String("collection", collection))
	}
	s.known.Store(collection, true)
	return nil
}

// AddDocuments implements Store.
func (s *QdrantStore) AddDocuments(ctx context.Context, collection string, docs []Document) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.AddDocuments")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("document_count", len(docs)),
	)

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document at index %d has no id", i)
		}
		texts[i] = d.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		payload := map[string]*qdrant.Value{
			payloadContent: qdrant.NewValueString(d.Content),
			payloadDocID:   qdrant.NewValueString(d.ID),
		}
		for k, v := range d.Metadata {
			payload[k] = qdrant.NewValueString(v)
		}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(d.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	if err := s.ensureCollection(ctx, collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("preparing collection %s: %w", collection, err)
	}

	err = s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search implements Store.
func (s *QdrantStore) Search(ctx context.Context, collection, query string, k int) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("k", k))

	if err := validateSearch(collection, query, k); err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var points []*qdrant.ScoredPoint
	err = s.retry(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		points = res
		return err
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	out := make([]SearchResult, 0, len(points))
	for _, p := range points {
		out = append(out, fromPayload(p.GetScore(), p.GetPayload()))
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

func fromPayload(score float32, payload map[string]*qdrant.Value) SearchResult {
	r := SearchResult{Score: score, Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		str, ok := v.GetKind().(*qdrant.Value_StringValue)
		if !ok {
			continue
		}
		switch k {
		case payloadContent:
			r.Content = str.StringValue
		case payloadDocID:
			r.ID = str.StringValue
		default:
			r.Metadata[k] = str.StringValue
		}
	}
	return r
}

// Count implements Store.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	var n uint64
	err := s.retry(ctx, "count", func() error {
		var err error
		n, err = s.client.Count(ctx, &qdrant.CountPoints{CollectionName: collection, Exact: qdrant.PtrOf(true)})
		return err
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return 0, err
	}
	return int(n), nil
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
