package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/ranking"
	"github.com/fyrsmithlabs/seer/internal/sanitize"
)

const qdrantSetupTimeout = 10 * time.Second

// QdrantStore persists deliveries in a Qdrant collection over gRPC. The
// collection uses cosine distance and keyword/integer payload indexes on
// user_id and delivered_at (unix milliseconds).
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	vectorSize int
	logger     *logging.Logger

	closeOnce sync.Once
}

// NewQdrantStore connects and creates the collection when missing.
func NewQdrantStore(ctx context.Context, cfg config.DeliveryConfig, logger *logging.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: delivery.vector_size must be positive", config.ErrFatalConfiguration)
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey.Value(),
		UseTLS: cfg.QdrantTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s:%d: %w", cfg.QdrantHost, cfg.QdrantPort, err)
	}

	s := &QdrantStore{
		client:     client,
		collection: sanitize.Identifier(cfg.Collection),
		vectorSize: cfg.VectorSize,
		logger:     logger,
	}
	setupCtx, cancel := context.WithTimeout(ctx, qdrantSetupTimeout)
	defer cancel()
	if err := s.ensureCollection(setupCtx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info(ctx, "qdrant delivery store initialized",
		zap.String("host", cfg.QdrantHost),
		zap.Int("port", cfg.QdrantPort),
		zap.String("collection", s.collection))
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}

	indexes := map[string]qdrant.FieldType{
		keyUserID:      qdrant.FieldType_FieldTypeKeyword,
		keyDeliveredAt: qdrant.FieldType_FieldTypeInteger,
	}
	for field, fieldType := range indexes {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.PtrOf(fieldType),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("indexing %s.%s: %w", s.collection, field, err)
		}
	}
	return nil
}

// Record implements Store.
func (s *QdrantStore) Record(ctx context.Context, userID string, docs []ranking.RankedDocument, at time.Time) (Confirmation, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Record")
	defer span.End()
	span.SetAttributes(attribute.String("collection", s.collection), attribute.Int("document_count", len(docs)))

	if err := validateUser(userID); err != nil {
		return Confirmation{}, err
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, item := range itemsFromDocs(docs, at) {
		if len(item.Embedding) != s.vectorSize {
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(deliveryID(userID, item.DocumentID)),
			Vectors: qdrant.NewVectorsDense(item.Embedding),
			Payload: map[string]*qdrant.Value{
				keyUserID:      qdrant.NewValueString(userID),
				keyDocumentID:  qdrant.NewValueString(item.DocumentID),
				keyURL:         qdrant.NewValueString(item.URL),
				keyDeliveredAt: qdrant.NewValueInt(item.DeliveredAt.UnixMilli()),
			},
		})
	}
	if len(points) > 0 {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Confirmation{}, fmt.Errorf("upserting deliveries: %w", err)
		}
	}
	return Confirmation{UserID: userID, Count: len(points), StoredAt: at.UTC(), Backend: BackendQdrant}, nil
}

// Recent implements Store.
func (s *QdrantStore) Recent(ctx context.Context, userID string, since time.Time) (*RecentDeliverySet, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Recent")
	defer span.End()

	if err := validateUser(userID); err != nil {
		return nil, err
	}

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(keyUserID, userID),
				qdrant.NewRange(keyDeliveredAt, &qdrant.Range{Gte: qdrant.PtrOf(float64(since.UnixMilli()))}),
			},
		},
		Limit:       qdrant.PtrOf(uint32(MaxRecentItems)),
		WithPayload: qdrant.NewWithPayload(true),
		WithVectors: qdrant.NewWithVectors(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scrolling deliveries: %w", err)
	}

	items := make([]DeliveredItem, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		vec := p.GetVectors().GetVector()
		embedding := vec.GetDense().GetData()
		if len(embedding) == 0 {
			embedding = vec.GetData()
		}
		items = append(items, DeliveredItem{
			DocumentID:  payload[keyDocumentID].GetStringValue(),
			URL:         payload[keyURL].GetStringValue(),
			Embedding:   embedding,
			DeliveredAt: time.UnixMilli(payload[keyDeliveredAt].GetIntegerValue()).UTC(),
		})
	}
	span.SetAttributes(attribute.Int("results_count", len(items)))
	return finalize(userID, since, items), nil
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.client.Close() })
	return err
}
