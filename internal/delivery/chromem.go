package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/ranking"
	"github.com/fyrsmithlabs/seer/internal/sanitize"
)

// metadata keys shared by the vector backends
const (
	keyUserID      = "user_id"
	keyDocumentID  = "document_id"
	keyURL         = "url"
	keyDeliveredAt = "delivered_at"
)

var errNoEmbedder = errors.New("delivery store does not embed text")

// ChromemStore persists deliveries in an embedded chromem-go database.
// Only documents with embeddings of the configured size are stored.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	vectorSize int
	logger     *logging.Logger

	mu     sync.RWMutex
	closed bool
}

// NewChromemStore opens (or creates) the database at cfg.Path.
func NewChromemStore(cfg config.DeliveryConfig, logger *logging.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: delivery.vector_size must be positive", config.ErrFatalConfiguration)
	}
	path, err := config.ExpandHome(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	path, err = sanitize.ValidatePath(path, "")
	if err != nil {
		return nil, fmt.Errorf("delivery path: %w", err)
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, true)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}
	name := sanitize.Identifier(cfg.Collection)
	collection, err := db.GetOrCreateCollection(name, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}

	logger.Info(context.Background(), "chromem delivery store initialized",
		zap.String("path", path),
		zap.String("collection", name),
		zap.Int("vector_size", cfg.VectorSize),
		zap.Int("documents", collection.Count()))

	return &ChromemStore{db: db, collection: collection, vectorSize: cfg.VectorSize, logger: logger}, nil
}

// refuseEmbedding is the collection's embedding function; embeddings are
// always supplied by the caller.
func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

// Record implements Store.
func (s *ChromemStore) Record(ctx context.Context, userID string, docs []ranking.RankedDocument, at time.Time) (Confirmation, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Record")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if err := validateUser(userID); err != nil {
		return Confirmation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Confirmation{}, ErrStoreClosed
	}

	var batch []chromem.Document
	skipped := 0
	for _, item := range itemsFromDocs(docs, at) {
		if len(item.Embedding) != s.vectorSize {
			skipped++
			continue
		}
		batch = append(batch, chromem.Document{
			ID:        deliveryID(userID, item.DocumentID),
			Content:   item.URL,
			Embedding: item.Embedding,
			Metadata: map[string]string{
				keyUserID:      userID,
				keyDocumentID:  item.DocumentID,
				keyURL:         item.URL,
				keyDeliveredAt: strconv.FormatInt(item.DeliveredAt.UnixNano(), 10),
			},
		})
	}
	if skipped > 0 {
		s.logger.Debug(ctx, "skipping deliveries without usable embeddings",
			zap.Int("skipped", skipped), zap.Int("vector_size", s.vectorSize))
	}
	if len(batch) > 0 {
		if err := s.collection.AddDocuments(ctx, batch, 1); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Confirmation{}, fmt.Errorf("adding deliveries: %w", err)
		}
	}
	span.SetAttributes(attribute.Int("documents_added", len(batch)))
	return Confirmation{UserID: userID, Count: len(batch), StoredAt: at.UTC(), Backend: BackendChromem}, nil
}

// Recent implements Store. chromem has no scan, so a filtered exhaustive
// query with a constant probe vector returns every document of the user.
func (s *ChromemStore) Recent(ctx context.Context, userID string, since time.Time) (*RecentDeliverySet, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Recent")
	defer span.End()

	if err := validateUser(userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	n := s.collection.Count()
	if n == 0 {
		return finalize(userID, since, nil), nil
	}
	probe := make([]float32, s.vectorSize)
	for i := range probe {
		probe[i] = 1
	}
	results, err := s.collection.QueryEmbedding(ctx, probe, n, map[string]string{keyUserID: userID}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}

	items := make([]DeliveredItem, 0, len(results))
	for _, r := range results {
		nanos, err := strconv.ParseInt(r.Metadata[keyDeliveredAt], 10, 64)
		if err != nil {
			continue
		}
		at := time.Unix(0, nanos).UTC()
		if at.Before(since) {
			continue
		}
		items = append(items, DeliveredItem{
			DocumentID:  r.Metadata[keyDocumentID],
			URL:         r.Metadata[keyURL],
			Embedding:   append([]float32(nil), r.Embedding...),
			DeliveredAt: at,
		})
	}
	span.SetAttributes(attribute.Int("results_count", len(items)))
	return finalize(userID, since, items), nil
}

// Close implements Store. The database is persisted on every write.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
