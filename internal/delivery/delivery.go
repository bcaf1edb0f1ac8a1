// Package delivery records which documents were shown to which user and
// answers "what did this user see recently" for the novelty filter.
//
// Backends: memory (process-local), chromem (embedded persistent vector
// DB), qdrant (gRPC) and redis (sorted set per user).
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/ranking"
	"github.com/fyrsmithlabs/seer/internal/sanitize"
)

// Backend names.
const (
	BackendMemory  = "memory"
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
	BackendRedis   = "redis"
)

// MaxRecentItems caps the size of a RecentDeliverySet; the newest
// deliveries are kept.
const MaxRecentItems = 1000

var (
	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("delivery store closed")

	// ErrUnknownBackend is returned by New for unsupported backends.
	ErrUnknownBackend = errors.New("unknown delivery backend")
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/seer/internal/delivery")

// DeliveredItem is one document previously shown to a user.
type DeliveredItem struct {
	DocumentID  string    `json:"document_id"`
	URL         string    `json:"url"`
	Embedding   []float32 `json:"embedding,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// RecentDeliverySet is what a user has been shown since a point in time,
// oldest first.
type RecentDeliverySet struct {
	UserID string          `json:"user_id"`
	Since  time.Time       `json:"since"`
	Items  []DeliveredItem `json:"items"`
}

// Len is nil-safe.
func (s *RecentDeliverySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Items)
}

// Confirmation acknowledges a Record call.
type Confirmation struct {
	UserID   string    `json:"user_id"`
	Count    int       `json:"count"`
	StoredAt time.Time `json:"stored_at"`
	Backend  string    `json:"backend"`
}

// Store persists deliveries. Implementations are safe for concurrent use.
type Store interface {
	// Record stores docs as delivered to userID at the given time.
	Record(ctx context.Context, userID string, docs []ranking.RankedDocument, at time.Time) (Confirmation, error)

	// Recent returns what userID was shown at or after since.
	Recent(ctx context.Context, userID string, since time.Time) (*RecentDeliverySet, error)

	// Close releases resources.
	Close() error
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.DeliveryConfig, logger *logging.Logger) (Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(cfg.Retention.Duration()), nil
	case BackendChromem:
		return NewChromemStore(cfg, logger)
	case BackendQdrant:
		return NewQdrantStore(ctx, cfg, logger)
	case BackendRedis:
		return NewRedisStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

func itemsFromDocs(docs []ranking.RankedDocument, at time.Time) []DeliveredItem {
	items := make([]DeliveredItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, DeliveredItem{
			DocumentID:  d.ID,
			URL:         d.URL,
			Embedding:   append([]float32(nil), d.Embedding...),
			DeliveredAt: at.UTC(),
		})
	}
	return items
}

// deliveryID is stable per (user, document) so re-delivery overwrites.
func deliveryID(userID, documentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(userID+"\x00"+documentID)).String()
}

// finalize sorts items oldest first and keeps the newest MaxRecentItems.
func finalize(userID string, since time.Time, items []DeliveredItem) *RecentDeliverySet {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].DeliveredAt.Equal(items[j].DeliveredAt) {
			return items[i].DeliveredAt.Before(items[j].DeliveredAt)
		}
		return items[i].DocumentID < items[j].DocumentID
	})
	if len(items) > MaxRecentItems {
		items = items[len(items)-MaxRecentItems:]
	}
	if items == nil {
		items = []DeliveredItem{}
	}
	return &RecentDeliverySet{UserID: userID, Since: since, Items: items}
}

func validateUser(userID string) error {
	return sanitize.ValidateUserID(userID)
}
