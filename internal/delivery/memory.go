package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/seer/internal/ranking"
)

// MemoryStore keeps deliveries in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]map[string]DeliveredItem
	retention time.Duration
	closed    bool
}

// NewMemoryStore returns an empty store. Items older than retention are
// dropped on write; zero keeps everything.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{users: make(map[string]map[string]DeliveredItem), retention: retention}
}

// Record implements Store.
func (s *MemoryStore) Record(ctx context.Context, userID string, docs []ranking.RankedDocument, at time.Time) (Confirmation, error) {
	if err := validateUser(userID); err != nil {
		return Confirmation{}, err
	}
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Confirmation{}, ErrStoreClosed
	}
	items, ok := s.users[userID]
	if !ok {
		items = make(map[string]DeliveredItem)
		s.users[userID] = items
	}
	for _, item := range itemsFromDocs(docs, at) {
		items[item.DocumentID] = item
	}
	if s.retention > 0 {
		cutoff := at.Add(-s.retention)
		for id, item := range items {
			if item.DeliveredAt.Before(cutoff) {
				delete(items, id)
			}
		}
	}
	return Confirmation{UserID: userID, Count: len(docs), StoredAt: at.UTC(), Backend: BackendMemory}, nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(ctx context.Context, userID string, since time.Time) (*RecentDeliverySet, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var out []DeliveredItem
	for _, item := range s.users[userID] {
		if item.DeliveredAt.Before(since) {
			continue
		}
		item.Embedding = append([]float32(nil), item.Embedding...)
		out = append(out, item)
	}
	return finalize(userID, since, out), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.users = nil
	return nil
}
