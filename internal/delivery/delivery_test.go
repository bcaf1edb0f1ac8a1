package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/normalize"
	"github.com/fyrsmithlabs/seer/internal/ranking"
	"github.com/fyrsmithlabs/seer/internal/sanitize"
)

var base = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func doc(id string, emb ...float32) ranking.RankedDocument {
	return ranking.NewRankedDocument(normalize.Document{
		ID:        id,
		URL:       "https://example.com/" + id,
		Embedding: emb,
	})
}

// storeContract exercises the behaviour every backend shares. Documents
// carry 3-dimensional embeddings so vector backends store them.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	user := fmt.Sprintf("user-%d", time.Now().UnixNano())

	conf, err := s.Record(ctx, user, []ranking.RankedDocument{
		doc("old", 1, 0, 0),
	}, base.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, user, conf.UserID)
	assert.Equal(t, 1, conf.Count)

	_, err = s.Record(ctx, user, []ranking.RankedDocument{
		doc("a", 0, 1, 0),
		doc("b", 0, 0, 1),
	}, base)
	require.NoError(t, err)

	recent, err := s.Recent(ctx, user, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, user, recent.UserID)
	require.Equal(t, 2, recent.Len())
	assert.Equal(t, "a", recent.Items[0].DocumentID)
	assert.Equal(t, "https://example.com/a", recent.Items[0].URL)
	assert.Len(t, recent.Items[0].Embedding, 3)
	assert.True(t, recent.Items[0].DeliveredAt.Equal(base))

	all, err := s.Recent(ctx, user, base.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, all.Len())
	assert.Equal(t, "old", all.Items[0].DocumentID, "oldest first")

	other, err := s.Recent(ctx, user+"-other", base.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, other.Len(), "users are isolated")

	_, err = s.Record(ctx, "bad user/../x", nil, base)
	assert.True(t, errors.Is(err, sanitize.ErrInvalidUserID))
	_, err = s.Recent(ctx, "", base)
	assert.True(t, errors.Is(err, sanitize.ErrInvalidUserID))
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore(0))
}

func TestMemoryStore_KeepsDocumentsWithoutEmbeddings(t *testing.T) {
	s := NewMemoryStore(0)
	_, err := s.Record(context.Background(), "u1", []ranking.RankedDocument{doc("plain")}, base)
	require.NoError(t, err)

	recent, err := s.Recent(context.Background(), "u1", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, recent.Len())
	assert.Nil(t, recent.Items[0].Embedding)
}

func TestMemoryStore_RedeliveryReplaces(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	_, err := s.Record(ctx, "u1", []ranking.RankedDocument{doc("a")}, base.Add(-time.Hour))
	require.NoError(t, err)
	_, err = s.Record(ctx, "u1", []ranking.RankedDocument{doc("a")}, base)
	require.NoError(t, err)

	recent, err := s.Recent(ctx, "u1", base.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, recent.Len())
	assert.True(t, recent.Items[0].DeliveredAt.Equal(base))
}

func TestMemoryStore_Retention(t *testing.T) {
	s := NewMemoryStore(24 * time.Hour)
	ctx := context.Background()
	_, err := s.Record(ctx, "u1", []ranking.RankedDocument{doc("stale")}, base.Add(-48*time.Hour))
	require.NoError(t, err)
	_, err = s.Record(ctx, "u1", []ranking.RankedDocument{doc("fresh")}, base)
	require.NoError(t, err)

	recent, err := s.Recent(ctx, "u1", time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, recent.Len())
	assert.Equal(t, "fresh", recent.Items[0].DocumentID)
}

func TestMemoryStore_ResultIsACopy(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	_, err := s.Record(ctx, "u1", []ranking.RankedDocument{doc("a", 1, 2)}, base)
	require.NoError(t, err)

	first, err := s.Recent(ctx, "u1", time.Time{})
	require.NoError(t, err)
	first.Items[0].Embedding[0] = 99

	second, err := s.Recent(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, float32(1), second.Items[0].Embedding[0])
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore(0)
	require.NoError(t, s.Close())
	_, err := s.Record(context.Background(), "u1", nil, base)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.Recent(context.Background(), "u1", base)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore(0).Recent(ctx, "u1", base)
	assert.ErrorIs(t, err, context.Canceled)
}

func chromemConfig(t *testing.T) config.DeliveryConfig {
	cfg := config.Default().Delivery
	cfg.Backend = BackendChromem
	cfg.Path = t.TempDir()
	cfg.VectorSize = 3
	return cfg
}

func TestChromemStore_Contract(t *testing.T) {
	s, err := NewChromemStore(chromemConfig(t), nil)
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)
}

func TestChromemStore_SkipsDocumentsWithoutEmbeddings(t *testing.T) {
	s, err := NewChromemStore(chromemConfig(t), nil)
	require.NoError(t, err)
	defer s.Close()

	conf, err := s.Record(context.Background(), "u1", []ranking.RankedDocument{
		doc("plain"),
		doc("wrong-size", 1, 2),
		doc("ok", 1, 2, 3),
	}, base)
	require.NoError(t, err)
	assert.Equal(t, 1, conf.Count)

	recent, err := s.Recent(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, recent.Len())
	assert.Equal(t, "ok", recent.Items[0].DocumentID)
}

func TestChromemStore_Persists(t *testing.T) {
	cfg := chromemConfig(t)
	s, err := NewChromemStore(cfg, nil)
	require.NoError(t, err)
	_, err = s.Record(context.Background(), "u1", []ranking.RankedDocument{doc("a", 1, 0, 0)}, base)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(cfg, nil)
	require.NoError(t, err)
	recent, err := reopened.Recent(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, recent.Len())
}

func TestChromemStore_EmptyCollection(t *testing.T) {
	s, err := NewChromemStore(chromemConfig(t), nil)
	require.NoError(t, err)
	recent, err := s.Recent(context.Background(), "u1", base)
	require.NoError(t, err)
	assert.NotNil(t, recent.Items)
	assert.Equal(t, 0, recent.Len())
}

func TestNew(t *testing.T) {
	cfg := config.Default().Delivery
	s, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	cfg.Backend = "mongo"
	_, err = New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestQdrantStore_Contract(t *testing.T) {
	host := os.Getenv("SEER_TEST_QDRANT_HOST")
	if host == "" {
		t.Skip("SEER_TEST_QDRANT_HOST not set")
	}
	cfg := config.Default().Delivery
	cfg.QdrantHost = host
	cfg.Collection = fmt.Sprintf("seer_test_%d", time.Now().UnixNano())
	cfg.VectorSize = 3
	s, err := NewQdrantStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)
}

func TestRedisStore_Contract(t *testing.T) {
	addr := os.Getenv("SEER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SEER_TEST_REDIS_ADDR not set")
	}
	cfg := config.Default().Delivery
	cfg.RedisAddr = addr
	cfg.Retention = config.Duration(0)
	s, err := NewRedisStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)
}

func TestDeliveryID_Stable(t *testing.T) {
	assert.Equal(t, deliveryID("u1", "a"), deliveryID("u1", "a"))
	assert.NotEqual(t, deliveryID("u1", "a"), deliveryID("u2", "a"))
}

func TestRecentDeliverySet_LenNilSafe(t *testing.T) {
	var s *RecentDeliverySet
	assert.Equal(t, 0, s.Len())
}
