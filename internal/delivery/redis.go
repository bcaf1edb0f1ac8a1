package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/ranking"
)

const redisKeyPrefix = "seer:deliveries:"

// redisMember is the sorted set member; the score is the delivery time in
// unix milliseconds. The member omits the time so re-delivering a document
// moves it instead of duplicating it.
type redisMember struct {
	DocumentID string    `json:"document_id"`
	URL        string    `json:"url"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// RedisStore keeps one sorted set per user. Entries older than the
// retention are trimmed on every write and the key expires after the
// retention without writes.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
	logger    *logging.Logger
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg config.DeliveryConfig, logger *logging.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword.Value(),
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisStoreWithClient(client, cfg.Retention.Duration(), logger), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, retention time.Duration, logger *logging.Logger) *RedisStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RedisStore{client: client, retention: retention, logger: logger}
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}

// Record implements Store.
func (s *RedisStore) Record(ctx context.Context, userID string, docs []ranking.RankedDocument, at time.Time) (Confirmation, error) {
	ctx, span := tracer.Start(ctx, "RedisStore.Record")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if err := validateUser(userID); err != nil {
		return Confirmation{}, err
	}
	items := itemsFromDocs(docs, at)
	if len(items) == 0 {
		return Confirmation{UserID: userID, StoredAt: at.UTC(), Backend: BackendRedis}, nil
	}

	members := make([]redis.Z, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(redisMember{DocumentID: item.DocumentID, URL: item.URL, Embedding: item.Embedding})
		if err != nil {
			return Confirmation{}, fmt.Errorf("encoding delivery %s: %w", item.DocumentID, err)
		}
		members = append(members, redis.Z{Score: float64(item.DeliveredAt.UnixMilli()), Member: string(raw)})
	}

	key := redisKey(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, members...)
		if s.retention > 0 {
			cutoff := at.Add(-s.retention).UnixMilli()
			pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
			pipe.Expire(ctx, key, s.retention)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Confirmation{}, fmt.Errorf("recording deliveries: %w", err)
	}
	return Confirmation{UserID: userID, Count: len(items), StoredAt: at.UTC(), Backend: BackendRedis}, nil
}

// Recent implements Store.
func (s *RedisStore) Recent(ctx context.Context, userID string, since time.Time) (*RecentDeliverySet, error) {
	ctx, span := tracer.Start(ctx, "RedisStore.Recent")
	defer span.End()

	if err := validateUser(userID); err != nil {
		return nil, err
	}
	entries, err := s.client.ZRevRangeByScoreWithScores(ctx, redisKey(userID), &redis.ZRangeBy{
		Min:   strconv.FormatInt(since.UnixMilli(), 10),
		Max:   "+inf",
		Count: MaxRecentItems,
	}).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("reading deliveries: %w", err)
	}

	items := make([]DeliveredItem, 0, len(entries))
	for _, z := range entries {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}
		var m redisMember
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			s.logger.Warn(ctx, "skipping undecodable delivery", zap.String("user.id", userID), zap.Error(err))
			continue
		}
		items = append(items, DeliveredItem{
			DocumentID:  m.DocumentID,
			URL:         m.URL,
			Embedding:   m.Embedding,
			DeliveredAt: time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	span.SetAttributes(attribute.Int("results_count", len(items)))
	return finalize(userID, since, items), nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
