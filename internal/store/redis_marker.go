package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/lingo/internal/model"
)

const markerKeyPrefix = "lingo:reminder:"

// RedisMarkerStore keeps reminder markers in Redis. Each key holds the marker
// status and expires after the retention period.
type RedisMarkerStore struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewRedisMarkerStore(rdb *redis.Client, retention time.Duration) *RedisMarkerStore {
	return &RedisMarkerStore{rdb: rdb, retention: retention}
}

func (s *RedisMarkerStore) Claim(ctx context.Context, m model.ReminderMarker) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, markerKeyPrefix+m.Key, model.MarkerPending, s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("claim marker: %w", err)
	}
	return ok, nil
}

// Get returns the marker for key, or nil if none exists. Only Key and Status
// are populated.
func (s *RedisMarkerStore) Get(ctx context.Context, key string) (*model.ReminderMarker, error) {
	status, err := s.rdb.Get(ctx, markerKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get marker: %w", err)
	}
	return &model.ReminderMarker{Key: key, Status: status}, nil
}

// MarkSent keeps the remaining TTL of an existing marker. A marker that has
// already expired is recreated with the full retention.
func (s *RedisMarkerStore) MarkSent(ctx context.Context, key string) error {
	k := markerKeyPrefix + key
	ok, err := s.rdb.SetXX(ctx, k, model.MarkerSent, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("mark marker sent: %w", err)
	}
	if ok {
		return nil
	}
	if err := s.rdb.Set(ctx, k, model.MarkerSent, s.retention).Err(); err != nil {
		return fmt.Errorf("mark marker sent: %w", err)
	}
	return nil
}

// Cleanup is a no-op; Redis expires markers on its own.
func (s *RedisMarkerStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
