package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loftcall/loftcall/pkg/core/session"
)

const redisKeyPrefix = "loftcall:session:"

// RedisStore keeps session snapshots in Redis with a TTL, so a fleet of
// gateway nodes shares one monitor view.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store over an existing client. ttl <= 0 means
// DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

// Save implements SessionStore.
func (s *RedisStore) Save(ctx context.Context, sum session.Summary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(sum.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Get implements SessionStore.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (session.Summary, error) {
	data, err := s.client.Get(ctx, redisKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Summary{}, ErrNotFound
	}
	if err != nil {
		return session.Summary{}, fmt.Errorf("get snapshot: %w", err)
	}
	var sum session.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return session.Summary{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return sum, nil
}

// List implements SessionStore. SCAN keeps this safe on shared Redis
// instances; snapshot counts are small.
func (s *RedisStore) List(ctx context.Context) ([]session.Summary, error) {
	var out []session.Summary
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		var sum session.Summary
		if err := json.Unmarshal(data, &sum); err != nil {
			continue
		}
		out = append(out, sum)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Delete implements SessionStore.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, redisKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
