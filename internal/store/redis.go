package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// RedisStore holds the shared counters used for rate limiting and
// temporary IP blocks.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// windowKey returns the key for a sliding-window log.
func windowKey(family, identity string) string {
	return fmt.Sprintf("ratelimit:%s:%s", family, identity)
}

// violationsKey returns the key for an IP's violation counter.
func violationsKey(ip string) string {
	return fmt.Sprintf("violations:ip:%s", ip)
}

// blockKey returns the key for an IP block.
func blockKey(ip string) string {
	return fmt.Sprintf("blocked:ip:%s", ip)
}

// Hit records one request in the sliding window for identity and reports
// how many requests were already inside the window before this one.
// The oldest entry's timestamp is returned so callers can compute a reset.
func (s *RedisStore) Hit(ctx context.Context, family, identity string, window time.Duration) (int64, time.Time, error) {
	now := time.Now()
	key := windowKey(family, identity)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: ulid.Make().String(),
	})
	pipe.PExpire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, now, err
	}

	oldest := now
	if zs := oldestCmd.Val(); len(zs) > 0 {
		oldest = time.UnixMilli(int64(zs[0].Score))
	}
	return countCmd.Val(), oldest, nil
}

// IncrViolations bumps an IP's violation counter and returns the new value.
func (s *RedisStore) IncrViolations(ctx context.Context, ip string, ttl time.Duration) (int64, error) {
	key := violationsKey(ip)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// IsBlocked checks if an IP is blocked.
func (s *RedisStore) IsBlocked(ctx context.Context, ip string) bool {
	exists, _ := s.client.Exists(ctx, blockKey(ip)).Result()
	return exists > 0
}

// Block blocks an IP for the specified duration.
func (s *RedisStore) Block(ctx context.Context, ip string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, blockKey(ip), reason, duration).Err()
}

// Unblock removes an IP block.
func (s *RedisStore) Unblock(ctx context.Context, ip string) error {
	return s.client.Del(ctx, blockKey(ip)).Err()
}
