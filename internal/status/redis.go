package status

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"courier/internal/types"
)

// KeyPrefix namespaces status keys in Redis.
const KeyPrefix = "status:"

// RedisCommander is the subset of *redis.Client the backend uses.
type RedisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisBackend stores "status:<id>" -> uppercase token. Reads fall back to
// the bare id for records written before the prefix was introduced.
type RedisBackend struct {
	rdb RedisCommander
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend wraps an existing client. The caller owns the client.
func NewRedisBackend(rdb RedisCommander) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

// NewRedisClient parses a redis:// or rediss:// URL, hardens timeouts and
// pings the server so misconfiguration fails at startup.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = 1 * time.Second

	if opts.TLSConfig == nil && strings.HasPrefix(redisURL, "rediss://") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func statusKey(notificationID string) string {
	return KeyPrefix + notificationID
}

// Read implements Backend.
func (b *RedisBackend) Read(ctx context.Context, notificationID string) (string, bool, error) {
	val, err := b.rdb.Get(ctx, statusKey(notificationID)).Result()
	if err == nil {
		return val, true, nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", false, err
	}

	val, err = b.rdb.Get(ctx, notificationID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Write implements Backend.
func (b *RedisBackend) Write(ctx context.Context, notificationID string, st types.NotificationStatus) error {
	return b.rdb.Set(ctx, statusKey(notificationID), strings.ToUpper(string(st)), 0).Err()
}

// Ping implements types.Pinger.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}
