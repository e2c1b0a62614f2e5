package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "notify:dedup:"

// RedisWindow is a dedup window shared by several daemons serving the same
// user. Entries expire through the key TTL, so no prune loop is needed.
type RedisWindow struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisWindow connects to redisURL (redis:// or rediss://) and pings it.
func NewRedisWindow(ctx context.Context, redisURL string, ttl time.Duration, logger *zap.Logger) (*RedisWindow, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3
	if opts.TLSConfig == nil && strings.HasPrefix(redisURL, "rediss://") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisWindow(rdb, ttl, logger), nil
}

func newRedisWindow(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisWindow {
	if ttl <= 0 {
		ttl = DefaultDedupWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisWindow{rdb: rdb, ttl: ttl, logger: logger}
}

// Seen claims id with SET NX. When Redis is unreachable the event is let
// through.
func (w *RedisWindow) Seen(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	claimed, err := w.rdb.SetNX(ctx, redisKeyPrefix+id, 1, w.ttl).Result()
	if err != nil {
		w.logger.Warn("redis dedup unavailable", zap.String("id", id), zap.Error(err))
		return false
	}
	return !claimed
}

func (w *RedisWindow) Close() error {
	return w.rdb.Close()
}
