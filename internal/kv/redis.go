package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore implements Store on top of github.com/redis/go-redis/v9.
type RedisStore struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// Config holds the connection parameters for Connect.
type Config struct {
	URL      string
	Host     string
	Port     string
	DB       int
	Password string
}

// Connect dials Redis, retrying up to 10 times with the capped, linearly
// growing delay of backoffDelay while the KV service is slow to start.
func Connect(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*RedisStore, error) {
	opts, err := resolveOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}
	client := redis.NewClient(opts)

	const maxAttempts = 10
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return &RedisStore{client: client, logger: logger}, nil
		}
		lastErr = err
		logger.Warnf("redis connect attempt %d failed: %v", attempt, err)
		select {
		case <-time.After(backoffDelay(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("redis unreachable after %d attempts: %w", maxAttempts, lastErr)
}

func resolveOptions(cfg Config) (*redis.Options, error) {
	if cfg.URL != "" {
		return redis.ParseURL(cfg.URL)
	}
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		DB:       cfg.DB,
		Password: cfg.Password,
	}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return v, err
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisStore) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for k, v := range values {
		pipe.Set(ctx, k, v, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore) ScanKeys(ctx context.Context, pattern string, pageSize int64) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, pageSize).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (r *RedisStore) LPushHead(ctx context.Context, key, value string) error {
	return r.client.LPush(ctx, key, value).Err()
}

func (r *RedisStore) RPopLPushTail(ctx context.Context, src, dst string) (string, bool, error) {
	v, err := r.client.RPopLPush(ctx, src, dst).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) LRemove(ctx context.Context, key, value string) error {
	return r.client.LRem(ctx, key, 1, value).Err()
}

func (r *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	return r.client.LLen(ctx, key).Result()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
