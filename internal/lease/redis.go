package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// RedisStore keeps leases as plain Redis keys with expiry.
type RedisStore struct {
	client *redis.Client
	owns   bool
}

var _ Store = (*RedisStore)(nil)

// RedisConfig configures a Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// NewRedisClient connects and pings. Shared by the lease store and the
// task queue.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, rerrors.ConfigError("redis address is required", nil)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, rerrors.CoordinationError(fmt.Sprintf("redis %s unreachable", cfg.Addr), err)
	}
	return client, nil
}

// NewRedisStore uses client. When owns is true Close also closes the client.
func NewRedisStore(client *redis.Client, owns bool) *RedisStore {
	return &RedisStore{client: client, owns: owns}
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, rerrors.CoordinationError("setnx "+key, err)
	}
	return ok, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, rerrors.CoordinationError("ttl "+key, err)
	}
	// go-redis reports -2 for a missing key and -1 for no expiry, as raw
	// durations.
	switch {
	case d == -2:
		return 0, ErrNoKey
	case d == -1:
		return NoExpiry, nil
	}
	return d, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, rerrors.CoordinationError("expire "+key, err)
	}
	return ok, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return rerrors.CoordinationError("del "+key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s.owns {
		return s.client.Close()
	}
	return nil
}
