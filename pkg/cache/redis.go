package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/storefront/storefront-backend/pkg/config"
	"github.com/storefront/storefront-backend/pkg/logger"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("cache miss")

// releaseScript deletes the lock only if it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// guardedSetScript writes KEYS[1] only while KEYS[2] still holds ARGV[3].
// A missing guard key matches the empty string. ARGV[2] is the TTL in
// milliseconds; zero stores the value without expiry.
var guardedSetScript = redis.NewScript(`
local current = redis.call("GET", KEYS[2]) or ""
if current ~= ARGV[3] then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// Redis wraps a go-redis client with the key/value and lock helpers the services use
type Redis struct {
	client *redis.Client
	logger *logger.Logger
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, cfg *config.RedisConfig, log *logger.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Msg("connected to Redis")
	return &Redis{client: client, logger: log}, nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, log *logger.Logger) *Redis {
	return &Redis{client: client, logger: log}
}

// Get returns the value stored at key or ErrMiss
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return val, err
}

// Delete removes keys
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Incr bumps the integer counter at each key, creating it at 1 when missing
func (r *Redis) Incr(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Incr(ctx, key)
		}
		return nil
	})
	return err
}

// SetIfUnchanged stores value at key only if guardKey still holds guardValue
// ("" meaning absent). It reports whether the value was written.
func (r *Redis) SetIfUnchanged(ctx context.Context, key, value string, ttl time.Duration, guardKey, guardValue string) (bool, error) {
	n, err := guardedSetScript.Run(ctx, r.client, []string{key, guardKey}, value, ttl.Milliseconds(), guardValue).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AcquireLock sets key to value if it does not exist. It reports whether the lock was taken.
func (r *Redis) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

// ReleaseLock deletes key only if it still holds value
func (r *Redis) ReleaseLock(ctx context.Context, key, value string) error {
	return releaseScript.Run(ctx, r.client, []string{key}, value).Err()
}

// Health returns the health status of Redis
func (r *Redis) Health(ctx context.Context) map[string]string {
	status := map[string]string{"status": "up"}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}
	return status
}

// Close closes the client
func (r *Redis) Close() error {
	return r.client.Close()
}
