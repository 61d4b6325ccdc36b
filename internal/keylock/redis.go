package keylock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds distributed lock settings.
type RedisConfig struct {
	// URL is a redis:// connection URL.
	URL string
	// TTL bounds how long a crashed holder can keep a key locked.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
	// Prefix namespaces lock keys.
	Prefix string
}

// DefaultRedisConfig returns sensible defaults for the Redis lock.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		TTL:           10 * time.Second,
		RetryInterval: 25 * time.Millisecond,
		Prefix:        "pathwise:lock:",
	}
}

// releaseScript deletes the key only if it still holds our token, so an
// expired holder cannot release a lock that another process now owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every process using the same Redis instance.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedis connects to cfg.URL and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	def := DefaultRedisConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{client: client, cfg: cfg}, nil
}

// Lock polls SET NX until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.cfg.Prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.cfg.TTL).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.RetryInterval):
		}
	}

	return func() {
		// Release with a fresh context so a cancelled request still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err()
	}, nil
}

// Health checks if the Redis connection is healthy.
func (r *Redis) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
