package localcache

import (
	"context"
	"time"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings for NewRedisClient
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// NewRedisClient connects and pings the server
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.CategoryExternal, "failed to connect to redis").
			WithMetadata(map[string]any{"addr": cfg.Addr})
	}

	return client, nil
}

// Redis is an auth.LocalCache backed by a Redis namespace. Useful when the
// client context is a server side session shared across processes.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

var _ auth.LocalCache = (*Redis)(nil)

// NewRedis scopes keys under prefix, typically one per client context
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return "", auth.ErrCacheMiss
	}
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryExternal, "redis get failed").
			WithMetadata(map[string]any{"key": key})
	}
	return value, nil
}

// Set stores value, a ttl <= 0 keeps it until removed
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "redis set failed").
			WithMetadata(map[string]any{"key": key})
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "redis delete failed").
			WithMetadata(map[string]any{"key": key})
	}
	return nil
}
