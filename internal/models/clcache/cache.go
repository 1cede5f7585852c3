package clcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache est injecté dans les stores qui veulent éviter un aller-retour en base.
// Un ttl à 0 utilise la durée par défaut du backend.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// Memory : cache local au processus
type Memory struct {
	store      *gocache.Cache
	defaultTTL time.Duration
}

func NewMemory(defaultTTL time.Duration) *Memory {
	return &Memory{
		store:      gocache.New(defaultTTL, 2*defaultTTL),
		defaultTTL: defaultTTL,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	v, found := m.store.Get(key)
	if !found {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.store.Set(key, value, ttl)
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.store.Delete(key)
}

// Flush vide tout le cache
func (m *Memory) Flush() {
	m.store.Flush()
}

// Redis : cache partagé entre instances
type Redis struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

func NewRedis(client *redis.Client, prefix string, defaultTTL time.Duration) *Redis {
	return &Redis{
		client:     client,
		prefix:     prefix,
		defaultTTL: defaultTTL,
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("redis cache get failed")
		}
		return nil, false
	}
	return b, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis cache set failed")
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis cache delete failed")
	}
}

// GetJSON décode une valeur mise en cache avec SetJSON
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var v T
	b, ok := c.Get(ctx, key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(b, &v); err != nil {
		c.Delete(ctx, key)
		return v, false
	}
	return v, true
}

func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	c.Set(ctx, key, b, ttl)
}
