// Package cache provides a read-through profile cache. Redis when
// configured, an in-process map otherwise.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cooperblacks/liaotian/internal/store"
)

// ProfileCache caches profile reads keyed by user id. Writes that change
// a profile must invalidate, or confirm by re-reading, before callers
// see the update.
type ProfileCache interface {
	Get(ctx context.Context, id string) (*store.Profile, bool)
	Set(ctx context.Context, p *store.Profile)
	Invalidate(ctx context.Context, id string)
}

const keyPrefix = "profile:"

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis builds a Redis-backed cache from a redis:// URL.
func NewRedis(ctx context.Context, redisURL string, ttl time.Duration) (ProfileCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisCache{client: client, ttl: ttl}, nil
}

func (c *redisCache) Get(ctx context.Context, id string) (*store.Profile, bool) {
	data, err := c.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		return nil, false
	}
	var p store.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (c *redisCache) Set(ctx context.Context, p *store.Profile) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	c.client.Set(ctx, keyPrefix+p.ID, data, c.ttl)
}

func (c *redisCache) Invalidate(ctx context.Context, id string) {
	c.client.Del(ctx, keyPrefix+id)
}

type memoryEntry struct {
	profile *store.Profile
	expires time.Time
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

// NewMemory builds the in-process fallback used when REDIS_URL is unset.
func NewMemory(ttl time.Duration) ProfileCache {
	return &memoryCache{entries: make(map[string]memoryEntry), ttl: ttl}
}

func (c *memoryCache) Get(_ context.Context, id string) (*store.Profile, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	p := *e.profile
	return &p, true
}

func (c *memoryCache) Set(_ context.Context, p *store.Profile) {
	cp := *p
	c.mu.Lock()
	c.entries[p.ID] = memoryEntry{profile: &cp, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *memoryCache) Invalidate(_ context.Context, id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
