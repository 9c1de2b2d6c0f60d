package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type localEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// localCache is a single-process Cache used when Redis is disabled.
type localCache struct {
	mu      sync.Mutex
	entries map[string]localEntry
	now     func() time.Time
}

func NewLocalCache() Cache {
	return &localCache{
		entries: make(map[string]localEntry),
		now:     time.Now,
	}
}

func (c *localCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = localEntry{value: data, expiresAt: c.expiry(ttl)}
	return nil
}

func (c *localCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return e.value, nil
}

func (c *localCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *localCache) IncrementWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	if e, ok := c.live(key); ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to increment with TTL: %w", err)
		}
		n = parsed
	}
	n++
	c.entries[key] = localEntry{value: strconv.FormatInt(n, 10), expiresAt: c.expiry(ttl)}
	return n, nil
}

func (c *localCache) Close() error {
	return nil
}

func (c *localCache) Ping(_ context.Context) error {
	return nil
}

// live must be called with mu held. Expired entries are dropped on access.
func (c *localCache) live(key string) (localEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return localEntry{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return localEntry{}, false
	}
	return e, true
}

func (c *localCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}
