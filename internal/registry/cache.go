package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/clockz"
)

// IDCache holds the ordered list of active gateway ids.
// A miss (ok == false) makes the registry rebuild the list from the store.
type IDCache interface {
	Get(ctx context.Context) (ids []int64, ok bool, err error)
	Set(ctx context.Context, ids []int64) error
	Invalidate(ctx context.Context) error
}

// NoCache never hits.
type NoCache struct{}

func (NoCache) Get(context.Context) ([]int64, bool, error) { return nil, false, nil }
func (NoCache) Set(context.Context, []int64) error { return nil }
func (NoCache) Invalidate(context.Context) error { return nil }

// MemoryIDCache is a process-local TTL cache.
type MemoryIDCache struct {
	ttl   time.Duration
	clock clockz.Clock

	mu      sync.RWMutex
	ids     []int64
	valid   bool
	expires time.Time
}

// NewMemoryIDCache creates a cache whose entries live for ttl. A nil clock uses the real clock.
func NewMemoryIDCache(ttl time.Duration, clock clockz.Clock) *MemoryIDCache {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &MemoryIDCache{ttl: ttl, clock: clock}
}

func (c *MemoryIDCache) Get(context.Context) ([]int64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid || !c.clock.Now().Before(c.expires) {
		return nil, false, nil
	}
	return append([]int64(nil), c.ids...), true, nil
}

func (c *MemoryIDCache) Set(_ context.Context, ids []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append([]int64(nil), ids...)
	c.valid = true
	c.expires = c.clock.Now().Add(c.ttl)
	return nil
}

func (c *MemoryIDCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = nil
	c.valid = false
	return nil
}

// DefaultRedisKey is the key used when none is configured.
const DefaultRedisKey = "multigateway:active_gateway_ids"

// RedisIDCache shares the active id list between service instances so that an
// admin write on one instance invalidates the list for all of them.
type RedisIDCache struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisIDCache parses url and returns a cache stored under key.
func NewRedisIDCache(url, key string, ttl time.Duration) (*RedisIDCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisIDCacheWithClient(redis.NewClient(opt), key, ttl), nil
}

// NewRedisIDCacheWithClient wraps an existing client.
func NewRedisIDCacheWithClient(client redis.UniversalClient, key string, ttl time.Duration) *RedisIDCache {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisIDCache{client: client, key: key, ttl: ttl}
}

func (c *RedisIDCache) Get(ctx context.Context) ([]int64, bool, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read active gateway ids: %w", err)
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false, fmt.Errorf("failed to decode active gateway ids: %w", err)
	}
	return ids, true, nil
}

func (c *RedisIDCache) Set(ctx context.Context, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode active gateway ids: %w", err)
	}
	return c.client.Set(ctx, c.key, data, c.ttl).Err()
}

func (c *RedisIDCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

// Ping checks connectivity to redis.
func (c *RedisIDCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *RedisIDCache) Close() error {
	return c.client.Close()
}
