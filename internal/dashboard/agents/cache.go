package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"queue_dashboard_backend/internal/dashboard/domain"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "dashboard:agent:"

// MemoryCache is a process-local TTL cache.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	agent     domain.Agent
	expiresAt time.Time
}

// NewMemoryCache creates a cache whose entries expire after ttl.
// A non-positive ttl keeps entries forever.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, userID string) (domain.Agent, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[userID]
	if !ok {
		return domain.Agent{}, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, userID)
		return domain.Agent{}, false, nil
	}
	return entry.agent, true, nil
}

func (c *MemoryCache) Set(_ context.Context, userID string, agent domain.Agent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := memoryEntry{agent: agent}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.entries[userID] = entry
	return nil
}

// RedisCache shares resolved agents between dashboard instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// NewRedisCacheFromURL parses a redis:// URL and verifies the connection.
func NewRedisCacheFromURL(ctx context.Context, rawURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCache(client, ttl), nil
}

func (c *RedisCache) Get(ctx context.Context, userID string) (domain.Agent, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Agent{}, false, nil
	}
	if err != nil {
		return domain.Agent{}, false, err
	}
	var agent domain.Agent
	if err := json.Unmarshal(raw, &agent); err != nil {
		return domain.Agent{}, false, fmt.Errorf("decode cached agent: %w", err)
	}
	return agent, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, agent domain.Agent) error {
	raw, err := json.Marshal(agent)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+userID, raw, c.ttl).Err()
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
