package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hydra-audit/hydra/internal/core"
	"github.com/hydra-audit/hydra/internal/hashutil"
)

// RedisCache is the optional distributed backend for deployments running
// more than one Hydra instance against the same repositories. Redis's own
// key expiry (SET ... EX) subsumes the local cache's TTL bookkeeping, and
// its keyspace subsumes LRU eviction (the local cache's 5,000-entry cap is
// a single-process concern; a shared Redis instance is expected to be
// sized by the operator instead).
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	hits      int64
	misses    int64
	evictions int64
}

// NewRedisCache connects to the given Redis address. keyPrefix namespaces
// keys so multiple Hydra deployments can share one Redis instance.
func NewRedisCache(addr, keyPrefix string) *RedisCache {
	return &RedisCache{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		keyPrefix: keyPrefix,
	}
}

type redisEntry struct {
	Findings []core.Finding `json:"findings"`
}

func (c *RedisCache) redisKey(scannerID, filePath, contentHash string) string {
	return c.keyPrefix + ":" + key(scannerID, filePath, contentHash)
}

func (c *RedisCache) Lookup(ctx context.Context, scannerID, filePath string, fileBytes []byte) ([]core.Finding, bool) {
	k := c.redisKey(scannerID, filePath, hashutil.Content(fileBytes))
	data, err := c.client.Get(ctx, k).Bytes()
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	var re redisEntry
	if err := json.Unmarshal(data, &re); err != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	return re.Findings, true
}

func (c *RedisCache) Put(ctx context.Context, scannerID, filePath string, fileBytes []byte, findings []core.Finding, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := c.redisKey(scannerID, filePath, hashutil.Content(fileBytes))
	data, err := json.Marshal(redisEntry{Findings: findings})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, k, data, ttl).Err()
}

func (c *RedisCache) InvalidateScanner(ctx context.Context, scannerID string) error {
	pattern := c.keyPrefix + ":" + scannerID + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	atomic.AddInt64(&c.evictions, int64(len(keys)))
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	pattern := c.keyPrefix + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	atomic.AddInt64(&c.evictions, int64(len(keys)))
	return c.client.Del(ctx, keys...).Err()
}

// Flush is a no-op: Redis persists each write immediately.
func (c *RedisCache) Flush() error { return nil }

func (c *RedisCache) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}
