// Package cache implements the content-hash keyed scan cache: a
// (scanner_id x file) -> findings store with TTL and LRU eviction, backed
// by a local atomically-rewritten JSON file by default, with an optional
// Redis backend (go-redis/v9) for multi-host deployments. Built on the
// content-hash-keyed drift idiom and the atomic-JSON-persistence
// convention used throughout the reporting package.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hydra-audit/hydra/internal/core"
	"github.com/hydra-audit/hydra/internal/hashutil"
)

const (
	SchemaVersion    = 1
	DefaultCapacity  = 5000
	DefaultTTL       = 24 * time.Hour
)

// Stats reports cumulative counters, reset only by process restart.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is the contract every backend (local file, Redis) implements.
type Cache interface {
	Lookup(ctx context.Context, scannerID, filePath string, fileBytes []byte) ([]core.Finding, bool)
	Put(ctx context.Context, scannerID, filePath string, fileBytes []byte, findings []core.Finding, ttl time.Duration) error
	InvalidateScanner(ctx context.Context, scannerID string) error
	InvalidateAll(ctx context.Context) error
	Flush() error
	Stats() Stats
}

// entry is one cached (scanner_id, file_path, content_hash) -> findings
// record.
type entry struct {
	Key         string         `json:"-"`
	ScannerID   string         `json:"scanner_id"`
	FilePath    string         `json:"file_path"`
	ContentHash string         `json:"content_hash"`
	Findings    []core.Finding `json:"findings"`
	CachedAt    time.Time      `json:"cached_at"`
	TTL         time.Duration  `json:"ttl_ns"`
}

func (e *entry) expired(now time.Time) bool {
	ttl := e.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.After(e.CachedAt.Add(ttl))
}

// diskStore is the on-disk JSON shape written under .hydra/scan-cache/.
type diskStore struct {
	SchemaVersion int              `json:"schema_version"`
	Entries       map[string]entry `json:"entries"`
}

// FileCache is the default local backend: an in-memory LRU with a JSON
// snapshot flushed to disk.
type FileCache struct {
	mu       sync.Mutex
	path     string
	capacity int

	byKey map[string]*list.Element // key -> element wrapping *entry
	lru   *list.List               // front = most recently used

	dirty bool
	stats Stats
}

// key computes scanner_id:hash12(file_path):content_hash, so that
// distinct paths with identical content never collide.
func key(scannerID, filePath, contentHash string) string {
	return scannerID + ":" + hashutil.Short12(filePath) + ":" + contentHash
}

// NewFileCache opens (or prepares to create) a file cache backed by
// <hydraDir>/scan-cache/cache.json. It does not read from disk until Load
// is called.
func NewFileCache(hydraDir string, capacity int) *FileCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &FileCache{
		path:     filepath.Join(hydraDir, "scan-cache", "cache.json"),
		capacity: capacity,
		byKey:    map[string]*list.Element{},
		lru:      list.New(),
	}
}

// Load reads the persisted store. A missing file or a schema version
// mismatch yields an empty cache with no error.
func (c *FileCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var ds diskStore
	if err := json.Unmarshal(data, &ds); err != nil || ds.SchemaVersion != SchemaVersion {
		return nil
	}
	for k, e := range ds.Entries {
		e := e
		e.Key = k
		el := c.lru.PushFront(&e)
		c.byKey[k] = el
	}
	return nil
}

func (c *FileCache) Lookup(ctx context.Context, scannerID, filePath string, fileBytes []byte) ([]core.Finding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(scannerID, filePath, hashutil.Content(fileBytes))
	el, ok := c.byKey[k]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if e.expired(time.Now()) {
		c.removeLocked(el)
		c.stats.Evictions++
		c.stats.Misses++
		return nil, false
	}
	c.lru.MoveToFront(el)
	c.stats.Hits++
	return e.Findings, true
}

func (c *FileCache) Put(ctx context.Context, scannerID, filePath string, fileBytes []byte, findings []core.Finding, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(scannerID, filePath, hashutil.Content(fileBytes))
	e := &entry{
		Key:         k,
		ScannerID:   scannerID,
		FilePath:    filePath,
		ContentHash: hashutil.Content(fileBytes),
		Findings:    findings,
		CachedAt:    time.Now(),
		TTL:         ttl,
	}

	if el, ok := c.byKey[k]; ok {
		el.Value = e
		c.lru.MoveToFront(el)
	} else {
		el := c.lru.PushFront(e)
		c.byKey[k] = el
	}
	c.dirty = true

	for c.lru.Len() > c.capacity {
		back := c.lru.Back()
		if back == nil {
			break
		}
		c.removeLocked(back)
		c.stats.Evictions++
	}
	return nil
}

func (c *FileCache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.byKey, e.Key)
	c.lru.Remove(el)
}

func (c *FileCache) InvalidateScanner(ctx context.Context, scannerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, el := range c.byKey {
		if el.Value.(*entry).ScannerID == scannerID {
			c.lru.Remove(el)
			delete(c.byKey, k)
			c.dirty = true
		}
	}
	return nil
}

func (c *FileCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byKey = map[string]*list.Element{}
	c.lru = list.New()
	c.dirty = true
	return nil
}

// Flush persists the cache to disk via write-tempfile-then-rename, only if
// dirty since the last flush.
func (c *FileCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	ds := diskStore{SchemaVersion: SchemaVersion, Entries: map[string]entry{}}
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		ds.Entries[e.Key] = *e
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

func (c *FileCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
