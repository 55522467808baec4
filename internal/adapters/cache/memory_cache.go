package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/secwatch/account-security/internal/domain"
)

type memoryEntry struct {
	key       string
	result    domain.ScanResult
	expiresAt time.Time
}

// MemoryScanCache is a size-bounded LRU with per-entry TTL
type MemoryScanCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front is most recently used
	now      func() time.Time
}

// NewMemoryScanCache creates a cache holding at most capacity results
func NewMemoryScanCache(capacity int, ttl time.Duration) *MemoryScanCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryScanCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns a copy of the cached result, nil on a miss or expiry
func (c *MemoryScanCache) Get(_ context.Context, fingerprint, normalizedURL string) (*domain.ScanResult, error) {
	key := scanKey(fingerprint, normalizedURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*memoryEntry)
	if c.now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.items, key)
		return nil, nil
	}
	c.order.MoveToFront(elem)

	result := entry.result
	result.Features = copyFeatures(entry.result.Features)
	return &result, nil
}

// Set stores a copy of result, evicting the least recently used entry when full
func (c *MemoryScanCache) Set(_ context.Context, fingerprint, normalizedURL string, result *domain.ScanResult) error {
	key := scanKey(fingerprint, normalizedURL)
	stored := *result
	stored.Features = copyFeatures(result.Features)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.result = stored
		entry.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return nil
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryEntry).key)
	}

	c.items[key] = c.order.PushFront(&memoryEntry{
		key:       key,
		result:    stored,
		expiresAt: c.now().Add(c.ttl),
	})
	return nil
}

// Len returns the number of entries, expired ones included
func (c *MemoryScanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close is a no-op
func (c *MemoryScanCache) Close() error { return nil }

func copyFeatures(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
