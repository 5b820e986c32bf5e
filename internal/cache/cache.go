package cache

import (
	"context"
	"sync"
	"time"

	"retailpos/backend/internal/domain"
)

// BatchCache stores short-lived batch snapshots keyed by session and product.
type BatchCache interface {
	Get(ctx context.Context, key string) (*domain.BatchSnapshot, bool, error)
	Set(ctx context.Context, key string, value *domain.BatchSnapshot, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

func BatchKey(scope string, productID string) string {
	return "pos:batches:" + scope + ":" + productID
}

type NoopBatchCache struct{}

func (NoopBatchCache) Get(_ context.Context, _ string) (*domain.BatchSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopBatchCache) Set(_ context.Context, _ string, _ *domain.BatchSnapshot, _ time.Duration) error {
	return nil
}

func (NoopBatchCache) Delete(_ context.Context, _ ...string) error {
	return nil
}

type memoryEntry struct {
	snapshot  domain.BatchSnapshot
	expiresAt time.Time
}

// MemoryBatchCache is the in-process default used when Redis is not
// configured.
type MemoryBatchCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryBatchCache() *MemoryBatchCache {
	return &MemoryBatchCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryBatchCache) Get(_ context.Context, key string) (*domain.BatchSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	snap := cloneSnapshot(entry.snapshot)
	return &snap, true, nil
}

func (c *MemoryBatchCache) Set(_ context.Context, key string, value *domain.BatchSnapshot, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	entry := memoryEntry{snapshot: cloneSnapshot(*value)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryBatchCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

func (c *MemoryBatchCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cloneSnapshot(src domain.BatchSnapshot) domain.BatchSnapshot {
	dup := src
	dup.Batches = make([]domain.Batch, len(src.Batches))
	for i, b := range src.Batches {
		if b.ExpiryDate != nil {
			expiry := *b.ExpiryDate
			b.ExpiryDate = &expiry
		}
		dup.Batches[i] = b
	}
	return dup
}
