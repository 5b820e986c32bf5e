package batch

import (
	"context"
	"sync"
	"time"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
)

// Snapshots is a per-cart view of the adapter that remembers each product's
// batch list until the cart is cleared or a refresh is requested.
type Snapshots struct {
	adapter *Adapter
	cache   cache.BatchCache
	scope   string
	ttl     time.Duration

	mu   sync.Mutex
	keys map[string]struct{}
}

func (a *Adapter) Scoped(c cache.BatchCache, scope string, ttl time.Duration) *Snapshots {
	if c == nil {
		c = cache.NewMemoryBatchCache()
	}
	return &Snapshots{
		adapter: a,
		cache:   c,
		scope:   scope,
		ttl:     ttl,
		keys:    make(map[string]struct{}),
	}
}

func (s *Snapshots) Today() time.Time {
	return s.adapter.Today()
}

func (s *Snapshots) Now() time.Time {
	return s.adapter.Now()
}

// Snapshot returns the cached batch list for the product, fetching it on
// first use. Cache failures are treated as misses.
func (s *Snapshots) Snapshot(ctx context.Context, productID string) (domain.BatchSnapshot, error) {
	key := cache.BatchKey(s.scope, productID)
	if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return *cached, nil
	}
	return s.fetch(ctx, productID)
}

// Refresh drops any cached list for the product and fetches it again.
func (s *Snapshots) Refresh(ctx context.Context, productID string) (domain.BatchSnapshot, error) {
	_ = s.cache.Delete(ctx, cache.BatchKey(s.scope, productID))
	return s.fetch(ctx, productID)
}

func (s *Snapshots) fetch(ctx context.Context, productID string) (domain.BatchSnapshot, error) {
	snap, err := s.adapter.Lookup(ctx, productID)
	if err != nil {
		return domain.BatchSnapshot{}, err
	}
	key := cache.BatchKey(s.scope, productID)
	if err := s.cache.Set(ctx, key, &snap, s.ttl); err == nil {
		s.mu.Lock()
		s.keys[key] = struct{}{}
		s.mu.Unlock()
	}
	return snap, nil
}

// Invalidate forgets every snapshot taken through this view.
func (s *Snapshots) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}
	s.keys = make(map[string]struct{})
	s.mu.Unlock()

	return s.cache.Delete(ctx, keys...)
}

// Tracked lists the product ids with a live snapshot in this view.
func (s *Snapshots) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
