package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
)

func sampleSnapshot() *domain.BatchSnapshot {
	expiry := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	return &domain.BatchSnapshot{
		ProductID: "p-1",
		Fetched:   2,
		Expired:   1,
		Batches: []domain.Batch{{
			ProductID:       "p-1",
			BatchNumber:     "B1",
			CostPrice:       decimal.NewFromInt(10),
			SellingPrice:    decimal.NewFromInt(15),
			CurrentQuantity: 2,
			ExpiryDate:      &expiry,
		}},
	}
}

func TestMemoryBatchCacheExpiresEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	c := NewMemoryBatchCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, BatchKey("s1", "p-1"), sampleSnapshot(), time.Minute))

	got, ok, err := c.Get(ctx, BatchKey("s1", "p-1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B1", got.Batches[0].BatchNumber)

	now = now.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, BatchKey("s1", "p-1"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryBatchCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryBatchCache()
	require.NoError(t, c.Set(ctx, "k", sampleSnapshot(), 0))

	got, _, _ := c.Get(ctx, "k")
	got.Batches[0].CurrentQuantity = 99

	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, 2, again.Batches[0].CurrentQuantity)
}

func TestMemoryBatchCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryBatchCache()
	require.NoError(t, c.Set(ctx, "a", sampleSnapshot(), 0))
	require.NoError(t, c.Set(ctx, "b", sampleSnapshot(), 0))
	require.NoError(t, c.Delete(ctx, "a", "b", "missing"))
	assert.Equal(t, 0, c.Len())
}

type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	val, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisBatchCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	c := &RedisBatchCache{client: fake}

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	key := BatchKey("sess", "p-1")
	require.NoError(t, c.Set(ctx, key, sampleSnapshot(), 5*time.Minute))
	assert.Equal(t, 5*time.Minute, fake.ttls[key])

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Batches, 1)
	assert.True(t, got.Batches[0].SellingPrice.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, 1, got.Expired)

	require.NoError(t, c.Delete(ctx, key))
	_, ok, _ = c.Get(ctx, key)
	assert.False(t, ok)
}

func TestRedisBatchCacheRejectsCorruptPayload(t *testing.T) {
	fake := newFakeRedis()
	fake.values["bad"] = "{not json"
	c := &RedisBatchCache{client: fake}

	_, ok, err := c.Get(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, ok)
}
