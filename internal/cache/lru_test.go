package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestLRULazyExpiryAndStale(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)}
	c := NewLRU(8, WithClock(clock.Now))

	c.Set("k", []byte("v1"), 30*time.Second)
	e, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), e.Value)

	clock.Advance(31 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "expired entry must not be served fresh")

	stale, ok := c.GetStale("k")
	require.True(t, ok, "expired entry stays available for stale reads")
	assert.Equal(t, []byte("v1"), stale.Value)
	assert.True(t, stale.Expired(clock.Now()))
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(2)
	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", []byte("3"), time.Minute)

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestLRUPurge(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewLRU(8, WithClock(clock.Now))
	c.Set("short", []byte("x"), time.Second)
	c.Set("long", []byte("y"), time.Hour)

	clock.Advance(time.Minute)
	assert.Equal(t, 1, c.Purge(10*time.Second))
	assert.Equal(t, 1, c.Len())
}

func TestLRUShardedCapacity(t *testing.T) {
	c := NewLRU(1024)
	for i := 0; i < 5000; i++ {
		c.Set(fmt.Sprintf("key-%d", i), []byte("v"), time.Minute)
	}
	assert.LessOrEqual(t, c.Len(), 1024)
	assert.Equal(t, 1024, c.Stats().Capacity)
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := NewLRU(512)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k-%d", i%50)
				c.Set(key, []byte(key), time.Minute)
				if e, ok := c.Get(key); ok {
					assert.Equal(t, key, string(e.Value))
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(4)
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
