package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is one cached value. Expiry is checked lazily on read.
type Entry struct {
	Key       string        `json:"key"`
	Value     []byte        `json:"value"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// LRU is a sharded least-recently-used cache. Expired entries stay resident
// until evicted or purged so they can still back a stale read.
type LRU struct {
	shards []*shard
	now    func() time.Time

	hits        atomic.Uint64
	misses      atomic.Uint64
	staleServes atomic.Uint64
	evictions   atomic.Uint64
	purged      atomic.Uint64
}

type shard struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[string]*list.Element
}

type Option func(*LRU)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *LRU) { c.now = now }
}

// WithShards fixes the shard count. Capacity is split evenly between shards.
func WithShards(n int) Option {
	return func(c *LRU) {
		if n > 0 {
			c.shards = make([]*shard, n)
		}
	}
}

func NewLRU(capacity int, opts ...Option) *LRU {
	if capacity <= 0 {
		capacity = 1
	}
	c := &LRU{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.shards == nil {
		n := 1
		if capacity >= 256 {
			n = 16
		}
		c.shards = make([]*shard, n)
	}
	per := capacity / len(c.shards)
	if per < 1 {
		per = 1
	}
	for i := range c.shards {
		c.shards[i] = &shard{cap: per, ll: list.New(), items: make(map[string]*list.Element)}
	}
	return c
}

func (c *LRU) shardFor(key string) *shard {
	if len(c.shards) == 1 {
		return c.shards[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get returns a fresh entry.
func (c *LRU) Get(key string) (Entry, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	e := el.Value.(*Entry)
	if e.Expired(c.now()) {
		c.misses.Add(1)
		return Entry{}, false
	}
	s.ll.MoveToFront(el)
	c.hits.Add(1)
	return *e, true
}

// GetStale returns the entry whether or not it has expired.
func (c *LRU) GetStale(key string) (Entry, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return Entry{}, false
	}
	c.staleServes.Add(1)
	return *el.Value.(*Entry), true
}

func (c *LRU) Set(key string, value []byte, ttl time.Duration) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &Entry{Key: key, Value: value, CreatedAt: c.now(), TTL: ttl}
	if el, ok := s.items[key]; ok {
		el.Value = entry
		s.ll.MoveToFront(el)
		return
	}
	s.items[key] = s.ll.PushFront(entry)
	for s.ll.Len() > s.cap {
		oldest := s.ll.Back()
		s.ll.Remove(oldest)
		delete(s.items, oldest.Value.(*Entry).Key)
		c.evictions.Add(1)
	}
}

func (c *LRU) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.ll.Remove(el)
		delete(s.items, key)
	}
}

// Purge drops entries that expired more than grace ago and returns how many went.
func (c *LRU) Purge(grace time.Duration) int {
	now := c.now()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, el := range s.items {
			e := el.Value.(*Entry)
			if e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL+grace {
				s.ll.Remove(el)
				delete(s.items, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	c.purged.Add(uint64(removed))
	return removed
}

func (c *LRU) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.ll.Len()
		s.mu.Unlock()
	}
	return n
}

func (c *LRU) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.ll.Init()
		s.items = make(map[string]*list.Element)
		s.mu.Unlock()
	}
}

type Stats struct {
	Entries     int    `json:"entries"`
	Capacity    int    `json:"capacity"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	StaleServes uint64 `json:"stale_serves"`
	Evictions   uint64 `json:"evictions"`
	Purged      uint64 `json:"purged"`
}

func (c *LRU) Stats() Stats {
	capacity := 0
	for _, s := range c.shards {
		capacity += s.cap
	}
	return Stats{
		Entries:     c.Len(),
		Capacity:    capacity,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		StaleServes: c.staleServes.Load(),
		Evictions:   c.evictions.Load(),
		Purged:      c.purged.Load(),
	}
}
