// Package memory keeps past (situation, lesson) pairs and retrieves the
// ones closest to a new situation.
package memory

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dyike/stockdesk/internal/llm"
)

type Match struct {
	Situation string  `json:"situation"`
	Lesson    string  `json:"lesson"`
	Score     float64 `json:"score"`
}

// SimilarityStore is a bounded similarity-indexed store.
type SimilarityStore interface {
	Add(ctx context.Context, situation, lesson string) error
	Query(ctx context.Context, situation string, k int) ([]Match, error)
	Len() int
}

type entry struct {
	situation string
	lesson    string
	created   time.Time
	vec       vector
}

// Store is the in-memory SimilarityStore. Inserts and retrieval hits
// count as use; when full the least recently used entry goes.
type Store struct {
	capacity int
	embedder llm.Embedder

	mu    sync.Mutex
	order *list.List // front = most recently used
}

type Option func(*Store)

// WithEmbedder replaces the built-in term-frequency similarity.
func WithEmbedder(e llm.Embedder) Option {
	return func(s *Store) { s.embedder = e }
}

func NewStore(capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = 500
	}
	s := &Store{capacity: capacity, order: list.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) embed(ctx context.Context, text string) (vector, error) {
	if s.embedder == nil {
		return termVector(text), nil
	}
	v, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return denseVector(v), nil
}

func (s *Store) Add(ctx context.Context, situation, lesson string) error {
	vec, err := s.embed(ctx, situation)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.PushFront(&entry{situation: situation, lesson: lesson, created: time.Now(), vec: vec})
	for s.order.Len() > s.capacity {
		s.order.Remove(s.order.Back())
	}
	return nil
}

// Query returns up to k entries ranked by similarity, best first. Entries
// with no overlap at all are left out.
func (s *Store) Query(ctx context.Context, situation string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := s.embed(ctx, situation)
	if err != nil {
		return nil, err
	}

	type scored struct {
		el    *list.Element
		e     *entry
		score float64
	}
	s.mu.Lock()
	snapshot := make([]scored, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		snapshot = append(snapshot, scored{el: el, e: el.Value.(*entry)})
	}
	s.mu.Unlock()

	hits := snapshot[:0]
	for _, c := range snapshot {
		c.score = cosine(vec, c.e.vec)
		if c.score > 0 {
			hits = append(hits, c)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]Match, 0, len(hits))
	s.mu.Lock()
	for _, h := range hits {
		// no-op for elements evicted since the snapshot
		s.order.MoveToFront(h.el)
		out = append(out, Match{Situation: h.e.situation, Lesson: h.e.lesson, Score: h.score})
	}
	s.mu.Unlock()
	return out, nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
