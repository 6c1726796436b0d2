package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	s := NewStore(10)
	require.NoError(t, s.Add(ctx, "rising rates hurt growth stocks valuation", "trim tech on rate spikes"))
	require.NoError(t, s.Add(ctx, "oil supply shock energy rally", "energy momentum fades fast"))
	require.NoError(t, s.Add(ctx, "earnings beat strong guidance", "buy strength after beats"))

	got, err := s.Query(ctx, "rates rising again, growth valuation under pressure", 2)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "trim tech on rate spikes", got[0].Lesson)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	s := NewStore(2)
	require.NoError(t, s.Add(ctx, "alpha market", "a"))
	require.NoError(t, s.Add(ctx, "bravo market", "b"))

	// touching alpha makes bravo the eviction candidate
	_, err := s.Query(ctx, "alpha", 1)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "charlie market", "c"))
	assert.Equal(t, 2, s.Len())

	got, err := s.Query(ctx, "bravo", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = s.Query(ctx, "alpha", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestQueryEmptyAndZeroK(t *testing.T) {
	s := NewStore(3)
	got, err := s.Query(context.Background(), "anything", 2)
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = s.Query(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

type fixedEmbedder struct{ err error }

func (f fixedEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float64{float64(len(text)), 1}, nil
}

func TestEmbedderIsUsed(t *testing.T) {
	ctx := context.Background()
	s := NewStore(3, WithEmbedder(fixedEmbedder{}))
	require.NoError(t, s.Add(ctx, "abc", "lesson"))
	got, err := s.Query(ctx, "xyz", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)

	bad := NewStore(3, WithEmbedder(fixedEmbedder{err: errors.New("down")}))
	require.Error(t, bad.Add(ctx, "abc", "lesson"))
}

func TestConcurrentAddAndQuery(t *testing.T) {
	ctx := context.Background()
	s := NewStore(50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Add(ctx, fmt.Sprintf("market regime %d volatility", i), "lesson")
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Query(ctx, "market volatility", 3)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, s.Len())
}

func TestRoleMemoriesAndRecall(t *testing.T) {
	ctx := context.Background()
	m := NewRoleMemories(5)
	bull := m.For("bull_researcher")
	assert.Same(t, bull, m.For("bull_researcher"))
	require.NoError(t, bull.Add(ctx, "tech selloff on rates", "wait for rates to settle"))

	assert.Equal(t, "1. wait for rates to settle", Recall(ctx, bull, "rates selloff", 2))
	assert.Empty(t, Recall(ctx, m.For("bear_researcher"), "rates", 2))
	assert.Empty(t, Recall(ctx, nil, "rates", 2))

	var none *RoleMemories
	assert.Nil(t, none.For("trader"))
}
