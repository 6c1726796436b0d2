package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockdesk/internal/models"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "stockdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestCoachPlans(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCoachPlan(ctx, "2024-05-10", "coach-a", models.CoachPlan{Plan: "long above 150", Charts: []string{"https://example.com/a.png"}}))
	require.NoError(t, s.SaveCoachPlan(ctx, "2024-05-10", "coach-b", models.CoachPlan{Plan: "flat"}))
	require.NoError(t, s.SaveCoachPlan(ctx, "2024-05-10", "coach-a", models.CoachPlan{Plan: "long above 151", Charts: []string{"https://example.com/b.png"}}))

	plans, err := s.GetCoachPlans(ctx, "2024-05-10")
	require.NoError(t, err)
	assert.Equal(t, map[string]models.CoachPlan{
		"coach-a": {Plan: "long above 151", Charts: []string{"https://example.com/b.png"}},
		"coach-b": {Plan: "flat", Charts: []string{}},
	}, plans)

	empty, err := s.GetCoachPlans(ctx, "2024-05-11")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStaticSourceCopies(t *testing.T) {
	src := StaticSource{"2024-05-10": {"c": {Plan: "p", Charts: []string{"u"}}}}
	got, err := src.GetCoachPlans(context.Background(), "2024-05-10")
	require.NoError(t, err)
	got["c"].Charts[0] = "changed"
	assert.Equal(t, "u", src["2024-05-10"]["c"].Charts[0])
}
