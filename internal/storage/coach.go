package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dyike/stockdesk/internal/models"
)

// GetCoachPlans returns the plans filed for date, keyed by coach id.
// A date with no plans yields an empty map.
func (s *Store) GetCoachPlans(ctx context.Context, date string) (map[string]models.CoachPlan, error) {
	if strings.TrimSpace(date) == "" {
		return nil, fmt.Errorf("plan date is required")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT coach_id, plan, charts_json
FROM coach_plans
WHERE plan_date = ?
ORDER BY coach_id ASC
`, date)
	if err != nil {
		return nil, fmt.Errorf("list coach plans: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.CoachPlan)
	for rows.Next() {
		var (
			id, plan, charts string
			p                models.CoachPlan
		)
		if err := rows.Scan(&id, &plan, &charts); err != nil {
			return nil, fmt.Errorf("scan coach plan: %w", err)
		}
		p.Plan = plan
		if err := json.Unmarshal([]byte(charts), &p.Charts); err != nil {
			return nil, fmt.Errorf("decode charts for %s: %w", id, err)
		}
		if p.Charts == nil {
			p.Charts = []string{}
		}
		out[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list coach plans rows: %w", err)
	}
	return out, nil
}

// SaveCoachPlan files or replaces one coach's plan for date.
func (s *Store) SaveCoachPlan(ctx context.Context, date, coachID string, plan models.CoachPlan) error {
	if strings.TrimSpace(date) == "" || strings.TrimSpace(coachID) == "" {
		return fmt.Errorf("plan date and coach id are required")
	}
	charts := plan.Charts
	if charts == nil {
		charts = []string{}
	}
	raw, err := json.Marshal(charts)
	if err != nil {
		return fmt.Errorf("encode charts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO coach_plans (plan_date, coach_id, plan, charts_json)
VALUES (?, ?, ?, ?)
ON CONFLICT(plan_date, coach_id) DO UPDATE SET
    plan=excluded.plan,
    charts_json=excluded.charts_json
`, date, coachID, plan.Plan, string(raw))
	if err != nil {
		return fmt.Errorf("insert coach plan: %w", err)
	}
	return nil
}

// StaticSource serves coach plans from memory, keyed by date.
type StaticSource map[string]map[string]models.CoachPlan

func (s StaticSource) GetCoachPlans(_ context.Context, date string) (map[string]models.CoachPlan, error) {
	plans := s[date]
	out := make(map[string]models.CoachPlan, len(plans))
	for _, id := range slices.Sorted(maps.Keys(plans)) {
		p := plans[id]
		p.Charts = slices.Clone(p.Charts)
		out[id] = p
	}
	return out, nil
}
