package agents

import "github.com/dyike/stockdesk/consts"

// Roster is the full cast of one desk. Roles are stateless, so a roster
// is shared by every run.
type Roster struct {
	analysts map[string]*Analyst
	Bull     *Debater
	Bear     *Debater
	Judge    *Judge
	Trader   *Trader
	// Committee speaks in rotation order.
	Committee []*RiskDebater
	Manager   *RiskManager

	byID map[string]Role
}

func NewRoster() *Roster {
	r := &Roster{
		analysts:  map[string]*Analyst{},
		Bull:      NewBullResearcher(),
		Bear:      NewBearResearcher(),
		Judge:     NewResearchManager(),
		Trader:    NewTrader(),
		Committee: []*RiskDebater{NewAggressiveDebater(), NewConservativeDebater(), NewNeutralDebater()},
		Manager:   NewRiskManager(),
		byID:      map[string]Role{},
	}
	for _, name := range consts.AnalystOrder {
		a, _ := NewAnalyst(name)
		r.analysts[name] = a
		r.byID[a.ID()] = a
	}
	for _, role := range []Role{r.Bull, r.Bear, r.Judge, r.Trader, r.Manager} {
		r.byID[role.ID()] = role
	}
	for _, d := range r.Committee {
		r.byID[d.ID()] = d
	}
	return r
}

// Analyst returns the analyst for a selection name, or nil.
func (r *Roster) Analyst(name string) *Analyst { return r.analysts[name] }

// Get looks a role up by node id.
func (r *Roster) Get(id string) (Role, bool) {
	role, ok := r.byID[id]
	return role, ok
}

// Roles lists every role in pipeline order.
func (r *Roster) Roles() []Role {
	out := make([]Role, 0, len(r.byID))
	for _, name := range consts.AnalystOrder {
		out = append(out, r.analysts[name])
	}
	out = append(out, r.Bull, r.Bear, r.Judge, r.Trader)
	for _, d := range r.Committee {
		out = append(out, d)
	}
	return append(out, r.Manager)
}
