package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/dyike/stockdesk/consts"
)

// RoleMemories holds one store per role that learns from outcomes.
type RoleMemories struct {
	mu     sync.RWMutex
	stores map[string]SimilarityStore
	newFn  func() SimilarityStore
}

// LearningRoles are the roles that receive reflections.
var LearningRoles = []string{
	consts.BullResearcher,
	consts.BearResearcher,
	consts.ResearchManager,
	consts.Trader,
	consts.RiskJudge,
}

func NewRoleMemories(capacity int, opts ...Option) *RoleMemories {
	return &RoleMemories{
		stores: map[string]SimilarityStore{},
		newFn:  func() SimilarityStore { return NewStore(capacity, opts...) },
	}
}

// For returns the role's store, creating it on first use. A nil receiver
// returns nil so callers can run without memory.
func (m *RoleMemories) For(role string) SimilarityStore {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	s, ok := m.stores[role]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.stores[role]; !ok {
		s = m.newFn()
		m.stores[role] = s
	}
	return s
}

// Set installs a custom store for a role.
func (m *RoleMemories) Set(role string, s SimilarityStore) {
	m.mu.Lock()
	m.stores[role] = s
	m.mu.Unlock()
}

// Recall formats the top k lessons for a role as a numbered list. Errors
// and an absent store yield an empty string.
func Recall(ctx context.Context, store SimilarityStore, situation string, k int) string {
	if store == nil || situation == "" {
		return ""
	}
	matches, err := store.Query(ctx, situation, k)
	if err != nil || len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	for i, m := range matches {
		b.WriteString(strconv.Itoa(i+1) + ". " + m.Lesson + "\n")
	}
	return strings.TrimSpace(b.String())
}
