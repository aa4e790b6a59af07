package rules

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"crisiswatch/pkg/models"
)

// StaticRepository holds the rule set in process memory. It backs the
// monitor when no PostgreSQL registry is configured; mutations are lost on
// restart.
type StaticRepository struct {
	mu    sync.RWMutex
	rules map[string]models.AlertRule
}

func NewStaticRepository(seed []models.AlertRule) *StaticRepository {
	r := &StaticRepository{rules: make(map[string]models.AlertRule)}
	for _, rule := range seed {
		r.rules[rule.ID] = rule
	}
	return r
}

func (r *StaticRepository) EnsureSchema(context.Context) error { return nil }

func (r *StaticRepository) SeedBuiltinRules(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rule := range BuiltinRules() {
		if _, ok := r.rules[rule.ID]; !ok {
			r.rules[rule.ID] = rule
		}
	}
	return nil
}

func (r *StaticRepository) GetActiveRules(context.Context) ([]models.AlertRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.AlertRule
	for _, rule := range r.rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *StaticRepository) GetAllRules(context.Context) ([]models.AlertRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AlertRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	return out, nil
}

func (r *StaticRepository) GetRule(_ context.Context, id string) (*models.AlertRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rule, nil
}

func (r *StaticRepository) CreateRule(_ context.Context, rule models.AlertRule) (*models.AlertRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	r.rules[rule.ID] = rule
	return &rule, nil
}

func (r *StaticRepository) UpdateRule(_ context.Context, rule models.AlertRule) (*models.AlertRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rules[rule.ID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	r.rules[rule.ID] = rule
	return &rule, nil
}
