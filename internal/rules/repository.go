package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crisiswatch/internal/constants"
	"crisiswatch/pkg/models"
)

type Repository interface {
	GetActiveRules(ctx context.Context) ([]models.AlertRule, error)
	GetAllRules(ctx context.Context) ([]models.AlertRule, error)
	GetRule(ctx context.Context, id string) (*models.AlertRule, error)
	CreateRule(ctx context.Context, rule models.AlertRule) (*models.AlertRule, error)
	UpdateRule(ctx context.Context, rule models.AlertRule) (*models.AlertRule, error)
	EnsureSchema(ctx context.Context) error
	SeedBuiltinRules(ctx context.Context) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS alert_rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			cooldown_minutes INTEGER NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT true,
			params JSONB NOT NULL DEFAULT '{}',
			expression TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create alert_rules table: %w", err)
	}
	return nil
}

// SeedBuiltinRules inserts one rule per built-in detection type with the
// canonical thresholds. Existing rows are left alone so operator edits
// survive restarts.
func (r *PostgresRepository) SeedBuiltinRules(ctx context.Context) error {
	for _, rule := range BuiltinRules() {
		params, err := json.Marshal(rule.Params)
		if err != nil {
			return fmt.Errorf("failed to marshal rule params: %w", err)
		}

		query := `
			INSERT INTO alert_rules (id, name, type, severity, cooldown_minutes, enabled, params, expression, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`
		_, err = r.db.ExecContext(ctx, query,
			rule.ID, rule.Name, rule.Type, rule.Severity, rule.CooldownMinutes,
			rule.Enabled, params, rule.Expression, rule.CreatedAt, rule.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

func (r *PostgresRepository) GetActiveRules(ctx context.Context) ([]models.AlertRule, error) {
	query := `
		SELECT id, name, type, severity, cooldown_minutes, enabled, params, expression, created_at, updated_at
		FROM alert_rules
		WHERE enabled = true
		ORDER BY created_at ASC
	`
	return r.queryRules(ctx, query)
}

func (r *PostgresRepository) GetAllRules(ctx context.Context) ([]models.AlertRule, error) {
	query := `
		SELECT id, name, type, severity, cooldown_minutes, enabled, params, expression, created_at, updated_at
		FROM alert_rules
		ORDER BY created_at ASC
	`
	return r.queryRules(ctx, query)
}

func (r *PostgresRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []models.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (models.AlertRule, error) {
	var rule models.AlertRule
	var params []byte

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Type,
		&rule.Severity,
		&rule.CooldownMinutes,
		&rule.Enabled,
		&params,
		&rule.Expression,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return rule, fmt.Errorf("failed to scan rule: %w", err)
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &rule.Params); err != nil {
			return rule, fmt.Errorf("failed to unmarshal rule params: %w", err)
		}
	}

	return rule, nil
}

func (r *PostgresRepository) GetRule(ctx context.Context, id string) (*models.AlertRule, error) {
	query := `
		SELECT id, name, type, severity, cooldown_minutes, enabled, params, expression, created_at, updated_at
		FROM alert_rules
		WHERE id = $1
	`
	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return &rule, nil
}

func (r *PostgresRepository) CreateRule(ctx context.Context, rule models.AlertRule) (*models.AlertRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	params, err := json.Marshal(rule.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rule params: %w", err)
	}

	query := `
		INSERT INTO alert_rules (id, name, type, severity, cooldown_minutes, enabled, params, expression, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Type, rule.Severity, rule.CooldownMinutes,
		rule.Enabled, params, rule.Expression, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert rule: %w", err)
	}

	return &rule, nil
}

func (r *PostgresRepository) UpdateRule(ctx context.Context, rule models.AlertRule) (*models.AlertRule, error) {
	rule.UpdatedAt = time.Now().UTC()

	params, err := json.Marshal(rule.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rule params: %w", err)
	}

	query := `
		UPDATE alert_rules
		SET name = $2, type = $3, severity = $4, cooldown_minutes = $5,
		    enabled = $6, params = $7, expression = $8, updated_at = $9
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Type, rule.Severity, rule.CooldownMinutes,
		rule.Enabled, params, rule.Expression, rule.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}

	return &rule, nil
}

// BuiltinRules returns the default detection rule set with canonical
// thresholds.
func BuiltinRules() []models.AlertRule {
	now := time.Now().UTC()
	return []models.AlertRule{
		{
			ID:              "builtin-volume-spike",
			Name:            "Volume spike",
			Type:            models.AlertTypeVolumeSpike,
			Severity:        models.SeverityMedium,
			CooldownMinutes: 30,
			Enabled:         true,
			Params: map[string]float64{
				"volume_floor":     constants.DefaultVolumeFloor,
				"spike_multiplier": constants.DefaultSpikeMultiplier,
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:              "builtin-sentiment-drop",
			Name:            "Sentiment drop",
			Type:            models.AlertTypeSentimentDrop,
			Severity:        models.SeverityMedium,
			CooldownMinutes: 30,
			Enabled:         true,
			Params: map[string]float64{
				"sentiment_threshold": constants.DefaultSentimentThreshold,
				"volume_floor":        constants.DefaultSentimentFloor,
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:              "builtin-viral-negative",
			Name:            "Viral negative content",
			Type:            models.AlertTypeViralNegative,
			Severity:        models.SeverityCritical,
			CooldownMinutes: 15,
			Enabled:         true,
			Params: map[string]float64{
				"sentiment_threshold": constants.DefaultViralSentiment,
				"reach_threshold":     constants.DefaultViralReach,
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:              "builtin-negative-trend",
			Name:            "Negative trend",
			Type:            models.AlertTypeNegativeTrend,
			Severity:        models.SeverityMedium,
			CooldownMinutes: 60,
			Enabled:         true,
			Params: map[string]float64{
				"trend_delta":  constants.DefaultTrendDelta,
				"volume_floor": constants.DefaultSentimentFloor,
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}
