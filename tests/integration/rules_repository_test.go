package integration

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisiswatch/internal/rules"
	"crisiswatch/pkg/models"
)

func setupRuleRepo(t *testing.T) rules.Repository {
	t.Helper()
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := rules.NewRepository(infra.PostgresDB)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

func TestSchemaAndSeedAreIdempotent(t *testing.T) {
	repo := setupRuleRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.SeedBuiltinRules(ctx))
	require.NoError(t, repo.SeedBuiltinRules(ctx))

	all, err := repo.GetAllRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(rules.BuiltinRules()))
}

func TestSeedDoesNotOverwriteOperatorChanges(t *testing.T) {
	repo := setupRuleRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SeedBuiltinRules(ctx))

	rule, err := repo.GetRule(ctx, "builtin-volume-spike")
	require.NoError(t, err)

	rule.Enabled = false
	_, err = repo.UpdateRule(ctx, *rule)
	require.NoError(t, err)

	require.NoError(t, repo.SeedBuiltinRules(ctx))

	rule, err = repo.GetRule(ctx, "builtin-volume-spike")
	require.NoError(t, err)
	assert.False(t, rule.Enabled, "reseeding must leave the operator's change alone")
}

func TestRuleCRUDRoundTrip(t *testing.T) {
	repo := setupRuleRepo(t)
	ctx := context.Background()

	created, err := repo.CreateRule(ctx, models.AlertRule{
		Name:            "Launch week watch",
		Type:            models.AlertTypeSentimentDrop,
		Severity:        models.SeverityHigh,
		CooldownMinutes: 15,
		Enabled:         true,
		Params: map[string]float64{
			"sentiment_threshold": -0.4,
			"sentiment_floor":     25,
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	fetched, err := repo.GetRule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Launch week watch", fetched.Name)
	assert.InDelta(t, -0.4, fetched.Params["sentiment_threshold"], 1e-9)
	assert.InDelta(t, 25, fetched.Params["sentiment_floor"], 1e-9)

	fetched.Enabled = false
	_, err = repo.UpdateRule(ctx, *fetched)
	require.NoError(t, err)

	active, err := repo.GetActiveRules(ctx)
	require.NoError(t, err)
	for _, rule := range active {
		assert.NotEqual(t, created.ID, rule.ID, "disabled rules must not be active")
	}
}

func TestCustomRuleExpressionRoundTrip(t *testing.T) {
	repo := setupRuleRepo(t)
	ctx := context.Background()

	created, err := repo.CreateRule(ctx, models.AlertRule{
		Name:       "High reach negativity",
		Type:       models.AlertTypeCustom,
		Severity:   models.SeverityCritical,
		Enabled:    true,
		Expression: "meanSentiment < -0.6 && totalReach > 50000",
	})
	require.NoError(t, err)

	fetched, err := repo.GetRule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Expression, fetched.Expression)
}

func TestUpdateMissingRule(t *testing.T) {
	repo := setupRuleRepo(t)

	_, err := repo.UpdateRule(context.Background(), models.AlertRule{
		ID:       "does-not-exist",
		Name:     "Ghost",
		Type:     models.AlertTypeVolumeSpike,
		Severity: models.SeverityLow,
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGetMissingRule(t *testing.T) {
	repo := setupRuleRepo(t)

	_, err := repo.GetRule(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
