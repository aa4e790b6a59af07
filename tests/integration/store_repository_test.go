package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisiswatch/internal/config"
	"crisiswatch/internal/store"
	"crisiswatch/pkg/errors"
	"crisiswatch/pkg/models"
)

func TestMongoEventRoundTrip(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := store.NewRepository(infra.MongoDB)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e1 := createTestEvent("evt-1", base)
	e2 := createTestEvent("evt-2", base.Add(10*time.Minute))
	e2.Platform = "reddit"
	e3 := createTestEvent("evt-3", base.Add(20*time.Minute))
	e3.IsDuplicate = true
	e3.DuplicateOfID = "evt-1"

	require.NoError(t, repo.InsertEvents(ctx, []models.MonitoringEvent{e1, e2, e3}))

	events, err := repo.QueryEvents(ctx, store.EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "evt-3", events[0].ID, "newest first")

	events, err = repo.QueryEvents(ctx, store.EventQuery{Platform: "reddit"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-2", events[0].ID)

	events, err = repo.QueryEvents(ctx, store.EventQuery{ExcludeDuplicates: true})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// Window bounds are half open: From inclusive, To exclusive.
	events, err = repo.QueryEvents(ctx, store.EventQuery{From: base, To: base.Add(20 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	count, err := repo.CountEvents(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestMongoInsertSwallowsDuplicateKeys(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := store.NewRepository(infra.MongoDB)
	ctx := context.Background()

	batch := []models.MonitoringEvent{
		createTestEvent("evt-1", time.Now()),
		createTestEvent("evt-2", time.Now()),
	}
	require.NoError(t, repo.InsertEvents(ctx, batch))
	require.NoError(t, repo.InsertEvents(ctx, batch), "re-inserting the same IDs must be a no-op")

	events, err := repo.QueryEvents(ctx, store.EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMongoRetentionDelete(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := store.NewRepository(infra.MongoDB)
	ctx := context.Background()

	now := time.Now().UTC()
	old := createTestEvent("evt-old", now.Add(-48*time.Hour))
	fresh := createTestEvent("evt-fresh", now)
	require.NoError(t, repo.InsertEvents(ctx, []models.MonitoringEvent{old, fresh}))

	deleted, err := repo.DeleteEventsBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	events, err := repo.QueryEvents(ctx, store.EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-fresh", events[0].ID)
}

func TestMongoSimilarityCandidates(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := store.NewRepository(infra.MongoDB)
	ctx := context.Background()

	now := time.Now().UTC()
	stale := createTestEvent("evt-stale", now.Add(-30*time.Hour))
	recent := createTestEvent("evt-recent", now.Add(-time.Hour))
	elsewhere := createTestEvent("evt-elsewhere", now.Add(-time.Hour))
	elsewhere.Platform = "reddit"
	require.NoError(t, repo.InsertEvents(ctx, []models.MonitoringEvent{stale, recent, elsewhere}))

	candidates, err := repo.SimilarityCandidates(ctx, "twitter", now.Add(-24*time.Hour), 500)
	require.NoError(t, err)
	require.Len(t, candidates, 1, "stale and cross-platform events are not candidates")
	assert.Equal(t, "evt-recent", candidates[0].ID)
}

func TestMongoAlertTransitions(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := store.NewRepository(infra.MongoDB)
	ctx := context.Background()

	require.NoError(t, repo.InsertAlert(ctx, createTestAlert("alert-1")))

	active, err := repo.ActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	acked, err := repo.TransitionAlert(ctx, "alert-1",
		models.AlertStatusActive, models.AlertStatusAcknowledged, "oncall")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusAcknowledged, acked.Status)
	assert.Equal(t, "oncall", acked.AcknowledgedBy)

	active, err = repo.ActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1, "acknowledged alerts stay in the active set")

	resolved, err := repo.TransitionAlert(ctx, "alert-1",
		models.AlertStatusAcknowledged, models.AlertStatusResolved, "oncall")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)

	_, err = repo.TransitionAlert(ctx, "alert-1",
		models.AlertStatusResolved, models.AlertStatusAcknowledged, "oncall")
	assert.Error(t, err, "the CAS must not match a resolved alert")

	_, err = repo.TransitionAlert(ctx, "missing",
		models.AlertStatusActive, models.AlertStatusResolved, "oncall")
	assert.True(t, errors.IsNotFound(err))
}

func TestRedisCacheMarkSeen(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)
	cache := store.NewRedisCache(infra.RedisClient)
	ctx := context.Background()

	first, err := cache.MarkSeen(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = cache.MarkSeen(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, first)

	size, err := cache.CacheSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestStoreAgainstRealBackends(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, true)
	repo := store.NewRepository(infra.MongoDB)
	cache := store.NewRedisCache(infra.RedisClient)
	ctx := context.Background()

	s := store.NewStore(repo, cache, config.StoreConfig{BatchSize: 10}, createTestLogger())

	event := createTestEvent("evt-1", time.Now())
	_, accepted, err := s.Append(ctx, event)
	require.NoError(t, err)
	assert.True(t, accepted)

	_, accepted, err = s.Append(ctx, event)
	require.NoError(t, err)
	assert.False(t, accepted, "redis idempotence must drop the exact duplicate")

	repost := event
	repost.ID = "evt-1-repost"
	repost.OccurredAt = event.OccurredAt.Add(time.Minute)
	stored, accepted, err := s.Append(ctx, repost)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.True(t, stored.IsDuplicate, "identical text must be flagged as a content duplicate")
	assert.Equal(t, "evt-1", stored.DuplicateOfID)

	events, err := s.Query(ctx, store.EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, 2, "queries flush the buffer first")
}
