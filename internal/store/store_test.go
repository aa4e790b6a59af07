package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisiswatch/internal/config"
	"crisiswatch/internal/constants"
	"crisiswatch/internal/logger"
	"crisiswatch/pkg/errors"
	"crisiswatch/pkg/models"
)

type fakeCache struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{seen: make(map[string]bool)}
}

func (c *fakeCache) MarkSeen(_ context.Context, eventID string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if c.seen[eventID] {
		return false, nil
	}
	c.seen[eventID] = true
	return true, nil
}

func (c *fakeCache) CacheSize(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen), nil
}

func testStore(t *testing.T, cfg config.StoreConfig) (*Store, *MemoryRepository, *fakeCache) {
	t.Helper()
	repo := NewMemoryRepository()
	cache := newFakeCache()
	log := logger.NopLogger()
	return NewStore(repo, cache, cfg, log), repo, cache
}

// eventTag turns an ID into a text fragment whose tokens are unique to that
// ID, so unrelated test events never trip the similarity detector.
func eventTag(id string) string {
	r := strings.NewReplacer("-", "", "0", "zero", "1", "one", "2", "two", "3", "three",
		"4", "four", "5", "five", "6", "six", "7", "seven", "8", "eight", "9", "nine")
	return r.Replace(id)
}

func testEvent(id string, occurredAt time.Time) models.MonitoringEvent {
	tag := eventTag(id)
	return models.MonitoringEvent{
		ID:         id,
		SourceName: "test-source",
		EventType:  models.EventTypeSocial,
		OccurredAt: occurredAt,
		Title:      fmt.Sprintf("%stitle mentions %stopic", tag, tag),
		Body:       fmt.Sprintf("%sbody with %sdetail and %scontext", tag, tag, tag),
		Platform:   "twitter",
		Author:     models.Author{Name: tag + "author"},
		Sentiment:  models.Sentiment{Score: -0.2, Label: models.SentimentNegative, Confidence: 0.9},
	}
}

func TestAppendStoresEvent(t *testing.T) {
	s, repo, _ := testStore(t, config.StoreConfig{BatchSize: 2})
	ctx := context.Background()

	_, accepted, err := s.Append(ctx, testEvent("evt-1", time.Now()))
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 1, s.BufferLen())

	require.NoError(t, s.Flush(ctx))

	events, err := repo.QueryEvents(ctx, EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAppendExactDuplicateDropped(t *testing.T) {
	s, _, _ := testStore(t, config.StoreConfig{})
	ctx := context.Background()

	event := testEvent("evt-1", time.Now())

	_, accepted, err := s.Append(ctx, event)
	require.NoError(t, err)
	assert.True(t, accepted)

	_, accepted, err = s.Append(ctx, event)
	require.NoError(t, err)
	assert.False(t, accepted, "second ingest of the same ID must be a no-op")
	assert.Equal(t, 1, s.BufferLen())
}

func TestAppendContentDuplicateFlagged(t *testing.T) {
	s, _, _ := testStore(t, config.StoreConfig{SimilarityThreshold: 0.8})
	ctx := context.Background()

	now := time.Now()
	original := models.MonitoringEvent{
		ID:         "evt-original",
		SourceName: "twitter-poll",
		EventType:  models.EventTypeSocial,
		OccurredAt: now,
		Title:      "Service outage reported by many users",
		Body:       "The main dashboard will not load and support is unreachable",
		Author:     models.Author{Name: "reporter"},
	}
	repost := original
	repost.ID = "evt-repost"
	repost.SourceName = "news-feed"
	repost.OccurredAt = now.Add(time.Minute)

	_, accepted, err := s.Append(ctx, original)
	require.NoError(t, err)
	require.True(t, accepted)
	require.NoError(t, s.Flush(ctx))

	stored, accepted, err := s.Append(ctx, repost)
	require.NoError(t, err)
	assert.True(t, accepted, "content duplicates are stored, not dropped")
	assert.True(t, stored.IsDuplicate)
	assert.Equal(t, "evt-original", stored.DuplicateOfID)
}

func TestAppendContentDuplicateAgainstBufferedEvent(t *testing.T) {
	s, _, _ := testStore(t, config.StoreConfig{BatchSize: 50, SimilarityThreshold: 0.8})
	ctx := context.Background()

	now := time.Now()
	original := models.MonitoringEvent{
		ID:         "evt-a",
		OccurredAt: now,
		Title:      "Payments failing across the board",
		Body:       "Every card transaction errors out since this morning",
		Author:     models.Author{Name: "merchant"},
	}
	twin := original
	twin.ID = "evt-b"
	twin.OccurredAt = now.Add(time.Second)

	_, _, err := s.Append(ctx, original)
	require.NoError(t, err)

	stored, accepted, err := s.Append(ctx, twin)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.True(t, stored.IsDuplicate, "buffered events must participate in similarity")
	assert.Equal(t, "evt-a", stored.DuplicateOfID)
}

func TestAppendSameTextOtherPlatformNotFlagged(t *testing.T) {
	s, _, _ := testStore(t, config.StoreConfig{BatchSize: 50, SimilarityThreshold: 0.8})
	ctx := context.Background()

	now := time.Now()
	original := models.MonitoringEvent{
		ID:         "evt-1",
		OccurredAt: now,
		Platform:   "twitter",
		Title:      "Recall announced for flagship product",
		Body:       "The vendor confirmed a full recall after repeated failures",
		Author:     models.Author{Name: "newsdesk"},
	}

	_, accepted, err := s.Append(ctx, original)
	require.NoError(t, err)
	require.True(t, accepted)
	require.NoError(t, s.Flush(ctx))

	// Identical text on another platform is a syndicated story, not a repost.
	syndicated := original
	syndicated.ID = "evt-2"
	syndicated.Platform = "facebook"
	syndicated.OccurredAt = now.Add(time.Minute)

	stored, accepted, err := s.Append(ctx, syndicated)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.False(t, stored.IsDuplicate, "candidates never cross platforms")

	// The buffered pass is platform-scoped too: evt-2 sits in the buffer.
	buffered := original
	buffered.ID = "evt-3"
	buffered.Platform = "reddit"
	buffered.OccurredAt = now.Add(2 * time.Minute)

	stored, accepted, err = s.Append(ctx, buffered)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.False(t, stored.IsDuplicate)

	// On the original's own platform the repost is still caught.
	repost := original
	repost.ID = "evt-4"
	repost.OccurredAt = now.Add(3 * time.Minute)

	stored, accepted, err = s.Append(ctx, repost)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.True(t, stored.IsDuplicate)
	assert.Equal(t, "evt-1", stored.DuplicateOfID)
}

func TestAppendDissimilarEventsNotFlagged(t *testing.T) {
	s, _, _ := testStore(t, config.StoreConfig{SimilarityThreshold: 0.8})
	ctx := context.Background()

	now := time.Now()
	_, _, err := s.Append(ctx, testEvent("evt-1", now))
	require.NoError(t, err)

	stored, accepted, err := s.Append(ctx, testEvent("evt-2", now))
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.False(t, stored.IsDuplicate)
}

func TestAppendCacheErrorFailOpen(t *testing.T) {
	s, _, cache := testStore(t, config.StoreConfig{OnLookupError: constants.FallbackAllow})
	cache.err = fmt.Errorf("connection refused")
	ctx := context.Background()

	_, accepted, err := s.Append(ctx, testEvent("evt-1", time.Now()))
	require.NoError(t, err)
	assert.True(t, accepted, "allow fallback must pass events through on cache failure")
}

func TestAppendCacheErrorFailClosed(t *testing.T) {
	s, _, cache := testStore(t, config.StoreConfig{OnLookupError: constants.FallbackDeny})
	cache.err = fmt.Errorf("connection refused")
	ctx := context.Background()

	_, accepted, err := s.Append(ctx, testEvent("evt-1", time.Now()))
	assert.Error(t, err)
	assert.False(t, accepted)
}

func TestFlushBatchTrigger(t *testing.T) {
	s, repo, _ := testStore(t, config.StoreConfig{BatchSize: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := s.Append(ctx, testEvent(fmt.Sprintf("evt-%d", i), time.Now()))
		require.NoError(t, err)
	}

	assert.Equal(t, 0, s.BufferLen(), "reaching the batch size must trigger a flush")

	events, err := repo.QueryEvents(ctx, EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestFlushEmptyBufferIsNoop(t *testing.T) {
	s, _, _ := testStore(t, config.StoreConfig{})
	assert.NoError(t, s.Flush(context.Background()))
}

func TestQueryFiltersAndExcludesDuplicates(t *testing.T) {
	s, _, _ := testStore(t, config.StoreConfig{})
	ctx := context.Background()

	now := time.Now()
	e1 := testEvent("evt-1", now.Add(-2*time.Hour))
	e2 := testEvent("evt-2", now.Add(-time.Hour))
	e2.Platform = "reddit"
	e3 := testEvent("evt-3", now.Add(-30*time.Minute))
	e3.IsDuplicate = true
	e3.DuplicateOfID = "evt-2"

	for _, e := range []models.MonitoringEvent{e1, e2, e3} {
		_, _, err := s.Append(ctx, e)
		require.NoError(t, err)
	}

	events, err := s.Query(ctx, EventQuery{Platform: "reddit"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-2", events[0].ID)

	events, err = s.Query(ctx, EventQuery{ExcludeDuplicates: true})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestWindowEventsRange(t *testing.T) {
	s, _, _ := testStore(t, config.StoreConfig{})
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	inside := testEvent("evt-inside", base.Add(10*time.Minute))
	atEnd := testEvent("evt-at-end", base.Add(time.Hour))
	before := testEvent("evt-before", base.Add(-time.Minute))

	for _, e := range []models.MonitoringEvent{inside, atEnd, before} {
		_, _, err := s.Append(ctx, e)
		require.NoError(t, err)
	}

	events, err := s.WindowEvents(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1, "window is [start, start+length), end boundary excluded")
	assert.Equal(t, "evt-inside", events[0].ID)
}

func TestAlertLifecycle(t *testing.T) {
	s, _, _ := testStore(t, config.StoreConfig{})
	ctx := context.Background()

	alert := models.CrisisAlert{
		ID:        "alert-1",
		Severity:  models.SeverityHigh,
		Type:      models.AlertTypeVolumeSpike,
		Status:    models.AlertStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, s.AppendAlert(ctx, alert))

	active, err := s.ActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	acked, err := s.TransitionAlert(ctx, "alert-1", models.AlertStatusAcknowledged, "oncall")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusAcknowledged, acked.Status)
	assert.Equal(t, "oncall", acked.AcknowledgedBy)

	active, err = s.ActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1, "acknowledged alerts remain active")

	resolved, err := s.TransitionAlert(ctx, "alert-1", models.AlertStatusResolved, "oncall")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)

	active, err = s.ActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestTransitionAlertRejectsBackwardMove(t *testing.T) {
	s, _, _ := testStore(t, config.StoreConfig{})
	ctx := context.Background()

	alert := models.CrisisAlert{
		ID:     "alert-1",
		Status: models.AlertStatusActive,
	}
	require.NoError(t, s.AppendAlert(ctx, alert))

	_, err := s.TransitionAlert(ctx, "alert-1", models.AlertStatusResolved, "oncall")
	require.NoError(t, err)

	_, err = s.TransitionAlert(ctx, "alert-1", models.AlertStatusAcknowledged, "oncall")
	assert.True(t, errors.IsInvalidTransition(err))

	_, err = s.TransitionAlert(ctx, "alert-1", models.AlertStatusActive, "oncall")
	assert.True(t, errors.IsInvalidTransition(err))
}

func TestTransitionAlertNotFound(t *testing.T) {
	s, _, _ := testStore(t, config.StoreConfig{})

	_, err := s.TransitionAlert(context.Background(), "missing", models.AlertStatusResolved, "oncall")
	assert.True(t, errors.IsNotFound(err))
}
