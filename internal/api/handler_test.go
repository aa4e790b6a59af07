package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisiswatch/internal/broadcast"
	"crisiswatch/internal/config"
	"crisiswatch/internal/ingest"
	"crisiswatch/internal/logger"
	"crisiswatch/internal/rules"
	"crisiswatch/internal/store"
	"crisiswatch/pkg/models"
	"crisiswatch/pkg/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRuleRepo struct {
	rules map[string]models.AlertRule
}

func newFakeRuleRepo() *fakeRuleRepo {
	return &fakeRuleRepo{rules: make(map[string]models.AlertRule)}
}

func (r *fakeRuleRepo) GetActiveRules(context.Context) ([]models.AlertRule, error) {
	var out []models.AlertRule
	for _, rule := range r.rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *fakeRuleRepo) GetAllRules(context.Context) ([]models.AlertRule, error) {
	var out []models.AlertRule
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	return out, nil
}

func (r *fakeRuleRepo) GetRule(_ context.Context, id string) (*models.AlertRule, error) {
	rule, ok := r.rules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rule, nil
}

func (r *fakeRuleRepo) CreateRule(_ context.Context, rule models.AlertRule) (*models.AlertRule, error) {
	if rule.ID == "" {
		rule.ID = fmt.Sprintf("rule-%d", len(r.rules)+1)
	}
	r.rules[rule.ID] = rule
	return &rule, nil
}

func (r *fakeRuleRepo) UpdateRule(_ context.Context, rule models.AlertRule) (*models.AlertRule, error) {
	if _, ok := r.rules[rule.ID]; !ok {
		return nil, sql.ErrNoRows
	}
	r.rules[rule.ID] = rule
	return &rule, nil
}

func (r *fakeRuleRepo) EnsureSchema(context.Context) error     { return nil }
func (r *fakeRuleRepo) SeedBuiltinRules(context.Context) error { return nil }

type fakeCache struct {
	seen map[string]bool
}

func (c *fakeCache) MarkSeen(_ context.Context, id string, _ time.Duration) (bool, error) {
	if c.seen[id] {
		return false, nil
	}
	c.seen[id] = true
	return true, nil
}

func (c *fakeCache) CacheSize(context.Context) (int, error) { return len(c.seen), nil }

type testAPI struct {
	router *gin.Engine
	store  *store.Store
	hub    *broadcast.Hub
	repo   *fakeRuleRepo
}

func newTestAPI(t *testing.T, opts ...func(*Options)) *testAPI {
	t.Helper()
	log := logger.NopLogger()

	st := store.NewStore(store.NewMemoryRepository(), &fakeCache{seen: make(map[string]bool)},
		config.StoreConfig{BatchSize: 100}, log)
	repo := newFakeRuleRepo()

	engine, err := rules.NewEngine(repo, st, nil,
		config.RulesConfig{WindowLength: time.Hour, WindowStep: 30 * time.Minute}, log)
	require.NoError(t, err)
	require.NoError(t, engine.ReloadRules(context.Background()))

	hub := broadcast.NewHub(config.BroadcastConfig{SendBuffer: 64}, log)
	pipeline := ingest.NewOrchestrator(config.IngestConfig{}, ingest.Options{
		Store:  st,
		Engine: engine,
		Hub:    hub,
	}, log)

	handlerOpts := Options{
		Store:    st,
		Pipeline: pipeline,
		Hub:      hub,
		Rules:    repo,
		Engine:   engine,
	}
	for _, o := range opts {
		o(&handlerOpts)
	}

	router := gin.New()
	NewHandler(handlerOpts, log).RegisterRoutes(router)
	NewRuleHandler(repo, engine, log).RegisterRoutes(router)

	return &testAPI{router: router, store: st, hub: hub, repo: repo}
}

func (a *testAPI) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func apiEvent(id string) models.MonitoringEvent {
	r := strings.NewReplacer("-", "", "0", "zero", "1", "one", "2", "two", "3", "three",
		"4", "four", "5", "five", "6", "six", "7", "seven", "8", "eight", "9", "nine")
	tag := r.Replace(id)
	return models.MonitoringEvent{
		ID:         id,
		SourceName: "push-api",
		EventType:  models.EventTypeSocial,
		OccurredAt: time.Now().Add(-time.Minute),
		Title:      fmt.Sprintf("%stitle about %stopic", tag, tag),
		Body:       fmt.Sprintf("%sbody covering %sdetail", tag, tag),
		Platform:   "twitter",
		Author:     models.Author{Name: tag + "author"},
		Sentiment:  models.Sentiment{Score: -0.2, Confidence: 0.9},
	}
}

func TestPushAndQueryEvents(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/api/v1/events",
		[]models.MonitoringEvent{apiEvent("evt-1"), apiEvent("evt-2")})
	require.Equal(t, http.StatusAccepted, w.Code)

	var pushResp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pushResp))
	assert.Equal(t, 2, pushResp["received"])
	assert.Equal(t, 2, pushResp["accepted"])

	w = a.do(http.MethodGet, "/api/v1/events/recent?platform=twitter", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var events []models.MonitoringEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	assert.Len(t, events, 2)
}

func TestPushEventsRejectsEmptyBatch(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/api/v1/events", []models.MonitoringEvent{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPushEventsRejectsMalformedBody(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecentEventsRejectsBadSince(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodGet, "/api/v1/events/recent?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecentEventsEmptyLogReturnsEmptyArray(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodGet, "/api/v1/events/recent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	require.NoError(t, a.store.AppendAlert(ctx, models.CrisisAlert{
		ID:       "alert-1",
		Severity: models.SeverityHigh,
		Type:     models.AlertTypeVolumeSpike,
		Status:   models.AlertStatusActive,
	}))

	w := a.do(http.MethodGet, "/api/v1/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var alerts []models.CrisisAlert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)

	w = a.do(http.MethodPost, "/api/v1/alerts/alert-1/acknowledge", gin.H{"actor": "oncall"})
	require.Equal(t, http.StatusOK, w.Code)
	var acked models.CrisisAlert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acked))
	assert.Equal(t, models.AlertStatusAcknowledged, acked.Status)

	w = a.do(http.MethodPost, "/api/v1/alerts/alert-1/resolve", gin.H{"actor": "oncall"})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodPost, "/api/v1/alerts/alert-1/acknowledge", gin.H{"actor": "oncall"})
	assert.Equal(t, http.StatusConflict, w.Code, "resolved is terminal")
}

func TestAlertActionsRequireActor(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/api/v1/alerts/alert-1/acknowledge", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAlertNotFound(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodGet, "/api/v1/alerts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuleCRUD(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/api/v1/rules", gin.H{
		"name":             "Weekend volume watch",
		"type":             "volume_spike",
		"severity":         "medium",
		"cooldown_minutes": 30,
		"enabled":          true,
		"params":           gin.H{"volume_floor": 50},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.AlertRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	w = a.do(http.MethodGet, "/api/v1/rules/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	created.Enabled = false
	w = a.do(http.MethodPut, "/api/v1/rules/"+created.ID, gin.H{
		"name":     created.Name,
		"type":     created.Type,
		"severity": created.Severity,
		"enabled":  false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []models.AlertRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 1)
	assert.False(t, all[0].Enabled)
}

func TestCreateCustomRuleRequiresExpression(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/api/v1/rules", gin.H{
		"name":     "Custom watch",
		"type":     "custom",
		"severity": "high",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRuleRejectsUnknownType(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/api/v1/rules", gin.H{
		"name":     "Mystery",
		"type":     "mystery",
		"severity": "low",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateMissingRuleReturns404(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPut, "/api/v1/rules/missing", gin.H{
		"name":     "Ghost",
		"type":     "volume_spike",
		"severity": "low",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEmergencyBroadcastReachesAllSubscribers(t *testing.T) {
	a := newTestAPI(t)

	sub := broadcast.NewSubscriber("sub-1", []string{"metrics"}, 8)
	a.hub.Register(sub)

	w := a.do(http.MethodPost, "/api/v1/admin/broadcast", gin.H{
		"title":   "Maintenance window",
		"message": "Pipeline restarting in 5 minutes",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case msg := <-sub.Outbox():
		assert.Equal(t, models.MessageTypeAlert, msg.Type)
	default:
		t.Fatal("subscriber outside the alert channels must still receive the broadcast")
	}
}

func TestEmergencyBroadcastRequiresTitle(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/api/v1/admin/broadcast", gin.H{"message": "no title"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsSnapshot(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/api/v1/events", []models.MonitoringEvent{apiEvent("evt-1")})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = a.do(http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Contains(t, snapshot, "timestamp")
	assert.EqualValues(t, 1, snapshot["events_processed_total"])
	assert.Contains(t, snapshot, "events_per_minute")
	assert.Contains(t, snapshot, "sentiment_distribution")
	assert.Contains(t, snapshot, "platform_distribution")
}

func TestPushEndpointRateLimited(t *testing.T) {
	limited := ratelimit.RateLimitMiddleware(ratelimit.RateLimitConfig{
		RPS:             0.001,
		Burst:           1,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
	})
	a := newTestAPI(t, func(o *Options) { o.RateLimit = limited })

	w := a.do(http.MethodPost, "/api/v1/events", []models.MonitoringEvent{apiEvent("evt-1")})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = a.do(http.MethodPost, "/api/v1/events", []models.MonitoringEvent{apiEvent("evt-2")})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = a.do(http.MethodGet, "/api/v1/alerts", nil)
	assert.Equal(t, http.StatusOK, w.Code, "the limiter only guards the push endpoint")
}
