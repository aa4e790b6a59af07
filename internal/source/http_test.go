package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisiswatch/internal/config"
	"crisiswatch/internal/logger"
	"crisiswatch/pkg/errors"
	"crisiswatch/pkg/models"
)

func newSourceServer(t *testing.T, events []models.MonitoringEvent, healthy bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(events)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestHTTPSourceFetchEvents(t *testing.T) {
	events := []models.MonitoringEvent{
		{ID: "evt-1", Title: "something happened"},
		{ID: "evt-2", SourceName: "already-set"},
	}
	server := newSourceServer(t, events, true)
	defer server.Close()

	src := NewHTTPSource(config.SourceConfig{
		Name:    "listening-api",
		Type:    "http",
		BaseURL: server.URL,
	}, logger.NopLogger())

	got, err := src.FetchEvents(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "listening-api", got[0].SourceName, "missing source name is filled in")
	assert.Equal(t, "already-set", got[1].SourceName, "existing source name is preserved")
}

func TestHTTPSourceFetchErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	src := NewHTTPSource(config.SourceConfig{Name: "flaky", BaseURL: server.URL}, logger.NopLogger())

	_, err := src.FetchEvents(context.Background(), time.Now())
	require.Error(t, err)

	var appErr *errors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.ErrTransientIngest.Code, appErr.Code)
}

func TestHTTPSourceMalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	src := NewHTTPSource(config.SourceConfig{Name: "garbled", BaseURL: server.URL}, logger.NopLogger())

	_, err := src.FetchEvents(context.Background(), time.Now())
	assert.Error(t, err)
}

func TestHTTPSourceHealthCheck(t *testing.T) {
	healthyServer := newSourceServer(t, nil, true)
	defer healthyServer.Close()

	src := NewHTTPSource(config.SourceConfig{Name: "up", BaseURL: healthyServer.URL}, logger.NopLogger())
	health := src.HealthCheck(context.Background())
	assert.True(t, health.Healthy)
	assert.Equal(t, "up", health.Name)

	downServer := newSourceServer(t, nil, false)
	defer downServer.Close()

	src = NewHTTPSource(config.SourceConfig{Name: "down", BaseURL: downServer.URL}, logger.NopLogger())
	health = src.HealthCheck(context.Background())
	assert.False(t, health.Healthy)
	assert.NotEmpty(t, health.Message)
}

func TestBuildSplitsSourceTypes(t *testing.T) {
	cfg := config.IngestConfig{
		Sources: []config.SourceConfig{
			{Name: "api-a", Type: "http", BaseURL: "http://a"},
			{Name: "stream-b", Type: "kafka", Topic: "events-b"},
			{Name: "api-c", Type: "http", BaseURL: "http://c"},
		},
	}

	pull, topics := Build(cfg, logger.NopLogger())
	require.Len(t, pull, 2)
	assert.Equal(t, "api-a", pull[0].Name())
	assert.Equal(t, []string{"events-b"}, topics)
}
