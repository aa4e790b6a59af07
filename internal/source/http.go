package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"crisiswatch/internal/config"
	"crisiswatch/internal/constants"
	"crisiswatch/internal/logger"
	"crisiswatch/pkg/errors"
	"crisiswatch/pkg/models"
)

// HTTPSource pulls events from a listening service's REST endpoint. The
// endpoint contract is GET {base_url}/events?since=<RFC3339> returning a
// JSON array of monitoring events, with GET {base_url}/health as the probe.
type HTTPSource struct {
	name   string
	client *resty.Client
	logger logger.Logger
}

func NewHTTPSource(cfg config.SourceConfig, log logger.Logger) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultPullTimeout
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "crisiswatch/1.0")

	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &HTTPSource{
		name:   cfg.Name,
		client: client,
		logger: log,
	}
}

func (s *HTTPSource) Name() string {
	return s.name
}

func (s *HTTPSource) FetchEvents(ctx context.Context, since time.Time) ([]models.MonitoringEvent, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("since", since.UTC().Format(time.RFC3339)).
		Get("/events")

	if err != nil {
		return nil, errors.ErrTransientIngest.WithCause(fmt.Errorf("source %s fetch failed: %w", s.name, err))
	}

	if resp.IsError() {
		return nil, errors.ErrTransientIngest.WithCause(
			fmt.Errorf("source %s returned status %d", s.name, resp.StatusCode()))
	}

	var events []models.MonitoringEvent
	if err := json.Unmarshal(resp.Body(), &events); err != nil {
		return nil, errors.ErrTransientIngest.WithCause(
			fmt.Errorf("source %s returned malformed payload: %w", s.name, err))
	}

	for i := range events {
		if events[i].SourceName == "" {
			events[i].SourceName = s.name
		}
	}

	return events, nil
}

func (s *HTTPSource) HealthCheck(ctx context.Context) SourceHealth {
	health := SourceHealth{
		Name:      s.name,
		CheckedAt: time.Now(),
	}

	resp, err := s.client.R().
		SetContext(ctx).
		Get("/health")

	if err != nil {
		health.Message = err.Error()
		return health
	}
	if resp.IsError() {
		health.Message = fmt.Sprintf("status %d", resp.StatusCode())
		return health
	}

	health.Healthy = true
	return health
}
