// Package source pulls monitoring events from external listening services.
// A Source is pull-based: the orchestrator polls it on a schedule. Push
// ingestion (HTTP POST, Kafka) enters the pipeline elsewhere and does not go
// through this interface.
package source

import (
	"context"
	"time"

	"crisiswatch/internal/config"
	"crisiswatch/internal/logger"
	"crisiswatch/pkg/models"
)

// SourceHealth is one source's answer to a reachability probe.
type SourceHealth struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type Source interface {
	Name() string
	FetchEvents(ctx context.Context, since time.Time) ([]models.MonitoringEvent, error)
	HealthCheck(ctx context.Context) SourceHealth
}

// Build splits the configured sources into pull sources and the Kafka topics
// the push consumer should subscribe to.
func Build(cfg config.IngestConfig, log logger.Logger) ([]Source, []string) {
	var pull []Source
	var topics []string

	for _, sc := range cfg.Sources {
		switch sc.Type {
		case "http":
			pull = append(pull, NewHTTPSource(sc, log))
		case "kafka":
			topics = append(topics, sc.Topic)
		}
	}

	return pull, topics
}
