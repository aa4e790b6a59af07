package integration

import (
	"fmt"
	"strings"
	"time"

	"crisiswatch/internal/logger"
	"crisiswatch/pkg/models"
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

// eventTag expands an ID into a text fragment with tokens unique to that ID,
// keeping unrelated test events clear of the similarity threshold.
func eventTag(id string) string {
	r := strings.NewReplacer("-", "", "0", "zero", "1", "one", "2", "two", "3", "three",
		"4", "four", "5", "five", "6", "six", "7", "seven", "8", "eight", "9", "nine")
	return r.Replace(id)
}

func createTestEvent(id string, occurredAt time.Time) models.MonitoringEvent {
	tag := eventTag(id)
	return models.MonitoringEvent{
		ID:         id,
		SourceName: "integration-source",
		EventType:  models.EventTypeSocial,
		OccurredAt: occurredAt.UTC().Truncate(time.Millisecond),
		Title:      fmt.Sprintf("%stitle mentions %stopic", tag, tag),
		Body:       fmt.Sprintf("%sbody with %sdetail and %scontext", tag, tag, tag),
		Platform:   "twitter",
		Author:     models.Author{Name: tag + "author"},
		Sentiment:  models.Sentiment{Score: -0.3, Label: models.SentimentNegative, Confidence: 0.9},
		Metrics:    models.Metrics{Reach: 150},
	}
}

func createTestAlert(id string) models.CrisisAlert {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return models.CrisisAlert{
		ID:        id,
		Severity:  models.SeverityHigh,
		Type:      models.AlertTypeVolumeSpike,
		Status:    models.AlertStatusActive,
		Title:     "Volume spike on twitter",
		CreatedAt: now,
		UpdatedAt: now,
	}
}
