package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateEvent(ev *MonitoringEvent) error {
	if ev == nil {
		return &ValidationError{
			Field:   "event",
			Message: "event cannot be nil",
		}
	}

	if ev.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "event ID is required",
		}
	}

	if ev.SourceName == "" {
		return &ValidationError{
			Field:   "source_name",
			Message: "event source is required",
		}
	}

	if ev.OccurredAt.IsZero() {
		return &ValidationError{
			Field:   "occurred_at",
			Message: "event timestamp is required",
		}
	}

	if ev.Sentiment.Score < -1 || ev.Sentiment.Score > 1 {
		return &ValidationError{
			Field:   "sentiment.score",
			Message: fmt.Sprintf("sentiment score must be in [-1, 1], got %v", ev.Sentiment.Score),
		}
	}

	if ev.Sentiment.Confidence < 0 || ev.Sentiment.Confidence > 1 {
		return &ValidationError{
			Field:   "sentiment.confidence",
			Message: fmt.Sprintf("sentiment confidence must be in [0, 1], got %v", ev.Sentiment.Confidence),
		}
	}

	if ev.IsDuplicate {
		if ev.DuplicateOfID == "" {
			return &ValidationError{
				Field:   "duplicate_of_id",
				Message: "duplicate events must reference their original",
			}
		}
		if ev.DuplicateOfID == ev.ID {
			return &ValidationError{
				Field:   "duplicate_of_id",
				Message: "duplicate reference cannot point at the event itself",
			}
		}
	}

	return nil
}
