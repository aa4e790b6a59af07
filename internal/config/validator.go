package config

import (
	"fmt"

	"crisiswatch/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateIngest(cfg.Ingest); err != nil {
		errors = append(errors, err)
	}

	if err := validateStore(cfg.Store); err != nil {
		errors = append(errors, err)
	}

	if err := validateRules(cfg.Rules); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroadcast(cfg.Broadcast); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.MongoDB.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI is required (the event store backend)",
		}
	}

	if cfg.Redis.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required (the idempotence cache)",
		}
	}

	if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Redis.Port),
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	// Kafka is an optional ingest path; a poll-only deployment runs without it.
	if cfg.Type == "" {
		return nil
	}

	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Kafka.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.Kafka.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	return nil
}

func validateIngest(cfg IngestConfig) error {
	if cfg.PollInterval < 0 {
		return &ValidationError{
			Field:   "ingest.poll_interval",
			Message: "poll interval must be non-negative",
		}
	}

	if cfg.PullTimeout < 0 {
		return &ValidationError{
			Field:   "ingest.pull_timeout",
			Message: "pull timeout must be non-negative",
		}
	}

	for i, src := range cfg.Sources {
		if src.Name == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("ingest.sources[%d].name", i),
				Message: "source name is required",
			}
		}
		switch src.Type {
		case "http":
			if src.BaseURL == "" {
				return &ValidationError{
					Field:   fmt.Sprintf("ingest.sources[%d].base_url", i),
					Message: "http sources require a base_url",
				}
			}
		case "kafka":
			if src.Topic == "" {
				return &ValidationError{
					Field:   fmt.Sprintf("ingest.sources[%d].topic", i),
					Message: "kafka sources require a topic",
				}
			}
		default:
			return &ValidationError{
				Field:   fmt.Sprintf("ingest.sources[%d].type", i),
				Message: fmt.Sprintf("unknown source type: %s (supported: http, kafka)", src.Type),
			}
		}
	}

	for name, weight := range cfg.SourceTrustWeights {
		if weight < 0 || weight > 1 {
			return &ValidationError{
				Field:   fmt.Sprintf("ingest.source_trust_weights.%s", name),
				Message: fmt.Sprintf("trust weight must be in [0, 1], got %v", weight),
			}
		}
	}

	return nil
}

func validateStore(cfg StoreConfig) error {
	if cfg.BatchSize < 0 {
		return &ValidationError{
			Field:   "store.batch_size",
			Message: "batch size must be non-negative",
		}
	}

	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return &ValidationError{
			Field:   "store.similarity_threshold",
			Message: fmt.Sprintf("similarity threshold must be in [0, 1], got %v", cfg.SimilarityThreshold),
		}
	}

	switch cfg.OnLookupError {
	case "", constants.FallbackAllow, constants.FallbackDeny:
	default:
		return &ValidationError{
			Field:   "store.on_lookup_error",
			Message: fmt.Sprintf("unknown fallback: %s (supported: allow, deny)", cfg.OnLookupError),
		}
	}

	return nil
}

func validateRules(cfg RulesConfig) error {
	if cfg.WindowLength < 0 || cfg.WindowStep < 0 {
		return &ValidationError{
			Field:   "rules.window_length",
			Message: "window length and step must be non-negative",
		}
	}

	if cfg.WindowLength > 0 && cfg.WindowStep > cfg.WindowLength {
		return &ValidationError{
			Field:   "rules.window_step",
			Message: "window step cannot exceed window length (windows must overlap or tile)",
		}
	}

	return nil
}

func validateBroadcast(cfg BroadcastConfig) error {
	if cfg.SendBuffer < 0 {
		return &ValidationError{
			Field:   "broadcast.send_buffer",
			Message: "send buffer must be non-negative",
		}
	}

	for i, name := range cfg.DefaultChannels {
		known := false
		for _, c := range constants.KnownChannels() {
			if name == c {
				known = true
				break
			}
		}
		if !known {
			return &ValidationError{
				Field:   fmt.Sprintf("broadcast.default_channels[%d]", i),
				Message: fmt.Sprintf("unknown channel: %s", name),
			}
		}
	}

	return nil
}
