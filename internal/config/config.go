package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Ingest         IngestConfig
	Store          StoreConfig
	Rules          RulesConfig
	Broadcast      BroadcastConfig
	Notify         NotifyConfig
	CircuitBreaker CircuitBreakerConfig
	RateLimit      RateLimitConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
	MongoDB  MongoDBConfig
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers     []string    `mapstructure:"brokers"`
	GroupID     string      `mapstructure:"group_id"`
	EventsTopic string      `mapstructure:"events_topic"`
	AlertsTopic string      `mapstructure:"alerts_topic"`
	Retry       RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type IngestConfig struct {
	PollInterval       time.Duration      `mapstructure:"poll_interval"`
	PullTimeout        time.Duration      `mapstructure:"pull_timeout"`
	SourceTrustWeights map[string]float64 `mapstructure:"source_trust_weights"`
	CrisisReach        int64              `mapstructure:"crisis_reach"`
	CrisisSentiment    float64            `mapstructure:"crisis_sentiment"`
	Sources            []SourceConfig     `mapstructure:"sources"`
}

type SourceConfig struct {
	Name    string        `mapstructure:"name"`
	Type    string        `mapstructure:"type"` // "http" or "kafka"
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Topic   string        `mapstructure:"topic"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`
	FlushInterval       time.Duration `mapstructure:"flush_interval"`
	Retention           time.Duration `mapstructure:"retention"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	SimilarityWindow    time.Duration `mapstructure:"similarity_window"`
	OnLookupError       string        `mapstructure:"on_lookup_error"` // "allow" (fail open, default) or "deny"
}

type RulesConfig struct {
	WindowLength     time.Duration `mapstructure:"window_length"`
	WindowStep       time.Duration `mapstructure:"window_step"`
	ReloadInterval   time.Duration `mapstructure:"reload_interval"`
	BaselineInterval time.Duration `mapstructure:"baseline_interval"`
	BaselineLookback time.Duration `mapstructure:"baseline_lookback"`
}

type BroadcastConfig struct {
	HeartbeatPeriod time.Duration `mapstructure:"heartbeat_period"`
	StaleThreshold  time.Duration `mapstructure:"stale_threshold"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	DefaultChannels []string      `mapstructure:"default_channels"`
}

type NotifyConfig struct {
	WebhookURL string      `mapstructure:"webhook_url"`
	Email      EmailConfig `mapstructure:"email"`
}

type EmailConfig struct {
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
