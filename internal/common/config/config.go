// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig                 `mapstructure:"app"`
	Database      DatabaseConfig            `mapstructure:"database"`
	Scoring       ScoringConfig             `mapstructure:"scoring"`
	Batching      BatchingConfig            `mapstructure:"batching"`
	Stages        StagesConfig              `mapstructure:"stages"`
	Listeners     map[string]ListenerConfig `mapstructure:"listeners"`
	Notifications NotificationConfig        `mapstructure:"notifications"`
	Indexer       IndexerConfig             `mapstructure:"indexer"`
	Logging       LoggingConfig             `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// ScoringConfig points at the external ML scoring service.
type ScoringConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMs int    `mapstructure:"timeout_ms"` // per chunk call
}

// BatchingConfig holds the shared knobs for chunk sizing, worker-pool sizing
// and chunk retry behavior. Per-stage caps live in StagesConfig.
type BatchingConfig struct {
	MaxRetries        int `mapstructure:"max_retries"`
	BaseDelayMs       int `mapstructure:"base_delay_ms"`
	SweepDelayMs      int `mapstructure:"sweep_delay_ms"`
	InputsPerWorker   int `mapstructure:"inputs_per_worker"`
	MinConcurrency    int `mapstructure:"min_concurrency"`
	MaxConcurrency    int `mapstructure:"max_concurrency"`
	NetworkLatencyMs  int `mapstructure:"network_latency_ms"`
	MemoryLimitMB     int `mapstructure:"memory_limit_mb"`
	ServerConcurrency int `mapstructure:"server_concurrency"`
}

// StageConfig holds the per-stage chunk cap and processing complexity class.
type StageConfig struct {
	MaxChunkSize int    `mapstructure:"max_chunk_size"`
	Complexity   string `mapstructure:"complexity"` // low | medium | high
}

type StagesConfig struct {
	L1 StageConfig `mapstructure:"l1"`
	L2 StageConfig `mapstructure:"l2"`
	L3 StageConfig `mapstructure:"l3"`
}

// ListenerConfig holds the core settings applicable to every event listener.
type ListenerConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	TimeoutMs int  `mapstructure:"timeout_ms"` // per event processing budget
}

// NotificationConfig holds settings for the completion notifier.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// IndexerConfig holds settings for the Elasticsearch analytics indexer.
type IndexerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
