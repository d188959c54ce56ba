// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like SCORING_BASE_URL
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	setDefaults()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored if absent.
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.App.Environment == "" {
		cfg.App.Environment = env
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "prediction-manager")
	viper.SetDefault("app.metrics_port", 9102)

	viper.SetDefault("database.postgres.host", "localhost")
	viper.SetDefault("database.postgres.port", 5432)
	viper.SetDefault("database.postgres.sslmode", "disable")
	viper.SetDefault("database.postgres.max_connections", 20)
	viper.SetDefault("database.postgres.max_idle", 5)
	viper.SetDefault("database.redis.address", "localhost:6379")

	viper.SetDefault("scoring.base_url", "http://localhost:8500")
	viper.SetDefault("scoring.timeout_ms", 10000)

	viper.SetDefault("batching.max_retries", 3)
	viper.SetDefault("batching.base_delay_ms", 500)
	viper.SetDefault("batching.sweep_delay_ms", 200)
	viper.SetDefault("batching.inputs_per_worker", 10)
	viper.SetDefault("batching.min_concurrency", 2)
	viper.SetDefault("batching.max_concurrency", 10)
	viper.SetDefault("batching.network_latency_ms", 200)
	viper.SetDefault("batching.memory_limit_mb", 512)
	viper.SetDefault("batching.server_concurrency", 8)

	viper.SetDefault("stages.l1.max_chunk_size", 50)
	viper.SetDefault("stages.l1.complexity", "medium")
	viper.SetDefault("stages.l2.max_chunk_size", 100)
	viper.SetDefault("stages.l2.complexity", "low")
	viper.SetDefault("stages.l3.max_chunk_size", 30)
	viper.SetDefault("stages.l3.complexity", "high")

	viper.SetDefault("listeners.student-created.enabled", true)
	viper.SetDefault("listeners.student-created.timeout_ms", 120000)
	viper.SetDefault("listeners.ocr-completed.enabled", true)
	viper.SetDefault("listeners.ocr-completed.timeout_ms", 120000)

	viper.SetDefault("notifications.email.enabled", false)
	viper.SetDefault("notifications.sms.enabled", false)
	viper.SetDefault("indexer.enabled", false)
	viper.SetDefault("indexer.index", "prediction-results")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// loadEnvFile loads .env from the working directory or the project root so
// the binary and package tests resolve the same file.
func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func validateConfig(cfg *Config) error {
	if cfg.Scoring.BaseURL == "" {
		return fmt.Errorf("scoring.base_url is required")
	}
	if cfg.Scoring.TimeoutMs <= 0 {
		return fmt.Errorf("scoring.timeout_ms must be positive")
	}
	if cfg.Batching.MaxRetries < 0 {
		return fmt.Errorf("batching.max_retries must not be negative")
	}
	if cfg.Batching.ServerConcurrency <= 0 {
		return fmt.Errorf("batching.server_concurrency must be positive")
	}
	for _, sc := range []struct {
		name  string
		stage StageConfig
	}{
		{"l1", cfg.Stages.L1},
		{"l2", cfg.Stages.L2},
		{"l3", cfg.Stages.L3},
	} {
		if sc.stage.MaxChunkSize <= 0 {
			return fmt.Errorf("stages.%s.max_chunk_size must be positive", sc.name)
		}
		switch sc.stage.Complexity {
		case "low", "medium", "high":
		default:
			return fmt.Errorf("stages.%s.complexity must be low, medium or high", sc.name)
		}
	}
	if cfg.Notifications.Email.Enabled && cfg.Notifications.Email.FromEmail == "" {
		return fmt.Errorf("notifications.email.from_email is required when email is enabled")
	}
	return nil
}
