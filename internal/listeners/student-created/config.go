// internal/listeners/student-created/config.go
package studentcreated

import (
	"time"

	"admission-pipeline/internal/common/config"
)

type Config struct {
	Enabled bool
	Timeout time.Duration
}

func LoadConfig(cfg config.ListenerConfig) *Config {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Config{
		Enabled: cfg.Enabled,
		Timeout: timeout,
	}
}
