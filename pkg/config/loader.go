package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// fileRoot is the top-level document shape: all keys live under the
// batchqueue section so the file can be shared with host config.
type fileRoot struct {
	BatchQueue *Config `yaml:"batchqueue"`
}

// Load reads configuration from the YAML file at path, overlays
// environment variables, and returns the result. A missing path loads
// defaults plus environment. A .env file next to the process is
// honored when present.
func Load(path string) (*Config, error) {
	// .env is optional; ignore absence.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		var root fileRoot
		if err := yaml.Unmarshal(raw, &root); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if root.BatchQueue != nil {
			merge(cfg, root.BatchQueue)
		}
	}

	loadEnv(cfg)
	return cfg, nil
}

func merge(dst, src *Config) {
	if src.Storage != "" {
		dst.Storage = src.Storage
	}
	if src.SQL.Dialect != "" {
		dst.SQL.Dialect = src.SQL.Dialect
	}
	if src.SQL.DSN != "" {
		dst.SQL.DSN = src.SQL.DSN
	}
	if src.SQL.Connection != "" {
		dst.SQL.Connection = src.SQL.Connection
	}
	if src.Redis.Host != "" {
		dst.Redis = src.Redis
	}
	if src.Queue.Name != "" {
		dst.Queue = src.Queue
	}
	if src.Defaults.MaxRetries != 0 {
		dst.Defaults.MaxRetries = src.Defaults.MaxRetries
	}
	if src.Defaults.Timeout != 0 {
		dst.Defaults.Timeout = src.Defaults.Timeout
	}
	dst.Defaults.FailOnFirstError = src.Defaults.FailOnFirstError
	if src.Defaults.StickyFailure != nil {
		dst.Defaults.StickyFailure = src.Defaults.StickyFailure
	}
	if src.Cleanup.RunInterval != "" || src.Cleanup.Enabled {
		dst.Cleanup = src.Cleanup
	}
	dst.Queues = src.Queues
}

// loadEnv overrides individual settings from BATCHQUEUE_* variables.
func loadEnv(cfg *Config) {
	if v := os.Getenv("BATCHQUEUE_STORAGE"); v != "" {
		cfg.Storage = v
	}
	if v := os.Getenv("BATCHQUEUE_SQL_DIALECT"); v != "" {
		cfg.SQL.Dialect = v
	}
	if v := os.Getenv("BATCHQUEUE_SQL_DSN"); v != "" {
		cfg.SQL.DSN = v
	}
	if v := os.Getenv("BATCHQUEUE_REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("BATCHQUEUE_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}
	if v := os.Getenv("BATCHQUEUE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BATCHQUEUE_REDIS_PREFIX"); v != "" {
		cfg.Redis.Prefix = v
	}
	if v := os.Getenv("BATCHQUEUE_QUEUE_NAME"); v != "" {
		cfg.Queue.Name = v
	}
	if v := os.Getenv("BATCHQUEUE_CLEANUP_ENABLED"); v != "" {
		cfg.Cleanup.Enabled = v == "true" || v == "1"
	}
}
