// Package config holds the batchq configuration model. Configuration
// is an explicit value threaded through constructors; there is no
// process-global singleton.
package config

import (
	"fmt"
	"time"
)

// Storage backend selectors.
const (
	StorageSQL   = "sql"
	StorageRedis = "redis"
)

// Config is the root of the BatchQueue configuration tree.
type Config struct {
	Storage  string        `yaml:"storage"`
	SQL      SQLConfig     `yaml:"sql"`
	Redis    RedisConfig   `yaml:"redis"`
	Queue    QueueConfig   `yaml:"queue"`
	Defaults Defaults      `yaml:"defaults"`
	Cleanup  CleanupConfig `yaml:"cleanup"`
	Queues   QueuesConfig  `yaml:"queues"`
}

// SQLConfig selects and parameterizes the SQL backend connection.
type SQLConfig struct {
	// Dialect is one of sqlite, mysql, postgres.
	Dialect string `yaml:"dialect"`
	// DSN is the driver connection string.
	DSN string `yaml:"dsn"`
	// Connection optionally names a host-managed connection.
	Connection string `yaml:"connection"`
}

// RedisConfig parameterizes the Redis backend.
type RedisConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Database    int    `yaml:"database"`
	Password    string `yaml:"password"`
	Persistent  bool   `yaml:"persistent"`
	Timeout     int    `yaml:"timeout"`
	ReadTimeout int    `yaml:"read_timeout"`
	Prefix      string `yaml:"prefix"`
	TTL         int    `yaml:"ttl"`
}

// Addr renders host:port for the client.
func (r RedisConfig) Addr() string {
	host := r.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := r.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// KeyPrefix returns the configured key namespace prefix.
func (r RedisConfig) KeyPrefix() string {
	if r.Prefix == "" {
		return "batch:"
	}
	return r.Prefix
}

// KeyTTL returns the hash TTL, defaulting to 24 hours.
func (r RedisConfig) KeyTTL() time.Duration {
	if r.TTL <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(r.TTL) * time.Second
}

// QueueConfig names the default queue.
type QueueConfig struct {
	Name string `yaml:"name"`
}

// Defaults applied to every batch unless overridden per batch.
type Defaults struct {
	FailOnFirstError bool `yaml:"fail_on_first_error"`
	MaxRetries       int  `yaml:"max_retries"`
	Timeout          int  `yaml:"timeout"`
	// StickyFailure keeps a parallel batch's terminal status at failed
	// once any job fails, even if the remaining jobs all complete.
	// When false, whichever terminal check commits last wins, matching
	// older deployments.
	StickyFailure *bool `yaml:"sticky_failure"`
}

// StickyFailureEnabled defaults to true when unset.
func (d Defaults) StickyFailureEnabled() bool {
	if d.StickyFailure == nil {
		return true
	}
	return *d.StickyFailure
}

// CleanupConfig drives the periodic removal of old terminal batches.
type CleanupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	OlderThanDays int    `yaml:"older_than_days"`
	RunInterval   string `yaml:"run_interval"`
}

// TypeQueues maps batch types to queue names.
type TypeQueues struct {
	Parallel   string `yaml:"parallel"`
	Sequential string `yaml:"sequential"`
}

// QueueRoute binds a logical name or type to a concrete queue and the
// processor variant consuming it.
type QueueRoute struct {
	QueueConfig string `yaml:"queue_config"`
	Processor   string `yaml:"processor"`
}

// QueuesConfig holds queue routing overrides.
type QueuesConfig struct {
	Default TypeQueues            `yaml:"default"`
	Named   map[string]QueueRoute `yaml:"named"`
	Types   map[string]QueueRoute `yaml:"types"`
}

// Default returns a Config with working development defaults.
func Default() *Config {
	return &Config{
		Storage: StorageSQL,
		SQL: SQLConfig{
			Dialect: "sqlite",
			DSN:     "file::memory:?cache=shared",
		},
		Redis: RedisConfig{
			Host: "127.0.0.1",
			Port: 6379,
		},
		Defaults: Defaults{
			MaxRetries: 3,
		},
		Cleanup: CleanupConfig{
			OlderThanDays: 30,
			RunInterval:   "1h",
		},
	}
}
