package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	ProcResolver ProcResolverConfig `yaml:"procresolver"`
}

// ProcResolverConfig is the project configuration.
type ProcResolverConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Resolver ResolverConfig `yaml:"resolver"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// AuthHeader is set by the authenticating gateway; requests without it are rejected.
	AuthHeader   string `yaml:"auth_header"`
	AuthDisabled bool   `yaml:"auth_disabled"`
}

// StoreConfig selects and tunes the event store backend.
type StoreConfig struct {
	Mode        string                `yaml:"mode"` // redis|clickhouse|memory
	Redis       RedisConfig           `yaml:"redis"`
	ClickHouse  ClickHouseStoreConfig `yaml:"clickhouse"`
	Memory      MemoryStoreConfig     `yaml:"memory"`
	CallTimeout time.Duration         `yaml:"call_timeout"`
	MaxRows     int                   `yaml:"max_rows"`
	RateLimit   float64               `yaml:"rate_limit"` // store calls per second, 0 disables
	RateBurst   int                   `yaml:"rate_burst"`
}

// RedisConfig controls Redis access.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ClickHouseStoreConfig config for ClickHouse HTTP reads.
type ClickHouseStoreConfig struct {
	URL         string            `yaml:"url"`
	Database    string            `yaml:"database"`
	EventsTable string            `yaml:"events_table"`
	AlertsTable string            `yaml:"alerts_table"`
	Username    string            `yaml:"username"`
	Password    string            `yaml:"password"`
	Timeout     time.Duration     `yaml:"timeout"`
	Headers     map[string]string `yaml:"headers"`
}

// MemoryStoreConfig points at a JSONL fixture loaded at startup.
type MemoryStoreConfig struct {
	Path string `yaml:"path"`
}

// ResolverConfig bounds the tree walks.
type ResolverConfig struct {
	// DefaultGenerations may be 0; nil means unset.
	DefaultGenerations *int         `yaml:"default_generations"`
	DefaultPageSize    int          `yaml:"default_page_size"`
	MaxGenerations     int          `yaml:"max_generations"`
	MaxPageSize        int          `yaml:"max_page_size"`
	FanOut             int          `yaml:"fan_out"`
	FetchBatch         int          `yaml:"fetch_batch"`
	StoreCallBudget    int          `yaml:"store_call_budget"`
	LifecycleLimit     int          `yaml:"lifecycle_limit"`
	CursorSecret       string       `yaml:"cursor_secret"`
	Legacy             LegacyConfig `yaml:"legacy"`
}

// LegacyConfig fixes the limits of the deprecated endpoints.
type LegacyConfig struct {
	ChildrenPageSize int   `yaml:"children_page_size"`
	Generations      int   `yaml:"generations"`
	AlertsPageSize   int   `yaml:"alerts_page_size"`
	AlertsEnabled    *bool `yaml:"alerts_enabled"`
}

// IngestConfig controls the Redis list consumer that fills the store.
type IngestConfig struct {
	EventsKey     string        `yaml:"events_key"`
	AlertsKey     string        `yaml:"alerts_key"`
	BlockTimeout  time.Duration `yaml:"block_timeout"`
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// ArchivePath additionally appends every batch to a JSONL file that the
	// memory store can load.
	ArchivePath string `yaml:"archive_path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	c := &cfg.ProcResolver

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 20 * time.Second
	}
	if c.Server.AuthHeader == "" {
		c.Server.AuthHeader = "X-Authenticated-User"
	}

	if c.Store.Mode == "" {
		c.Store.Mode = "redis"
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Store.Redis.KeyPrefix == "" {
		c.Store.Redis.KeyPrefix = "procresolver"
	}
	if c.Store.ClickHouse.Database == "" {
		c.Store.ClickHouse.Database = "procresolver"
	}
	if c.Store.ClickHouse.EventsTable == "" {
		c.Store.ClickHouse.EventsTable = "process_events"
	}
	if c.Store.ClickHouse.AlertsTable == "" {
		c.Store.ClickHouse.AlertsTable = "alerts"
	}
	if c.Store.CallTimeout <= 0 {
		c.Store.CallTimeout = 2 * time.Second
	}
	if c.Store.MaxRows <= 0 {
		c.Store.MaxRows = 5000
	}
	if c.Store.RateLimit > 0 && c.Store.RateBurst <= 0 {
		c.Store.RateBurst = int(c.Store.RateLimit)
		if c.Store.RateBurst < 1 {
			c.Store.RateBurst = 1
		}
	}

	r := &c.Resolver
	if r.MaxGenerations <= 0 {
		r.MaxGenerations = 100
	}
	if r.MaxPageSize <= 0 {
		r.MaxPageSize = 1000
	}
	if r.DefaultGenerations == nil || *r.DefaultGenerations < 0 {
		generations := 10
		r.DefaultGenerations = &generations
	}
	if r.DefaultPageSize <= 0 {
		r.DefaultPageSize = 100
	}
	if r.FanOut <= 0 {
		r.FanOut = 8
	}
	if r.FetchBatch <= 0 {
		r.FetchBatch = 100
	}
	if r.StoreCallBudget <= 0 {
		r.StoreCallBudget = 500
	}
	if r.LifecycleLimit <= 0 {
		r.LifecycleLimit = 20
	}
	if r.Legacy.ChildrenPageSize <= 0 {
		r.Legacy.ChildrenPageSize = 10
	}
	if r.Legacy.Generations <= 0 {
		r.Legacy.Generations = 3
	}
	if r.Legacy.AlertsPageSize <= 0 {
		r.Legacy.AlertsPageSize = 100
	}
	if r.Legacy.AlertsEnabled == nil {
		enabled := true
		r.Legacy.AlertsEnabled = &enabled
	}

	if c.Ingest.EventsKey == "" {
		c.Ingest.EventsKey = "sysmon_events"
	}
	if c.Ingest.AlertsKey == "" {
		c.Ingest.AlertsKey = "resolver_alerts"
	}
	if c.Ingest.BlockTimeout <= 0 {
		c.Ingest.BlockTimeout = 5 * time.Second
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 8
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 1000
	}
	if c.Ingest.FlushInterval <= 0 {
		c.Ingest.FlushInterval = 2 * time.Second
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
