package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Events   EventsConfig   `yaml:"events"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	Backend   string          `yaml:"backend"` // "timescale" or "mongo"
	Timescale TimescaleConfig `yaml:"timescale"`
	Mongo     MongoConfig     `yaml:"mongo"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type CacheConfig struct {
	Backend     string        `yaml:"backend"` // "redis" or "memory"
	Redis       RedisConfig   `yaml:"redis"`
	Memory      MemoryConfig  `yaml:"memory"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
	LivenessTTL time.Duration `yaml:"liveness_ttl"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MemoryConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

type EventsConfig struct {
	Backend string      `yaml:"backend"` // "kafka" or "log"
	Kafka   KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

// PipelineConfig bounds the coordinators and the aggregation engine.
type PipelineConfig struct {
	MaxRangeLimit      int           `yaml:"max_range_limit"`
	MaxBuckets         int           `yaml:"max_buckets"`
	SideEffectWorkers  int           `yaml:"side_effect_workers"`
	SideEffectQueueLen int           `yaml:"side_effect_queue_len"`
	DurableTimeout     time.Duration `yaml:"durable_timeout"`
	CacheTimeout       time.Duration `yaml:"cache_timeout"`
	EventTimeout       time.Duration `yaml:"event_timeout"`
	SaveRollups        bool          `yaml:"save_rollups"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields; Load calls it, and embedders building a
// Config in code should too.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "timescale"
	}
	if c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = "tierflow"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.Memory.MaxEntries == 0 {
		c.Cache.Memory.MaxEntries = 65536
	}
	if c.Cache.SnapshotTTL == 0 {
		c.Cache.SnapshotTTL = 10 * time.Minute
	}
	if c.Cache.LivenessTTL == 0 {
		c.Cache.LivenessTTL = 5 * time.Minute
	}
	if c.Events.Backend == "" {
		c.Events.Backend = "log"
	}
	if c.Events.Kafka.Topic == "" {
		c.Events.Kafka.Topic = "tierflow-events"
	}
	if c.Pipeline.MaxRangeLimit == 0 {
		c.Pipeline.MaxRangeLimit = 10_000
	}
	if c.Pipeline.MaxBuckets == 0 {
		c.Pipeline.MaxBuckets = 5_000
	}
	if c.Pipeline.SideEffectWorkers == 0 {
		c.Pipeline.SideEffectWorkers = 4
	}
	if c.Pipeline.SideEffectQueueLen == 0 {
		c.Pipeline.SideEffectQueueLen = 1024
	}
	if c.Pipeline.DurableTimeout == 0 {
		c.Pipeline.DurableTimeout = 30 * time.Second
	}
	if c.Pipeline.CacheTimeout == 0 {
		c.Pipeline.CacheTimeout = 5 * time.Second
	}
	if c.Pipeline.EventTimeout == 0 {
		c.Pipeline.EventTimeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "timescale":
		if c.Storage.Timescale.ConnString == "" {
			return fmt.Errorf("storage.timescale.conn_string is required")
		}
	case "mongo":
		if c.Storage.Mongo.URI == "" {
			return fmt.Errorf("storage.mongo.uri is required")
		}
	default:
		return fmt.Errorf("storage.backend must be timescale or mongo, got %q", c.Storage.Backend)
	}

	switch c.Cache.Backend {
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required")
		}
	case "memory":
	default:
		return fmt.Errorf("cache.backend must be redis or memory, got %q", c.Cache.Backend)
	}

	switch c.Events.Backend {
	case "kafka":
		if c.Events.Kafka.Brokers == "" {
			return fmt.Errorf("events.kafka.brokers is required")
		}
	case "log":
	default:
		return fmt.Errorf("events.backend must be kafka or log, got %q", c.Events.Backend)
	}

	return nil
}
