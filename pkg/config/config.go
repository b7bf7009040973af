// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Redis, Kafka, Postgres, Engine, Snapshot, Replication, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Engine      EngineConfig      `yaml:"engine"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Replication ReplicationConfig `yaml:"replication"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// RedisConfig holds the connection to the keyspace that stores document
// objects, plus the read cache in front of it.
type RedisConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	PoolSize       int           `yaml:"poolSize"`
	CacheSize      int           `yaml:"cacheSize"`
	WatchKeyspace  bool          `yaml:"watchKeyspace"`
	FailureLimit   int           `yaml:"failureLimit"`
	ObjectDeadline time.Duration `yaml:"objectDeadline"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Replication string `yaml:"replication"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// EngineConfig controls the mutation engine and its garbage collector.
type EngineConfig struct {
	DataDir string   `yaml:"dataDir"`
	GC      GCConfig `yaml:"gc"`
}

// GCConfig controls the adaptive scan cadence of the garbage collector.
type GCConfig struct {
	MinInterval    time.Duration `yaml:"minInterval"`
	MaxInterval    time.Duration `yaml:"maxInterval"`
	ScansPerSecond float64       `yaml:"scansPerSecond"`
	HintThreshold  int64         `yaml:"hintThreshold"`
}

// SnapshotConfig selects where registry snapshots are persisted.
type SnapshotConfig struct {
	Backend  string        `yaml:"backend"` // "file", "postgres" or "none"
	Interval time.Duration `yaml:"interval"`
	Level    int           `yaml:"level"`
}

// ReplicationConfig controls publishing of mutation effects.
type ReplicationConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"bufferSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:        true,
			Addr:           "localhost:6379",
			PoolSize:       10,
			CacheSize:      4096,
			FailureLimit:   5,
			ObjectDeadline: 2 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "fts-replica",
			Topics: KafkaTopics{
				Replication: "fts.replication",
			},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "fts",
			User:            "fts",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Engine: EngineConfig{
			DataDir: "data",
			GC: GCConfig{
				MinInterval:    100 * time.Millisecond,
				MaxInterval:    30 * time.Second,
				ScansPerSecond: 10,
				HintThreshold:  100,
			},
		},
		Snapshot: SnapshotConfig{
			Backend:  "file",
			Interval: time.Minute,
			Level:    3,
		},
		Replication: ReplicationConfig{
			Enabled:    false,
			BufferSize: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects combinations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Snapshot.Backend {
	case "file", "postgres", "none":
	default:
		return fmt.Errorf("invalid snapshot backend %q", c.Snapshot.Backend)
	}
	if c.Engine.GC.MinInterval <= 0 || c.Engine.GC.MaxInterval < c.Engine.GC.MinInterval {
		return fmt.Errorf("invalid gc interval range [%v, %v]", c.Engine.GC.MinInterval, c.Engine.GC.MaxInterval)
	}
	if c.Replication.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("replication enabled without kafka brokers")
	}
	return nil
}

// applyEnvOverrides reads FTS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FTS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FTS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FTS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FTS_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("FTS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FTS_REPLICATION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Replication.Enabled = b
		}
	}
	if v := os.Getenv("FTS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("FTS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FTS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FTS_SNAPSHOT_BACKEND"); v != "" {
		cfg.Snapshot.Backend = v
	}
	if v := os.Getenv("FTS_DATA_DIR"); v != "" {
		cfg.Engine.DataDir = v
	}
	if v := os.Getenv("FTS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FTS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
