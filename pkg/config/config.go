// Package config loads and validates the lookup service configuration from a
// YAML file with environment-variable overrides. It provides typed structs
// for every subsystem (Server, Datasets, Search, Redis, Kafka, Postgres,
// Analytics, Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Dataset source kinds.
const (
	SourceFile     = "file"
	SourceS3       = "s3"
	SourcePostgres = "postgres"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Datasets  DatasetsConfig  `yaml:"datasets"`
	Search    SearchConfig    `yaml:"search"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the per-client request allowance per RateWindow; zero
	// disables limiting.
	RateLimit  int           `yaml:"rateLimit"`
	RateWindow time.Duration `yaml:"rateWindow"`
}

// DatasetsConfig selects where the three classifications are loaded from.
// Global, Diagnoses and Procedures name files (relative to Dir) or S3 object
// keys, depending on Source. Postgres sources read Tables instead.
type DatasetsConfig struct {
	Source      string        `yaml:"source"`
	Dir         string        `yaml:"dir"`
	Global      string        `yaml:"global"`
	Diagnoses   string        `yaml:"diagnoses"`
	Procedures  string        `yaml:"procedures"`
	S3          S3Config      `yaml:"s3"`
	Tables      TablesConfig  `yaml:"tables"`
	InitTimeout time.Duration `yaml:"initTimeout"`
	Retry       RetryConfig   `yaml:"retry"`
}

// S3Config points at the bucket holding the dataset objects.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"pathStyle"`
}

// TablesConfig names the PostgreSQL tables holding each classification.
type TablesConfig struct {
	Global     string `yaml:"global"`
	Diagnoses  string `yaml:"diagnoses"`
	Procedures string `yaml:"procedures"`
}

// RetryConfig bounds dataset fetch retries.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// SearchConfig caps result sizes.
type SearchConfig struct {
	MaxResults  int `yaml:"maxResults"`
	MaxExamples int `yaml:"maxExamples"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	LookupEvents string `yaml:"lookupEvents"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
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

// AnalyticsConfig controls lookup event collection and snapshotting.
type AnalyticsConfig struct {
	BufferSize       int           `yaml:"bufferSize"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
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

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
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

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Datasets.Source {
	case SourceFile:
		if c.Datasets.Global == "" || c.Datasets.Diagnoses == "" || c.Datasets.Procedures == "" {
			return fmt.Errorf("datasets: file source needs global, diagnoses and procedures paths")
		}
	case SourceS3:
		if c.Datasets.S3.Bucket == "" {
			return fmt.Errorf("datasets: s3 source needs a bucket")
		}
	case SourcePostgres:
		if !c.Postgres.Enabled {
			return fmt.Errorf("datasets: postgres source needs postgres.enabled")
		}
	default:
		return fmt.Errorf("datasets: unknown source %q", c.Datasets.Source)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search: maxResults must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.MaxExamples <= 0 {
		return fmt.Errorf("search: maxExamples must be positive, got %d", c.Search.MaxExamples)
	}
	if c.Datasets.InitTimeout <= 0 {
		return fmt.Errorf("datasets: initTimeout must be positive, got %s", c.Datasets.InitTimeout)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server: rateLimit must not be negative, got %d", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow <= 0 {
		return fmt.Errorf("server: rateWindow must be positive when rateLimit is set, got %s", c.Server.RateWindow)
	}
	if c.Redis.Enabled && c.Redis.CacheTTL <= 0 {
		return fmt.Errorf("redis: cacheTTL must be positive, got %s", c.Redis.CacheTTL)
	}
	if c.Analytics.BufferSize <= 0 {
		return fmt.Errorf("analytics: bufferSize must be positive, got %d", c.Analytics.BufferSize)
	}
	if c.Analytics.SnapshotInterval <= 0 {
		return fmt.Errorf("analytics: snapshotInterval must be positive, got %s", c.Analytics.SnapshotInterval)
	}
	return nil
}

// defaultConfig returns a Config suitable for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateWindow:      time.Second,
		},
		Datasets: DatasetsConfig{
			Source:     SourceFile,
			Dir:        "data",
			Global:     "int-standard/icd10-int.json",
			Diagnoses:  "us-standard/icd10cm_2026.json",
			Procedures: "us-standard/icd10pcs_2026.json",
			S3: S3Config{
				Region: "us-east-1",
			},
			Tables: TablesConfig{
				Global:     "icd10_int",
				Diagnoses:  "icd10_cm",
				Procedures: "icd10_pcs",
			},
			InitTimeout: 2 * time.Minute,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     10 * time.Second,
			},
		},
		Search: SearchConfig{
			MaxResults:  5,
			MaxExamples: 3,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "medcode-lookup",
			Topics: KafkaTopics{
				LookupEvents: "lookup-events",
			},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "medcode",
			User:            "medcode",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Analytics: AnalyticsConfig{
			BufferSize:       10000,
			SnapshotInterval: time.Minute,
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

// applyEnvOverrides reads ML_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ML_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ML_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("ML_DATASETS_SOURCE"); v != "" {
		cfg.Datasets.Source = v
	}
	if v := os.Getenv("ML_DATASETS_DIR"); v != "" {
		cfg.Datasets.Dir = v
	}
	if v := os.Getenv("ML_DATASETS_S3_BUCKET"); v != "" {
		cfg.Datasets.S3.Bucket = v
	}
	if v := os.Getenv("ML_DATASETS_S3_REGION"); v != "" {
		cfg.Datasets.S3.Region = v
	}
	if v := os.Getenv("ML_DATASETS_S3_ENDPOINT"); v != "" {
		cfg.Datasets.S3.Endpoint = v
	}
	if v := os.Getenv("ML_DATASETS_INIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Datasets.InitTimeout = d
		}
	}
	if v := os.Getenv("ML_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v, cfg.Redis.Enabled)
	}
	if v := os.Getenv("ML_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ML_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ML_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = parseBool(v, cfg.Kafka.Enabled)
	}
	if v := os.Getenv("ML_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ML_POSTGRES_ENABLED"); v != "" {
		cfg.Postgres.Enabled = parseBool(v, cfg.Postgres.Enabled)
	}
	if v := os.Getenv("ML_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("ML_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("ML_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("ML_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("ML_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("ML_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ML_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
