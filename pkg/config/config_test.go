package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, config.SourceFile, cfg.Datasets.Source)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, 3, cfg.Search.MaxExamples)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "lookup-events", cfg.Kafka.Topics.LookupEvents)
	assert.Equal(t, 2*time.Minute, cfg.Datasets.InitTimeout)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
datasets:
  source: s3
  s3:
    bucket: icd-datasets
    endpoint: http://localhost:9000
    pathStyle: true
  initTimeout: 30s
search:
  maxResults: 10
redis:
  enabled: true
  cacheTTL: 1m
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, config.SourceS3, cfg.Datasets.Source)
	assert.Equal(t, "icd-datasets", cfg.Datasets.S3.Bucket)
	assert.True(t, cfg.Datasets.S3.PathStyle)
	assert.Equal(t, "us-east-1", cfg.Datasets.S3.Region, "unset nested fields keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Datasets.InitTimeout)
	assert.Equal(t, 10, cfg.Search.MaxResults)
	assert.Equal(t, 3, cfg.Search.MaxExamples)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Minute, cfg.Redis.CacheTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ML_SERVER_PORT", "7070")
	t.Setenv("ML_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ML_KAFKA_ENABLED", "true")
	t.Setenv("ML_DATASETS_DIR", "/srv/data")
	t.Setenv("ML_LOGGING_LEVEL", "debug")
	t.Setenv("ML_REDIS_ENABLED", "not-a-bool")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, "/srv/data", cfg.Datasets.Dir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Redis.Enabled, "unparsable bool keeps the previous value")
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	_, err = config.Load(writeConfig(t, "server: [not, a, map]"))
	assert.ErrorContains(t, err, "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "unknown source", yaml: "datasets:\n  source: ftp\n", wantErr: "unknown source"},
		{name: "s3 without bucket", yaml: "datasets:\n  source: s3\n", wantErr: "needs a bucket"},
		{name: "postgres disabled", yaml: "datasets:\n  source: postgres\n", wantErr: "postgres.enabled"},
		{name: "file without path", yaml: "datasets:\n  global: \"\"\n", wantErr: "file source"},
		{name: "zero results", yaml: "search:\n  maxResults: 0\n", wantErr: "maxResults"},
		{name: "negative examples", yaml: "search:\n  maxExamples: -1\n", wantErr: "maxExamples"},
		{name: "zero snapshot interval", yaml: "analytics:\n  snapshotInterval: 0s\n", wantErr: "snapshotInterval"},
		{name: "negative snapshot interval", yaml: "analytics:\n  snapshotInterval: -1m\n", wantErr: "snapshotInterval"},
		{name: "zero buffer", yaml: "analytics:\n  bufferSize: 0\n", wantErr: "bufferSize"},
		{name: "zero init timeout", yaml: "datasets:\n  initTimeout: 0s\n", wantErr: "initTimeout"},
		{name: "negative rate limit", yaml: "server:\n  rateLimit: -1\n", wantErr: "rateLimit"},
		{name: "rate limit without window", yaml: "server:\n  rateLimit: 10\n  rateWindow: 0s\n", wantErr: "rateWindow"},
		{name: "cache without ttl", yaml: "redis:\n  enabled: true\n  cacheTTL: 0s\n", wantErr: "cacheTTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.yaml))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_RateWindowIgnoredWhenLimitOff(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "server:\n  rateLimit: 0\n  rateWindow: 0s\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Server.RateLimit)
}

func TestPostgresConfig_DSN(t *testing.T) {
	p := config.PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "medcode", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=medcode sslmode=require", p.DSN())
}

func TestLoad_DevelopmentConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "development.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "icd10_cm", cfg.Datasets.Tables.Diagnoses)
	assert.Equal(t, time.Minute, cfg.Analytics.SnapshotInterval)
	assert.Equal(t, 10*time.Second, cfg.Datasets.Retry.MaxDelay)
}
