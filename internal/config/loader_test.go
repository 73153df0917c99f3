package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jittakal/actionstore/internal/config/dto"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create test config file: %v", err)
	}
	return path
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil {
		t.Fatal("expected non-nil loader")
	}
	if loader.v == nil {
		t.Fatal("expected non-nil viper instance")
	}
}

func TestLoader_LoadWithValidConfig(t *testing.T) {
	configFile := writeConfig(t, `
application:
  name: test-app
  version: 2.0.0

buffer:
  max_size: 25
  max_age_ms: 60000
  immediate_actions: [like, share]

storage:
  backend: file
  format: parquet
  file:
    base_path: /tmp/actions

kafka:
  bootstrap_servers:
    - localhost:9092
  consumer:
    enabled: true
    group_id: test-group
    topics:
      - actions
`)

	config, err := NewLoader().Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Application.Name != "test-app" {
		t.Errorf("Application.Name = %s, want test-app", config.Application.Name)
	}
	if config.Buffer.MaxSize != 25 {
		t.Errorf("Buffer.MaxSize = %d, want 25", config.Buffer.MaxSize)
	}
	if got := config.Buffer.MaxAge().Seconds(); got != 60 {
		t.Errorf("Buffer.MaxAge() = %vs, want 60s", got)
	}
	if !reflect.DeepEqual(config.Buffer.ImmediateActions, []string{"like", "share"}) {
		t.Errorf("Buffer.ImmediateActions = %v, want [like share]", config.Buffer.ImmediateActions)
	}
	if config.Storage.Backend != "file" || config.Storage.File.BasePath != "/tmp/actions" {
		t.Errorf("Storage = %+v, want file backend at /tmp/actions", config.Storage)
	}
	if !reflect.DeepEqual(config.Kafka.Consumer.Topics, []string{"actions"}) {
		t.Errorf("Kafka.Consumer.Topics = %v, want [actions]", config.Kafka.Consumer.Topics)
	}
	// untouched sections keep their defaults
	if config.Buffer.RequeueLimit != 50 {
		t.Errorf("Buffer.RequeueLimit = %d, want 50", config.Buffer.RequeueLimit)
	}
	if config.Server.Port != 8080 || config.Observability.Metrics.Port != 9090 {
		t.Errorf("ports = %d/%d, want 8080/9090", config.Server.Port, config.Observability.Metrics.Port)
	}
}

func TestLoader_Defaults(t *testing.T) {
	t.Setenv("S3_BUCKET_NAME", "actions-bucket")

	config, err := NewLoader().Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Buffer.MaxSize != 100 {
		t.Errorf("Buffer.MaxSize = %d, want 100", config.Buffer.MaxSize)
	}
	if config.Buffer.MaxAgeMS != 300000 {
		t.Errorf("Buffer.MaxAgeMS = %d, want 300000", config.Buffer.MaxAgeMS)
	}
	if !reflect.DeepEqual(config.Buffer.ImmediateActions, []string{"like", "bookmark"}) {
		t.Errorf("Buffer.ImmediateActions = %v, want [like bookmark]", config.Buffer.ImmediateActions)
	}
	if config.Storage.Backend != "s3" || config.Storage.Format != "json" {
		t.Errorf("Storage = %s/%s, want s3/json", config.Storage.Backend, config.Storage.Format)
	}
	if config.Storage.S3.Bucket != "actions-bucket" {
		t.Errorf("Storage.S3.Bucket = %s, want actions-bucket", config.Storage.S3.Bucket)
	}
	if config.Kafka.Consumer.Enabled || config.Kafka.Loss.Enabled {
		t.Error("kafka should be disabled by default")
	}
}

func TestLoader_LegacyEnv(t *testing.T) {
	t.Setenv("MAX_BUFFER_SIZE", "7")
	t.Setenv("MAX_BUFFER_AGE", "1500")
	t.Setenv("IMMEDIATE_ACTIONS", "like, purchase")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("S3_BUCKET_NAME", "legacy-bucket")

	config, err := NewLoader().Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Buffer.MaxSize != 7 {
		t.Errorf("Buffer.MaxSize = %d, want 7", config.Buffer.MaxSize)
	}
	if config.Buffer.MaxAgeMS != 1500 {
		t.Errorf("Buffer.MaxAgeMS = %d, want 1500", config.Buffer.MaxAgeMS)
	}
	if !reflect.DeepEqual(config.Buffer.ImmediateActions, []string{"like", "purchase"}) {
		t.Errorf("Buffer.ImmediateActions = %v, want [like purchase]", config.Buffer.ImmediateActions)
	}
	if config.Storage.S3.Region != "eu-west-1" || config.Kafka.AWSRegion != "eu-west-1" {
		t.Errorf("regions = %s/%s, want eu-west-1", config.Storage.S3.Region, config.Kafka.AWSRegion)
	}
	if config.Storage.S3.Bucket != "legacy-bucket" {
		t.Errorf("Storage.S3.Bucket = %s, want legacy-bucket", config.Storage.S3.Bucket)
	}
}

func TestLoader_PrefixedEnvWins(t *testing.T) {
	t.Setenv("MAX_BUFFER_SIZE", "7")
	t.Setenv("APP_BUFFER_MAX_SIZE", "9")
	t.Setenv("APP_STORAGE_BACKEND", "file")
	t.Setenv("APP_SERVER_PORT", "8081")

	config, err := NewLoader().Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Buffer.MaxSize != 9 {
		t.Errorf("Buffer.MaxSize = %d, want 9", config.Buffer.MaxSize)
	}
	if config.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %s, want file", config.Storage.Backend)
	}
	if config.Server.Port != 8081 {
		t.Errorf("Server.Port = %d, want 8081", config.Server.Port)
	}
}

func TestLoader_ExpandsEnvReferences(t *testing.T) {
	t.Setenv("TEST_ACTIONS_DIR", "/var/lib/actions")
	configFile := writeConfig(t, `
storage:
  backend: file
  file:
    base_path: ${TEST_ACTIONS_DIR}/batches
`)

	config, err := NewLoader().Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Storage.File.BasePath != "/var/lib/actions/batches" {
		t.Errorf("Storage.File.BasePath = %s, want /var/lib/actions/batches", config.Storage.File.BasePath)
	}
}

func TestLoader_LoadWithMissingFile(t *testing.T) {
	t.Setenv("APP_STORAGE_BACKEND", "file")

	// a missing file falls back to defaults and env
	config, err := NewLoader().Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Storage.File.BasePath != "./data" {
		t.Errorf("Storage.File.BasePath = %s, want ./data", config.Storage.File.BasePath)
	}
}

func TestLoader_LoadRejectsInvalid(t *testing.T) {
	configFile := writeConfig(t, `
storage:
  backend: file
  format: csv
`)
	if _, err := NewLoader().Load(configFile); err == nil {
		t.Fatal("expected validation error for unsupported format")
	}
}

func validConfig() *dto.ApplicationConfig {
	return &dto.ApplicationConfig{
		Application: dto.ApplicationInfo{Name: "actionstore"},
		Buffer:      dto.BufferConfig{MaxSize: 100, MaxAgeMS: 300000, RequeueLimit: 50},
		Storage: dto.StorageConfig{
			Backend: "file",
			Format:  "json",
			File:    dto.FileConfig{BasePath: "/tmp/test"},
		},
		Server: dto.ServerConfig{
			Port:      8080,
			RateLimit: dto.RateLimitConfig{Enabled: true, RequestsPerSecond: 10},
		},
		Kafka: dto.KafkaConfig{
			Consumer: dto.ConsumerConfig{AutoOffsetReset: "earliest"},
		},
		Scheduler: dto.SchedulerConfig{Enabled: true, IntervalSeconds: 30},
		Observability: dto.ObservabilityConfig{
			Logging: dto.LoggingConfig{Level: "info", Format: "json"},
			Metrics: dto.MetricsConfig{Enabled: true, Port: 9090},
		},
	}
}

func TestLoader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *dto.ApplicationConfig)
		wantErr bool
	}{
		{"valid file backend config", func(*dto.ApplicationConfig) {}, false},
		{"missing application name", func(c *dto.ApplicationConfig) { c.Application.Name = "" }, true},
		{"zero buffer size", func(c *dto.ApplicationConfig) { c.Buffer.MaxSize = 0 }, true},
		{"zero buffer age", func(c *dto.ApplicationConfig) { c.Buffer.MaxAgeMS = 0 }, true},
		{"s3 backend missing bucket", func(c *dto.ApplicationConfig) {
			c.Storage.Backend = "s3"
			c.Storage.S3 = dto.S3Config{Region: "us-east-1"}
		}, true},
		{"s3 backend", func(c *dto.ApplicationConfig) {
			c.Storage.Backend = "s3"
			c.Storage.S3 = dto.S3Config{Bucket: "b", Region: "us-east-1"}
		}, false},
		{"gcs backend missing bucket", func(c *dto.ApplicationConfig) { c.Storage.Backend = "gcs" }, true},
		{"azure backend missing account name", func(c *dto.ApplicationConfig) {
			c.Storage.Backend = "azure"
			c.Storage.Azure = dto.AzureConfig{Container: "actions"}
		}, true},
		{"minio backend", func(c *dto.ApplicationConfig) {
			c.Storage.Backend = "minio"
			c.Storage.MinIO = dto.MinIOConfig{Endpoint: "localhost:9000", Bucket: "actions"}
		}, false},
		{"minio backend missing endpoint", func(c *dto.ApplicationConfig) {
			c.Storage.Backend = "minio"
			c.Storage.MinIO = dto.MinIOConfig{Bucket: "actions"}
		}, true},
		{"unsupported storage backend", func(c *dto.ApplicationConfig) { c.Storage.Backend = "ftp" }, true},
		{"parquet format", func(c *dto.ApplicationConfig) { c.Storage.Format = "parquet" }, false},
		{"unsupported storage format", func(c *dto.ApplicationConfig) { c.Storage.Format = "csv" }, true},
		{"consumer without bootstrap servers", func(c *dto.ApplicationConfig) {
			c.Kafka.Consumer = dto.ConsumerConfig{Enabled: true, GroupID: "g", Topics: []string{"t"}, AutoOffsetReset: "earliest"}
		}, true},
		{"consumer without topics", func(c *dto.ApplicationConfig) {
			c.Kafka.BootstrapServers = []string{"localhost:9092"}
			c.Kafka.Consumer = dto.ConsumerConfig{Enabled: true, GroupID: "g", AutoOffsetReset: "earliest"}
		}, true},
		{"loss topic missing", func(c *dto.ApplicationConfig) {
			c.Kafka.BootstrapServers = []string{"localhost:9092"}
			c.Kafka.Loss = dto.LossConfig{Enabled: true}
		}, true},
		{"unsupported offset reset", func(c *dto.ApplicationConfig) { c.Kafka.Consumer.AutoOffsetReset = "middle" }, true},
		{"scheduler without interval", func(c *dto.ApplicationConfig) { c.Scheduler.IntervalSeconds = 0 }, true},
		{"scheduler with cron", func(c *dto.ApplicationConfig) {
			c.Scheduler.IntervalSeconds = 0
			c.Scheduler.Cron = "@every 1m"
		}, false},
		{"zero rate limit", func(c *dto.ApplicationConfig) { c.Server.RateLimit.RequestsPerSecond = 0 }, true},
		{"unsupported log format", func(c *dto.ApplicationConfig) { c.Observability.Logging.Format = "xml" }, true},
		{"unsupported log level", func(c *dto.ApplicationConfig) { c.Observability.Logging.Level = "verbose" }, true},
		{"invalid metrics port", func(c *dto.ApplicationConfig) { c.Observability.Metrics.Port = 70000 }, true},
		{"metrics port clash", func(c *dto.ApplicationConfig) { c.Observability.Metrics.Port = 8080 }, true},
		{"metrics disabled ignores port", func(c *dto.ApplicationConfig) {
			c.Observability.Metrics = dto.MetricsConfig{Enabled: false, Port: 0}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			err := NewLoader().Validate(config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_setDefaults(t *testing.T) {
	loader := NewLoader()
	loader.setDefaults()

	if loader.v.GetString("application.name") != "actionstore" {
		t.Error("default application.name not set correctly")
	}
	if loader.v.GetInt("buffer.max_size") != 100 {
		t.Error("default buffer.max_size not set correctly")
	}
	if loader.v.GetString("storage.format") != "json" {
		t.Error("default storage.format not set correctly")
	}
}
