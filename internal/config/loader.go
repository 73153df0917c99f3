package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/actionstore/internal/config/dto"
	"github.com/jittakal/actionstore/pkg/action"
)

// legacyEnv maps config keys to the unprefixed variable names older
// deployments set. APP_ prefixed names still take precedence.
var legacyEnv = map[string]string{
	"buffer.max_size":          "MAX_BUFFER_SIZE",
	"buffer.max_age_ms":        "MAX_BUFFER_AGE",
	"buffer.immediate_actions": "IMMEDIATE_ACTIONS",
	"storage.s3.region":        "AWS_REGION",
	"storage.s3.bucket":        "S3_BUCKET_NAME",
	"kafka.aws_region":         "AWS_REGION",
}

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()
	if err := l.bindLegacyEnv(); err != nil {
		return nil, err
	}

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Only expand values that contain a ${...} reference.
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Buffer.ImmediateActions = normalizeList(config.Buffer.ImmediateActions)
	config.Kafka.BootstrapServers = normalizeList(config.Kafka.BootstrapServers)
	config.Kafka.Consumer.Topics = normalizeList(config.Kafka.Consumer.Topics)

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (l *Loader) bindLegacyEnv() error {
	for key, name := range legacyEnv {
		prefixed := "APP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := l.v.BindEnv(key, prefixed, name); err != nil {
			return fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}
	return nil
}

// normalizeList trims entries and drops empty ones, so "like, bookmark" and
// a YAML list decode the same way. A non-nil empty result is kept empty.
func normalizeList(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "actionstore")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Buffer defaults
	l.v.SetDefault("buffer.max_size", 100)
	l.v.SetDefault("buffer.max_age_ms", 300000)
	l.v.SetDefault("buffer.requeue_limit", 50)
	l.v.SetDefault("buffer.compress", false)
	l.v.SetDefault("buffer.immediate_actions", []string{"like", "bookmark"})

	// Storage defaults
	l.v.SetDefault("storage.backend", "s3")
	l.v.SetDefault("storage.format", "json")
	l.v.SetDefault("storage.compression", "snappy")
	l.v.SetDefault("storage.key_prefix", "")
	l.v.SetDefault("storage.upload.max_attempts", 3)
	l.v.SetDefault("storage.upload.base_backoff_ms", 100)
	l.v.SetDefault("storage.s3.bucket", "")
	l.v.SetDefault("storage.s3.region", "us-east-1")
	l.v.SetDefault("storage.s3.endpoint", "")
	l.v.SetDefault("storage.s3.use_path_style", false)
	l.v.SetDefault("storage.s3.sse_enabled", true)
	l.v.SetDefault("storage.s3.sse_kms_key_id", "")
	l.v.SetDefault("storage.gcs.bucket", "")
	l.v.SetDefault("storage.gcs.project_id", "")
	l.v.SetDefault("storage.gcs.use_default_credential", true)
	l.v.SetDefault("storage.azure.account_name", "")
	l.v.SetDefault("storage.azure.account_key", "")
	l.v.SetDefault("storage.azure.container", "")
	l.v.SetDefault("storage.minio.endpoint", "")
	l.v.SetDefault("storage.minio.access_key", "")
	l.v.SetDefault("storage.minio.secret_key", "")
	l.v.SetDefault("storage.minio.bucket", "")
	l.v.SetDefault("storage.minio.use_ssl", false)
	l.v.SetDefault("storage.minio.create_bucket", false)
	l.v.SetDefault("storage.file.base_path", "./data")
	l.v.SetDefault("storage.file.create_base_path", true)

	// Server defaults
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.read_timeout_seconds", 5)
	l.v.SetDefault("server.write_timeout_seconds", 10)
	l.v.SetDefault("server.max_body_bytes", 1<<20)
	l.v.SetDefault("server.max_actions_per_request", 1000)
	l.v.SetDefault("server.admin_enabled", true)
	l.v.SetDefault("server.rate_limit.enabled", true)
	l.v.SetDefault("server.rate_limit.requests_per_second", 100.0)
	l.v.SetDefault("server.rate_limit.burst_size", 200)
	l.v.SetDefault("server.rate_limit.per_client", true)
	l.v.SetDefault("server.rate_limit.client_ttl_seconds", 3600)

	// Kafka defaults
	l.v.SetDefault("kafka.bootstrap_servers", []string{})
	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.sasl_mechanism", "")
	l.v.SetDefault("kafka.sasl_username", "")
	l.v.SetDefault("kafka.sasl_password", "")
	l.v.SetDefault("kafka.tls_skip_verify", false)
	l.v.SetDefault("kafka.consumer.enabled", false)
	l.v.SetDefault("kafka.consumer.group_id", "actionstore")
	l.v.SetDefault("kafka.consumer.topics", []string{})
	l.v.SetDefault("kafka.consumer.auto_offset_reset", "earliest")
	l.v.SetDefault("kafka.consumer.max_poll_interval_ms", 300000)
	l.v.SetDefault("kafka.consumer.session_timeout_ms", 30000)
	l.v.SetDefault("kafka.consumer.heartbeat_interval_ms", 10000)
	l.v.SetDefault("kafka.consumer.event_type_prefix", "")
	l.v.SetDefault("kafka.loss.enabled", false)
	l.v.SetDefault("kafka.loss.topic", "actions-loss")

	// Scheduler defaults
	l.v.SetDefault("scheduler.enabled", true)
	l.v.SetDefault("scheduler.interval_seconds", 30)
	l.v.SetDefault("scheduler.cron", "")

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.logging.add_source", false)
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if config.Application.Name == "" {
		return errors.New("application.name is required")
	}

	if err := config.Buffer.Validate(); err != nil {
		return err
	}

	// Storage validation
	var err error
	switch config.Storage.Backend {
	case "s3":
		err = config.Storage.S3.Validate()
	case "gcs":
		err = config.Storage.GCS.Validate()
	case "azure":
		err = config.Storage.Azure.Validate()
	case "minio":
		err = config.Storage.MinIO.Validate()
	case "file":
		err = config.Storage.File.Validate()
	default:
		return fmt.Errorf("unsupported storage backend: %s", config.Storage.Backend)
	}
	if err != nil {
		return err
	}

	switch action.Format(config.Storage.Format) {
	case action.FormatJSON, action.FormatParquet, action.FormatAvro:
	default:
		return fmt.Errorf("unsupported storage format: %s", config.Storage.Format)
	}

	if err := config.Kafka.Validate(); err != nil {
		return err
	}
	switch config.Kafka.Consumer.AutoOffsetReset {
	case "earliest", "latest":
	default:
		return fmt.Errorf("unsupported auto offset reset: %s", config.Kafka.Consumer.AutoOffsetReset)
	}

	if config.Scheduler.Enabled && config.Scheduler.Cron == "" && config.Scheduler.IntervalSeconds < 1 {
		return fmt.Errorf("scheduler interval must be positive, got %d", config.Scheduler.IntervalSeconds)
	}

	if config.Server.RateLimit.Enabled && config.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("invalid rate limit: %v requests per second", config.Server.RateLimit.RequestsPerSecond)
	}

	switch strings.ToLower(config.Observability.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", config.Observability.Logging.Format)
	}
	switch strings.ToLower(config.Observability.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", config.Observability.Logging.Level)
	}

	// Port validation
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Observability.Metrics.Enabled {
		if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
		}
		if config.Observability.Metrics.Port == config.Server.Port {
			return fmt.Errorf("metrics port %d conflicts with server port", config.Observability.Metrics.Port)
		}
	}

	return nil
}
