package dto

import (
	"fmt"
	"time"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Buffer        BufferConfig        `mapstructure:"buffer"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Server        ServerConfig        `mapstructure:"server"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// BufferConfig contains the buffer flush policy
type BufferConfig struct {
	MaxSize          int      `mapstructure:"max_size"`
	MaxAgeMS         int64    `mapstructure:"max_age_ms"`
	RequeueLimit     int      `mapstructure:"requeue_limit"`
	Compress         bool     `mapstructure:"compress"`
	ImmediateActions []string `mapstructure:"immediate_actions"`
}

// MaxAge returns the buffer age limit as a duration.
func (c *BufferConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeMS) * time.Millisecond
}

// StorageConfig contains storage backend configuration
type StorageConfig struct {
	Backend     string       `mapstructure:"backend"`
	Format      string       `mapstructure:"format"`
	Compression string       `mapstructure:"compression"`
	KeyPrefix   string       `mapstructure:"key_prefix"`
	Upload      UploadConfig `mapstructure:"upload"`
	S3          S3Config     `mapstructure:"s3"`
	GCS         GCSConfig    `mapstructure:"gcs"`
	Azure       AzureConfig  `mapstructure:"azure"`
	MinIO       MinIOConfig  `mapstructure:"minio"`
	File        FileConfig   `mapstructure:"file"`
}

// UploadConfig contains transient-failure retry settings
type UploadConfig struct {
	MaxAttempts   int `mapstructure:"max_attempts"`
	BaseBackoffMS int `mapstructure:"base_backoff_ms"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	Endpoint             string `mapstructure:"endpoint"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	Endpoint    string `mapstructure:"endpoint"`
}

// MinIOConfig contains MinIO / S3-compatible configuration
type MinIOConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	CreateBucket bool   `mapstructure:"create_bucket"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath       string `mapstructure:"base_path"`
	CreateBasePath bool   `mapstructure:"create_base_path"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Port                 int             `mapstructure:"port"`
	ReadTimeoutSeconds   int             `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds  int             `mapstructure:"write_timeout_seconds"`
	MaxBodyBytes         int64           `mapstructure:"max_body_bytes"`
	MaxActionsPerRequest int             `mapstructure:"max_actions_per_request"`
	AdminEnabled         bool            `mapstructure:"admin_enabled"`
	RateLimit            RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig contains ingestion rate limiting settings
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
	PerClient         bool    `mapstructure:"per_client"`
	ClientTTLSeconds  int     `mapstructure:"client_ttl_seconds"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers []string       `mapstructure:"bootstrap_servers"`
	SecurityProtocol string         `mapstructure:"security_protocol"`
	SASLMechanism    string         `mapstructure:"sasl_mechanism"`
	SASLUsername     string         `mapstructure:"sasl_username"`
	SASLPassword     string         `mapstructure:"sasl_password"`
	AWSRegion        string         `mapstructure:"aws_region"`
	TLSSkipVerify    bool           `mapstructure:"tls_skip_verify"`
	Consumer         ConsumerConfig `mapstructure:"consumer"`
	Loss             LossConfig     `mapstructure:"loss"`
}

// ConsumerConfig contains Kafka consumer configuration
type ConsumerConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
	EventTypePrefix     string   `mapstructure:"event_type_prefix"`
}

// LossConfig contains loss topic configuration
type LossConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Topic   string `mapstructure:"topic"`
}

// SchedulerConfig contains the periodic age-flush settings
type SchedulerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	Cron            string `mapstructure:"cron"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	AddSource bool   `mapstructure:"add_source"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

// GracePeriod returns the HTTP drain budget.
func (c ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// Validate validates the buffer policy.
func (c *BufferConfig) Validate() error {
	if c.MaxSize < 1 {
		return fmt.Errorf("buffer max size must be positive, got %d", c.MaxSize)
	}
	if c.MaxAgeMS < 1 {
		return fmt.Errorf("buffer max age must be positive, got %dms", c.MaxAgeMS)
	}
	if c.RequeueLimit < 0 {
		return fmt.Errorf("buffer requeue limit must not be negative, got %d", c.RequeueLimit)
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates GCS configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates MinIO configuration.
func (c *MinIOConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("minio endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("minio bucket is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}

// Validate validates Kafka configuration. Nothing is required unless the
// consumer or the loss publisher is enabled.
func (c *KafkaConfig) Validate() error {
	if !c.Consumer.Enabled && !c.Loss.Enabled {
		return nil
	}
	if len(c.BootstrapServers) == 0 {
		return fmt.Errorf("kafka bootstrap servers are required")
	}
	if c.Consumer.Enabled {
		if c.Consumer.GroupID == "" {
			return fmt.Errorf("kafka consumer group ID is required")
		}
		if len(c.Consumer.Topics) == 0 {
			return fmt.Errorf("kafka consumer topics are required")
		}
	}
	if c.Loss.Enabled && c.Loss.Topic == "" {
		return fmt.Errorf("kafka loss topic is required")
	}
	return nil
}
