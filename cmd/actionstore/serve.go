package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jittakal/actionstore/internal/buffer"
	"github.com/jittakal/actionstore/internal/config"
	"github.com/jittakal/actionstore/internal/config/dto"
	"github.com/jittakal/actionstore/internal/encoder"
	"github.com/jittakal/actionstore/internal/ingest"
	"github.com/jittakal/actionstore/internal/kafka"
	"github.com/jittakal/actionstore/internal/observability"
	"github.com/jittakal/actionstore/internal/scheduler"
	"github.com/jittakal/actionstore/internal/server"
	"github.com/jittakal/actionstore/internal/storage"
	"github.com/jittakal/actionstore/pkg/action"
	pkgstorage "github.com/jittakal/actionstore/pkg/storage"
)

const defaultConfigPath = "config/application.yaml"

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (default $CONFIG_PATH or "+defaultConfigPath+")")
	return cmd
}

// resolveConfigPath applies flag > CONFIG_PATH > default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return defaultConfigPath
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.NewLoader().Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:     cfg.Observability.Logging.Level,
		Format:    cfg.Observability.Logging.Format,
		Output:    cfg.Observability.Logging.Output,
		AddSource: cfg.Observability.Logging.AddSource,
	})
	slog.SetDefault(logger)
	if !strings.EqualFold(cfg.Observability.Logging.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("starting actionstore",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
		"backend", cfg.Storage.Backend,
		"format", cfg.Storage.Format,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	hostname, _ := os.Hostname()

	store, err := newObjectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("error closing object store", "error", err)
		}
	}()

	enc, err := encoder.NewFactory(action.Format(cfg.Storage.Format), cfg.Storage.Compression).CreateEncoder()
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	uploader := storage.NewUploader(
		store,
		enc,
		storage.NewPartitionKeyBuilder(cfg.Storage.KeyPrefix),
		storage.UploaderConfig{
			MaxAttempts: cfg.Storage.Upload.MaxAttempts,
			BaseBackoff: time.Duration(cfg.Storage.Upload.BaseBackoffMS) * time.Millisecond,
			Server: action.ServerInfo{
				Service:     cfg.Application.Name,
				Version:     cfg.Application.Version,
				Environment: cfg.Application.Environment,
				Hostname:    hostname,
			},
		},
		logger,
		metrics,
	)

	security := kafka.SecurityConfig{
		BootstrapServers: cfg.Kafka.BootstrapServers,
		SecurityProtocol: cfg.Kafka.SecurityProtocol,
		SASLMechanism:    cfg.Kafka.SASLMechanism,
		SASLUsername:     cfg.Kafka.SASLUsername,
		SASLPassword:     cfg.Kafka.SASLPassword,
		AWSRegion:        cfg.Kafka.AWSRegion,
		TLSSkipVerify:    cfg.Kafka.TLSSkipVerify,
	}

	lossPublisher, err := kafka.NewLossPublisher(security, kafka.LossConfig{
		Enabled:     cfg.Kafka.Loss.Enabled,
		Topic:       cfg.Kafka.Loss.Topic,
		Source:      cfg.Application.Name,
		ProcessorID: hostname,
	}, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create loss publisher: %w", err)
	}
	defer func() {
		if err := lossPublisher.Close(); err != nil {
			logger.Error("error closing loss publisher", "error", err)
		}
	}()

	manager := buffer.NewManager(buffer.Config{
		MaxSize:          cfg.Buffer.MaxSize,
		MaxAge:           cfg.Buffer.MaxAge(),
		RequeueLimit:     cfg.Buffer.RequeueLimit,
		CompressBatches:  cfg.Buffer.Compress,
		ImmediateActions: cfg.Buffer.ImmediateActions,
	}, uploader, logger, metrics, buffer.WithLossReporter(lossPublisher))

	adapter := ingest.NewAdapter(ingest.Config{
		ImmediateActions: cfg.Buffer.ImmediateActions,
		MaxActions:       cfg.Server.MaxActionsPerRequest,
	}, manager, logger)

	health := server.NewHealth()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(scheduler.Config{
			Interval: time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
			Spec:     cfg.Scheduler.Cron,
		}, manager, logger)
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
	}

	var consumer *kafka.Consumer
	if cfg.Kafka.Consumer.Enabled {
		consumer, err = kafka.NewConsumer(newConsumerConfig(cfg, security), adapter, logger, metrics)
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		health.AddCheck("kafka_consumer", consumer.Healthy)
	}

	router := server.NewRouter(server.RouterConfig{
		Ingestor: adapter,
		Buffer:   manager,
		Health:   health,
		Metrics:  metrics,
		Logger:   logger,
		RateLimit: server.RateLimitConfig{
			Enabled:           cfg.Server.RateLimit.Enabled,
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.Server.RateLimit.BurstSize,
			PerClient:         cfg.Server.RateLimit.PerClient,
			ClientTTL:         time.Duration(cfg.Server.RateLimit.ClientTTLSeconds) * time.Second,
		},
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		AdminEnabled: cfg.Server.AdminEnabled,
	})

	serverConfig := server.Config{
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}
	var metricsRegistry *prometheus.Registry
	if cfg.Observability.Metrics.Enabled {
		serverConfig.MetricsPort = cfg.Observability.Metrics.Port
		metricsRegistry = registry
	}
	httpServer := server.NewServer(serverConfig, router, metricsRegistry, logger)
	serverErr := httpServer.Start()

	if sched != nil {
		sched.Start()
	}
	if consumer != nil {
		if err := consumer.Start(); err != nil {
			shutdown(cfg, health, sched, consumer, httpServer, manager, logger)
			return fmt.Errorf("failed to start consumer: %w", err)
		}
	}
	health.SetReady(true)
	logger.Info("application started successfully")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received termination signal")
	case runErr = <-serverErr:
		logger.Error("server error", "error", runErr)
	}

	shutdown(cfg, health, sched, consumer, httpServer, manager, logger)
	return runErr
}

// shutdown stops intake first and flushes last, so every action accepted
// before the signal is in the final batch.
func shutdown(
	cfg *dto.ApplicationConfig,
	health *server.Health,
	sched *scheduler.Scheduler,
	consumer *kafka.Consumer,
	httpServer *server.Server,
	manager *buffer.Manager,
	logger *slog.Logger,
) {
	logger.Info("initiating graceful shutdown")
	health.SetReady(false)

	grace := cfg.Shutdown.GracePeriod()
	if grace <= 0 {
		grace = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(ctx); err != nil {
			logger.Warn("scheduler did not stop cleanly", "error", err)
		}
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Error("error closing kafka consumer", "error", err)
		}
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	// The final flush must not be cut short by the drain deadline.
	res := manager.Close(context.Background())
	if !res.Success {
		logger.Error("final flush failed",
			"error", res.Error,
			"remaining", res.RemainingCount,
		)
	}

	logger.Info("application stopped successfully")
}

func newConsumerConfig(cfg *dto.ApplicationConfig, security kafka.SecurityConfig) kafka.ConsumerConfig {
	return kafka.ConsumerConfig{
		SecurityConfig:      security,
		GroupID:             cfg.Kafka.Consumer.GroupID,
		Topics:              cfg.Kafka.Consumer.Topics,
		AutoOffsetReset:     cfg.Kafka.Consumer.AutoOffsetReset,
		SessionTimeoutMS:    cfg.Kafka.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Kafka.Consumer.HeartbeatIntervalMS,
		MaxPollIntervalMS:   cfg.Kafka.Consumer.MaxPollIntervalMS,
		EventTypePrefix:     cfg.Kafka.Consumer.EventTypePrefix,
	}
}

func newObjectStore(ctx context.Context, cfg *dto.ApplicationConfig, logger *slog.Logger) (pkgstorage.ObjectStore, error) {
	var (
		store pkgstorage.ObjectStore
		err   error
	)
	switch cfg.Storage.Backend {
	case "file":
		store, err = storage.NewFileStore(storage.FileConfig{
			BasePath:       cfg.Storage.File.BasePath,
			CreateBasePath: cfg.Storage.File.CreateBasePath,
		}, logger)
	case "s3":
		store, err = storage.NewS3Store(ctx, storage.S3Config{
			Bucket:       cfg.Storage.S3.Bucket,
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
			SSEEnabled:   cfg.Storage.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.Storage.S3.SSEKMSKeyID,
		}, logger)
	case "gcs":
		store, err = storage.NewGCSStore(ctx, storage.GCSConfig{
			Bucket:               cfg.Storage.GCS.Bucket,
			ProjectID:            cfg.Storage.GCS.ProjectID,
			CredentialsFile:      cfg.Storage.GCS.CredentialsFile,
			CredentialsJSON:      cfg.Storage.GCS.CredentialsJSON,
			Endpoint:             cfg.Storage.GCS.Endpoint,
			UseDefaultCredential: cfg.Storage.GCS.UseDefaultCredential,
		}, logger)
	case "azure":
		store, err = storage.NewAzureStore(storage.AzureConfig{
			AccountName:   cfg.Storage.Azure.AccountName,
			AccountKey:    cfg.Storage.Azure.AccountKey,
			ContainerName: cfg.Storage.Azure.Container,
			Endpoint:      cfg.Storage.Azure.Endpoint,
		}, logger)
	case "minio":
		store, err = storage.NewMinIOStore(ctx, storage.MinIOConfig{
			Endpoint:     cfg.Storage.MinIO.Endpoint,
			AccessKey:    cfg.Storage.MinIO.AccessKey,
			SecretKey:    cfg.Storage.MinIO.SecretKey,
			Bucket:       cfg.Storage.MinIO.Bucket,
			UseSSL:       cfg.Storage.MinIO.UseSSL,
			Region:       cfg.Storage.MinIO.Region,
			CreateBucket: cfg.Storage.MinIO.CreateBucket,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, s3, gcs, azure, minio)", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", cfg.Storage.Backend, err)
	}
	return store, nil
}
