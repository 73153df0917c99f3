package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.ObjectStore = (*MinIOStore)(nil)

// MinIOConfig holds S3-compatible (MinIO, Ceph, R2) configuration.
type MinIOConfig struct {
	// Endpoint is host:port without scheme (e.g., "localhost:9000").
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	// CreateBucket creates the bucket at startup when missing.
	CreateBucket bool
}

// MinIOStore implements storage.ObjectStore using the MinIO SDK.
type MinIOStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinIOStore creates a new MinIO object store.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig, logger *slog.Logger) (*MinIOStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	store := &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With("component", "minio-store"),
	}

	if cfg.CreateBucket {
		if err := store.ensureBucket(ctx, cfg.Region); err != nil {
			return nil, err
		}
	}

	logger.Info("MinIO store created", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return store, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	s.logger.Info("bucket created", "bucket", s.bucket)
	return nil
}

// Name returns the backend name.
func (s *MinIOStore) Name() string { return "minio" }

// Put uploads body to the bucket.
func (s *MinIOStore) Put(ctx context.Context, key string, body []byte, meta storage.ObjectMeta) error {
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:     meta.ContentType,
		ContentEncoding: meta.ContentEncoding,
	})
	if err != nil {
		return apperrors.Classify(classifyMinIOError(err), s.Name(), "put", key, err)
	}

	s.logger.Debug("object uploaded", "bucket", s.bucket, "key", key, "size", info.Size)
	return nil
}

// Close closes the MinIO store.
func (s *MinIOStore) Close() error {
	s.logger.Info("closing MinIO store")
	return nil
}

func classifyMinIOError(err error) apperrors.Kind {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchBucket":
		return apperrors.KindTargetMissing
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return apperrors.KindAccessDenied
	case "SlowDown", "SlowDownWrite", "RequestTimeout", "InternalError", "ServiceUnavailable", "XMinioServerNotInitialized":
		return apperrors.KindTransientNetwork
	}
	if kind, ok := classifyHTTPStatus(resp.StatusCode); ok {
		return kind
	}
	if apperrors.IsTransientNetwork(err) {
		return apperrors.KindTransientNetwork
	}
	return apperrors.KindUnknown
}
