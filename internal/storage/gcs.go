package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	apperrors "github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.ObjectStore = (*GCSStore)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// GCSStore implements storage.ObjectStore for Google Cloud Storage.
type GCSStore struct {
	client *gcs.Client
	bucket string
	logger *slog.Logger
}

// NewGCSStore creates a new GCS object store.
func NewGCSStore(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var clientOpts []option.ClientOption
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	if cfg.UseDefaultCredential {
		logger.Info("using default GCP credentials")
	} else if cfg.CredentialsJSON != "" {
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		logger.Info("using GCP credentials from JSON string")
	} else if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info("using GCP credentials from file", "file", cfg.CredentialsFile)
	} else {
		logger.Info("no explicit credentials provided, using default GCP credentials")
	}

	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS store created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
	)

	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With("component", "gcs-store"),
	}, nil
}

// Name returns the backend name.
func (s *GCSStore) Name() string { return "gcs" }

// Put writes body to gs://bucket/key.
func (s *GCSStore) Put(ctx context.Context, key string, body []byte, meta storage.ObjectMeta) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = meta.ContentType
	w.ContentEncoding = meta.ContentEncoding

	if _, err := w.Write(body); err != nil {
		w.Close()
		return apperrors.Classify(classifyGCSError(err), s.Name(), "write", key, err)
	}
	// The object is committed on Close; most server errors surface here.
	if err := w.Close(); err != nil {
		return apperrors.Classify(classifyGCSError(err), s.Name(), "close", key, err)
	}

	s.logger.Debug("uploaded object", "bucket", s.bucket, "object", key)
	return nil
}

// Close closes the underlying client.
func (s *GCSStore) Close() error {
	s.logger.Info("closing GCS store")
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func classifyGCSError(err error) apperrors.Kind {
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return apperrors.KindTargetMissing
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if kind, ok := classifyHTTPStatus(apiErr.Code); ok {
			return kind
		}
	}
	if apperrors.IsTransientNetwork(err) {
		return apperrors.KindTransientNetwork
	}
	return apperrors.KindUnknown
}
