package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	apperrors "github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.ObjectStore = (*S3Store)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// S3Store implements storage.ObjectStore for AWS S3.
// Credentials come from the default AWS provider chain.
type S3Store struct {
	uploader    *manager.Uploader
	bucket      string
	sseEnabled  bool
	sseKMSKeyID string
	logger      *slog.Logger
}

// NewS3Store creates a new S3 object store.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024 // 10MB parts
		u.Concurrency = 5
	})

	logger.Info("S3 store created",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"sse_enabled", cfg.SSEEnabled,
	)

	return &S3Store{
		uploader:    uploader,
		bucket:      cfg.Bucket,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
		logger:      logger.With("component", "s3-store"),
	}, nil
}

// Name returns the backend name.
func (s *S3Store) Name() string { return "s3" }

// Put uploads body to s3://bucket/key.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, meta storage.ObjectMeta) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(meta.ContentType),
	}
	if meta.ContentEncoding != "" {
		input.ContentEncoding = aws.String(meta.ContentEncoding)
	}
	if s.sseEnabled {
		if s.sseKMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(s.sseKMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}

	result, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return apperrors.Classify(classifyS3Error(err), s.Name(), "put", key, err)
	}

	s.logger.Debug("uploaded object",
		"bucket", s.bucket,
		"key", key,
		"location", result.Location,
	)
	return nil
}

// Close closes the S3 store.
func (s *S3Store) Close() error {
	s.logger.Info("closing S3 store")
	return nil
}

// classifyS3Error maps S3 API error codes and HTTP statuses to failure kinds.
func classifyS3Error(err error) apperrors.Kind {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return apperrors.KindTargetMissing
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "Forbidden":
			return apperrors.KindAccessDenied
		case "SlowDown", "RequestTimeout", "RequestTimeTooSkewed", "InternalError", "ServiceUnavailable", "Throttling", "ThrottlingException":
			return apperrors.KindTransientNetwork
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		if kind, ok := classifyHTTPStatus(respErr.HTTPStatusCode()); ok {
			return kind
		}
	}

	if apperrors.IsTransientNetwork(err) {
		return apperrors.KindTransientNetwork
	}
	return apperrors.KindUnknown
}

// classifyHTTPStatus maps a raw HTTP status shared by all REST backends.
func classifyHTTPStatus(status int) (apperrors.Kind, bool) {
	switch {
	case status == http.StatusNotFound:
		return apperrors.KindTargetMissing, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.KindAccessDenied, true
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return apperrors.KindTransientNetwork, true
	default:
		return "", false
	}
}
