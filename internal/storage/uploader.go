// Package storage implements batch uploads to object storage backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/internal/id"
	"github.com/jittakal/actionstore/pkg/action"
	"github.com/jittakal/actionstore/pkg/encoder"
	"github.com/jittakal/actionstore/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Uploader = (*Uploader)(nil)

// Uploader defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 100 * time.Millisecond
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	ObserveUpload(backend, format, status string, sizeBytes int, seconds float64)
	IncStorageErrors(backend, kind string)
	IncUploadRetries(backend string)
	IncCompressionFallbacks(backend string)
}

// BatchIDGenerator produces batch identifiers.
type BatchIDGenerator interface {
	BatchID() string
}

// UploaderConfig configures an Uploader.
type UploaderConfig struct {
	// MaxAttempts bounds attempts on transient failures. Zero means DefaultMaxAttempts.
	MaxAttempts int
	// BaseBackoff is multiplied by 2^attempt between attempts.
	BaseBackoff time.Duration
	// Server is stamped into every envelope. Backend is filled from the store.
	Server action.ServerInfo
}

// UploaderOption customizes an Uploader.
type UploaderOption func(*Uploader)

// WithClock overrides the time source used for envelopes and keys.
func WithClock(now func() time.Time) UploaderOption {
	return func(u *Uploader) { u.now = now }
}

// WithCompressor overrides the gzip compressor.
func WithCompressor(c Compressor) UploaderOption {
	return func(u *Uploader) { u.compress = c }
}

// WithBatchIDs overrides the batch id source.
func WithBatchIDs(g BatchIDGenerator) UploaderOption {
	return func(u *Uploader) { u.ids = g }
}

// WithSleep overrides the backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) UploaderOption {
	return func(u *Uploader) { u.sleep = sleep }
}

// Uploader serializes batches into envelopes and writes them to an ObjectStore.
// It is safe for concurrent use.
type Uploader struct {
	store       storage.ObjectStore
	encoder     encoder.Encoder
	keys        storage.KeyBuilder
	ids         BatchIDGenerator
	server      action.ServerInfo
	maxAttempts int
	baseBackoff time.Duration
	compress    Compressor
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
	metrics     MetricsCollector
}

// NewUploader creates a new Uploader.
func NewUploader(
	store storage.ObjectStore,
	enc encoder.Encoder,
	keys storage.KeyBuilder,
	cfg UploaderConfig,
	logger *slog.Logger,
	metrics MetricsCollector,
	opts ...UploaderOption,
) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	server := cfg.Server
	server.Backend = store.Name()

	u := &Uploader{
		store:       store,
		encoder:     enc,
		keys:        keys,
		ids:         id.NewGenerator(),
		server:      server,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		compress:    gzipBytes,
		now:         time.Now,
		sleep:       sleepContext,
		logger:      logger.With("component", "uploader", "backend", store.Name()),
		metrics:     metrics,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// UploadBatch uploads events as one object under a freshly generated key.
// Gzip is applied only to JSON bodies; a compression failure falls back to
// the uncompressed body.
func (u *Uploader) UploadBatch(ctx context.Context, events []action.BufferedEvent, opts storage.UploadOptions) (*storage.UploadResult, error) {
	if len(events) == 0 {
		return nil, apperrors.ErrEmptyBatch
	}

	start := time.Now()
	backend := u.store.Name()
	format := u.encoder.Format()
	batchID := u.ids.BatchID()
	uploadedAt := u.now().UTC()

	env := &action.Envelope{
		BatchID:         batchID,
		UploadTimestamp: uploadedAt,
		Count:           len(events),
		ServerInfo:      u.server,
		Events:          events,
	}

	body, err := u.encoder.Encode(env)
	if err != nil {
		u.incStorageErrors(backend, apperrors.KindUnknown)
		return nil, apperrors.Classify(apperrors.KindUnknown, backend, "encode", "", err)
	}

	meta := storage.ObjectMeta{ContentType: u.encoder.ContentType()}
	compressed := false
	if opts.Compress && format == action.FormatJSON {
		gz, cerr := u.compress(body)
		if cerr != nil {
			u.logger.Warn("compression failed, uploading uncompressed",
				"batch_id", batchID,
				"error", cerr,
			)
			if u.metrics != nil {
				u.metrics.IncCompressionFallbacks(backend)
			}
		} else {
			body = gz
			compressed = true
			meta.ContentEncoding = "gzip"
		}
	}

	key := u.keys.Key(uploadedAt, len(events), batchID)

	attempts, err := u.putWithRetry(ctx, key, body, meta)
	elapsed := time.Since(start)
	if err != nil {
		kind := apperrors.KindOf(err)
		var storageErr *apperrors.StorageError
		if errors.As(err, &storageErr) {
			storageErr.Attempts = attempts
		}
		u.incStorageErrors(backend, kind)
		if u.metrics != nil {
			u.metrics.ObserveUpload(backend, string(format), "failure", len(body), elapsed.Seconds())
		}
		u.logger.Error("batch upload failed",
			"batch_id", batchID,
			"key", key,
			"count", len(events),
			"attempts", attempts,
			"error_kind", kind,
			"error", err,
		)
		return nil, err
	}

	if u.metrics != nil {
		u.metrics.ObserveUpload(backend, string(format), "success", len(body), elapsed.Seconds())
	}
	u.logger.Info("uploaded batch",
		"batch_id", batchID,
		"key", key,
		"count", len(events),
		"size_bytes", len(body),
		"compressed", compressed,
		"attempts", attempts,
		"duration_ms", elapsed.Milliseconds(),
	)

	return &storage.UploadResult{
		Success:      true,
		BatchID:      batchID,
		StorageKey:   key,
		Count:        len(events),
		Compressed:   compressed,
		SizeBytes:    len(body),
		UploadTimeMS: elapsed.Milliseconds(),
		Attempts:     attempts,
		Backend:      backend,
		Format:       format,
	}, nil
}

// UploadSingle uploads one event as its own uncompressed batch.
func (u *Uploader) UploadSingle(ctx context.Context, event action.Event) (*storage.UploadResult, error) {
	return u.UploadBatch(ctx, []action.BufferedEvent{action.Unbuffered(event)}, storage.UploadOptions{Compress: false})
}

// putWithRetry retries transient failures with exponential backoff.
// Fatal and unknown failures are returned after the first attempt.
func (u *Uploader) putWithRetry(ctx context.Context, key string, body []byte, meta storage.ObjectMeta) (int, error) {
	for attempt := 1; ; attempt++ {
		err := u.store.Put(ctx, key, body, meta)
		if err == nil {
			return attempt, nil
		}
		if !apperrors.IsRetryable(err) || attempt >= u.maxAttempts {
			return attempt, err
		}

		backoff := u.baseBackoff * time.Duration(1<<attempt)
		u.logger.Warn("transient upload failure, retrying",
			"key", key,
			"attempt", attempt,
			"backoff_ms", backoff.Milliseconds(),
			"error", err,
		)
		if u.metrics != nil {
			u.metrics.IncUploadRetries(u.store.Name())
		}
		if serr := u.sleep(ctx, backoff); serr != nil {
			return attempt, &apperrors.StorageError{
				Kind:      apperrors.KindOf(serr),
				Backend:   u.store.Name(),
				Operation: "put",
				Key:       key,
				Err:       fmt.Errorf("retry aborted: %w", errors.Join(err, serr)),
			}
		}
	}
}

func (u *Uploader) incStorageErrors(backend string, kind apperrors.Kind) {
	if u.metrics != nil {
		u.metrics.IncStorageErrors(backend, string(kind))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
