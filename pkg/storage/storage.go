// Package storage defines interfaces for persisting action batches.
//
// This package provides abstractions for writing batch objects to various
// storage backends (S3, GCS, Azure Blob, MinIO, local filesystem).
package storage

import (
	"context"
	"time"

	"github.com/jittakal/actionstore/pkg/action"
)

// ObjectMeta describes how a stored object should be served back.
type ObjectMeta struct {
	ContentType     string
	ContentEncoding string
}

// ObjectStore writes opaque objects to a backend.
// Implementations classify failures into *errors.StorageError values.
type ObjectStore interface {
	// Put stores body under key, replacing any existing object.
	Put(ctx context.Context, key string, body []byte, meta ObjectMeta) error

	// Name returns the backend name (e.g. "s3", "file").
	Name() string

	// Close releases resources held by the store.
	Close() error
}

// KeyBuilder computes deterministic, time-partitioned object keys.
type KeyBuilder interface {
	// Key returns the storage key for a batch uploaded at t.
	Key(t time.Time, count int, batchID string) string
}

// UploadOptions tunes one upload.
type UploadOptions struct {
	Compress bool
}

// UploadResult describes a successful upload.
type UploadResult struct {
	Success      bool          `json:"success"`
	BatchID      string        `json:"batch_id"`
	StorageKey   string        `json:"storage_key"`
	Count        int           `json:"count"`
	Compressed   bool          `json:"compressed"`
	SizeBytes    int           `json:"size_bytes"`
	UploadTimeMS int64         `json:"upload_time_ms"`
	Attempts     int           `json:"attempts"`
	Backend      string        `json:"backend"`
	Format       action.Format `json:"format"`
}

// Uploader serializes and uploads batches of events.
type Uploader interface {
	// UploadBatch uploads events as one object.
	UploadBatch(ctx context.Context, events []action.BufferedEvent, opts UploadOptions) (*UploadResult, error)

	// UploadSingle uploads one event uncompressed.
	UploadSingle(ctx context.Context, event action.Event) (*UploadResult, error)
}
