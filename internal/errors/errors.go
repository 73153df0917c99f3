// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Sentinel errors for common conditions.
var (
	ErrEmptyBatch      = errors.New("no events to upload")
	ErrInvalidAction   = errors.New("invalid action")
	ErrStoreClosed     = errors.New("object store is closed")
	ErrConsumerClosed  = errors.New("consumer is closed")
	ErrPublisherClosed = errors.New("loss publisher is closed")
	ErrConnectionLost  = errors.New("connection lost")
)

// Kind classifies a storage failure into an actionable category.
type Kind string

const (
	// KindTargetMissing means the bucket/container/base directory does not exist.
	KindTargetMissing Kind = "storage_target_missing"
	// KindAccessDenied means the credentials are rejected or lack permission.
	KindAccessDenied Kind = "access_denied"
	// KindTransientNetwork covers timeouts, throttling, resets and 5xx responses.
	KindTransientNetwork Kind = "transient_network"
	// KindCanceled means the caller gave up. It is neither retried nor
	// charged against an event's retry budget.
	KindCanceled Kind = "canceled"
	// KindUnknown is anything the backend could not classify.
	KindUnknown Kind = "unknown"
)

// Fatal reports whether the kind points at a configuration problem that
// retrying cannot fix.
func (k Kind) Fatal() bool {
	return k == KindTargetMissing || k == KindAccessDenied
}

// ValidationError represents an action payload validation failure.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: index=%d field=%s: %s", e.Index, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidAction
}

// StorageError represents a classified storage operation failure.
type StorageError struct {
	Kind      Kind
	Backend   string
	Operation string
	Key       string
	Attempts  int
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: kind=%s backend=%s operation=%s key=%s: %v",
		e.Kind, e.Backend, e.Operation, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if a StorageError is worth retrying.
func (e *StorageError) IsRetryable() bool {
	return e.Kind == KindTransientNetwork
}

// CompressionError is returned when a payload could not be compressed.
// It is never fatal: the uploader falls back to the uncompressed body.
type CompressionError struct {
	Codec string
	Err   error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compression error: codec=%s: %v", e.Codec, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// RetryBudgetExceededError describes an event that was discarded after
// exhausting its flush retries.
type RetryBudgetExceededError struct {
	ActionID  string
	BufferID  string
	Retries   int
	LastError string
}

func (e *RetryBudgetExceededError) Error() string {
	return fmt.Sprintf("retry budget exceeded: action_id=%s buffer_id=%s retries=%d: %s",
		e.ActionID, e.BufferID, e.Retries, e.LastError)
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to transport-level error detection.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return IsTransientNetwork(err)
}

// KindOf extracts the storage failure kind from an error chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Kind
	}
	if IsCanceled(err) {
		return KindCanceled
	}
	if IsTransientNetwork(err) {
		return KindTransientNetwork
	}
	return KindUnknown
}

// IsCanceled reports whether err stems from a canceled context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsTransientNetwork reports whether err looks like a transport failure that
// may succeed on a later attempt. Cancellation is never transient, even when
// it surfaces wrapped in a net.Error.
func IsTransientNetwork(err error) bool {
	if err == nil || IsCanceled(err) {
		return false
	}
	if errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Classify wraps err into a StorageError of the given kind unless it already
// is one. A canceled context always classifies as KindCanceled.
func Classify(kind Kind, backend, operation, key string, err error) error {
	if err == nil {
		return nil
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	if IsCanceled(err) {
		kind = KindCanceled
	}
	return &StorageError{
		Kind:      kind,
		Backend:   backend,
		Operation: operation,
		Key:       key,
		Err:       err,
	}
}
