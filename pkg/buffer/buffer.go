// Package buffer defines the contract of the action buffer service.
//
// The ingestion adapter, the scheduler and the admin API depend only on these
// interfaces and result types.
package buffer

import (
	"context"
	"time"

	"github.com/jittakal/actionstore/pkg/action"
	"github.com/jittakal/actionstore/pkg/storage"
)

// Flush triggers, used for logging and metrics.
const (
	TriggerSize     = "size"
	TriggerAge      = "age"
	TriggerManual   = "manual"
	TriggerShutdown = "shutdown"
	TriggerSchedule = "schedule"
)

// AddResult is returned by AddToBuffer.
type AddResult struct {
	Buffered    bool         `json:"buffered"`
	BufferID    string       `json:"buffer_id"`
	AutoFlushed bool         `json:"auto_flushed"`
	BufferSize  int          `json:"buffer_size"`
	Flush       *FlushResult `json:"flush,omitempty"`
}

// ImmediateResult is returned by SendImmediately.
type ImmediateResult struct {
	Immediate bool                  `json:"immediate"`
	Upload    *storage.UploadResult `json:"upload_result,omitempty"`
	Demoted   bool                  `json:"demoted,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorKind string                `json:"error_kind,omitempty"`
	Buffer    *AddResult            `json:"buffer,omitempty"`
}

// FlushResult is the structured outcome of a flush. A failed flush never
// surfaces as a Go error; callers inspect Success.
type FlushResult struct {
	Success        bool   `json:"success"`
	Trigger        string `json:"trigger"`
	Count          int    `json:"count"`
	BatchID        string `json:"batch_id,omitempty"`
	StorageKey     string `json:"storage_key,omitempty"`
	Compressed     bool   `json:"compressed,omitempty"`
	UploadTimeMS   int64  `json:"upload_time_ms,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty"`
	RestoredCount  int    `json:"restored_count,omitempty"`
	DiscardedCount int    `json:"discarded_count,omitempty"`
	RemainingCount int    `json:"remaining_count"`
}

// ClearResult is returned by ClearBuffer.
type ClearResult struct {
	Cleared int `json:"cleared"`
}

// Status is a read-only view of the live buffer.
type Status struct {
	Size             int       `json:"size"`
	MaxSize          int       `json:"max_size"`
	MaxAgeMS         int64     `json:"max_age_ms"`
	OldestAgeMS      int64     `json:"oldest_age_ms"`
	AgedCount        int       `json:"aged_count"`
	RetryingCount    int       `json:"retrying_count"`
	ImmediateFailed  int       `json:"immediate_failed_count"`
	FlushInProgress  bool      `json:"flush_in_progress"`
	ImmediateActions []string  `json:"immediate_actions"`
	CheckedAt        time.Time `json:"checked_at"`
}

// Stats are process-wide cumulative counters plus derived metrics.
type Stats struct {
	TotalReceived    int64      `json:"total_received"`
	TotalUploaded    int64      `json:"total_uploaded"`
	TotalFailed      int64      `json:"total_failed"`
	ImmediateUploads int64      `json:"immediate_uploads"`
	BatchUploads     int64      `json:"batch_uploads"`
	BufferFlushes    int64      `json:"buffer_flushes"`
	LastFlushTime    *time.Time `json:"last_flush_time,omitempty"`
	StartTime        time.Time  `json:"start_time"`

	// Derived
	UptimeSeconds         float64  `json:"uptime_seconds"`
	SuccessRate           float64  `json:"success_rate"`
	EventsPerHour         float64  `json:"events_per_hour"`
	SecondsSinceLastFlush *float64 `json:"seconds_since_last_flush,omitempty"`
	CurrentBufferSize     int      `json:"current_buffer_size"`
}

// Service is the buffer manager contract.
type Service interface {
	AddToBuffer(ctx context.Context, event action.Event) AddResult
	SendImmediately(ctx context.Context, event action.Event) ImmediateResult
	Flush(ctx context.Context, trigger string) FlushResult
	FlushOldActions(ctx context.Context) FlushResult
	GetBufferStatus() Status
	GetStats() Stats
	ClearBuffer() ClearResult
}

// LossReporter is notified of events permanently discarded by the buffer.
type LossReporter interface {
	ReportLoss(ctx context.Context, events []action.BufferedEvent, reason string) error
}
