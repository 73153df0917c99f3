// Package buffer implements the in-memory action buffer and its flush policy.
package buffer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/internal/id"
	"github.com/jittakal/actionstore/pkg/action"
	"github.com/jittakal/actionstore/pkg/buffer"
	"github.com/jittakal/actionstore/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ buffer.Service = (*Manager)(nil)

// Defaults applied by NewManager for zero config values.
const (
	DefaultMaxSize      = 100
	DefaultMaxAge       = 5 * time.Minute
	DefaultRequeueLimit = 50
)

// Loss reasons reported for discarded events.
const (
	ReasonRetryBudget = "retry_budget_exceeded"
	ReasonRequeueCap  = "requeue_cap_exceeded"
)

// Config holds buffer policy.
type Config struct {
	MaxSize          int
	MaxAge           time.Duration
	RequeueLimit     int
	CompressBatches  bool
	ImmediateActions []string
}

// MetricsCollector defines metrics operations for the buffer.
type MetricsCollector interface {
	IncActionsReceived(path string)
	AddActionsUploaded(path string, n int)
	AddActionsDiscarded(reason string, n int)
	IncFlushes(trigger, outcome string)
	SetBufferSize(n int)
}

// BufferIDGenerator produces buffer entry identifiers.
type BufferIDGenerator interface {
	BufferID() string
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides the buffer id source.
func WithIDGenerator(g BufferIDGenerator) Option {
	return func(m *Manager) { m.ids = g }
}

// WithLossReporter publishes discarded events.
func WithLossReporter(r buffer.LossReporter) Option {
	return func(m *Manager) { m.loss = r }
}

type counters struct {
	totalReceived    int64
	totalUploaded    int64
	totalFailed      int64
	immediateUploads int64
	batchUploads     int64
	bufferFlushes    int64
	lastFlushTime    time.Time
}

// Manager buffers actions in memory and flushes them to object storage as
// batches. All methods are safe for concurrent use.
//
// Buffer state is guarded by mu and never held across I/O: a flush swaps the
// slice out under mu and uploads with mu released. flushMu serializes flush
// attempts so a failed batch is re-queued before the next one is taken.
//
// flushMu is held for the whole upload. An AddToBuffer that fills the buffer
// while another flush is in flight waits for it and then flushes again if the
// buffer is still full, so the buffer never rests at or above MaxSize. Only
// that caller is held back; adds below the limit never touch flushMu.
//
// Size-triggered flushes run detached from the caller's cancellation because
// the batch carries other callers' events. A flush whose own context is
// canceled re-queues its snapshot without charging retries.
type Manager struct {
	cfg      Config
	uploader storage.Uploader
	ids      BufferIDGenerator
	loss     buffer.LossReporter
	now      func() time.Time
	logger   *slog.Logger
	metrics  MetricsCollector

	mu        sync.Mutex
	events    []action.BufferedEvent
	stats     counters
	startTime time.Time

	flushMu  sync.Mutex
	flushing atomic.Bool
}

// NewManager creates a new buffer manager.
func NewManager(cfg Config, uploader storage.Uploader, logger *slog.Logger, metrics MetricsCollector, opts ...Option) *Manager {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.RequeueLimit <= 0 {
		cfg.RequeueLimit = DefaultRequeueLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	m := &Manager{
		cfg:      cfg,
		uploader: uploader,
		ids:      id.NewGenerator(),
		now:      time.Now,
		logger:   logger.With("component", "buffer"),
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events = make([]action.BufferedEvent, 0, cfg.MaxSize)
	m.startTime = m.now()

	m.logger.Info("buffer manager created",
		"max_size", cfg.MaxSize,
		"max_age", cfg.MaxAge,
		"requeue_limit", cfg.RequeueLimit,
		"immediate_actions", cfg.ImmediateActions,
	)
	return m
}

// AddToBuffer appends an event. When the buffer reaches its maximum size the
// call flushes synchronously before returning.
func (m *Manager) AddToBuffer(ctx context.Context, event action.Event) buffer.AddResult {
	m.metrics.IncActionsReceived("buffered")
	return m.add(ctx, event, true, "")
}

func (m *Manager) add(ctx context.Context, event action.Event, countReceived bool, immediateErr string) buffer.AddResult {
	bufferID, size := m.enqueue(event, countReceived, immediateErr)

	result := buffer.AddResult{
		Buffered:   true,
		BufferID:   bufferID,
		BufferSize: size,
	}
	if size < m.cfg.MaxSize {
		return result
	}

	flush, ran := m.flush(context.WithoutCancel(ctx), buffer.TriggerSize, true)
	if ran {
		result.AutoFlushed = true
		result.Flush = &flush
	}
	result.BufferSize = m.size()
	return result
}

func (m *Manager) enqueue(event action.Event, countReceived bool, immediateErr string) (string, int) {
	entry := action.BufferedEvent{
		Event:            event,
		BufferID:         m.ids.BufferID(),
		BufferReceivedAt: m.now(),
		ImmediateFailed:  immediateErr != "",
		ImmediateError:   immediateErr,
	}

	m.mu.Lock()
	m.events = append(m.events, entry)
	if countReceived {
		m.stats.totalReceived++
	}
	size := len(m.events)
	m.mu.Unlock()

	m.metrics.SetBufferSize(size)
	return entry.BufferID, size
}

// SendImmediately uploads the event as its own uncompressed batch. If the
// upload fails the event is demoted into the buffer instead of being lost.
func (m *Manager) SendImmediately(ctx context.Context, event action.Event) buffer.ImmediateResult {
	m.metrics.IncActionsReceived("immediate")
	m.mu.Lock()
	m.stats.totalReceived++
	m.mu.Unlock()

	res, err := m.uploader.UploadSingle(ctx, event)
	if err == nil {
		m.mu.Lock()
		m.stats.totalUploaded++
		m.stats.immediateUploads++
		m.mu.Unlock()
		m.metrics.AddActionsUploaded("immediate", 1)
		return buffer.ImmediateResult{Immediate: true, Upload: res}
	}

	kind := apperrors.KindOf(err)
	m.logger.Warn("immediate upload failed, demoting to buffer",
		"action_id", event.ActionID,
		"action_type", event.ActionType,
		"error_kind", kind,
		"error", err,
	)
	added := m.add(ctx, event, false, err.Error())
	return buffer.ImmediateResult{
		Immediate: true,
		Demoted:   true,
		Error:     err.Error(),
		ErrorKind: string(kind),
		Buffer:    &added,
	}
}

// Flush uploads the whole buffer as one batch. Failures are reported in the
// result; failed events are re-queued up to the retry ceiling.
func (m *Manager) Flush(ctx context.Context, trigger string) buffer.FlushResult {
	if trigger == "" {
		trigger = buffer.TriggerManual
	}
	res, _ := m.flush(ctx, trigger, false)
	return res
}

// flush reports whether an upload was attempted. With requireFull set it is a
// no-op when a concurrent flush already drained the buffer below max size.
func (m *Manager) flush(ctx context.Context, trigger string, requireFull bool) (buffer.FlushResult, bool) {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()
	m.flushing.Store(true)
	defer m.flushing.Store(false)

	m.mu.Lock()
	if len(m.events) == 0 || (requireFull && len(m.events) < m.cfg.MaxSize) {
		remaining := len(m.events)
		m.mu.Unlock()
		return buffer.FlushResult{Success: true, Trigger: trigger, RemainingCount: remaining}, false
	}
	snapshot := m.events
	m.events = make([]action.BufferedEvent, 0, m.cfg.MaxSize)
	m.mu.Unlock()
	m.metrics.SetBufferSize(0)

	res, err := m.uploader.UploadBatch(ctx, snapshot, storage.UploadOptions{Compress: m.cfg.CompressBatches})
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindCanceled {
			return m.handleFlushCanceled(trigger, snapshot, err), true
		}
		return m.handleFlushFailure(ctx, trigger, snapshot, err), true
	}
	return m.recordFlushSuccess(trigger, len(snapshot), res), true
}

func (m *Manager) recordFlushSuccess(trigger string, count int, res *storage.UploadResult) buffer.FlushResult {
	m.mu.Lock()
	m.stats.totalUploaded += int64(count)
	m.stats.batchUploads++
	m.stats.bufferFlushes++
	m.stats.lastFlushTime = m.now()
	remaining := len(m.events)
	m.mu.Unlock()

	m.metrics.AddActionsUploaded("batch", count)
	m.metrics.IncFlushes(trigger, "success")
	m.logger.Info("buffer flushed",
		"trigger", trigger,
		"count", count,
		"batch_id", res.BatchID,
		"key", res.StorageKey,
		"remaining", remaining,
	)

	return buffer.FlushResult{
		Success:        true,
		Trigger:        trigger,
		Count:          count,
		BatchID:        res.BatchID,
		StorageKey:     res.StorageKey,
		Compressed:     res.Compressed,
		UploadTimeMS:   res.UploadTimeMS,
		RemainingCount: remaining,
	}
}

// handleFlushFailure bumps retry counts, re-queues the first RequeueLimit
// events still under the ceiling at the front of the buffer in their original
// order and discards the rest.
func (m *Manager) handleFlushFailure(ctx context.Context, trigger string, snapshot []action.BufferedEvent, err error) buffer.FlushResult {
	msg := err.Error()
	kind := apperrors.KindOf(err)

	eligible := make([]action.BufferedEvent, 0, len(snapshot))
	var exhausted []action.BufferedEvent
	for _, ev := range snapshot {
		ev.RetryCount++
		ev.LastRetryError = msg
		if ev.ExhaustedRetries() {
			exhausted = append(exhausted, ev)
		} else {
			eligible = append(eligible, ev)
		}
	}

	requeue := eligible
	var overflow []action.BufferedEvent
	if len(eligible) > m.cfg.RequeueLimit {
		requeue = eligible[:m.cfg.RequeueLimit]
		overflow = eligible[m.cfg.RequeueLimit:]
	}
	discarded := len(exhausted) + len(overflow)

	m.mu.Lock()
	restored := make([]action.BufferedEvent, 0, len(requeue)+len(m.events)+m.cfg.MaxSize)
	restored = append(restored, requeue...)
	restored = append(restored, m.events...)
	m.events = restored
	m.stats.totalFailed += int64(discarded)
	remaining := len(m.events)
	m.mu.Unlock()

	m.metrics.SetBufferSize(remaining)
	m.metrics.IncFlushes(trigger, "failure")
	m.logger.Error("buffer flush failed",
		"trigger", trigger,
		"count", len(snapshot),
		"restored", len(requeue),
		"discarded", discarded,
		"error_kind", kind,
		"error", err,
	)

	m.discard(ctx, exhausted, ReasonRetryBudget)
	m.discard(ctx, overflow, ReasonRequeueCap)

	return buffer.FlushResult{
		Success:        false,
		Trigger:        trigger,
		Count:          len(snapshot),
		Error:          msg,
		ErrorKind:      string(kind),
		RestoredCount:  len(requeue),
		DiscardedCount: discarded,
		RemainingCount: remaining,
	}
}

// handleFlushCanceled puts the snapshot back unchanged. Cancellation says
// nothing about storage health, so no retry is charged.
func (m *Manager) handleFlushCanceled(trigger string, snapshot []action.BufferedEvent, err error) buffer.FlushResult {
	remaining := m.restore(snapshot)

	m.metrics.IncFlushes(trigger, "canceled")
	m.logger.Warn("buffer flush canceled, actions re-queued",
		"trigger", trigger,
		"count", len(snapshot),
		"remaining", remaining,
		"error", err,
	)

	return buffer.FlushResult{
		Success:        false,
		Trigger:        trigger,
		Count:          len(snapshot),
		Error:          err.Error(),
		ErrorKind:      string(apperrors.KindCanceled),
		RestoredCount:  len(snapshot),
		RemainingCount: remaining,
	}
}

// restore inserts events at the front of the buffer and returns the new size.
func (m *Manager) restore(events []action.BufferedEvent) int {
	m.mu.Lock()
	restored := make([]action.BufferedEvent, 0, len(events)+len(m.events)+m.cfg.MaxSize)
	restored = append(restored, events...)
	restored = append(restored, m.events...)
	m.events = restored
	remaining := len(m.events)
	m.mu.Unlock()

	m.metrics.SetBufferSize(remaining)
	return remaining
}

func (m *Manager) discard(ctx context.Context, events []action.BufferedEvent, reason string) {
	if len(events) == 0 {
		return
	}
	m.metrics.AddActionsDiscarded(reason, len(events))
	for i := range events {
		lost := &apperrors.RetryBudgetExceededError{
			ActionID:  events[i].ActionID,
			BufferID:  events[i].BufferID,
			Retries:   events[i].RetryCount,
			LastError: events[i].LastRetryError,
		}
		m.logger.Warn("action discarded", "reason", reason, "error", lost)
	}
	if m.loss == nil {
		return
	}
	if err := m.loss.ReportLoss(ctx, events, reason); err != nil {
		m.logger.Error("failed to report discarded actions",
			"reason", reason,
			"count", len(events),
			"error", err,
		)
	}
}

// FlushOldActions uploads only events older than MaxAge. On failure they are
// put back at the front of the buffer unchanged.
func (m *Manager) FlushOldActions(ctx context.Context) buffer.FlushResult {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()
	m.flushing.Store(true)
	defer m.flushing.Store(false)

	m.mu.Lock()
	now := m.now()
	aged := make([]action.BufferedEvent, 0)
	fresh := make([]action.BufferedEvent, 0, m.cfg.MaxSize)
	for _, ev := range m.events {
		if ev.Age(now) > m.cfg.MaxAge {
			aged = append(aged, ev)
		} else {
			fresh = append(fresh, ev)
		}
	}
	if len(aged) == 0 {
		remaining := len(m.events)
		m.mu.Unlock()
		return buffer.FlushResult{Success: true, Trigger: buffer.TriggerAge, RemainingCount: remaining}
	}
	m.events = fresh
	m.mu.Unlock()
	m.metrics.SetBufferSize(len(fresh))

	res, err := m.uploader.UploadBatch(ctx, aged, storage.UploadOptions{Compress: m.cfg.CompressBatches})
	if err == nil {
		return m.recordFlushSuccess(buffer.TriggerAge, len(aged), res)
	}

	remaining := m.restore(aged)

	kind := apperrors.KindOf(err)
	m.metrics.IncFlushes(buffer.TriggerAge, "failure")
	m.logger.Error("aged flush failed",
		"count", len(aged),
		"error_kind", kind,
		"error", err,
	)

	return buffer.FlushResult{
		Success:        false,
		Trigger:        buffer.TriggerAge,
		Count:          len(aged),
		Error:          err.Error(),
		ErrorKind:      string(kind),
		RestoredCount:  len(aged),
		RemainingCount: remaining,
	}
}

// GetBufferStatus returns a read-only view of the buffer.
func (m *Manager) GetBufferStatus() buffer.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	status := buffer.Status{
		Size:             len(m.events),
		MaxSize:          m.cfg.MaxSize,
		MaxAgeMS:         m.cfg.MaxAge.Milliseconds(),
		FlushInProgress:  m.flushing.Load(),
		ImmediateActions: append([]string(nil), m.cfg.ImmediateActions...),
		CheckedAt:        now,
	}
	for i := range m.events {
		ev := &m.events[i]
		age := ev.Age(now)
		if age.Milliseconds() > status.OldestAgeMS {
			status.OldestAgeMS = age.Milliseconds()
		}
		if age > m.cfg.MaxAge {
			status.AgedCount++
		}
		if ev.RetryCount > 0 {
			status.RetryingCount++
		}
		if ev.ImmediateFailed {
			status.ImmediateFailed++
		}
	}
	return status
}

// GetStats returns cumulative counters and derived rates.
func (m *Manager) GetStats() buffer.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	uptime := now.Sub(m.startTime)
	s := m.stats

	stats := buffer.Stats{
		TotalReceived:     s.totalReceived,
		TotalUploaded:     s.totalUploaded,
		TotalFailed:       s.totalFailed,
		ImmediateUploads:  s.immediateUploads,
		BatchUploads:      s.batchUploads,
		BufferFlushes:     s.bufferFlushes,
		StartTime:         m.startTime,
		UptimeSeconds:     uptime.Seconds(),
		CurrentBufferSize: len(m.events),
	}
	if s.totalReceived > 0 {
		stats.SuccessRate = float64(s.totalUploaded) / float64(s.totalReceived)
	}
	if hours := uptime.Hours(); hours > 0 {
		stats.EventsPerHour = float64(s.totalReceived) / hours
	}
	if !s.lastFlushTime.IsZero() {
		last := s.lastFlushTime
		since := now.Sub(last).Seconds()
		stats.LastFlushTime = &last
		stats.SecondsSinceLastFlush = &since
	}
	return stats
}

// ClearBuffer drops every buffered event without retry accounting.
func (m *Manager) ClearBuffer() buffer.ClearResult {
	m.mu.Lock()
	cleared := len(m.events)
	m.events = make([]action.BufferedEvent, 0, m.cfg.MaxSize)
	m.mu.Unlock()

	m.metrics.SetBufferSize(0)
	m.logger.Warn("buffer cleared", "cleared", cleared)
	return buffer.ClearResult{Cleared: cleared}
}

// Close performs a final flush.
func (m *Manager) Close(ctx context.Context) buffer.FlushResult {
	res := m.Flush(ctx, buffer.TriggerShutdown)
	m.logger.Info("buffer manager closed",
		"flushed", res.Count,
		"success", res.Success,
		"remaining", res.RemainingCount,
	)
	return res
}

func (m *Manager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type noopMetrics struct{}

func (noopMetrics) IncActionsReceived(string)       {}
func (noopMetrics) AddActionsUploaded(string, int)  {}
func (noopMetrics) AddActionsDiscarded(string, int) {}
func (noopMetrics) IncFlushes(string, string)       {}
func (noopMetrics) SetBufferSize(int)               {}
