// Package scheduler runs the periodic age-based buffer flush.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jittakal/actionstore/pkg/buffer"
)

// DefaultInterval is how often aged events are checked for.
const DefaultInterval = 30 * time.Second

// Flusher uploads events older than the buffer's maximum age.
type Flusher interface {
	FlushOldActions(ctx context.Context) buffer.FlushResult
}

// Config configures the scheduler. Spec, when set, is a cron expression or
// descriptor and takes precedence over Interval.
type Config struct {
	Interval time.Duration
	Spec     string
}

// Scheduler owns the flush timer. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	flusher Flusher
	logger  *slog.Logger
	entry   cron.EntryID
	spec    string

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler; it does not start until Start is called.
func New(cfg Config, flusher Flusher, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	spec := cfg.Spec
	if spec == "" {
		interval := cfg.Interval
		if interval <= 0 {
			interval = DefaultInterval
		}
		spec = "@every " + interval.String()
	}

	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		flusher: flusher,
		logger:  logger,
		spec:    spec,
		ctx:     ctx,
		cancel:  cancel,
	}

	id, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.ctx) })
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid flush schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing the flush job.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "schedule", s.spec)
	s.cron.Start()
}

// Stop halts the timer and waits for a running flush to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	defer s.cancel()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RunOnce performs one age-based flush.
func (s *Scheduler) RunOnce(ctx context.Context) buffer.FlushResult {
	res := s.flusher.FlushOldActions(ctx)
	switch {
	case !res.Success:
		s.logger.Warn("scheduled flush failed",
			"error", res.Error,
			"error_kind", res.ErrorKind,
			"restored", res.RestoredCount,
		)
	case res.Count > 0:
		s.logger.Info("scheduled flush completed",
			"count", res.Count,
			"batch_id", res.BatchID,
			"remaining", res.RemainingCount,
		)
	}
	return res
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
