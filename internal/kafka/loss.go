package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	apperrors "github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/pkg/action"
	"github.com/jittakal/actionstore/pkg/buffer"
)

// EventTypeDiscarded is the CloudEvent type of a loss record.
const EventTypeDiscarded = "com.actionstore.action.discarded"

var _ buffer.LossReporter = (*LossPublisher)(nil)

// LossRecord is the CloudEvent data of one discarded action.
type LossRecord struct {
	Event       action.BufferedEvent `json:"event"`
	Reason      string               `json:"reason"`
	RetryCount  int                  `json:"retry_count"`
	LastError   string               `json:"last_error,omitempty"`
	DiscardedAt time.Time            `json:"discarded_at"`
	ProcessorID string               `json:"processor_id"`
}

// LossConfig contains loss topic configuration.
type LossConfig struct {
	Enabled     bool
	Topic       string
	Source      string
	ProcessorID string
}

// LossMetrics counts publication outcomes.
type LossMetrics interface {
	IncLossPublished(status string)
}

// LossPublisher publishes permanently discarded actions to a Kafka topic.
type LossPublisher struct {
	producer sarama.SyncProducer
	config   LossConfig
	logger   *slog.Logger
	metrics  LossMetrics
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewLossPublisher creates a new loss publisher. A disabled publisher accepts
// reports and drops them.
func NewLossPublisher(sec SecurityConfig, config LossConfig, logger *slog.Logger, metrics LossMetrics) (*LossPublisher, error) {
	if !config.Enabled {
		logger.Info("loss topic publishing is disabled")
		return newLossPublisher(nil, config, logger, metrics), nil
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("loss topic publishing enabled without a topic")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	if err := configureSecurity(saramaConfig, sec); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(sec.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("loss publisher created",
		"bootstrap_servers", sec.BootstrapServers,
		"topic", config.Topic,
	)
	return newLossPublisher(producer, config, logger, metrics), nil
}

func newLossPublisher(producer sarama.SyncProducer, config LossConfig, logger *slog.Logger, metrics LossMetrics) *LossPublisher {
	if config.Source == "" {
		config.Source = "actionstore"
	}
	if config.ProcessorID == "" {
		config.ProcessorID = config.Source
	}
	return &LossPublisher{
		producer: producer,
		config:   config,
		logger:   logger.With("component", "loss-publisher"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// ReportLoss publishes one CloudEvent per discarded action.
func (p *LossPublisher) ReportLoss(ctx context.Context, events []action.BufferedEvent, reason string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return apperrors.ErrPublisherClosed
	}
	if p.producer == nil || len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for i := range events {
		msg, err := p.buildMessage(&events[i], reason)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		p.incMetric("failure", len(msgs))
		p.logger.Error("failed to publish loss events",
			"error", err,
			"topic", p.config.Topic,
			"count", len(msgs),
			"reason", reason,
		)
		return fmt.Errorf("failed to publish loss events: %w", err)
	}

	p.incMetric("success", len(msgs))
	p.logger.Info("published loss events",
		"topic", p.config.Topic,
		"count", len(msgs),
		"reason", reason,
	)
	return nil
}

func (p *LossPublisher) buildMessage(ev *action.BufferedEvent, reason string) (*sarama.ProducerMessage, error) {
	now := p.now().UTC()

	ce := cloudevents.NewEvent()
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetID(uuid.NewString())
	ce.SetType(EventTypeDiscarded)
	ce.SetSource(p.config.Source)
	ce.SetSubject(ev.ActionID)
	ce.SetTime(now)
	ce.SetExtension("lossreason", reason)

	record := LossRecord{
		Event:       *ev,
		Reason:      reason,
		RetryCount:  ev.RetryCount,
		LastError:   ev.LastRetryError,
		DiscardedAt: now,
		ProcessorID: p.config.ProcessorID,
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, record); err != nil {
		return nil, fmt.Errorf("failed to set loss event data: %w", err)
	}

	value, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal loss event: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: p.config.Topic,
		Key:   sarama.StringEncoder(ev.ActionID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("ce_specversion"), Value: []byte(ce.SpecVersion())},
			{Key: []byte("ce_type"), Value: []byte(ce.Type())},
			{Key: []byte("ce_source"), Value: []byte(ce.Source())},
			{Key: []byte("ce_id"), Value: []byte(ce.ID())},
			{Key: []byte("loss_reason"), Value: []byte(reason)},
		},
		Timestamp: now,
	}, nil
}

func (p *LossPublisher) incMetric(status string, n int) {
	if p.metrics == nil {
		return
	}
	for i := 0; i < n; i++ {
		p.metrics.IncLossPublished(status)
	}
}

// Close closes the loss publisher.
func (p *LossPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing producer", "error", err)
			return err
		}
	}

	p.logger.Info("loss publisher closed")
	return nil
}
