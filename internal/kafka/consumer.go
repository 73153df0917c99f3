// Package kafka ingests CloudEvents-encoded actions from Kafka and publishes
// discarded actions to a loss topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	apperrors "github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/internal/ingest"
)

// Message outcomes, used as the rejected-message metric reason.
const (
	OutcomeIngested        = "ingested"
	OutcomeMalformed       = "malformed_event"
	OutcomeUnsupportedType = "unsupported_type"
	OutcomeInvalidAction   = "invalid_action"
	OutcomeIngestFailed    = "ingest_failed"
)

// ConsumerConfig contains Kafka consumer configuration.
type ConsumerConfig struct {
	SecurityConfig

	GroupID             string
	Topics              []string
	AutoOffsetReset     string
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
	MaxPollIntervalMS   int
	// EventTypePrefix filters CloudEvent types; empty accepts every type.
	EventTypePrefix string
}

// ActionIngestor accepts one action payload.
type ActionIngestor interface {
	IngestJSON(ctx context.Context, body []byte, meta ingest.RequestMeta) (*ingest.Response, error)
}

// MetricsCollector defines metrics operations for Kafka consumer.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	IncMessagesRejected(topic, reason string)
	IncOffsetCommits(topic string, partition int32, status string)
	IncRebalances(groupID string)
	ObserveRebalanceDuration(groupID string, duration float64)
	SetPartitionsAssigned(topic string, count float64)
}

// Consumer reads action CloudEvents from a consumer group and runs them
// through the ingestion adapter. Offsets are marked after the adapter
// acknowledges (or rejects) each message.
type Consumer struct {
	group    sarama.ConsumerGroup
	config   ConsumerConfig
	ingestor ActionIngestor
	logger   *slog.Logger
	metrics  MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewConsumer creates a new Kafka consumer using Sarama library.
func NewConsumer(config ConsumerConfig, ingestor ActionIngestor, logger *slog.Logger, metrics MetricsCollector) (*Consumer, error) {
	if len(config.Topics) == 0 {
		return nil, errors.New("kafka consumer requires at least one topic")
	}

	saramaConfig, err := newConsumerConfig(config)
	if err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroup(config.BootstrapServers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka consumer created",
		"group_id", config.GroupID,
		"bootstrap_servers", config.BootstrapServers,
		"topics", config.Topics,
	)

	return newConsumer(group, config, ingestor, logger, metrics), nil
}

func newConsumer(group sarama.ConsumerGroup, config ConsumerConfig, ingestor ActionIngestor, logger *slog.Logger, metrics MetricsCollector) *Consumer {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		group:    group,
		config:   config,
		ingestor: ingestor,
		logger:   logger.With("component", "kafka-consumer"),
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func newConsumerConfig(config ConsumerConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(config.AutoOffsetReset)
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.Return.Errors = true

	if config.SessionTimeoutMS > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMS) * time.Millisecond
	}
	if config.HeartbeatIntervalMS > 0 {
		saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatIntervalMS) * time.Millisecond
	}
	saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	if config.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(config.MaxPollIntervalMS) * time.Millisecond
	}

	if err := configureSecurity(saramaConfig, config.SecurityConfig); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return saramaConfig, nil
}

// Start consumes in the background until Close.
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return apperrors.ErrConsumerClosed
	}
	if c.started {
		return nil
	}
	c.started = true

	handler := &consumerGroupHandler{consumer: c}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			// Consume returns on every rebalance and must be called again.
			if err := c.group.Consume(c.ctx, c.config.Topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for {
			select {
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer error", "error", err)
			case <-c.ctx.Done():
				return
			}
		}
	}()

	c.logger.Info("kafka consumer started", "topics", c.config.Topics)
	return nil
}

// Healthy reports an error once the consumer is closed.
func (c *Consumer) Healthy(context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return apperrors.ErrConsumerClosed
	}
	return nil
}

// Close stops consumption and releases the consumer group.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Info("closing kafka consumer")
	c.cancel()
	err := c.group.Close()
	c.wg.Wait()

	if err != nil {
		c.logger.Error("error closing consumer group", "error", err)
		return err
	}
	c.logger.Info("kafka consumer closed")
	return nil
}

// handleMessage ingests one message and returns its outcome. Every outcome
// marks the offset: a message that cannot be parsed or validated now never
// will be.
func (c *Consumer) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) string {
	var event cloudevents.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Warn("failed to parse cloud event",
			"error", err,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return OutcomeMalformed
	}

	if c.config.EventTypePrefix != "" && !strings.HasPrefix(event.Type(), c.config.EventTypePrefix) {
		c.logger.Debug("skipping event type", "type", event.Type(), "event_id", event.ID())
		return OutcomeUnsupportedType
	}

	resp, err := c.ingestor.IngestJSON(ctx, event.Data(), ingest.RequestMeta{RequestID: event.ID()})
	switch {
	case errors.Is(err, apperrors.ErrInvalidAction):
		c.logger.Warn("rejected action event",
			"event_id", event.ID(),
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return OutcomeInvalidAction
	case err != nil:
		c.logger.Error("failed to ingest action event",
			"event_id", event.ID(),
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return OutcomeIngestFailed
	}

	c.logger.Debug("ingested action event",
		"event_id", event.ID(),
		"type", event.Type(),
		"actions", len(resp.Results),
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return OutcomeIngested
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	consumer       *Consumer
	rebalanceStart time.Time
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.rebalanceStart = time.Now()

	h.consumer.logger.Info("consumer group session setup",
		"member_id", session.MemberID(),
		"generation_id", session.GenerationID(),
		"claims", session.Claims(),
	)

	h.consumer.metrics.IncRebalances(h.consumer.config.GroupID)
	for topic, partitions := range session.Claims() {
		h.consumer.metrics.SetPartitionsAssigned(topic, float64(len(partitions)))
	}
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	if !h.rebalanceStart.IsZero() {
		h.consumer.metrics.ObserveRebalanceDuration(h.consumer.config.GroupID, time.Since(h.rebalanceStart).Seconds())
	}

	h.consumer.logger.Info("consumer group session cleanup", "member_id", session.MemberID())
	return nil
}

// ConsumeClaim processes messages from a partition.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.consumer.logger.Info("started consuming partition",
		"topic", claim.Topic(),
		"partition", claim.Partition(),
		"initial_offset", claim.InitialOffset(),
	)

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			h.consumer.metrics.IncMessagesConsumed(message.Topic, message.Partition)
			if outcome := h.consumer.handleMessage(session.Context(), message); outcome != OutcomeIngested {
				h.consumer.metrics.IncMessagesRejected(message.Topic, outcome)
			}

			session.MarkMessage(message, "")
			h.consumer.metrics.IncOffsetCommits(message.Topic, message.Partition, "marked")

		case <-session.Context().Done():
			return nil
		}
	}
}

// offsetInitial converts the AutoOffsetReset config to Sarama's offset constant.
func offsetInitial(autoOffsetReset string) int64 {
	switch autoOffsetReset {
	case "earliest":
		return sarama.OffsetOldest
	default:
		return sarama.OffsetNewest
	}
}

type noopMetrics struct{}

func (noopMetrics) IncMessagesConsumed(string, int32)        {}
func (noopMetrics) IncMessagesRejected(string, string)       {}
func (noopMetrics) IncOffsetCommits(string, int32, string)   {}
func (noopMetrics) IncRebalances(string)                     {}
func (noopMetrics) ObserveRebalanceDuration(string, float64) {}
func (noopMetrics) SetPartitionsAssigned(string, float64)    {}
