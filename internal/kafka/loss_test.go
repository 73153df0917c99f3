package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	apperrors "github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/pkg/action"
)

func lostEvent(id string, retries int) action.BufferedEvent {
	return action.BufferedEvent{
		Event: action.Event{
			ActionID:      id,
			UserID:        "user-1",
			PlaceCategory: "cafe",
			PlaceID:       "place-1",
			ActionType:    "view",
			Timestamp:     time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC),
		},
		BufferID:       "buf-1",
		RetryCount:     retries,
		LastRetryError: "upload failed",
	}
}

func TestLossPublisher_ReportLoss(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	metrics := newRecordingMetrics()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	check := func(wantID string) mocks.MessageChecker {
		return func(msg *sarama.ProducerMessage) error {
			if msg.Topic != "actions-loss" {
				return fmt.Errorf("topic = %s", msg.Topic)
			}
			key, _ := msg.Key.Encode()
			if string(key) != wantID {
				return fmt.Errorf("key = %s, want %s", key, wantID)
			}
			value, _ := msg.Value.Encode()

			var ce cloudevents.Event
			if err := json.Unmarshal(value, &ce); err != nil {
				return fmt.Errorf("unmarshal event: %w", err)
			}
			if ce.Type() != EventTypeDiscarded || ce.Subject() != wantID || ce.Source() != "test-svc" {
				return fmt.Errorf("unexpected event attributes: %s %s %s", ce.Type(), ce.Subject(), ce.Source())
			}
			if reason, _ := ce.Extensions()["lossreason"].(string); reason != "retry_budget_exceeded" {
				return fmt.Errorf("lossreason = %v", ce.Extensions()["lossreason"])
			}

			var record LossRecord
			if err := ce.DataAs(&record); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if record.Event.ActionID != wantID || record.RetryCount != 3 || record.LastError != "upload failed" {
				return fmt.Errorf("unexpected record: %+v", record)
			}
			if record.ProcessorID != "test-svc" || !record.DiscardedAt.Equal(now) {
				return fmt.Errorf("unexpected record metadata: %+v", record)
			}
			return nil
		}
	}
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(check("a1"))
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(check("a2"))

	p := newLossPublisher(producer, LossConfig{Enabled: true, Topic: "actions-loss", Source: "test-svc"}, quietLogger(), metrics)
	p.now = func() time.Time { return now }

	events := []action.BufferedEvent{lostEvent("a1", 3), lostEvent("a2", 3)}
	if err := p.ReportLoss(context.Background(), events, "retry_budget_exceeded"); err != nil {
		t.Fatalf("ReportLoss() error = %v", err)
	}
	if metrics.loss["success"] != 2 {
		t.Errorf("loss metrics = %v, want 2 successes", metrics.loss)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestLossPublisher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	metrics := newRecordingMetrics()
	p := newLossPublisher(producer, LossConfig{Enabled: true, Topic: "actions-loss"}, quietLogger(), metrics)

	err := p.ReportLoss(context.Background(), []action.BufferedEvent{lostEvent("a1", 3)}, "requeue_limit")
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("ReportLoss() error = %v, want ErrOutOfBrokers", err)
	}
	if metrics.loss["failure"] != 1 {
		t.Errorf("loss metrics = %v, want 1 failure", metrics.loss)
	}
	_ = p.Close()
}

func TestLossPublisher_Disabled(t *testing.T) {
	p, err := NewLossPublisher(SecurityConfig{}, LossConfig{}, quietLogger(), nil)
	if err != nil {
		t.Fatalf("NewLossPublisher() error = %v", err)
	}
	if err := p.ReportLoss(context.Background(), []action.BufferedEvent{lostEvent("a1", 1)}, "requeue_limit"); err != nil {
		t.Errorf("ReportLoss() on disabled publisher = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	err = p.ReportLoss(context.Background(), nil, "requeue_limit")
	if !errors.Is(err, apperrors.ErrPublisherClosed) {
		t.Errorf("ReportLoss() after close = %v, want ErrPublisherClosed", err)
	}
}

func TestNewLossPublisher_RequiresTopic(t *testing.T) {
	_, err := NewLossPublisher(SecurityConfig{}, LossConfig{Enabled: true}, quietLogger(), nil)
	if err == nil {
		t.Fatal("expected error when enabled without a topic")
	}
}

func TestLossPublisher_CanceledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := newLossPublisher(producer, LossConfig{Enabled: true, Topic: "actions-loss"}, quietLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.ReportLoss(ctx, []action.BufferedEvent{lostEvent("a1", 1)}, "shutdown"); !errors.Is(err, context.Canceled) {
		t.Errorf("ReportLoss() error = %v, want context.Canceled", err)
	}
	_ = p.Close()
}
