package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"

	apperrors "github.com/jittakal/actionstore/internal/errors"
)

func TestNewConsumer_RequiresTopics(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{GroupID: "g"}, &fakeIngestor{}, quietLogger(), nil)
	if err == nil {
		t.Fatal("expected error without topics")
	}
}

func TestNewConsumerConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         ConsumerConfig
		wantOffset  int64
		wantSession time.Duration
		wantMaxProc time.Duration
		wantErr     bool
	}{
		{
			name:        "earliest with timeouts",
			cfg:         ConsumerConfig{AutoOffsetReset: "earliest", SessionTimeoutMS: 10000, MaxPollIntervalMS: 60000},
			wantOffset:  sarama.OffsetOldest,
			wantSession: 10 * time.Second,
			wantMaxProc: time.Minute,
		},
		{
			name:        "defaults",
			cfg:         ConsumerConfig{},
			wantOffset:  sarama.OffsetNewest,
			wantSession: sarama.NewConfig().Consumer.Group.Session.Timeout,
			wantMaxProc: 5 * time.Minute,
		},
		{
			name:    "bad security",
			cfg:     ConsumerConfig{SecurityConfig: SecurityConfig{SecurityProtocol: "KERBEROS"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := newConsumerConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newConsumerConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cfg.Consumer.Offsets.Initial != tt.wantOffset {
				t.Errorf("Offsets.Initial = %d, want %d", cfg.Consumer.Offsets.Initial, tt.wantOffset)
			}
			if cfg.Consumer.Group.Session.Timeout != tt.wantSession {
				t.Errorf("Session.Timeout = %v, want %v", cfg.Consumer.Group.Session.Timeout, tt.wantSession)
			}
			if cfg.Consumer.MaxProcessingTime != tt.wantMaxProc {
				t.Errorf("MaxProcessingTime = %v, want %v", cfg.Consumer.MaxProcessingTime, tt.wantMaxProc)
			}
			if !cfg.Consumer.Return.Errors {
				t.Error("Return.Errors should be enabled")
			}
		})
	}
}

func TestConsumer_HandleMessage(t *testing.T) {
	action := map[string]string{
		"user_id": "u1", "place_category": "cafe", "place_id": "p1", "action_type": "view",
	}

	tests := []struct {
		name      string
		value     []byte
		prefix    string
		ingestErr error
		want      string
		wantCalls int
		wantReqID string
	}{
		{"valid", actionEvent(t, "ce-1", "com.actionstore.action.created", action), "", nil, OutcomeIngested, 1, "ce-1"},
		{"prefix match", actionEvent(t, "ce-2", "com.actionstore.action.created", action), "com.actionstore.action", nil, OutcomeIngested, 1, "ce-2"},
		{"prefix mismatch", actionEvent(t, "ce-3", "com.library.book.issued", action), "com.actionstore.action", nil, OutcomeUnsupportedType, 0, ""},
		{"malformed", []byte(`{not json`), "", nil, OutcomeMalformed, 0, ""},
		{"invalid action", actionEvent(t, "ce-4", "t", action), "", fmt.Errorf("wrapped: %w", apperrors.ErrInvalidAction), OutcomeInvalidAction, 1, "ce-4"},
		{"ingest failure", actionEvent(t, "ce-5", "t", action), "", context.DeadlineExceeded, OutcomeIngestFailed, 1, "ce-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &fakeIngestor{err: tt.ingestErr}
			c := newConsumer(newFakeGroup(), ConsumerConfig{EventTypePrefix: tt.prefix}, ing, quietLogger(), nil)

			got := c.handleMessage(context.Background(), &sarama.ConsumerMessage{Topic: "actions", Value: tt.value})
			if got != tt.want {
				t.Errorf("handleMessage() = %s, want %s", got, tt.want)
			}
			if len(ing.calls) != tt.wantCalls {
				t.Fatalf("ingest calls = %d, want %d", len(ing.calls), tt.wantCalls)
			}
			if tt.wantCalls > 0 && ing.calls[0].RequestID != tt.wantReqID {
				t.Errorf("RequestID = %s, want %s", ing.calls[0].RequestID, tt.wantReqID)
			}
		})
	}
}

func TestConsumeClaim_MarksEveryMessage(t *testing.T) {
	metrics := newRecordingMetrics()
	c := newConsumer(newFakeGroup(), ConsumerConfig{GroupID: "g"}, &fakeIngestor{}, quietLogger(), metrics)
	h := &consumerGroupHandler{consumer: c}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 3)}

	action := map[string]string{"user_id": "u", "place_category": "c", "place_id": "p", "action_type": "view"}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "actions", Offset: 1, Value: actionEvent(t, "a", "t", action)}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "actions", Offset: 2, Value: []byte("garbage")}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "actions", Offset: 3, Value: actionEvent(t, "b", "t", action)}
	close(claim.msgs)

	if err := h.Setup(session); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim() error = %v", err)
	}
	if err := h.Cleanup(session); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	if len(session.marked) != 3 {
		t.Errorf("marked offsets = %v, want 3 entries", session.marked)
	}
	if metrics.consumed != 3 || metrics.marked != 3 {
		t.Errorf("consumed=%d marked=%d, want 3/3", metrics.consumed, metrics.marked)
	}
	if metrics.rejected[OutcomeMalformed] != 1 {
		t.Errorf("rejected = %v, want one malformed", metrics.rejected)
	}
}

func TestConsumer_Lifecycle(t *testing.T) {
	group := newFakeGroup()
	c := newConsumer(group, ConsumerConfig{Topics: []string{"actions"}}, &fakeIngestor{}, quietLogger(), nil)

	if err := c.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy() before close = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Errorf("second Start() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return")
	}

	if err := c.Healthy(context.Background()); !errors.Is(err, apperrors.ErrConsumerClosed) {
		t.Errorf("Healthy() after close = %v, want ErrConsumerClosed", err)
	}
	if err := c.Start(); !errors.Is(err, apperrors.ErrConsumerClosed) {
		t.Errorf("Start() after close = %v, want ErrConsumerClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
