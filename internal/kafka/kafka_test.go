package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/jittakal/actionstore/internal/ingest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingMetrics implements MetricsCollector and LossMetrics.
type recordingMetrics struct {
	mu       sync.Mutex
	consumed int
	rejected map[string]int
	marked   int
	loss     map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{rejected: map[string]int{}, loss: map[string]int{}}
}

func (m *recordingMetrics) IncMessagesConsumed(string, int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed++
}

func (m *recordingMetrics) IncMessagesRejected(_ string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *recordingMetrics) IncOffsetCommits(string, int32, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked++
}

func (m *recordingMetrics) IncRebalances(string)                     {}
func (m *recordingMetrics) ObserveRebalanceDuration(string, float64) {}
func (m *recordingMetrics) SetPartitionsAssigned(string, float64)    {}

func (m *recordingMetrics) IncLossPublished(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loss[status]++
}

// fakeGroup blocks in Consume until its context ends.
type fakeGroup struct {
	errs     chan error
	closed   chan struct{}
	once     sync.Once
	consumes int
	mu       sync.Mutex
}

func newFakeGroup() *fakeGroup {
	return &fakeGroup{errs: make(chan error), closed: make(chan struct{})}
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	g.consumes++
	g.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil
	case <-g.closed:
		return sarama.ErrClosedConsumerGroup
	}
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	g.once.Do(func() {
		close(g.closed)
		close(g.errs)
	})
	return nil
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return map[string][]int32{"actions": {0}} }
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "actions" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

type fakeIngestor struct {
	mu    sync.Mutex
	calls []ingest.RequestMeta
	err   error
}

func (f *fakeIngestor) IngestJSON(_ context.Context, body []byte, meta ingest.RequestMeta) (*ingest.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, meta)
	if f.err != nil {
		return nil, f.err
	}
	return &ingest.Response{Success: true, ActionsProcessed: 1, Results: []ingest.Ack{{Processed: true}}}, nil
}

func actionEvent(t *testing.T, id, eventType string, data any) []byte {
	t.Helper()
	ce := cloudevents.NewEvent()
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetID(id)
	ce.SetType(eventType)
	ce.SetSource("test")
	ce.SetTime(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	if err := ce.SetData(cloudevents.ApplicationJSON, data); err != nil {
		t.Fatalf("SetData() error = %v", err)
	}
	b, err := json.Marshal(ce)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return b
}
