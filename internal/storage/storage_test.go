package storage

import (
	"context"
	"sync"

	"github.com/jittakal/actionstore/pkg/storage"
)

// mockMetricsCollector implements MetricsCollector for testing
type mockMetricsCollector struct {
	mu                   sync.Mutex
	uploads              []string
	storageErrors        []string
	retries              int
	compressionFallbacks int
}

func (m *mockMetricsCollector) ObserveUpload(backend, format, status string, sizeBytes int, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, status)
}

func (m *mockMetricsCollector) IncStorageErrors(backend, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storageErrors = append(m.storageErrors, kind)
}

func (m *mockMetricsCollector) IncUploadRetries(backend string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *mockMetricsCollector) IncCompressionFallbacks(backend string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compressionFallbacks++
}

type putCall struct {
	key  string
	body []byte
	meta storage.ObjectMeta
}

// fakeStore records puts and returns queued errors in order.
type fakeStore struct {
	mu    sync.Mutex
	errs  []error
	calls []putCall
}

func (f *fakeStore) Put(ctx context.Context, key string, body []byte, meta storage.ObjectMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, putCall{key: key, body: body, meta: meta})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeStore) Name() string { return "fake" }

func (f *fakeStore) Close() error { return nil }

type fixedIDs string

func (f fixedIDs) BatchID() string { return string(f) }
