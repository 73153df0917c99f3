package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingHTTPMetrics struct {
	mu     sync.Mutex
	routes []string
	codes  []int
}

func (r *recordingHTTPMetrics) ObserveHTTPRequest(method, route string, status int, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, method+" "+route)
	r.codes = append(r.codes, status)
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		provided string
	}{
		{"generates id", ""},
		{"uses provided id", "my-custom-id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			router := gin.New()
			router.Use(RequestID())
			router.GET("/test", func(c *gin.Context) {
				seen = c.GetString(RequestIDKey)
				c.String(http.StatusOK, "ok")
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.provided != "" {
				req.Header.Set(RequestIDHeader, tt.provided)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if tt.provided != "" && got != tt.provided {
				t.Errorf("X-Request-ID = %q, want %q", got, tt.provided)
			}
			if tt.provided == "" && len(got) != 36 {
				t.Errorf("expected UUID format, got %q", got)
			}
			if seen != got {
				t.Errorf("context request id = %q, header = %q", seen, got)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	router := gin.New()
	router.Use(Recovery(logger))
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"internal_error"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestLogger_LevelByStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	router := gin.New()
	router.Use(Logger(logger))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	if buf.Len() != 0 {
		t.Errorf("2xx should log at debug, got: %s", buf.String())
	}

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "status=400") {
		t.Errorf("4xx should log at warn: %s", buf.String())
	}
}

func TestMetrics_UsesRouteTemplate(t *testing.T) {
	rec := &recordingHTTPMetrics{}
	router := gin.New()
	router.Use(Metrics(rec))
	router.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	if len(rec.routes) != 2 {
		t.Fatalf("observed %d requests, want 2", len(rec.routes))
	}
	if rec.routes[0] != "GET /items/:id" || rec.codes[0] != http.StatusNoContent {
		t.Errorf("first observation = %s %d", rec.routes[0], rec.codes[0])
	}
	if rec.routes[1] != "GET /not_found" || rec.codes[1] != http.StatusNotFound {
		t.Errorf("second observation = %s %d", rec.routes[1], rec.codes[1])
	}
}

func TestRateLimiter(t *testing.T) {
	tests := []struct {
		name      string
		cfg       RateLimitConfig
		requests  int
		wantLast  int
		wantLimit string
	}{
		{
			name:      "burst exhausted",
			cfg:       RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 2},
			requests:  3,
			wantLast:  http.StatusTooManyRequests,
			wantLimit: "1",
		},
		{
			name:     "within burst",
			cfg:      RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 5, PerClient: true},
			requests: 5,
			wantLast: http.StatusOK,
		},
		{
			name:     "disabled",
			cfg:      RateLimitConfig{Enabled: false, RequestsPerSecond: 1, BurstSize: 1},
			requests: 10,
			wantLast: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(RateLimiter(tt.cfg))
			router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

			var w *httptest.ResponseRecorder
			for i := 0; i < tt.requests; i++ {
				w = httptest.NewRecorder()
				router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
			}

			if w.Code != tt.wantLast {
				t.Errorf("last status = %d, want %d", w.Code, tt.wantLast)
			}
			if tt.wantLast == http.StatusTooManyRequests {
				if w.Header().Get("Retry-After") != "1" {
					t.Error("expected Retry-After header")
				}
				if got := w.Header().Get("X-RateLimit-Limit"); got != tt.wantLimit {
					t.Errorf("X-RateLimit-Limit = %q, want %q", got, tt.wantLimit)
				}
			}
		})
	}
}

func TestLimiterStore_SweepsIdleClients(t *testing.T) {
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, ClientTTL: time.Minute})
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	store.get("10.0.0.1", start)
	store.get("10.0.0.2", start.Add(90*time.Second))
	store.get("10.0.0.3", start.Add(2*time.Minute))

	if _, ok := store.limiters["10.0.0.1"]; ok {
		t.Error("idle client should have been swept")
	}
	if _, ok := store.limiters["10.0.0.2"]; !ok {
		t.Error("recent client should be kept")
	}
}

func TestBodyLimit(t *testing.T) {
	router := gin.New()
	router.POST("/test", BodyLimit(8), func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("0123456789")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("small")))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
