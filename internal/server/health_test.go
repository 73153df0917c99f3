package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestHealth_Lifecycle(t *testing.T) {
	h := NewHealth()
	ctx := context.Background()

	if !h.Liveness() {
		t.Error("Liveness() should always be true")
	}
	if h.Readiness(ctx) {
		t.Error("Readiness() should be false before SetReady")
	}

	h.SetReady(true)
	if !h.Readiness(ctx) {
		t.Error("Readiness() should be true after SetReady(true)")
	}

	h.SetReady(false)
	if h.Readiness(ctx) {
		t.Error("Readiness() should be false once shutdown begins")
	}
	if !h.Liveness() {
		t.Error("Liveness() should stay true during shutdown")
	}
}

func TestHealth_Checks(t *testing.T) {
	h := NewHealth()
	h.SetReady(true)
	h.AddCheck("storage", func(context.Context) error { return nil })
	h.AddCheck("kafka", func(context.Context) error { return errors.New("consumer closed") })

	ctx := context.Background()
	if h.Readiness(ctx) {
		t.Error("Readiness() should be false when a check fails")
	}

	status := h.GetStatus(ctx)
	want := map[string]string{"lifecycle": "ok", "storage": "ok", "kafka": "consumer closed"}
	for k, v := range want {
		if status[k] != v {
			t.Errorf("status[%s] = %q, want %q", k, status[k], v)
		}
	}
}

func TestHealthHandlers(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		path       string
		wantStatus int
		wantBody   string
	}{
		{"live while ready", true, "/health/live", http.StatusOK, "alive"},
		{"live during shutdown", false, "/health/live", http.StatusOK, "alive"},
		{"ready", true, "/health/ready", http.StatusOK, "ready"},
		{"not ready", false, "/health/ready", http.StatusServiceUnavailable, "not ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealth()
			h.SetReady(tt.ready)
			router := NewRouter(RouterConfig{Health: h, Logger: discardLogger()})

			w := do(t, router, "GET", tt.path, "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			var resp HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Status != tt.wantBody {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantBody)
			}
			if resp.Timestamp == "" {
				t.Error("Timestamp should be set")
			}
		})
	}
}
