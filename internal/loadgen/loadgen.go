// Package loadgen posts fake user actions to a running ingestion endpoint.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jaswdr/faker"
	"golang.org/x/time/rate"

	"github.com/jittakal/actionstore/pkg/action"
)

// IngestPath is appended to the target base URL.
const IngestPath = "/api/v1/actions"

var (
	placeCategories = []string{"restaurant", "cafe", "museum", "park", "hotel", "bar", "gallery", "theater"}
	actionTypes     = []string{"view", "view", "view", "click", "share", "like", "bookmark", "review"}
	platforms       = []string{"ios", "android", "web"}
	locales         = []string{"en-US", "en-GB", "de-DE", "fr-FR", "ja-JP"}
)

// Action is the wire shape of one generated action.
type Action struct {
	UserID        string            `json:"user_id"`
	PlaceCategory string            `json:"place_category"`
	PlaceID       string            `json:"place_id"`
	ActionType    string            `json:"action_type"`
	ActionValue   any               `json:"action_value,omitempty"`
	ActionDetail  map[string]string `json:"action_detail,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	Timestamp     string            `json:"timestamp"`
	Client        action.ClientInfo `json:"client"`
}

// Generator produces realistic fake actions.
type Generator struct {
	faker faker.Faker
	now   func() time.Time
}

// NewGenerator creates a new action generator
func NewGenerator() *Generator {
	return &Generator{faker: faker.New(), now: time.Now}
}

// Action generates one action.
func (g *Generator) Action() Action {
	a := Action{
		UserID:        "U" + g.faker.UUID().V4()[0:8],
		PlaceCategory: g.faker.RandomStringElement(placeCategories),
		PlaceID:       "P" + g.faker.UUID().V4()[0:8],
		ActionType:    g.faker.RandomStringElement(actionTypes),
		SessionID:     g.faker.UUID().V4(),
		Timestamp:     g.now().Add(-time.Duration(g.faker.IntBetween(0, 5000)) * time.Millisecond).UTC().Format(time.RFC3339Nano),
		Client: action.ClientInfo{
			Platform:   g.faker.RandomStringElement(platforms),
			AppVersion: fmt.Sprintf("%d.%d.%d", g.faker.IntBetween(1, 4), g.faker.IntBetween(0, 20), g.faker.IntBetween(0, 9)),
			Locale:     g.faker.RandomStringElement(locales),
		},
	}

	switch a.ActionType {
	case "review":
		a.ActionValue = g.faker.IntBetween(1, 5)
		a.ActionDetail = map[string]string{"text": g.faker.Lorem().Sentence(8)}
	case "share":
		a.ActionDetail = map[string]string{"channel": g.faker.RandomStringElement([]string{"sms", "email", "link"})}
	case "view":
		a.ActionValue = g.faker.IntBetween(500, 60000)
		a.ActionDetail = map[string]string{"city": g.faker.Address().City()}
	}
	return a
}

// Batch generates n actions.
func (g *Generator) Batch(n int) []Action {
	out := make([]Action, n)
	for i := range out {
		out[i] = g.Action()
	}
	return out
}

// Config configures a Runner.
type Config struct {
	// Target is the service base URL, e.g. http://localhost:8080.
	Target string
	// Rate is requests per second; zero means unlimited.
	Rate float64
	// Count is the total number of actions to send.
	Count int
	// BatchSize is the number of actions per request.
	BatchSize int
	Timeout   time.Duration
}

// Report summarizes a run.
type Report struct {
	Requests int           `json:"requests"`
	Sent     int           `json:"sent"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Failed   int           `json:"failed"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Runner posts generated batches to the ingestion endpoint.
type Runner struct {
	cfg       Config
	generator *Generator
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewRunner creates a new Runner.
func NewRunner(cfg Config, client *http.Client, logger *slog.Logger) (*Runner, error) {
	if cfg.Target == "" {
		return nil, errors.New("target is required")
	}
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", cfg.Count)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}

	return &Runner{
		cfg:       cfg,
		generator: NewGenerator(),
		client:    client,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger.With("component", "loadgen"),
	}, nil
}

// Run sends Count actions and returns the tally. It stops early, returning
// the partial report, when ctx ends.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var report Report
	start := time.Now()
	url := strings.TrimRight(r.cfg.Target, "/") + IngestPath

	for report.Sent < r.cfg.Count {
		if err := r.limiter.Wait(ctx); err != nil {
			report.Elapsed = time.Since(start)
			return report, err
		}

		n := min(r.cfg.BatchSize, r.cfg.Count-report.Sent)
		status, err := r.post(ctx, url, r.generator.Batch(n))
		report.Requests++
		report.Sent += n

		switch {
		case err != nil:
			report.Failed += n
			r.logger.Warn("request failed", "error", err)
			if ctx.Err() != nil {
				report.Elapsed = time.Since(start)
				return report, ctx.Err()
			}
		case status == http.StatusOK:
			report.Accepted += n
		case status >= 400 && status < 500:
			report.Rejected += n
			r.logger.Warn("request rejected", "status", status)
		default:
			report.Failed += n
			r.logger.Warn("request failed", "status", status)
		}
	}

	report.Elapsed = time.Since(start)
	r.logger.Info("load generation finished",
		"requests", report.Requests,
		"sent", report.Sent,
		"accepted", report.Accepted,
		"rejected", report.Rejected,
		"failed", report.Failed,
		"elapsed", report.Elapsed,
	)
	return report, nil
}

func (r *Runner) post(ctx context.Context, url string, actions []Action) (int, error) {
	body, err := json.Marshal(map[string]any{"actions": actions})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal actions: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "actionstore-loadgen")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
