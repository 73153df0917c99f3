// Package ingest turns client action payloads into enriched events and hands
// them to the buffer service.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/internal/id"
	"github.com/jittakal/actionstore/internal/validator"
	"github.com/jittakal/actionstore/pkg/action"
	"github.com/jittakal/actionstore/pkg/buffer"
)

const (
	// DefaultMaxActions bounds the number of actions in one request.
	DefaultMaxActions = 1000

	PathImmediate = "immediate"
	PathBuffered  = "buffered"
)

// DefaultImmediateActions are uploaded one at a time instead of buffered.
var DefaultImmediateActions = []string{"like", "bookmark"}

// Config configures the adapter.
type Config struct {
	ImmediateActions []string
	MaxActions       int
}

// RequestMeta carries transport-level enrichment.
type RequestMeta struct {
	RequestID string
	ClientIP  string
}

// ProcessingResult is the buffer service outcome for one event.
type ProcessingResult struct {
	Path      string                  `json:"path"`
	Immediate *buffer.ImmediateResult `json:"immediate,omitempty"`
	Buffered  *buffer.AddResult       `json:"buffered,omitempty"`
}

// Ack acknowledges one ingested event.
type Ack struct {
	ActionID         string           `json:"action_id"`
	ActionType       string           `json:"action_type"`
	Processed        bool             `json:"processed"`
	ProcessingResult ProcessingResult `json:"processing_result"`
}

// Response is the outcome of one ingestion request.
type Response struct {
	Success          bool  `json:"success"`
	ActionsProcessed int   `json:"actions_processed"`
	Results          []Ack `json:"results"`
}

// ValidationFailure rejects a whole request. It unwraps to
// apperrors.ErrInvalidAction.
type ValidationFailure struct {
	Errors []*apperrors.ValidationError
}

func (e *ValidationFailure) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d validation errors, first: %v", len(e.Errors), e.Errors[0])
}

func (e *ValidationFailure) Unwrap() error {
	return apperrors.ErrInvalidAction
}

// ActionIDGenerator produces ids for actions submitted without one.
type ActionIDGenerator interface {
	ActionID() string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock overrides the server clock.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithIDGenerator overrides action id generation.
func WithIDGenerator(g ActionIDGenerator) Option {
	return func(a *Adapter) { a.ids = g }
}

// Adapter validates, normalizes, enriches and routes actions.
type Adapter struct {
	svc        buffer.Service
	validator  *validator.ActionValidator
	ids        ActionIDGenerator
	now        func() time.Time
	logger     *slog.Logger
	immediate  map[string]struct{}
	allowList  []string
	maxActions int
}

// NewAdapter creates an adapter in front of svc.
func NewAdapter(cfg Config, svc buffer.Service, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = DefaultMaxActions
	}
	if cfg.ImmediateActions == nil {
		cfg.ImmediateActions = DefaultImmediateActions
	}

	a := &Adapter{
		svc:        svc,
		validator:  validator.NewActionValidator(),
		ids:        id.NewGenerator(),
		now:        time.Now,
		logger:     logger.With("component", "ingest"),
		immediate:  make(map[string]struct{}, len(cfg.ImmediateActions)),
		maxActions: cfg.MaxActions,
	}
	for _, t := range cfg.ImmediateActions {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := a.immediate[t]; !dup {
			a.immediate[t] = struct{}{}
			a.allowList = append(a.allowList, t)
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ImmediateActions returns the normalized allow-list.
func (a *Adapter) ImmediateActions() []string {
	return append([]string(nil), a.allowList...)
}

// IsImmediate reports whether the normalized action type bypasses the buffer.
func (a *Adapter) IsImmediate(actionType string) bool {
	_, ok := a.immediate[actionType]
	return ok
}

// ParseRequest decodes a bare action object or an {"actions": [...]} wrapper.
func (a *Adapter) ParseRequest(body []byte) ([]validator.ActionPayload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, bodyError("request body is empty")
	}
	if body[0] != '{' {
		return nil, bodyError("request body must be a JSON object")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, bodyError("malformed JSON: " + err.Error())
	}

	if raw, ok := probe["actions"]; ok {
		var payloads []validator.ActionPayload
		if err := json.Unmarshal(raw, &payloads); err != nil {
			return nil, &ValidationFailure{Errors: []*apperrors.ValidationError{
				{Index: -1, Field: "actions", Reason: "must be an array of action objects"},
			}}
		}
		if len(payloads) == 0 {
			return nil, &ValidationFailure{Errors: []*apperrors.ValidationError{
				{Index: -1, Field: "actions", Reason: "must contain at least one action"},
			}}
		}
		if len(payloads) > a.maxActions {
			return nil, &ValidationFailure{Errors: []*apperrors.ValidationError{
				{Index: -1, Field: "actions", Reason: fmt.Sprintf("max %d actions per request", a.maxActions)},
			}}
		}
		return payloads, nil
	}

	var p validator.ActionPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, bodyError("malformed action: " + err.Error())
	}
	return []validator.ActionPayload{p}, nil
}

// Prepare normalizes and validates every payload, then enriches them into
// events. Any invalid payload rejects the whole set.
func (a *Adapter) Prepare(payloads []validator.ActionPayload, meta RequestMeta) ([]action.Event, error) {
	var errs []*apperrors.ValidationError
	for i := range payloads {
		a.validator.Normalize(&payloads[i])
		errs = append(errs, a.validator.Validate(&payloads[i], i)...)
	}
	if len(errs) > 0 {
		return nil, &ValidationFailure{Errors: errs}
	}

	now := a.now().UTC()
	events := make([]action.Event, 0, len(payloads))
	for i := range payloads {
		events = append(events, a.enrich(&payloads[i], meta, now))
	}
	return events, nil
}

func (a *Adapter) enrich(p *validator.ActionPayload, meta RequestMeta, now time.Time) action.Event {
	// Validated already, so the error is always nil here.
	ts, _ := validator.ParseTimestamp(p.Timestamp, now)

	actionID := p.ActionID
	if actionID == "" {
		actionID = a.ids.ActionID()
	}

	return action.Event{
		ActionID:        actionID,
		UserID:          p.UserID,
		PlaceCategory:   p.PlaceCategory,
		PlaceID:         p.PlaceID,
		ActionType:      p.ActionType,
		ActionValue:     p.ActionValue,
		ActionDetail:    p.ActionDetail,
		SessionID:       p.SessionID,
		Timestamp:       ts,
		Client:          p.Client,
		ServerTimestamp: now,
		RequestID:       meta.RequestID,
		ClientIP:        meta.ClientIP,
	}
}

// Submit routes each event to the immediate or buffered path.
func (a *Adapter) Submit(ctx context.Context, events []action.Event) []Ack {
	acks := make([]Ack, 0, len(events))
	for _, ev := range events {
		ack := Ack{ActionID: ev.ActionID, ActionType: ev.ActionType, Processed: true}

		if a.IsImmediate(ev.ActionType) {
			res := a.svc.SendImmediately(ctx, ev)
			ack.ProcessingResult = ProcessingResult{Path: PathImmediate, Immediate: &res}
			ack.Processed = res.Immediate || (res.Buffer != nil && res.Buffer.Buffered)
		} else {
			res := a.svc.AddToBuffer(ctx, ev)
			ack.ProcessingResult = ProcessingResult{Path: PathBuffered, Buffered: &res}
			ack.Processed = res.Buffered
		}
		acks = append(acks, ack)
	}
	return acks
}

// IngestJSON runs the full pipeline for one request body.
func (a *Adapter) IngestJSON(ctx context.Context, body []byte, meta RequestMeta) (*Response, error) {
	payloads, err := a.ParseRequest(body)
	if err != nil {
		return nil, err
	}
	events, err := a.Prepare(payloads, meta)
	if err != nil {
		a.logger.Debug("rejected action request",
			"request_id", meta.RequestID,
			"actions", len(payloads),
			"error", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingest canceled: %w", err)
	}

	acks := a.Submit(ctx, events)
	resp := &Response{Success: true, Results: acks}
	for _, ack := range acks {
		if ack.Processed {
			resp.ActionsProcessed++
		}
	}
	resp.Success = resp.ActionsProcessed == len(acks)

	a.logger.Debug("ingested actions",
		"request_id", meta.RequestID,
		"actions", len(acks),
		"processed", resp.ActionsProcessed)
	return resp, nil
}

func bodyError(reason string) error {
	return &ValidationFailure{Errors: []*apperrors.ValidationError{
		{Index: -1, Field: "body", Reason: reason},
	}}
}
