// Package validator provides action payload validation and normalization.
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/pkg/action"
)

// Field limits.
const (
	MaxIDLen       = 128
	MaxCategoryLen = 64
	MaxTypeLen     = 64
	MaxPayloadLen  = 16 * 1024
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1_000_000_000_000

// ActionPayload is the wire shape of one submitted action.
type ActionPayload struct {
	ActionID      string            `json:"action_id,omitempty"`
	UserID        string            `json:"user_id"`
	PlaceCategory string            `json:"place_category"`
	PlaceID       string            `json:"place_id"`
	ActionType    string            `json:"action_type"`
	ActionValue   json.RawMessage   `json:"action_value,omitempty"`
	ActionDetail  json.RawMessage   `json:"action_detail,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	Timestamp     json.RawMessage   `json:"timestamp,omitempty"`
	Client        action.ClientInfo `json:"client,omitzero"`

	// Flat client fields accepted for older clients.
	UserAgent  string `json:"user_agent,omitempty"`
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}

// ActionValidator checks and normalizes action payloads.
type ActionValidator struct{}

// NewActionValidator creates a new action validator.
func NewActionValidator() *ActionValidator {
	return &ActionValidator{}
}

// Normalize trims every string field and lower-cases place_category and
// action_type. Flat client fields are folded into Client.
func (v *ActionValidator) Normalize(p *ActionPayload) {
	p.ActionID = strings.TrimSpace(p.ActionID)
	p.UserID = strings.TrimSpace(p.UserID)
	p.PlaceCategory = strings.ToLower(strings.TrimSpace(p.PlaceCategory))
	p.PlaceID = strings.TrimSpace(p.PlaceID)
	p.ActionType = strings.ToLower(strings.TrimSpace(p.ActionType))
	p.SessionID = strings.TrimSpace(p.SessionID)

	p.Client.UserAgent = strings.TrimSpace(firstNonEmpty(p.Client.UserAgent, p.UserAgent))
	p.Client.Platform = strings.TrimSpace(firstNonEmpty(p.Client.Platform, p.Platform))
	p.Client.AppVersion = strings.TrimSpace(firstNonEmpty(p.Client.AppVersion, p.AppVersion))
	p.Client.Locale = strings.TrimSpace(p.Client.Locale)
	p.UserAgent, p.Platform, p.AppVersion = "", "", ""

	p.ActionValue = trimRaw(p.ActionValue)
	p.ActionDetail = trimRaw(p.ActionDetail)
}

// Validate reports every problem found in a normalized payload. index is the
// position of the payload in its request.
func (v *ActionValidator) Validate(p *ActionPayload, index int) []*errors.ValidationError {
	var errs []*errors.ValidationError
	add := func(field, reason string) {
		errs = append(errs, &errors.ValidationError{Index: index, Field: field, Reason: reason})
	}

	required := []struct {
		field string
		value string
		max   int
	}{
		{"user_id", p.UserID, MaxIDLen},
		{"place_category", p.PlaceCategory, MaxCategoryLen},
		{"place_id", p.PlaceID, MaxIDLen},
		{"action_type", p.ActionType, MaxTypeLen},
	}
	for _, r := range required {
		switch {
		case r.value == "":
			add(r.field, "required field is missing")
		case len(r.value) > r.max:
			add(r.field, fmt.Sprintf("max length %d", r.max))
		}
	}

	if len(p.ActionID) > MaxIDLen {
		add("action_id", fmt.Sprintf("max length %d", MaxIDLen))
	}
	if len(p.SessionID) > MaxIDLen {
		add("session_id", fmt.Sprintf("max length %d", MaxIDLen))
	}
	if len(p.ActionValue) > MaxPayloadLen {
		add("action_value", fmt.Sprintf("max size %d bytes", MaxPayloadLen))
	}
	if len(p.ActionDetail) > MaxPayloadLen {
		add("action_detail", fmt.Sprintf("max size %d bytes", MaxPayloadLen))
	}
	if _, err := ParseTimestamp(p.Timestamp, time.Time{}); err != nil {
		add("timestamp", err.Error())
	}

	return errs
}

// ParseTimestamp accepts an RFC 3339 string, epoch milliseconds or epoch
// seconds (as a number or numeric string). A missing or null timestamp
// yields fallback.
func ParseTimestamp(raw json.RawMessage, fallback time.Time) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fallback, nil
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp string")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return fallback, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), nil
		}
	} else {
		s = string(raw)
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("must be RFC 3339 or epoch milliseconds")
	}
	if n < epochMillisThreshold {
		return time.UnixMilli(int64(n * 1000)).UTC(), nil
	}
	return time.UnixMilli(int64(n)).UTC(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func trimRaw(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return raw
}
