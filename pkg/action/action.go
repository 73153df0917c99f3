// Package action defines the user-action event model shared by ingestion,
// buffering and storage.
package action

import (
	"encoding/json"
	"time"
)

// RetryCeiling is the number of failed flush attempts after which a buffered
// event is permanently discarded.
const RetryCeiling = 3

// ClientInfo carries metadata reported by the client application.
type ClientInfo struct {
	UserAgent  string `json:"user_agent,omitempty"`
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
	Locale     string `json:"locale,omitempty"`
}

// Event is one user action, enriched with server-assigned fields on ingestion.
// It is treated as immutable once enriched.
type Event struct {
	ActionID      string          `json:"action_id"`
	UserID        string          `json:"user_id"`
	PlaceCategory string          `json:"place_category"`
	PlaceID       string          `json:"place_id"`
	ActionType    string          `json:"action_type"`
	ActionValue   json.RawMessage `json:"action_value,omitempty"`
	ActionDetail  json.RawMessage `json:"action_detail,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Client        ClientInfo      `json:"client,omitzero"`

	// Server-assigned enrichment
	ServerTimestamp time.Time `json:"server_timestamp"`
	RequestID       string    `json:"request_id,omitempty"`
	ClientIP        string    `json:"client_ip,omitempty"`
}

// BufferedEvent is an Event held in the in-memory buffer together with its
// retry bookkeeping.
type BufferedEvent struct {
	Event

	BufferID         string    `json:"buffer_id,omitempty"`
	BufferReceivedAt time.Time `json:"buffer_received_at,omitzero"`
	RetryCount       int       `json:"retry_count,omitempty"`
	LastRetryError   string    `json:"last_retry_error,omitempty"`

	// Set when the event was demoted from the immediate path.
	ImmediateFailed bool   `json:"immediate_failed,omitempty"`
	ImmediateError  string `json:"immediate_error,omitempty"`
}

// Age returns how long the event has been buffered at the given instant.
func (b *BufferedEvent) Age(now time.Time) time.Duration {
	if b.BufferReceivedAt.IsZero() {
		return 0
	}
	return now.Sub(b.BufferReceivedAt)
}

// ExhaustedRetries reports whether the event reached the retry ceiling.
func (b *BufferedEvent) ExhaustedRetries() bool {
	return b.RetryCount >= RetryCeiling
}

// ServerInfo identifies the process that produced a batch.
type ServerInfo struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Hostname    string `json:"hostname"`
	Backend     string `json:"backend"`
}

// Envelope is the persisted shape of one batch object.
type Envelope struct {
	BatchID         string          `json:"batch_id"`
	UploadTimestamp time.Time       `json:"upload_timestamp"`
	Count           int             `json:"count"`
	ServerInfo      ServerInfo      `json:"server_info"`
	Events          []BufferedEvent `json:"events"`
}

// Format is the storage object format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
	FormatAvro    Format = "avro"
)

// Unbuffered wraps a single event for the immediate upload path.
func Unbuffered(e Event) BufferedEvent {
	return BufferedEvent{Event: e}
}
