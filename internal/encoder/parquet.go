package encoder

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jittakal/actionstore/pkg/action"
	"github.com/jittakal/actionstore/pkg/encoder"
	"github.com/parquet-go/parquet-go"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

// ActionParquet is the flattened Parquet row for one buffered action.
// Batch metadata is repeated on every row so files stay self-describing for
// Athena and Hive.
type ActionParquet struct {
	// Batch metadata
	BatchID         string    `parquet:"batch_id,dict"`
	UploadTimestamp time.Time `parquet:"upload_timestamp,timestamp(millisecond)"`
	Service         string    `parquet:"service,dict"`
	Hostname        string    `parquet:"hostname,dict"`

	// Action fields
	ActionID      string    `parquet:"action_id"`
	UserID        string    `parquet:"user_id,dict"`
	PlaceCategory string    `parquet:"place_category,dict"`
	PlaceID       string    `parquet:"place_id,dict"`
	ActionType    string    `parquet:"action_type,dict"`
	ActionValue   *string   `parquet:"action_value,optional"`
	ActionDetail  *string   `parquet:"action_detail,optional"`
	SessionID     *string   `parquet:"session_id,optional"`
	Timestamp     time.Time `parquet:"timestamp,timestamp(millisecond)"`

	// Client metadata
	UserAgent  *string `parquet:"user_agent,dict,optional"`
	Platform   *string `parquet:"platform,dict,optional"`
	AppVersion *string `parquet:"app_version,dict,optional"`
	Locale     *string `parquet:"locale,dict,optional"`

	// Server enrichment
	ServerTimestamp time.Time `parquet:"server_timestamp,timestamp(millisecond)"`
	RequestID       *string   `parquet:"request_id,optional"`
	ClientIP        *string   `parquet:"client_ip,optional"`

	// Buffer bookkeeping
	BufferID        *string `parquet:"buffer_id,optional"`
	RetryCount      int32   `parquet:"retry_count"`
	ImmediateFailed bool    `parquet:"immediate_failed"`
}

// ParquetEncoder implements encoder.Encoder for Apache Parquet columnar format.
// Supports SNAPPY (default), GZIP, LZ4, ZSTD and uncompressed pages.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{
		compressionName: compression,
	}
}

// compressionCodec converts string compression name to parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "snappy", "SNAPPY":
		return parquet.Compression(&parquet.Snappy)
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Encode writes the envelope events as Parquet rows.
func (e *ParquetEncoder) Encode(env *action.Envelope) ([]byte, error) {
	if env == nil || len(env.Events) == 0 {
		return nil, fmt.Errorf("no events to encode")
	}

	rows := make([]ActionParquet, len(env.Events))
	for i := range env.Events {
		rows[i] = toParquetRow(env, &env.Events[i])
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[ActionParquet](
		&buf,
		compressionCodec(e.compressionName),
		parquet.CreatedBy("actionstore", "1.0", "0"),
	)

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

func toParquetRow(env *action.Envelope, ev *action.BufferedEvent) ActionParquet {
	return ActionParquet{
		BatchID:         env.BatchID,
		UploadTimestamp: env.UploadTimestamp,
		Service:         env.ServerInfo.Service,
		Hostname:        env.ServerInfo.Hostname,
		ActionID:        ev.ActionID,
		UserID:          ev.UserID,
		PlaceCategory:   ev.PlaceCategory,
		PlaceID:         ev.PlaceID,
		ActionType:      ev.ActionType,
		ActionValue:     optionalRaw(ev.ActionValue),
		ActionDetail:    optionalRaw(ev.ActionDetail),
		SessionID:       optional(ev.SessionID),
		Timestamp:       ev.Timestamp,
		UserAgent:       optional(ev.Client.UserAgent),
		Platform:        optional(ev.Client.Platform),
		AppVersion:      optional(ev.Client.AppVersion),
		Locale:          optional(ev.Client.Locale),
		ServerTimestamp: ev.ServerTimestamp,
		RequestID:       optional(ev.RequestID),
		ClientIP:        optional(ev.ClientIP),
		BufferID:        optional(ev.BufferID),
		RetryCount:      int32(ev.RetryCount),
		ImmediateFailed: ev.ImmediateFailed,
	}
}

// Format returns the file format.
func (e *ParquetEncoder) Format() action.Format {
	return action.FormatParquet
}

// ContentType returns the MIME type.
func (e *ParquetEncoder) ContentType() string {
	return "application/vnd.apache.parquet"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalRaw(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}
