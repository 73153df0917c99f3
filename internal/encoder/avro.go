package encoder

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jittakal/actionstore/pkg/action"
	"github.com/jittakal/actionstore/pkg/encoder"
	"github.com/linkedin/goavro/v2"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder implements encoder.Encoder for Apache Avro Object Container
// Files. Block compression is handled by the OCF writer.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder with specified compression.
// Accepted codecs are "null", "deflate" and "snappy"; "gzip" maps to deflate.
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(avroSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		codec:       codec,
		compression: ocfCompression(compression),
	}, nil
}

func ocfCompression(name string) string {
	switch name {
	case "deflate", "DEFLATE", "gzip", "GZIP":
		return goavro.CompressionDeflateLabel
	case "snappy", "SNAPPY":
		return goavro.CompressionSnappyLabel
	default:
		return goavro.CompressionNullLabel
	}
}

// avroSchema returns the Avro schema for stored actions.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "StoredAction",
		"namespace": "com.actionstore",
		"fields": [
			{"name": "batch_id", "type": "string"},
			{"name": "upload_timestamp", "type": "string"},
			{"name": "service", "type": "string"},
			{"name": "hostname", "type": "string"},
			{"name": "action_id", "type": "string"},
			{"name": "user_id", "type": "string"},
			{"name": "place_category", "type": "string"},
			{"name": "place_id", "type": "string"},
			{"name": "action_type", "type": "string"},
			{"name": "action_value", "type": ["null", "string"], "default": null},
			{"name": "action_detail", "type": ["null", "string"], "default": null},
			{"name": "session_id", "type": ["null", "string"], "default": null},
			{"name": "timestamp", "type": "string"},
			{"name": "user_agent", "type": ["null", "string"], "default": null},
			{"name": "platform", "type": ["null", "string"], "default": null},
			{"name": "app_version", "type": ["null", "string"], "default": null},
			{"name": "locale", "type": ["null", "string"], "default": null},
			{"name": "server_timestamp", "type": "string"},
			{"name": "request_id", "type": ["null", "string"], "default": null},
			{"name": "client_ip", "type": ["null", "string"], "default": null},
			{"name": "buffer_id", "type": ["null", "string"], "default": null},
			{"name": "retry_count", "type": "int"},
			{"name": "immediate_failed", "type": "boolean"}
		]
	}`
}

// Encode writes the envelope events as one OCF.
func (e *AvroEncoder) Encode(env *action.Envelope) ([]byte, error) {
	if env == nil || len(env.Events) == 0 {
		return nil, fmt.Errorf("no events to encode")
	}

	var buf bytes.Buffer
	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               &buf,
		Codec:           e.codec,
		CompressionName: e.compression,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF writer: %w", err)
	}

	records := make([]interface{}, 0, len(env.Events))
	for i := range env.Events {
		records = append(records, e.convertToAvroMap(env, &env.Events[i]))
	}
	if err := ocfWriter.Append(records); err != nil {
		return nil, fmt.Errorf("failed to write records: %w", err)
	}

	return buf.Bytes(), nil
}

// convertToAvroMap converts one event to its Avro map representation.
func (e *AvroEncoder) convertToAvroMap(env *action.Envelope, ev *action.BufferedEvent) map[string]interface{} {
	return map[string]interface{}{
		"batch_id":         env.BatchID,
		"upload_timestamp": env.UploadTimestamp.Format(time.RFC3339Nano),
		"service":          env.ServerInfo.Service,
		"hostname":         env.ServerInfo.Hostname,
		"action_id":        ev.ActionID,
		"user_id":          ev.UserID,
		"place_category":   ev.PlaceCategory,
		"place_id":         ev.PlaceID,
		"action_type":      ev.ActionType,
		"action_value":     avroOptional(string(ev.ActionValue)),
		"action_detail":    avroOptional(string(ev.ActionDetail)),
		"session_id":       avroOptional(ev.SessionID),
		"timestamp":        ev.Timestamp.Format(time.RFC3339Nano),
		"user_agent":       avroOptional(ev.Client.UserAgent),
		"platform":         avroOptional(ev.Client.Platform),
		"app_version":      avroOptional(ev.Client.AppVersion),
		"locale":           avroOptional(ev.Client.Locale),
		"server_timestamp": ev.ServerTimestamp.Format(time.RFC3339Nano),
		"request_id":       avroOptional(ev.RequestID),
		"client_ip":        avroOptional(ev.ClientIP),
		"buffer_id":        avroOptional(ev.BufferID),
		"retry_count":      int32(ev.RetryCount),
		"immediate_failed": ev.ImmediateFailed,
	}
}

// avroOptional uses goavro.Union for nullable fields.
func avroOptional(s string) interface{} {
	if s == "" {
		return nil
	}
	return goavro.Union("string", s)
}

// Format returns the file format.
func (e *AvroEncoder) Format() action.Format {
	return action.FormatAvro
}

// ContentType returns the MIME type.
func (e *AvroEncoder) ContentType() string {
	return "application/avro"
}
