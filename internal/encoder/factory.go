// Package encoder implements encoder factory for creating object encoders.
package encoder

import (
	"fmt"

	"github.com/jittakal/actionstore/pkg/action"
	"github.com/jittakal/actionstore/pkg/encoder"
)

// Factory creates encoders based on format and configuration.
type Factory struct {
	format      action.Format
	compression string
}

// NewFactory creates a new encoder factory.
func NewFactory(format action.Format, compression string) *Factory {
	return &Factory{
		format:      format,
		compression: compression,
	}
}

// CreateEncoder creates an encoder based on the configured format.
func (f *Factory) CreateEncoder() (encoder.Encoder, error) {
	switch f.format {
	case action.FormatJSON, "":
		return NewJSONEncoder(), nil
	case action.FormatParquet:
		return NewParquetEncoder(f.compression), nil
	case action.FormatAvro:
		return NewAvroEncoder(f.compression)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", f.format)
	}
}

// SupportedFormats returns a list of supported formats.
func SupportedFormats() []action.Format {
	return []action.Format{
		action.FormatJSON,
		action.FormatParquet,
		action.FormatAvro,
	}
}

// SupportedCompressions returns supported compression codecs for a given format.
// JSON bodies are gzip-compressed by the uploader.
func SupportedCompressions(format action.Format) []string {
	switch format {
	case action.FormatJSON:
		return []string{"uncompressed", "gzip"}
	case action.FormatParquet:
		return []string{"uncompressed", "snappy", "gzip", "lz4", "zstd"}
	case action.FormatAvro:
		return []string{"null", "deflate", "snappy"}
	default:
		return []string{}
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(format action.Format) string {
	switch format {
	case action.FormatJSON:
		return "gzip"
	case action.FormatParquet:
		return "snappy"
	case action.FormatAvro:
		return "deflate"
	default:
		return "uncompressed"
	}
}
