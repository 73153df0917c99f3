package storage

import (
	"bytes"
	"compress/gzip"

	apperrors "github.com/jittakal/actionstore/internal/errors"
)

// Compressor turns a serialized body into its compressed form.
type Compressor func([]byte) ([]byte, error)

// gzipBytes compresses data with gzip at the default level.
func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, &apperrors.CompressionError{Codec: "gzip", Err: err}
	}
	if err := zw.Close(); err != nil {
		return nil, &apperrors.CompressionError{Codec: "gzip", Err: err}
	}
	return buf.Bytes(), nil
}
