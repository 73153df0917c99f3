package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.ObjectStore = (*FileStore)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
	// CreateBasePath creates the base directory on startup when missing.
	CreateBasePath bool
}

// FileStore implements storage.ObjectStore on the local filesystem.
// Keys map to paths below BasePath; objects are written to a temp file and
// renamed into place so readers never see partial batches.
type FileStore struct {
	basePath string
	logger   *slog.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewFileStore creates a new filesystem object store.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("file base path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CreateBasePath {
		if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create base path: %w", err)
		}
	}

	logger.Info("filesystem store created", "base_path", cfg.BasePath)

	return &FileStore{
		basePath: cfg.BasePath,
		logger:   logger.With("component", "file-store"),
	}, nil
}

// Name returns the backend name.
func (s *FileStore) Name() string { return "file" }

// Put writes body to BasePath/key.
func (s *FileStore) Put(ctx context.Context, key string, body []byte, meta storage.ObjectMeta) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return apperrors.Classify(apperrors.KindUnknown, s.Name(), "put", key, apperrors.ErrStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Classify(apperrors.KindOf(err), s.Name(), "put", key, err)
	}

	if _, err := os.Stat(s.basePath); err != nil {
		return apperrors.Classify(classifyFileError(err), s.Name(), "stat", key, err)
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return apperrors.Classify(classifyFileError(err), s.Name(), "mkdir", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return apperrors.Classify(classifyFileError(err), s.Name(), "create", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.Classify(classifyFileError(err), s.Name(), "write", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.Classify(classifyFileError(err), s.Name(), "close", key, err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return apperrors.Classify(classifyFileError(err), s.Name(), "rename", key, err)
	}

	s.logger.Debug("wrote object",
		"path", fullPath,
		"size_bytes", len(body),
		"content_type", meta.ContentType,
		"content_encoding", meta.ContentEncoding,
	)
	return nil
}

// Close marks the store closed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.logger.Info("closing filesystem store")
	return nil
}

func classifyFileError(err error) apperrors.Kind {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return apperrors.KindTargetMissing
	case errors.Is(err, fs.ErrPermission):
		return apperrors.KindAccessDenied
	case apperrors.IsTransientNetwork(err):
		return apperrors.KindTransientNetwork
	default:
		return apperrors.KindUnknown
	}
}
