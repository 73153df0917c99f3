package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	apperrors "github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.ObjectStore = (*AzureStore)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

// AzureStore implements storage.ObjectStore for Azure Blob Storage.
type AzureStore struct {
	client        *azblob.Client
	containerName string
	logger        *slog.Logger
}

// NewAzureStore creates a new Azure Blob object store.
func NewAzureStore(cfg AzureConfig, logger *slog.Logger) (*AzureStore, error) {
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure container is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var connectionString string
	if cfg.Endpoint != "" {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	} else {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
			cfg.AccountName, cfg.AccountKey)
	}

	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger.Info("Azure store created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
	)

	return &AzureStore{
		client:        client,
		containerName: cfg.ContainerName,
		logger:        logger.With("component", "azure-store"),
	}, nil
}

// Name returns the backend name.
func (s *AzureStore) Name() string { return "azure" }

// Put uploads body as a block blob.
func (s *AzureStore) Put(ctx context.Context, key string, body []byte, meta storage.ObjectMeta) error {
	headers := &blob.HTTPHeaders{}
	if meta.ContentType != "" {
		headers.BlobContentType = &meta.ContentType
	}
	if meta.ContentEncoding != "" {
		headers.BlobContentEncoding = &meta.ContentEncoding
	}

	_, err := s.client.UploadBuffer(ctx, s.containerName, key, body, &azblob.UploadBufferOptions{
		HTTPHeaders: headers,
	})
	if err != nil {
		return apperrors.Classify(classifyAzureError(err), s.Name(), "put", key, err)
	}

	s.logger.Debug("uploaded blob", "container", s.containerName, "blob", key)
	return nil
}

// Close closes the Azure store.
func (s *AzureStore) Close() error {
	s.logger.Info("Azure store closed")
	return nil
}

func classifyAzureError(err error) apperrors.Kind {
	switch {
	case bloberror.HasCode(err, bloberror.ContainerNotFound, bloberror.ContainerBeingDeleted, bloberror.ResourceNotFound):
		return apperrors.KindTargetMissing
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.AuthorizationFailure,
		bloberror.AuthorizationPermissionMismatch, bloberror.InsufficientAccountPermissions, bloberror.AccountIsDisabled):
		return apperrors.KindAccessDenied
	case bloberror.HasCode(err, bloberror.ServerBusy, bloberror.OperationTimedOut, bloberror.InternalError):
		return apperrors.KindTransientNetwork
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if kind, ok := classifyHTTPStatus(respErr.StatusCode); ok {
			return kind
		}
	}
	if apperrors.IsTransientNetwork(err) {
		return apperrors.KindTransientNetwork
	}
	return apperrors.KindUnknown
}
