package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// GCSProvider implements the archive.Provider interface for Google Cloud
// Storage.
type GCSProvider struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCSProvider initializes a GCS client and verifies the bucket is
// reachable, failing fast on startup if the configuration is wrong.
// Authentication is handled via Application Default Credentials.
func NewGCSProvider(ctx context.Context, bucketName string, logger *zap.Logger) (*GCSProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}

	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close GCS client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get GCS bucket %q attributes: %w", bucketName, err)
	}

	return &GCSProvider{client: client, bucket: bucketName, logger: logger}, nil
}

// Save uploads the document to the configured bucket.
func (g *GCSProvider) Save(ctx context.Context, objectName string, data []byte) error {
	wc := g.client.Bucket(g.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = "text/plain; charset=utf-8"

	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			g.logger.Warn("close GCS writer after write failure", zap.Error(closeErr))
		}
		return fmt.Errorf("write GCS object %s: %w", objectName, err)
	}
	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close GCS writer for object %s: %w", objectName, err)
	}
	return nil
}
