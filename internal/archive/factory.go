package archive

import (
	"context"
	"fmt"
)

// BackendConfig names which object store backend to build and its
// connection parameters. Exactly one of the backend-specific fields is
// consulted, chosen by Kind.
type BackendConfig struct {
	Kind   string // "s3", "gcs", or "azure"
	Bucket string // S3 bucket or GCS bucket name

	S3AccessKey string // optional static credentials; empty uses the default AWS chain
	S3SecretKey string

	AzureConnectionString string
	AzureContainer        string
}

// NewStore builds the Store named by cfg.Kind.
func NewStore(ctx context.Context, cfg BackendConfig) (Store, error) {
	switch cfg.Kind {
	case "s3":
		return NewS3Store(ctx, cfg.Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
	case "gcs":
		return NewGCSStore(ctx, cfg.Bucket)
	case "azure":
		return NewAzureBlobStore(cfg.AzureConnectionString, cfg.AzureContainer)
	case "":
		return nil, fmt.Errorf("archive: no backend kind configured")
	default:
		return nil, fmt.Errorf("archive: unknown backend kind %q", cfg.Kind)
	}
}
