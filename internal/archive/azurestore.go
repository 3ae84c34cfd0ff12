package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureBlobStore writes archive blobs to an Azure Blob Storage container.
type AzureBlobStore struct {
	Container string
	client    *azblob.Client
}

// NewAzureBlobStore builds an AzureBlobStore from a storage account
// connection string.
func NewAzureBlobStore(connectionString, container string) (*AzureBlobStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: open azure blob client: %w", err)
	}
	return &AzureBlobStore{Container: container, client: client}, nil
}

func (s *AzureBlobStore) Put(ctx context.Context, key string, r io.Reader) error {
	if _, err := s.client.UploadStream(ctx, s.Container, key, r, nil); err != nil {
		return fmt.Errorf("archive: azure upload %s/%s: %w", s.Container, key, err)
	}
	return nil
}
