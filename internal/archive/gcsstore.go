package archive

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore writes archive blobs to a Google Cloud Storage bucket.
type GCSStore struct {
	Bucket string
	client *storage.Client
}

// NewGCSStore builds a GCSStore using application-default credentials.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: open GCS client: %w", err)
	}
	return &GCSStore{Bucket: bucket, client: client}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader) error {
	w := s.client.Bucket(s.Bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("archive: gcs write %s/%s: %w", s.Bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: gcs finalize %s/%s: %w", s.Bucket, key, err)
	}
	return nil
}
