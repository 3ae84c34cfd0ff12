// Package archive uploads a run's chunk logs to a remote object store at
// shutdown, so the final state of a run survives local disk loss. Upload
// is best-effort: the chunk logs on disk remain the authoritative resume
// source regardless of whether archival succeeds.
package archive

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Store is the minimal remote-object-store capability archive needs:
// write one named blob. S3Store, GCSStore, and AzureBlobStore below are
// the concrete implementations a deployment chooses between.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
}

// Codec compresses a stream before it reaches a Store, trading CPU for
// bytes on the wire.
type Codec interface {
	Name() string
	Compress(w io.Writer) (io.WriteCloser, error)
}

// GzipCodec wraps compress/gzip at the given level.
type GzipCodec struct {
	Level int
}

func (c GzipCodec) Name() string { return "gzip" }

func (c GzipCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	level := c.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return gzip.NewWriterLevel(w, level)
}

// ZstdCodec wraps klauspost/compress/zstd, offering a faster
// compress/decompress tradeoff than gzip for large archives.
type ZstdCodec struct{}

func (c ZstdCodec) Name() string { return "zstd" }

func (c ZstdCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

// Archiver compresses and uploads a run's chunk logs.
type Archiver struct {
	Store Store
	Codec Codec
}

// New builds an Archiver. A nil codec defaults to ZstdCodec.
func New(store Store, codec Codec) *Archiver {
	if codec == nil {
		codec = ZstdCodec{}
	}
	return &Archiver{Store: store, Codec: codec}
}

// ArchiveError reports which source file failed to archive.
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive: %s: %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// Put compresses r under the given key (the codec name is appended as a
// suffix) and writes it to the store.
func (a *Archiver) Put(ctx context.Context, key string, r io.Reader) error {
	pr, pw := io.Pipe()

	cw, err := a.Codec.Compress(pw)
	if err != nil {
		pw.Close()
		return fmt.Errorf("archive: build %s writer: %w", a.Codec.Name(), err)
	}

	go func() {
		_, copyErr := io.Copy(cw, r)
		closeErr := cw.Close()
		if copyErr == nil {
			copyErr = closeErr
		}
		pw.CloseWithError(copyErr)
	}()

	fullKey := key + "." + a.Codec.Name()
	if err := a.Store.Put(ctx, fullKey, pr); err != nil {
		return &ArchiveError{Path: fullKey, Err: err}
	}
	return nil
}
