// Package objectstore holds the blob storage capability used for raw uploads
// and transcoded derivatives.
package objectstore

import (
	"context"
	"io"
)

// Store reads and writes opaque blobs by key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// GetRange returns bytes [start, end] inclusive. end < 0 reads to the end of the object.
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
	Size(ctx context.Context, key string) (int64, error)
}
