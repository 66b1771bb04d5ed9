package storage

import "context"

// BlobStore is the durable object-storage capability consumed by the
// upload pipeline.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}
