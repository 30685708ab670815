package repository

import (
	"context"
	"time"
)

// ObjectStorage gives decoders access to media kept in object storage.
type ObjectStorage interface {
	// GeneratePresignedDownloadURL creates a URL a decoder process can stream from.
	GeneratePresignedDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// ReadHead returns up to n leading bytes of an object.
	// Returns ErrObjectNotFound when the object does not exist.
	ReadHead(ctx context.Context, key string, n int) ([]byte, error)

	// Exists checks if an object exists in the storage.
	Exists(ctx context.Context, key string) (bool, error)

	// Bucket returns the bucket media objects are read from.
	Bucket() string
}
