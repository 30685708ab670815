package cache

import (
	"context"
	"time"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

// DetailStore is a shared cache of resolved media detail, consulted before
// probing a file. Implementations handle serialization transparently.
type DetailStore interface {
	// Get returns the detail cached for uri.
	// Returns nil, nil on a cache miss.
	Get(ctx context.Context, uri string) (*model.MediaDetail, error)

	// Set stores detail under its URI with the specified TTL.
	Set(ctx context.Context, detail *model.MediaDetail, ttl time.Duration) error

	// Delete removes the detail for uri.
	// Returns nil if nothing was cached.
	Delete(ctx context.Context, uri string) error
}
