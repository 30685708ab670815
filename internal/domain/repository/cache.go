package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

// FrameCache is the contract of the image and audio caches that hold decoded
// buffers. Implementations own their storage and eviction; callers only use
// these operations.
type FrameCache interface {
	// Retrieve returns the buffer for key, or nil, nil on a miss.
	Retrieve(ctx context.Context, key model.MediaKey) (*model.DecodedBuffer, error)

	// RetrieveMany returns one entry per key, nil where the cache has nothing.
	RetrieveMany(ctx context.Context, keys []model.MediaKey) ([]*model.DecodedBuffer, error)

	// Store inserts buf and keeps it at least until expiry on behalf of requester.
	// Returns false when the cache could not make room.
	Store(ctx context.Context, key model.MediaKey, buf *model.DecodedBuffer, expiry time.Time, requester uuid.UUID) (bool, error)

	// StoreWithThreshold is Store for background caching: entries belonging to
	// requester that are needed before threshold may be evicted to make room.
	StoreWithThreshold(ctx context.Context, key model.MediaKey, buf *model.DecodedBuffer, requiredBy time.Time, requester uuid.UUID, threshold time.Time) (bool, error)

	// Preserve marks key as needed by requester at requiredBy.
	// Returns true when the cache already holds key.
	Preserve(ctx context.Context, key model.MediaKey, requiredBy time.Time, requester uuid.UUID) (bool, error)

	// PreserveMany preserves every frame the cache holds and returns the
	// frames it does not hold, in input order.
	PreserveMany(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) ([]model.TimedFrame, error)

	// Unpreserve marks every entry preserved for requester as stale.
	Unpreserve(ctx context.Context, requester uuid.UUID) error
}
