package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

type frameEntry struct {
	key    model.MediaKey
	buf    *model.DecodedBuffer
	size   int64
	expiry time.Time
	// preservedBy holds, per requester, the time the entry is needed until.
	preservedBy map[uuid.UUID]time.Time
	elem        *list.Element
}

func (e *frameEntry) preserved(now time.Time) bool {
	for _, until := range e.preservedBy {
		if until.After(now) {
			return true
		}
	}
	return false
}

// MemoryFrameCache is an in-process FrameCache bounded by a byte budget.
//
// Entries are only evicted to make room for a store. Eviction order is
// expired unpreserved entries, then (for threshold stores) the storing
// requester's entries needed before the threshold, then the least recently
// used unpreserved entries.
type MemoryFrameCache struct {
	kind     model.MediaKind
	maxBytes int64
	now      func() time.Time

	mu      sync.Mutex
	entries map[model.MediaKey]*frameEntry
	lru     *list.List // front is most recently used
	used    int64
}

var _ repository.FrameCache = (*MemoryFrameCache)(nil)

// NewMemoryFrameCache creates a cache for frames of kind holding at most
// maxBytes of buffers.
func NewMemoryFrameCache(kind model.MediaKind, maxBytes int64) *MemoryFrameCache {
	return &MemoryFrameCache{
		kind:     kind,
		maxBytes: maxBytes,
		now:      time.Now,
		entries:  make(map[model.MediaKey]*frameEntry),
		lru:      list.New(),
	}
}

func (c *MemoryFrameCache) Retrieve(_ context.Context, key model.MediaKey) (*model.DecodedBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		metrics.FrameCacheLookupsTotal.WithLabelValues(c.kind.String(), metrics.LookupMiss).Inc()
		return nil, nil
	}
	c.lru.MoveToFront(e.elem)
	metrics.FrameCacheLookupsTotal.WithLabelValues(c.kind.String(), metrics.LookupHit).Inc()
	return e.buf, nil
}

func (c *MemoryFrameCache) RetrieveMany(ctx context.Context, keys []model.MediaKey) ([]*model.DecodedBuffer, error) {
	out := make([]*model.DecodedBuffer, len(keys))
	for i, key := range keys {
		buf, err := c.Retrieve(ctx, key)
		if err != nil {
			return nil, err
		}
		out[i] = buf
	}
	return out, nil
}

func (c *MemoryFrameCache) Store(_ context.Context, key model.MediaKey, buf *model.DecodedBuffer, expiry time.Time, requester uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeLocked(key, buf, expiry, requester, nil), nil
}

func (c *MemoryFrameCache) StoreWithThreshold(_ context.Context, key model.MediaKey, buf *model.DecodedBuffer, requiredBy time.Time, requester uuid.UUID, threshold time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expendable := func(e *frameEntry) bool {
		until, ok := e.preservedBy[requester]
		return ok && until.Before(threshold)
	}
	return c.storeLocked(key, buf, requiredBy, requester, expendable), nil
}

func (c *MemoryFrameCache) storeLocked(key model.MediaKey, buf *model.DecodedBuffer, expiry time.Time, requester uuid.UUID, expendable func(*frameEntry) bool) bool {
	now := c.now()
	size := buf.Size()

	if e, ok := c.entries[key]; ok {
		c.used -= e.size
		e.buf, e.size = buf, size
		if expiry.After(e.expiry) {
			e.expiry = expiry
		}
		c.preserveLocked(e, requester, expiry)
		c.lru.MoveToFront(e.elem)
		c.used += size
		c.evictLocked(now, key, expendable)
		return true
	}

	if size > c.maxBytes || !c.makeRoomLocked(now, size, key, expendable) {
		return false
	}

	e := &frameEntry{
		key:         key,
		buf:         buf,
		size:        size,
		expiry:      expiry,
		preservedBy: make(map[uuid.UUID]time.Time),
	}
	c.preserveLocked(e, requester, expiry)
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	c.used += size
	return true
}

// evictLocked trims after an in-place replacement grew the budget.
func (c *MemoryFrameCache) evictLocked(now time.Time, keep model.MediaKey, expendable func(*frameEntry) bool) {
	if c.used > c.maxBytes {
		c.makeRoomLocked(now, 0, keep, expendable)
	}
}

// makeRoomLocked evicts until size more bytes fit. Returns false, without
// evicting anything, when that is impossible.
func (c *MemoryFrameCache) makeRoomLocked(now time.Time, size int64, keep model.MediaKey, expendable func(*frameEntry) bool) bool {
	free := c.maxBytes - c.used
	if free >= size {
		return true
	}

	unpreserved := func(e *frameEntry) bool { return !e.preserved(now) }
	passes := []func(*frameEntry) bool{
		func(e *frameEntry) bool { return unpreserved(e) && !e.expiry.After(now) },
	}
	if expendable != nil {
		passes = append(passes, expendable)
	}
	passes = append(passes, unpreserved)

	var victims []*frameEntry
	chosen := make(map[model.MediaKey]bool)
	for _, pass := range passes {
		// Oldest first.
		for el := c.lru.Back(); el != nil && free < size; el = el.Prev() {
			e := el.Value.(*frameEntry)
			if e.key == keep || chosen[e.key] || !pass(e) {
				continue
			}
			chosen[e.key] = true
			victims = append(victims, e)
			free += e.size
		}
	}
	if free < size {
		return false
	}

	for _, e := range victims {
		c.removeLocked(e)
	}
	return true
}

func (c *MemoryFrameCache) removeLocked(e *frameEntry) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.key)
	c.used -= e.size
}

func (c *MemoryFrameCache) preserveLocked(e *frameEntry, requester uuid.UUID, until time.Time) {
	if requester == uuid.Nil {
		return
	}
	if prev, ok := e.preservedBy[requester]; !ok || until.After(prev) {
		e.preservedBy[requester] = until
	}
}

func (c *MemoryFrameCache) Preserve(_ context.Context, key model.MediaKey, requiredBy time.Time, requester uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	c.preserveLocked(e, requester, requiredBy)
	return true, nil
}

func (c *MemoryFrameCache) PreserveMany(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) ([]model.TimedFrame, error) {
	var missing []model.TimedFrame
	for _, f := range frames {
		held, err := c.Preserve(ctx, f.Frame.Key(), f.RequiredBy, requester)
		if err != nil {
			return nil, err
		}
		if !held {
			missing = append(missing, f)
		}
	}
	return missing, nil
}

func (c *MemoryFrameCache) Unpreserve(_ context.Context, requester uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		delete(e.preservedBy, requester)
	}
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryFrameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// UsedBytes returns the bytes currently accounted to cached entries.
func (c *MemoryFrameCache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}
