package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
	"github.com/hszk-dev/mediacache/internal/reader"
)

// touchPreserve is how far into the future a preserving touch pushes a
// reader's last access, keeping it clear of the next prune.
const touchPreserve = 10 * time.Second

// ReaderOpener opens SourceReaders. reader.Factory is the production
// implementation.
type ReaderOpener interface {
	Open(ctx context.Context, key string, frame model.FrameIdentity) (*reader.SourceReader, error)
	Close()
}

var _ ReaderOpener = (*reader.Factory)(nil)

// DirectoryConfig holds configuration for ReaderDirectory.
type DirectoryConfig struct {
	// MaxSourceCount is the number of readers kept open before the least
	// recently used are closed.
	MaxSourceCount int
	// MaxSourceAge closes readers idle for longer than this.
	MaxSourceAge time.Duration
}

// DefaultDirectoryConfig returns the default configuration.
func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		MaxSourceCount: 256,
		MaxSourceAge:   600 * time.Second,
	}
}

type readerEntry struct {
	reader     *reader.SourceReader
	lastAccess time.Time
}

// ReaderDirectory tracks the open SourceReaders, one per reader key.
type ReaderDirectory struct {
	opener   ReaderOpener
	creating singleflight.Group
	now      func() time.Time

	mu       sync.Mutex
	readers  map[string]*readerEntry
	maxCount int
	maxAge   time.Duration
}

// NewReaderDirectory creates a new ReaderDirectory.
func NewReaderDirectory(opener ReaderOpener, cfg DirectoryConfig) *ReaderDirectory {
	return &ReaderDirectory{
		opener:   opener,
		now:      time.Now,
		readers:  make(map[string]*readerEntry),
		maxCount: cfg.MaxSourceCount,
		maxAge:   cfg.MaxSourceAge,
	}
}

// ReaderKey is the directory key for frame. The blank source is keyed by URI
// since an owner may still be waiting for its real media. Otherwise frames
// sharing an owner share a reader.
func ReaderKey(frame model.FrameIdentity) string {
	if frame.IsBlank() {
		return frame.URI
	}
	if frame.OwnerID != uuid.Nil {
		return frame.OwnerID.String()
	}
	return frame.URI
}

// Lookup returns the reader for key and refreshes its last access.
func (d *ReaderDirectory) Lookup(key string) (*reader.SourceReader, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.readers[key]
	if !ok {
		return nil, false
	}
	d.touchLocked(e, false)
	return e.reader, true
}

// GetOrCreate returns the reader for frame, opening one when none exists.
// Concurrent creations for the same key share one Open.
func (d *ReaderDirectory) GetOrCreate(ctx context.Context, frame model.FrameIdentity) (*reader.SourceReader, error) {
	key := ReaderKey(frame)
	if r, ok := d.Lookup(key); ok {
		return r, nil
	}

	v, err, _ := d.creating.Do(key, func() (any, error) {
		if r, ok := d.Lookup(key); ok {
			return r, nil
		}

		r, err := d.opener.Open(context.WithoutCancel(ctx), key, frame)
		if err != nil {
			metrics.ReaderEventsTotal.WithLabelValues(metrics.ReaderCreateFailed).Inc()
			slog.Warn("failed to open reader",
				"key", key,
				"uri", frame.URI,
				"error", err,
			)
			return nil, err
		}

		// The caller is about to read from r, so it must not be the first
		// reader the prune below picks.
		r = d.Add(key, r, true)
		d.Prune()
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*reader.SourceReader), nil
}

// Add registers r under key with its last access stamped as Touch would.
// When key is already taken, r is closed and the existing reader is returned
// instead.
func (d *ReaderDirectory) Add(key string, r *reader.SourceReader, preserve bool) *reader.SourceReader {
	d.mu.Lock()
	if e, ok := d.readers[key]; ok {
		d.touchLocked(e, preserve)
		d.mu.Unlock()

		metrics.ReaderEventsTotal.WithLabelValues(metrics.ReaderDuplicate).Inc()
		go closeReader(r)
		return e.reader
	}
	e := &readerEntry{reader: r}
	d.touchLocked(e, preserve)
	d.readers[key] = e
	d.mu.Unlock()

	metrics.ReaderEventsTotal.WithLabelValues(metrics.ReaderCreated).Inc()
	metrics.ReadersOpen.Inc()
	slog.Info("reader opened", "key", key, "uri", r.URI(), "plugin", r.Plugin().Name())
	return r
}

// Touch refreshes the last access of the reader for key. A preserving touch
// sets it slightly into the future.
func (d *ReaderDirectory) Touch(key string, preserve bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.readers[key]; ok {
		d.touchLocked(e, preserve)
	}
}

func (d *ReaderDirectory) touchLocked(e *readerEntry, preserve bool) {
	t := d.now()
	if preserve {
		t = t.Add(touchPreserve)
	}
	// Lookups must not cut short a preserve window.
	if t.After(e.lastAccess) {
		e.lastAccess = t
	}
}

// Prune closes readers idle for longer than the maximum age, then the least
// recently used ones while more than the maximum count are open.
// Returns the number of readers closed.
func (d *ReaderDirectory) Prune() int {
	d.mu.Lock()
	now := d.now()
	var removed []*reader.SourceReader

	for key, e := range d.readers {
		if now.Sub(e.lastAccess) > d.maxAge {
			delete(d.readers, key)
			removed = append(removed, e.reader)
			metrics.ReaderEventsTotal.WithLabelValues(metrics.ReaderPrunedAge).Inc()
		}
	}

	for len(d.readers) > d.maxCount {
		var oldestKey string
		var oldest *readerEntry
		for key, e := range d.readers {
			if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
				oldestKey, oldest = key, e
			}
		}
		delete(d.readers, oldestKey)
		removed = append(removed, oldest.reader)
		metrics.ReaderEventsTotal.WithLabelValues(metrics.ReaderPrunedCount).Inc()
	}
	d.mu.Unlock()

	for _, r := range removed {
		slog.Info("reader pruned", "key", r.Key(), "uri", r.URI())
		metrics.ReadersOpen.Dec()
		go closeReader(r)
	}
	return len(removed)
}

// Retire closes the reader for key. Returns false when there was none.
func (d *ReaderDirectory) Retire(key string) bool {
	d.mu.Lock()
	e, ok := d.readers[key]
	if ok {
		delete(d.readers, key)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	metrics.ReaderEventsTotal.WithLabelValues(metrics.ReaderRetired).Inc()
	metrics.ReadersOpen.Dec()
	go closeReader(e.reader)
	return true
}

// SetLimits replaces the pruning limits. Call Prune to apply them.
func (d *ReaderDirectory) SetLimits(maxCount int, maxAge time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if maxCount > 0 {
		d.maxCount = maxCount
	}
	if maxAge > 0 {
		d.maxAge = maxAge
	}
}

// Limits returns the current pruning limits.
func (d *ReaderDirectory) Limits() (int, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxCount, d.maxAge
}

// Len returns the number of open readers.
func (d *ReaderDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.readers)
}

// CloseAll closes every reader and waits for them to stop.
func (d *ReaderDirectory) CloseAll() {
	d.mu.Lock()
	readers := d.readers
	d.readers = make(map[string]*readerEntry)
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range readers {
		metrics.ReadersOpen.Dec()
		wg.Add(1)
		go func() {
			defer wg.Done()
			closeReader(e.reader)
		}()
	}
	wg.Wait()
}

// closeReader may block until the reader's current decodes finish.
func closeReader(r *reader.SourceReader) {
	if err := r.Close(); err != nil {
		slog.Warn("failed to close reader", "key", r.Key(), "error", err)
	}
}
