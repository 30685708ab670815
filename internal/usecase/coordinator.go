package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/framequeue"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
	"github.com/hszk-dev/mediacache/internal/reader"
)

// CoordinatorConfig holds configuration for MediaCacheCoordinator.
type CoordinatorConfig struct {
	// MaxInFlight caps outstanding precache reads per requester.
	MaxInFlight int
	// CoalesceMisses shares one decode between concurrent GetImage and
	// GetAudio misses for the same frame.
	CoalesceMisses bool
	// PreserveTimeout bounds single-frame preserve and store calls in the
	// precache loop.
	PreserveTimeout time.Duration
	// PreserveListTimeout bounds the preserve-list call of PlaybackPrecache.
	PreserveListTimeout time.Duration
	// ReadTimeout bounds precache reads and reader creation.
	ReadTimeout time.Duration
	// ReadAhead is the look-ahead depth reported to playheads until
	// preferences override it.
	ReadAhead int
}

// DefaultCoordinatorConfig returns the default configuration.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxInFlight:         1,
		CoalesceMisses:      true,
		PreserveTimeout:     500 * time.Millisecond,
		PreserveListTimeout: time.Second,
		ReadTimeout:         60 * time.Second,
		ReadAhead:           8,
	}
}

// Preferences are the runtime-tunable reader settings.
type Preferences struct {
	MaxSourceCount int
	MaxSourceAge   time.Duration
	ReadAhead      int
}

// MediaCacheCoordinator is the entry point for every frame request.
//
// Reads go through the image and audio caches first. Misses are decoded by
// the SourceReader for the frame's source, opened on demand. The precache
// loop decodes queued frames ahead of playback without a waiting caller.
type MediaCacheCoordinator struct {
	images   repository.FrameCache
	audio    repository.FrameCache
	dir      *ReaderDirectory
	details  *DetailCoordinator
	notifier *StatusNotifier
	cfg      CoordinatorConfig
	now      func() time.Time

	misses singleflight.Group

	mu         sync.Mutex
	playback   *framequeue.Queue
	background *framequeue.Queue
	inFlight   framequeue.InFlight
	refs       map[uuid.UUID]time.Time
	readAhead  int
	stopped    bool

	wake      chan struct{}
	sweepWake chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewMediaCacheCoordinator creates a coordinator and starts its precache loop
// and reader sweep.
func NewMediaCacheCoordinator(
	images, audio repository.FrameCache,
	dir *ReaderDirectory,
	details *DetailCoordinator,
	notifier *StatusNotifier,
	cfg CoordinatorConfig,
) *MediaCacheCoordinator {
	c := &MediaCacheCoordinator{
		images:     images,
		audio:      audio,
		dir:        dir,
		details:    details,
		notifier:   notifier,
		cfg:        cfg,
		now:        time.Now,
		playback:   framequeue.New(),
		background: framequeue.New(),
		inFlight:   make(framequeue.InFlight),
		refs:       make(map[uuid.UUID]time.Time),
		readAhead:  cfg.ReadAhead,
		wake:       make(chan struct{}, 1),
		sweepWake:  make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	c.wg.Add(2)
	go c.precacheLoop()
	go c.sweepReaders()

	return c
}

func (c *MediaCacheCoordinator) cacheFor(kind model.MediaKind) repository.FrameCache {
	if kind == model.KindAudio {
		return c.audio
	}
	return c.images
}

// GetImage returns the decoded image for frame. Decode failures come back as
// error buffers; the error return is reserved for cache and reader pool
// failures.
func (c *MediaCacheCoordinator) GetImage(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error) {
	frame.Kind = model.KindImage
	return c.get(ctx, frame, pin, requester)
}

// GetAudio is GetImage for audio frames.
func (c *MediaCacheCoordinator) GetAudio(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error) {
	frame.Kind = model.KindAudio
	return c.get(ctx, frame, pin, requester)
}

func (c *MediaCacheCoordinator) get(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error) {
	key := frame.Key()
	cache := c.cacheFor(frame.Kind)

	// Try cache first
	buf, err := cache.Retrieve(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve %s: %w", key, err)
	}
	if buf != nil {
		return buf, nil
	}

	if !c.cfg.CoalesceMisses {
		return c.readThrough(ctx, frame, pin, requester)
	}

	// Use singleflight to share one decode between concurrent misses. The
	// shared read must outlive whichever caller started it, so each caller
	// only bounds its own wait.
	ch := c.misses.DoChan(string(key), func() (any, error) {
		return c.readThrough(context.WithoutCancel(ctx), frame, pin, requester)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
		} else {
			metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.DecodedBuffer), nil
	case <-ctx.Done():
		return nil, model.NewMediaError(model.CodeTimeout, "", ctx.Err())
	}
}

// readThrough decodes frame on its source's urgent worker. The reader stores
// the result in the cache.
func (c *MediaCacheCoordinator) readThrough(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error) {
	r, err := c.dir.GetOrCreate(ctx, frame)
	if err != nil {
		return c.readerFailed(ctx, frame, pin, requester, err)
	}
	c.dir.Touch(r.Key(), true)

	if frame.Kind == model.KindAudio {
		return r.GetAudio(ctx, frame, pin, requester)
	}
	return r.GetImage(ctx, frame, pin, requester)
}

// readerFailed turns a reader creation failure into a cached error buffer.
// Shutdown and timeouts are not about the media, so they are returned as
// errors and nothing is cached.
func (c *MediaCacheCoordinator) readerFailed(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID, err error) (*model.DecodedBuffer, error) {
	if errors.Is(err, model.ErrConnectionUnavailable) || errors.Is(err, model.ErrTimeout) {
		return nil, err
	}
	c.notifier.FrameError(frame, err)

	buf := model.NewErrorBuffer(frame, model.LoadErrorMessage(frame.URI, err))
	expiry := c.now()
	if pin {
		expiry = expiry.Add(reader.PinExpiry)
	}
	if _, serr := c.cacheFor(frame.Kind).Store(ctx, frame.Key(), buf, expiry, requester); serr != nil {
		slog.Warn("failed to cache error buffer", "key", frame.Key(), "error", serr)
	}
	return buf, nil
}

// RequestImage is the non-blocking interactive path. deliver receives the
// buffer once it is available, possibly before RequestImage returns. While
// the source's reader is being opened, requests for it wait on that open
// instead of starting their own.
func (c *MediaCacheCoordinator) RequestImage(ctx context.Context, frame model.FrameIdentity, requester uuid.UUID, deliver reader.Delivery) error {
	frame.Kind = model.KindImage

	buf, err := c.images.Retrieve(ctx, frame.Key())
	if err != nil {
		return fmt.Errorf("failed to retrieve %s: %w", frame.Key(), err)
	}
	if buf != nil {
		deliver(buf)
		return nil
	}

	if r, ok := c.dir.Lookup(ReaderKey(frame)); ok {
		return r.RequestImage(ctx, frame, requester, deliver)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return model.ErrConnectionUnavailable
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()

		openCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ReadTimeout)
		defer cancel()

		r, err := c.dir.GetOrCreate(openCtx, frame)
		if err != nil {
			buf, ferr := c.readerFailed(openCtx, frame, false, requester, err)
			if ferr != nil {
				buf = model.NewErrorBuffer(frame, model.LoadErrorMessage(frame.URI, ferr))
			}
			deliver(buf)
			return
		}
		if err := r.RequestImage(openCtx, frame, requester, deliver); err != nil {
			slog.Warn("lazy request failed", "uri", frame.URI, "error", err)
			deliver(model.NewErrorBuffer(frame, model.LoadErrorMessage(frame.URI, err)))
		}
	}()
	return nil
}

// GetFutureFrames returns whatever the caches already hold for frames, in
// order, with nil for misses. It never decodes.
func (c *MediaCacheCoordinator) GetFutureFrames(ctx context.Context, frames []model.FrameIdentity) ([]*model.DecodedBuffer, error) {
	out := make([]*model.DecodedBuffer, len(frames))

	for _, kind := range []model.MediaKind{model.KindImage, model.KindAudio} {
		var keys []model.MediaKey
		var idx []int
		for i, f := range frames {
			if f.Kind == kind || (kind == model.KindImage && f.Kind == "") {
				keys = append(keys, f.Key())
				idx = append(idx, i)
			}
		}
		if len(keys) == 0 {
			continue
		}

		bufs, err := c.cacheFor(kind).RetrieveMany(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve future %s frames: %w", kind, err)
		}
		for j, buf := range bufs {
			if j < len(idx) {
				out[idx[j]] = buf
			}
		}
	}
	return out, nil
}

// RetireReader closes the reader serving frame. Returns false when none was
// open.
func (c *MediaCacheCoordinator) RetireReader(frame model.FrameIdentity) bool {
	return c.dir.Retire(ReaderKey(frame))
}

// GetMediaDetail resolves the structural metadata of uri.
func (c *MediaCacheCoordinator) GetMediaDetail(ctx context.Context, uri string, owner uuid.UUID) (*model.MediaDetail, error) {
	return c.details.GetMediaDetail(ctx, uri, owner)
}

// GetThumbnail renders a preview of frame.
func (c *MediaCacheCoordinator) GetThumbnail(ctx context.Context, frame model.FrameIdentity, size int) (*model.ThumbnailBuffer, error) {
	return c.details.GetThumbnail(ctx, frame, size)
}

// ApplyPreferences replaces the reader limits and prunes right away. The
// periodic sweep restarts on the new max source age.
func (c *MediaCacheCoordinator) ApplyPreferences(p Preferences) {
	c.dir.SetLimits(p.MaxSourceCount, p.MaxSourceAge)
	c.mu.Lock()
	if p.ReadAhead > 0 {
		c.readAhead = p.ReadAhead
	}
	readAhead := c.readAhead
	c.mu.Unlock()

	pruned := c.dir.Prune()
	count, age := c.dir.Limits()
	slog.Info("preferences applied",
		"max_source_count", count,
		"max_source_age", age,
		"read_ahead", readAhead,
		"pruned", pruned,
	)

	select {
	case c.sweepWake <- struct{}{}:
	default:
	}
}

// Preferences returns the settings currently in effect.
func (c *MediaCacheCoordinator) Preferences() Preferences {
	count, age := c.dir.Limits()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Preferences{MaxSourceCount: count, MaxSourceAge: age, ReadAhead: c.readAhead}
}

// sweepReaders prunes the directory every max source age. A preferences
// change restarts the wait on the new age.
func (c *MediaCacheCoordinator) sweepReaders() {
	defer c.wg.Done()

	for {
		_, age := c.dir.Limits()
		timer := time.NewTimer(age)

		select {
		case <-c.done:
			timer.Stop()
			return
		case <-c.sweepWake:
			timer.Stop()
		case <-timer.C:
			if n := c.dir.Prune(); n > 0 {
				slog.Debug("reader sweep", "pruned", n)
			}
		}
	}
}

// Shutdown stops the precache loop, closes every reader and waits for
// in-flight work with respect of the passed context.
func (c *MediaCacheCoordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.done)
	c.dir.opener.Close()

	finished := make(chan struct{})
	go func() {
		// Closing readers first resolves reads still waiting on them.
		c.dir.CloseAll()
		c.wg.Wait()
		c.notifier.Wait()
		close(finished)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-finished:
		return nil
	}
}
