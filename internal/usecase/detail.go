package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/mediacache/internal/decoder"
	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/infrastructure/cache"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

// PluginSelector picks the decode plugin for a URI.
type PluginSelector interface {
	Select(ctx context.Context, uri, hint string) (decoder.Plugin, error)
}

var _ PluginSelector = (*decoder.Registry)(nil)

// DetailConfig holds configuration for DetailCoordinator.
type DetailConfig struct {
	// TTL is how long resolved detail stays in the local cache after its
	// last lookup.
	TTL time.Duration
	// SharedTTL is the expiry of detail written to the shared store.
	SharedTTL time.Duration
	// DetailWorkers and ThumbnailWorkers bound concurrent jobs per queue.
	DetailWorkers    int64
	ThumbnailWorkers int64
	// ThumbnailEvery is the number of detail jobs that may be served in a
	// row while thumbnails wait. A thumbnail goes next once it is exceeded.
	ThumbnailEvery int
	// JobTimeout bounds a single plugin call.
	JobTimeout time.Duration
}

// DefaultDetailConfig returns the default configuration.
func DefaultDetailConfig() DetailConfig {
	return DetailConfig{
		TTL:              120 * time.Second,
		SharedTTL:        time.Hour,
		DetailWorkers:    4,
		ThumbnailWorkers: 1,
		ThumbnailEvery:   4,
		JobTimeout:       60 * time.Second,
	}
}

type detailEntry struct {
	detail     *model.MediaDetail
	lastAccess time.Time
}

type detailResult struct {
	detail *model.MediaDetail
	err    error
}

type detailJob struct {
	ctx   context.Context
	uri   string
	owner uuid.UUID
	reply chan detailResult
}

type thumbnailResult struct {
	thumb *model.ThumbnailBuffer
	err   error
}

type thumbnailJob struct {
	ctx   context.Context
	frame model.FrameIdentity
	size  int
	reply chan thumbnailResult
}

// DetailCoordinator resolves media detail and renders thumbnails.
//
// Requests wait in two FIFO queues. Detail keeps media playable so it is
// served first, but after ThumbnailEvery detail jobs in a row a waiting
// thumbnail is served.
type DetailCoordinator struct {
	plugins  PluginSelector
	store    cache.DetailStore
	colour   ColourConverter
	notifier *StatusNotifier
	cfg      DetailConfig
	now      func() time.Time

	loads          singleflight.Group
	detailLanes    *semaphore.Weighted
	thumbnailLanes *semaphore.Weighted

	mu             sync.Mutex
	details        []*detailJob
	thumbnails     []*thumbnailJob
	sinceThumbnail int
	cache          map[string]*detailEntry
	stopped        bool

	wake           chan struct{}
	ctx            context.Context
	cancel         context.CancelFunc
	jobs           sync.WaitGroup
	dispatcherDone chan struct{}
}

// NewDetailCoordinator creates a DetailCoordinator and starts its dispatcher.
// store may be nil when no shared store is configured.
func NewDetailCoordinator(
	plugins PluginSelector,
	store cache.DetailStore,
	colour ColourConverter,
	notifier *StatusNotifier,
	cfg DetailConfig,
) *DetailCoordinator {
	c := newDetailCoordinator(plugins, store, colour, notifier, cfg)
	go c.dispatch()
	return c
}

func newDetailCoordinator(
	plugins PluginSelector,
	store cache.DetailStore,
	colour ColourConverter,
	notifier *StatusNotifier,
	cfg DetailConfig,
) *DetailCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &DetailCoordinator{
		plugins:        plugins,
		store:          store,
		colour:         colour,
		notifier:       notifier,
		cfg:            cfg,
		now:            time.Now,
		detailLanes:    semaphore.NewWeighted(cfg.DetailWorkers),
		thumbnailLanes: semaphore.NewWeighted(cfg.ThumbnailWorkers),
		cache:          make(map[string]*detailEntry),
		wake:           make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
		dispatcherDone: make(chan struct{}),
	}
}

// GetMediaDetail returns the structural metadata of uri. Failures describing
// the media are also reported to owner.
func (c *DetailCoordinator) GetMediaDetail(ctx context.Context, uri string, owner uuid.UUID) (*model.MediaDetail, error) {
	if d, ok := c.cached(uri); ok {
		metrics.DetailRequestsTotal.WithLabelValues(metrics.RequestDetail, metrics.ResultCacheHit).Inc()
		return d, nil
	}

	job := &detailJob{ctx: ctx, uri: uri, owner: owner, reply: make(chan detailResult, 1)}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, model.ErrConnectionUnavailable
	}
	c.details = append(c.details, job)
	c.mu.Unlock()
	c.signal()

	select {
	case r := <-job.reply:
		return r.detail, r.err
	case <-ctx.Done():
		return nil, model.NewMediaError(model.CodeTimeout, "", ctx.Err())
	}
}

// GetThumbnail renders frame with its longest edge at size pixels, in rgb24.
func (c *DetailCoordinator) GetThumbnail(ctx context.Context, frame model.FrameIdentity, size int) (*model.ThumbnailBuffer, error) {
	job := &thumbnailJob{ctx: ctx, frame: frame, size: size, reply: make(chan thumbnailResult, 1)}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, model.ErrConnectionUnavailable
	}
	c.thumbnails = append(c.thumbnails, job)
	c.mu.Unlock()
	c.signal()

	select {
	case r := <-job.reply:
		return r.thumb, r.err
	case <-ctx.Done():
		return nil, model.NewMediaError(model.CodeTimeout, "", ctx.Err())
	}
}

// InvalidateDetail drops uri from the local cache and the shared store.
func (c *DetailCoordinator) InvalidateDetail(ctx context.Context, uri string) error {
	c.mu.Lock()
	delete(c.cache, uri)
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.Delete(ctx, uri)
}

// cached looks uri up in the local cache, dropping expired entries on the way.
func (c *DetailCoordinator) cached(uri string) (*model.MediaDetail, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.cache {
		if now.Sub(e.lastAccess) > c.cfg.TTL {
			delete(c.cache, key)
		}
	}

	e, ok := c.cache[uri]
	if !ok {
		return nil, false
	}
	e.lastAccess = now
	return e.detail, true
}

func (c *DetailCoordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pick removes the next job to serve among the queues whose lanes are free.
// At most one of the results is non-nil.
func (c *DetailCoordinator) pick(detailFree, thumbnailFree bool) (*detailJob, *thumbnailJob) {
	c.mu.Lock()
	defer c.mu.Unlock()

	thumbnailDue := c.sinceThumbnail > c.cfg.ThumbnailEvery
	switch {
	case thumbnailFree && thumbnailDue && len(c.thumbnails) > 0:
		return nil, c.popThumbnailLocked()
	case detailFree && len(c.details) > 0:
		job := c.details[0]
		c.details[0] = nil
		c.details = c.details[1:]
		c.sinceThumbnail++
		return job, nil
	case thumbnailFree && len(c.thumbnails) > 0:
		return nil, c.popThumbnailLocked()
	default:
		return nil, nil
	}
}

func (c *DetailCoordinator) popThumbnailLocked() *thumbnailJob {
	job := c.thumbnails[0]
	c.thumbnails[0] = nil
	c.thumbnails = c.thumbnails[1:]
	c.sinceThumbnail = 0
	return job
}

func (c *DetailCoordinator) dispatch() {
	defer close(c.dispatcherDone)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}

		// Jobs stay queued until their lane is free, so a busy queue never
		// holds up the other one. Finished jobs wake the loop again.
		for c.ctx.Err() == nil {
			detailFree := c.detailLanes.TryAcquire(1)
			thumbnailFree := c.thumbnailLanes.TryAcquire(1)

			d, t := c.pick(detailFree, thumbnailFree)
			if detailFree && d == nil {
				c.detailLanes.Release(1)
			}
			if thumbnailFree && t == nil {
				c.thumbnailLanes.Release(1)
			}
			if d == nil && t == nil {
				break
			}

			lanes := c.detailLanes
			if t != nil {
				lanes = c.thumbnailLanes
			}

			c.jobs.Add(1)
			go func() {
				defer c.jobs.Done()
				defer c.signal()
				defer lanes.Release(1)

				if d != nil {
					c.runDetail(d)
				} else {
					c.runThumbnail(t)
				}
			}()
		}
	}
}

func (c *DetailCoordinator) reject(d *detailJob, t *thumbnailJob) {
	if d != nil {
		d.reply <- detailResult{err: model.ErrConnectionUnavailable}
	}
	if t != nil {
		t.reply <- thumbnailResult{err: model.ErrConnectionUnavailable}
	}
}

func (c *DetailCoordinator) runDetail(job *detailJob) {
	// The caller stopped waiting while the job was queued.
	if job.ctx.Err() != nil {
		job.reply <- detailResult{err: model.NewMediaError(model.CodeTimeout, "", job.ctx.Err())}
		return
	}

	v, err, shared := c.loads.Do(job.uri, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(job.ctx), c.cfg.JobTimeout)
		defer cancel()
		return c.loadDetail(ctx, job.uri)
	})
	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		metrics.DetailRequestsTotal.WithLabelValues(metrics.RequestDetail, metrics.ResultError).Inc()
		slog.Warn("failed to resolve media detail", "uri", job.uri, "error", err)
		c.notifier.Notify(job.owner, job.uri, err)
		job.reply <- detailResult{err: err}
		return
	}

	detail := v.(*model.MediaDetail)
	c.mu.Lock()
	c.cache[job.uri] = &detailEntry{detail: detail, lastAccess: c.now()}
	c.mu.Unlock()

	metrics.DetailRequestsTotal.WithLabelValues(metrics.RequestDetail, metrics.ResultSuccess).Inc()
	job.reply <- detailResult{detail: detail}
}

// loadDetail consults the shared store before probing the file.
func (c *DetailCoordinator) loadDetail(ctx context.Context, uri string) (*model.MediaDetail, error) {
	if c.store != nil {
		detail, err := c.store.Get(ctx, uri)
		if err != nil {
			// Log but don't fail - the store is only a shortcut
			slog.Warn("detail store get failed, probing file", "uri", uri, "error", err)
		}
		if detail != nil {
			return detail, nil
		}
	}

	plugin, err := c.plugins.Select(ctx, uri, "")
	if err != nil {
		return nil, err
	}
	detail, err := plugin.Detail(ctx, uri)
	if err != nil {
		return nil, err
	}
	detail.URI = uri
	if detail.Reader == "" {
		detail.Reader = plugin.Name()
	}

	if c.store != nil {
		if err := c.store.Set(ctx, detail, c.cfg.SharedTTL); err != nil {
			slog.Warn("failed to store media detail", "uri", uri, "error", err)
		}
	}
	return detail, nil
}

func (c *DetailCoordinator) runThumbnail(job *thumbnailJob) {
	if job.ctx.Err() != nil {
		job.reply <- thumbnailResult{err: model.NewMediaError(model.CodeTimeout, "", job.ctx.Err())}
		return
	}

	ctx, cancel := context.WithTimeout(job.ctx, c.cfg.JobTimeout)
	defer cancel()

	thumb, err := c.renderThumbnail(ctx, job.frame, job.size)
	if err != nil {
		metrics.DetailRequestsTotal.WithLabelValues(metrics.RequestThumbnail, metrics.ResultError).Inc()
		slog.Warn("failed to render thumbnail",
			"uri", job.frame.URI,
			"frame", job.frame.Frame,
			"error", err,
		)
		job.reply <- thumbnailResult{err: err}
		return
	}

	metrics.DetailRequestsTotal.WithLabelValues(metrics.RequestThumbnail, metrics.ResultSuccess).Inc()
	job.reply <- thumbnailResult{thumb: thumb}
}

func (c *DetailCoordinator) renderThumbnail(ctx context.Context, frame model.FrameIdentity, size int) (*model.ThumbnailBuffer, error) {
	plugin, err := c.plugins.Select(ctx, frame.URI, frame.ReaderHint)
	if err != nil {
		c.notifier.FrameError(frame, err)
		return nil, err
	}

	thumb, err := plugin.Thumbnail(ctx, frame, size)
	if err != nil {
		c.notifier.FrameError(frame, err)
		return nil, err
	}
	if thumb == nil {
		err := model.NewMediaError(model.CodeCorrupt, "thumbnail loaded returned empty buffer.", nil)
		c.notifier.FrameError(frame, err)
		return nil, err
	}

	if thumb.Format != model.ThumbnailRGB24 {
		thumb, err = c.colour.ToRGB24(ctx, thumb)
		if err != nil {
			return nil, err
		}
	}
	return thumb, nil
}

// Shutdown fails queued jobs and waits for the running ones with respect of
// the passed context.
func (c *DetailCoordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	details, thumbnails := c.details, c.thumbnails
	c.details, c.thumbnails = nil, nil
	c.mu.Unlock()

	for _, d := range details {
		c.reject(d, nil)
	}
	for _, t := range thumbnails {
		c.reject(nil, t)
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		<-c.dispatcherDone
		c.jobs.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
