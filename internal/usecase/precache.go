package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/framequeue"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

const (
	// defaultStaleness is how far behind now background entries become
	// expendable for a requester without a reference time.
	defaultStaleness = 10 * time.Millisecond
	// referenceStaleness is how far behind a requester's reference time its
	// background entries become expendable.
	referenceStaleness = time.Second
)

// PlaybackPrecache queues the frames of frames the caches do not already
// hold for playback look-ahead. Frames the caches hold are preserved for
// requester. Any previous queue for requester is replaced.
func (c *MediaCacheCoordinator) PlaybackPrecache(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PreserveListTimeout)
	defer cancel()

	missing, err := c.preserveMany(ctx, frames, requester)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.clearLocked(requester)
	if len(missing) > 0 {
		c.playback.AddMany(missing, requester)
	}
	// The reference is the playhead position, whether or not its frame is
	// already cached.
	if len(frames) > 0 {
		c.refs[requester] = frames[0].RequiredBy
	}
	c.updateQueueGaugesLocked()
	c.mu.Unlock()

	if len(missing) > 0 {
		c.signal()
	}
	return true, nil
}

// preserveMany asks each cache about its own kind of frames and returns the
// frames neither holds, in input order.
func (c *MediaCacheCoordinator) preserveMany(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) ([]model.TimedFrame, error) {
	var images, audio []model.TimedFrame
	for _, f := range frames {
		if f.Frame.Kind == model.KindAudio {
			audio = append(audio, f)
		} else {
			images = append(images, f)
		}
	}

	missingKeys := make(map[model.MediaKey]bool)
	for _, part := range []struct {
		kind   model.MediaKind
		frames []model.TimedFrame
	}{
		{model.KindImage, images},
		{model.KindAudio, audio},
	} {
		if len(part.frames) == 0 {
			continue
		}
		missing, err := c.cacheFor(part.kind).PreserveMany(ctx, part.frames, requester)
		if err != nil {
			if ctx.Err() != nil {
				return nil, model.NewMediaError(model.CodeTimeout, "", err)
			}
			return nil, err
		}
		for _, f := range missing {
			missingKeys[f.Frame.Key()] = true
		}
	}

	var out []model.TimedFrame
	for _, f := range frames {
		if missingKeys[f.Frame.Key()] {
			out = append(out, f)
		}
	}
	return out, nil
}

// StaticPrecache replaces requester's queues with a background caching pass
// over frames. Frames cached for requester earlier become evictable. An empty
// list cancels background caching and returns false.
func (c *MediaCacheCoordinator) StaticPrecache(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) (bool, error) {
	if len(frames) == 0 {
		c.mu.Lock()
		c.background.Clear(requester)
		c.updateQueueGaugesLocked()
		c.mu.Unlock()
		return false, nil
	}

	if err := c.unpreserve(ctx, requester); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.clearLocked(requester)
	c.background.AddMany(frames, requester)
	c.refs[requester] = frames[0].RequiredBy
	c.updateQueueGaugesLocked()
	c.mu.Unlock()

	c.signal()
	return true, nil
}

// ClearPrecacheQueues drops the queued requests of every requester and marks
// the frames cached for them as evictable. Reads already running finish and
// are still cached.
func (c *MediaCacheCoordinator) ClearPrecacheQueues(ctx context.Context, requesters ...uuid.UUID) bool {
	c.mu.Lock()
	for _, requester := range requesters {
		c.clearLocked(requester)
		delete(c.refs, requester)
	}
	c.updateQueueGaugesLocked()
	c.mu.Unlock()

	for _, requester := range requesters {
		if err := c.unpreserve(ctx, requester); err != nil {
			slog.Warn("failed to unpreserve frames", "requester", requester, "error", err)
		}
	}
	return true
}

func (c *MediaCacheCoordinator) unpreserve(ctx context.Context, requester uuid.UUID) error {
	if err := c.images.Unpreserve(ctx, requester); err != nil {
		return err
	}
	return c.audio.Unpreserve(ctx, requester)
}

func (c *MediaCacheCoordinator) clearLocked(requester uuid.UUID) {
	c.playback.Clear(requester)
	c.background.Clear(requester)
}

func (c *MediaCacheCoordinator) updateQueueGaugesLocked() {
	metrics.PrecacheQueueLength.WithLabelValues(metrics.QueuePlayback).Set(float64(c.playback.Len()))
	metrics.PrecacheQueueLength.WithLabelValues(metrics.QueueBackground).Set(float64(c.background.Len()))
}

// QueueLen reports the playback and background requests queued for requester.
func (c *MediaCacheCoordinator) QueueLen(requester uuid.UUID) (playback, background int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playback.LenFor(requester), c.background.LenFor(requester)
}

// InFlight reports the precache reads outstanding for requester.
func (c *MediaCacheCoordinator) InFlight(requester uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[requester]
}

func (c *MediaCacheCoordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// precacheLoop starts queued reads whenever it is woken and stops when both
// queues are empty or every queued requester is at its in-flight cap. Each
// step takes the lock afresh, so interactive calls interleave freely.
func (c *MediaCacheCoordinator) precacheLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for c.step() {
			select {
			case <-c.done:
				return
			default:
			}
		}
	}
}

type precacheTask struct {
	req       framequeue.Request
	queue     string
	threshold time.Time
}

// step pops one request and starts reading it. Returns false when nothing
// could be popped.
func (c *MediaCacheCoordinator) step() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := metrics.QueuePlayback
	req, ok := c.playback.Pop(c.inFlight, c.cfg.MaxInFlight)
	if !ok {
		queue = metrics.QueueBackground
		req, ok = c.background.Pop(c.inFlight, c.cfg.MaxInFlight)
	}
	if !ok {
		return false
	}

	threshold := c.now().Add(-defaultStaleness)
	if ref, ok := c.refs[req.Requester]; ok {
		threshold = ref.Add(-referenceStaleness)
	}

	c.inFlight.Start(req.Requester)
	c.updateQueueGaugesLocked()

	c.wg.Add(1)
	go c.precache(precacheTask{req: req, queue: queue, threshold: threshold})
	return true
}

// precache runs one queued read. Failures are logged and absorbed.
func (c *MediaCacheCoordinator) precache(task precacheTask) {
	defer c.wg.Done()
	defer c.finish(task.req.Requester)

	outcome := c.runPrecache(task)
	metrics.PrecacheOutcomesTotal.WithLabelValues(task.queue, outcome).Inc()
}

func (c *MediaCacheCoordinator) runPrecache(task precacheTask) string {
	req := task.req
	frame := req.Frame
	key := frame.Key()
	cache := c.cacheFor(frame.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PreserveTimeout)
	held, err := cache.Preserve(ctx, key, req.RequiredBy, req.Requester)
	cancel()
	if err != nil {
		slog.Warn("precache preserve failed", "key", key, "error", err)
		return metrics.PrecachePreserveError
	}
	if held {
		return metrics.PrecacheCached
	}

	ctx, cancel = context.WithTimeout(context.Background(), c.cfg.ReadTimeout)
	defer cancel()

	r, err := c.dir.GetOrCreate(ctx, frame)
	if err != nil {
		slog.Warn("precache reader unavailable", "uri", frame.URI, "error", err)
		c.notifier.FrameError(frame, err)
		return metrics.PrecacheReaderError
	}

	var buf *model.DecodedBuffer
	if frame.Kind == model.KindAudio {
		buf, err = r.ReadPrecacheAudio(ctx, frame)
	} else {
		buf, err = r.ReadPrecacheImage(ctx, frame)
	}
	if err != nil {
		slog.Warn("precache read failed",
			"uri", frame.URI,
			"frame", frame.Frame,
			"error", err,
		)
		c.notifier.FrameError(frame, err)
		return metrics.PrecacheReadError
	}

	storeCtx, storeCancel := context.WithTimeout(context.Background(), c.cfg.PreserveTimeout)
	defer storeCancel()

	var stored bool
	if task.queue == metrics.QueuePlayback {
		stored, err = cache.Store(storeCtx, key, buf, req.RequiredBy, req.Requester)
	} else {
		stored, err = cache.StoreWithThreshold(storeCtx, key, buf, req.RequiredBy, req.Requester, task.threshold)
	}
	if err != nil {
		slog.Warn("precache store failed", "key", key, "error", err)
		return metrics.PrecacheStoreError
	}
	if stored {
		return metrics.PrecacheStored
	}

	// The cache is full for this requester: stop queuing work it would reject.
	c.mu.Lock()
	switch {
	case task.queue == metrics.QueueBackground:
		c.background.Clear(req.Requester)
	case frame.Kind != model.KindAudio:
		c.clearLocked(req.Requester)
	}
	c.updateQueueGaugesLocked()
	c.mu.Unlock()

	slog.Debug("precache store rejected, queue cleared",
		"requester", req.Requester,
		"queue", task.queue,
		"kind", frame.Kind,
	)
	return metrics.PrecacheRejected
}

// finish releases the in-flight slot and wakes the loop for the next request.
func (c *MediaCacheCoordinator) finish(requester uuid.UUID) {
	c.mu.Lock()
	c.inFlight.Done(requester)
	c.mu.Unlock()
	c.signal()
}
