// Package reader wraps one open media source with the decode workers that
// serve it.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/decoder"
	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

// PinExpiry is how long a pinned interactive frame stays in the cache.
const PinExpiry = 10 * time.Minute

// Config holds configuration for SourceReader.
type Config struct {
	// ReadTimeout bounds a single interactive decode.
	ReadTimeout time.Duration
	// StoreTimeout bounds cache inserts after a decode.
	StoreTimeout time.Duration
	// OnError, when set, is told about every failed interactive read.
	OnError func(frame model.FrameIdentity, err error)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:  60 * time.Second,
		StoreTimeout: 500 * time.Millisecond,
	}
}

// Delivery receives the outcome of a lazy request. It may run on any goroutine.
type Delivery func(buf *model.DecodedBuffer)

// PendingRequest is a lazy request parked until the urgent worker is free.
type PendingRequest struct {
	Frame   model.FrameIdentity
	Deliver Delivery
}

// SourceReader owns the decode session of one media source.
//
// Interactive reads go to the urgent worker, precache reads to the precache
// worker and audio precache reads to the audio worker, so a long look-ahead
// decode never delays the frame on screen.
type SourceReader struct {
	id     uuid.UUID
	key    string
	uri    string
	plugin decoder.Plugin
	images repository.FrameCache
	audio  repository.FrameCache
	cfg    Config

	urgent   *lane
	precache *lane
	audioW   *lane

	closing   chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	urgentActive int
	pending      map[uuid.UUID]PendingRequest
	pendingOrder []uuid.UUID
}

// New opens the three decode workers for uri using plugin.
func New(key, uri string, plugin decoder.Plugin, images, audio repository.FrameCache, cfg Config) (*SourceReader, error) {
	decoders := make([]decoder.Decoder, 0, 3)
	for range 3 {
		dec, err := plugin.NewDecoder()
		if err != nil {
			for _, d := range decoders {
				_ = d.Close()
			}
			if _, ok := model.CodeOf(err); ok {
				return nil, err
			}
			return nil, model.NewMediaError(model.CodeUnreadable, fmt.Sprintf("failed to open %s decoder", plugin.Name()), err)
		}
		decoders = append(decoders, dec)
	}

	closing := make(chan struct{})
	r := &SourceReader{
		id:       uuid.New(),
		key:      key,
		uri:      uri,
		plugin:   plugin,
		images:   images,
		audio:    audio,
		cfg:      cfg,
		urgent:   newLane(metrics.LaneUrgent, decoders[0], closing),
		precache: newLane(metrics.LanePrecache, decoders[1], closing),
		audioW:   newLane(metrics.LaneAudio, decoders[2], closing),
		closing:  closing,
		pending:  make(map[uuid.UUID]PendingRequest),
	}
	return r, nil
}

// ID identifies this decode session.
func (r *SourceReader) ID() uuid.UUID { return r.id }

// Key is the directory key the reader was opened under.
func (r *SourceReader) Key() string { return r.key }

// URI is the source the reader was opened for.
func (r *SourceReader) URI() string { return r.uri }

// Plugin is the decode plugin backing the reader.
func (r *SourceReader) Plugin() decoder.Plugin { return r.plugin }

// GetImage returns the decoded image for frame, reading through the cache.
// Decode failures come back as error buffers, which are cached like any other
// result. The returned error is reserved for cache failures and for ctx ending
// before the decode does.
func (r *SourceReader) GetImage(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error) {
	return r.get(ctx, r.images, frame, pin, requester)
}

// GetAudio is GetImage for audio frames.
func (r *SourceReader) GetAudio(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error) {
	return r.get(ctx, r.audio, frame, pin, requester)
}

func (r *SourceReader) get(ctx context.Context, cache repository.FrameCache, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error) {
	key := frame.Key()
	buf, err := cache.Retrieve(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve %s: %w", key, err)
	}
	if buf != nil {
		return buf, nil
	}

	// The urgent worker may already be busy; this path queues behind it
	// rather than waiting for the lazy drain.
	r.mu.Lock()
	r.urgentActive++
	r.mu.Unlock()

	// A started read is not cancelable. It runs to completion and is cached
	// even when the caller stops waiting; only ReadTimeout bounds it.
	done := make(chan *model.DecodedBuffer, 1)
	go func() {
		buf, closed := r.readUrgent(context.WithoutCancel(ctx), frame)

		r.mu.Lock()
		r.urgentActive--
		r.mu.Unlock()
		r.drain()

		if !closed {
			expiry := time.Now()
			if pin {
				expiry = expiry.Add(PinExpiry)
			}
			r.store(cache, key, buf, expiry, requester)
		}
		done <- buf
	}()

	select {
	case buf := <-done:
		return buf, nil
	case <-ctx.Done():
		return nil, model.NewMediaError(model.CodeTimeout, "", ctx.Err())
	}
}

// RequestImage is the non-blocking interactive path. A cache hit is delivered
// right away. Otherwise the request is parked for requester, replacing any
// request that requester already has parked, and decoded when the urgent
// worker is next idle.
func (r *SourceReader) RequestImage(ctx context.Context, frame model.FrameIdentity, requester uuid.UUID, deliver Delivery) error {
	buf, err := r.images.Retrieve(ctx, frame.Key())
	if err != nil {
		return fmt.Errorf("failed to retrieve %s: %w", frame.Key(), err)
	}
	if buf != nil {
		deliver(buf)
		return nil
	}

	r.mu.Lock()
	if _, ok := r.pending[requester]; !ok {
		r.pendingOrder = append(r.pendingOrder, requester)
	}
	r.pending[requester] = PendingRequest{Frame: frame, Deliver: deliver}
	r.mu.Unlock()

	r.drain()
	return nil
}

// PendingCount reports how many requesters have a parked lazy request.
func (r *SourceReader) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// drain dispatches the oldest parked request when the urgent worker is idle.
func (r *SourceReader) drain() {
	r.mu.Lock()
	if r.urgentActive > 0 || len(r.pendingOrder) == 0 || r.isClosed() {
		r.mu.Unlock()
		return
	}
	requester := r.pendingOrder[0]
	r.pendingOrder = r.pendingOrder[1:]
	req := r.pending[requester]
	delete(r.pending, requester)
	r.urgentActive++
	r.mu.Unlock()

	go func() {
		buf, closed := r.readUrgent(context.Background(), req.Frame)
		if !closed {
			r.store(r.images, req.Frame.Key(), buf, time.Now(), requester)
		}
		req.Deliver(buf)

		r.mu.Lock()
		r.urgentActive--
		r.mu.Unlock()
		r.drain()
	}()
}

// readUrgent always yields a buffer: failures become error buffers.
// closed is set when the reader went away underneath the read, in which case
// the error buffer must not be cached.
func (r *SourceReader) readUrgent(ctx context.Context, frame model.FrameIdentity) (buf *model.DecodedBuffer, closed bool) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	buf, err := r.urgent.do(ctx, frame)
	if err != nil {
		slog.Warn("interactive read failed",
			"uri", frame.URI,
			"frame", frame.Frame,
			"kind", frame.Kind,
			"error", err,
		)
		gone := IsReaderClosed(err)
		if !gone && r.cfg.OnError != nil {
			r.cfg.OnError(frame, err)
		}
		return model.NewErrorBuffer(frame, model.LoadErrorMessage(frame.URI, err)), gone
	}
	return buf, false
}

func (r *SourceReader) store(cache repository.FrameCache, key model.MediaKey, buf *model.DecodedBuffer, expiry time.Time, requester uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
	defer cancel()

	stored, err := cache.Store(ctx, key, buf, expiry, requester)
	if err != nil {
		slog.Warn("failed to cache decoded frame", "key", key, "error", err)
		return
	}
	if !stored {
		slog.Debug("cache rejected decoded frame", "key", key)
	}
}

// ReadPrecacheImage decodes frame on the precache worker. The caller owns
// cache insertion.
func (r *SourceReader) ReadPrecacheImage(ctx context.Context, frame model.FrameIdentity) (*model.DecodedBuffer, error) {
	return r.precache.do(ctx, frame)
}

// ReadPrecacheAudio decodes frame on the audio worker. The caller owns cache
// insertion.
func (r *SourceReader) ReadPrecacheAudio(ctx context.Context, frame model.FrameIdentity) (*model.DecodedBuffer, error) {
	return r.audioW.do(ctx, frame)
}

// Close stops the decode workers. Reads still waiting on them resolve as
// ConnectionUnavailable. Parked lazy requests are delivered as error buffers.
func (r *SourceReader) Close() error {
	var parked []PendingRequest
	r.closeOnce.Do(func() {
		close(r.closing)

		r.mu.Lock()
		for _, requester := range r.pendingOrder {
			parked = append(parked, r.pending[requester])
		}
		r.pending = make(map[uuid.UUID]PendingRequest)
		r.pendingOrder = nil
		r.mu.Unlock()
	})

	for _, req := range parked {
		req.Deliver(model.NewErrorBuffer(req.Frame, model.LoadErrorMessage(req.Frame.URI, errReaderClosed)))
	}

	<-r.urgent.exited
	<-r.precache.exited
	<-r.audioW.exited
	return nil
}

func (r *SourceReader) isClosed() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

// IsClosed reports whether Close has been called.
func (r *SourceReader) IsClosed() bool { return r.isClosed() }

// IsReaderClosed reports whether err came from a reader that was closed
// underneath the call.
func IsReaderClosed(err error) bool {
	return errors.Is(err, errReaderClosed)
}
