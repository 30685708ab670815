package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/decoder"
	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/reader"
)

// mockPlugin is a configurable decode plugin. Decoders it opens share its
// functions and counters.
type mockPlugin struct {
	name        string
	supportedFn func(uri string) model.Certainty
	imageFn     func(ctx context.Context, frame model.FrameIdentity) (*model.DecodedBuffer, error)
	detailFn    func(ctx context.Context, uri string) (*model.MediaDetail, error)
	thumbnailFn func(ctx context.Context, frame model.FrameIdentity, size int) (*model.ThumbnailBuffer, error)

	decodes     atomic.Int32
	details     atomic.Int32
	thumbnails  atomic.Int32
	decodersNew atomic.Int32
}

func (p *mockPlugin) Name() string {
	if p.name == "" {
		return "mock"
	}
	return p.name
}

func (p *mockPlugin) Supported(_ context.Context, uri string, _ []byte) (model.Certainty, error) {
	if p.supportedFn != nil {
		return p.supportedFn(uri), nil
	}
	return model.CertaintyYes, nil
}

func (p *mockPlugin) NewDecoder() (decoder.Decoder, error) {
	p.decodersNew.Add(1)
	return &mockDecoder{plugin: p}, nil
}

func (p *mockPlugin) Detail(ctx context.Context, uri string) (*model.MediaDetail, error) {
	p.details.Add(1)
	if p.detailFn != nil {
		return p.detailFn(ctx, uri)
	}
	return &model.MediaDetail{URI: uri, Duration: time.Second}, nil
}

func (p *mockPlugin) Thumbnail(ctx context.Context, frame model.FrameIdentity, size int) (*model.ThumbnailBuffer, error) {
	p.thumbnails.Add(1)
	if p.thumbnailFn != nil {
		return p.thumbnailFn(ctx, frame, size)
	}
	return &model.ThumbnailBuffer{Width: 2, Height: 1, Format: model.ThumbnailRGB24, Pixels: make([]byte, 6)}, nil
}

type mockDecoder struct {
	plugin *mockPlugin
}

func (d *mockDecoder) Image(ctx context.Context, frame model.FrameIdentity) (*model.DecodedBuffer, error) {
	d.plugin.decodes.Add(1)
	if d.plugin.imageFn != nil {
		return d.plugin.imageFn(ctx, frame)
	}
	return &model.DecodedBuffer{Frame: frame, Payload: []byte{byte(frame.Frame)}}, nil
}

func (d *mockDecoder) Audio(ctx context.Context, frame model.FrameIdentity) (*model.DecodedBuffer, error) {
	d.plugin.decodes.Add(1)
	return &model.DecodedBuffer{Frame: frame, Channels: 2}, nil
}

func (d *mockDecoder) Close() error { return nil }

// stubLocator reports no signature for every URI.
type stubLocator struct{}

func (stubLocator) Resolve(_ context.Context, uri string) (string, error) { return uri, nil }
func (stubLocator) Signature(context.Context, string) ([]byte, error)      { return nil, nil }

// mockSelector returns a fixed plugin or error.
type mockSelector struct {
	plugin decoder.Plugin
	err    error
}

func (m *mockSelector) Select(context.Context, string, string) (decoder.Plugin, error) {
	return m.plugin, m.err
}

type cacheEntry struct {
	buf    *model.DecodedBuffer
	expiry time.Time
}

// mockFrameCache is an in-memory FrameCache with configurable overrides.
type mockFrameCache struct {
	mu         sync.Mutex
	data       map[model.MediaKey]cacheEntry
	preserved  map[model.MediaKey]uuid.UUID
	storeFn    func(key model.MediaKey) bool
	preserveFn func(ctx context.Context, key model.MediaKey) (bool, error)

	stores      atomic.Int32
	unpreserves atomic.Int32
}

func newMockFrameCache() *mockFrameCache {
	return &mockFrameCache{
		data:      make(map[model.MediaKey]cacheEntry),
		preserved: make(map[model.MediaKey]uuid.UUID),
	}
}

func (m *mockFrameCache) Retrieve(_ context.Context, key model.MediaKey) (*model.DecodedBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key].buf, nil
}

func (m *mockFrameCache) RetrieveMany(ctx context.Context, keys []model.MediaKey) ([]*model.DecodedBuffer, error) {
	out := make([]*model.DecodedBuffer, len(keys))
	for i, k := range keys {
		out[i], _ = m.Retrieve(ctx, k)
	}
	return out, nil
}

func (m *mockFrameCache) Store(_ context.Context, key model.MediaKey, buf *model.DecodedBuffer, expiry time.Time, requester uuid.UUID) (bool, error) {
	m.stores.Add(1)
	if m.storeFn != nil && !m.storeFn(key) {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = cacheEntry{buf: buf, expiry: expiry}
	m.preserved[key] = requester
	return true, nil
}

func (m *mockFrameCache) StoreWithThreshold(ctx context.Context, key model.MediaKey, buf *model.DecodedBuffer, requiredBy time.Time, requester uuid.UUID, _ time.Time) (bool, error) {
	return m.Store(ctx, key, buf, requiredBy, requester)
}

func (m *mockFrameCache) Preserve(ctx context.Context, key model.MediaKey, _ time.Time, requester uuid.UUID) (bool, error) {
	if m.preserveFn != nil {
		return m.preserveFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return false, nil
	}
	m.preserved[key] = requester
	return true, nil
}

func (m *mockFrameCache) PreserveMany(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) ([]model.TimedFrame, error) {
	var missing []model.TimedFrame
	for _, f := range frames {
		held, err := m.Preserve(ctx, f.Frame.Key(), f.RequiredBy, requester)
		if err != nil {
			return nil, err
		}
		if !held {
			missing = append(missing, f)
		}
	}
	return missing, nil
}

func (m *mockFrameCache) Unpreserve(_ context.Context, requester uuid.UUID) error {
	m.unpreserves.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.preserved {
		if r == requester {
			delete(m.preserved, k)
		}
	}
	return nil
}

func (m *mockFrameCache) entry(key model.MediaKey) (cacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	return e, ok
}

func (m *mockFrameCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// mockStatusSink records status events.
type mockStatusSink struct {
	mu       sync.Mutex
	events   []model.StatusEvent
	notifyFn func(event model.StatusEvent) error
}

func (m *mockStatusSink) NotifyStatus(_ context.Context, event model.StatusEvent) error {
	if m.notifyFn != nil {
		if err := m.notifyFn(event); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockStatusSink) recorded() []model.StatusEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.StatusEvent(nil), m.events...)
}

// mockDetailStore is an in-memory DetailStore.
type mockDetailStore struct {
	mu      sync.Mutex
	data    map[string]*model.MediaDetail
	getErr  error
	sets    atomic.Int32
	deletes atomic.Int32
}

func newMockDetailStore() *mockDetailStore {
	return &mockDetailStore{data: make(map[string]*model.MediaDetail)}
}

func (m *mockDetailStore) Get(_ context.Context, uri string) (*model.MediaDetail, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[uri], nil
}

func (m *mockDetailStore) Set(_ context.Context, detail *model.MediaDetail, _ time.Duration) error {
	m.sets.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[detail.URI] = detail
	return nil
}

func (m *mockDetailStore) Delete(_ context.Context, uri string) error {
	m.deletes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, uri)
	return nil
}

// countingOpener wraps a reader.Factory and counts opens.
type countingOpener struct {
	factory *reader.Factory
	opens   atomic.Int32
	openFn  func(key string) error
}

func (o *countingOpener) Open(ctx context.Context, key string, frame model.FrameIdentity) (*reader.SourceReader, error) {
	o.opens.Add(1)
	if o.openFn != nil {
		if err := o.openFn(key); err != nil {
			return nil, err
		}
	}
	return o.factory.Open(ctx, key, frame)
}

func (o *countingOpener) Close() { o.factory.Close() }

var errSinkDown = errors.New("sink down")
