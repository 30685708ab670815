package reader

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/hszk-dev/mediacache/internal/decoder"
	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

// FactoryConfig holds configuration for Factory.
type FactoryConfig struct {
	// MaxConcurrentOpens bounds reader creations running at once.
	MaxConcurrentOpens int64
	Reader             Config
}

// DefaultFactoryConfig returns the default configuration.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		MaxConcurrentOpens: 5,
		Reader:             DefaultConfig(),
	}
}

// Factory opens SourceReaders, choosing the plugin through the registry.
type Factory struct {
	registry *decoder.Registry
	images   repository.FrameCache
	audio    repository.FrameCache
	cfg      Config
	sem      *semaphore.Weighted
	closed   atomic.Bool
}

// NewFactory creates a new Factory.
func NewFactory(registry *decoder.Registry, images, audio repository.FrameCache, cfg FactoryConfig) *Factory {
	return &Factory{
		registry: registry,
		images:   images,
		audio:    audio,
		cfg:      cfg.Reader,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentOpens),
	}
}

// Open selects a plugin for frame and opens a reader keyed by key.
// A closed factory fails with ConnectionUnavailable.
func (f *Factory) Open(ctx context.Context, key string, frame model.FrameIdentity) (*SourceReader, error) {
	if f.closed.Load() {
		return nil, model.ErrConnectionUnavailable
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, model.NewMediaError(model.CodeTimeout, "", err)
	}
	defer f.sem.Release(1)

	plugin, err := f.registry.Select(ctx, frame.URI, frame.ReaderHint)
	if err != nil {
		return nil, err
	}

	if f.closed.Load() {
		return nil, model.ErrConnectionUnavailable
	}
	return New(key, frame.URI, plugin, f.images, f.audio, f.cfg)
}

// Close makes every later Open fail.
func (f *Factory) Close() {
	f.closed.Store(true)
}
