package handler

import (
	"context"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/reader"
	"github.com/hszk-dev/mediacache/internal/usecase"
)

// Mock MediaService

type mockMediaService struct {
	getImageFn         func(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error)
	getAudioFn         func(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error)
	requestImageFn     func(ctx context.Context, frame model.FrameIdentity, requester uuid.UUID, deliver reader.Delivery) error
	getFutureFramesFn  func(ctx context.Context, frames []model.FrameIdentity) ([]*model.DecodedBuffer, error)
	playbackPrecacheFn func(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) (bool, error)
	staticPrecacheFn   func(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) (bool, error)
	clearFn            func(ctx context.Context, requesters ...uuid.UUID) bool
	retireFn           func(frame model.FrameIdentity) bool
	prefs              usecase.Preferences
}

func (m *mockMediaService) GetImage(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error) {
	if m.getImageFn != nil {
		return m.getImageFn(ctx, frame, pin, requester)
	}
	return &model.DecodedBuffer{}, nil
}

func (m *mockMediaService) GetAudio(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error) {
	if m.getAudioFn != nil {
		return m.getAudioFn(ctx, frame, pin, requester)
	}
	return &model.DecodedBuffer{}, nil
}

func (m *mockMediaService) RequestImage(ctx context.Context, frame model.FrameIdentity, requester uuid.UUID, deliver reader.Delivery) error {
	if m.requestImageFn != nil {
		return m.requestImageFn(ctx, frame, requester, deliver)
	}
	return nil
}

func (m *mockMediaService) GetFutureFrames(ctx context.Context, frames []model.FrameIdentity) ([]*model.DecodedBuffer, error) {
	if m.getFutureFramesFn != nil {
		return m.getFutureFramesFn(ctx, frames)
	}
	return make([]*model.DecodedBuffer, len(frames)), nil
}

func (m *mockMediaService) PlaybackPrecache(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) (bool, error) {
	if m.playbackPrecacheFn != nil {
		return m.playbackPrecacheFn(ctx, frames, requester)
	}
	return true, nil
}

func (m *mockMediaService) StaticPrecache(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) (bool, error) {
	if m.staticPrecacheFn != nil {
		return m.staticPrecacheFn(ctx, frames, requester)
	}
	return true, nil
}

func (m *mockMediaService) ClearPrecacheQueues(ctx context.Context, requesters ...uuid.UUID) bool {
	if m.clearFn != nil {
		return m.clearFn(ctx, requesters...)
	}
	return true
}

func (m *mockMediaService) QueueLen(uuid.UUID) (int, int) {
	return 0, 0
}

func (m *mockMediaService) RetireReader(frame model.FrameIdentity) bool {
	if m.retireFn != nil {
		return m.retireFn(frame)
	}
	return false
}

func (m *mockMediaService) ApplyPreferences(p usecase.Preferences) {
	m.prefs = p
}

func (m *mockMediaService) Preferences() usecase.Preferences {
	return m.prefs
}

// Mock DetailService

type mockDetailService struct {
	getMediaDetailFn func(ctx context.Context, uri string, owner uuid.UUID) (*model.MediaDetail, error)
	getThumbnailFn   func(ctx context.Context, frame model.FrameIdentity, size int) (*model.ThumbnailBuffer, error)
	invalidateFn     func(ctx context.Context, uri string) error
}

func (m *mockDetailService) GetMediaDetail(ctx context.Context, uri string, owner uuid.UUID) (*model.MediaDetail, error) {
	if m.getMediaDetailFn != nil {
		return m.getMediaDetailFn(ctx, uri, owner)
	}
	return &model.MediaDetail{URI: uri}, nil
}

func (m *mockDetailService) GetThumbnail(ctx context.Context, frame model.FrameIdentity, size int) (*model.ThumbnailBuffer, error) {
	if m.getThumbnailFn != nil {
		return m.getThumbnailFn(ctx, frame, size)
	}
	return &model.ThumbnailBuffer{}, nil
}

func (m *mockDetailService) InvalidateDetail(ctx context.Context, uri string) error {
	if m.invalidateFn != nil {
		return m.invalidateFn(ctx, uri)
	}
	return nil
}

// Mock StatusReader

type mockStatusReader struct {
	getByOwnerFn func(ctx context.Context, ownerID uuid.UUID) (*model.StatusEvent, error)
}

func (m *mockStatusReader) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*model.StatusEvent, error) {
	if m.getByOwnerFn != nil {
		return m.getByOwnerFn(ctx, ownerID)
	}
	return nil, repository.ErrStatusNotFound
}

// Mock ProbePublisher

type mockProbePublisher struct {
	publishFn func(ctx context.Context, task repository.ProbeTask) error
}

func (m *mockProbePublisher) PublishProbeTask(ctx context.Context, task repository.ProbeTask) error {
	if m.publishFn != nil {
		return m.publishFn(ctx, task)
	}
	return nil
}
