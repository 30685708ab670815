package decoder

import (
	"context"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

// Plugin is a format-specific decode backend.
//
// One Plugin instance serves capability queries, media detail and
// thumbnails. Frame decoding goes through Decoder sessions created with
// NewDecoder so each open source gets its own workers.
type Plugin interface {
	// Name identifies the plugin. FrameIdentity.ReaderHint refers to it.
	Name() string

	// Supported reports how confident the plugin is that it can decode uri.
	// signature holds the leading bytes of the file when available.
	Supported(ctx context.Context, uri string, signature []byte) (model.Certainty, error)

	// NewDecoder opens a decode worker.
	NewDecoder() (Decoder, error)

	// Detail resolves structural metadata for uri.
	Detail(ctx context.Context, uri string) (*model.MediaDetail, error)

	// Thumbnail renders a preview of frame whose longest edge is size pixels.
	Thumbnail(ctx context.Context, frame model.FrameIdentity, size int) (*model.ThumbnailBuffer, error)
}

// Decoder is a single decode worker.
// A Decoder is used by one goroutine at a time.
type Decoder interface {
	Image(ctx context.Context, frame model.FrameIdentity) (*model.DecodedBuffer, error)
	Audio(ctx context.Context, frame model.FrameIdentity) (*model.DecodedBuffer, error)
	Close() error
}

// Unimplemented provides the default answers for plugins that only support
// part of the interface. Embed it and override what the format can do.
type Unimplemented struct{}

func (Unimplemented) Supported(context.Context, string, []byte) (model.Certainty, error) {
	return model.CertaintyNone, nil
}

func (Unimplemented) Detail(context.Context, string) (*model.MediaDetail, error) {
	return nil, model.NewMediaError(model.CodeUnsupported, "Media detail not supported for this format.", nil)
}

func (Unimplemented) Thumbnail(context.Context, model.FrameIdentity, int) (*model.ThumbnailBuffer, error) {
	return nil, model.NewMediaError(model.CodeUnsupported, "Thumbnail generation not supported for this format.", nil)
}

// UnimplementedDecoder is the Decoder counterpart of Unimplemented.
type UnimplementedDecoder struct{}

func (UnimplementedDecoder) Image(context.Context, model.FrameIdentity) (*model.DecodedBuffer, error) {
	return nil, model.NewMediaError(model.CodeUnsupported, "Image decode not supported for this format.", nil)
}

func (UnimplementedDecoder) Audio(context.Context, model.FrameIdentity) (*model.DecodedBuffer, error) {
	return nil, model.NewMediaError(model.CodeUnsupported, "Audio decode not supported for this format.", nil)
}

func (UnimplementedDecoder) Close() error {
	return nil
}
