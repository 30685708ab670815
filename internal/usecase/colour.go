package usecase

import (
	"context"
	"fmt"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

// ColourConverter turns a thumbnail into the canonical rgb24 display format.
type ColourConverter interface {
	ToRGB24(ctx context.Context, thumb *model.ThumbnailBuffer) (*model.ThumbnailBuffer, error)
}

// PixelConverter reorders packed 8-bit pixels. It handles the formats the
// shipped plugins produce and does no colour management beyond that.
type PixelConverter struct{}

var _ ColourConverter = PixelConverter{}

func (PixelConverter) ToRGB24(_ context.Context, thumb *model.ThumbnailBuffer) (*model.ThumbnailBuffer, error) {
	var stride int
	var order [3]int
	switch thumb.Format {
	case model.ThumbnailRGB24:
		return thumb, nil
	case model.ThumbnailRGBA32:
		stride, order = 4, [3]int{0, 1, 2}
	case model.ThumbnailBGR24:
		stride, order = 3, [3]int{2, 1, 0}
	default:
		return nil, model.NewMediaError(model.CodeUnsupported, fmt.Sprintf("unsupported thumbnail format %q", thumb.Format), nil)
	}

	n := thumb.Width * thumb.Height
	if len(thumb.Pixels) < n*stride {
		return nil, model.NewMediaError(model.CodeCorrupt, "thumbnail buffer is shorter than its dimensions", nil)
	}

	out := make([]byte, n*3)
	for i := range n {
		src := thumb.Pixels[i*stride:]
		out[i*3] = src[order[0]]
		out[i*3+1] = src[order[1]]
		out[i*3+2] = src[order[2]]
	}
	return &model.ThumbnailBuffer{
		Width:  thumb.Width,
		Height: thumb.Height,
		Format: model.ThumbnailRGB24,
		Pixels: out,
	}, nil
}
