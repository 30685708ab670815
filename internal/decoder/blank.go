package decoder

import (
	"bytes"
	"context"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

const (
	blankWidth  = 64
	blankHeight = 36
	blankGrey   = 0x80
)

// BlankPlugin serves model.BlankURI with a solid grey frame and silence.
type BlankPlugin struct {
	Unimplemented
}

var _ Plugin = BlankPlugin{}

func (BlankPlugin) Name() string {
	return "blank"
}

func (BlankPlugin) Supported(_ context.Context, uri string, _ []byte) (model.Certainty, error) {
	if uri == model.BlankURI {
		return model.CertaintyForce, nil
	}
	return model.CertaintyNone, nil
}

func (BlankPlugin) NewDecoder() (Decoder, error) {
	return blankDecoder{}, nil
}

func (BlankPlugin) Detail(_ context.Context, uri string) (*model.MediaDetail, error) {
	return &model.MediaDetail{
		URI:    uri,
		Reader: "blank",
		Streams: []model.StreamDetail{{
			Kind:       model.KindImage,
			Codec:      "rawvideo",
			Width:      blankWidth,
			Height:     blankHeight,
			FrameCount: 1,
		}},
	}, nil
}

func (BlankPlugin) Thumbnail(_ context.Context, _ model.FrameIdentity, size int) (*model.ThumbnailBuffer, error) {
	w, h := fitThumbnail(blankWidth, blankHeight, size)
	return &model.ThumbnailBuffer{
		Width:  w,
		Height: h,
		Format: model.ThumbnailRGB24,
		Pixels: bytes.Repeat([]byte{blankGrey}, w*h*3),
	}, nil
}

type blankDecoder struct{}

func (blankDecoder) Image(_ context.Context, frame model.FrameIdentity) (*model.DecodedBuffer, error) {
	return &model.DecodedBuffer{
		Frame:       frame,
		Payload:     bytes.Repeat([]byte{blankGrey}, blankWidth*blankHeight*3),
		Width:       blankWidth,
		Height:      blankHeight,
		PixelFormat: model.PixelFormatRGB24,
		DisplayTime: frame.DisplayTime(),
	}, nil
}

func (blankDecoder) Audio(_ context.Context, frame model.FrameIdentity) (*model.DecodedBuffer, error) {
	return &model.DecodedBuffer{
		Frame:       frame,
		Channels:    2,
		SampleRate:  48000,
		DisplayTime: frame.DisplayTime(),
	}, nil
}

func (blankDecoder) Close() error {
	return nil
}
