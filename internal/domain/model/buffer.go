package model

import (
	"fmt"
	"time"
)

// PixelFormatRGB24 is the packed 8-bit RGB layout produced by image decodes.
const PixelFormatRGB24 = "rgb24"

// DecodedBuffer is the result of decoding one FrameIdentity. A buffer with
// Error set is a valid value and is cached like any other.
type DecodedBuffer struct {
	Frame   FrameIdentity
	Payload []byte

	// Image fields.
	Width       int
	Height      int
	PixelFormat string

	// Audio fields.
	Channels   int
	SampleRate int
	Samples    int

	DisplayTime  time.Duration
	Error        bool
	ErrorMessage string
}

// NewErrorBuffer returns a placeholder buffer carrying a human-readable failure.
func NewErrorBuffer(frame FrameIdentity, message string) *DecodedBuffer {
	return &DecodedBuffer{
		Frame:        frame,
		DisplayTime:  frame.DisplayTime(),
		Error:        true,
		ErrorMessage: message,
	}
}

// LoadErrorMessage formats a decode failure the way viewers display it.
func LoadErrorMessage(uri string, err error) string {
	return fmt.Sprintf("Error loading file %q: %s", uri, ErrorText(err))
}

// Size is the number of bytes the buffer accounts for in a cache budget.
func (b *DecodedBuffer) Size() int64 {
	if b == nil {
		return 0
	}
	return int64(len(b.Payload) + len(b.ErrorMessage) + bufferOverhead)
}

const bufferOverhead = 256

// ThumbnailFormat is the pixel layout of a thumbnail.
type ThumbnailFormat string

const (
	ThumbnailRGB24  ThumbnailFormat = "rgb24"
	ThumbnailRGBA32 ThumbnailFormat = "rgba32"
	ThumbnailBGR24  ThumbnailFormat = "bgr24"
)

// ThumbnailBuffer is a small preview image. ThumbnailRGB24 is the canonical
// display format; anything else goes through colour conversion first.
type ThumbnailBuffer struct {
	Width  int
	Height int
	Format ThumbnailFormat
	Pixels []byte
}
