package model

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// BlankURI identifies the synthetic grey frame served for sources that have
// no readable media yet.
const BlankURI = "blank:///?colour=gray"

// MediaKind is the kind of decodable unit a FrameIdentity refers to.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindAudio MediaKind = "audio"
)

func (k MediaKind) IsValid() bool {
	switch k {
	case KindImage, KindAudio:
		return true
	default:
		return false
	}
}

func (k MediaKind) String() string {
	return string(k)
}

// MediaKey indexes decoded buffers in the image and audio caches.
type MediaKey string

func (k MediaKey) String() string {
	return string(k)
}

// FrameIdentity describes a single decodable unit of media.
// It is immutable once constructed and safe to copy.
type FrameIdentity struct {
	URI        string
	ReaderHint string
	Frame      int
	SourceID   uuid.UUID
	StreamID   string
	// OwnerID is the media source entity that receives status notifications.
	// uuid.Nil means the frame has no owner scope.
	OwnerID   uuid.UUID
	Kind      MediaKind
	FrameRate float64
}

// Key derives the cache index for the frame. Only the fields that determine
// decoded content take part: the reader hint and owner do not change the pixels.
func (f FrameIdentity) Key() MediaKey {
	d := xxhash.New()
	_, _ = d.WriteString(f.URI)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(f.StreamID)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.Itoa(f.Frame))
	return MediaKey(fmt.Sprintf("%s/%016x", f.Kind, d.Sum64()))
}

// IsBlank reports whether the frame points at the synthetic blank source.
func (f FrameIdentity) IsBlank() bool {
	return f.URI == BlankURI
}

// DisplayTime returns the frame's presentation offset from the start of the
// stream, or zero when the frame rate is unknown.
func (f FrameIdentity) DisplayTime() time.Duration {
	if f.FrameRate <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(f.Frame) / f.FrameRate * float64(time.Second)))
}

// TimedFrame pairs a frame with the wall-clock time it is needed by.
type TimedFrame struct {
	Frame      FrameIdentity
	RequiredBy time.Time
}
