package model

import "time"

// StreamDetail describes one stream inside a media file.
type StreamDetail struct {
	Index      int
	Kind       MediaKind
	Codec      string
	Width      int
	Height     int
	Channels   int
	SampleRate int
	FrameRate  float64
	FrameCount int
}

// MediaDetail is the structural metadata resolved for a URI.
type MediaDetail struct {
	URI           string
	Reader        string
	Duration      time.Duration
	TimecodeStart string
	Streams       []StreamDetail
}

// FirstStream returns the first stream of the given kind.
func (d *MediaDetail) FirstStream(kind MediaKind) (StreamDetail, bool) {
	for _, s := range d.Streams {
		if s.Kind == kind {
			return s, true
		}
	}
	return StreamDetail{}, false
}
