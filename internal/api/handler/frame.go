package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

// frameRequest is the JSON form of a frame in request bodies.
type frameRequest struct {
	URI        string    `json:"uri"`
	ReaderHint string    `json:"reader_hint,omitempty"`
	Frame      int       `json:"frame"`
	SourceID   string    `json:"source_id,omitempty"`
	StreamID   string    `json:"stream_id,omitempty"`
	OwnerID    string    `json:"owner_id,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	FrameRate  float64   `json:"frame_rate,omitempty"`
	RequiredBy time.Time `json:"required_by,omitempty"`
}

func (f frameRequest) toModel() (model.FrameIdentity, error) {
	if f.URI == "" {
		return model.FrameIdentity{}, errors.New("uri is required")
	}
	source, err := optionalUUID(f.SourceID)
	if err != nil {
		return model.FrameIdentity{}, fmt.Errorf("source_id: %w", err)
	}
	owner, err := optionalUUID(f.OwnerID)
	if err != nil {
		return model.FrameIdentity{}, fmt.Errorf("owner_id: %w", err)
	}
	kind, err := parseKind(f.Kind)
	if err != nil {
		return model.FrameIdentity{}, err
	}

	return model.FrameIdentity{
		URI:        f.URI,
		ReaderHint: f.ReaderHint,
		Frame:      f.Frame,
		SourceID:   source,
		StreamID:   f.StreamID,
		OwnerID:    owner,
		Kind:       kind,
		FrameRate:  f.FrameRate,
	}, nil
}

// parseKind defaults an empty kind to image.
func parseKind(s string) (model.MediaKind, error) {
	if s == "" {
		return model.KindImage, nil
	}
	kind := model.MediaKind(s)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid kind %q", s)
	}
	return kind, nil
}

func optionalUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

// frameFromQuery reads a FrameIdentity from query parameters.
func frameFromQuery(q url.Values) (model.FrameIdentity, error) {
	req := frameRequest{
		URI:        q.Get("uri"),
		ReaderHint: q.Get("hint"),
		SourceID:   q.Get("source"),
		StreamID:   q.Get("stream"),
		OwnerID:    q.Get("owner"),
		Kind:       q.Get("kind"),
	}

	if s := q.Get("frame"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return model.FrameIdentity{}, fmt.Errorf("invalid frame %q", s)
		}
		req.Frame = n
	}
	if s := q.Get("fps"); s != "" {
		fps, err := strconv.ParseFloat(s, 64)
		if err != nil || fps < 0 {
			return model.FrameIdentity{}, fmt.Errorf("invalid fps %q", s)
		}
		req.FrameRate = fps
	}
	return req.toModel()
}

// writeBuffer writes a decoded buffer as raw bytes. Frame metadata travels
// in headers. Error buffers are still a 200: the viewer shows the message in
// place of the frame.
func writeBuffer(w http.ResponseWriter, buf *model.DecodedBuffer) {
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("X-Display-Time", strconv.FormatFloat(buf.DisplayTime.Seconds(), 'f', -1, 64))

	if buf.Error {
		h.Set("X-Frame-Error", buf.ErrorMessage)
	}
	if buf.Width > 0 {
		h.Set("X-Frame-Width", strconv.Itoa(buf.Width))
		h.Set("X-Frame-Height", strconv.Itoa(buf.Height))
		h.Set("X-Pixel-Format", buf.PixelFormat)
	}
	if buf.Channels > 0 {
		h.Set("X-Audio-Channels", strconv.Itoa(buf.Channels))
		h.Set("X-Audio-Sample-Rate", strconv.Itoa(buf.SampleRate))
		h.Set("X-Audio-Samples", strconv.Itoa(buf.Samples))
	}

	h.Set("Content-Length", strconv.Itoa(len(buf.Payload)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Payload)
}
