package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/usecase"
)

// DetailService resolves metadata and thumbnails for media sources.
type DetailService interface {
	GetMediaDetail(ctx context.Context, uri string, owner uuid.UUID) (*model.MediaDetail, error)
	GetThumbnail(ctx context.Context, frame model.FrameIdentity, size int) (*model.ThumbnailBuffer, error)
	InvalidateDetail(ctx context.Context, uri string) error
}

var _ DetailService = (*usecase.DetailCoordinator)(nil)

// StatusReader looks up the last recorded status of a source owner.
type StatusReader interface {
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*model.StatusEvent, error)
}

// ProbePublisher queues background detail resolution.
type ProbePublisher interface {
	PublishProbeTask(ctx context.Context, task repository.ProbeTask) error
}

type StreamResponse struct {
	Index      int     `json:"index"`
	Kind       string  `json:"kind"`
	Codec      string  `json:"codec,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	FrameCount int     `json:"frame_count,omitempty"`
}

type DetailResponse struct {
	URI           string           `json:"uri"`
	Reader        string           `json:"reader"`
	Duration      float64          `json:"duration"`
	TimecodeStart string           `json:"timecode_start,omitempty"`
	Streams       []StreamResponse `json:"streams"`
}

type StatusResponse struct {
	OwnerID    string    `json:"owner_id"`
	URI        string    `json:"uri"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type ProbeRequest struct {
	URI     string `json:"uri"`
	OwnerID string `json:"owner_id"`
}

type ProbeResponse struct {
	URI     string `json:"uri"`
	OwnerID string `json:"owner_id"`
	Queued  bool   `json:"queued"`
}

// DetailHandler serves media metadata, thumbnails and source status.
// statuses and probes are optional; their routes answer 503 without them.
type DetailHandler struct {
	details  DetailService
	statuses StatusReader
	probes   ProbePublisher
}

// NewDetailHandler creates a new DetailHandler.
func NewDetailHandler(details DetailService, statuses StatusReader, probes ProbePublisher) *DetailHandler {
	return &DetailHandler{details: details, statuses: statuses, probes: probes}
}

// GetDetail handles GET /v1/detail
func (h *DetailHandler) GetDetail(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		Error(w, http.StatusBadRequest, "invalid_uri", "uri is required")
		return
	}
	owner, err := optionalUUID(r.URL.Query().Get("owner"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_owner", "Owner must be a valid UUID")
		return
	}

	detail, err := h.details.GetMediaDetail(r.Context(), uri, owner)
	if err != nil {
		MediaError(w, err)
		return
	}
	JSON(w, http.StatusOK, toDetailResponse(detail))
}

// InvalidateDetail handles DELETE /v1/detail
func (h *DetailHandler) InvalidateDetail(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		Error(w, http.StatusBadRequest, "invalid_uri", "uri is required")
		return
	}

	if err := h.details.InvalidateDetail(r.Context(), uri); err != nil {
		slog.Error("failed to invalidate detail", "uri", uri, "error", err)
		Error(w, http.StatusInternalServerError, "internal_error", "Failed to invalidate detail")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Thumbnail handles GET /v1/thumbnail
func (h *DetailHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	frame, err := frameFromQuery(r.URL.Query())
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_frame", err.Error())
		return
	}
	frame.Kind = model.KindImage

	size := 128
	if s := r.URL.Query().Get("size"); s != "" {
		size, err = strconv.Atoi(s)
		if err != nil || size <= 0 {
			Error(w, http.StatusBadRequest, "invalid_size", "size must be a positive integer")
			return
		}
	}

	thumb, err := h.details.GetThumbnail(r.Context(), frame, size)
	if err != nil {
		MediaError(w, err)
		return
	}

	hd := w.Header()
	hd.Set("Content-Type", "application/octet-stream")
	hd.Set("X-Frame-Width", strconv.Itoa(thumb.Width))
	hd.Set("X-Frame-Height", strconv.Itoa(thumb.Height))
	hd.Set("X-Pixel-Format", string(thumb.Format))
	hd.Set("Content-Length", strconv.Itoa(len(thumb.Pixels)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(thumb.Pixels)
}

// GetStatus handles GET /v1/status/{owner}
func (h *DetailHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.statuses == nil {
		Error(w, http.StatusServiceUnavailable, "unavailable", "Status store is not configured")
		return
	}

	owner, err := uuid.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_owner", "Owner must be a valid UUID")
		return
	}

	event, err := h.statuses.GetByOwner(r.Context(), owner)
	if err != nil {
		if errors.Is(err, repository.ErrStatusNotFound) {
			Error(w, http.StatusNotFound, "not_found", "No status recorded")
			return
		}
		slog.Error("failed to get status", "owner_id", owner, "error", err)
		Error(w, http.StatusInternalServerError, "internal_error", "Failed to get status")
		return
	}

	JSON(w, http.StatusOK, StatusResponse{
		OwnerID:    event.OwnerID.String(),
		URI:        event.URI,
		Status:     event.Status.String(),
		Message:    event.Message,
		OccurredAt: event.OccurredAt,
	})
}

// Probe handles POST /v1/probe
func (h *DetailHandler) Probe(w http.ResponseWriter, r *http.Request) {
	if h.probes == nil {
		Error(w, http.StatusServiceUnavailable, "unavailable", "Probe queue is not configured")
		return
	}

	var req ProbeRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.URI == "" {
		Error(w, http.StatusBadRequest, "invalid_uri", "uri is required")
		return
	}
	owner, err := optionalUUID(req.OwnerID)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_owner", "Owner must be a valid UUID")
		return
	}

	if err := h.probes.PublishProbeTask(r.Context(), repository.ProbeTask{URI: req.URI, OwnerID: owner}); err != nil {
		slog.Error("failed to publish probe task", "uri", req.URI, "error", err)
		Error(w, http.StatusInternalServerError, "internal_error", "Failed to queue probe")
		return
	}

	JSON(w, http.StatusAccepted, ProbeResponse{URI: req.URI, OwnerID: owner.String(), Queued: true})
}

func toDetailResponse(d *model.MediaDetail) DetailResponse {
	resp := DetailResponse{
		URI:           d.URI,
		Reader:        d.Reader,
		Duration:      d.Duration.Seconds(),
		TimecodeStart: d.TimecodeStart,
		Streams:       make([]StreamResponse, len(d.Streams)),
	}
	for i, s := range d.Streams {
		resp.Streams[i] = StreamResponse{
			Index:      s.Index,
			Kind:       s.Kind.String(),
			Codec:      s.Codec,
			Width:      s.Width,
			Height:     s.Height,
			Channels:   s.Channels,
			SampleRate: s.SampleRate,
			FrameRate:  s.FrameRate,
			FrameCount: s.FrameCount,
		}
	}
	return resp
}
