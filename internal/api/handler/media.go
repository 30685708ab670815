package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/reader"
	"github.com/hszk-dev/mediacache/internal/usecase"
)

// MediaService is the frame and precache surface of the media cache.
type MediaService interface {
	GetImage(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error)
	GetAudio(ctx context.Context, frame model.FrameIdentity, pin bool, requester uuid.UUID) (*model.DecodedBuffer, error)
	RequestImage(ctx context.Context, frame model.FrameIdentity, requester uuid.UUID, deliver reader.Delivery) error
	GetFutureFrames(ctx context.Context, frames []model.FrameIdentity) ([]*model.DecodedBuffer, error)
	PlaybackPrecache(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) (bool, error)
	StaticPrecache(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) (bool, error)
	ClearPrecacheQueues(ctx context.Context, requesters ...uuid.UUID) bool
	QueueLen(requester uuid.UUID) (playback, background int)
	RetireReader(frame model.FrameIdentity) bool
	ApplyPreferences(p usecase.Preferences)
	Preferences() usecase.Preferences
}

var _ MediaService = (*usecase.MediaCacheCoordinator)(nil)

type FramesRequest struct {
	Frames []frameRequest `json:"frames"`
}

type FutureFrameResponse struct {
	Key          string `json:"key"`
	Available    bool   `json:"available"`
	Error        bool   `json:"error,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type PrecacheResponse struct {
	Accepted   bool `json:"accepted"`
	Playback   int  `json:"playback_queued"`
	Background int  `json:"background_queued"`
}

type ClearRequest struct {
	Requesters []string `json:"requesters"`
}

type RetireResponse struct {
	Retired bool `json:"retired"`
}

type PreferencesRequest struct {
	MaxSourceCount *int     `json:"max_source_count"`
	MaxSourceAge   *float64 `json:"max_source_age"`
	ReadAhead      *int     `json:"read_ahead"`
}

type PreferencesResponse struct {
	MaxSourceCount int     `json:"max_source_count"`
	MaxSourceAge   float64 `json:"max_source_age"`
	ReadAhead      int     `json:"read_ahead"`
}

// MediaHandler handles frame, precache and reader requests.
type MediaHandler struct {
	svc          MediaService
	scrubTimeout time.Duration
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(svc MediaService) *MediaHandler {
	return &MediaHandler{svc: svc, scrubTimeout: 30 * time.Second}
}

// Image handles GET /v1/frames/image
//
// mode=scrub serves the frame through the lazy path: a newer scrub request
// from the same requester supersedes this one, which then gets 409.
func (h *MediaHandler) Image(w http.ResponseWriter, r *http.Request) {
	frame, err := frameFromQuery(r.URL.Query())
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_frame", err.Error())
		return
	}
	frame.Kind = model.KindImage

	requester, err := optionalUUID(r.URL.Query().Get("requester"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_requester", "Requester must be a valid UUID")
		return
	}

	if r.URL.Query().Get("mode") == "scrub" {
		h.scrub(w, r, frame, requester)
		return
	}

	buf, err := h.svc.GetImage(r.Context(), frame, queryBool(r, "pin"), requester)
	if err != nil {
		MediaError(w, err)
		return
	}
	writeBuffer(w, buf)
}

func (h *MediaHandler) scrub(w http.ResponseWriter, r *http.Request, frame model.FrameIdentity, requester uuid.UUID) {
	if requester == uuid.Nil {
		Error(w, http.StatusBadRequest, "invalid_requester", "Scrubbing needs a requester")
		return
	}

	delivered := make(chan *model.DecodedBuffer, 1)
	err := h.svc.RequestImage(r.Context(), frame, requester, func(buf *model.DecodedBuffer) {
		select {
		case delivered <- buf:
		default:
		}
	})
	if err != nil {
		MediaError(w, err)
		return
	}

	timer := time.NewTimer(h.scrubTimeout)
	defer timer.Stop()

	select {
	case buf := <-delivered:
		writeBuffer(w, buf)
	case <-timer.C:
		Error(w, http.StatusConflict, "superseded", "A newer frame was requested")
	case <-r.Context().Done():
	}
}

// Audio handles GET /v1/frames/audio
func (h *MediaHandler) Audio(w http.ResponseWriter, r *http.Request) {
	frame, err := frameFromQuery(r.URL.Query())
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_frame", err.Error())
		return
	}
	frame.Kind = model.KindAudio

	requester, err := optionalUUID(r.URL.Query().Get("requester"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_requester", "Requester must be a valid UUID")
		return
	}

	buf, err := h.svc.GetAudio(r.Context(), frame, queryBool(r, "pin"), requester)
	if err != nil {
		MediaError(w, err)
		return
	}
	writeBuffer(w, buf)
}

// Future handles POST /v1/frames/future
func (h *MediaHandler) Future(w http.ResponseWriter, r *http.Request) {
	var req FramesRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	frames := make([]model.FrameIdentity, 0, len(req.Frames))
	for i, f := range req.Frames {
		frame, err := f.toModel()
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid_frame", "frames["+strconv.Itoa(i)+"]: "+err.Error())
			return
		}
		frames = append(frames, frame)
	}

	bufs, err := h.svc.GetFutureFrames(r.Context(), frames)
	if err != nil {
		MediaError(w, err)
		return
	}

	resp := make([]FutureFrameResponse, len(frames))
	for i, frame := range frames {
		resp[i] = FutureFrameResponse{Key: frame.Key().String()}
		if i < len(bufs) && bufs[i] != nil {
			resp[i].Available = true
			resp[i].Error = bufs[i].Error
			resp[i].ErrorMessage = bufs[i].ErrorMessage
		}
	}
	JSON(w, http.StatusOK, resp)
}

// PlaybackPrecache handles POST /v1/precache/{requester}/playback
func (h *MediaHandler) PlaybackPrecache(w http.ResponseWriter, r *http.Request) {
	h.precache(w, r, h.svc.PlaybackPrecache)
}

// StaticPrecache handles POST /v1/precache/{requester}/static
func (h *MediaHandler) StaticPrecache(w http.ResponseWriter, r *http.Request) {
	h.precache(w, r, h.svc.StaticPrecache)
}

type precacheFunc func(ctx context.Context, frames []model.TimedFrame, requester uuid.UUID) (bool, error)

func (h *MediaHandler) precache(w http.ResponseWriter, r *http.Request, fn precacheFunc) {
	requester, err := uuid.Parse(chi.URLParam(r, "requester"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_requester", "Requester must be a valid UUID")
		return
	}

	var req FramesRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	frames := make([]model.TimedFrame, 0, len(req.Frames))
	for i, f := range req.Frames {
		frame, err := f.toModel()
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid_frame", "frames["+strconv.Itoa(i)+"]: "+err.Error())
			return
		}
		frames = append(frames, model.TimedFrame{Frame: frame, RequiredBy: f.RequiredBy})
	}

	accepted, err := fn(r.Context(), frames, requester)
	if err != nil {
		MediaError(w, err)
		return
	}

	playback, background := h.svc.QueueLen(requester)
	JSON(w, http.StatusAccepted, PrecacheResponse{
		Accepted:   accepted,
		Playback:   playback,
		Background: background,
	})
}

// ClearRequester handles DELETE /v1/precache/{requester}
func (h *MediaHandler) ClearRequester(w http.ResponseWriter, r *http.Request) {
	requester, err := uuid.Parse(chi.URLParam(r, "requester"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_requester", "Requester must be a valid UUID")
		return
	}

	h.svc.ClearPrecacheQueues(r.Context(), requester)
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles POST /v1/precache/clear
func (h *MediaHandler) Clear(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	requesters := make([]uuid.UUID, 0, len(req.Requesters))
	for _, s := range req.Requesters {
		id, err := uuid.Parse(s)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid_requester", "Requester must be a valid UUID")
			return
		}
		requesters = append(requesters, id)
	}

	h.svc.ClearPrecacheQueues(r.Context(), requesters...)
	w.WriteHeader(http.StatusNoContent)
}

// RetireReader handles DELETE /v1/readers
func (h *MediaHandler) RetireReader(w http.ResponseWriter, r *http.Request) {
	frame, err := frameFromQuery(r.URL.Query())
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_frame", err.Error())
		return
	}

	JSON(w, http.StatusOK, RetireResponse{Retired: h.svc.RetireReader(frame)})
}

// GetPreferences handles GET /v1/preferences
func (h *MediaHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, toPreferencesResponse(h.svc.Preferences()))
}

// UpdatePreferences handles PUT /v1/preferences. Absent keys keep their
// current value.
func (h *MediaHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req PreferencesRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	p := h.svc.Preferences()
	if req.MaxSourceCount != nil {
		if *req.MaxSourceCount <= 0 {
			Error(w, http.StatusBadRequest, "invalid_preferences", "max_source_count must be positive")
			return
		}
		p.MaxSourceCount = *req.MaxSourceCount
	}
	if req.MaxSourceAge != nil {
		if *req.MaxSourceAge <= 0 {
			Error(w, http.StatusBadRequest, "invalid_preferences", "max_source_age must be positive")
			return
		}
		p.MaxSourceAge = time.Duration(*req.MaxSourceAge * float64(time.Second))
	}
	if req.ReadAhead != nil {
		if *req.ReadAhead <= 0 {
			Error(w, http.StatusBadRequest, "invalid_preferences", "read_ahead must be positive")
			return
		}
		p.ReadAhead = *req.ReadAhead
	}

	h.svc.ApplyPreferences(p)
	JSON(w, http.StatusOK, toPreferencesResponse(h.svc.Preferences()))
}

func toPreferencesResponse(p usecase.Preferences) PreferencesResponse {
	return PreferencesResponse{
		MaxSourceCount: p.MaxSourceCount,
		MaxSourceAge:   p.MaxSourceAge.Seconds(),
		ReadAhead:      p.ReadAhead,
	}
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}
