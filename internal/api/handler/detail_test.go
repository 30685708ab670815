package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

func newDetailRouter(h *DetailHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/v1/detail", h.GetDetail)
	r.Delete("/v1/detail", h.InvalidateDetail)
	r.Get("/v1/thumbnail", h.Thumbnail)
	r.Get("/v1/status/{owner}", h.GetStatus)
	r.Post("/v1/probe", h.Probe)
	return r
}

func TestDetailHandler_GetDetail(t *testing.T) {
	owner := uuid.New()

	tests := []struct {
		name           string
		query          string
		setupMock      func(m *mockDetailService)
		wantStatusCode int
		checkResponse  func(t *testing.T, body []byte)
	}{
		{
			name:  "resolved detail",
			query: "uri=/media/a.mov&owner=" + owner.String(),
			setupMock: func(m *mockDetailService) {
				m.getMediaDetailFn = func(ctx context.Context, uri string, o uuid.UUID) (*model.MediaDetail, error) {
					if o != owner {
						t.Errorf("owner = %v, want %v", o, owner)
					}
					return &model.MediaDetail{
						URI:      uri,
						Reader:   "ffmpeg",
						Duration: 90 * time.Second,
						Streams: []model.StreamDetail{
							{Index: 0, Kind: model.KindImage, Codec: "prores", Width: 1920, Height: 1080, FrameRate: 24},
							{Index: 1, Kind: model.KindAudio, Codec: "pcm_s16le", Channels: 2, SampleRate: 48000},
						},
					}, nil
				}
			},
			wantStatusCode: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var resp DetailResponse
				if err := json.Unmarshal(body, &resp); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if resp.Reader != "ffmpeg" || resp.Duration != 90 {
					t.Errorf("unexpected detail %+v", resp)
				}
				if len(resp.Streams) != 2 || resp.Streams[0].Width != 1920 || resp.Streams[1].SampleRate != 48000 {
					t.Errorf("unexpected streams %+v", resp.Streams)
				}
			},
		},
		{
			name:           "missing uri",
			query:          "",
			setupMock:      func(m *mockDetailService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "invalid owner",
			query:          "uri=/a.mov&owner=bad",
			setupMock:      func(m *mockDetailService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:  "unsupported media",
			query: "uri=/a.txt",
			setupMock: func(m *mockDetailService) {
				m.getMediaDetailFn = func(ctx context.Context, uri string, o uuid.UUID) (*model.MediaDetail, error) {
					return nil, model.ErrUnsupported
				}
			},
			wantStatusCode: http.StatusUnsupportedMediaType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockDetailService{}
			tt.setupMock(m)
			r := newDetailRouter(NewDetailHandler(m, nil, nil))

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/detail?"+tt.query, nil))

			if rec.Code != tt.wantStatusCode {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatusCode, rec.Code, rec.Body.String())
			}
			if tt.checkResponse != nil {
				tt.checkResponse(t, rec.Body.Bytes())
			}
		})
	}
}

func TestDetailHandler_InvalidateDetail(t *testing.T) {
	var invalidated string
	m := &mockDetailService{
		invalidateFn: func(ctx context.Context, uri string) error {
			if uri == "/broken" {
				return errors.New("redis down")
			}
			invalidated = uri
			return nil
		},
	}
	r := newDetailRouter(NewDetailHandler(m, nil, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/detail?uri=/a.mov", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}
	if invalidated != "/a.mov" {
		t.Errorf("invalidated = %q, want /a.mov", invalidated)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/detail?uri=/broken", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}
}

func TestDetailHandler_Thumbnail(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		wantSize       int
		wantStatusCode int
	}{
		{name: "default size", query: "uri=/a.mov&frame=10", wantSize: 128, wantStatusCode: http.StatusOK},
		{name: "explicit size", query: "uri=/a.mov&size=64", wantSize: 64, wantStatusCode: http.StatusOK},
		{name: "invalid size", query: "uri=/a.mov&size=0", wantStatusCode: http.StatusBadRequest},
		{name: "missing uri", query: "size=64", wantStatusCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockDetailService{
				getThumbnailFn: func(ctx context.Context, frame model.FrameIdentity, size int) (*model.ThumbnailBuffer, error) {
					if size != tt.wantSize {
						t.Errorf("size = %d, want %d", size, tt.wantSize)
					}
					return &model.ThumbnailBuffer{Width: 1, Height: 1, Format: model.ThumbnailRGB24, Pixels: []byte{1, 2, 3}}, nil
				},
			}
			r := newDetailRouter(NewDetailHandler(m, nil, nil))

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/thumbnail?"+tt.query, nil))

			if rec.Code != tt.wantStatusCode {
				t.Errorf("expected status %d, got %d", tt.wantStatusCode, rec.Code)
			}
			if rec.Code == http.StatusOK {
				if got := rec.Header().Get("X-Pixel-Format"); got != "rgb24" {
					t.Errorf("X-Pixel-Format = %q, want rgb24", got)
				}
				if rec.Body.Len() != 3 {
					t.Errorf("body length = %d, want 3", rec.Body.Len())
				}
			}
		})
	}
}

func TestDetailHandler_GetStatus(t *testing.T) {
	owner := uuid.New()
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		path           string
		statuses       StatusReader
		wantStatusCode int
	}{
		{
			name: "recorded status",
			path: "/v1/status/" + owner.String(),
			statuses: &mockStatusReader{
				getByOwnerFn: func(ctx context.Context, id uuid.UUID) (*model.StatusEvent, error) {
					return &model.StatusEvent{OwnerID: id, URI: "/a.mov", Status: model.StatusMissing, OccurredAt: occurred}, nil
				},
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "nothing recorded",
			path:           "/v1/status/" + owner.String(),
			statuses:       &mockStatusReader{},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name: "store failure",
			path: "/v1/status/" + owner.String(),
			statuses: &mockStatusReader{
				getByOwnerFn: func(ctx context.Context, id uuid.UUID) (*model.StatusEvent, error) {
					return nil, errors.New("connection refused")
				},
			},
			wantStatusCode: http.StatusInternalServerError,
		},
		{
			name:           "invalid owner",
			path:           "/v1/status/bad",
			statuses:       &mockStatusReader{},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "no status store",
			path:           "/v1/status/" + owner.String(),
			wantStatusCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newDetailRouter(NewDetailHandler(&mockDetailService{}, tt.statuses, nil))

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatusCode {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatusCode, rec.Code, rec.Body.String())
			}
			if rec.Code != http.StatusOK {
				return
			}

			var resp StatusResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if resp.Status != "MISSING" || resp.OwnerID != owner.String() || !resp.OccurredAt.Equal(occurred) {
				t.Errorf("unexpected status %+v", resp)
			}
		})
	}
}

func TestDetailHandler_Probe(t *testing.T) {
	owner := uuid.New()

	tests := []struct {
		name           string
		body           string
		probes         ProbePublisher
		wantStatusCode int
	}{
		{
			name: "queued",
			body: `{"uri":"s3://media/a.mov","owner_id":"` + owner.String() + `"}`,
			probes: &mockProbePublisher{
				publishFn: func(ctx context.Context, task repository.ProbeTask) error {
					if task.URI != "s3://media/a.mov" || task.OwnerID != owner || task.RetryCount != 0 {
						t.Errorf("unexpected task %+v", task)
					}
					return nil
				},
			},
			wantStatusCode: http.StatusAccepted,
		},
		{
			name:           "missing uri",
			body:           `{}`,
			probes:         &mockProbePublisher{},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON body",
			body:           "nope",
			probes:         &mockProbePublisher{},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "publish failure",
			body: `{"uri":"/a.mov"}`,
			probes: &mockProbePublisher{
				publishFn: func(ctx context.Context, task repository.ProbeTask) error {
					return errors.New("channel closed")
				},
			},
			wantStatusCode: http.StatusInternalServerError,
		},
		{
			name:           "no queue",
			body:           `{"uri":"/a.mov"}`,
			wantStatusCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newDetailRouter(NewDetailHandler(&mockDetailService{}, nil, tt.probes))

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/probe", strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatusCode {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatusCode, rec.Code, rec.Body.String())
			}
		})
	}
}
