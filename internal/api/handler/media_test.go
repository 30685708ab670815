package handler

import (
	"bytes"
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
	"github.com/hszk-dev/mediacache/internal/reader"
	"github.com/hszk-dev/mediacache/internal/usecase"
)

func newMediaRouter(h *MediaHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/v1/frames/image", h.Image)
	r.Get("/v1/frames/audio", h.Audio)
	r.Post("/v1/frames/future", h.Future)
	r.Post("/v1/precache/clear", h.Clear)
	r.Post("/v1/precache/{requester}/playback", h.PlaybackPrecache)
	r.Post("/v1/precache/{requester}/static", h.StaticPrecache)
	r.Delete("/v1/precache/{requester}", h.ClearRequester)
	r.Delete("/v1/readers", h.RetireReader)
	r.Get("/v1/preferences", h.GetPreferences)
	r.Put("/v1/preferences", h.UpdatePreferences)
	return r
}

func TestMediaHandler_Image(t *testing.T) {
	requester := uuid.New()

	tests := []struct {
		name           string
		query          string
		setupMock      func(m *mockMediaService)
		wantStatusCode int
		checkResponse  func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:  "decoded frame",
			query: "uri=/media/a.mov&frame=12&fps=24&pin=true&requester=" + requester.String(),
			setupMock: func(m *mockMediaService) {
				m.getImageFn = func(ctx context.Context, frame model.FrameIdentity, pin bool, req uuid.UUID) (*model.DecodedBuffer, error) {
					if frame.URI != "/media/a.mov" || frame.Frame != 12 || frame.FrameRate != 24 {
						t.Errorf("unexpected frame %+v", frame)
					}
					if frame.Kind != model.KindImage {
						t.Errorf("Kind = %v, want image", frame.Kind)
					}
					if !pin {
						t.Error("pin should be true")
					}
					if req != requester {
						t.Errorf("requester = %v, want %v", req, requester)
					}
					return &model.DecodedBuffer{
						Payload:     []byte{1, 2, 3, 4, 5, 6},
						Width:       2,
						Height:      1,
						PixelFormat: model.PixelFormatRGB24,
						DisplayTime: 500 * time.Millisecond,
					}, nil
				}
			},
			wantStatusCode: http.StatusOK,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if !bytes.Equal(rec.Body.Bytes(), []byte{1, 2, 3, 4, 5, 6}) {
					t.Errorf("body = %v", rec.Body.Bytes())
				}
				if got := rec.Header().Get("X-Frame-Width"); got != "2" {
					t.Errorf("X-Frame-Width = %q, want 2", got)
				}
				if got := rec.Header().Get("X-Display-Time"); got != "0.5" {
					t.Errorf("X-Display-Time = %q, want 0.5", got)
				}
				if got := rec.Header().Get("X-Frame-Error"); got != "" {
					t.Errorf("X-Frame-Error = %q, want empty", got)
				}
			},
		},
		{
			name:  "error buffer is still a 200",
			query: "uri=/media/missing.mov",
			setupMock: func(m *mockMediaService) {
				m.getImageFn = func(ctx context.Context, frame model.FrameIdentity, pin bool, req uuid.UUID) (*model.DecodedBuffer, error) {
					return model.NewErrorBuffer(frame, "Missing media"), nil
				}
			},
			wantStatusCode: http.StatusOK,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if got := rec.Header().Get("X-Frame-Error"); got != "Missing media" {
					t.Errorf("X-Frame-Error = %q, want %q", got, "Missing media")
				}
			},
		},
		{
			name:           "missing uri",
			query:          "frame=1",
			setupMock:      func(m *mockMediaService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "negative frame",
			query:          "uri=/a.mov&frame=-1",
			setupMock:      func(m *mockMediaService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "invalid requester",
			query:          "uri=/a.mov&requester=nope",
			setupMock:      func(m *mockMediaService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:  "shutting down",
			query: "uri=/a.mov",
			setupMock: func(m *mockMediaService) {
				m.getImageFn = func(ctx context.Context, frame model.FrameIdentity, pin bool, req uuid.UUID) (*model.DecodedBuffer, error) {
					return nil, model.ErrConnectionUnavailable
				}
			},
			wantStatusCode: http.StatusServiceUnavailable,
		},
		{
			name:  "unexpected error",
			query: "uri=/a.mov",
			setupMock: func(m *mockMediaService) {
				m.getImageFn = func(ctx context.Context, frame model.FrameIdentity, pin bool, req uuid.UUID) (*model.DecodedBuffer, error) {
					return nil, errors.New("boom")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockMediaService{}
			tt.setupMock(m)
			r := newMediaRouter(NewMediaHandler(m))

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/frames/image?"+tt.query, nil))

			if rec.Code != tt.wantStatusCode {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatusCode, rec.Code, rec.Body.String())
			}
			if tt.checkResponse != nil {
				tt.checkResponse(t, rec)
			}
		})
	}
}

func TestMediaHandler_ImageScrub(t *testing.T) {
	requester := uuid.New()

	t.Run("delivered", func(t *testing.T) {
		m := &mockMediaService{
			requestImageFn: func(ctx context.Context, frame model.FrameIdentity, req uuid.UUID, deliver reader.Delivery) error {
				go deliver(&model.DecodedBuffer{Payload: []byte{9}})
				return nil
			},
		}
		r := newMediaRouter(NewMediaHandler(m))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/frames/image?mode=scrub&uri=/a.mov&requester="+requester.String(), nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if !bytes.Equal(rec.Body.Bytes(), []byte{9}) {
			t.Errorf("body = %v, want [9]", rec.Body.Bytes())
		}
	})

	t.Run("superseded", func(t *testing.T) {
		m := &mockMediaService{}
		h := NewMediaHandler(m)
		h.scrubTimeout = 10 * time.Millisecond
		r := newMediaRouter(h)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/frames/image?mode=scrub&uri=/a.mov&requester="+requester.String(), nil))

		if rec.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rec.Code)
		}
	})

	t.Run("requires requester", func(t *testing.T) {
		r := newMediaRouter(NewMediaHandler(&mockMediaService{}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/frames/image?mode=scrub&uri=/a.mov", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
}

func TestMediaHandler_Audio(t *testing.T) {
	m := &mockMediaService{
		getAudioFn: func(ctx context.Context, frame model.FrameIdentity, pin bool, req uuid.UUID) (*model.DecodedBuffer, error) {
			if frame.Kind != model.KindAudio {
				t.Errorf("Kind = %v, want audio", frame.Kind)
			}
			return &model.DecodedBuffer{Payload: make([]byte, 8), Channels: 2, SampleRate: 48000, Samples: 2}, nil
		},
	}
	r := newMediaRouter(NewMediaHandler(m))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/frames/audio?uri=/a.wav&frame=3", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Audio-Sample-Rate"); got != "48000" {
		t.Errorf("X-Audio-Sample-Rate = %q, want 48000", got)
	}
	if got := rec.Header().Get("X-Frame-Width"); got != "" {
		t.Errorf("X-Frame-Width = %q, want empty for audio", got)
	}
}

func TestMediaHandler_Future(t *testing.T) {
	m := &mockMediaService{
		getFutureFramesFn: func(ctx context.Context, frames []model.FrameIdentity) ([]*model.DecodedBuffer, error) {
			if len(frames) != 2 {
				t.Fatalf("len(frames) = %d, want 2", len(frames))
			}
			return []*model.DecodedBuffer{{Payload: []byte{1}}, nil}, nil
		},
	}
	r := newMediaRouter(NewMediaHandler(m))

	body := `{"frames":[{"uri":"/a.mov","frame":1},{"uri":"/a.mov","frame":2}]}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/frames/future", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp []FutureFrameResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("len(resp) = %d, want 2", len(resp))
	}
	if !resp[0].Available || resp[1].Available {
		t.Errorf("availability = %v/%v, want true/false", resp[0].Available, resp[1].Available)
	}
	if resp[0].Key == resp[1].Key {
		t.Error("distinct frames should have distinct keys")
	}
}

func TestMediaHandler_Precache(t *testing.T) {
	requester := uuid.New()
	deadline := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name           string
		path           string
		body           string
		setupMock      func(m *mockMediaService, called *string)
		wantStatusCode int
		wantCalled     string
	}{
		{
			name: "playback",
			path: "/v1/precache/" + requester.String() + "/playback",
			body: `{"frames":[{"uri":"/a.mov","frame":5,"required_by":"2026-01-02T03:04:05Z"}]}`,
			setupMock: func(m *mockMediaService, called *string) {
				m.playbackPrecacheFn = func(ctx context.Context, frames []model.TimedFrame, req uuid.UUID) (bool, error) {
					*called = "playback"
					if req != requester {
						t.Errorf("requester = %v, want %v", req, requester)
					}
					if len(frames) != 1 || !frames[0].RequiredBy.Equal(deadline) {
						t.Errorf("unexpected frames %+v", frames)
					}
					return true, nil
				}
			},
			wantStatusCode: http.StatusAccepted,
			wantCalled:     "playback",
		},
		{
			name: "static",
			path: "/v1/precache/" + requester.String() + "/static",
			body: `{"frames":[{"uri":"/a.mov","frame":5}]}`,
			setupMock: func(m *mockMediaService, called *string) {
				m.staticPrecacheFn = func(ctx context.Context, frames []model.TimedFrame, req uuid.UUID) (bool, error) {
					*called = "static"
					return true, nil
				}
			},
			wantStatusCode: http.StatusAccepted,
			wantCalled:     "static",
		},
		{
			name:           "invalid requester",
			path:           "/v1/precache/nope/playback",
			body:           `{"frames":[]}`,
			setupMock:      func(m *mockMediaService, called *string) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON body",
			path:           "/v1/precache/" + requester.String() + "/static",
			body:           "invalid json",
			setupMock:      func(m *mockMediaService, called *string) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "frame without uri",
			path:           "/v1/precache/" + requester.String() + "/static",
			body:           `{"frames":[{"frame":1}]}`,
			setupMock:      func(m *mockMediaService, called *string) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "shutting down",
			path: "/v1/precache/" + requester.String() + "/playback",
			body: `{"frames":[]}`,
			setupMock: func(m *mockMediaService, called *string) {
				m.playbackPrecacheFn = func(ctx context.Context, frames []model.TimedFrame, req uuid.UUID) (bool, error) {
					return false, model.ErrConnectionUnavailable
				}
			},
			wantStatusCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called string
			m := &mockMediaService{}
			tt.setupMock(m, &called)
			r := newMediaRouter(NewMediaHandler(m))

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatusCode {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatusCode, rec.Code, rec.Body.String())
			}
			if called != tt.wantCalled {
				t.Errorf("called = %q, want %q", called, tt.wantCalled)
			}
		})
	}
}

func TestMediaHandler_Clear(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	var got []uuid.UUID
	m := &mockMediaService{
		clearFn: func(ctx context.Context, requesters ...uuid.UUID) bool {
			got = append(got, requesters...)
			return true
		},
	}
	r := newMediaRouter(NewMediaHandler(m))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/precache/"+a.String(), nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}

	body := `{"requesters":["` + b.String() + `"]}`
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/precache/clear", strings.NewReader(body)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}

	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("cleared %v, want [%v %v]", got, a, b)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/precache/clear", strings.NewReader(`{"requesters":["bad"]}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestMediaHandler_RetireReader(t *testing.T) {
	source := uuid.New()
	m := &mockMediaService{
		retireFn: func(frame model.FrameIdentity) bool {
			return frame.SourceID == source && frame.StreamID == "v0"
		},
	}
	r := newMediaRouter(NewMediaHandler(m))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/readers?uri=/a.mov&stream=v0&source="+source.String(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp RetireResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !resp.Retired {
		t.Error("expected retired = true")
	}
}

func TestMediaHandler_Preferences(t *testing.T) {
	m := &mockMediaService{prefs: usecase.Preferences{MaxSourceCount: 256, MaxSourceAge: 10 * time.Minute, ReadAhead: 1}}
	r := newMediaRouter(NewMediaHandler(m))

	tests := []struct {
		name           string
		body           string
		wantStatusCode int
		want           usecase.Preferences
	}{
		{
			name:           "partial update keeps other values",
			body:           `{"max_source_count":4}`,
			wantStatusCode: http.StatusOK,
			want:           usecase.Preferences{MaxSourceCount: 4, MaxSourceAge: 10 * time.Minute, ReadAhead: 1},
		},
		{
			name:           "age in seconds",
			body:           `{"max_source_age":1.5,"read_ahead":3}`,
			wantStatusCode: http.StatusOK,
			want:           usecase.Preferences{MaxSourceCount: 4, MaxSourceAge: 1500 * time.Millisecond, ReadAhead: 3},
		},
		{
			name:           "zero count rejected",
			body:           `{"max_source_count":0}`,
			wantStatusCode: http.StatusBadRequest,
			want:           usecase.Preferences{MaxSourceCount: 4, MaxSourceAge: 1500 * time.Millisecond, ReadAhead: 3},
		},
		{
			name:           "invalid JSON body",
			body:           "{",
			wantStatusCode: http.StatusBadRequest,
			want:           usecase.Preferences{MaxSourceCount: 4, MaxSourceAge: 1500 * time.Millisecond, ReadAhead: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/preferences", strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatusCode {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatusCode, rec.Code, rec.Body.String())
			}
			if m.prefs != tt.want {
				t.Errorf("preferences = %+v, want %+v", m.prefs, tt.want)
			}
		})
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/preferences", nil))

	var resp PreferencesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.MaxSourceCount != 4 || resp.MaxSourceAge != 1.5 || resp.ReadAhead != 3 {
		t.Errorf("GET preferences = %+v", resp)
	}
}

func TestMediaError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrConnectionUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{model.NewMediaError(model.CodeMissing, "file does not exist: /x", nil), http.StatusNotFound},
		{model.ErrUnsupported, http.StatusUnsupportedMediaType},
		{model.ErrCorrupt, http.StatusUnprocessableEntity},
		{model.ErrUnreadable, http.StatusUnprocessableEntity},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		MediaError(rec, tt.err)
		if rec.Code != tt.want {
			t.Errorf("MediaError(%v) status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}
