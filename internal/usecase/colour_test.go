package usecase

import (
	"bytes"
	"context"
	"testing"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

func TestPixelConverter_ToRGB24(t *testing.T) {
	tests := []struct {
		name     string
		thumb    *model.ThumbnailBuffer
		want     []byte
		wantCode model.ErrorCode
	}{
		{
			name:  "rgb24 unchanged",
			thumb: &model.ThumbnailBuffer{Width: 1, Height: 1, Format: model.ThumbnailRGB24, Pixels: []byte{1, 2, 3}},
			want:  []byte{1, 2, 3},
		},
		{
			name:  "rgba32 drops alpha",
			thumb: &model.ThumbnailBuffer{Width: 2, Height: 1, Format: model.ThumbnailRGBA32, Pixels: []byte{1, 2, 3, 255, 4, 5, 6, 0}},
			want:  []byte{1, 2, 3, 4, 5, 6},
		},
		{
			name:  "bgr24 swaps channels",
			thumb: &model.ThumbnailBuffer{Width: 1, Height: 2, Format: model.ThumbnailBGR24, Pixels: []byte{1, 2, 3, 4, 5, 6}},
			want:  []byte{3, 2, 1, 6, 5, 4},
		},
		{
			name:     "short buffer",
			thumb:    &model.ThumbnailBuffer{Width: 2, Height: 2, Format: model.ThumbnailBGR24, Pixels: []byte{1, 2, 3}},
			wantCode: model.CodeCorrupt,
		},
		{
			name:     "unknown format",
			thumb:    &model.ThumbnailBuffer{Width: 1, Height: 1, Format: "yuv420p", Pixels: []byte{1, 2}},
			wantCode: model.CodeUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PixelConverter{}.ToRGB24(context.Background(), tt.thumb)
			if tt.wantCode != "" {
				if code, _ := model.CodeOf(err); code != tt.wantCode {
					t.Errorf("ToRGB24() error = %v, want code %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToRGB24() error = %v", err)
			}
			if got.Format != model.ThumbnailRGB24 {
				t.Errorf("Format = %v, want rgb24", got.Format)
			}
			if got.Width != tt.thumb.Width || got.Height != tt.thumb.Height {
				t.Errorf("size = %dx%d, want %dx%d", got.Width, got.Height, tt.thumb.Width, tt.thumb.Height)
			}
			if !bytes.Equal(got.Pixels, tt.want) {
				t.Errorf("Pixels = %v, want %v", got.Pixels, tt.want)
			}
		})
	}
}
