package reader

import (
	"context"
	"errors"
	"testing"

	"github.com/hszk-dev/mediacache/internal/decoder"
	"github.com/hszk-dev/mediacache/internal/domain/model"
)

func TestFactory_Open(t *testing.T) {
	plugin := &mockPlugin{}
	registry := decoder.NewRegistry(decoder.SchemeLocator{"file": decoder.FileLocator{}}, plugin, decoder.BlankPlugin{})

	tests := []struct {
		name       string
		frame      model.FrameIdentity
		wantPlugin string
		wantErr    error
	}{
		{
			name:       "hint selects plugin",
			frame:      model.FrameIdentity{URI: "file:///a.exr", ReaderHint: "mock"},
			wantPlugin: "mock",
		},
		{
			name:       "blank uri",
			frame:      model.FrameIdentity{URI: model.BlankURI},
			wantPlugin: "blank",
		},
		{
			name:    "nothing claims the file",
			frame:   model.FrameIdentity{URI: "file:///does/not/exist.xyz"},
			wantErr: model.ErrMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFactory(registry, newMapCache(), newMapCache(), DefaultFactoryConfig())

			r, err := f.Open(context.Background(), tt.frame.URI, tt.frame)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Open() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer r.Close()

			if r.Plugin().Name() != tt.wantPlugin {
				t.Errorf("Plugin() = %s, want %s", r.Plugin().Name(), tt.wantPlugin)
			}
			if r.URI() != tt.frame.URI {
				t.Errorf("URI() = %s, want %s", r.URI(), tt.frame.URI)
			}
		})
	}
}

func TestFactory_Closed(t *testing.T) {
	registry := decoder.NewRegistry(decoder.SchemeLocator{"file": decoder.FileLocator{}}, decoder.BlankPlugin{})
	f := NewFactory(registry, newMapCache(), newMapCache(), DefaultFactoryConfig())
	f.Close()

	_, err := f.Open(context.Background(), model.BlankURI, model.FrameIdentity{URI: model.BlankURI})
	if !errors.Is(err, model.ErrConnectionUnavailable) {
		t.Errorf("Open() error = %v, want ConnectionUnavailable", err)
	}
}
