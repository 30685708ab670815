package decoder

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

// Registry holds the enabled decode plugins and picks one per file.
type Registry struct {
	plugins []Plugin
	byName  map[string]Plugin
	locator Locator
}

// NewRegistry creates a Registry. Registration order breaks certainty ties:
// the earlier plugin wins.
func NewRegistry(locator Locator, plugins ...Plugin) *Registry {
	byName := make(map[string]Plugin, len(plugins))
	for _, p := range plugins {
		byName[p.Name()] = p
	}
	return &Registry{
		plugins: plugins,
		byName:  byName,
		locator: locator,
	}
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	return r.plugins
}

// Lookup returns the plugin registered under name.
func (r *Registry) Lookup(name string) (Plugin, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Locator returns the locator decoders use to open URIs.
func (r *Registry) Locator() Locator {
	return r.locator
}

// Select returns the plugin that should read uri. A hint naming a registered
// plugin is honoured without asking the others.
func (r *Registry) Select(ctx context.Context, uri, hint string) (Plugin, error) {
	if hint != "" {
		if p, ok := r.byName[hint]; ok {
			return p, nil
		}
	}

	signature, err := r.locator.Signature(ctx, uri)
	if err != nil {
		return nil, err
	}

	p, _, err := r.Best(ctx, uri, signature)
	return p, err
}

// Best asks every plugin whether it supports uri and returns the one with
// the strictly greatest certainty. Plugins that fail the query count as
// CertaintyNone. Returns model.ErrUnsupported when nobody claims the file.
func (r *Registry) Best(ctx context.Context, uri string, signature []byte) (Plugin, model.Certainty, error) {
	answers := make([]model.Certainty, len(r.plugins))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range r.plugins {
		g.Go(func() error {
			c, err := p.Supported(gctx, uri, signature)
			if err != nil {
				slog.Warn("plugin support query failed",
					"plugin", p.Name(),
					"uri", uri,
					"error", err,
				)
				c = model.CertaintyNone
			}
			answers[i] = c
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, model.CertaintyNone, model.NewMediaError(model.CodeTimeout, "", err)
	}

	best := -1
	bestCertainty := model.CertaintyNone
	for i, c := range answers {
		if c > bestCertainty {
			best, bestCertainty = i, c
		}
	}
	if best < 0 {
		return nil, model.CertaintyNone, model.NewMediaError(model.CodeUnsupported, "Unsupported format", nil)
	}
	return r.plugins[best], bestCertainty, nil
}

// String lists the plugin names, for logs.
func (r *Registry) String() string {
	names := make([]string, 0, len(r.plugins))
	for _, p := range r.plugins {
		names = append(names, p.Name())
	}
	return fmt.Sprint(names)
}
