// Package discovery locates tool definitions in configured source
// locations and feeds the registry. Locations fail independently: one
// broken definition never aborts the scan of the others.
package discovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tipr/internal/domain"
)

// Provider introspects one source location.
type Provider interface {
	Location() domain.SourceLocation
	// Fingerprint identifies the location's current content. ok is false
	// when the location has no meaningful fingerprint (plugin sources).
	Fingerprint() (fp string, ok bool)
	Discover(ctx context.Context) ([]domain.ToolRegistration, error)
}

// PluginFunc is the explicit registration entry point a plugin source
// exposes. No runtime reflection: the factory table is supplied by whoever
// constructs the engine.
type PluginFunc func(ctx context.Context) ([]domain.ToolRegistration, error)

type pluginProvider struct {
	location domain.SourceLocation
	fn       PluginFunc
}

func (p *pluginProvider) Location() domain.SourceLocation { return p.location }

func (p *pluginProvider) Fingerprint() (string, bool) { return "", false }

func (p *pluginProvider) Discover(ctx context.Context) ([]domain.ToolRegistration, error) {
	regs, err := p.fn(ctx)
	if err != nil {
		return nil, err
	}
	for i := range regs {
		regs[i].Source = p.location
	}
	return regs, nil
}

// BuildProviders maps configured source locations onto providers. Unknown
// kinds and unknown plugin names are configuration errors, not scan
// diagnostics.
func BuildProviders(cfg domain.DiscoveryConfig, plugins map[string]PluginFunc, logger *zap.Logger) ([]Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	providers := make([]Provider, 0, len(cfg.Sources))
	for _, location := range cfg.Sources {
		switch location.Kind {
		case domain.SourcePlugin:
			fn, ok := plugins[location.Name]
			if !ok {
				return nil, fmt.Errorf("unknown plugin source %q", location.Name)
			}
			providers = append(providers, &pluginProvider{location: location, fn: fn})
		case domain.SourceManifest:
			if location.Path == "" {
				return nil, fmt.Errorf("manifest source requires a path")
			}
			providers = append(providers, newManifestProvider(location, logger))
		default:
			return nil, fmt.Errorf("unknown source kind %q", location.Kind)
		}
	}
	return providers, nil
}
