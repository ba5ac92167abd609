package discovery

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tipr/internal/domain"
	"tipr/internal/infra/registry"
)

func echoRegistration(name string) domain.ToolRegistration {
	return domain.ToolRegistration{
		Name: name,
		Handler: domain.HandlerFunc(func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
			return payload, nil
		}),
	}
}

// fakeProvider is a scriptable location for engine tests.
type fakeProvider struct {
	location  domain.SourceLocation
	fp        string
	tools     []domain.ToolRegistration
	err       error
	discovers int
}

func (p *fakeProvider) Location() domain.SourceLocation { return p.location }

func (p *fakeProvider) Fingerprint() (string, bool) { return p.fp, p.fp != "" }

func (p *fakeProvider) Discover(context.Context) ([]domain.ToolRegistration, error) {
	p.discovers++
	if p.err != nil {
		return nil, p.err
	}
	out := make([]domain.ToolRegistration, len(p.tools))
	copy(out, p.tools)
	for i := range out {
		out[i].Source = p.location
	}
	return out, nil
}

func pluginLocation(name string) domain.SourceLocation {
	return domain.SourceLocation{Kind: domain.SourcePlugin, Name: name}
}

func TestScanAllIsolatesFailingLocation(t *testing.T) {
	reg := registry.New(registry.Options{})
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.toml"), []byte("name = [unclosed"), 0o644))

	good := &fakeProvider{
		location: pluginLocation("a"),
		tools:    []domain.ToolRegistration{echoRegistration("a.one"), echoRegistration("a.two")},
	}
	broken := newManifestProvider(domain.SourceLocation{Kind: domain.SourceManifest, Path: dir}, zap.NewNop())
	alsoGood := &fakeProvider{
		location: pluginLocation("c"),
		tools:    []domain.ToolRegistration{echoRegistration("c.one")},
	}

	engine := NewEngine(Options{
		Registry:  reg,
		Providers: []Provider{good, broken, alsoGood},
	})
	engine.ScanAll(context.Background())

	require.Equal(t, 3, reg.Len())
	for _, name := range []string{"a.one", "a.two", "c.one"} {
		_, ok := reg.Lookup(name)
		require.True(t, ok, "expected %s registered", name)
	}

	diags := engine.Diagnostics()
	require.Len(t, diags, 1)
	require.Equal(t, broken.Location().Key(), diags[0].Location)
	require.Contains(t, diags[0].Message, "broken.toml")

	stats := engine.Stats()
	require.Equal(t, 3, stats.LocationsScanned)
	require.Equal(t, 1, stats.Failures)
	require.Equal(t, 3, stats.ToolsRegistered)
}

func TestScanRemovesToolsDroppedByLocation(t *testing.T) {
	reg := registry.New(registry.Options{})
	provider := &fakeProvider{
		location: pluginLocation("p"),
		tools:    []domain.ToolRegistration{echoRegistration("p.keep"), echoRegistration("p.drop")},
	}
	engine := NewEngine(Options{Registry: reg, Providers: []Provider{provider}})

	engine.ScanAll(context.Background())
	require.Equal(t, 2, reg.Len())

	provider.tools = []domain.ToolRegistration{echoRegistration("p.keep")}
	engine.ScanAll(context.Background())

	require.Equal(t, 1, reg.Len())
	_, ok := reg.Lookup("p.drop")
	require.False(t, ok)
}

func TestScanPreservesForeignRegistrations(t *testing.T) {
	reg := registry.New(registry.Options{})
	_, err := reg.Register(echoRegistration("manual.tool"))
	require.NoError(t, err)

	provider := &fakeProvider{
		location: pluginLocation("p"),
		tools:    []domain.ToolRegistration{echoRegistration("p.one")},
	}
	engine := NewEngine(Options{Registry: reg, Providers: []Provider{provider}})
	engine.ScanAll(context.Background())
	engine.ScanAll(context.Background())

	_, ok := reg.Lookup("manual.tool")
	require.True(t, ok)
}

func TestScanFailureKeepsPriorRegistrations(t *testing.T) {
	reg := registry.New(registry.Options{})
	provider := &fakeProvider{
		location: pluginLocation("p"),
		tools:    []domain.ToolRegistration{echoRegistration("p.one")},
	}
	engine := NewEngine(Options{Registry: reg, Providers: []Provider{provider}})
	engine.ScanAll(context.Background())
	require.Equal(t, 1, reg.Len())

	provider.err = os.ErrPermission
	engine.ScanAll(context.Background())

	_, ok := reg.Lookup("p.one")
	require.True(t, ok, "broken rescan must not unregister working tools")
	require.Len(t, engine.Diagnostics(), 1)
}

func TestRefreshSkipsUnchangedFingerprint(t *testing.T) {
	reg := registry.New(registry.Options{})
	provider := &fakeProvider{
		location: pluginLocation("p"),
		fp:       "v1",
		tools:    []domain.ToolRegistration{echoRegistration("p.one")},
	}
	engine := NewEngine(Options{Registry: reg, Providers: []Provider{provider}})

	engine.ScanAll(context.Background())
	require.Equal(t, 1, provider.discovers)

	key := provider.Location().Key()
	engine.Refresh(context.Background(), []string{key})
	require.Equal(t, 1, provider.discovers, "unchanged fingerprint must skip the rescan")

	provider.fp = "v2"
	provider.tools = append(provider.tools, echoRegistration("p.two"))
	engine.Refresh(context.Background(), []string{key})
	require.Equal(t, 2, provider.discovers)
	require.Equal(t, 2, reg.Len())

	engine.Refresh(context.Background(), []string{"no-such-location"})
	require.Equal(t, 2, provider.discovers)
}

func TestManifestProviderLoadsAndInvokes(t *testing.T) {
	dir := t.TempDir()
	manifest := `
name = "text.echo"
description = "Echoes its stdin payload."
input_schema = '{"type":"object"}'

[exec]
command = ["cat"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.toml"), []byte(manifest), 0o644))

	provider := newManifestProvider(domain.SourceLocation{Kind: domain.SourceManifest, Path: dir}, zap.NewNop())
	regs, err := provider.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.Equal(t, "text.echo", regs[0].Name)

	out, err := regs[0].Handler.Invoke(context.Background(), json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(out))
}

func TestManifestProviderRejectsIncompleteManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noexec.toml"), []byte(`name = "x"`), 0o644))

	provider := newManifestProvider(domain.SourceLocation{Kind: domain.SourceManifest, Path: dir}, zap.NewNop())
	_, err := provider.Discover(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing exec.command")
}

func TestManifestFingerprintTracksContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = \"a\"\n[exec]\ncommand = [\"true\"]\n"), 0o644))

	provider := newManifestProvider(domain.SourceLocation{Kind: domain.SourceManifest, Path: dir}, zap.NewNop())
	first, ok := provider.Fingerprint()
	require.True(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("name = \"b\"\n[exec]\ncommand = [\"true\"]\n"), 0o644))
	second, ok := provider.Fingerprint()
	require.True(t, ok)
	require.NotEqual(t, first, second)
}

func TestBoltStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "discovery.db")
	store, err := OpenState(path)
	require.NoError(t, err)

	_, ok := store.Fingerprint("manifest:/etc/tools")
	require.False(t, ok)

	require.NoError(t, store.SetFingerprint("manifest:/etc/tools", "abc123"))
	require.NoError(t, store.Close())

	store, err = OpenState(path)
	require.NoError(t, err)
	defer store.Close()
	fp, ok := store.Fingerprint("manifest:/etc/tools")
	require.True(t, ok)
	require.Equal(t, "abc123", fp)
}

func TestBuildProvidersRejectsUnknownPlugin(t *testing.T) {
	cfg := domain.DiscoveryConfig{Sources: []domain.SourceLocation{pluginLocation("ghost")}}
	_, err := BuildProviders(cfg, BuiltinPlugins(), zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown plugin")
}

func TestBuiltinEchoPlugin(t *testing.T) {
	cfg := domain.DiscoveryConfig{Sources: []domain.SourceLocation{pluginLocation("builtin")}}
	providers, err := BuildProviders(cfg, BuiltinPlugins(), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, providers, 1)

	regs, err := providers[0].Discover(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, regs)

	names := make(map[string]domain.Handler, len(regs))
	for _, reg := range regs {
		names[reg.Name] = reg.Handler
	}
	echo, ok := names["echo"]
	require.True(t, ok)
	out, err := echo.Invoke(context.Background(), json.RawMessage(`"hi"`))
	require.NoError(t, err)
	require.JSONEq(t, `"hi"`, string(out))
}
