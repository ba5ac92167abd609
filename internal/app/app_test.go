package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tipr/internal/domain"
	"tipr/internal/infra/client"
	"tipr/internal/infra/registry"
	"tipr/internal/infra/server"
	"tipr/internal/infra/transport"
)

// startRuntime wires a server over in-memory pipes and returns a pooled
// client talking to it.
func startRuntime(t *testing.T, reg domain.Registry) *client.Client {
	t.Helper()
	srv := server.NewServer(server.Options{Registry: reg})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dialer := transport.NewPipeDialer(func(conn domain.Conn) {
		go func() {
			_ = srv.ServeConn(ctx, conn, domain.ConnMeta{Transport: "pipe", RemoteAddr: "inproc"})
		}()
	})
	c := client.New(client.Options{
		Dialer: dialer,
		Config: domain.ClientConfig{PoolMaxSize: 2, CallTimeoutSeconds: 5},
		Retry:  domain.RetryPolicy{MaxAttempts: 3, BaseDelayMS: 1, Multiplier: 2, MaxDelayMS: 10},
		Health: domain.HealthConfig{IntervalSeconds: 3600, TimeoutSeconds: 1},
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEndToEndEcho(t *testing.T) {
	reg := registry.New(registry.Options{})
	_, err := reg.Register(domain.ToolRegistration{
		Name: "text.echo",
		Handler: domain.HandlerFunc(func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
			return payload, nil
		}),
	})
	require.NoError(t, err)

	c := startRuntime(t, reg)
	out, err := c.Call(context.Background(), "text.echo", json.RawMessage(`"hi"`))
	require.NoError(t, err)
	require.JSONEq(t, `"hi"`, string(out))
}

func TestEndToEndUnknownToolIsFinal(t *testing.T) {
	c := startRuntime(t, registry.New(registry.Options{}))
	_, err := c.Call(context.Background(), "ghost.tool", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeToolNotFound, code)
}

func TestEndToEndControlSurface(t *testing.T) {
	reg := registry.New(registry.Options{})
	_, err := reg.Register(domain.ToolRegistration{
		Name:        "math.add",
		Description: "adds two numbers",
		Handler: domain.HandlerFunc(func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
			var in struct{ A, B float64 }
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, err
			}
			return json.Marshal(map[string]float64{"sum": in.A + in.B})
		}),
	})
	require.NoError(t, err)

	c := startRuntime(t, reg)
	require.NoError(t, c.Ping(context.Background()))

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "math.add", tools[0].Name)

	out, err := c.Call(context.Background(), "math.add", json.RawMessage(`{"a":2,"b":3}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"sum":5}`, string(out))
}

func TestEndToEndCancellationPropagates(t *testing.T) {
	reg := registry.New(registry.Options{})
	observed := make(chan struct{}, 1)
	_, err := reg.Register(domain.ToolRegistration{
		Name: "slow.wait",
		Handler: domain.HandlerFunc(func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			<-ctx.Done()
			observed <- struct{}{}
			return nil, ctx.Err()
		}),
	})
	require.NoError(t, err)

	c := startRuntime(t, reg)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = c.Call(ctx, "slow.wait", nil)
	require.Error(t, err)

	select {
	case <-observed:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never observed cancellation")
	}
}

func TestInitializeRuntimeFromConfig(t *testing.T) {
	dir := t.TempDir()
	manifestDir := filepath.Join(dir, "tools")
	require.NoError(t, os.MkdirAll(manifestDir, 0o755))
	manifest := "name = \"shell.cat\"\n[exec]\ncommand = [\"cat\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(manifestDir, "cat.toml"), []byte(manifest), 0o644))

	cfgPath := filepath.Join(dir, "tipr.yaml")
	cfg := `
server:
  listenAddress: "127.0.0.1:0"
discovery:
  stateFile: "` + filepath.Join(dir, "state.db") + `"
  sources:
    - kind: plugin
      name: builtin
    - kind: manifest
      path: "` + manifestDir + `"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	application, err := InitializeRuntime(context.Background(), ServeConfig{ConfigPath: cfgPath}, LoggingConfig{Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NotNil(t, application)

	application.engine.ScanAll(context.Background())
	stats := application.engine.Stats()
	require.Zero(t, stats.Failures)
	require.GreaterOrEqual(t, stats.ToolsRegistered, 3) // builtin echo + clock.now + shell.cat
	require.NoError(t, application.engine.Close())
}

func TestRunStdioOnlySkipsProtocolListener(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tipr.yaml")
	cfg := `
server:
  listenAddress: ""
  stdio: true
observability:
  listenAddress: "127.0.0.1:0"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	application, err := InitializeRuntime(ctx, ServeConfig{ConfigPath: cfgPath}, LoggingConfig{Logger: zap.NewNop()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- application.Run() }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stdio-only runtime did not stop on context cancellation")
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tipr.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("{}\n"), 0o644))

	a := New(zap.NewNop())
	require.NoError(t, a.Validate(context.Background(), ValidateConfig{ConfigPath: cfgPath}))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("retry:\n  maxAttempts: 0\n"), 0o644))
	require.Error(t, a.Validate(context.Background(), ValidateConfig{ConfigPath: bad}))
}
