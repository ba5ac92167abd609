package registry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tipr/internal/domain"
)

func echoHandler() domain.Handler {
	return domain.HandlerFunc(func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})
}

func registration(name string) domain.ToolRegistration {
	return domain.ToolRegistration{
		Name:        name,
		Description: "test tool",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler:     echoHandler(),
		Source:      domain.SourceLocation{Kind: domain.SourcePlugin, Name: "test"},
	}
}

func TestRegisterLookupUnregister(t *testing.T) {
	reg := New(Options{})

	desc, err := reg.Register(registration("echo"))
	require.NoError(t, err)
	require.Equal(t, "echo", desc.Name)
	require.False(t, desc.RegisteredAt.IsZero())

	got, ok := reg.Lookup("echo")
	require.True(t, ok)
	require.Equal(t, desc.Name, got.Name)

	reg.Unregister("echo")
	_, ok = reg.Lookup("echo")
	require.False(t, ok)

	// Unregister of an absent name is a no-op.
	reg.Unregister("echo")
	require.Equal(t, 0, reg.Len())
}

func TestRegisterReplacesByName(t *testing.T) {
	reg := New(Options{})

	first := registration("echo")
	_, err := reg.Register(first)
	require.NoError(t, err)

	second := registration("echo")
	second.Description = "replacement"
	_, err = reg.Register(second)
	require.NoError(t, err)

	got, ok := reg.Lookup("echo")
	require.True(t, ok)
	require.Equal(t, "replacement", got.Description)
	require.Equal(t, 1, reg.Len())
}

func TestRegisterRejectsInvalid(t *testing.T) {
	reg := New(Options{})

	noName := registration("")
	_, err := reg.Register(noName)
	require.Error(t, err)

	reserved := registration("sys.shadow")
	_, err = reg.Register(reserved)
	require.Error(t, err)

	noHandler := registration("broken")
	noHandler.Handler = nil
	_, err = reg.Register(noHandler)
	require.Error(t, err)

	badSchema := registration("badschema")
	badSchema.InputSchema = json.RawMessage(`{"type":`)
	_, err = reg.Register(badSchema)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeProtocolError, code)
}

func TestListIsSnapshot(t *testing.T) {
	reg := New(Options{})
	_, err := reg.Register(registration("a"))
	require.NoError(t, err)
	_, err = reg.Register(registration("b"))
	require.NoError(t, err)

	seq := reg.List()

	// Mutations after List must not affect the captured snapshot.
	reg.Unregister("a")
	_, err = reg.Register(registration("c"))
	require.NoError(t, err)

	names := map[string]bool{}
	for desc := range seq {
		names[desc.Name] = true
	}
	require.Equal(t, map[string]bool{"a": true, "b": true}, names)

	// The sequence is restartable.
	count := 0
	for range seq {
		count++
	}
	require.Equal(t, 2, count)
}

func TestConcurrentLookupsDuringRegistration(t *testing.T) {
	reg := New(Options{})
	_, err := reg.Register(registration("echo"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = reg.Register(registration("echo"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				desc, ok := reg.Lookup("echo")
				require.True(t, ok)
				require.NotNil(t, desc.Handler)
			}
		}()
	}
	wg.Wait()
}
