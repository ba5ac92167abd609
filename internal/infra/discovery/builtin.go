package discovery

import (
	"context"
	"encoding/json"
	"time"

	"tipr/internal/domain"
)

// BuiltinPlugins returns the factory table for plugin sources shipped with
// the daemon. Operators reference them by name in the sources list.
func BuiltinPlugins() map[string]PluginFunc {
	return map[string]PluginFunc{
		"builtin": builtinTools,
	}
}

func builtinTools(context.Context) ([]domain.ToolRegistration, error) {
	return []domain.ToolRegistration{
		{
			Name:        "echo",
			Description: "Returns its input payload unchanged.",
			InputSchema: json.RawMessage(`{"type":"object"}`),
			Handler: domain.HandlerFunc(func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
				if len(payload) == 0 {
					return json.RawMessage("null"), nil
				}
				return payload, nil
			}),
		},
		{
			Name:        "clock.now",
			Description: "Returns the current UTC time in RFC 3339 format.",
			Handler: domain.HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
				return json.Marshal(map[string]string{"now": time.Now().UTC().Format(time.RFC3339Nano)})
			}),
		},
	}, nil
}
