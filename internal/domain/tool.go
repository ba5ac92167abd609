package domain

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// ReservedToolPrefix namespaces control operations handled by the server
// dispatcher ahead of registry lookup. The registry rejects registrations
// under this prefix so user tools can never shadow control operations.
const ReservedToolPrefix = "sys."

const (
	// ToolPing is the lightweight health probe. Responds {"ok":true}.
	ToolPing = "sys.ping"
	// ToolList returns a registry snapshot for operator tooling.
	ToolList = "sys.list"
	// ToolCancel is a best-effort cooperative cancellation notification.
	// Payload: {"id":"<correlation id>"}.
	ToolCancel = "sys.cancel"
)

// ReservedToolName reports whether a name is under the control namespace.
func ReservedToolName(name string) bool {
	return strings.HasPrefix(name, ReservedToolPrefix)
}

// Handler is the capability contract every tool implements. The context
// carries the request deadline and a cancellation signal; handlers that
// ignore cancellation run to completion and their late result is discarded.
type Handler interface {
	Invoke(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

func (f HandlerFunc) Invoke(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, payload)
}

// SourceLocationKind discriminates discovery source kinds.
type SourceLocationKind string

const (
	// SourcePlugin resolves against an explicit factory table supplied by
	// the engine's constructor.
	SourcePlugin SourceLocationKind = "plugin"
	// SourceManifest scans a directory for *.toml tool manifests.
	SourceManifest SourceLocationKind = "manifest"
)

// SourceLocation identifies one discovery source.
type SourceLocation struct {
	Kind SourceLocationKind `json:"kind"`
	// Name is the factory key for plugin sources.
	Name string `json:"name,omitempty"`
	// Path is the manifest directory for manifest sources.
	Path string `json:"path,omitempty"`
}

func (l SourceLocation) Key() string {
	if l.Kind == SourcePlugin {
		return string(l.Kind) + ":" + l.Name
	}
	return string(l.Kind) + ":" + l.Path
}

func (l SourceLocation) String() string { return l.Key() }

// ToolRegistration is the (name, schema, handler) triple a discovery source
// yields before the registry stamps it into a descriptor.
type ToolRegistration struct {
	Name         string
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Handler      Handler
	Source       SourceLocation
}

// ToolDescriptor is the immutable registry record for one tool.
// Re-registration of the same name replaces the descriptor atomically.
type ToolDescriptor struct {
	Name         string
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Handler      Handler
	Source       SourceLocation
	RegisteredAt time.Time
}

// ToolInfo is the wire-safe projection of a descriptor served by sys.list.
type ToolInfo struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Source       string          `json:"source,omitempty"`
	RegisteredAt time.Time       `json:"registered_at"`
}

// Info projects the descriptor for the control surface.
func (d ToolDescriptor) Info() ToolInfo {
	return ToolInfo{
		Name:         d.Name,
		Description:  d.Description,
		InputSchema:  d.InputSchema,
		OutputSchema: d.OutputSchema,
		Source:       d.Source.Key(),
		RegisteredAt: d.RegisteredAt,
	}
}
