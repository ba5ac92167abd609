// Package registry holds the in-memory tool registry: read-mostly, safe for
// unlimited concurrent lookups, writer-exclusive registration with atomic
// per-name replacement.
package registry

import (
	"encoding/json"
	"iter"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"tipr/internal/domain"
)

type Registry struct {
	logger *zap.Logger

	mu    sync.RWMutex
	tools map[string]domain.ToolDescriptor
}

type Options struct {
	Logger *zap.Logger
}

func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger: logger.Named("registry"),
		tools:  make(map[string]domain.ToolDescriptor),
	}
}

// Register validates the registration, resolves its schemas once, and
// inserts or atomically replaces the descriptor for the name.
func (r *Registry) Register(reg domain.ToolRegistration) (domain.ToolDescriptor, error) {
	const op = "registry.register"
	if reg.Name == "" {
		return domain.ToolDescriptor{}, domain.E(domain.CodeProtocolError, op, "tool name is required", nil)
	}
	if domain.ReservedToolName(reg.Name) {
		return domain.ToolDescriptor{}, domain.E(domain.CodeProtocolError, op, "tool name is reserved: "+reg.Name, nil)
	}
	if reg.Handler == nil {
		return domain.ToolDescriptor{}, domain.E(domain.CodeProtocolError, op, "tool handler is required: "+reg.Name, nil)
	}
	if err := resolveSchema(reg.InputSchema); err != nil {
		return domain.ToolDescriptor{}, domain.E(domain.CodeProtocolError, op, "invalid input schema for "+reg.Name, err)
	}
	if err := resolveSchema(reg.OutputSchema); err != nil {
		return domain.ToolDescriptor{}, domain.E(domain.CodeProtocolError, op, "invalid output schema for "+reg.Name, err)
	}

	desc := domain.ToolDescriptor{
		Name:         reg.Name,
		Description:  reg.Description,
		InputSchema:  reg.InputSchema,
		OutputSchema: reg.OutputSchema,
		Handler:      reg.Handler,
		Source:       reg.Source,
		RegisteredAt: time.Now().UTC(),
	}

	r.mu.Lock()
	_, replaced := r.tools[desc.Name]
	r.tools[desc.Name] = desc
	r.mu.Unlock()

	r.logger.Debug("tool registered",
		zap.String("tool", desc.Name),
		zap.String("source", desc.Source.Key()),
		zap.Bool("replaced", replaced),
	)
	return desc, nil
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (domain.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.tools[name]
	return desc, ok
}

// List yields a snapshot taken at call time; later mutations do not affect
// an in-progress enumeration, and the sequence is restartable.
func (r *Registry) List() iter.Seq[domain.ToolDescriptor] {
	r.mu.RLock()
	snapshot := make([]domain.ToolDescriptor, 0, len(r.tools))
	for _, desc := range r.tools {
		snapshot = append(snapshot, desc)
	}
	r.mu.RUnlock()

	return func(yield func(domain.ToolDescriptor) bool) {
		for _, desc := range snapshot {
			if !yield(desc) {
				return
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// resolveSchema checks a declared schema once at registration time. An
// empty schema means the tool accepts or returns arbitrary payloads.
func resolveSchema(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return err
	}
	_, err := schema.Resolve(nil)
	return err
}
