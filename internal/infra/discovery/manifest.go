package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"tipr/internal/domain"
	"tipr/internal/infra/hashutil"
	"tipr/internal/infra/telemetry"
)

// manifestFile is the on-disk TOML shape of one tool definition.
type manifestFile struct {
	Name         string       `toml:"name"`
	Description  string       `toml:"description"`
	InputSchema  string       `toml:"input_schema"`
	OutputSchema string       `toml:"output_schema"`
	Exec         manifestExec `toml:"exec"`
}

type manifestExec struct {
	Command []string          `toml:"command"`
	Env     map[string]string `toml:"env"`
	Cwd     string            `toml:"cwd"`
}

type manifestProvider struct {
	location domain.SourceLocation
	logger   *zap.Logger
}

func newManifestProvider(location domain.SourceLocation, logger *zap.Logger) *manifestProvider {
	return &manifestProvider{location: location, logger: logger.Named("discovery.manifest")}
}

func (p *manifestProvider) Location() domain.SourceLocation { return p.location }

func (p *manifestProvider) Fingerprint() (string, bool) {
	paths, err := p.manifestPaths()
	if err != nil {
		return "", false
	}
	fp, err := hashutil.SumFiles(paths)
	if err != nil {
		return "", false
	}
	return fp, true
}

func (p *manifestProvider) manifestPaths() ([]string, error) {
	entries, err := os.ReadDir(p.location.Path)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		paths = append(paths, filepath.Join(p.location.Path, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func (p *manifestProvider) Discover(ctx context.Context) ([]domain.ToolRegistration, error) {
	paths, err := p.manifestPaths()
	if err != nil {
		return nil, fmt.Errorf("read manifest dir %s: %w", p.location.Path, err)
	}
	regs := make([]domain.ToolRegistration, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reg, err := p.loadManifest(path)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", filepath.Base(path), err)
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

func (p *manifestProvider) loadManifest(path string) (domain.ToolRegistration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.ToolRegistration{}, err
	}
	var mf manifestFile
	if err := toml.Unmarshal(raw, &mf); err != nil {
		return domain.ToolRegistration{}, fmt.Errorf("parse: %w", err)
	}
	if mf.Name == "" {
		return domain.ToolRegistration{}, fmt.Errorf("missing name")
	}
	if len(mf.Exec.Command) == 0 {
		return domain.ToolRegistration{}, fmt.Errorf("missing exec.command")
	}
	reg := domain.ToolRegistration{
		Name:        mf.Name,
		Description: mf.Description,
		Source:      p.location,
		Handler: &execHandler{
			tool:    mf.Name,
			command: mf.Exec.Command,
			env:     mf.Exec.Env,
			cwd:     mf.Exec.Cwd,
			logger:  p.logger,
		},
	}
	if mf.InputSchema != "" {
		reg.InputSchema = json.RawMessage(mf.InputSchema)
	}
	if mf.OutputSchema != "" {
		reg.OutputSchema = json.RawMessage(mf.OutputSchema)
	}
	return reg, nil
}

// execHandler runs the manifest's command once per invocation: payload on
// stdin, result JSON on stdout.
type execHandler struct {
	tool    string
	command []string
	env     map[string]string
	cwd     string
	logger  *zap.Logger
}

func (h *execHandler) Invoke(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	cmd := exec.CommandContext(ctx, h.command[0], h.command[1:]...)
	cmd.Dir = h.cwd
	cmd.Env = append(os.Environ(), formatEnv(h.env)...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			code, _ := domain.CodeFrom(ctxErr)
			return nil, domain.E(code, "discovery.exec", "tool command interrupted", ctxErr)
		}
		h.logger.Debug("tool command failed",
			zap.String(telemetry.FieldTool, h.tool),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err))
		return nil, domain.E(domain.CodeToolExecutionError, "discovery.exec", "tool command failed", err)
	}
	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(out) {
		return nil, domain.E(domain.CodeToolExecutionError, "discovery.exec", "tool command produced non-JSON output", nil)
	}
	return json.RawMessage(out), nil
}

func formatEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
