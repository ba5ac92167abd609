package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tipr/internal/domain"
	"tipr/internal/infra/telemetry"
)

// Diagnostic records one failed location scan. Full scans reset the
// diagnostic set; a location clears its own entry on the next successful
// scan.
type Diagnostic struct {
	Location string    `json:"location"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Stats summarizes the most recent scan activity.
type Stats struct {
	LocationsScanned int           `json:"locations_scanned"`
	ToolsRegistered  int           `json:"tools_registered"`
	Failures         int           `json:"failures"`
	LastScanAt       time.Time     `json:"last_scan_at"`
	LastScanDuration time.Duration `json:"last_scan_duration"`
}

// Options configures the discovery engine.
type Options struct {
	Registry  domain.Registry
	Providers []Provider
	State     StateStore
	Metrics   domain.Metrics
	Logger    *zap.Logger
}

// Engine scans source locations and reconciles the registry. Each location
// fails independently: a malformed location yields one diagnostic while the
// remaining locations register normally. The engine only ever unregisters
// names it registered itself.
type Engine struct {
	registry  domain.Registry
	providers []Provider
	state     StateStore
	metrics   domain.Metrics
	logger    *zap.Logger

	mu    sync.Mutex
	owned map[string][]string // location key -> tool names registered by that location
	diags map[string]Diagnostic
	stats Stats
}

func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	state := opts.State
	if state == nil {
		state = NewMemoryState()
	}
	return &Engine{
		registry:  opts.Registry,
		providers: opts.Providers,
		state:     state,
		metrics:   metrics,
		logger:    logger.Named("discovery"),
		owned:     make(map[string][]string),
		diags:     make(map[string]Diagnostic),
	}
}

// ScanAll scans every configured location and rebuilds its registrations.
func (e *Engine) ScanAll(ctx context.Context) {
	started := time.Now()
	e.logger.Debug("scan started",
		telemetry.EventField(telemetry.EventScanStart),
		zap.Int("locations", len(e.providers)))

	e.mu.Lock()
	e.diags = make(map[string]Diagnostic)
	e.mu.Unlock()

	scanned, failures := 0, 0
	for _, provider := range e.providers {
		if ctx.Err() != nil {
			return
		}
		scanned++
		if !e.scanLocation(ctx, provider) {
			failures++
		}
	}
	e.finishScan(domain.ScanModeFull, started, scanned, failures)
}

// Refresh re-scans only the locations named in changed, skipping any whose
// fingerprint matches the stored one. Unknown keys are ignored.
func (e *Engine) Refresh(ctx context.Context, changed []string) {
	if len(changed) == 0 {
		return
	}
	changedSet := make(map[string]bool, len(changed))
	for _, key := range changed {
		changedSet[key] = true
	}

	started := time.Now()
	scanned, failures := 0, 0
	for _, provider := range e.providers {
		if ctx.Err() != nil {
			return
		}
		key := provider.Location().Key()
		if !changedSet[key] {
			continue
		}
		if fp, ok := provider.Fingerprint(); ok {
			if stored, found := e.state.Fingerprint(key); found && stored == fp {
				e.logger.Debug("location unchanged, skipping", telemetry.LocationField(key))
				continue
			}
		}
		scanned++
		if !e.scanLocation(ctx, provider) {
			failures++
		}
	}
	if scanned == 0 {
		return
	}
	e.finishScan(domain.ScanModeIncremental, started, scanned, failures)
}

func (e *Engine) scanLocation(ctx context.Context, provider Provider) bool {
	location := provider.Location()
	key := location.Key()

	regs, err := provider.Discover(ctx)
	if err != nil {
		e.metrics.ObserveScanFailure(key)
		e.logger.Warn("location scan failed",
			telemetry.EventField(telemetry.EventScanLocationFail),
			telemetry.LocationField(key),
			zap.Error(err))
		e.mu.Lock()
		e.diags[key] = Diagnostic{Location: key, Message: err.Error(), At: time.Now().UTC()}
		e.mu.Unlock()
		// Prior registrations from this location stay in place; a broken
		// edit must not take working tools offline.
		return false
	}

	registered := make([]string, 0, len(regs))
	for _, reg := range regs {
		if _, err := e.registry.Register(reg); err != nil {
			e.logger.Warn("tool registration rejected",
				telemetry.LocationField(key),
				telemetry.ToolField(reg.Name),
				zap.Error(err))
			continue
		}
		registered = append(registered, reg.Name)
	}

	e.mu.Lock()
	previous := e.owned[key]
	e.owned[key] = registered
	delete(e.diags, key)
	e.mu.Unlock()

	// Drop names this location used to provide but no longer does.
	current := make(map[string]bool, len(registered))
	for _, name := range registered {
		current[name] = true
	}
	for _, name := range previous {
		if !current[name] {
			e.registry.Unregister(name)
		}
	}

	if fp, ok := provider.Fingerprint(); ok {
		if err := e.state.SetFingerprint(key, fp); err != nil {
			e.logger.Warn("fingerprint persist failed", telemetry.LocationField(key), zap.Error(err))
		}
	}
	return true
}

func (e *Engine) finishScan(mode domain.ScanMode, started time.Time, scanned, failures int) {
	elapsed := time.Since(started)
	e.metrics.ObserveScan(mode, elapsed)
	e.metrics.SetRegisteredTools(e.registry.Len())

	e.mu.Lock()
	e.stats = Stats{
		LocationsScanned: scanned,
		ToolsRegistered:  e.registry.Len(),
		Failures:         failures,
		LastScanAt:       started.UTC(),
		LastScanDuration: elapsed,
	}
	e.mu.Unlock()

	e.logger.Info("scan complete",
		telemetry.EventField(telemetry.EventScanComplete),
		zap.String("mode", string(mode)),
		zap.Int("locations", scanned),
		zap.Int("failures", failures),
		zap.Int("tools", e.registry.Len()),
		telemetry.DurationField(elapsed))
}

// Diagnostics returns the failure records from the current scan state,
// ordered by location key.
func (e *Engine) Diagnostics() []Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Diagnostic, 0, len(e.diags))
	for _, d := range e.diags {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out
}

// Stats returns a snapshot of the most recent scan summary.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// ManifestDirs lists the directories backing manifest locations, keyed for
// change notification.
func (e *Engine) ManifestDirs() map[string]string {
	dirs := make(map[string]string)
	for _, provider := range e.providers {
		location := provider.Location()
		if location.Kind == domain.SourceManifest {
			dirs[location.Path] = location.Key()
		}
	}
	return dirs
}

// Close releases the state store.
func (e *Engine) Close() error { return e.state.Close() }
