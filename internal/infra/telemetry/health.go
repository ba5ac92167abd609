package telemetry

import "sync"

// HealthReport is the payload served on /healthz.
type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// HealthTracker aggregates component readiness for the healthz endpoint.
type HealthTracker struct {
	mu         sync.RWMutex
	components map[string]string
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{components: make(map[string]string)}
}

// SetComponent records a component status; "ok" means healthy.
func (t *HealthTracker) SetComponent(name, status string) {
	t.mu.Lock()
	t.components[name] = status
	t.mu.Unlock()
}

func (t *HealthTracker) Report() HealthReport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	report := HealthReport{Status: "ok"}
	if len(t.components) == 0 {
		return report
	}
	report.Components = make(map[string]string, len(t.components))
	for name, status := range t.components {
		report.Components[name] = status
		if status != "ok" {
			report.Status = "degraded"
		}
	}
	return report
}
