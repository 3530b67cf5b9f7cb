package system

import (
	"context"
	"time"

	"norelock.dev/resonate/pluginhost/internal/store"
)

// HealthStatus is the aggregate health report for the host.
type HealthStatus struct {
	Status    string            `json:"status"`
	Uptime    string            `json:"uptime"`
	Plugins   int               `json:"plugins"`
	Enabled   int               `json:"enabled"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

// PluginCounter reports registry sizes without exposing the registry itself.
type PluginCounter interface {
	Counts() (total, enabled int)
}

// HealthService aggregates component health for the health endpoint.
type HealthService struct {
	store   store.Store
	plugins PluginCounter
	started time.Time
}

// NewHealthService creates a health service.
func NewHealthService(st store.Store, plugins PluginCounter) *HealthService {
	return &HealthService{store: st, plugins: plugins, started: time.Now()}
}

// Check runs the component probes and returns the aggregate status.
func (h *HealthService) Check(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:    "healthy",
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    map[string]string{},
		Timestamp: time.Now(),
	}

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := h.store.Ping(probeCtx); err != nil {
		status.Status = "degraded"
		status.Checks["store"] = err.Error()
	} else {
		status.Checks["store"] = "ok"
	}

	status.Plugins, status.Enabled = h.plugins.Counts()

	return status
}
