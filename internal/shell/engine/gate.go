package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/artpar/convoy/internal/core/health"
	"github.com/artpar/convoy/internal/core/plan"
	"github.com/artpar/convoy/internal/shell/docker"
)

// =============================================================================
// Health Gate
// =============================================================================

// HealthGate evaluates one probe invocation for a service instance. The
// result classification (retry budget, escalation) is the pure Tracker's job;
// the gate only answers "what did this probe say right now".
type HealthGate struct {
	runtime docker.Runtime
	logger  *slog.Logger
}

// NewHealthGate creates a health gate over the given runtime.
func NewHealthGate(runtime docker.Runtime, logger *slog.Logger) *HealthGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthGate{
		runtime: runtime,
		logger:  logger.With("component", "health_gate"),
	}
}

// Probe runs a single probe with the given timeout.
//
// Unknown is returned whenever the runtime cannot reach the service yet
// (container not inspectable, probe not executable); it is a transient
// "not yet", never a hard failure by itself.
func (g *HealthGate) Probe(ctx context.Context, inst *ServiceInstance, timeout time.Duration) health.Result {
	containerID := inst.ContainerID()
	if containerID == "" {
		return health.Unknown
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	info, err := g.runtime.InspectContainer(probeCtx, containerID)
	if err != nil {
		if errors.Is(err, docker.ErrContainerNotFound) {
			return health.Unhealthy
		}
		return health.Unknown
	}
	if !info.Running() {
		return health.Unhealthy
	}

	command := probeCommand(inst.Plan.HealthCheck)
	if command == nil {
		// No executable test: fall back to the runtime's own health report.
		return health.FromRuntimeState(true, info.Health)
	}

	result, err := g.runtime.ExecContainer(probeCtx, containerID, docker.ExecSpec{Command: command})
	if err != nil {
		g.logger.Debug("probe not executable yet",
			"service", inst.Service.Name,
			"error", err,
		)
		return health.Unknown
	}
	if result.ExitCode == 0 {
		return health.Healthy
	}
	return health.Unhealthy
}

// probeCommand translates a healthcheck test into an exec command.
// Returns nil when the probe is not an executable test.
func probeCommand(hc *plan.HealthCheckPlan) []string {
	if hc == nil || len(hc.Test) == 0 {
		return nil
	}
	switch hc.Test[0] {
	case "CMD":
		if len(hc.Test) > 1 {
			return hc.Test[1:]
		}
	case "CMD-SHELL":
		if len(hc.Test) > 1 {
			return []string{"/bin/sh", "-c", hc.Test[1]}
		}
	}
	return nil
}
