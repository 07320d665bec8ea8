package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/convoy/internal/core/compose"
	"github.com/artpar/convoy/internal/core/graph"
	"github.com/artpar/convoy/internal/core/health"
	"github.com/artpar/convoy/internal/core/plan"
	"github.com/artpar/convoy/internal/shell/docker"
)

// =============================================================================
// Scheduler Defaults
// =============================================================================

// Defaults are the fallback timings for services that do not configure their
// own probe or stop behavior.
type Defaults struct {
	ProbeInterval      time.Duration
	ProbeTimeout       time.Duration
	ProbeRetries       int
	StopGrace          time.Duration
	RestartBackoffBase time.Duration
	RestartBackoffCap  time.Duration
	MaxRestartAttempts int // bound for on-failure restarts
}

// withFallbacks fills zero values with the built-in defaults.
func (d Defaults) withFallbacks() Defaults {
	if d.ProbeInterval == 0 {
		d.ProbeInterval = 5 * time.Second
	}
	if d.ProbeTimeout == 0 {
		d.ProbeTimeout = 5 * time.Second
	}
	if d.ProbeRetries == 0 {
		d.ProbeRetries = 3
	}
	if d.StopGrace == 0 {
		d.StopGrace = 10 * time.Second
	}
	if d.RestartBackoffBase == 0 {
		d.RestartBackoffBase = time.Second
	}
	if d.RestartBackoffCap == 0 {
		d.RestartBackoffCap = time.Minute
	}
	if d.MaxRestartAttempts == 0 {
		d.MaxRestartAttempts = 3
	}
	return d
}

// =============================================================================
// Lifecycle Scheduler
// =============================================================================

// scheduler walks the dependency graph to start services in dependency
// order. One control task runs per service; each blocks only on the
// completion signals of its direct dependencies, so independent subgraphs
// proceed concurrently.
type scheduler struct {
	graph     *graph.Graph
	instances map[string]*ServiceInstance
	runtime   docker.Runtime
	gate      *HealthGate
	logger    *slog.Logger
	defaults  Defaults

	// detach hands restart decisions to the container runtime instead of
	// the foreground supervision loop.
	detach bool

	// preflight holds per-service errors from image and resource
	// preparation. A service with a preflight error fails without being
	// started and propagates to its dependents.
	preflight map[string]error
}

// run starts every service and blocks until all reach a startup-terminal
// state or the context is canceled.
func (s *scheduler) run(ctx context.Context) {
	var g errgroup.Group
	for _, name := range s.graph.Services() {
		g.Go(func() error {
			s.runService(ctx, name)
			return nil
		})
	}
	g.Wait()
}

// runService is the control task for one service.
func (s *scheduler) runService(ctx context.Context, name string) {
	inst := s.instances[name]

	// Gate on direct dependencies, per-edge condition.
	for _, dep := range s.graph.Dependencies(name) {
		depInst := s.instances[dep.Service]
		wait := depInst.started
		if dep.Condition == compose.ConditionHealthy {
			wait = depInst.ready
		}
		select {
		case <-wait:
		case <-depInst.failed:
			s.logger.Warn("skipping service, dependency failed",
				"service", name,
				"dependency", dep.Service,
			)
			inst.fail(&DependencyError{Service: name, Dependency: dep.Service})
			return
		case <-ctx.Done():
			return
		}
	}

	if err := s.preflight[name]; err != nil {
		inst.fail(&StartError{Service: name, Err: err})
		return
	}

	if err := s.launch(ctx, inst); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("service failed to start", "service", name, "error", err)
		inst.fail(&StartError{Service: name, Err: err})
		return
	}

	if !inst.Service.Probed() {
		s.logger.Info("service running", "service", name)
		return
	}

	s.awaitHealthy(ctx, inst)
}

// launch creates (or reuses) and starts the service's container, then
// records the start acknowledgment.
func (s *scheduler) launch(ctx context.Context, inst *ServiceInstance) error {
	name := inst.Service.Name
	containerID := inst.ContainerID()

	if containerID == "" {
		existing, err := s.runtime.ListContainers(ctx, docker.ListOptions{
			All: true,
			Filters: map[string]string{
				"label": fmt.Sprintf("%s=%s", plan.LabelService, name),
				"name":  inst.Plan.Name,
			},
		})
		if err != nil {
			return err
		}
		for _, c := range existing {
			if c.Labels[plan.LabelProject] == inst.Plan.Labels[plan.LabelProject] {
				containerID = c.ID
				s.logger.Debug("reusing existing container", "service", name, "container_id", shortID(containerID))
				break
			}
		}
	}

	if containerID == "" {
		id, err := s.runtime.CreateContainer(ctx, containerSpec(inst.Plan, s.detach))
		if err != nil {
			return err
		}
		containerID = id
		s.logger.Debug("created container", "service", name, "container_id", shortID(containerID))
	}

	inst.setStarting(containerID)

	if err := s.runtime.StartContainer(ctx, containerID); err != nil {
		return err
	}
	s.logger.Debug("started container", "service", name, "container_id", shortID(containerID))

	inst.ackStarted(inst.Service.Probed())
	return nil
}

// awaitHealthy polls the health gate at the probe's interval until the
// service passes, exhausts its retries, or the context is canceled. Polling
// is local to this service's control task.
func (s *scheduler) awaitHealthy(ctx context.Context, inst *ServiceInstance) {
	name := inst.Service.Name
	hc := inst.Service.HealthCheck

	interval := hc.ProbeInterval(s.defaults.ProbeInterval)
	timeout := hc.ProbeTimeout(s.defaults.ProbeTimeout)
	retries := hc.ProbeRetries(s.defaults.ProbeRetries)
	tracker := health.NewTracker(retries, hc.ProbeStartPeriod(), inst.StartedAt())

	s.logger.Debug("waiting for service to become healthy",
		"service", name,
		"interval", interval,
		"retries", retries,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := s.gate.Probe(ctx, inst, timeout)
			inst.observeHealth(result)

			switch tracker.Observe(result, time.Now()) {
			case health.Pass:
				s.logger.Info("service healthy", "service", name)
				inst.setHealthy()
				return
			case health.Fail:
				s.logger.Error("service never became healthy",
					"service", name,
					"retries", retries,
					"last_result", result,
				)
				inst.fail(&HealthTimeoutError{Service: name, Retries: retries})
				return
			}
			s.logger.Debug("service not yet healthy",
				"service", name,
				"result", result,
				"consecutive_failures", tracker.ConsecutiveFailures(),
			)
		}
	}
}

// =============================================================================
// Restart Supervision
// =============================================================================

// supervise watches one running service and re-enters it into the startup
// path per its restart policy, under exponential backoff. It returns when
// the context is canceled or the service settles in a terminal state.
func (s *scheduler) supervise(ctx context.Context, inst *ServiceInstance) {
	name := inst.Service.Name
	policy := inst.Plan.RestartPolicy.Name

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state := inst.State()
		if state == StateStopping || state == StateStopped {
			return
		}
		if state != StateRunning && state != StateHealthy {
			continue
		}

		info, err := s.runtime.InspectContainer(ctx, inst.ContainerID())
		if err != nil {
			continue
		}
		if info.Running() {
			continue
		}

		if !shouldRestart(policy, info.ExitCode, inst.Restarts(), s.defaults.MaxRestartAttempts) {
			if info.ExitCode != 0 {
				s.logger.Error("service exited", "service", name, "exit_code", info.ExitCode)
				inst.fail(&StartError{Service: name, Err: fmt.Errorf("exited with code %d", info.ExitCode)})
			} else {
				s.logger.Info("service exited cleanly", "service", name)
				inst.setStopped()
			}
			return
		}

		backoff := restartBackoff(inst.Restarts(), s.defaults.RestartBackoffBase, s.defaults.RestartBackoffCap)
		s.logger.Warn("service exited, restarting",
			"service", name,
			"exit_code", info.ExitCode,
			"restarts", inst.Restarts(),
			"backoff", backoff,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		inst.restarting()
		if err := s.runtime.StartContainer(ctx, inst.ContainerID()); err != nil {
			s.logger.Error("restart failed", "service", name, "error", err)
			inst.fail(&StartError{Service: name, Err: err})
			return
		}
		inst.ackStarted(inst.Service.Probed())
		if inst.Service.Probed() {
			s.awaitHealthy(ctx, inst)
			if inst.State() == StateErrored {
				return
			}
		}
	}
}

// shouldRestart decides whether the scheduler re-enters an exited service.
func shouldRestart(policy string, exitCode, restarts, maxAttempts int) bool {
	switch policy {
	case "always", "unless-stopped":
		return true
	case "on-failure":
		return exitCode != 0 && restarts < maxAttempts
	default:
		return false
	}
}

// restartBackoff computes the bounded exponential backoff for the n-th
// restart.
func restartBackoff(restarts int, base, limit time.Duration) time.Duration {
	backoff := base
	for i := 0; i < restarts && backoff < limit; i++ {
		backoff *= 2
	}
	if backoff > limit {
		backoff = limit
	}
	return backoff
}

// =============================================================================
// Helpers
// =============================================================================

// containerSpec translates a pure container plan into a runtime spec. In
// foreground runs the scheduler owns restart decisions, so the native policy
// stays "no"; detached runs delegate the declared policy to the runtime.
func containerSpec(p plan.ContainerPlan, native bool) docker.ContainerSpec {
	spec := docker.ContainerSpec{
		Name:           p.Name,
		Image:          p.Image,
		Command:        p.Command,
		Entrypoint:     p.Entrypoint,
		Env:            p.Env,
		Labels:         p.Labels,
		Networks:       p.Networks,
		NetworkAliases: p.NetworkAliases,
		RestartPolicy:  docker.RestartPolicy{Name: "no"},
		Resources: docker.ResourceLimits{
			CPULimit:    p.Resources.CPULimit,
			MemoryLimit: p.Resources.MemoryLimit,
		},
	}
	if native {
		spec.RestartPolicy = docker.RestartPolicy{
			Name:              p.RestartPolicy.Name,
			MaximumRetryCount: p.RestartPolicy.MaximumRetryCount,
		}
	}
	for _, port := range p.Ports {
		spec.Ports = append(spec.Ports, docker.PortBinding{
			ContainerPort: port.ContainerPort,
			HostPort:      port.HostPort,
			Protocol:      port.Protocol,
			HostIP:        port.HostIP,
		})
	}
	for _, v := range p.Volumes {
		spec.Volumes = append(spec.Volumes, docker.VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}
	if p.HealthCheck != nil {
		spec.HealthCheck = &docker.HealthCheck{
			Test:        p.HealthCheck.Test,
			Interval:    p.HealthCheck.Interval,
			Timeout:     p.HealthCheck.Timeout,
			Retries:     p.HealthCheck.Retries,
			StartPeriod: p.HealthCheck.StartPeriod,
		}
	}
	return spec
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
