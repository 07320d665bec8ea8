// Package engine runs the lifecycle of one application: dependency-ordered
// startup with health gating, restart supervision, and strict reverse-order
// teardown. All runtime access goes through the docker.Runtime interface.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/convoy/internal/core/compose"
	"github.com/artpar/convoy/internal/core/graph"
	"github.com/artpar/convoy/internal/core/plan"
	"github.com/artpar/convoy/internal/shell/docker"
	"github.com/artpar/convoy/internal/shell/resources"
)

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator is the single entry point for running an application. It owns
// the dependency graph, the resource manager, and the per-run service
// instances.
type Orchestrator struct {
	project   *compose.Project
	graph     *graph.Graph
	runtime   docker.Runtime
	resources *resources.Manager
	logger    *slog.Logger
	defaults  Defaults
	runID     string

	mu        sync.Mutex
	sched     *scheduler
	instances map[string]*ServiceInstance
}

// New builds an orchestrator for a validated project. Dependency cycles are
// rejected here, before anything touches the runtime.
func New(project *compose.Project, runtime docker.Runtime, logger *slog.Logger, defaults Defaults) (*Orchestrator, error) {
	g, err := graph.Build(project)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		project:   project,
		graph:     g,
		runtime:   runtime,
		resources: resources.NewManager(runtime, project.Name, logger),
		logger:    logger.With("component", "engine"),
		defaults:  defaults.withFallbacks(),
		runID:     uuid.NewString()[:8],
	}, nil
}

// Graph exposes the dependency graph for inspection (ps, config rendering).
func (o *Orchestrator) Graph() *graph.Graph {
	return o.graph
}

// =============================================================================
// Up
// =============================================================================

// UpOptions control an Up run.
type UpOptions struct {
	// Detach hands restart supervision to the container runtime and returns
	// as soon as every service reached a startup-terminal state.
	Detach bool
	// ForceBuild rebuilds build-context images even when a tag already
	// exists.
	ForceBuild bool
	// BuildOutput receives image build progress; nil discards it.
	BuildOutput io.Writer
}

// Up brings the whole application up: shared resources first, then images,
// then services in dependency order. It returns a per-service summary; a
// failed or skipped service is reported there, not as the error return. The
// error return covers run-level failures (runtime unreachable, resource
// conflicts).
func (o *Orchestrator) Up(ctx context.Context, opts UpOptions) (*Summary, error) {
	if err := o.runtime.Ping(ctx); err != nil {
		return nil, fmt.Errorf("container runtime unreachable: %w", err)
	}

	o.logger.Info("starting application",
		"project", o.project.Name,
		"run_id", o.runID,
		"services", len(o.project.Services),
	)
	// Waves are informational: the scheduler gates on per-edge conditions,
	// not on wave boundaries.
	o.logger.Debug("start plan", "waves", o.graph.StartWaves())

	if err := o.ensureResources(ctx); err != nil {
		return nil, err
	}

	preflight := o.prepareImages(ctx, opts)

	instances := make(map[string]*ServiceInstance, len(o.project.Services))
	for _, svc := range o.project.Services {
		instances[svc.Name] = newServiceInstance(svc, plan.BuildContainerPlan(plan.BuildContainerPlanParams{
			Project:  o.project.Name,
			RunID:    o.runID,
			Service:  svc,
			Networks: o.serviceNetworks(svc),
			Volumes:  o.project.Volumes,
		}))
	}

	sched := &scheduler{
		graph:     o.graph,
		instances: instances,
		runtime:   o.runtime,
		gate:      NewHealthGate(o.runtime, o.logger),
		logger:    o.logger,
		defaults:  o.defaults,
		detach:    opts.Detach,
		preflight: preflight,
	}

	o.mu.Lock()
	o.sched = sched
	o.instances = instances
	o.mu.Unlock()

	sched.run(ctx)

	summary := newSummary(instances, ctx.Err() != nil)
	o.logger.Info("startup finished", "summary", summary.String())
	return summary, nil
}

// ensureResources creates the default network, declared networks and named
// volumes. Concurrent creation is deduplicated inside the resource manager.
func (o *Orchestrator) ensureResources(ctx context.Context) error {
	if _, err := o.resources.EnsureDefaultNetwork(ctx); err != nil {
		return err
	}

	var g errgroup.Group
	for _, net := range o.project.Networks {
		g.Go(func() error {
			_, err := o.resources.EnsureNetwork(ctx, net)
			return err
		})
	}
	for _, vol := range o.project.Volumes {
		g.Go(func() error {
			_, err := o.resources.EnsureVolume(ctx, vol)
			return err
		})
	}
	return g.Wait()
}

// prepareImages builds or pulls every service image concurrently. Failures
// are recorded per service so dependents are skipped instead of aborting the
// whole run.
func (o *Orchestrator) prepareImages(ctx context.Context, opts UpOptions) map[string]error {
	var (
		mu     sync.Mutex
		errors = make(map[string]error)
	)

	var g errgroup.Group
	g.SetLimit(4)
	for _, svc := range o.project.Services {
		g.Go(func() error {
			if err := o.prepareImage(ctx, svc, opts); err != nil {
				mu.Lock()
				errors[svc.Name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors
}

func (o *Orchestrator) prepareImage(ctx context.Context, svc compose.Service, opts UpOptions) error {
	if svc.Build != nil {
		tag := plan.ImageTag(o.project.Name, svc.Name)
		if !opts.ForceBuild {
			exists, err := o.runtime.ImageExists(ctx, tag)
			if err == nil && exists {
				return nil
			}
		}
		o.logger.Info("building image", "service", svc.Name, "tag", tag)
		return o.runtime.BuildImage(ctx, docker.BuildSpec{
			Tag:        tag,
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
			Labels: map[string]string{
				plan.LabelManaged: "true",
				plan.LabelProject: o.project.Name,
				plan.LabelService: svc.Name,
			},
			Output: opts.BuildOutput,
		})
	}

	exists, err := o.runtime.ImageExists(ctx, svc.Image)
	if err == nil && exists {
		return nil
	}
	o.logger.Info("pulling image", "service", svc.Name, "image", svc.Image)
	return o.runtime.PullImage(ctx, svc.Image, docker.PullOptions{})
}

// serviceNetworks resolves a service's network attachments to runtime names,
// defaulting to the application network.
func (o *Orchestrator) serviceNetworks(svc compose.Service) []string {
	if len(svc.Networks) == 0 {
		return []string{plan.DefaultNetworkName(o.project.Name)}
	}
	names := make([]string, 0, len(svc.Networks))
	for _, netName := range svc.Networks {
		if netName == "default" {
			names = append(names, plan.DefaultNetworkName(o.project.Name))
			continue
		}
		resolved := plan.NetworkName(o.project.Name, netName)
		for _, net := range o.project.Networks {
			if net.Name == netName && net.External {
				resolved = netName
			}
		}
		names = append(names, resolved)
	}
	return names
}

// =============================================================================
// Watch
// =============================================================================

// Watch supervises a foreground run: every started service with a restart
// policy is watched and restarted per policy. It returns when the context is
// canceled or all watched services settled in a terminal state.
func (o *Orchestrator) Watch(ctx context.Context) {
	o.mu.Lock()
	sched := o.sched
	o.mu.Unlock()
	if sched == nil {
		return
	}

	var g errgroup.Group
	for _, inst := range sched.instances {
		state := inst.State()
		if state != StateRunning && state != StateHealthy {
			continue
		}
		g.Go(func() error {
			sched.supervise(ctx, inst)
			return nil
		})
	}
	g.Wait()
}

// =============================================================================
// Stop (warm teardown)
// =============================================================================

// Stop tears down the services of the current run in strict reverse
// dependency order: a service stops only after all of its dependents have
// stopped. Independent branches stop concurrently.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	instances := o.instances
	o.mu.Unlock()
	if instances == nil {
		return nil
	}

	o.logger.Info("stopping application", "project", o.project.Name)

	var g errgroup.Group
	for name, inst := range instances {
		g.Go(func() error {
			for _, dependent := range o.graph.Dependents(name) {
				dep := instances[dependent]
				select {
				case <-dep.stopped:
				case <-ctx.Done():
					inst.markDown()
					return ctx.Err()
				}
			}
			err := o.stopInstance(ctx, inst)
			inst.markDown()
			return err
		})
	}
	return g.Wait()
}

// stopInstance gracefully stops and removes one service's container. Absent
// containers are fine; teardown is idempotent.
func (o *Orchestrator) stopInstance(ctx context.Context, inst *ServiceInstance) error {
	containerID := inst.ContainerID()
	if containerID == "" {
		return nil
	}

	inst.setStopping()
	grace := o.defaults.StopGrace
	o.logger.Debug("stopping service", "service", inst.Service.Name, "grace", grace)

	if err := o.runtime.StopContainer(ctx, containerID, &grace); err != nil {
		if !isNotFound(err) {
			o.logger.Warn("graceful stop failed, killing", "service", inst.Service.Name, "error", err)
			if killErr := o.runtime.KillContainer(ctx, containerID, "SIGKILL"); killErr != nil && !isNotFound(killErr) {
				return killErr
			}
		}
	}
	if err := o.runtime.RemoveContainer(ctx, containerID, docker.RemoveOptions{Force: true}); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// =============================================================================
// Down (cold teardown)
// =============================================================================

// DownOptions control teardown.
type DownOptions struct {
	// PurgeVolumes also removes named volumes. Without it volumes survive
	// for the next run.
	PurgeVolumes bool
}

// Down discovers everything labeled for this project and removes it: services
// in reverse dependency order, then networks, then (on purge) volumes. A
// Down with nothing to do succeeds.
func (o *Orchestrator) Down(ctx context.Context, opts DownOptions) error {
	containers, err := o.runtime.ListContainers(ctx, docker.ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", plan.LabelProject, o.project.Name),
		},
	})
	if err != nil {
		return err
	}

	byService := make(map[string][]docker.ContainerInfo)
	for _, c := range containers {
		byService[c.Labels[plan.LabelService]] = append(byService[c.Labels[plan.LabelService]], c)
	}

	grace := o.defaults.StopGrace
	remove := func(c docker.ContainerInfo) error {
		o.logger.Debug("removing container", "service", c.Labels[plan.LabelService], "container_id", shortID(c.ID))
		if err := o.runtime.StopContainer(ctx, c.ID, &grace); err != nil && !isNotFound(err) {
			return err
		}
		if err := o.runtime.RemoveContainer(ctx, c.ID, docker.RemoveOptions{Force: true}); err != nil && !isNotFound(err) {
			return err
		}
		return nil
	}

	// Declared services come down in reverse dependency order; anything
	// left over (renamed or removed services from earlier runs) follows.
	for _, name := range o.graph.StopOrder() {
		for _, c := range byService[name] {
			if err := remove(c); err != nil {
				return err
			}
		}
		delete(byService, name)
	}
	for _, leftovers := range byService {
		for _, c := range leftovers {
			if err := remove(c); err != nil {
				return err
			}
		}
	}

	networks, err := o.resources.ProjectNetworks(ctx)
	if err != nil {
		return err
	}
	for _, h := range networks {
		if err := o.resources.Release(ctx, h, true); err != nil {
			return err
		}
	}

	if opts.PurgeVolumes {
		volumes, err := o.resources.ProjectVolumes(ctx)
		if err != nil {
			return err
		}
		for _, h := range volumes {
			if err := o.resources.Release(ctx, h, true); err != nil {
				return err
			}
		}
	}

	o.logger.Info("application removed",
		"project", o.project.Name,
		"containers", len(containers),
		"purge_volumes", opts.PurgeVolumes,
	)
	return nil
}

// =============================================================================
// Ps
// =============================================================================

// ServiceStatus is one row of runtime status for a declared service.
type ServiceStatus struct {
	Service     string
	ContainerID string
	Image       string
	State       string
	Health      string
	Ports       []docker.PortBinding
	CreatedAt   time.Time
}

// Ps reports the runtime status of every declared service, in declaration
// order. Services without a container report state "absent".
func (o *Orchestrator) Ps(ctx context.Context) ([]ServiceStatus, error) {
	containers, err := o.runtime.ListContainers(ctx, docker.ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", plan.LabelProject, o.project.Name),
		},
	})
	if err != nil {
		return nil, err
	}

	byService := make(map[string]docker.ContainerInfo)
	for _, c := range containers {
		byService[c.Labels[plan.LabelService]] = c
	}

	statuses := make([]ServiceStatus, 0, len(o.project.Services))
	for _, svc := range o.project.Services {
		status := ServiceStatus{Service: svc.Name, State: "absent"}
		if c, ok := byService[svc.Name]; ok {
			status.ContainerID = shortID(c.ID)
			status.Image = c.Image
			status.State = string(c.Status)
			status.Ports = c.Ports
			status.CreatedAt = c.CreatedAt
			if info, err := o.runtime.InspectContainer(ctx, c.ID); err == nil {
				status.Health = info.Health
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// =============================================================================
// Logs
// =============================================================================

// LogsOptions control log streaming.
type LogsOptions struct {
	// Services restricts output; empty means all declared services.
	Services []string
	Follow   bool
	Tail     string
	Writer   io.Writer
}

// Logs streams the logs of the selected services to the writer, each line
// prefixed with the service name. With Follow it blocks until the context is
// canceled.
func (o *Orchestrator) Logs(ctx context.Context, opts LogsOptions) error {
	services, err := o.resolveServices(opts.Services)
	if err != nil {
		return err
	}
	out := opts.Writer
	if out == nil {
		out = io.Discard
	}

	width := 0
	for _, name := range services {
		if len(name) > width {
			width = len(name)
		}
	}

	var writeMu sync.Mutex
	var g errgroup.Group
	for _, name := range services {
		g.Go(func() error {
			c, err := o.containerForService(ctx, name)
			if err != nil || c == nil {
				return nil
			}
			tail := opts.Tail
			if tail == "" {
				tail = "all"
			}
			reader, err := o.runtime.ContainerLogs(ctx, c.ID, docker.LogOptions{
				Follow: opts.Follow,
				Tail:   tail,
			})
			if err != nil {
				return err
			}
			defer reader.Close()

			scanner := bufio.NewScanner(reader)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				writeMu.Lock()
				fmt.Fprintf(out, "%-*s | %s\n", width, name, scanner.Text())
				writeMu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}

// =============================================================================
// Restart / Exec / Build
// =============================================================================

// Restart stops and starts the named services (all when empty), in
// dependency order.
func (o *Orchestrator) Restart(ctx context.Context, services []string) error {
	selected, err := o.resolveServices(services)
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(selected))
	for _, name := range selected {
		want[name] = true
	}

	grace := o.defaults.StopGrace
	for _, name := range o.graph.StartOrder() {
		if !want[name] {
			continue
		}
		c, err := o.containerForService(ctx, name)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("service %q: %w", name, ErrServiceNotRunning)
		}
		o.logger.Info("restarting service", "service", name)
		if err := o.runtime.StopContainer(ctx, c.ID, &grace); err != nil && !isNotFound(err) {
			return err
		}
		if err := o.runtime.StartContainer(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

// Exec runs a command inside a service's running container and returns the
// command's exit code.
func (o *Orchestrator) Exec(ctx context.Context, service string, command []string, stdout, stderr io.Writer) (int, error) {
	if o.project.Service(service) == nil {
		return -1, fmt.Errorf("service %q: %w", service, ErrUnknownService)
	}
	c, err := o.containerForService(ctx, service)
	if err != nil {
		return -1, err
	}
	if c == nil || !c.Running() {
		return -1, fmt.Errorf("service %q: %w", service, ErrServiceNotRunning)
	}

	result, err := o.runtime.ExecContainer(ctx, c.ID, docker.ExecSpec{
		Command: command,
		Stdout:  stdout,
		Stderr:  stderr,
	})
	if err != nil {
		return -1, err
	}
	return result.ExitCode, nil
}

// Build builds the images of the named build-context services (all of them
// when empty).
func (o *Orchestrator) Build(ctx context.Context, services []string, output io.Writer) error {
	selected, err := o.resolveServices(services)
	if err != nil {
		return err
	}

	explicit := len(services) > 0
	for _, name := range selected {
		svc := o.project.Service(name)
		if svc.Build == nil {
			if explicit {
				return fmt.Errorf("service %q: %w", name, ErrNoBuildContext)
			}
			continue
		}
		tag := plan.ImageTag(o.project.Name, name)
		o.logger.Info("building image", "service", name, "tag", tag)
		if err := o.runtime.BuildImage(ctx, docker.BuildSpec{
			Tag:        tag,
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
			Labels: map[string]string{
				plan.LabelManaged: "true",
				plan.LabelProject: o.project.Name,
				plan.LabelService: name,
			},
			Output: output,
		}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// resolveServices validates a service selection; empty selects all declared
// services in start order.
func (o *Orchestrator) resolveServices(services []string) ([]string, error) {
	if len(services) == 0 {
		return o.graph.StartOrder(), nil
	}
	for _, name := range services {
		if o.project.Service(name) == nil {
			return nil, fmt.Errorf("service %q: %w", name, ErrUnknownService)
		}
	}
	return services, nil
}

// containerForService finds the project-labeled container of a service, nil
// when none exists.
func (o *Orchestrator) containerForService(ctx context.Context, service string) (*docker.ContainerInfo, error) {
	containers, err := o.runtime.ListContainers(ctx, docker.ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", plan.LabelService, service),
		},
	})
	if err != nil {
		return nil, err
	}
	for _, c := range containers {
		if c.Labels[plan.LabelProject] == o.project.Name {
			return &c, nil
		}
	}
	return nil, nil
}

func isNotFound(err error) bool {
	return docker.IsNotFound(err)
}
