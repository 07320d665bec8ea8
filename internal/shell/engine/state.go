package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/artpar/convoy/internal/core/compose"
	"github.com/artpar/convoy/internal/core/health"
	"github.com/artpar/convoy/internal/core/plan"
)

// =============================================================================
// Lifecycle States
// =============================================================================

// State is the lifecycle state of one service instance.
type State string

const (
	StatePending        State = "pending"
	StateStarting       State = "starting"
	StateWaitingHealthy State = "waiting_healthy"
	StateRunning        State = "running"
	StateHealthy        State = "healthy"
	StateStopping       State = "stopping"
	StateStopped        State = "stopped"
	StateErrored        State = "errored"
)

// Terminal reports whether no further transition is expected during startup.
func (s State) Terminal() bool {
	switch s {
	case StateStopped, StateErrored:
		return true
	}
	return false
}

// Ready reports whether the state satisfies a service_started dependency.
func (s State) Ready() bool {
	switch s {
	case StateRunning, StateHealthy, StateWaitingHealthy:
		return true
	}
	return false
}

// =============================================================================
// Service Instance
// =============================================================================

// ServiceInstance binds one service specification to a runtime container and
// tracks its lifecycle. Completion signals (started, ready, failed, stopped)
// are what dependent control tasks block on; no global lock is involved.
type ServiceInstance struct {
	Service compose.Service
	Plan    plan.ContainerPlan

	mu          sync.Mutex
	state       State
	containerID string
	health      health.Result
	startedAt   time.Time
	restarts    int
	err         error

	started chan struct{} // closed when the runtime acked the start
	ready   chan struct{} // closed when the healthy condition is satisfied
	failed  chan struct{} // closed on errored (including skipped)
	stopped chan struct{} // closed when teardown finished for this service
}

func newServiceInstance(svc compose.Service, p plan.ContainerPlan) *ServiceInstance {
	return &ServiceInstance{
		Service: svc,
		Plan:    p,
		state:   StatePending,
		health:  health.Unknown,
		started: make(chan struct{}),
		ready:   make(chan struct{}),
		failed:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (i *ServiceInstance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Err returns the failure cause, if the instance errored.
func (i *ServiceInstance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// ContainerID returns the bound container ID, if any.
func (i *ServiceInstance) ContainerID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.containerID
}

// Health returns the last known health result.
func (i *ServiceInstance) Health() health.Result {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.health
}

// StartedAt returns the time the runtime acked the last start.
func (i *ServiceInstance) StartedAt() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.startedAt
}

// Restarts returns the number of scheduler-driven restarts.
func (i *ServiceInstance) Restarts() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.restarts
}

// Skipped reports whether the instance errored without ever being started.
func (i *ServiceInstance) Skipped() bool {
	var depErr *DependencyError
	return errors.As(i.Err(), &depErr)
}

// --- transitions -------------------------------------------------------------

func (i *ServiceInstance) setStarting(containerID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = StateStarting
	i.containerID = containerID
}

// ackStarted records the runtime's start acknowledgment. Services without a
// probe become Running and immediately satisfy both dependency conditions;
// probed services move to WaitingHealthy.
func (i *ServiceInstance) ackStarted(probed bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.startedAt = time.Now()
	if probed {
		i.state = StateWaitingHealthy
	} else {
		i.state = StateRunning
		i.health = health.Healthy
	}
	closeOnce(i.started)
	if !probed {
		closeOnce(i.ready)
	}
}

func (i *ServiceInstance) setHealthy() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = StateHealthy
	i.health = health.Healthy
	closeOnce(i.ready)
}

func (i *ServiceInstance) observeHealth(result health.Result) {
	i.mu.Lock()
	i.health = result
	i.mu.Unlock()
}

func (i *ServiceInstance) fail(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = StateErrored
	if i.err == nil {
		i.err = err
	}
	if i.health == health.Healthy {
		i.health = health.Unhealthy
	}
	closeOnce(i.failed)
}

func (i *ServiceInstance) setStopping() {
	i.mu.Lock()
	i.state = StateStopping
	i.mu.Unlock()
}

func (i *ServiceInstance) setStopped() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = StateStopped
	closeOnce(i.stopped)
}

// markDown records that teardown finished for this instance. An errored
// instance keeps its state so the failure stays visible; everything else
// becomes Stopped.
func (i *ServiceInstance) markDown() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateErrored {
		i.state = StateStopped
	}
	closeOnce(i.stopped)
}

// restarting re-enters the instance into the startup path after a
// scheduler-driven restart.
func (i *ServiceInstance) restarting() {
	i.mu.Lock()
	i.state = StateStarting
	i.restarts++
	i.health = health.Unknown
	i.mu.Unlock()
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}
