// Package resources manages the shared named resources of an application:
// networks and volumes. Creation is idempotent and serialized per resource
// name, so concurrent callers coalesce onto a single runtime create call.
package resources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/artpar/convoy/internal/core/compose"
	"github.com/artpar/convoy/internal/core/plan"
	"github.com/artpar/convoy/internal/shell/docker"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrExternalNotFound means an external resource was referenced but does
	// not exist; Convoy never creates external resources.
	ErrExternalNotFound = errors.New("external resource not found")
)

// ConflictError reports an existing resource whose parameters are
// incompatible with the specification. Fatal for the services that reference
// it; other services are unaffected.
type ConflictError struct {
	Kind    Kind
	Name    string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q exists with incompatible parameters: %s", e.Kind, e.Name, e.Message)
}

// =============================================================================
// Handles
// =============================================================================

// Kind distinguishes resource types.
type Kind string

const (
	KindNetwork Kind = "network"
	KindVolume  Kind = "volume"
)

// Handle identifies one ensured resource.
type Handle struct {
	Kind     Kind
	Name     string // runtime name
	ID       string
	External bool
	// RunScoped resources live only for one application run and are always
	// removed on teardown. The default network is run-scoped; named volumes
	// are not.
	RunScoped bool
}

// =============================================================================
// Manager
// =============================================================================

// Manager creates and destroys named networks and volumes, idempotently.
// It is the only component that mutates shared resources.
type Manager struct {
	runtime docker.Runtime
	project string
	logger  *slog.Logger

	group   singleflight.Group
	mu      sync.Mutex
	handles map[string]*Handle // keyed by kind:name
}

// NewManager creates a resource manager for one project.
func NewManager(runtime docker.Runtime, project string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runtime: runtime,
		project: project,
		logger:  logger.With("component", "resources"),
		handles: make(map[string]*Handle),
	}
}

// =============================================================================
// Ensure
// =============================================================================

// EnsureDefaultNetwork ensures the application-scoped default network.
func (m *Manager) EnsureDefaultNetwork(ctx context.Context) (*Handle, error) {
	return m.ensureNetwork(ctx, compose.Network{Name: "default"}, plan.DefaultNetworkName(m.project), true)
}

// EnsureNetwork ensures a declared network exists, creating it on first call.
// Concurrent calls for the same network coalesce; every caller receives the
// same handle.
func (m *Manager) EnsureNetwork(ctx context.Context, net compose.Network) (*Handle, error) {
	runtimeName := plan.NetworkName(m.project, net.Name)
	if net.External {
		runtimeName = net.Name
	}
	return m.ensureNetwork(ctx, net, runtimeName, false)
}

func (m *Manager) ensureNetwork(ctx context.Context, net compose.Network, runtimeName string, runScoped bool) (*Handle, error) {
	key := string(KindNetwork) + ":" + runtimeName
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		if h := m.cached(key); h != nil {
			return h, nil
		}

		existing, err := m.runtime.ListNetworks(ctx, map[string]string{"name": runtimeName})
		if err != nil {
			return nil, err
		}
		for _, n := range existing {
			if n.Name != runtimeName {
				continue
			}
			if !net.External {
				if net.Driver != "" && n.Driver != "" && n.Driver != net.Driver {
					return nil, &ConflictError{
						Kind:    KindNetwork,
						Name:    runtimeName,
						Message: fmt.Sprintf("driver %q declared but %q exists", net.Driver, n.Driver),
					}
				}
				if n.Labels[plan.LabelProject] != m.project {
					return nil, &ConflictError{
						Kind:    KindNetwork,
						Name:    runtimeName,
						Message: "not managed by this project",
					}
				}
			}
			m.logger.Debug("network exists, reusing", "network", runtimeName)
			return m.remember(key, &Handle{
				Kind:      KindNetwork,
				Name:      runtimeName,
				ID:        n.ID,
				External:  net.External,
				RunScoped: runScoped && !net.External,
			}), nil
		}

		if net.External {
			return nil, fmt.Errorf("network %q: %w", runtimeName, ErrExternalNotFound)
		}

		id, err := m.runtime.CreateNetwork(ctx, docker.NetworkSpec{
			Name:     runtimeName,
			Driver:   net.Driver,
			Internal: net.Internal,
			Labels: map[string]string{
				plan.LabelManaged: "true",
				plan.LabelProject: m.project,
				plan.LabelNetwork: net.Name,
			},
		})
		if err != nil {
			// Lost a race against an unrelated creator; reuse theirs.
			if errors.Is(err, docker.ErrNetworkAlreadyExists) {
				m.logger.Debug("network created concurrently, reusing", "network", runtimeName)
				return m.remember(key, &Handle{Kind: KindNetwork, Name: runtimeName, ID: runtimeName, RunScoped: runScoped}), nil
			}
			return nil, err
		}
		m.logger.Debug("created network", "network", runtimeName, "network_id", id)
		return m.remember(key, &Handle{Kind: KindNetwork, Name: runtimeName, ID: id, RunScoped: runScoped}), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// EnsureVolume ensures a declared named volume exists. Named volumes outlive
// the run; they are only removed on an explicit purge.
func (m *Manager) EnsureVolume(ctx context.Context, vol compose.Volume) (*Handle, error) {
	runtimeName := plan.VolumeName(m.project, vol.Name)
	if vol.External {
		runtimeName = vol.Name
	}

	key := string(KindVolume) + ":" + runtimeName
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		if h := m.cached(key); h != nil {
			return h, nil
		}

		existing, err := m.runtime.ListVolumes(ctx, map[string]string{"name": runtimeName})
		if err != nil {
			return nil, err
		}
		for _, found := range existing {
			if found.Name != runtimeName {
				continue
			}
			if !vol.External {
				if vol.Driver != "" && found.Driver != "" && found.Driver != vol.Driver {
					return nil, &ConflictError{
						Kind:    KindVolume,
						Name:    runtimeName,
						Message: fmt.Sprintf("driver %q declared but %q exists", vol.Driver, found.Driver),
					}
				}
			}
			m.logger.Debug("volume exists, reusing", "volume", runtimeName)
			return m.remember(key, &Handle{Kind: KindVolume, Name: runtimeName, ID: found.Name, External: vol.External}), nil
		}

		if vol.External {
			return nil, fmt.Errorf("volume %q: %w", runtimeName, ErrExternalNotFound)
		}

		name, err := m.runtime.CreateVolume(ctx, docker.VolumeSpec{
			Name:   runtimeName,
			Driver: vol.Driver,
			Labels: map[string]string{
				plan.LabelManaged: "true",
				plan.LabelProject: m.project,
				plan.LabelVolume:  vol.Name,
			},
		})
		if err != nil {
			return nil, err
		}
		m.logger.Debug("created volume", "volume", name)
		return m.remember(key, &Handle{Kind: KindVolume, Name: name, ID: name}), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (m *Manager) cached(key string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[key]
}

func (m *Manager) remember(key string, h *Handle) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[key] = h
	return h
}

// =============================================================================
// Release
// =============================================================================

// Release removes the resource behind a handle. Run-scoped resources are
// always removed; everything else only on purge. External resources are never
// removed. Releasing an absent resource is a no-op.
func (m *Manager) Release(ctx context.Context, h *Handle, purge bool) error {
	if h == nil || h.External {
		return nil
	}
	if !h.RunScoped && !purge {
		return nil
	}

	var err error
	switch h.Kind {
	case KindNetwork:
		err = m.runtime.RemoveNetwork(ctx, h.Name)
		if errors.Is(err, docker.ErrNetworkNotFound) {
			err = nil
		}
	case KindVolume:
		err = m.runtime.RemoveVolume(ctx, h.Name, false)
		if errors.Is(err, docker.ErrVolumeNotFound) {
			err = nil
		}
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.handles, string(h.Kind)+":"+h.Name)
	m.mu.Unlock()

	m.logger.Debug("released resource", "kind", h.Kind, "name", h.Name)
	return nil
}

// =============================================================================
// Discovery
// =============================================================================

// ProjectNetworks lists the networks this project created, as releasable
// handles. Used by teardown when no run state is in memory.
func (m *Manager) ProjectNetworks(ctx context.Context) ([]*Handle, error) {
	networks, err := m.runtime.ListNetworks(ctx, map[string]string{
		"label": fmt.Sprintf("%s=%s", plan.LabelProject, m.project),
	})
	if err != nil {
		return nil, err
	}
	var handles []*Handle
	for _, n := range networks {
		handles = append(handles, &Handle{
			Kind:      KindNetwork,
			Name:      n.Name,
			ID:        n.ID,
			RunScoped: true,
		})
	}
	return handles, nil
}

// ProjectVolumes lists the named volumes this project created.
func (m *Manager) ProjectVolumes(ctx context.Context) ([]*Handle, error) {
	volumes, err := m.runtime.ListVolumes(ctx, map[string]string{
		"label": fmt.Sprintf("%s=%s", plan.LabelProject, m.project),
	})
	if err != nil {
		return nil, err
	}
	var handles []*Handle
	for _, v := range volumes {
		handles = append(handles, &Handle{
			Kind: KindVolume,
			Name: v.Name,
			ID:   v.Name,
		})
	}
	return handles, nil
}
