// Package docker implements the container runtime interface against the
// Docker Engine API. The engine and resource manager depend only on the
// Runtime interface; nothing outside this package touches the SDK.
package docker

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name           string
	Image          string
	Command        []string
	Entrypoint     []string
	Env            map[string]string
	Labels         map[string]string
	Ports          []PortBinding
	Volumes        []VolumeMount
	Networks       []string
	NetworkAliases map[string][]string // network name -> aliases (service DNS name)
	WorkingDir     string
	User           string
	RestartPolicy  RestartPolicy
	Resources      ResourceLimits
	HealthCheck    *HealthCheck
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// VolumeMount defines a volume mount.
type VolumeMount struct {
	Source   string // Volume name or host path
	Target   string // Container path
	ReadOnly bool
}

// RestartPolicy defines the container restart policy.
type RestartPolicy struct {
	Name              string // "no", "always", "on-failure", "unless-stopped"
	MaximumRetryCount int
}

// ResourceLimits defines resource constraints.
type ResourceLimits struct {
	CPULimit    float64 // CPU cores
	MemoryLimit int64   // Bytes
}

// HealthCheck defines a runtime-evaluated health check configuration.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	Status     ContainerStatus
	Health     string // "healthy", "unhealthy", "starting", ""
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Ports      []PortBinding
	Labels     map[string]string
	ExitCode   int
}

// Running reports whether the container process is up.
func (c *ContainerInfo) Running() bool {
	return c.Status == ContainerStatusRunning
}

// =============================================================================
// Network / Volume Types
// =============================================================================

// NetworkSpec defines the specification for creating a network.
type NetworkSpec struct {
	Name     string
	Driver   string // "bridge", "overlay", etc.
	Internal bool
	Labels   map[string]string
}

// NetworkInfo describes an existing network.
type NetworkInfo struct {
	ID     string
	Name   string
	Driver string
	Labels map[string]string
}

// VolumeSpec defines the specification for creating a volume.
type VolumeSpec struct {
	Name   string
	Driver string
	Labels map[string]string
}

// VolumeInfo describes an existing volume.
type VolumeInfo struct {
	Name   string
	Driver string
	Labels map[string]string
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // Include stopped containers
	Filters map[string]string // e.g., {"label": "com.convoy.project=blog"}
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Follow     bool
	Tail       string // "all" or number
	Since      time.Time
	Until      time.Time
	Timestamps bool
}

// PullOptions defines options for pulling images.
type PullOptions struct {
	Platform string // e.g., "linux/amd64"
}

// BuildSpec defines an image build request for a build-context service.
type BuildSpec struct {
	Tag        string
	Context    string // build context directory
	Dockerfile string // relative to Context; "" means Dockerfile
	Labels     map[string]string
	Output     io.Writer // build progress sink; nil discards
}

// ExecSpec defines a command execution inside a running container.
type ExecSpec struct {
	Command []string
	Env     []string
	Stdout  io.Writer // nil discards
	Stderr  io.Writer // nil discards
}

// ExecResult is the outcome of an in-container command.
type ExecResult struct {
	ExitCode int
}

// =============================================================================
// Runtime Interface
// =============================================================================

// Runtime is the abstract container runtime consumed by the engine and the
// resource manager. The Docker SDK implementation is Client; tests use fakes.
type Runtime interface {
	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	KillContainer(ctx context.Context, containerID string, signal string) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error)
	ExecContainer(ctx context.Context, containerID string, spec ExecSpec) (ExecResult, error)

	// Network operations
	CreateNetwork(ctx context.Context, spec NetworkSpec) (networkID string, err error)
	RemoveNetwork(ctx context.Context, networkID string) error
	ListNetworks(ctx context.Context, filters map[string]string) ([]NetworkInfo, error)

	// Volume operations
	CreateVolume(ctx context.Context, spec VolumeSpec) (volumeName string, err error)
	RemoveVolume(ctx context.Context, volumeName string, force bool) error
	ListVolumes(ctx context.Context, filters map[string]string) ([]VolumeInfo, error)

	// Image operations
	PullImage(ctx context.Context, image string, opts PullOptions) error
	BuildImage(ctx context.Context, spec BuildSpec) error
	ImageExists(ctx context.Context, image string) (bool, error)

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}
