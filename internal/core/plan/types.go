// Package plan contains pure planning functions: translating a validated
// specification into concrete runtime resource plans. No I/O happens here;
// the shell executes the plans.
package plan

import (
	"time"

	"github.com/artpar/convoy/internal/core/compose"
)

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan is a planned container configuration, ready for the shell to
// execute against the runtime.
type ContainerPlan struct {
	Name           string
	Service        string
	Image          string
	Command        []string
	Entrypoint     []string
	Env            map[string]string
	Labels         map[string]string
	Ports          []PortPlan
	Volumes        []VolumePlan
	Networks       []string
	NetworkAliases map[string][]string // network name -> aliases (service DNS name)
	RestartPolicy  RestartPolicyPlan
	Resources      ResourcePlan
	HealthCheck    *HealthCheckPlan
}

// PortPlan is a planned port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// VolumePlan is a planned volume mount.
type VolumePlan struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RestartPolicyPlan is a restart policy in runtime form.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// ResourcePlan holds resource limits.
type ResourcePlan struct {
	CPULimit    float64
	MemoryLimit int64
}

// HealthCheckPlan is a health probe with parsed durations.
type HealthCheckPlan struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// =============================================================================
// Builder Parameter Types
// =============================================================================

// BuildContainerPlanParams contains all inputs for building a container plan.
type BuildContainerPlanParams struct {
	Project   string
	RunID     string
	Service   compose.Service
	Variables map[string]string
	Networks  []string // resolved runtime network names, default network first
	Volumes   []compose.Volume
}

// =============================================================================
// Convoy Container Labels
// =============================================================================

// Label keys used to identify resources managed by Convoy.
const (
	LabelManaged = "com.convoy.managed"
	LabelProject = "com.convoy.project"
	LabelService = "com.convoy.service"
	LabelRun     = "com.convoy.run"
	LabelNetwork = "com.convoy.network"
	LabelVolume  = "com.convoy.volume"
)
