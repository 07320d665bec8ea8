package compose

// =============================================================================
// Project - Main Output Type
// =============================================================================

// Project is the fully loaded, merged and validated application specification.
// This is the Convoy-specific representation, decoupled from compose-go types.
type Project struct {
	// Name is the logical project name. Together with the source paths it
	// identifies one application; all runtime resources are labeled with it.
	Name     string    `json:"name"`
	Services []Service `json:"services"`
	Networks []Network `json:"networks,omitempty"`
	Volumes  []Volume  `json:"volumes,omitempty"`
}

// Service returns the service with the given name, or nil.
func (p *Project) Service(name string) *Service {
	for i := range p.Services {
		if p.Services[i].Name == name {
			return &p.Services[i]
		}
	}
	return nil
}

// ServiceNames returns the names of all declared services.
func (p *Project) ServiceNames() []string {
	names := make([]string, 0, len(p.Services))
	for _, svc := range p.Services {
		names = append(names, svc.Name)
	}
	return names
}

// =============================================================================
// Service Types
// =============================================================================

// Service represents a single service definition.
type Service struct {
	Name        string            `json:"name"`
	Image       string            `json:"image,omitempty"`
	Build       *BuildConfig      `json:"build,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Entrypoint  []string          `json:"entrypoint,omitempty"`
	Ports       []Port            `json:"ports,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Volumes     []VolumeMount     `json:"volumes,omitempty"`
	Networks    []string          `json:"networks,omitempty"`
	DependsOn   []Dependency      `json:"depends_on,omitempty"`
	Restart     RestartPolicy     `json:"restart,omitempty"`
	Resources   ServiceResources  `json:"resources"`
	HealthCheck *HealthCheck      `json:"healthcheck,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// BuildConfig represents build configuration (mutually exclusive with Image).
type BuildConfig struct {
	Context    string `json:"context"`
	Dockerfile string `json:"dockerfile,omitempty"`
}

// DependencyCondition controls what "ready" means for a dependency edge.
type DependencyCondition string

const (
	// ConditionStarted gates only on the dependency's process being started.
	ConditionStarted DependencyCondition = "service_started"
	// ConditionHealthy gates on the dependency's health probe passing.
	ConditionHealthy DependencyCondition = "service_healthy"
)

// Dependency is one depends_on edge with its readiness condition.
type Dependency struct {
	Service   string              `json:"service"`
	Condition DependencyCondition `json:"condition"`
}

// Port represents a port mapping.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = dynamic)
	Protocol  string `json:"protocol,omitempty"`  // tcp, udp
	HostIP    string `json:"host_ip,omitempty"`   // Bind IP
}

// VolumeMount represents a volume mount in a service.
type VolumeMount struct {
	Type     VolumeMountType `json:"type"`     // bind, volume, tmpfs
	Source   string          `json:"source"`   // Path or volume name
	Target   string          `json:"target"`   // Container path
	ReadOnly bool            `json:"readonly"`
}

// VolumeMountType represents the type of volume mount.
type VolumeMountType string

const (
	VolumeMountTypeBind   VolumeMountType = "bind"
	VolumeMountTypeVolume VolumeMountType = "volume"
	VolumeMountTypeTmpfs  VolumeMountType = "tmpfs"
)

// ServiceResources represents resource limits/reservations for a service.
type ServiceResources struct {
	CPULimit          float64 `json:"cpu_limit"`
	CPUReservation    float64 `json:"cpu_reservation"`
	MemoryLimit       int64   `json:"memory_limit"`       // Bytes
	MemoryReservation int64   `json:"memory_reservation"` // Bytes
}

// RestartPolicy represents the restart policy.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// HealthCheck represents health probe configuration.
type HealthCheck struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
	Retries     int      `json:"retries,omitempty"`
	StartPeriod string   `json:"start_period,omitempty"`
}

// =============================================================================
// Network Types
// =============================================================================

// Network represents a network definition.
type Network struct {
	Name       string            `json:"name"`
	Driver     string            `json:"driver,omitempty"`
	External   bool              `json:"external"`
	Internal   bool              `json:"internal"`
	Attachable bool              `json:"attachable"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// =============================================================================
// Volume Types
// =============================================================================

// Volume represents a named volume definition.
type Volume struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver,omitempty"`
	External bool              `json:"external"`
	Labels   map[string]string `json:"labels,omitempty"`
}
