package plan

import (
	"time"

	"github.com/artpar/convoy/internal/core/compose"
)

// =============================================================================
// Container Plan Building Functions
// =============================================================================

// BuildContainerPlan builds a ContainerPlan from a service definition and the
// run parameters. Pure function: names the container, resolves volume and
// network references to their runtime names, substitutes variables into the
// environment, parses probe durations and maps the restart policy.
func BuildContainerPlan(params BuildContainerPlanParams) ContainerPlan {
	svc := params.Service

	p := ContainerPlan{
		Name:       ContainerName(params.Project, svc.Name),
		Service:    svc.Name,
		Image:      svc.Image,
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		Env:        make(map[string]string),
		Labels: map[string]string{
			LabelManaged: "true",
			LabelProject: params.Project,
			LabelService: svc.Name,
			LabelRun:     params.RunID,
		},
		Networks:       params.Networks,
		NetworkAliases: make(map[string][]string),
	}

	// Build-context services run the locally built image.
	if svc.Image == "" && svc.Build != nil {
		p.Image = ImageTag(params.Project, svc.Name)
	}

	// Every attached network resolves the service by its declared name.
	for _, net := range params.Networks {
		p.NetworkAliases[net] = []string{svc.Name}
	}

	for k, v := range svc.Environment {
		p.Env[k] = SubstituteVariables(v, params.Variables)
	}

	for _, port := range svc.Ports {
		p.Ports = append(p.Ports, PortPlan{
			ContainerPort: int(port.Target),
			HostPort:      int(port.Published),
			Protocol:      port.Protocol,
			HostIP:        port.HostIP,
		})
	}

	declared := make(map[string]compose.Volume, len(params.Volumes))
	for _, vol := range params.Volumes {
		declared[vol.Name] = vol
	}

	for _, v := range svc.Volumes {
		source := v.Source
		// Named volumes are addressed by their project-scoped runtime name;
		// external volumes keep the name they were declared with.
		if v.Type == compose.VolumeMountTypeVolume {
			if vol, ok := declared[v.Source]; !ok || !vol.External {
				source = VolumeName(params.Project, v.Source)
			}
		}
		p.Volumes = append(p.Volumes, VolumePlan{
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if svc.HealthCheck != nil {
		p.HealthCheck = &HealthCheckPlan{
			Test:    svc.HealthCheck.Test,
			Retries: svc.HealthCheck.Retries,
		}
		if svc.HealthCheck.Interval != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.Interval); err == nil {
				p.HealthCheck.Interval = d
			}
		}
		if svc.HealthCheck.Timeout != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.Timeout); err == nil {
				p.HealthCheck.Timeout = d
			}
		}
		if svc.HealthCheck.StartPeriod != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.StartPeriod); err == nil {
				p.HealthCheck.StartPeriod = d
			}
		}
	}

	if svc.Resources.CPULimit > 0 {
		p.Resources.CPULimit = svc.Resources.CPULimit
	}
	if svc.Resources.MemoryLimit > 0 {
		p.Resources.MemoryLimit = svc.Resources.MemoryLimit
	}

	p.RestartPolicy = mapRestartPolicy(svc.Restart)

	for k, v := range svc.Labels {
		p.Labels[k] = v
	}

	return p
}

// mapRestartPolicy maps a spec restart policy to the runtime policy name.
func mapRestartPolicy(policy compose.RestartPolicy) RestartPolicyPlan {
	switch policy {
	case compose.RestartAlways:
		return RestartPolicyPlan{Name: "always"}
	case compose.RestartOnFailure:
		return RestartPolicyPlan{Name: "on-failure"}
	case compose.RestartUnlessStopped:
		return RestartPolicyPlan{Name: "unless-stopped"}
	default:
		return RestartPolicyPlan{Name: "no"}
	}
}
