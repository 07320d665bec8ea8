package compose

import (
	"fmt"
	"time"
)

// =============================================================================
// Semantic Validation
// =============================================================================

// Validate performs semantic validation on a loaded project. It returns the
// first error found; a nil result means the project is safe to orchestrate.
func Validate(p *Project) error {
	if len(p.Services) == 0 {
		return ErrNoServices
	}

	names := make(map[string]bool, len(p.Services))
	for _, svc := range p.Services {
		names[svc.Name] = true
	}
	networks := make(map[string]bool, len(p.Networks))
	for _, net := range p.Networks {
		networks[net.Name] = true
	}
	volumes := make(map[string]bool, len(p.Volumes))
	for _, vol := range p.Volumes {
		volumes[vol.Name] = true
	}

	for _, svc := range p.Services {
		if err := validateService(svc, names, networks, volumes); err != nil {
			return err
		}
	}
	return nil
}

func validateService(svc Service, names, networks, volumes map[string]bool) error {
	field := "services." + svc.Name

	for _, dep := range svc.DependsOn {
		if !names[dep.Service] {
			return NewValidationError(
				field+".depends_on",
				fmt.Sprintf("depends_on references unknown service %q", dep.Service),
				ErrUnknownDependency,
			)
		}
		if dep.Condition != ConditionStarted && dep.Condition != ConditionHealthy {
			return NewValidationError(
				field+".depends_on."+dep.Service,
				fmt.Sprintf("unknown condition %q", dep.Condition),
				ErrInvalidCondition,
			)
		}
	}

	for i, port := range svc.Ports {
		if port.Target == 0 || port.Target > 65535 {
			return NewValidationError(
				fmt.Sprintf("%s.ports[%d]", field, i),
				fmt.Sprintf("target port %d out of range", port.Target),
				ErrServiceInvalidPort,
			)
		}
		if port.Published > 65535 {
			return NewValidationError(
				fmt.Sprintf("%s.ports[%d]", field, i),
				fmt.Sprintf("published port %d out of range", port.Published),
				ErrServiceInvalidPort,
			)
		}
	}

	for _, net := range svc.Networks {
		if net != "default" && !networks[net] {
			return NewValidationError(
				field+".networks",
				fmt.Sprintf("service references unknown network %q", net),
				ErrUnknownServiceNetwork,
			)
		}
	}

	for i, mount := range svc.Volumes {
		if mount.Type == VolumeMountTypeVolume && !volumes[mount.Source] {
			return NewValidationError(
				fmt.Sprintf("%s.volumes[%d]", field, i),
				fmt.Sprintf("service references unknown volume %q", mount.Source),
				ErrUnknownServiceVolume,
			)
		}
	}

	if svc.Resources.CPULimit < 0 || svc.Resources.CPUReservation < 0 {
		return NewValidationError(field+".resources", "CPU value cannot be negative", ErrInvalidCPU)
	}
	if svc.Resources.MemoryLimit < 0 || svc.Resources.MemoryReservation < 0 {
		return NewValidationError(field+".resources", "memory value cannot be negative", ErrInvalidMemory)
	}

	if svc.HealthCheck != nil {
		if err := validateHealthCheck(field, svc.HealthCheck); err != nil {
			return err
		}
	}

	return nil
}

func validateHealthCheck(field string, hc *HealthCheck) error {
	if len(hc.Test) == 0 {
		return NewValidationError(field+".healthcheck", "healthcheck requires a test", ErrInvalidHealthCheck)
	}
	switch hc.Test[0] {
	case "CMD", "CMD-SHELL", "NONE":
	default:
		return NewValidationError(
			field+".healthcheck.test",
			fmt.Sprintf("unknown test form %q", hc.Test[0]),
			ErrInvalidHealthCheck,
		)
	}
	if hc.Retries < 0 {
		return NewValidationError(field+".healthcheck.retries", "retries cannot be negative", ErrInvalidHealthCheck)
	}
	for _, d := range []struct {
		name  string
		value string
	}{
		{"interval", hc.Interval},
		{"timeout", hc.Timeout},
		{"start_period", hc.StartPeriod},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return NewValidationError(
				field+".healthcheck."+d.name,
				fmt.Sprintf("invalid duration %q", d.value),
				ErrInvalidHealthCheck,
			)
		}
		if parsed < 0 {
			return NewValidationError(
				field+".healthcheck."+d.name,
				"duration cannot be negative",
				ErrInvalidHealthCheck,
			)
		}
	}
	return nil
}

// =============================================================================
// Probe Accessors
// =============================================================================

// Probed reports whether the service declares a usable health probe.
func (s *Service) Probed() bool {
	return s.HealthCheck != nil && len(s.HealthCheck.Test) > 0 && s.HealthCheck.Test[0] != "NONE"
}

// ProbeInterval returns the probe interval, or the given fallback.
func (h *HealthCheck) ProbeInterval(fallback time.Duration) time.Duration {
	return parseDurationOr(h.Interval, fallback)
}

// ProbeTimeout returns the per-invocation probe timeout, or the fallback.
func (h *HealthCheck) ProbeTimeout(fallback time.Duration) time.Duration {
	return parseDurationOr(h.Timeout, fallback)
}

// ProbeStartPeriod returns the grace period before failures count.
func (h *HealthCheck) ProbeStartPeriod() time.Duration {
	return parseDurationOr(h.StartPeriod, 0)
}

// ProbeRetries returns the retry budget, or the fallback when unset.
func (h *HealthCheck) ProbeRetries(fallback int) int {
	if h.Retries > 0 {
		return h.Retries
	}
	return fallback
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
