package plan

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// DefaultNetworkName generates the name of the application-scoped default
// network. Pattern: {project}_default
func DefaultNetworkName(project string) string {
	return fmt.Sprintf("%s_default", project)
}

// NetworkName generates the runtime name for a declared network.
// Pattern: {project}_{network}
func NetworkName(project, network string) string {
	return fmt.Sprintf("%s_%s", project, network)
}

// VolumeName generates the runtime name for a named volume.
// Pattern: {project}_{volume}
func VolumeName(project, volume string) string {
	return fmt.Sprintf("%s_%s", project, volume)
}

// ContainerName generates the container name for a service.
// Pattern: convoy_{project}_{service}
func ContainerName(project, service string) string {
	return fmt.Sprintf("convoy_%s_%s", project, service)
}

// ImageTag generates the image tag for a service built from a local context.
// Pattern: {project}_{service}
func ImageTag(project, service string) string {
	return fmt.Sprintf("%s_%s", project, service)
}
