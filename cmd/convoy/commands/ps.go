package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/artpar/convoy/internal/core/health"
	"github.com/artpar/convoy/internal/shell/docker"
	"github.com/artpar/convoy/internal/shell/engine"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "Show service status",
	Long:  `Display the runtime status of every declared service.`,
	RunE:  runPs,
}

func runPs(cmd *cobra.Command, args []string) error {
	rc, err := setup()
	if err != nil {
		return err
	}
	defer rc.Close()

	statuses, err := rc.orchestrator.Ps(context.Background())
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"SERVICE", "STATE", "HEALTH", "CONTAINER", "IMAGE", "PORTS"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, s := range statuses {
		health := s.Health
		if health == "" {
			health = "-"
		}
		table.Append([]string{
			s.Service,
			s.State,
			health,
			orDash(s.ContainerID),
			orDash(s.Image),
			orDash(formatPorts(s.Ports)),
		})
	}
	table.Render()
	fmt.Printf("\noverall: %s\n", aggregateHealth(statuses))
	return nil
}

// aggregateHealth folds per-service runtime reports into one application-level
// result: healthy only when every service is.
func aggregateHealth(statuses []engine.ServiceStatus) health.Result {
	results := make([]health.Result, 0, len(statuses))
	for _, s := range statuses {
		running := s.State == string(docker.ContainerStatusRunning)
		results = append(results, health.FromRuntimeState(running, s.Health))
	}
	return health.Aggregate(results)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatPorts renders port bindings as "host->container/proto" pairs.
func formatPorts(ports []docker.PortBinding) string {
	var parts []string
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		if p.HostPort > 0 {
			parts = append(parts, fmt.Sprintf("%d->%d/%s", p.HostPort, p.ContainerPort, proto))
		} else {
			parts = append(parts, fmt.Sprintf("%d/%s", p.ContainerPort, proto))
		}
	}
	return strings.Join(parts, ", ")
}
