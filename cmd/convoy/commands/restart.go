package commands

import (
	"context"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart [service...]",
	Short: "Restart services",
	Long: `Stop and start the given services (all services when none are named),
in dependency order.`,
	RunE: runRestart,
}

func runRestart(cmd *cobra.Command, args []string) error {
	rc, err := setup()
	if err != nil {
		return err
	}
	defer rc.Close()

	return rc.orchestrator.Restart(context.Background(), args)
}
