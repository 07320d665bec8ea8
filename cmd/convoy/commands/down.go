package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artpar/convoy/internal/shell/engine"
)

var downPurgeVolumes bool

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove the application",
	Long: `Stop and remove every container of the project in reverse dependency
order, then remove the project's networks. Named volumes survive unless
--volumes is given. Running down on an absent application is a no-op.`,
	RunE: runDown,
}

func init() {
	downCmd.Flags().BoolVarP(&downPurgeVolumes, "volumes", "v", false, "also remove named volumes")
	downCmd.Flags().IntVarP(&stopTimeout, "timeout", "t", 0, "stop grace period in seconds")
}

func runDown(cmd *cobra.Command, args []string) error {
	rc, err := setup()
	if err != nil {
		return err
	}
	defer rc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rc.orchestrator.Down(ctx, engine.DownOptions{
		PurgeVolumes: downPurgeVolumes,
	})
}
