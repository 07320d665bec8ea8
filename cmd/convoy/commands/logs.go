package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artpar/convoy/internal/shell/engine"
)

var (
	logsFollow bool
	logsTail   string
)

var logsCmd = &cobra.Command{
	Use:   "logs [service...]",
	Short: "Show service logs",
	Long: `Stream the logs of the given services (all services when none are named),
each line prefixed with the service name.`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output")
	logsCmd.Flags().StringVar(&logsTail, "tail", "all", "number of lines to show from the end")
}

func runLogs(cmd *cobra.Command, args []string) error {
	rc, err := setup()
	if err != nil {
		return err
	}
	defer rc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = rc.orchestrator.Logs(ctx, engine.LogsOptions{
		Services: args,
		Follow:   logsFollow,
		Tail:     logsTail,
		Writer:   os.Stdout,
	})
	if ctx.Err() != nil {
		// Interrupted follow is a normal exit.
		return nil
	}
	return err
}
