package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <service> <command> [args...]",
	Short: "Run a command in a running service",
	Long: `Run a command inside the running container of a service. The command's
exit code becomes convoy's exit code.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	rc, err := setup()
	if err != nil {
		return err
	}
	defer rc.Close()

	code, err := rc.orchestrator.Exec(context.Background(), args[0], args[1:], os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}
