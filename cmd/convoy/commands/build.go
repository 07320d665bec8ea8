package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build [service...]",
	Short: "Build service images",
	Long: `Build the images of services declared with a build context (all of them
when none are named). Naming a service without a build context is an error.`,
	RunE: runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	rc, err := setup()
	if err != nil {
		return err
	}
	defer rc.Close()

	return rc.orchestrator.Build(context.Background(), args, os.Stderr)
}
