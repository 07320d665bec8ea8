package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/convoy/internal/shell/engine"
)

var (
	upDetach     bool
	upForceBuild bool
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the application",
	Long: `Create shared networks and volumes, prepare images, and start every
service in dependency order. Services gate on their dependencies' readiness
conditions; independent services start concurrently.

In the foreground (default) convoy supervises restarts and tears everything
down in reverse order on interrupt. With --detach it returns once startup
settled and leaves restart handling to the container runtime.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().BoolVarP(&upDetach, "detach", "d", false, "return after startup; do not supervise")
	upCmd.Flags().BoolVar(&upForceBuild, "build", false, "rebuild images before starting")
	upCmd.Flags().IntVarP(&stopTimeout, "timeout", "t", 0, "stop grace period in seconds on teardown")
}

func runUp(cmd *cobra.Command, args []string) error {
	rc, err := setup()
	if err != nil {
		return err
	}
	defer rc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := rc.orchestrator.Up(ctx, engine.UpOptions{
		Detach:      upDetach,
		ForceBuild:  upForceBuild,
		BuildOutput: os.Stderr,
	})
	if err != nil {
		return err
	}

	printSummary(summary)

	if upDetach {
		if !summary.Ok() {
			return &exitError{code: ExitRuntime}
		}
		return nil
	}

	if summary.Ok() && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "Application is running. Press Ctrl+C to stop.")
		go func() {
			err := rc.orchestrator.Logs(ctx, engine.LogsOptions{
				Follow: true,
				Writer: os.Stdout,
			})
			if err != nil && ctx.Err() == nil {
				rc.logger.Warn("log streaming ended", "error", err)
			}
		}()
		rc.orchestrator.Watch(ctx)
	}

	// Interrupt (or a settled failure) ends the foreground run; teardown
	// gets its own deadline since the run context is already canceled.
	stop()
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if stopErr := rc.orchestrator.Stop(stopCtx); stopErr != nil {
		rc.logger.Error("teardown failed", "error", stopErr)
		return &exitError{code: ExitRuntime}
	}

	if !summary.Ok() {
		return &exitError{code: ExitRuntime}
	}
	return nil
}

// printSummary writes a per-service startup report to stderr.
func printSummary(summary *engine.Summary) {
	if started := summary.Started(); len(started) > 0 {
		fmt.Fprintf(os.Stderr, "Started: %s\n", strings.Join(started, ", "))
	}
	for _, name := range summary.Failed() {
		result := summary.Result(name)
		fmt.Fprintf(os.Stderr, "Failed:  %s (%v)\n", name, result.Err)
	}
	if skipped := summary.Skipped(); len(skipped) > 0 {
		fmt.Fprintf(os.Stderr, "Skipped: %s\n", strings.Join(skipped, ", "))
	}
}
