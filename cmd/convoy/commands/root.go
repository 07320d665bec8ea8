// Package commands implements the convoy CLI.
package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/artpar/convoy/internal/core/compose"
	"github.com/artpar/convoy/internal/core/graph"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes. Validation problems and dependency cycles are distinguishable
// for scripting.
const (
	ExitSuccess    = 0
	ExitRuntime    = 1
	ExitValidation = 2
	ExitCycle      = 3
)

var (
	// Global persistent flags.
	specFiles   []string
	projectName string
	envFiles    []string
	cfgFile     string
)

var rootCmd = &cobra.Command{
	Use:   "convoy",
	Short: "Convoy - single-host service orchestration",
	Long: `Convoy runs multi-service applications on a single host from a declarative
specification: it resolves dependency order, gates on health probes, and
tears everything down in reverse order.

Use "convoy [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&specFiles, "file", "f", nil, "specification file (repeatable; later files override earlier ones)")
	rootCmd.PersistentFlags().StringVarP(&projectName, "project-name", "p", "", "project name (default: directory name)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "environment file for ${VAR} interpolation (repeatable)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "convoy config file")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Execute runs the CLI and maps the resulting error to an exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitCode(err)
}

// exitCode classifies an error into the CLI's exit code taxonomy.
func exitCode(err error) int {
	var (
		cycleErr      *graph.CycleError
		validationErr *compose.ValidationError
		missingErr    *compose.MissingVariableError
	)
	switch {
	case errors.As(err, &cycleErr):
		return ExitCycle
	case errors.As(err, &validationErr), errors.As(err, &missingErr):
		return ExitValidation
	case errors.Is(err, compose.ErrNoFiles), errors.Is(err, compose.ErrInvalidYAML), errors.Is(err, compose.ErrNoServices):
		return ExitValidation
	default:
		return ExitRuntime
	}
}

// exitError carries an explicit exit code through cobra without printing
// anything further (used by exec to forward the command's code).
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

// resolveProjectName returns the explicit project name or derives one from
// the first specification file's directory.
func resolveProjectName(files []string) string {
	if projectName != "" {
		return projectName
	}
	dir := "."
	if len(files) > 0 {
		dir = filepath.Dir(files[0])
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "convoy"
	}
	return compose.NormalizeProjectName(filepath.Base(abs))
}
