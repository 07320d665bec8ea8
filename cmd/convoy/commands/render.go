package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/artpar/convoy/internal/core/compose"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Render the merged specification",
	Long: `Load, merge, interpolate and validate the specification, then print the
resolved model. Useful for checking what convoy will actually run.`,
	RunE: runConfig,
}

// listVariables switches `config` from rendering the model to listing the
// ${VAR} references the source files make.
var listVariables bool

func init() {
	configCmd.Flags().BoolVar(&listVariables, "variables", false,
		"list the variables referenced by the specification instead of rendering it")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if listVariables {
		return runConfigVariables()
	}

	project, err := loadProject()
	if err != nil {
		return err
	}

	out, err := renderProject(project)
	if err != nil {
		return fmt.Errorf("failed to render specification: %w", err)
	}
	os.Stdout.Write(out)
	return nil
}

// runConfigVariables prints each referenced variable on its own line, without
// interpolating: it reads the raw sources so unset variables do not fail the
// command.
func runConfigVariables() error {
	files, err := resolveFiles()
	if err != nil {
		return err
	}

	sources := make([]compose.File, 0, len(files))
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read specification file %s: %w", path, err)
		}
		sources = append(sources, compose.File{Name: path, Content: string(content)})
	}

	for _, name := range compose.ExtractVariables(sources) {
		fmt.Println(name)
	}
	return nil
}

// renderProject marshals the resolved model with its wire field names
// (depends_on, healthcheck, ...) rather than lowercased Go identifiers; the
// model only carries JSON tags, so it goes through a JSON round-trip.
func renderProject(project *compose.Project) ([]byte, error) {
	raw, err := json.Marshal(project)
	if err != nil {
		return nil, err
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return yaml.Marshal(tree)
}
