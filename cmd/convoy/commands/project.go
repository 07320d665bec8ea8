package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/convoy/internal/core/compose"
	"github.com/artpar/convoy/internal/shell/docker"
	"github.com/artpar/convoy/internal/shell/engine"
)

// defaultFileNames are probed in order when no -f flag is given.
var defaultFileNames = []string{
	"convoy.yaml",
	"convoy.yml",
	"docker-compose.yaml",
	"docker-compose.yml",
	"compose.yaml",
	"compose.yml",
}

// resolveFiles returns the specification files for this invocation.
func resolveFiles() ([]string, error) {
	if len(specFiles) > 0 {
		return specFiles, nil
	}
	for _, name := range defaultFileNames {
		if _, err := os.Stat(name); err == nil {
			return []string{name}, nil
		}
	}
	return nil, fmt.Errorf("no specification file found (tried %s): %w",
		strings.Join(defaultFileNames, ", "), compose.ErrNoFiles)
}

// loadProject reads, merges and validates the specification.
func loadProject() (*compose.Project, error) {
	files, err := resolveFiles()
	if err != nil {
		return nil, err
	}

	environment := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environment[k] = v
		}
	}

	return compose.Load(files, compose.LoadOptions{
		ProjectName: resolveProjectName(files),
		WorkingDir:  filepath.Dir(files[0]),
		Environment: environment,
		EnvFiles:    envFiles,
	})
}

// stopTimeout overrides the configured stop grace period when a command's
// -t/--timeout flag is set (seconds; 0 means "use config").
var stopTimeout int

// runContext bundles everything a command needs to act on a project.
type runContext struct {
	cfg          *Config
	logger       *slog.Logger
	project      *compose.Project
	orchestrator *engine.Orchestrator
	runtime      *docker.Client
}

// setup loads config, logger, project and orchestrator for one command run.
// The caller must Close the returned context.
func setup() (*runContext, error) {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	logger := SetupLogger(cfg)
	if stopTimeout > 0 {
		cfg.Engine.StopGrace = time.Duration(stopTimeout) * time.Second
	}

	project, err := loadProject()
	if err != nil {
		return nil, err
	}

	runtime, err := docker.NewClient(cfg.Docker.Host)
	if err != nil {
		return nil, err
	}

	orchestrator, err := engine.New(project, runtime, logger, engine.Defaults{
		ProbeInterval: cfg.Engine.ProbeInterval,
		ProbeTimeout:  cfg.Engine.ProbeTimeout,
		ProbeRetries:  cfg.Engine.ProbeRetries,
		StopGrace:     cfg.Engine.StopGrace,
	})
	if err != nil {
		runtime.Close()
		return nil, err
	}

	return &runContext{
		cfg:          cfg,
		logger:       logger,
		project:      project,
		orchestrator: orchestrator,
		runtime:      runtime,
	}, nil
}

// Close releases the runtime connection.
func (r *runContext) Close() {
	if r.runtime != nil {
		r.runtime.Close()
	}
}
