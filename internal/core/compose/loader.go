package compose

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/dotenv"
	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Load Options
// =============================================================================

// LoadOptions configures specification loading.
type LoadOptions struct {
	// ProjectName is the logical application name. Required.
	ProjectName string

	// WorkingDir is the directory relative paths are resolved against.
	// Defaults to the directory of the first specification file.
	WorkingDir string

	// Environment is the variable mapping used for ${VAR} interpolation.
	// Usually built from os.Environ plus CLI overrides.
	Environment map[string]string

	// EnvFiles are additional KEY=VALUE files merged into Environment
	// (later files win, explicit Environment entries win over files).
	EnvFiles []string
}

// =============================================================================
// Loading
// =============================================================================

// Load reads one or more specification files, merges them left-to-right,
// interpolates variables against the supplied environment and validates the
// result. Later files override scalar fields of earlier files; list entries
// are appended or replaced by key per the compose merge rules.
//
// Load performs no runtime side effects: any returned error means nothing
// was created.
func Load(paths []string, opts LoadOptions) (*Project, error) {
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}

	var files []File
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, NewValidationError(p, fmt.Sprintf("cannot read specification file: %v", err), err)
		}
		files = append(files, File{Name: p, Content: string(content)})
	}

	return LoadFromContent(files, opts)
}

// File is one in-memory specification source.
type File struct {
	Name    string
	Content string
}

// LoadFromContent is Load for already-read specification sources.
func LoadFromContent(files []File, opts LoadOptions) (*Project, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	environment, err := resolveEnvironment(opts)
	if err != nil {
		return nil, err
	}

	// Parse every file up-front: syntax errors and unresolvable variables must
	// surface before anything else happens.
	var configFiles []types.ConfigFile
	rawDocs := make([]map[string]interface{}, 0, len(files))
	for _, f := range files {
		if strings.TrimSpace(f.Content) == "" {
			return nil, NewValidationError(f.Name, "specification is empty", ErrEmptyInput)
		}
		var dict map[string]interface{}
		if err := yaml.Unmarshal([]byte(f.Content), &dict); err != nil || dict == nil {
			return nil, NewValidationError(f.Name, "invalid YAML syntax", ErrInvalidYAML)
		}
		rawDocs = append(rawDocs, dict)
		configFiles = append(configFiles, types.ConfigFile{
			Filename: f.Name,
			Content:  []byte(f.Content),
			Config:   dict,
		})
	}

	if missing := missingVariables(files, environment); len(missing) > 0 {
		return nil, &MissingVariableError{Variables: missing}
	}

	project, err := loadMerged(configFiles, environment, opts)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}
	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	result, err := convertProject(project, opts.ProjectName, explicitConditions(rawDocs))
	if err != nil {
		return nil, err
	}

	if err := Validate(result); err != nil {
		return nil, err
	}

	return result, nil
}

// resolveEnvironment merges env files under the explicit environment mapping.
func resolveEnvironment(opts LoadOptions) (map[string]string, error) {
	environment := map[string]string{}
	if len(opts.EnvFiles) > 0 {
		fromFiles, err := dotenv.GetEnvFromFile(map[string]string{}, opts.EnvFiles)
		if err != nil {
			return nil, NewValidationError("env_file", err.Error(), err)
		}
		for k, v := range fromFiles {
			environment[k] = v
		}
	}
	for k, v := range opts.Environment {
		environment[k] = v
	}
	return environment, nil
}

// loadMerged runs the compose-go loader over all files at once; the loader
// implements the left-to-right merge semantics (scalar overwrite, list
// append, keyed replace).
func loadMerged(configFiles []types.ConfigFile, environment map[string]string, opts LoadOptions) (*types.Project, error) {
	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = "."
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		WorkingDir:  workingDir,
		ConfigFiles: configFiles,
		Environment: environment,
	}, func(o *loader.Options) {
		name := opts.ProjectName
		if name == "" {
			name = "convoy"
		}
		o.SetProjectName(name, true)
		o.SkipValidation = false
		o.SkipInterpolation = false
		o.SkipNormalization = true
		o.SkipExtends = true
		// Cross-reference checks (and cycle detection) are Validate's and the
		// graph builder's job; the builder reports cycles with the full path.
		o.SkipConsistencyCheck = true
	})
	if err != nil {
		return nil, NewValidationError("", err.Error(), ErrInvalidYAML)
	}
	return project, nil
}

// checkUnsupportedFeatures rejects compose features Convoy does not run.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewValidationError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewValidationError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	for _, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewValidationError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}
	return nil
}

// =============================================================================
// Conversion
// =============================================================================

// edgeKey identifies one depends_on edge for condition resolution.
type edgeKey struct {
	service    string
	dependency string
}

// explicitConditions collects depends_on edges declared in long (mapping)
// form in any source file. Only those carry a user-chosen condition; short
// (list) form edges get the probe-aware default.
func explicitConditions(rawDocs []map[string]interface{}) map[edgeKey]bool {
	explicit := make(map[edgeKey]bool)
	for _, doc := range rawDocs {
		services, ok := doc["services"].(map[string]interface{})
		if !ok {
			continue
		}
		for svcName, rawSvc := range services {
			svc, ok := rawSvc.(map[string]interface{})
			if !ok {
				continue
			}
			if deps, ok := svc["depends_on"].(map[string]interface{}); ok {
				for depName := range deps {
					explicit[edgeKey{service: svcName, dependency: depName}] = true
				}
			}
		}
	}
	return explicit
}

// convertProject converts a compose-go project to the Convoy model.
func convertProject(project *types.Project, name string, explicit map[edgeKey]bool) (*Project, error) {
	result := &Project{
		Name:     name,
		Services: make([]Service, 0, len(project.Services)),
		Networks: make([]Network, 0, len(project.Networks)),
		Volumes:  make([]Volume, 0, len(project.Volumes)),
	}

	probed := make(map[string]bool)
	for _, svc := range project.Services {
		probed[svc.Name] = svc.HealthCheck != nil && !svc.HealthCheck.Disable
	}

	for _, svc := range project.Services {
		converted, err := convertService(svc, probed, explicit)
		if err != nil {
			return nil, err
		}
		result.Services = append(result.Services, converted)
	}
	sort.Slice(result.Services, func(i, j int) bool {
		return result.Services[i].Name < result.Services[j].Name
	})

	for netName, net := range project.Networks {
		result.Networks = append(result.Networks, Network{
			Name:       netName,
			Driver:     net.Driver,
			External:   bool(net.External),
			Internal:   net.Internal,
			Attachable: net.Attachable,
			Labels:     net.Labels,
		})
	}
	sort.Slice(result.Networks, func(i, j int) bool {
		return result.Networks[i].Name < result.Networks[j].Name
	})

	for volName, vol := range project.Volumes {
		result.Volumes = append(result.Volumes, Volume{
			Name:     volName,
			Driver:   vol.Driver,
			External: bool(vol.External),
			Labels:   vol.Labels,
		})
	}
	sort.Slice(result.Volumes, func(i, j int) bool {
		return result.Volumes[i].Name < result.Volumes[j].Name
	})

	return result, nil
}

// convertService converts a compose-go service to the Convoy Service type.
func convertService(svc types.ServiceConfig, probed map[string]bool, explicit map[edgeKey]bool) (Service, error) {
	service := Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
		Networks:    make([]string, 0),
		DependsOn:   make([]Dependency, 0),
	}

	if svc.Build != nil {
		service.Build = &BuildConfig{
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
		}
	}

	if service.Image == "" && service.Build == nil {
		return Service{}, NewValidationError("services."+svc.Name, "service must have image or build", ErrServiceNoImage)
	}
	if service.Image != "" && service.Build != nil {
		return Service{}, NewValidationError("services."+svc.Name, "image and build are mutually exclusive", ErrServiceImageAndBuild)
	}

	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			if strings.Contains(p.Published, "-") {
				return Service{}, NewValidationError(
					"services."+svc.Name+".ports",
					fmt.Sprintf("published port range %q is not supported, map each port individually", p.Published),
					ErrUnsupportedFeature,
				)
			}
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err != nil {
				return Service{}, NewValidationError(
					"services."+svc.Name+".ports",
					fmt.Sprintf("published port %q is not a number", p.Published),
					ErrServiceInvalidPort,
				)
			}
			published = uint32(pub)
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	for _, v := range svc.Volumes {
		mount := VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.Type = VolumeMountTypeBind
		case "volume":
			mount.Type = VolumeMountTypeVolume
		case "tmpfs":
			mount.Type = VolumeMountTypeTmpfs
		default:
			if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
				mount.Type = VolumeMountTypeBind
			} else {
				mount.Type = VolumeMountTypeVolume
			}
		}
		service.Volumes = append(service.Volumes, mount)
	}

	for net := range svc.Networks {
		service.Networks = append(service.Networks, net)
	}
	sort.Strings(service.Networks)

	for dep, cfg := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, Dependency{
			Service:   dep,
			Condition: resolveCondition(svc.Name, dep, cfg.Condition, probed, explicit),
		})
	}
	sort.Slice(service.DependsOn, func(i, j int) bool {
		return service.DependsOn[i].Service < service.DependsOn[j].Service
	})

	service.Restart = RestartPolicy(svc.Restart)

	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		service.HealthCheck = &HealthCheck{
			Test: svc.HealthCheck.Test,
		}
		if svc.HealthCheck.Retries != nil {
			service.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			service.HealthCheck.Interval = svc.HealthCheck.Interval.String()
		}
		if svc.HealthCheck.Timeout != nil {
			service.HealthCheck.Timeout = svc.HealthCheck.Timeout.String()
		}
		if svc.HealthCheck.StartPeriod != nil {
			service.HealthCheck.StartPeriod = svc.HealthCheck.StartPeriod.String()
		}
	}

	// Note: compose-go's NanoCPUs is misnamed - it's the CPU count as float32.
	if svc.Deploy != nil && svc.Deploy.Resources.Limits != nil {
		limits := svc.Deploy.Resources.Limits
		service.Resources.CPULimit = float64(limits.NanoCPUs)
		service.Resources.MemoryLimit = int64(limits.MemoryBytes)
	}
	if svc.Deploy != nil && svc.Deploy.Resources.Reservations != nil {
		reservations := svc.Deploy.Resources.Reservations
		service.Resources.CPUReservation = float64(reservations.NanoCPUs)
		service.Resources.MemoryReservation = int64(reservations.MemoryBytes)
	}

	return service, nil
}

// resolveCondition picks the readiness condition for one depends_on edge.
//
// Edges declared in long form keep what the user wrote. Edges declared in
// short form default to service_healthy when the target declares a health
// probe, service_started otherwise.
func resolveCondition(service, dependency, declared string, probed map[string]bool, explicit map[edgeKey]bool) DependencyCondition {
	if explicit[edgeKey{service: service, dependency: dependency}] {
		switch declared {
		case string(ConditionHealthy):
			return ConditionHealthy
		default:
			return ConditionStarted
		}
	}
	if probed[dependency] {
		return ConditionHealthy
	}
	return ConditionStarted
}

// projectNameInvalidChars matches everything a project name cannot contain.
var projectNameInvalidChars = regexp.MustCompile(`[^a-z0-9_-]`)

// NormalizeProjectName lowercases a candidate project name and strips
// characters the runtime rejects in resource names.
func NormalizeProjectName(name string) string {
	normalized := projectNameInvalidChars.ReplaceAllString(strings.ToLower(name), "")
	normalized = strings.TrimLeft(normalized, "_-")
	if normalized == "" {
		return "convoy"
	}
	return normalized
}

// =============================================================================
// Interpolation Strictness
// =============================================================================

// variableRefRegex matches ${VAR} and ${VAR:-default} / ${VAR-default}.
// Group 1: variable name. Group 2: default marker, when present.
var variableRefRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)((?::?-)[^}]*)?\}`)

// dropEscapedDollars removes $$ escape pairs before reference scanning, so
// $${VAR} (a literal ${VAR} after interpolation) is not treated as a
// variable use while $$${VAR} still is.
func dropEscapedDollars(s string) string {
	return strings.ReplaceAll(s, "$$", "")
}

// missingVariables returns the variables referenced without a default and
// absent from the environment, sorted and deduplicated.
func missingVariables(files []File, environment map[string]string) []string {
	seen := make(map[string]bool)
	var missing []string
	for _, f := range files {
		for _, match := range variableRefRegex.FindAllStringSubmatch(dropEscapedDollars(f.Content), -1) {
			name := match[1]
			hasDefault := len(match) >= 3 && match[2] != ""
			if hasDefault {
				continue
			}
			if _, ok := environment[name]; ok {
				continue
			}
			if !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
		}
	}
	sort.Strings(missing)
	return missing
}

// ExtractVariables returns all ${VAR} names referenced in the given sources,
// with or without defaults.
func ExtractVariables(files []File) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, f := range files {
		for _, match := range variableRefRegex.FindAllStringSubmatch(dropEscapedDollars(f.Content), -1) {
			if !seen[match[1]] {
				seen[match[1]] = true
				vars = append(vars, match[1])
			}
		}
	}
	sort.Strings(vars)
	return vars
}
