package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const minimalValidSpec = `
services:
  app:
    image: nginx:latest
`

const multiServiceSpec = `
services:
  web:
    image: nginx:latest
    ports:
      - "80:80"
    depends_on:
      - api

  api:
    image: myapp:1.0
    environment:
      DB_HOST: db
    depends_on:
      - db

  db:
    image: postgres:15
    volumes:
      - pgdata:/var/lib/postgresql/data

volumes:
  pgdata:
`

const probedDependencySpec = `
services:
  api:
    image: myapp:1.0
    depends_on:
      - db

  db:
    image: postgres:15
    healthcheck:
      test: ["CMD", "pg_isready"]
      interval: 2s
      retries: 5
`

const longFormDependencySpec = `
services:
  api:
    image: myapp:1.0
    depends_on:
      db:
        condition: service_started

  db:
    image: postgres:15
    healthcheck:
      test: ["CMD", "pg_isready"]
`

const interpolatedSpec = `
services:
  app:
    image: myapp:${TAG}
    environment:
      DB_PASSWORD: ${DB_PASSWORD}
      DB_HOST: ${DB_HOST:-localhost}
`

const healthCheckSpec = `
services:
  web:
    image: nginx:latest
    healthcheck:
      test: ["CMD", "curl", "-f", "http://localhost"]
      interval: 30s
      timeout: 10s
      retries: 3
      start_period: 5s
`

func load(t *testing.T, content string, env map[string]string) (*Project, error) {
	t.Helper()
	return LoadFromContent(
		[]File{{Name: "convoy.yaml", Content: content}},
		LoadOptions{ProjectName: "test", Environment: env},
	)
}

// =============================================================================
// Input Validation Tests
// =============================================================================

func TestLoadFromContent_NoFiles(t *testing.T) {
	_, err := LoadFromContent(nil, LoadOptions{ProjectName: "test"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestLoadFromContent_EmptyInput(t *testing.T) {
	_, err := load(t, "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestLoadFromContent_WhitespaceOnly(t *testing.T) {
	_, err := load(t, "   \n\t  ", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestLoadFromContent_InvalidYAML(t *testing.T) {
	_, err := load(t, "invalid: yaml: content: [", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoadFromContent_EmptyServices(t *testing.T) {
	_, err := load(t, "services: {}", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoServices)
}

// =============================================================================
// Service Loading Tests
// =============================================================================

func TestLoadFromContent_MinimalValid(t *testing.T) {
	project, err := load(t, minimalValidSpec, nil)
	require.NoError(t, err)
	require.NotNil(t, project)

	assert.Equal(t, "test", project.Name)
	require.Len(t, project.Services, 1)
	assert.Equal(t, "app", project.Services[0].Name)
	assert.Equal(t, "nginx:latest", project.Services[0].Image)
}

func TestLoadFromContent_MultiService(t *testing.T) {
	project, err := load(t, multiServiceSpec, nil)
	require.NoError(t, err)
	require.Len(t, project.Services, 3)

	// Services are sorted by name.
	assert.Equal(t, []string{"api", "db", "web"}, project.ServiceNames())

	web := project.Service("web")
	require.NotNil(t, web)
	require.Len(t, web.Ports, 1)
	assert.Equal(t, uint32(80), web.Ports[0].Target)
	assert.Equal(t, uint32(80), web.Ports[0].Published)

	api := project.Service("api")
	require.NotNil(t, api)
	assert.Equal(t, "db", api.Environment["DB_HOST"])

	db := project.Service("db")
	require.NotNil(t, db)
	require.Len(t, db.Volumes, 1)
	assert.Equal(t, VolumeMountTypeVolume, db.Volumes[0].Type)
	assert.Equal(t, "pgdata", db.Volumes[0].Source)

	require.Len(t, project.Volumes, 1)
	assert.Equal(t, "pgdata", project.Volumes[0].Name)
}

func TestLoadFromContent_BuildService(t *testing.T) {
	content := `
services:
  app:
    build:
      context: ./app
      dockerfile: Dockerfile.prod
`
	project, err := load(t, content, nil)
	require.NoError(t, err)

	app := project.Service("app")
	require.NotNil(t, app)
	assert.Empty(t, app.Image)
	require.NotNil(t, app.Build)
	assert.Equal(t, "Dockerfile.prod", app.Build.Dockerfile)
}

func TestLoadFromContent_HealthCheck(t *testing.T) {
	project, err := load(t, healthCheckSpec, nil)
	require.NoError(t, err)

	web := project.Service("web")
	require.NotNil(t, web)
	require.NotNil(t, web.HealthCheck)
	assert.Equal(t, []string{"CMD", "curl", "-f", "http://localhost"}, web.HealthCheck.Test)
	assert.Equal(t, "30s", web.HealthCheck.Interval)
	assert.Equal(t, 3, web.HealthCheck.Retries)
	assert.True(t, web.Probed())
}

func TestLoadFromContent_SecretsRejected(t *testing.T) {
	content := `
services:
  app:
    image: nginx:latest
secrets:
  db_password:
    file: ./secret.txt
`
	_, err := load(t, content, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

// =============================================================================
// Dependency Condition Tests
// =============================================================================

func TestLoadFromContent_ShortFormDefaultsToHealthyForProbedTarget(t *testing.T) {
	project, err := load(t, probedDependencySpec, nil)
	require.NoError(t, err)

	api := project.Service("api")
	require.NotNil(t, api)
	require.Len(t, api.DependsOn, 1)
	assert.Equal(t, "db", api.DependsOn[0].Service)
	assert.Equal(t, ConditionHealthy, api.DependsOn[0].Condition)
}

func TestLoadFromContent_ShortFormDefaultsToStartedForUnprobedTarget(t *testing.T) {
	project, err := load(t, multiServiceSpec, nil)
	require.NoError(t, err)

	web := project.Service("web")
	require.NotNil(t, web)
	require.Len(t, web.DependsOn, 1)
	assert.Equal(t, ConditionStarted, web.DependsOn[0].Condition)
}

func TestLoadFromContent_LongFormConditionIsKept(t *testing.T) {
	project, err := load(t, longFormDependencySpec, nil)
	require.NoError(t, err)

	// The target declares a probe, but the user explicitly asked for
	// service_started.
	api := project.Service("api")
	require.NotNil(t, api)
	require.Len(t, api.DependsOn, 1)
	assert.Equal(t, ConditionStarted, api.DependsOn[0].Condition)
}

// =============================================================================
// Multi-File Merge Tests
// =============================================================================

func TestLoadFromContent_LaterFileOverridesScalars(t *testing.T) {
	base := `
services:
  app:
    image: myapp:1.0
    environment:
      MODE: production
`
	override := `
services:
  app:
    image: myapp:2.0
    environment:
      DEBUG: "1"
`
	project, err := LoadFromContent(
		[]File{
			{Name: "base.yaml", Content: base},
			{Name: "override.yaml", Content: override},
		},
		LoadOptions{ProjectName: "test"},
	)
	require.NoError(t, err)

	app := project.Service("app")
	require.NotNil(t, app)
	assert.Equal(t, "myapp:2.0", app.Image)
	// Mappings merge key-wise.
	assert.Equal(t, "production", app.Environment["MODE"])
	assert.Equal(t, "1", app.Environment["DEBUG"])
}

func TestLoadFromContent_OverrideAddsService(t *testing.T) {
	override := `
services:
  extra:
    image: redis:7
`
	project, err := LoadFromContent(
		[]File{
			{Name: "base.yaml", Content: minimalValidSpec},
			{Name: "override.yaml", Content: override},
		},
		LoadOptions{ProjectName: "test"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "extra"}, project.ServiceNames())
}

// =============================================================================
// Interpolation Tests
// =============================================================================

func TestLoadFromContent_InterpolatesVariables(t *testing.T) {
	project, err := load(t, interpolatedSpec, map[string]string{
		"TAG":         "3.1",
		"DB_PASSWORD": "s3cret",
	})
	require.NoError(t, err)

	app := project.Service("app")
	require.NotNil(t, app)
	assert.Equal(t, "myapp:3.1", app.Image)
	assert.Equal(t, "s3cret", app.Environment["DB_PASSWORD"])
	assert.Equal(t, "localhost", app.Environment["DB_HOST"])
}

func TestLoadFromContent_MissingVariableIsFatal(t *testing.T) {
	_, err := load(t, interpolatedSpec, map[string]string{"TAG": "3.1"})
	require.Error(t, err)

	var missingErr *MissingVariableError
	require.ErrorAs(t, err, &missingErr)
	assert.Equal(t, []string{"DB_PASSWORD"}, missingErr.Variables)
}

func TestLoadFromContent_MissingVariablesAreCollected(t *testing.T) {
	_, err := load(t, interpolatedSpec, nil)
	require.Error(t, err)

	var missingErr *MissingVariableError
	require.ErrorAs(t, err, &missingErr)
	// Sorted, deduplicated, and DB_HOST excluded because it has a default.
	assert.Equal(t, []string{"DB_PASSWORD", "TAG"}, missingErr.Variables)
}

func TestLoadFromContent_DefaultedVariableNotRequired(t *testing.T) {
	content := `
services:
  app:
    image: nginx:${TAG:-latest}
`
	project, err := load(t, content, nil)
	require.NoError(t, err)
	assert.Equal(t, "nginx:latest", project.Service("app").Image)
}

func TestLoadFromContent_EscapedVariableNotRequired(t *testing.T) {
	content := `
services:
  db:
    image: postgres:15
    healthcheck:
      test: ["CMD-SHELL", "pg_isready -U $${POSTGRES_USER}"]
`
	project, err := load(t, content, nil)
	require.NoError(t, err)

	db := project.Service("db")
	require.NotNil(t, db)
	// $$ renders a literal $ for the container shell to expand.
	assert.Equal(t, "pg_isready -U ${POSTGRES_USER}", db.HealthCheck.Test[1])
}

func TestLoadFromContent_EscapedDollarBeforeReferenceStillRequired(t *testing.T) {
	content := `
services:
  app:
    image: nginx:latest
    environment:
      MSG: "cost $$$${AMOUNT} and ${REQUIRED}"
`
	_, err := load(t, content, nil)
	require.Error(t, err)

	var missingErr *MissingVariableError
	require.ErrorAs(t, err, &missingErr)
	// $$$$ collapses to literal dollars; only the real reference counts.
	assert.Equal(t, []string{"REQUIRED"}, missingErr.Variables)
}

func TestExtractVariables(t *testing.T) {
	vars := ExtractVariables([]File{{Name: "convoy.yaml", Content: interpolatedSpec}})
	assert.Equal(t, []string{"DB_HOST", "DB_PASSWORD", "TAG"}, vars)
}

func TestExtractVariables_IgnoresEscapedReferences(t *testing.T) {
	content := `
services:
  app:
    image: myapp:${TAG}
    command: ["sh", "-c", "echo $${HOME}"]
`
	vars := ExtractVariables([]File{{Name: "convoy.yaml", Content: content}})
	assert.Equal(t, []string{"TAG"}, vars)
}

// =============================================================================
// Deferred / Unsupported Forms
// =============================================================================

func TestLoadFromContent_CyclicDependsOnLoads(t *testing.T) {
	content := `
services:
  a:
    image: one:latest
    depends_on:
      - b
  b:
    image: two:latest
    depends_on:
      - a
`
	// Cycles are the graph builder's to report, with the full path; loading
	// must not reject them with a generic validation error.
	project, err := load(t, content, nil)
	require.NoError(t, err)
	require.Len(t, project.Services, 2)
	assert.Equal(t, "b", project.Service("a").DependsOn[0].Service)
	assert.Equal(t, "a", project.Service("b").DependsOn[0].Service)
}

func TestLoadFromContent_PortRangeRejected(t *testing.T) {
	content := `
services:
  app:
    image: nginx:latest
    ports:
      - target: 3000
        published: "3000-3005"
`
	_, err := load(t, content, nil)
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
	assert.Contains(t, validationErr.Message, "port range")
}

// =============================================================================
// Project Name Tests
// =============================================================================

func TestNormalizeProjectName(t *testing.T) {
	assert.Equal(t, "myapp", NormalizeProjectName("MyApp"))
	assert.Equal(t, "myapp_2", NormalizeProjectName("My App_2"))
	assert.Equal(t, "blog", NormalizeProjectName("__blog"))
	assert.Equal(t, "convoy", NormalizeProjectName("!!!"))
}
