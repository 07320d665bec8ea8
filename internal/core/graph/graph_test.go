package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/convoy/internal/core/compose"
)

// =============================================================================
// Test Fixtures
// =============================================================================

func project(services ...compose.Service) *compose.Project {
	return &compose.Project{Name: "test", Services: services}
}

func service(name string, deps ...string) compose.Service {
	svc := compose.Service{Name: name, Image: name + ":latest"}
	for _, dep := range deps {
		svc.DependsOn = append(svc.DependsOn, compose.Dependency{
			Service:   dep,
			Condition: compose.ConditionStarted,
		})
	}
	return svc
}

// webStack: web -> api -> db, plus an independent cache.
func webStack() *compose.Project {
	return project(
		service("web", "api"),
		service("api", "db"),
		service("db"),
		service("cache"),
	)
}

func position(t *testing.T, order []string, name string) int {
	t.Helper()
	for i, n := range order {
		if n == name {
			return i
		}
	}
	t.Fatalf("service %q not in order %v", name, order)
	return -1
}

// =============================================================================
// Build Tests
// =============================================================================

func TestBuild_Valid(t *testing.T) {
	g, err := Build(webStack())
	require.NoError(t, err)
	require.NotNil(t, g)

	assert.ElementsMatch(t, []string{"web", "api", "db", "cache"}, g.Services())
	require.Len(t, g.Dependencies("web"), 1)
	assert.Equal(t, "api", g.Dependencies("web")[0].Service)
	assert.Empty(t, g.Dependencies("db"))
	assert.Equal(t, []string{"api"}, g.Dependents("db"))
}

func TestBuild_Cycle(t *testing.T) {
	_, err := Build(project(
		service("a", "b"),
		service("b", "c"),
		service("c", "a"),
	))
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	// The path names every participant and closes the loop.
	assert.Len(t, cycleErr.Path, 4)
	assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
	assert.Contains(t, cycleErr.Error(), "dependency cycle detected")
}

func TestBuild_CycleFromLoadedContent(t *testing.T) {
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
	loaded, err := compose.LoadFromContent(
		[]compose.File{{Name: "convoy.yaml", Content: content}},
		compose.LoadOptions{ProjectName: "test"},
	)
	require.NoError(t, err)

	// A cyclic file makes it through loading; the builder owns the report.
	_, err = Build(loaded)
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Len(t, cycleErr.Path, 3)
	assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
}

func TestBuild_SelfReference(t *testing.T) {
	_, err := Build(project(service("a", "a")))
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a", "a"}, cycleErr.Path)
}

// =============================================================================
// Ordering Tests
// =============================================================================

func TestStartOrder_DependenciesFirst(t *testing.T) {
	g, err := Build(webStack())
	require.NoError(t, err)

	order := g.StartOrder()
	require.Len(t, order, 4)
	assert.Less(t, position(t, order, "db"), position(t, order, "api"))
	assert.Less(t, position(t, order, "api"), position(t, order, "web"))
}

func TestStopOrder_IsExactReverseOfStartOrder(t *testing.T) {
	g, err := Build(webStack())
	require.NoError(t, err)

	start := g.StartOrder()
	stop := g.StopOrder()
	require.Len(t, stop, len(start))
	for i := range start {
		assert.Equal(t, start[i], stop[len(stop)-1-i])
	}
}

func TestStartWaves(t *testing.T) {
	g, err := Build(webStack())
	require.NoError(t, err)

	waves := g.StartWaves()
	require.Len(t, waves, 3)
	// db and cache have no dependencies; they start together.
	assert.ElementsMatch(t, []string{"cache", "db"}, waves[0])
	assert.Equal(t, []string{"api"}, waves[1])
	assert.Equal(t, []string{"web"}, waves[2])
}

func TestTransitiveDependents(t *testing.T) {
	g, err := Build(webStack())
	require.NoError(t, err)

	assert.Equal(t, []string{"api", "web"}, g.TransitiveDependents("db"))
	assert.Equal(t, []string{"web"}, g.TransitiveDependents("api"))
	assert.Empty(t, g.TransitiveDependents("web"))
	assert.Empty(t, g.TransitiveDependents("cache"))
}

func TestBuild_Diamond(t *testing.T) {
	// a depends on b and c, both depend on d.
	g, err := Build(project(
		service("a", "b", "c"),
		service("b", "d"),
		service("c", "d"),
		service("d"),
	))
	require.NoError(t, err)

	order := g.StartOrder()
	assert.Less(t, position(t, order, "d"), position(t, order, "b"))
	assert.Less(t, position(t, order, "d"), position(t, order, "c"))
	assert.Less(t, position(t, order, "b"), position(t, order, "a"))
	assert.Less(t, position(t, order, "c"), position(t, order, "a"))

	assert.ElementsMatch(t, []string{"a", "b", "c"}, g.TransitiveDependents("d"))
}
