// Package graph builds the service dependency graph for an application.
// This is part of the functional core - pure data structure work, no I/O.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/convoy/internal/core/compose"
)

// =============================================================================
// Error Types
// =============================================================================

// CycleError reports a dependency cycle with its full path.
type CycleError struct {
	Path []string // e.g., ["a", "b", "c", "a"]
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// =============================================================================
// Graph
// =============================================================================

// Graph is the directed dependency graph of an application. An edge A -> B
// means B declared depends_on A: A must be ready before B starts, and B must
// be stopped before A stops.
type Graph struct {
	services     []string
	dependencies map[string][]compose.Dependency // direct deps, sorted by name
	dependents   map[string][]string             // direct reverse edges, sorted
	startOrder   []string                        // one valid topological order
}

// Build derives the dependency graph from a validated project and rejects
// cycles. Validation guarantees every dependency target exists.
func Build(project *compose.Project) (*Graph, error) {
	g := &Graph{
		dependencies: make(map[string][]compose.Dependency, len(project.Services)),
		dependents:   make(map[string][]string, len(project.Services)),
	}

	for _, svc := range project.Services {
		g.services = append(g.services, svc.Name)
		deps := make([]compose.Dependency, len(svc.DependsOn))
		copy(deps, svc.DependsOn)
		sort.Slice(deps, func(i, j int) bool { return deps[i].Service < deps[j].Service })
		g.dependencies[svc.Name] = deps
		for _, dep := range deps {
			g.dependents[dep.Service] = append(g.dependents[dep.Service], svc.Name)
		}
	}
	sort.Strings(g.services)
	for name := range g.dependents {
		sort.Strings(g.dependents[name])
	}

	order, err := g.topologicalOrder()
	if err != nil {
		return nil, err
	}
	g.startOrder = order

	return g, nil
}

// Services returns all service names in lexical order.
func (g *Graph) Services() []string {
	out := make([]string, len(g.services))
	copy(out, g.services)
	return out
}

// Dependencies returns the direct dependencies of a service with their
// readiness conditions.
func (g *Graph) Dependencies(name string) []compose.Dependency {
	deps := g.dependencies[name]
	out := make([]compose.Dependency, len(deps))
	copy(out, deps)
	return out
}

// Dependents returns the services that directly depend on the given one.
func (g *Graph) Dependents(name string) []string {
	deps := g.dependents[name]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// TransitiveDependents returns every service that directly or indirectly
// depends on the given one, in lexical order. Used for fail-fast propagation.
func (g *Graph) TransitiveDependents(name string) []string {
	seen := make(map[string]bool)
	var walk func(n string)
	walk = func(n string) {
		for _, dep := range g.dependents[n] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(name)

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// StartOrder returns a valid startup order: every service appears after all
// of its dependencies.
func (g *Graph) StartOrder() []string {
	out := make([]string, len(g.startOrder))
	copy(out, g.startOrder)
	return out
}

// StopOrder returns the teardown order: the exact reverse of StartOrder, so
// every service appears before all of its dependencies.
func (g *Graph) StopOrder() []string {
	out := make([]string, len(g.startOrder))
	for i, name := range g.startOrder {
		out[len(out)-1-i] = name
	}
	return out
}

// StartWaves groups services into waves: wave N contains services whose
// dependencies all sit in earlier waves. Services in one wave are mutually
// independent and may start concurrently.
func (g *Graph) StartWaves() [][]string {
	level := make(map[string]int, len(g.services))
	maxLevel := 0
	for _, name := range g.startOrder {
		l := 0
		for _, dep := range g.dependencies[name] {
			if depLevel := level[dep.Service] + 1; depLevel > l {
				l = depLevel
			}
		}
		level[name] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	waves := make([][]string, maxLevel+1)
	for _, name := range g.startOrder {
		waves[level[name]] = append(waves[level[name]], name)
	}
	for _, wave := range waves {
		sort.Strings(wave)
	}
	return waves
}

// =============================================================================
// Cycle Detection
// =============================================================================

// color marks DFS progress: white = unvisited, gray = in progress, black = done.
type color int

const (
	white color = iota
	gray
	black
)

// topologicalOrder runs a three-color depth-first traversal. It returns the
// services in dependency order (dependencies first) or a CycleError carrying
// the full cycle path.
func (g *Graph) topologicalOrder() ([]string, error) {
	colors := make(map[string]color, len(g.services))
	var order []string
	var stack []string

	var visit func(name string) *CycleError
	visit = func(name string) *CycleError {
		colors[name] = gray
		stack = append(stack, name)

		for _, dep := range g.dependencies[name] {
			switch colors[dep.Service] {
			case gray:
				return cyclePath(stack, dep.Service)
			case white:
				if err := visit(dep.Service); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[name] = black
		order = append(order, name)
		return nil
	}

	for _, name := range g.services {
		if colors[name] == white {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}

	return order, nil
}

// cyclePath extracts the cycle from the DFS stack, closed with its first node.
func cyclePath(stack []string, repeated string) *CycleError {
	start := 0
	for i, name := range stack {
		if name == repeated {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	path = append(path, stack[start:]...)
	path = append(path, repeated)
	return &CycleError{Path: path}
}
