// Package depgraph implements spec.md §4.3: a DAG built from declared
// service dependencies, with cycle detection, startup/shutdown layering,
// and the transitive-dependents cascade set.
package depgraph

import (
	"sort"

	"github.com/Zero-Robotics/krill/internal/recipe"
)

// Edge is one dependency edge as seen by the graph: source depends on
// Target under Condition.
type Edge struct {
	Target    string
	Condition recipe.Condition
}

// Graph holds both adjacency directions, built once at recipe-load time and
// treated as immutable afterward (spec.md §3: "Validated at graph build").
type Graph struct {
	// forward maps a service to the edges it depends on.
	forward map[string][]Edge
	// reverse maps a service to the services that depend on it.
	reverse map[string][]string
	// names preserves a stable, sorted service list for deterministic
	// layering output independent of map iteration order.
	names []string
}

// Build constructs a Graph from a recipe, rejecting cycles immediately so no
// caller ever observes a non-DAG Graph (spec.md §3 invariant: "The
// dependency graph is a DAG at all times").
func Build(r *recipe.Recipe) (*Graph, error) {
	g := &Graph{
		forward: make(map[string][]Edge, len(r.Services)),
		reverse: make(map[string][]string, len(r.Services)),
	}

	for name := range r.Services {
		g.names = append(g.names, name)
		if _, ok := g.forward[name]; !ok {
			g.forward[name] = nil
		}
	}
	sort.Strings(g.names)

	for _, name := range g.names {
		spec := r.Services[name]
		for _, dep := range spec.Dependencies {
			g.forward[name] = append(g.forward[name], Edge{Target: dep.Name, Condition: dep.Condition})
			g.reverse[dep.Name] = append(g.reverse[dep.Name], name)
		}
	}

	if cyc := g.findCycle(); cyc != nil {
		return nil, &CycleError{Services: cyc}
	}

	return g, nil
}

// Dependencies returns the edges a service depends on.
func (g *Graph) Dependencies(name string) []Edge {
	return g.forward[name]
}

// Dependents returns the services that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	return g.reverse[name]
}

// Services returns every service name in the graph, sorted.
func (g *Graph) Services() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// findCycle runs a Kahn-style scan: repeatedly remove nodes with out-degree
// zero (no unresolved outgoing dependency); whatever remains once no more
// nodes can be removed participates in a cycle.
func (g *Graph) findCycle() []string {
	outDegree := make(map[string]int, len(g.names))
	for _, name := range g.names {
		outDegree[name] = len(g.forward[name])
	}

	removed := make(map[string]bool, len(g.names))
	for {
		progressed := false
		for _, name := range g.names {
			if removed[name] || outDegree[name] != 0 {
				continue
			}
			removed[name] = true
			progressed = true
			for _, dependent := range g.reverse[name] {
				if removed[dependent] {
					continue
				}
				outDegree[dependent]--
			}
		}
		if !progressed {
			break
		}
	}

	var remaining []string
	for _, name := range g.names {
		if !removed[name] {
			remaining = append(remaining, name)
		}
	}
	if len(remaining) == 0 {
		return nil
	}
	return remaining
}

// StartupLayers partitions services into ordered layers such that every
// dependency of a service in layer k lies in a strictly earlier layer.
// Services within a layer may start concurrently (spec.md §4.3, §4.7).
func (g *Graph) StartupLayers() [][]string {
	layerOf := make(map[string]int, len(g.names))
	for _, name := range g.names {
		layerOf[name] = g.computeLayer(name, layerOf, nil)
	}

	maxLayer := 0
	for _, l := range layerOf {
		if l > maxLayer {
			maxLayer = l
		}
	}

	layers := make([][]string, maxLayer+1)
	for _, name := range g.names {
		l := layerOf[name]
		layers[l] = append(layers[l], name)
	}
	for i := range layers {
		sort.Strings(layers[i])
	}
	return layers
}

// computeLayer memoizes each service's layer as 1 + max(layer of its
// dependencies), with leaves at layer 0. `visiting` detects runaway
// recursion defensively; Build already rejects cycles, so this path is only
// reachable if that invariant is ever violated.
func (g *Graph) computeLayer(name string, memo map[string]int, visiting map[string]bool) int {
	if l, ok := memo[name]; ok && l >= 0 {
		return l
	}
	if visiting == nil {
		visiting = map[string]bool{}
	}
	if visiting[name] {
		return 0
	}
	visiting[name] = true

	layer := 0
	for _, edge := range g.forward[name] {
		depLayer := g.computeLayer(edge.Target, memo, visiting)
		if depLayer+1 > layer {
			layer = depLayer + 1
		}
	}
	memo[name] = layer
	return layer
}

// ShutdownLayers is the startup layering reversed (spec.md §4.3).
func (g *Graph) ShutdownLayers() [][]string {
	up := g.StartupLayers()
	down := make([][]string, len(up))
	for i, layer := range up {
		down[len(up)-1-i] = layer
	}
	return down
}

// CascadeSet returns the transitive closure over the reverse adjacency
// starting from failed, excluding failed itself (spec.md §4.3, §4.7): every
// service that depends, directly or indirectly, on the one that faulted.
func (g *Graph) CascadeSet(failed string) []string {
	visited := make(map[string]bool)
	var order []string

	var visit func(name string)
	visit = func(name string) {
		for _, dependent := range g.reverse[name] {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			order = append(order, dependent)
			visit(dependent)
		}
	}
	visit(failed)

	sort.Strings(order)
	return order
}
