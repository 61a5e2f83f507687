package depgraph

import (
	"errors"
	"testing"

	"github.com/Zero-Robotics/krill/internal/recipe"
)

func shellRecipe(t *testing.T) recipe.ExecRecipe {
	t.Helper()
	return recipe.ExecRecipe{Kind: recipe.KindShell, Shell: &recipe.ShellRecipe{Command: "true"}}
}

func svc(t *testing.T, name string, deps ...string) *recipe.ServiceSpec {
	t.Helper()
	var edges []recipe.Dependency
	for _, d := range deps {
		edges = append(edges, recipe.Dependency{Name: d, Condition: recipe.ConditionStarted})
	}
	return &recipe.ServiceSpec{Name: name, Exec: shellRecipe(t), Dependencies: edges, Restart: recipe.DefaultRestartPolicy()}
}

func recipeOf(t *testing.T, services ...*recipe.ServiceSpec) *recipe.Recipe {
	t.Helper()
	r := &recipe.Recipe{Name: "t", Services: map[string]*recipe.ServiceSpec{}}
	for _, s := range services {
		r.Services[s.Name] = s
		r.ServiceOrder = append(r.ServiceOrder, s.Name)
	}
	return r
}

func TestStartupLayersRespectDependencyOrder(t *testing.T) {
	// A -> B -> C (A depends on B, B depends on C)
	r := recipeOf(t, svc(t, "a", "b"), svc(t, "b", "c"), svc(t, "c"))
	g, err := Build(r)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	layers := g.StartupLayers()
	layerIndex := map[string]int{}
	for i, layer := range layers {
		for _, name := range layer {
			layerIndex[name] = i
		}
	}

	for _, name := range g.Services() {
		for _, edge := range g.Dependencies(name) {
			if layerIndex[edge.Target] >= layerIndex[name] {
				t.Fatalf("dependency %s of %s is not in a strictly earlier layer", edge.Target, name)
			}
		}
	}

	if layerIndex["c"] != 0 || layerIndex["b"] != 1 || layerIndex["a"] != 2 {
		t.Fatalf("unexpected layering: %v", layerIndex)
	}
}

func TestShutdownLayersAreReversed(t *testing.T) {
	r := recipeOf(t, svc(t, "a", "b"), svc(t, "b"))
	g, err := Build(r)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	up := g.StartupLayers()
	down := g.ShutdownLayers()
	if len(up) != len(down) {
		t.Fatalf("layer count mismatch")
	}
	for i := range up {
		got := down[len(down)-1-i]
		if len(got) != len(up[i]) || got[0] != up[i][0] {
			t.Fatalf("shutdown layers are not an exact reversal: %v vs %v", up, down)
		}
	}
}

func TestCycleDetected(t *testing.T) {
	// A depends on B, B depends on A.
	r := recipeOf(t, svc(t, "a", "b"), svc(t, "b", "a"))
	_, err := Build(r)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
	if len(cycleErr.Services) != 2 {
		t.Fatalf("expected both services named in the cycle, got %v", cycleErr.Services)
	}
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected errors.Is to match ErrCyclicDependency")
	}
}

func TestAddingEdgeThatClosesACycleIsRejected(t *testing.T) {
	// A -> B -> C is acyclic; adding C -> A closes a cycle.
	r := recipeOf(t, svc(t, "a", "b"), svc(t, "b", "c"), svc(t, "c"))
	if _, err := Build(r); err != nil {
		t.Fatalf("expected acyclic graph to build cleanly: %v", err)
	}

	r2 := recipeOf(t, svc(t, "a", "b"), svc(t, "b", "c"), svc(t, "c", "a"))
	if _, err := Build(r2); err == nil {
		t.Fatalf("expected the closing edge to be rejected as a cycle")
	}
}

func TestCascadeSetIsTransitiveClosureExcludingSelf(t *testing.T) {
	// c depends on b, b depends on a. Failing a cascades to b and c.
	r := recipeOf(t, svc(t, "a"), svc(t, "b", "a"), svc(t, "c", "b"))
	g, err := Build(r)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	cascade := g.CascadeSet("a")
	if len(cascade) != 2 || cascade[0] != "b" || cascade[1] != "c" {
		t.Fatalf("unexpected cascade set: %v", cascade)
	}

	for _, name := range cascade {
		if name == "a" {
			t.Fatalf("cascade set must exclude the failed service itself")
		}
	}
}
