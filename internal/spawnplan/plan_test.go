package spawnplan

import (
	"errors"
	"reflect"
	"testing"

	"github.com/Zero-Robotics/krill/internal/recipe"
)

func TestBuildPixiPlan(t *testing.T) {
	spec := &recipe.ServiceSpec{
		Name: "controller",
		Exec: recipe.ExecRecipe{Kind: recipe.KindPixi, Pixi: &recipe.PixiRecipe{
			Task: "serve", StopTask: "shutdown",
		}},
	}
	plan, err := Build(nil, spec)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.Program != "pixi" {
		t.Fatalf("unexpected program %q", plan.Program)
	}
	want := []string{"run", "-e", "controller", "serve"}
	if !reflect.DeepEqual(plan.Args, want) {
		t.Fatalf("unexpected args %v, want %v", plan.Args, want)
	}
	if plan.Stop == nil || !reflect.DeepEqual(plan.Stop.Args, []string{"run", "-e", "controller", "shutdown"}) {
		t.Fatalf("unexpected stop plan: %+v", plan.Stop)
	}
}

func TestBuildROS2PlanPreservesLaunchArgOrder(t *testing.T) {
	spec := &recipe.ServiceSpec{
		Name: "nav",
		Exec: recipe.ExecRecipe{Kind: recipe.KindROS2, ROS2: &recipe.ROS2Recipe{
			Package:    "nav2_bringup",
			LaunchFile: "navigation_launch.py",
			LaunchArgs: []recipe.LaunchArg{
				{Key: "use_sim_time", Value: "true"},
				{Key: "map", Value: "/maps/site.yaml"},
			},
		}},
	}
	plan, err := Build(nil, spec)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{"launch", "nav2_bringup", "navigation_launch.py", "use_sim_time:=true", "map:=/maps/site.yaml"}
	if !reflect.DeepEqual(plan.Args, want) {
		t.Fatalf("unexpected args %v, want %v", plan.Args, want)
	}
}

func TestBuildShellPlanSplitsOnWhitespace(t *testing.T) {
	spec := &recipe.ServiceSpec{
		Name: "script",
		Exec: recipe.ExecRecipe{Kind: recipe.KindShell, Shell: &recipe.ShellRecipe{
			Command: "python script.py --x",
		}},
	}
	plan, err := Build(nil, spec)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.Program != "python" || !reflect.DeepEqual(plan.Args, []string{"script.py", "--x"}) {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestBuildDockerPlanRefused(t *testing.T) {
	spec := &recipe.ServiceSpec{
		Name: "db",
		Exec: recipe.ExecRecipe{Kind: recipe.KindDocker, Docker: &recipe.DockerRecipe{Image: "postgres"}},
	}
	_, err := Build(nil, spec)
	if !errors.Is(err, ErrRequiresPro) {
		t.Fatalf("expected ErrRequiresPro, got %v", err)
	}
}

func TestServiceEnvOverridesGlobalEnv(t *testing.T) {
	spec := &recipe.ServiceSpec{
		Name: "svc",
		Env:  map[string]string{"PORT": "9000"},
		Exec: recipe.ExecRecipe{Kind: recipe.KindShell, Shell: &recipe.ShellRecipe{Command: "true"}},
	}
	plan, err := Build(map[string]string{"PORT": "8000", "MODE": "prod"}, spec)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{"MODE=prod", "PORT=9000"}
	if !reflect.DeepEqual(plan.Env, want) {
		t.Fatalf("unexpected env %v, want %v", plan.Env, want)
	}
}
