// Package spawnplan implements spec.md §4.1: translating a validated
// execution recipe into a concrete spawn plan (program, argv, cwd, env) the
// process supervisor can exec, plus an optional stop plan.
package spawnplan

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Zero-Robotics/krill/internal/recipe"
)

// ErrRequiresPro is returned for the docker execution recipe variant, which
// is schema-valid (internal/recipe parses and validates it fully) but not
// buildable by the open-core command builder.
var ErrRequiresPro = errors.New("docker execution recipe requires Pro")

// Plan is a concrete spawn instruction: program, argv, working directory,
// and environment, ready for os/exec.
type Plan struct {
	Program string
	Args    []string
	Cwd     string
	Env     []string
	// Stop is the optional stop plan (pixi stop_task / ros2 stop_task / shell
	// stop_command), run to completion before the termination ladder's
	// SIGTERM/SIGKILL steps (spec.md §4.6).
	Stop *Plan
}

// Build produces a Plan for one service's execution recipe, given the
// recipe-level global environment map. Per spec.md §4.1: "Environment is the
// union of the recipe's global env and the service's own env; service-level
// keys override global ones." The four variants share no interface beyond
// "produce a spawn plan" (design note §9), so Build switches on Kind rather
// than dispatching through a shared interface.
func Build(globalEnv map[string]string, spec *recipe.ServiceSpec) (*Plan, error) {
	switch spec.Exec.Kind {
	case recipe.KindPixi:
		return buildPixi(globalEnv, spec.Env, spec.Exec.Pixi, spec.Name)
	case recipe.KindROS2:
		return buildROS2(globalEnv, spec.Env, spec.Exec.ROS2)
	case recipe.KindShell:
		return buildShell(globalEnv, spec.Env, spec.Exec.Shell)
	case recipe.KindDocker:
		return nil, fmt.Errorf("service %q: %w", spec.Name, ErrRequiresPro)
	default:
		return nil, fmt.Errorf("service %q: %w", spec.Name, recipe.ErrNoExecVariant)
	}
}

func buildPixi(globalEnv, serviceEnv map[string]string, p *recipe.PixiRecipe, serviceName string) (*Plan, error) {
	env := p.Env
	if env == "" {
		env = serviceName
	}

	plan := &Plan{
		Program: "pixi",
		Args:    []string{"run", "-e", env, p.Task},
		Cwd:     p.Cwd,
		Env:     mergeEnv(globalEnv, serviceEnv),
	}

	if p.StopTask != "" {
		plan.Stop = &Plan{
			Program: "pixi",
			Args:    []string{"run", "-e", env, p.StopTask},
			Cwd:     p.Cwd,
			Env:     plan.Env,
		}
	}

	return plan, nil
}

func buildROS2(globalEnv, serviceEnv map[string]string, r *recipe.ROS2Recipe) (*Plan, error) {
	args := []string{"launch", r.Package, r.LaunchFile}
	for _, arg := range r.LaunchArgs {
		args = append(args, fmt.Sprintf("%s:=%s", arg.Key, arg.Value))
	}

	plan := &Plan{
		Program: "ros2",
		Args:    args,
		Cwd:     r.Cwd,
		Env:     mergeEnv(globalEnv, serviceEnv),
	}

	if r.StopTask != "" {
		plan.Stop = &Plan{
			Program: "ros2",
			Args:    []string{"launch", r.Package, r.StopTask},
			Cwd:     r.Cwd,
			Env:     plan.Env,
		}
	}

	return plan, nil
}

func buildShell(globalEnv, serviceEnv map[string]string, s *recipe.ShellRecipe) (*Plan, error) {
	// ValidateShellCommand already ran at recipe-load time (internal/recipe);
	// splitting here on whitespace is safe because the metacharacters that
	// would make naive splitting unsafe were already rejected.
	program, args, err := splitCommand(s.Command)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Program: program,
		Args:    args,
		Cwd:     s.Cwd,
		Env:     mergeEnv(globalEnv, serviceEnv),
	}

	if s.StopCommand != "" {
		stopProgram, stopArgs, err := splitCommand(s.StopCommand)
		if err != nil {
			return nil, err
		}
		plan.Stop = &Plan{
			Program: stopProgram,
			Args:    stopArgs,
			Cwd:     s.Cwd,
			Env:     plan.Env,
		}
	}

	return plan, nil
}

func splitCommand(command string) (string, []string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("shell command is empty")
	}
	return fields[0], fields[1:], nil
}

// mergeEnv unions global and service-level environment maps (service keys
// win), formatted as NAME=VALUE pairs in stable sorted-key order so spawn
// plans are deterministic for tests and log replay.
func mergeEnv(global, service map[string]string) []string {
	merged := make(map[string]string, len(global)+len(service))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range service {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, merged[k]))
	}
	return out
}
