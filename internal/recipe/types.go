// Package recipe holds the data model described by spec.md §3: recipes,
// service specs, execution recipe variants, dependency edges, restart
// policies, and health checks, plus the YAML loader that produces them.
package recipe

import (
	"time"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
)

// Condition is the readiness condition a dependency edge waits on.
type Condition string

const (
	ConditionStarted Condition = "started"
	ConditionHealthy Condition = "healthy"
)

// Dependency is the uniform internal form of a dependency edge, regardless
// of whether the YAML spelled it as a bare string or a single-key mapping.
type Dependency struct {
	Name      string
	Condition Condition
}

// RecipeKind discriminates the four execution recipe variants.
type RecipeKind string

const (
	KindPixi   RecipeKind = "pixi"
	KindROS2   RecipeKind = "ros2"
	KindShell  RecipeKind = "shell"
	KindDocker RecipeKind = "docker"
)

// PixiRecipe runs a task inside a pixi-managed environment.
type PixiRecipe struct {
	Task     string
	Env      string
	StopTask string
	Cwd      string
}

// ROS2Recipe launches a ROS 2 package's launch file.
type ROS2Recipe struct {
	Package    string
	LaunchFile string
	// LaunchArgs preserves declaration order; it is a slice of pairs rather
	// than a map because spec.md §4.1 requires the caller-declared iteration
	// order to reach argv unchanged.
	LaunchArgs []LaunchArg
	StopTask   string
	Cwd        string
}

// LaunchArg is one "key:=value" ROS 2 launch argument.
type LaunchArg struct {
	Key   string
	Value string
}

// ShellRecipe runs a validated free-form shell command.
type ShellRecipe struct {
	Command     string
	StopCommand string
	Cwd         string
}

// DockerRecipe documents the open-core boundary: it is schema-valid so a
// recipe author can write it and get a clear "requires Pro" error instead of
// a parse failure, but the Command Builder (internal/spawnplan) always
// refuses to build a spawn plan for it. Fields are typed with the Docker SDK
// and go-connections so a future Pro implementation has no reshaping to do.
type DockerRecipe struct {
	Image      string
	Volumes    []mount.Mount
	Ports      nat.PortMap
	Privileged bool
	Network    string
}

// ExecRecipe is the tagged-union execution recipe. Exactly one of the
// pointer fields is non-nil; Kind names which one. Modeled as a sum type per
// design note §9 rather than a shared "Executable" interface, since the four
// variants share nothing beyond "produce a spawn plan."
type ExecRecipe struct {
	Kind   RecipeKind
	Pixi   *PixiRecipe
	ROS2   *ROS2Recipe
	Shell  *ShellRecipe
	Docker *DockerRecipe
}

// RestartMode is the restart policy's mode.
type RestartMode string

const (
	RestartNever     RestartMode = "never"
	RestartAlways    RestartMode = "always"
	RestartOnFailure RestartMode = "on-failure"
)

// RestartPolicy governs whether and how a Faulted service restarts.
type RestartPolicy struct {
	Mode         RestartMode
	MaxRestarts  int // 0 = unlimited
	RestartDelay time.Duration
	StopTimeout  time.Duration
}

// DefaultRestartPolicy mirrors spec.md §3's defaults for an entirely-absent
// restart block.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Mode:         RestartOnFailure,
		MaxRestarts:  0,
		RestartDelay: time.Second,
		StopTimeout:  10 * time.Second,
	}
}

// HealthKind discriminates the four health check variants.
type HealthKind string

const (
	HealthHeartbeat HealthKind = "heartbeat"
	HealthTCP       HealthKind = "tcp"
	HealthHTTP      HealthKind = "http"
	HealthScript    HealthKind = "script"
)

type HeartbeatCheck struct {
	Timeout time.Duration
}

type TCPCheck struct {
	Port    int
	Timeout time.Duration
}

type HTTPCheck struct {
	Port           int
	Path           string
	ExpectedStatus int
}

type ScriptCheck struct {
	Command string
	Timeout time.Duration
}

// HealthCheck is the health-check sum type (design note §9: no unifying
// "probe callback" — internal/health gives each kind its own loop).
type HealthCheck struct {
	Kind      HealthKind
	Heartbeat *HeartbeatCheck
	TCP       *TCPCheck
	HTTP      *HTTPCheck
	Script    *ScriptCheck
	// FailureThreshold is the number of consecutive failing probes required
	// to flip Healthy/Running to Faulted once the first probe has passed.
	// spec.md §4.5/§9 leaves this an open question with an implied default
	// of 1; DESIGN.md records the decision to make it configurable here.
	FailureThreshold int
}

// ServiceSpec is one service's immutable declaration.
type ServiceSpec struct {
	Name string
	Exec ExecRecipe
	// Env holds service-level environment overrides; spec.md §4.1 makes
	// these win over the recipe's global env on key collision.
	Env          map[string]string
	Dependencies []Dependency
	Health       *HealthCheck
	Restart      RestartPolicy
	Critical     bool
	GPU          bool
}

// Recipe is the parsed, validated, immutable recipe document.
type Recipe struct {
	Version  string
	Name     string
	LogDir   string
	Env      map[string]string
	Services map[string]*ServiceSpec
	// ServiceOrder preserves declaration order from the YAML document, used
	// only for deterministic diagnostics and `ps` output ordering — the
	// dependency graph is the sole authority on execution order.
	ServiceOrder []string
}
