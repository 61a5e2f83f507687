package recipe

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"
)

// schemaConstraint is spec.md §6's single named schema version, expressed as
// a caret range so a future "1.x" point revision is accepted without
// touching the loader.
var schemaConstraint = mustSchemaConstraint()

func mustSchemaConstraint() *semver.Constraints {
	c, err := semver.NewConstraint("^1")
	if err != nil {
		panic(fmt.Sprintf("recipe: invalid schema constraint: %v", err))
	}
	return c
}

// nameCharset is the charset spec.md §3/§6 requires for workspace and
// service names.
var nameCharset = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func validateName(name string) error {
	if !nameCharset.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// buildRecipe converts a decoded yamlDoc into the validated, immutable
// Recipe model. Validation performed here: name charsets, schema version,
// service/dependency name uniqueness and existence, and shell safety. Docker
// services are parsed, not rejected; the Command Builder (internal/spawnplan)
// refuses them with "requires Pro" when the service is started. Cycle
// detection is deliberately left to internal/depgraph, which is the sole
// authority on graph shape.
func buildRecipe(doc *yamlDoc, order []string) (*Recipe, error) {
	if err := checkSchemaVersion(doc.Version); err != nil {
		return nil, err
	}
	if err := validateName(doc.Name); err != nil {
		return nil, err
	}

	r := &Recipe{
		Version:      doc.Version,
		Name:         doc.Name,
		LogDir:       doc.LogDir,
		Env:          doc.Env,
		Services:     make(map[string]*ServiceSpec, len(doc.Services)),
		ServiceOrder: order,
	}
	if r.Env == nil {
		r.Env = map[string]string{}
	}

	for _, name := range order {
		if _, seen := r.Services[name]; seen {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateService, name)
		}
		svcDoc := doc.Services[name]
		if err := validateName(name); err != nil {
			return nil, err
		}
		spec, err := buildServiceSpec(name, svcDoc)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		r.Services[name] = spec
	}

	for _, spec := range r.Services {
		for _, dep := range spec.Dependencies {
			if _, ok := r.Services[dep.Name]; !ok {
				return nil, fmt.Errorf("service %q: %w: %q", spec.Name, ErrUnknownDependency, dep.Name)
			}
		}
	}

	return r, nil
}

func checkSchemaVersion(v string) error {
	// spec.md §6 names exactly one schema version, "1". Checked against a
	// semver constraint rather than a literal string compare so a future
	// "1.x" point revision is accepted without touching the loader.
	parsed, err := semver.NewVersion(v)
	if err != nil || !schemaConstraint.Check(parsed) {
		return fmt.Errorf("%w: %q", ErrUnknownSchemaVersion, v)
	}
	return nil
}

func buildServiceSpec(name string, doc yamlServiceDoc) (*ServiceSpec, error) {
	exec, err := buildExecRecipe(doc.Exec)
	if err != nil {
		return nil, err
	}

	deps := make([]Dependency, 0, len(doc.Dependencies))
	for _, node := range doc.Dependencies {
		dep, err := buildDependency(node)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}

	var health *HealthCheck
	if doc.Health != nil {
		health, err = buildHealthCheck(*doc.Health)
		if err != nil {
			return nil, err
		}
	}

	restart, err := buildRestartPolicy(doc.Restart)
	if err != nil {
		return nil, err
	}

	env := doc.Env
	if env == nil {
		env = map[string]string{}
	}

	return &ServiceSpec{
		Name:         name,
		Exec:         exec,
		Env:          env,
		Dependencies: deps,
		Health:       health,
		Restart:      restart,
		Critical:     doc.Critical,
		GPU:          doc.GPU,
	}, nil
}

// buildDependency parses one dependency list item, which is either a bare
// scalar string (meaning "started") or a single-key mapping
// {name: started|healthy}, into the uniform internal pair. This is design
// note §9's "dependency syntax duality" — handled once, here, so the rest of
// the system never branches on the surface form again.
func buildDependency(node yaml.Node) (Dependency, error) {
	if node.Kind == yaml.ScalarNode {
		var name string
		if err := node.Decode(&name); err != nil {
			return Dependency{}, fmt.Errorf("invalid dependency entry: %w", err)
		}
		return Dependency{Name: name, Condition: ConditionStarted}, nil
	}

	if node.Kind == yaml.MappingNode {
		var m map[string]string
		if err := node.Decode(&m); err != nil {
			return Dependency{}, fmt.Errorf("invalid dependency mapping: %w", err)
		}
		if len(m) != 1 {
			return Dependency{}, fmt.Errorf("dependency mapping must have exactly one key, got %d", len(m))
		}
		for k, v := range m {
			cond := Condition(v)
			if cond != ConditionStarted && cond != ConditionHealthy {
				return Dependency{}, fmt.Errorf("dependency %q: unknown condition %q", k, v)
			}
			return Dependency{Name: k, Condition: cond}, nil
		}
	}

	return Dependency{}, fmt.Errorf("dependency entry must be a string or single-key mapping")
}

func buildExecRecipe(node yaml.Node) (ExecRecipe, error) {
	var doc yamlExecDoc
	if err := node.Decode(&doc); err != nil {
		return ExecRecipe{}, fmt.Errorf("invalid exec recipe: %w", err)
	}

	switch RecipeKind(doc.Type) {
	case KindPixi:
		return ExecRecipe{Kind: KindPixi, Pixi: &PixiRecipe{
			Task:     doc.Task,
			Env:      doc.Env,
			StopTask: doc.StopTask,
			Cwd:      doc.Cwd,
		}}, nil

	case KindROS2:
		args, err := buildLaunchArgs(doc.LaunchArgs)
		if err != nil {
			return ExecRecipe{}, err
		}
		return ExecRecipe{Kind: KindROS2, ROS2: &ROS2Recipe{
			Package:    doc.Package,
			LaunchFile: doc.LaunchFile,
			LaunchArgs: args,
			StopTask:   doc.StopTask,
			Cwd:        doc.Cwd,
		}}, nil

	case KindShell:
		if err := ValidateShellCommand(doc.Command); err != nil {
			return ExecRecipe{}, err
		}
		if doc.StopCommand != "" {
			if err := ValidateShellCommand(doc.StopCommand); err != nil {
				return ExecRecipe{}, err
			}
		}
		return ExecRecipe{Kind: KindShell, Shell: &ShellRecipe{
			Command:     doc.Command,
			StopCommand: doc.StopCommand,
			Cwd:         doc.Cwd,
		}}, nil

	case KindDocker:
		docker, err := buildDockerRecipe(doc)
		if err != nil {
			return ExecRecipe{}, err
		}
		// The recipe is schema-valid and fully parsed (typed volumes/ports
		// included); only the Command Builder refuses it (spec.md §4.1,
		// §7.1). Loading does not reject it outright so the operator sees
		// the same "requires Pro" message regardless of when the service
		// would have started.
		return ExecRecipe{Kind: KindDocker, Docker: docker}, nil

	case "":
		return ExecRecipe{}, ErrNoExecVariant
	default:
		return ExecRecipe{}, fmt.Errorf("unknown execution recipe type %q", doc.Type)
	}
}

func buildLaunchArgs(node yaml.Node) ([]LaunchArg, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("launch_args must be a mapping")
	}
	args := make([]LaunchArg, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key, value string
		if err := node.Content[i].Decode(&key); err != nil {
			return nil, fmt.Errorf("invalid launch_args key: %w", err)
		}
		if err := node.Content[i+1].Decode(&value); err != nil {
			return nil, fmt.Errorf("invalid launch_args value for %q: %w", key, err)
		}
		args = append(args, LaunchArg{Key: key, Value: value})
	}
	return args, nil
}

func buildDockerRecipe(doc yamlExecDoc) (*DockerRecipe, error) {
	volumes := make([]mount.Mount, 0, len(doc.Volumes))
	for _, v := range doc.Volumes {
		parts := strings.SplitN(v, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid volume spec %q, expected host:container", v)
		}
		volumes = append(volumes, mount.Mount{
			Type:   mount.TypeBind,
			Source: parts[0],
			Target: parts[1],
		})
	}

	portMap := nat.PortMap{}
	for _, p := range doc.Ports {
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid port spec %q, expected host:container", p)
		}
		containerPort, err := nat.NewPort("tcp", parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid container port %q: %w", parts[1], err)
		}
		portMap[containerPort] = append(portMap[containerPort], nat.PortBinding{HostPort: parts[0]})
	}

	return &DockerRecipe{
		Image:      doc.Image,
		Volumes:    volumes,
		Ports:      portMap,
		Privileged: doc.Privileged,
		Network:    doc.Network,
	}, nil
}

func buildHealthCheck(node yaml.Node) (*HealthCheck, error) {
	var doc yamlHealthDoc
	if err := node.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid health check: %w", err)
	}

	threshold := doc.FailureThreshold
	if threshold <= 0 {
		// spec.md §4.5/§9 documents the implied default as 1 consecutive
		// failure; this is the Open Question resolved in DESIGN.md.
		threshold = 1
	}

	switch HealthKind(doc.Type) {
	case HealthHeartbeat:
		timeout, err := parseDuration(doc.Timeout)
		if err != nil {
			return nil, err
		}
		if timeout == 0 {
			return nil, fmt.Errorf("heartbeat health check requires a timeout")
		}
		return &HealthCheck{Kind: HealthHeartbeat, Heartbeat: &HeartbeatCheck{Timeout: timeout}, FailureThreshold: threshold}, nil

	case HealthTCP:
		timeout, err := parseDuration(doc.Timeout)
		if err != nil {
			return nil, err
		}
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		return &HealthCheck{Kind: HealthTCP, TCP: &TCPCheck{Port: doc.Port, Timeout: timeout}, FailureThreshold: threshold}, nil

	case HealthHTTP:
		status := doc.ExpectedStatus
		if status == 0 {
			status = 200
		}
		path := doc.Path
		if path == "" {
			path = "/health"
		}
		return &HealthCheck{Kind: HealthHTTP, HTTP: &HTTPCheck{Port: doc.Port, Path: path, ExpectedStatus: status}, FailureThreshold: threshold}, nil

	case HealthScript:
		if err := ValidateShellCommand(doc.Command); err != nil {
			return nil, err
		}
		timeout, err := parseDuration(doc.Timeout)
		if err != nil {
			return nil, err
		}
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		return &HealthCheck{Kind: HealthScript, Script: &ScriptCheck{Command: doc.Command, Timeout: timeout}, FailureThreshold: threshold}, nil

	default:
		return nil, fmt.Errorf("unknown health check type %q", doc.Type)
	}
}

func buildRestartPolicy(doc *yamlRestartDoc) (RestartPolicy, error) {
	policy := DefaultRestartPolicy()
	if doc == nil {
		return policy, nil
	}

	if doc.Mode != "" {
		mode := RestartMode(doc.Mode)
		switch mode {
		case RestartNever, RestartAlways, RestartOnFailure:
			policy.Mode = mode
		default:
			return policy, fmt.Errorf("unknown restart mode %q", doc.Mode)
		}
	}
	policy.MaxRestarts = doc.MaxRestarts

	if doc.RestartDelay != "" {
		d, err := parseDuration(doc.RestartDelay)
		if err != nil {
			return policy, err
		}
		policy.RestartDelay = d
	}
	if doc.StopTimeout != "" {
		d, err := parseDuration(doc.StopTimeout)
		if err != nil {
			return policy, err
		}
		policy.StopTimeout = d
	}

	return policy, nil
}

