package recipe

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// The yamlDoc family mirrors the YAML surface of spec.md §6 closely enough
// that decoding needs no guesswork, but keeps every field a plain Go type so
// the decoder can use KnownFields(true) for strict parsing. Polymorphic
// fields (dependency list items, the execution recipe variant, the health
// check variant) use yaml.Node so the discriminator can be inspected before
// committing to a shape, the way dagu's definition.go treats Shell/Dotenv/
// Steps as `any` to defer shape decisions past the first unmarshal pass.

type yamlDoc struct {
	Version  string                    `yaml:"version"`
	Name     string                    `yaml:"name"`
	LogDir   string                    `yaml:"log_dir"`
	Env      map[string]string         `yaml:"env"`
	Services map[string]yamlServiceDoc `yaml:"services"`
}

type yamlServiceDoc struct {
	Exec         yaml.Node         `yaml:"exec"`
	Env          map[string]string `yaml:"env"`
	Dependencies []yaml.Node       `yaml:"dependencies"`
	Health       *yaml.Node        `yaml:"health"`
	Restart      *yamlRestartDoc   `yaml:"restart"`
	Critical     bool              `yaml:"critical"`
	GPU          bool              `yaml:"gpu"`
}

type yamlRestartDoc struct {
	Mode         string `yaml:"mode"`
	MaxRestarts  int    `yaml:"max_restarts"`
	RestartDelay string `yaml:"restart_delay"`
	StopTimeout  string `yaml:"stop_timeout"`
}

// yamlExecDoc covers the union of all four execution recipe variants; only
// the fields belonging to Type are read.
type yamlExecDoc struct {
	Type string `yaml:"type"`

	// pixi
	Task     string `yaml:"task"`
	Env      string `yaml:"env"`
	StopTask string `yaml:"stop_task"`
	Cwd      string `yaml:"cwd"`

	// ros2
	Package    string            `yaml:"package"`
	LaunchFile string            `yaml:"launch_file"`
	LaunchArgs yaml.Node         `yaml:"launch_args"`

	// shell
	Command     string `yaml:"command"`
	StopCommand string `yaml:"stop_command"`

	// docker
	Image      string              `yaml:"image"`
	Volumes    []string            `yaml:"volumes"`
	Ports      []string            `yaml:"ports"`
	Privileged bool                `yaml:"privileged"`
	Network    string              `yaml:"network"`
}

type yamlHealthDoc struct {
	Type string `yaml:"type"`

	Timeout string `yaml:"timeout"`

	Port int `yaml:"port"`

	Path           string `yaml:"path"`
	ExpectedStatus int    `yaml:"expected_status"`

	Command string `yaml:"command"`

	FailureThreshold int `yaml:"failure_threshold"`
}

func decodeStrict(data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("strict yaml decode: %w", err)
	}
	return nil
}
