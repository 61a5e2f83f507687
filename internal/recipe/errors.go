package recipe

import "errors"

// Configuration-kind errors (spec.md §7.1). Fatal at load; the daemon
// refuses to start. Modeled as package sentinels the way
// cmd/orchestrator/orchestrator.go declares ErrServiceAlreadyRunning, so
// callers can errors.Is against them.
var (
	ErrUnknownSchemaVersion = errors.New("unknown recipe schema version")
	ErrInvalidName          = errors.New("name must match ^[A-Za-z0-9_-]+$")
	ErrDuplicateService     = errors.New("duplicate service name")
	ErrUnknownDependency    = errors.New("dependency references an unknown service")
	ErrUnsafeShell          = errors.New("unsafe shell command")
	ErrNoExecVariant        = errors.New("execution recipe has no variant set")
)
