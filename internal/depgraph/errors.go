package depgraph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCyclicDependency is wrapped with the offending service names.
var ErrCyclicDependency = errors.New("cyclic dependency")

// CycleError names every service that participates in the unresolved cycle,
// for the diagnostic spec.md §8 scenario 2 requires ("reports
// CyclicDependency listing A and B").
type CycleError struct {
	Services []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCyclicDependency.Error(), strings.Join(e.Services, ", "))
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}
