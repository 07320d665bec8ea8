package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrUnknownService means a CLI verb named a service the project does
	// not declare.
	ErrUnknownService = errors.New("unknown service")
	// ErrServiceNotRunning means an operation required a running container.
	ErrServiceNotRunning = errors.New("service is not running")
	// ErrNoBuildContext means build was requested for an image-only service.
	ErrNoBuildContext = errors.New("service has no build context")
)

// HealthTimeoutError means a service exhausted its probe retry budget and was
// marked errored. Sibling services are unaffected.
type HealthTimeoutError struct {
	Service string
	Retries int
}

func (e *HealthTimeoutError) Error() string {
	return fmt.Sprintf("service %q did not become healthy within %d probe retries", e.Service, e.Retries)
}

// DependencyError means a service was never started because a dependency
// failed. It marks the skipped branch of fail-fast propagation.
type DependencyError struct {
	Service    string
	Dependency string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("service %q skipped: dependency %q failed", e.Service, e.Dependency)
}

// StartError wraps a runtime failure while launching one service.
type StartError struct {
	Service string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("service %q failed to start: %v", e.Service, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
