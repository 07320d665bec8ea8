package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerNotRunning     = errors.New("container is not running")
	ErrContainerAlreadyRunning = errors.New("container is already running")

	// Network errors
	ErrNetworkNotFound      = errors.New("network not found")
	ErrNetworkAlreadyExists = errors.New("network already exists")
	ErrNetworkInUse         = errors.New("network has active endpoints")

	// Volume errors
	ErrVolumeNotFound = errors.New("volume not found")
	ErrVolumeInUse    = errors.New("volume is in use")

	// Image errors
	ErrImageNotFound    = errors.New("image not found")
	ErrImagePullFailed  = errors.New("image pull failed")
	ErrImageBuildFailed = errors.New("image build failed")

	// Connection errors
	ErrPortAlreadyAllocated = errors.New("port is already allocated")
	ErrConnectionFailed     = errors.New("runtime connection failed")
	ErrTimeout              = errors.New("operation timed out")
)

// IsNotFound reports whether the error means the target entity is absent,
// regardless of entity kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContainerNotFound) ||
		errors.Is(err, ErrNetworkNotFound) ||
		errors.Is(err, ErrVolumeNotFound) ||
		errors.Is(err, ErrImageNotFound)
}

// RuntimeError wraps runtime operation failures with context.
type RuntimeError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, network, volume, image)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError.
func NewRuntimeError(op, entity, id, message string, err error) *RuntimeError {
	return &RuntimeError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
