// Package compose loads, merges and validates Convoy application
// specifications. This is part of the functional core - loading reads the
// given files and nothing else; no runtime side effect happens before
// validation succeeds.
package compose

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrNoFiles    = errors.New("no specification files given")
	ErrEmptyInput = errors.New("specification is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Structure errors
	ErrNoServices = errors.New("specification must define at least one service")

	// Service validation errors
	ErrServiceNoImage        = errors.New("service must have image or build")
	ErrServiceImageAndBuild  = errors.New("service cannot have both image and build")
	ErrServiceInvalidPort    = errors.New("invalid port configuration")
	ErrUnknownDependency     = errors.New("depends_on references unknown service")
	ErrInvalidCondition      = errors.New("invalid depends_on condition")
	ErrInvalidHealthCheck    = errors.New("invalid healthcheck configuration")
	ErrInvalidCPU            = errors.New("invalid CPU value")
	ErrInvalidMemory         = errors.New("invalid memory value")
	ErrUnknownServiceNetwork = errors.New("service references unknown network")
	ErrUnknownServiceVolume  = errors.New("service references unknown volume")

	// Unsupported feature errors
	ErrUnsupportedFeature = errors.New("unsupported specification feature")
)

// ValidationError wraps errors with context about where validation failed.
type ValidationError struct {
	Field   string // e.g., "services.web.ports[0]"
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// MissingVariableError reports interpolation variables that are neither set in
// the environment nor given a default. It is fatal at load time.
type MissingVariableError struct {
	Variables []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("required variable(s) not set: %s", strings.Join(e.Variables, ", "))
}
