// Package infraerr defines the error types shared across infractl
// subsystems. Each type wraps an underlying cause and carries enough
// context to log without re-annotating at every call site.
package infraerr

import "fmt"

// ConfigError reports a problem loading or validating configuration.
type ConfigError struct {
	Op  string
	Err error
}

func NewConfigError(op string, err error) *ConfigError {
	return &ConfigError{Op: op, Err: err}
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return "config: " + e.Op
	}
	return fmt.Sprintf("config: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ValidationError reports a semantically invalid configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DeployError reports a failed deployment step. Phase matches the bracketed
// section names in deployment output.
type DeployError struct {
	Deployment string
	Phase      string
	Err        error
}

func NewDeployError(deployment, phase string, err error) *DeployError {
	return &DeployError{Deployment: deployment, Phase: phase, Err: err}
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deploy %s [%s]: %v", e.Deployment, e.Phase, e.Err)
}

func (e *DeployError) Unwrap() error { return e.Err }

// StorageError reports a failed database operation.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UpdateError reports a failed self-update or config-sync step. Updates must
// never leave the host broken, so callers treat any UpdateError after the
// binary swap begins as a signal to roll back.
type UpdateError struct {
	Op  string
	Err error
}

func NewUpdateError(op string, err error) *UpdateError {
	return &UpdateError{Op: op, Err: err}
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update: %s: %v", e.Op, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }
