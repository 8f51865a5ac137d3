package report

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownActivityType indicates an activity type the registry cannot resolve.
	ErrUnknownActivityType = errors.New("unknown activity type")

	// ErrInvalidDescription indicates a workflow description failing structural validation.
	ErrInvalidDescription = errors.New("invalid workflow description")
)

// ConfigurationError reports a description the builder cannot turn into a report tree.
// It is fatal: a run with a configuration error must not start.
type ConfigurationError struct {
	Subject string // Model element the error refers to
	Err     error  // Underlying error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error at %s: %v", e.Subject, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func (e *ConfigurationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newConfigurationError(subject string, err error) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Err: err}
}

// IsConfigurationError checks whether err is a configuration error.
func IsConfigurationError(err error) bool {
	var configErr *ConfigurationError

	return errors.As(err, &configErr)
}
