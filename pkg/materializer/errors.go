package materializer

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyReferenceSet indicates a set reference without alternatives.
	ErrEmptyReferenceSet = errors.New("empty reference set")

	// ErrUnreachableLocator indicates a locator or stream that could not be read.
	ErrUnreachableLocator = errors.New("unreachable locator")

	// ErrUnsupportedRepresentation indicates a set with no representation this layer can read.
	ErrUnsupportedRepresentation = errors.New("unsupported representation")

	// ErrNilReference indicates a nil reference was passed for materialization.
	ErrNilReference = errors.New("nil reference")
)

// ResolutionError reports a value reference that could not be materialized.
type ResolutionError struct {
	Op       string // Operation being performed (e.g., "resolve", "write")
	Identity string // Reference identity
	Err      error  // Underlying error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s failed for reference %s: %v", e.Op, e.Identity, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for resolution errors.
func (e *ResolutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newResolutionError(op, identity string, err error) *ResolutionError {
	return &ResolutionError{Op: op, Identity: identity, Err: err}
}

// IsResolutionError checks whether err is a resolution error.
func IsResolutionError(err error) bool {
	var resolutionErr *ResolutionError

	return errors.As(err, &resolutionErr)
}
