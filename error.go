package gokmeans

import (
	"github.com/pkg/errors"
)

var (
	// ErrValidation is matched (with errors.Is) by errors caused by invalid inputs: NaN or Inf values, bad shapes
	// or unsupported element types.
	ErrValidation = errors.New("gokmeans: invalid input")

	// ErrNotFitted is returned by the operations that require centroids, if called before a successful Fit.
	ErrNotFitted = errors.New("gokmeans: solver not fitted")

	// ErrInvalidConfig is returned by Config.Done for invalid parameters.
	ErrInvalidConfig = errors.New("gokmeans: invalid configuration")

	// ErrNoSolver is returned by Config.Done if no engine could be instantiated.
	ErrNoSolver = errors.New("could not instantiate solver")

	// ErrClosed is returned when using a Solver after Close.
	ErrClosed = errors.New("gokmeans: solver closed")
)

// validationError wraps the cause of an input validation failure, and matches ErrValidation.
type validationError struct {
	cause error
}

func newValidationError(cause error, format string, args ...any) error {
	return &validationError{cause: errors.WithMessagef(cause, format, args...)}
}

func (e *validationError) Error() string {
	return ErrValidation.Error() + ": " + e.cause.Error()
}

// Is implements errors.Is: it matches ErrValidation.
func (e *validationError) Is(target error) bool { return target == ErrValidation }

// Unwrap returns the cause, so errors.Is also matches the layout sentinels (e.g. layout.ErrNonFinite).
func (e *validationError) Unwrap() error { return e.cause }
