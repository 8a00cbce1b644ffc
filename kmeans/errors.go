package kmeans

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidRequest is returned for inconsistent or invalid engine requests.
	ErrInvalidRequest = errors.New("kmeans: invalid request")

	// ErrInvalidDevice is returned when a request refers to devices that are not available.
	ErrInvalidDevice = errors.New("kmeans: invalid device")

	// ErrClosed is returned when using an engine after Close.
	ErrClosed = errors.New("kmeans: engine closed")
)

// UnavailableError is returned when an engine cannot be instantiated, e.g.: there are no devices for the
// accelerated engine. Callers are expected to fall back to another engine.
type UnavailableError struct {
	Engine string
	cause  error
}

func (e *UnavailableError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("kmeans engine %q unavailable", e.Engine)
	}
	return fmt.Sprintf("kmeans engine %q unavailable: %v", e.Engine, e.cause)
}

// Unwrap returns the reason the engine is not available.
func (e *UnavailableError) Unwrap() error { return e.cause }

// IsUnavailable returns whether err is (or wraps) an UnavailableError.
func IsUnavailable(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}
