package layout

import "github.com/pkg/errors"

var (
	// ErrBadShape is returned for empty, ragged or mismatched inputs.
	ErrBadShape = errors.New("layout: invalid shape")

	// ErrUnsupportedDType is returned for element types other than float32 and float64.
	ErrUnsupportedDType = errors.New("layout: unsupported element type, only float32 and float64 can be clustered")

	// ErrNonFinite is returned when a NaN or Inf is found where finite values are required.
	ErrNonFinite = errors.New("layout: NaN or Inf found")
)
