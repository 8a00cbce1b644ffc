// Package layout converts user matrices and label vectors into the flat, contiguous buffers the k-means engines
// compute on.
//
// A prepared matrix (Dense) carries its own storage order (row-major or column-major) and precision (Float32 or
// Float64): the engines read those tags instead of guessing.
package layout

import (
	"github.com/pkg/errors"
)

// Order is the storage order of a flat matrix.
type Order int

const (
	// RowMajor stores element (i, j) at position i*cols+j: points are contiguous.
	RowMajor Order = iota

	// ColMajor stores element (i, j) at position j*rows+i: features are contiguous ("Fortran" order).
	ColMajor
)

// IsValid returns whether o is RowMajor or ColMajor.
func (o Order) IsValid() bool {
	return o == RowMajor || o == ColMajor
}

// String implements fmt.Stringer.
func (o Order) String() string {
	switch o {
	case RowMajor:
		return "RowMajor"
	case ColMajor:
		return "ColMajor"
	default:
		return "InvalidOrder"
	}
}

// OrderCode maps an Order to the single character code used by native k-means engines: 'r' for row-major and
// 'c' for column-major. It returns 0 for an invalid Order.
func OrderCode(o Order) byte {
	switch o {
	case RowMajor:
		return 'r'
	case ColMajor:
		return 'c'
	default:
		return 0
	}
}

// ParseOrderCode is the inverse of OrderCode.
func ParseOrderCode(code byte) (Order, error) {
	switch code {
	case 'r', 'R':
		return RowMajor, nil
	case 'c', 'C':
		return ColMajor, nil
	default:
		return RowMajor, errors.Errorf("invalid storage order code %q, expected 'r' or 'c'", code)
	}
}

// flatIndex returns the position of element (row, col) in a flat buffer of the given shape and order.
func flatIndex(order Order, rows, cols, row, col int) int {
	if order == ColMajor {
		return col*rows + row
	}
	return row*cols + col
}
