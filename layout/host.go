package layout

import (
	"fmt"

	"github.com/gomlx/gokmeans/dtypes"
	"github.com/pkg/errors"
)

// Host is a matrix in host memory of any supported element type, stored in a flat slice with the given Order.
//
// It is the most direct way to pass data to a Solver: the element type selects the precision of the fit, and the
// Order is kept as is (the engines read column-major data in place).
type Host[T dtypes.Supported] struct {
	Rows, Cols int
	Order      Order
	Data       []T
}

// NewHost creates a Host matrix. If data is nil, a zero-filled buffer is allocated, otherwise its length must
// be rows*cols. The data is not copied.
func NewHost[T dtypes.Supported](rows, cols int, order Order, data []T) (*Host[T], error) {
	if rows <= 0 || cols <= 0 {
		return nil, errors.Wrapf(ErrBadShape, "NewHost(rows=%d, cols=%d): dimensions must be positive", rows, cols)
	}
	if !order.IsValid() {
		return nil, errors.Wrapf(ErrBadShape, "NewHost given invalid order %d", int(order))
	}
	if data == nil {
		data = make([]T, rows*cols)
	} else if len(data) != rows*cols {
		return nil, errors.Wrapf(ErrBadShape, "NewHost(rows=%d, cols=%d) given %d elements, wanted %d",
			rows, cols, len(data), rows*cols)
	}
	return &Host[T]{Rows: rows, Cols: cols, Order: order, Data: data}, nil
}

// DType returns the dtype of the elements.
func (h *Host[T]) DType() dtypes.DType {
	return dtypes.FromGenericsType[T]()
}

// At returns element (row, col).
func (h *Host[T]) At(row, col int) T {
	return h.Data[flatIndex(h.Order, h.Rows, h.Cols, row, col)]
}

// Set sets element (row, col).
func (h *Host[T]) Set(row, col int, value T) {
	h.Data[flatIndex(h.Order, h.Rows, h.Cols, row, col)] = value
}

// String implements fmt.Stringer.
func (h *Host[T]) String() string {
	return fmt.Sprintf("Host[%s](%dx%d, %s)", h.DType(), h.Rows, h.Cols, h.Order)
}

// toDense copies the host data into a new Dense, keeping its order.
func (h *Host[T]) toDense() (*Dense, error) {
	if h == nil {
		return nil, errors.Wrapf(ErrBadShape, "Prepare given a nil *Host[%s]", dtypes.FromGenericsType[T]())
	}
	if !h.Order.IsValid() {
		return nil, errors.Wrapf(ErrBadShape, "%s has invalid order %d", h, int(h.Order))
	}
	if h.Rows <= 0 || h.Cols <= 0 || len(h.Data) != h.Rows*h.Cols {
		return nil, errors.Wrapf(ErrBadShape, "%s holds %d elements", h, len(h.Data))
	}
	switch data := any(h.Data).(type) {
	case []float32:
		return &Dense{DType: dtypes.Float32, Rows: h.Rows, Cols: h.Cols, Order: h.Order, Flat: append([]float32(nil), data...)}, nil
	case []float64:
		return &Dense{DType: dtypes.Float64, Rows: h.Rows, Cols: h.Cols, Order: h.Order, Flat: append([]float64(nil), data...)}, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedDType, "got %s", h.DType())
}
