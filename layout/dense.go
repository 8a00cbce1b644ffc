package layout

import (
	"fmt"
	"math"
	"slices"

	"github.com/chewxy/math32"
	"github.com/gomlx/gokmeans/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Dense is a prepared matrix: a flat contiguous buffer, its shape, storage order and precision.
//
// Flat is either a []float32 (DType == Float32) or a []float64 (DType == Float64), with Rows*Cols elements.
type Dense struct {
	DType      dtypes.DType
	Rows, Cols int
	Order      Order
	Flat       any
}

// NewDense allocates a zero-filled Dense of the given precision, shape and order.
func NewDense(dtype dtypes.DType, rows, cols int, order Order) (*Dense, error) {
	if rows < 0 || cols <= 0 {
		return nil, errors.Wrapf(ErrBadShape, "NewDense(rows=%d, cols=%d)", rows, cols)
	}
	if !order.IsValid() {
		return nil, errors.Wrapf(ErrBadShape, "NewDense given invalid order %d", int(order))
	}
	d := &Dense{DType: dtype, Rows: rows, Cols: cols, Order: order}
	switch dtype {
	case dtypes.Float32:
		d.Flat = make([]float32, rows*cols)
	case dtypes.Float64:
		d.Flat = make([]float64, rows*cols)
	default:
		return nil, errors.Wrapf(ErrUnsupportedDType, "NewDense given %s", dtype)
	}
	return d, nil
}

// FlatAs returns the flat buffer of d as a []T, or nil if T doesn't match d.DType.
func FlatAs[T dtypes.Float](d *Dense) []T {
	flat, _ := d.Flat.([]T)
	return flat
}

// Float32s returns the flat buffer if DType is Float32, nil otherwise.
func (d *Dense) Float32s() []float32 { return FlatAs[float32](d) }

// Float64s returns the flat buffer if DType is Float64, nil otherwise.
func (d *Dense) Float64s() []float64 { return FlatAs[float64](d) }

// Validate checks that the order is valid and that Flat holds Rows*Cols elements of the Go type of DType.
func (d *Dense) Validate() error {
	if !d.Order.IsValid() {
		return errors.Wrapf(ErrBadShape, "%s has invalid order %d", d, int(d.Order))
	}
	if d.Rows < 0 || d.Cols < 0 {
		return errors.Wrapf(ErrBadShape, "%s has negative dimensions", d)
	}
	var n int
	switch d.DType {
	case dtypes.Float32:
		flat, ok := d.Flat.([]float32)
		if !ok {
			return errors.Wrapf(ErrUnsupportedDType, "%s holds a %T", d, d.Flat)
		}
		n = len(flat)
	case dtypes.Float64:
		flat, ok := d.Flat.([]float64)
		if !ok {
			return errors.Wrapf(ErrUnsupportedDType, "%s holds a %T", d, d.Flat)
		}
		n = len(flat)
	default:
		return errors.Wrapf(ErrUnsupportedDType, "got %s", d)
	}
	if n != d.Size() {
		return errors.Wrapf(ErrBadShape, "%s holds %d elements", d, n)
	}
	return nil
}

// Size returns the number of elements.
func (d *Dense) Size() int {
	return d.Rows * d.Cols
}

// String implements fmt.Stringer.
func (d *Dense) String() string {
	return fmt.Sprintf("Dense[%s](%dx%d, %s)", d.DType, d.Rows, d.Cols, d.Order)
}

// At returns element (row, col) converted to float64.
func (d *Dense) At(row, col int) float64 {
	idx := flatIndex(d.Order, d.Rows, d.Cols, row, col)
	switch flat := d.Flat.(type) {
	case []float32:
		return float64(flat[idx])
	case []float64:
		return flat[idx]
	}
	panic(errors.Errorf("Dense.At on invalid buffer of type %T", d.Flat))
}

// Set sets element (row, col), converting value to the precision of d.
func (d *Dense) Set(row, col int, value float64) {
	idx := flatIndex(d.Order, d.Rows, d.Cols, row, col)
	switch flat := d.Flat.(type) {
	case []float32:
		flat[idx] = float32(value)
	case []float64:
		flat[idx] = value
	default:
		panic(errors.Errorf("Dense.Set on invalid buffer of type %T", d.Flat))
	}
}

// Row copies row i into dst (resized as needed) as float64 and returns it.
func (d *Dense) Row(i int, dst []float64) []float64 {
	dst = slices.Grow(dst[:0], d.Cols)[:d.Cols]
	for j := range dst {
		dst[j] = d.At(i, j)
	}
	return dst
}

// Clone returns a deep copy of d.
func (d *Dense) Clone() *Dense {
	c := *d
	switch flat := d.Flat.(type) {
	case []float32:
		c.Flat = slices.Clone(flat)
	case []float64:
		c.Flat = slices.Clone(flat)
	}
	return &c
}

// RowMajor returns d itself if it is already row-major, or a row-major copy otherwise.
func (d *Dense) RowMajor() *Dense {
	if d.Order == RowMajor {
		return d
	}
	switch flat := d.Flat.(type) {
	case []float32:
		return &Dense{DType: d.DType, Rows: d.Rows, Cols: d.Cols, Order: RowMajor, Flat: transposeFlat(flat, d.Rows, d.Cols)}
	case []float64:
		return &Dense{DType: d.DType, Rows: d.Rows, Cols: d.Cols, Order: RowMajor, Flat: transposeFlat(flat, d.Rows, d.Cols)}
	}
	return d
}

// transposeFlat converts a column-major rows x cols buffer to row-major.
func transposeFlat[T dtypes.Float](colMajor []T, rows, cols int) []T {
	out := make([]T, len(colMajor))
	for j := 0; j < cols; j++ {
		col := colMajor[j*rows : (j+1)*rows]
		for i, v := range col {
			out[i*cols+j] = v
		}
	}
	return out
}

// ConvertTo returns d converted to the given precision. It returns d itself if no conversion is needed.
func (d *Dense) ConvertTo(dtype dtypes.DType) (*Dense, error) {
	if d.DType == dtype {
		return d, nil
	}
	switch dtype {
	case dtypes.Float32:
		src := d.Float64s()
		dst := make([]float32, len(src))
		for i, v := range src {
			dst[i] = float32(v)
		}
		return &Dense{DType: dtype, Rows: d.Rows, Cols: d.Cols, Order: d.Order, Flat: dst}, nil
	case dtypes.Float64:
		src := d.Float32s()
		dst := make([]float64, len(src))
		for i, v := range src {
			dst[i] = float64(v)
		}
		return &Dense{DType: dtype, Rows: d.Rows, Cols: d.Cols, Order: d.Order, Flat: dst}, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedDType, "cannot convert %s to %s", d, dtype)
}

// ToGonum returns a row-major float64 copy of d as a gonum matrix.
func (d *Dense) ToGonum() *mat.Dense {
	data := make([]float64, d.Rows*d.Cols)
	for i := 0; i < d.Rows; i++ {
		for j := 0; j < d.Cols; j++ {
			data[i*d.Cols+j] = d.At(i, j)
		}
	}
	if d.Rows == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(d.Rows, d.Cols, data)
}

// NaNRows returns the indices of the rows that contain at least one NaN, in increasing order.
func (d *Dense) NaNRows() []int {
	var rows []int
	for i := 0; i < d.Rows; i++ {
		for j := 0; j < d.Cols; j++ {
			if d.isNaN(flatIndex(d.Order, d.Rows, d.Cols, i, j)) {
				rows = append(rows, i)
				break
			}
		}
	}
	return rows
}

func (d *Dense) isNaN(idx int) bool {
	switch flat := d.Flat.(type) {
	case []float32:
		return math32.IsNaN(flat[idx])
	case []float64:
		return math.IsNaN(flat[idx])
	}
	return false
}

// DropRows returns a row-major copy of d without the given rows.
func (d *Dense) DropRows(rows []int) *Dense {
	drop := make(map[int]bool, len(rows))
	for _, r := range rows {
		if r >= 0 && r < d.Rows {
			drop[r] = true
		}
	}
	keep := make([]int, 0, d.Rows-len(drop))
	for i := 0; i < d.Rows; i++ {
		if !drop[i] {
			keep = append(keep, i)
		}
	}
	out := &Dense{DType: d.DType, Rows: len(keep), Cols: d.Cols, Order: RowMajor}
	switch flat := d.Flat.(type) {
	case []float32:
		out.Flat = gatherRows(flat, d.Order, d.Rows, d.Cols, keep)
	case []float64:
		out.Flat = gatherRows(flat, d.Order, d.Rows, d.Cols, keep)
	}
	return out
}

func gatherRows[T dtypes.Float](flat []T, order Order, rows, cols int, keep []int) []T {
	out := make([]T, 0, len(keep)*cols)
	for _, i := range keep {
		for j := 0; j < cols; j++ {
			out = append(out, flat[flatIndex(order, rows, cols, i, j)])
		}
	}
	return out
}
