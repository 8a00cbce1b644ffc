package layout

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/gomlx/gokmeans/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/mat"
)

// Prepare converts a user matrix to a Dense with a fresh contiguous buffer: the caller's data is never shared with
// the engines.
//
// The storage order is taken from the native storage of the matrix, and the precision from its element type.
// Accepted inputs:
//
//   - *Dense: cloned as is.
//   - *Host[T]: T must be float32 or float64, its Order is kept.
//   - [][]float32 and [][]float64: one inner slice per point, row-major.
//   - gonum's *mat.Dense: row-major, Float64.
//   - gonum's mat.Transpose of a *mat.Dense (e.g. from Dense.T()): column-major, Float64.
//   - any other gonum mat.Matrix: read element by element into a row-major Float64 buffer.
//
// Any other element type returns an error wrapping ErrUnsupportedDType.
func Prepare(matrix any) (*Dense, error) {
	switch m := matrix.(type) {
	case nil:
		return nil, errors.Wrapf(ErrBadShape, "Prepare given a nil matrix")
	case *Dense:
		if m == nil {
			return nil, errors.Wrapf(ErrBadShape, "Prepare given a nil *Dense")
		}
		if m.Rows <= 0 || m.Cols <= 0 {
			return nil, errors.Wrapf(ErrBadShape, "got %s", m)
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return m.Clone(), nil
	case *Host[float32]:
		return m.toDense()
	case *Host[float64]:
		return m.toDense()
	case *Host[float16.Float16]:
		return nil, errors.Wrapf(ErrUnsupportedDType, "got %s, convert it to Float32 first", m)
	case *Host[int32]:
		return nil, errors.Wrapf(ErrUnsupportedDType, "got %s", m)
	case *Host[int64]:
		return nil, errors.Wrapf(ErrUnsupportedDType, "got %s", m)
	case [][]float32:
		return fromNested(m, dtypes.Float32)
	case [][]float64:
		return fromNested(m, dtypes.Float64)
	case *mat.Dense:
		return fromGonumDense(m)
	case mat.Transpose:
		if dense, ok := m.Matrix.(*mat.Dense); ok {
			return fromGonumTransposed(dense)
		}
		return fromGonumMatrix(m)
	case mat.Matrix:
		return fromGonumMatrix(m)
	}
	return nil, errors.Wrapf(ErrUnsupportedDType, "Prepare given matrix of type %T (dtype %s)", matrix, dtypes.FromAny(matrix))
}

func fromNested[T dtypes.Float](rows [][]T, dtype dtypes.DType) (*Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.Wrapf(ErrBadShape, "empty [][]%s matrix", dtype)
	}
	cols := len(rows[0])
	flat := make([]T, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.Wrapf(ErrBadShape, "ragged matrix: row %d has %d columns, row 0 has %d", i, len(row), cols)
		}
		flat = append(flat, row...)
	}
	return &Dense{DType: dtype, Rows: len(rows), Cols: cols, Order: RowMajor, Flat: flat}, nil
}

func fromGonumDense(m *mat.Dense) (*Dense, error) {
	raw := m.RawMatrix()
	if raw.Rows <= 0 || raw.Cols <= 0 {
		return nil, errors.Wrapf(ErrBadShape, "empty gonum matrix (%dx%d)", raw.Rows, raw.Cols)
	}
	flat := make([]float64, 0, raw.Rows*raw.Cols)
	for i := 0; i < raw.Rows; i++ {
		flat = append(flat, raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols]...)
	}
	return &Dense{DType: dtypes.Float64, Rows: raw.Rows, Cols: raw.Cols, Order: RowMajor, Flat: flat}, nil
}

// fromGonumTransposed reads the transposed view of a row-major gonum matrix: its storage is column-major.
func fromGonumTransposed(m *mat.Dense) (*Dense, error) {
	raw := m.RawMatrix()
	if raw.Rows <= 0 || raw.Cols <= 0 {
		return nil, errors.Wrapf(ErrBadShape, "empty gonum matrix (%dx%d)", raw.Cols, raw.Rows)
	}
	flat := make([]float64, 0, raw.Rows*raw.Cols)
	for i := 0; i < raw.Rows; i++ {
		flat = append(flat, raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols]...)
	}
	return &Dense{DType: dtypes.Float64, Rows: raw.Cols, Cols: raw.Rows, Order: ColMajor, Flat: flat}, nil
}

func fromGonumMatrix(m mat.Matrix) (*Dense, error) {
	rows, cols := m.Dims()
	if rows <= 0 || cols <= 0 {
		return nil, errors.Wrapf(ErrBadShape, "empty gonum matrix (%dx%d)", rows, cols)
	}
	flat := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			flat[i*cols+j] = m.At(i, j)
		}
	}
	return &Dense{DType: dtypes.Float64, Rows: rows, Cols: cols, Order: RowMajor, Flat: flat}, nil
}

// CheckFinite returns an error wrapping ErrNonFinite if d holds any NaN or Inf.
func CheckFinite(d *Dense) error {
	var idx int
	switch flat := d.Flat.(type) {
	case []float32:
		idx = firstNonFinite32(flat)
	case []float64:
		idx = firstNonFinite64(flat)
	default:
		return errors.Wrapf(ErrUnsupportedDType, "CheckFinite given %s", d)
	}
	if idx < 0 {
		return nil
	}
	row, col := idx/d.Cols, idx%d.Cols
	if d.Order == ColMajor {
		row, col = idx%d.Rows, idx/d.Rows
	}
	return errors.Wrapf(ErrNonFinite, "element (%d, %d) of %s is %g", row, col, d, d.At(row, col))
}

func firstNonFinite32(flat []float32) int {
	for i, v := range flat {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

func firstNonFinite64(flat []float64) int {
	for i, v := range flat {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}
