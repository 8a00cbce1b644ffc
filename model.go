package gokmeans

import (
	"math"

	"github.com/gomlx/gokmeans/dtypes"
	"github.com/gomlx/gokmeans/layout"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Model holds the fitted centroids of a Solver, and can be saved with MarshalBinary and loaded with
// UnmarshalBinary. Use Config.WithModel to create a fitted Solver from it.
//
// It is serialized in the protobuf wire format, with the fields:
//
//	1: dtype (varint)
//	2: k (varint)
//	3: cols (varint)
//	4: centroids as packed doubles, for Float64 models
//	5: centroids as packed floats, for Float32 models
type Model struct {
	// K and Cols are the shape of the centroids.
	K, Cols int

	// Centroids is a row-major [K, Cols] matrix, in the precision of the data used to fit it.
	Centroids *layout.Dense
}

const (
	modelFieldDType    protowire.Number = 1
	modelFieldK        protowire.Number = 2
	modelFieldCols     protowire.Number = 3
	modelFieldFloat64s protowire.Number = 4
	modelFieldFloat32s protowire.Number = 5
)

// maxModelSize limits the number of centroid values of a loaded Model.
const maxModelSize = 1 << 30

// Model returns the fitted model, or ErrNotFitted.
func (s *Solver) Model() (*Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.centroids == nil {
		return nil, ErrNotFitted
	}
	return &Model{K: s.centroids.Rows, Cols: s.centroids.Cols, Centroids: s.centroids.Clone()}, nil
}

// DType returns the precision of the model.
func (m *Model) DType() dtypes.DType {
	if m.Centroids == nil {
		return dtypes.Invalid
	}
	return m.Centroids.DType
}

func (m *Model) validate() error {
	if m == nil || m.Centroids == nil {
		return errors.Wrapf(ErrInvalidConfig, "model has no centroids")
	}
	c := m.Centroids
	if m.K < 1 || m.Cols < 1 || c.Rows != m.K || c.Cols != m.Cols {
		return errors.Wrapf(ErrInvalidConfig, "model with k=%d, cols=%d holds centroids %s", m.K, m.Cols, c)
	}
	if c.Order != layout.RowMajor || !c.DType.IsComputable() {
		return errors.Wrapf(ErrInvalidConfig, "model centroids must be row-major Float32 or Float64, got %s", c)
	}
	if err := c.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "model centroids: %v", err)
	}
	if err := layout.CheckFinite(c); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "model centroids: %v", err)
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *Model) MarshalBinary() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	var b []byte
	b = protowire.AppendTag(b, modelFieldDType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Centroids.DType))
	b = protowire.AppendTag(b, modelFieldK, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.K))
	b = protowire.AppendTag(b, modelFieldCols, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Cols))

	var packed []byte
	switch m.Centroids.DType {
	case dtypes.Float64:
		for _, v := range m.Centroids.Float64s() {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = protowire.AppendTag(b, modelFieldFloat64s, protowire.BytesType)
	case dtypes.Float32:
		for _, v := range m.Centroids.Float32s() {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		b = protowire.AppendTag(b, modelFieldFloat32s, protowire.BytesType)
	}
	return protowire.AppendBytes(b, packed), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Unknown fields are ignored.
func (m *Model) UnmarshalBinary(data []byte) error {
	var (
		dtype          dtypes.DType
		k, cols        uint64
		float64s       []float64
		float32s       []float32
		hasF64, hasF32 bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "Model.UnmarshalBinary: invalid tag")
		}
		data = data[n:]
		switch {
		case num == modelFieldDType && typ == protowire.VarintType,
			num == modelFieldK && typ == protowire.VarintType,
			num == modelFieldCols && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "Model.UnmarshalBinary: invalid field %d", num)
			}
			data = data[n:]
			switch num {
			case modelFieldDType:
				dtype = dtypes.DType(v)
			case modelFieldK:
				k = v
			default:
				cols = v
			}
		case num == modelFieldFloat64s && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "Model.UnmarshalBinary: invalid float64 centroids")
			}
			data = data[n:]
			hasF64 = true
			for len(packed) > 0 {
				bits, n := protowire.ConsumeFixed64(packed)
				if n < 0 {
					return errors.Wrapf(protowire.ParseError(n), "Model.UnmarshalBinary: truncated float64 centroids")
				}
				float64s = append(float64s, math.Float64frombits(bits))
				packed = packed[n:]
			}
		case num == modelFieldFloat32s && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "Model.UnmarshalBinary: invalid float32 centroids")
			}
			data = data[n:]
			hasF32 = true
			for len(packed) > 0 {
				bits, n := protowire.ConsumeFixed32(packed)
				if n < 0 {
					return errors.Wrapf(protowire.ParseError(n), "Model.UnmarshalBinary: truncated float32 centroids")
				}
				float32s = append(float32s, math.Float32frombits(bits))
				packed = packed[n:]
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "Model.UnmarshalBinary: invalid field %d", num)
			}
			data = data[n:]
		}
	}

	if k == 0 || cols == 0 || k > maxModelSize || cols > maxModelSize || k*cols > maxModelSize {
		return errors.Errorf("Model.UnmarshalBinary: invalid centroids shape k=%d, cols=%d", k, cols)
	}
	centroids := &layout.Dense{DType: dtype, Rows: int(k), Cols: int(cols), Order: layout.RowMajor}
	switch {
	case dtype == dtypes.Float64 && hasF64 && !hasF32:
		centroids.Flat = float64s
	case dtype == dtypes.Float32 && hasF32 && !hasF64:
		centroids.Flat = float32s
	default:
		return errors.Errorf("Model.UnmarshalBinary: centroids don't match dtype %s", dtype)
	}
	loaded := Model{K: int(k), Cols: int(cols), Centroids: centroids}
	if got := len(float64s) + len(float32s); got != int(k*cols) {
		return errors.Errorf("Model.UnmarshalBinary: got %d values for %dx%d centroids", got, k, cols)
	}
	if err := loaded.validate(); err != nil {
		return errors.WithMessagef(err, "Model.UnmarshalBinary")
	}
	*m = loaded
	return nil
}
