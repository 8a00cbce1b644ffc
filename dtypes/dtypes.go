// Package dtypes defines the element types known to gokmeans and their mapping to Go types.
//
// Only Float32 and Float64 can be clustered, the other types are recognized so that inputs with
// them can be rejected with a meaningful message.
package dtypes

import (
	"reflect"
	"strings"

	"github.com/x448/float16"
)

// DType is the element type of a matrix handled by gokmeans.
type DType int32

const (
	// Invalid (the zero value) represents an invalid (or not set) dtype.
	Invalid DType = iota
	Int32
	Int64
	Float16
	Float32
	Float64
)

// Supported lists the Go types that have a DType.
type Supported interface {
	int32 | int64 | float16.Float16 | float32 | float64
}

// Float lists the Go types the engines compute with.
type Float interface {
	float32 | float64
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	switch dtype {
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case Float16:
		return "Float16"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	default:
		return "Invalid"
	}
}

// Size returns the number of bytes of one element, or 0 for Invalid.
func (dtype DType) Size() int {
	switch dtype {
	case Float16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}

// IsFloat returns whether the dtype is a floating point type.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsComputable returns whether the engines can cluster data of this dtype.
func (dtype DType) IsComputable() bool {
	return dtype == Float32 || dtype == Float64
}

// GoType returns the Go type that corresponds to the dtype, or nil for Invalid.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Int32:
		return reflect.TypeOf(int32(0))
	case Int64:
		return reflect.TypeOf(int64(0))
	case Float16:
		return reflect.TypeOf(float16.Float16(0))
	case Float32:
		return reflect.TypeOf(float32(0))
	case Float64:
		return reflect.TypeOf(float64(0))
	default:
		return nil
	}
}

var float16Type = reflect.TypeOf(float16.Float16(0))

// FromGoType returns the DType for the given Go type, or Invalid if there is none.
func FromGoType(t reflect.Type) DType {
	if t == float16Type {
		return Float16
	}
	switch t.Kind() {
	case reflect.Int32:
		return Int32
	case reflect.Int64:
		return Int64
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	default:
		return Invalid
	}
}

// FromGenericsType returns the DType of the generic type T.
func FromGenericsType[T Supported]() DType {
	var zero T
	switch any(zero).(type) {
	case int32:
		return Int32
	case int64:
		return Int64
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return Invalid
}

// FromAny returns the DType of the value, which can be a scalar or a (nested) slice of a supported type.
func FromAny(value any) DType {
	if value == nil {
		return Invalid
	}
	t := reflect.TypeOf(value)
	for t.Kind() == reflect.Slice || t.Kind() == reflect.Array || t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return FromGoType(t)
}

// MapOfNames maps names (and common aliases) to their DType.
var MapOfNames = map[string]DType{
	"Invalid": Invalid,
	"Int32":   Int32,
	"S32":     Int32,
	"Int64":   Int64,
	"S64":     Int64,
	"Float16": Float16,
	"F16":     Float16,
	"Float32": Float32,
	"F32":     Float32,
	"Float64": Float64,
	"F64":     Float64,
}

func init() {
	for name, dtype := range MapOfNames {
		MapOfNames[strings.ToLower(name)] = dtype
	}
}
