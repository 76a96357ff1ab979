// Package tensor provides the array types, element types and dispatch points
// that accelerator backends plug into.
package tensor

import (
	"fmt"
	"strings"
)

// Element is a constraint for supported array element types.
// Only the predeclared types are accepted: buffers are exchanged as []T and
// matched by exact type, so named types such as `type Celsius float64`
// are rejected at compile time.
type Element interface {
	int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64 | bool |
		complex64 | complex128
}

// DataType represents runtime type information for arrays.
// The set is closed: adding a type means extending the marshaling codecs,
// the kernels and both backends.
type DataType int

// Supported data types for arrays.
const (
	Int8 DataType = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	Bool
	Complex64
	Complex128

	numDataTypes
)

// NumDataTypes is the size of the closed DataType enumeration.
const NumDataTypes = int(numDataTypes)

// AllDataTypes returns every supported data type.
func AllDataTypes() []DataType {
	all := make([]DataType, 0, NumDataTypes)
	for dt := DataType(0); dt < numDataTypes; dt++ {
		all = append(all, dt)
	}
	return all
}

// IsValid reports whether dt belongs to the supported set.
func (dt DataType) IsValid() bool {
	return dt >= 0 && dt < numDataTypes
}

// Size returns the native byte size of one element.
// Complex types occupy two consecutive floats of half that size.
func (dt DataType) Size() int {
	switch dt {
	case Int8, Uint8, Bool:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64, Complex64:
		return 8
	case Complex128:
		return 16
	default:
		panic(fmt.Sprintf("unknown data type %d", int(dt)))
	}
}

// IsComplex reports whether dt is one of the complex types.
func (dt DataType) IsComplex() bool {
	return dt == Complex64 || dt == Complex128
}

// IsInteger reports whether dt is a signed or unsigned integer type.
func (dt DataType) IsInteger() bool {
	return dt >= Int8 && dt <= Uint64
}

var dataTypeNames = [...]string{
	Int8:       "int8",
	Int16:      "int16",
	Int32:      "int32",
	Int64:      "int64",
	Uint8:      "uint8",
	Uint16:     "uint16",
	Uint32:     "uint32",
	Uint64:     "uint64",
	Float32:    "float32",
	Float64:    "float64",
	Bool:       "bool",
	Complex64:  "complex64",
	Complex128: "complex128",
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	if !dt.IsValid() {
		return fmt.Sprintf("unknown(%d)", int(dt))
	}
	return dataTypeNames[dt]
}

// ParseDataType is the inverse of String.
func ParseDataType(s string) (DataType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for dt, n := range dataTypeNames {
		if n == name {
			return DataType(dt), nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

// DataTypeOf returns the DataType for the generic type T.
func DataTypeOf[T Element]() DataType {
	var dummy T
	switch any(dummy).(type) {
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case float32:
		return Float32
	case float64:
		return Float64
	case bool:
		return Bool
	case complex64:
		return Complex64
	case complex128:
		return Complex128
	default:
		panic(fmt.Sprintf("unsupported element type %T", dummy))
	}
}

// MakeSlice allocates a zeroed managed buffer ([]T) for dt.
func MakeSlice(dt DataType, n int) (any, error) {
	switch dt {
	case Int8:
		return make([]int8, n), nil
	case Int16:
		return make([]int16, n), nil
	case Int32:
		return make([]int32, n), nil
	case Int64:
		return make([]int64, n), nil
	case Uint8:
		return make([]uint8, n), nil
	case Uint16:
		return make([]uint16, n), nil
	case Uint32:
		return make([]uint32, n), nil
	case Uint64:
		return make([]uint64, n), nil
	case Float32:
		return make([]float32, n), nil
	case Float64:
		return make([]float64, n), nil
	case Bool:
		return make([]bool, n), nil
	case Complex64:
		return make([]complex64, n), nil
	case Complex128:
		return make([]complex128, n), nil
	default:
		return nil, fmt.Errorf("unknown data type %d", int(dt))
	}
}

// SliceInfo returns the DataType and length of a managed buffer.
// ok is false when buf is not a slice of a supported element type.
func SliceInfo(buf any) (dt DataType, n int, ok bool) {
	switch s := buf.(type) {
	case []int8:
		return Int8, len(s), true
	case []int16:
		return Int16, len(s), true
	case []int32:
		return Int32, len(s), true
	case []int64:
		return Int64, len(s), true
	case []uint8:
		return Uint8, len(s), true
	case []uint16:
		return Uint16, len(s), true
	case []uint32:
		return Uint32, len(s), true
	case []uint64:
		return Uint64, len(s), true
	case []float32:
		return Float32, len(s), true
	case []float64:
		return Float64, len(s), true
	case []bool:
		return Bool, len(s), true
	case []complex64:
		return Complex64, len(s), true
	case []complex128:
		return Complex128, len(s), true
	default:
		return 0, 0, false
	}
}

// CopySlice copies src into dst. Both must be managed buffers of the same
// element type; it returns the number of elements copied.
func CopySlice(dst, src any) (int, error) {
	switch d := dst.(type) {
	case []int8:
		return copyAs(d, src)
	case []int16:
		return copyAs(d, src)
	case []int32:
		return copyAs(d, src)
	case []int64:
		return copyAs(d, src)
	case []uint8:
		return copyAs(d, src)
	case []uint16:
		return copyAs(d, src)
	case []uint32:
		return copyAs(d, src)
	case []uint64:
		return copyAs(d, src)
	case []float32:
		return copyAs(d, src)
	case []float64:
		return copyAs(d, src)
	case []bool:
		return copyAs(d, src)
	case []complex64:
		return copyAs(d, src)
	case []complex128:
		return copyAs(d, src)
	default:
		return 0, fmt.Errorf("copy: unsupported buffer %T", dst)
	}
}

func copyAs[T Element](dst []T, src any) (int, error) {
	s, ok := src.([]T)
	if !ok {
		return 0, fmt.Errorf("copy: %T into %T", src, dst)
	}
	return copy(dst, s), nil
}
