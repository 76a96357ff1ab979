// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	// Installs the in-process factories and default apply handler.
	_ "github.com/born-ml/accel/internal/backend/cpu"
	"github.com/born-ml/accel/internal/tensor"
)

// Element is the constraint satisfied by every supported element type.
type Element = tensor.Element

// DataType identifies an element type at runtime.
type DataType = tensor.DataType

// Data type constants.
const (
	Int8       DataType = tensor.Int8
	Int16      DataType = tensor.Int16
	Int32      DataType = tensor.Int32
	Int64      DataType = tensor.Int64
	Uint8      DataType = tensor.Uint8
	Uint16     DataType = tensor.Uint16
	Uint32     DataType = tensor.Uint32
	Uint64     DataType = tensor.Uint64
	Float32    DataType = tensor.Float32
	Float64    DataType = tensor.Float64
	Bool       DataType = tensor.Bool
	Complex64  DataType = tensor.Complex64
	Complex128 DataType = tensor.Complex128
)

// NumDataTypes is the number of supported element types.
const NumDataTypes = tensor.NumDataTypes

// Shape represents the dimensions of an array.
// Example: Shape{2, 3, 4} represents a 3D array with dimensions 2×3×4.
type Shape = tensor.Shape

// BackendKind identifies the engine that stores an array.
type BackendKind = tensor.BackendKind

// Backend kinds.
const (
	DefaultBackend     = tensor.DefaultBackend
	AcceleratorBackend = tensor.AcceleratorBackend
)

// Array is a typed n-dimensional array.
type Array[T Element] = tensor.Array[T]

// Accessor is the storage object bound to one array.
type Accessor = tensor.Accessor

// Errors returned by array storage.
var (
	ErrReleased  = tensor.ErrReleased
	ErrNoFactory = tensor.ErrNoFactory
	ErrNoHandler = tensor.ErrNoHandler
)

// AllDataTypes returns every supported data type.
func AllDataTypes() []DataType { return tensor.AllDataTypes() }

// ParseDataType parses a data type name such as "float32".
func ParseDataType(s string) (DataType, error) { return tensor.ParseDataType(s) }

// DataTypeOf returns the DataType of T.
func DataTypeOf[T Element]() DataType { return tensor.DataTypeOf[T]() }

// New creates a zero-filled array.
func New[T Element](shape Shape) (*Array[T], error) { return tensor.New[T](shape) }

// FromSlice creates an array holding a copy of data.
func FromSlice[T Element](data []T, shape Shape) (*Array[T], error) {
	return tensor.FromSlice(data, shape)
}

// Add returns a + b element-wise.
func Add[T Element](a, b *Array[T]) (*Array[T], error) { return tensor.Add(a, b) }

// Sub returns a - b element-wise.
func Sub[T Element](a, b *Array[T]) (*Array[T], error) { return tensor.Sub(a, b) }

// Mul returns a * b element-wise.
func Mul[T Element](a, b *Array[T]) (*Array[T], error) { return tensor.Mul(a, b) }

// Div returns a / b element-wise. Integer division by zero is an error.
func Div[T Element](a, b *Array[T]) (*Array[T], error) { return tensor.Div(a, b) }

// And returns the logical AND of two bool arrays.
func And(a, b *Array[bool]) (*Array[bool], error) { return tensor.And(a, b) }

// Or returns the logical OR of two bool arrays.
func Or(a, b *Array[bool]) (*Array[bool], error) { return tensor.Or(a, b) }

// Sum reduces a to the sum of its elements.
func Sum[T Element](a *Array[T]) (*Array[T], error) { return tensor.Sum(a) }

// Max reduces a to its largest element.
func Max[T Element](a *Array[T]) (*Array[T], error) { return tensor.Max(a) }

// Min reduces a to its smallest element.
func Min[T Element](a *Array[T]) (*Array[T], error) { return tensor.Min(a) }
