package tensor

import "fmt"

// Array is a typed n-dimensional array.
//
// The accessor is chosen when the array is created, from the factory
// registered for T at that moment. Switching the factory later does not
// affect arrays that already exist.
//
// Example:
//
//	a, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3})
//	b, _ := tensor.FromSlice([]float32{4, 5, 6}, tensor.Shape{3})
//	c, _ := tensor.Add(a, b)
type Array[T Element] struct {
	shape Shape
	acc   Accessor
}

// New creates a zero-filled array using the process-wide factory table.
func New[T Element](shape Shape) (*Array[T], error) {
	return NewIn[T](Factories, shape)
}

// NewIn creates a zero-filled array using the factory registered in table.
func NewIn[T Element](table *FactoryTable, shape Shape) (*Array[T], error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	acc, err := table.newAccessor(DataTypeOf[T](), shape.NumElements())
	if err != nil {
		return nil, err
	}
	return &Array[T]{shape: shape.Clone(), acc: acc}, nil
}

// FromSlice creates an array from a Go slice.
// The slice is copied into the array's storage.
func FromSlice[T Element](data []T, shape Shape) (*Array[T], error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	a, err := New[T](shape)
	if err != nil {
		return nil, err
	}
	if err := a.acc.Write(data); err != nil {
		return nil, fmt.Errorf("from slice: %w", err)
	}
	return a, nil
}

// Shape returns the array's shape.
func (a *Array[T]) Shape() Shape {
	return a.shape
}

// Len returns the flat backing length.
func (a *Array[T]) Len() int {
	return a.acc.Len()
}

// DType returns the array's data type.
func (a *Array[T]) DType() DataType {
	return a.acc.DType()
}

// Accessor returns the storage object bound to this array.
func (a *Array[T]) Accessor() Accessor {
	return a.acc
}

// Data returns a managed copy of the elements.
func (a *Array[T]) Data() ([]T, error) {
	out := make([]T, a.acc.Len())
	if err := a.acc.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// CopyFrom overwrites the elements with data.
func (a *Array[T]) CopyFrom(data []T) error {
	if len(data) != a.acc.Len() {
		return fmt.Errorf("copy from: got %d elements, array holds %d", len(data), a.acc.Len())
	}
	return a.acc.Write(data)
}

// Release frees the array's storage.
func (a *Array[T]) Release() error {
	return a.acc.Release()
}
