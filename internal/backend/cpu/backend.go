// Package cpu implements the default backend: array storage in managed Go
// slices and operations run by the shared kernels.
//
// Importing the package installs it for every element type.
package cpu

import (
	"fmt"

	"github.com/born-ml/accel/internal/kernel"
	"github.com/born-ml/accel/internal/tensor"
)

func init() {
	Install()
}

// Install registers the default factory for every element type in
// tensor.Factories and the default handler on tensor.Dispatch.
func Install() {
	for _, dt := range tensor.AllDataTypes() {
		_ = tensor.Factories.Set(dt, DefaultFactory)
	}
	tensor.Dispatch.SetDefaultHandler(DefaultHandler)
}

// Factory creates host accessors.
type Factory struct{}

// DefaultFactory is the factory every element type starts with.
var DefaultFactory tensor.AccessorFactory = Factory{}

// Kind implements tensor.AccessorFactory.
func (Factory) Kind() tensor.BackendKind { return tensor.DefaultBackend }

// New implements tensor.AccessorFactory.
func (Factory) New(dt tensor.DataType, n int) (tensor.Accessor, error) {
	buf, err := tensor.MakeSlice(dt, n)
	if err != nil {
		return nil, err
	}
	return &Accessor{dt: dt, n: n, buf: buf}, nil
}

// Accessor stores an array in a managed slice.
type Accessor struct {
	dt  tensor.DataType
	n   int
	buf any
}

// DType implements tensor.Accessor.
func (a *Accessor) DType() tensor.DataType { return a.dt }

// Len implements tensor.Accessor.
func (a *Accessor) Len() int { return a.n }

// Backend implements tensor.Accessor.
func (a *Accessor) Backend() tensor.BackendKind { return tensor.DefaultBackend }

// Slice implements tensor.HostAccessor.
func (a *Accessor) Slice() any { return a.buf }

// Read implements tensor.Accessor.
func (a *Accessor) Read(dst any) error {
	if a.buf == nil {
		return tensor.ErrReleased
	}
	if err := a.check(dst); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	_, err := tensor.CopySlice(dst, a.buf)
	return err
}

// Write implements tensor.Accessor.
func (a *Accessor) Write(src any) error {
	if a.buf == nil {
		return tensor.ErrReleased
	}
	if err := a.check(src); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	_, err := tensor.CopySlice(a.buf, src)
	return err
}

// Release implements tensor.Accessor.
func (a *Accessor) Release() error {
	a.buf = nil
	return nil
}

func (a *Accessor) check(buf any) error {
	dt, n, ok := tensor.SliceInfo(buf)
	if !ok || dt != a.dt || n != a.n {
		return fmt.Errorf("buffer %T of %d elements does not fit %s[%d]", buf, n, a.dt, a.n)
	}
	return nil
}

// Handler runs operations on the host for any mix of accessors.
// Host-backed operands are used in place; others are read into managed
// copies and the result written back.
type Handler struct{}

// DefaultHandler is the fallback installed on tensor.Dispatch.
var DefaultHandler tensor.ApplyHandler = Handler{}

// Name implements tensor.ApplyHandler.
func (Handler) Name() string { return "cpu" }

// Apply implements tensor.ApplyHandler.
func (Handler) Apply(op tensor.Op, out tensor.Accessor, in ...tensor.Accessor) error {
	args := make([]any, len(in))
	for i, acc := range in {
		buf, err := Managed(acc)
		if err != nil {
			return fmt.Errorf("%s: input %d: %w", op, i, err)
		}
		args[i] = buf
	}

	if host, ok := out.(tensor.HostAccessor); ok {
		if host.Slice() == nil {
			return tensor.ErrReleased
		}
		return kernel.Exec(op, host.Slice(), args...)
	}

	dst, err := tensor.MakeSlice(out.DType(), out.Len())
	if err != nil {
		return err
	}
	if err := kernel.Exec(op, dst, args...); err != nil {
		return err
	}
	return out.Write(dst)
}

// Managed returns the elements of acc as a managed buffer, without copying
// when acc is host-backed.
func Managed(acc tensor.Accessor) (any, error) {
	if host, ok := acc.(tensor.HostAccessor); ok {
		if host.Slice() == nil {
			return nil, tensor.ErrReleased
		}
		return host.Slice(), nil
	}
	buf, err := tensor.MakeSlice(acc.DType(), acc.Len())
	if err != nil {
		return nil, err
	}
	if err := acc.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Snapshot returns a private copy of the elements of acc. Later writes to
// acc are not visible in the copy.
func Snapshot(acc tensor.Accessor) (any, error) {
	host, ok := acc.(tensor.HostAccessor)
	if !ok {
		return Managed(acc)
	}
	src := host.Slice()
	if src == nil {
		return nil, tensor.ErrReleased
	}
	buf, err := tensor.MakeSlice(acc.DType(), acc.Len())
	if err != nil {
		return nil, err
	}
	if _, err := tensor.CopySlice(buf, src); err != nil {
		return nil, err
	}
	return buf, nil
}
