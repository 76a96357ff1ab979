package tensor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// BackendKind identifies the engine that stores and computes an array.
type BackendKind int

// Supported backend kinds.
const (
	// DefaultBackend is pure in-process storage and compute.
	DefaultBackend BackendKind = iota
	// AcceleratorBackend delegates storage and compute to an external runtime.
	AcceleratorBackend
)

// String returns a human-readable backend name.
func (k BackendKind) String() string {
	switch k {
	case DefaultBackend:
		return "default"
	case AcceleratorBackend:
		return "accelerator"
	default:
		return "unknown"
	}
}

// ErrNoFactory is returned when an array is created for a type that has no
// accessor factory registered.
var ErrNoFactory = errors.New("no accessor factory registered")

// ErrReleased is returned by accessors whose storage has been released.
var ErrReleased = errors.New("array storage released")

// Accessor is the storage and compute object bound to one array instance.
//
// Read and Write take a managed buffer ([]T matching DType) of exactly Len
// elements.
type Accessor interface {
	DType() DataType
	Len() int
	Backend() BackendKind

	// Read copies the array elements into dst.
	Read(dst any) error
	// Write replaces the array elements with src.
	Write(src any) error

	// Release frees the backing storage. The accessor is unusable afterwards.
	Release() error
}

// NativeAccessor is an Accessor whose elements live in memory owned by an
// accelerator runtime.
type NativeAccessor interface {
	Accessor
	// Pointer returns the flat pointer to the first element in runtime memory.
	Pointer() unsafe.Pointer
}

// HostAccessor is an Accessor backed by a managed Go slice.
type HostAccessor interface {
	Accessor
	// Slice returns the backing []T without copying.
	Slice() any
}

// AccessorFactory constructs the Accessor for a newly created array.
type AccessorFactory interface {
	Kind() BackendKind
	New(dtype DataType, n int) (Accessor, error)
}

// FactoryTable maps each DataType to its current AccessorFactory.
//
// Readers load an immutable snapshot without locking; writers build a new
// snapshot and swap it in, serialized by mu. Swapping never changes the
// accessor of an array that already exists.
type FactoryTable struct {
	mu   sync.Mutex
	snap atomic.Pointer[[NumDataTypes]AccessorFactory]
}

// NewFactoryTable creates an empty table.
func NewFactoryTable() *FactoryTable {
	t := &FactoryTable{}
	t.snap.Store(&[NumDataTypes]AccessorFactory{})
	return t
}

// Factories is the process-wide registration point used by New and FromSlice.
var Factories = NewFactoryTable()

// Get returns the factory currently registered for dt, or nil.
func (t *FactoryTable) Get(dt DataType) AccessorFactory {
	if !dt.IsValid() {
		return nil
	}
	return t.snap.Load()[dt]
}

// Set registers f for dt, replacing any previous factory.
func (t *FactoryTable) Set(dt DataType, f AccessorFactory) error {
	if !dt.IsValid() {
		return fmt.Errorf("set accessor factory: unknown data type %d", int(dt))
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	next := *t.snap.Load()
	next[dt] = f
	t.snap.Store(&next)
	return nil
}

// Snapshot returns a copy of the current assignment.
func (t *FactoryTable) Snapshot() [NumDataTypes]AccessorFactory {
	return *t.snap.Load()
}

// Restore replaces the whole assignment in one swap.
func (t *FactoryTable) Restore(s [NumDataTypes]AccessorFactory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Store(&s)
}

// newAccessor asks the factory currently registered for dt for an accessor.
func (t *FactoryTable) newAccessor(dt DataType, n int) (Accessor, error) {
	f := t.Get(dt)
	if f == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoFactory, dt)
	}
	acc, err := f.New(dt, n)
	if err != nil {
		return nil, fmt.Errorf("%s accessor for %s: %w", f.Kind(), dt, err)
	}
	return acc, nil
}
