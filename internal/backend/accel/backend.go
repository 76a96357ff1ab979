// Package accel implements the accelerator backend: array storage in
// runtime-owned memory and operations submitted to the runtime as
// instructions.
package accel

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/born-ml/accel/internal/backend/cpu"
	"github.com/born-ml/accel/internal/device"
	"github.com/born-ml/accel/internal/kernel"
	"github.com/born-ml/accel/internal/marshal"
	"github.com/born-ml/accel/internal/pinned"
	"github.com/born-ml/accel/internal/tensor"
)

// Backend binds a runtime to the marshaling engine and the pinned tracker.
type Backend struct {
	Runtime device.Runtime
	Engine  *marshal.Engine
	Tracker *pinned.Tracker

	log     zerolog.Logger
	factory *Factory
	handler *Handler

	// inflight keeps accessors named by queued instructions reachable, so
	// their regions are not reclaimed before the runtime syncs.
	mu       sync.Mutex
	inflight []*Accessor
}

// New creates a backend over rt. The engine's fast path should be the
// runtime's bulk copier.
func New(rt device.Runtime, engine *marshal.Engine, tracker *pinned.Tracker, log zerolog.Logger) *Backend {
	b := &Backend{Runtime: rt, Engine: engine, Tracker: tracker, log: log}
	b.factory = &Factory{b: b}
	b.handler = &Handler{b: b}
	return b
}

// Factory returns the accelerator accessor factory.
func (b *Backend) Factory() *Factory { return b.factory }

// Handler returns the accelerator apply handler.
func (b *Backend) Handler() *Handler { return b.handler }

// Sync executes the queued instructions. Pinned buffers stay pinned.
func (b *Backend) Sync() error {
	err := b.Runtime.Sync()
	b.mu.Lock()
	b.inflight = nil
	b.mu.Unlock()
	return err
}

// Flush executes the queued instructions and then releases every pinned
// buffer. Buffers are released even when execution reports an error, since
// the queue is drained either way.
func (b *Backend) Flush() error {
	err := b.Sync()
	n := b.Tracker.ReleaseAll()
	b.log.Debug().Int("released", n).Err(err).Msg("flushed accelerator")
	return err
}

func (b *Backend) hold(accs ...*Accessor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight = append(b.inflight, accs...)
}

// Factory allocates accelerator accessors.
type Factory struct {
	b *Backend
}

// Kind implements tensor.AccessorFactory.
func (f *Factory) Kind() tensor.BackendKind { return tensor.AcceleratorBackend }

// New implements tensor.AccessorFactory. The region is returned to the
// runtime on Release, or once the accessor becomes unreachable.
func (f *Factory) New(dt tensor.DataType, n int) (tensor.Accessor, error) {
	if !dt.IsValid() {
		return nil, fmt.Errorf("%w: %s", marshal.ErrUnsupportedElementType, dt)
	}
	if n < 0 {
		return nil, fmt.Errorf("negative length %d", n)
	}
	region, err := f.b.Runtime.Alloc(n * dt.Size())
	if err != nil {
		return nil, err
	}
	acc := &Accessor{b: f.b, dt: dt, n: n, region: region}
	rt := f.b.Runtime
	acc.cleanup = runtime.AddCleanup(acc, func(r *device.Region) { _ = rt.Free(r) }, region)
	return acc, nil
}

// Accessor stores an array in a runtime region.
type Accessor struct {
	b       *Backend
	dt      tensor.DataType
	n       int
	region  *device.Region
	cleanup runtime.Cleanup

	mu       sync.Mutex
	released bool
}

// DType implements tensor.Accessor.
func (a *Accessor) DType() tensor.DataType { return a.dt }

// Len implements tensor.Accessor.
func (a *Accessor) Len() int { return a.n }

// Backend implements tensor.Accessor.
func (a *Accessor) Backend() tensor.BackendKind { return tensor.AcceleratorBackend }

// Pointer implements tensor.NativeAccessor.
func (a *Accessor) Pointer() unsafe.Pointer { return a.region.Ptr() }

// Read implements tensor.Accessor. Pending instructions run first.
func (a *Accessor) Read(dst any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ptr, err := a.readyLocked(dst)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return a.b.Engine.ReadInto(ptr, dst, a.dt)
}

// Write implements tensor.Accessor. Pending instructions run first.
func (a *Accessor) Write(src any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ptr, err := a.readyLocked(src)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return a.b.Engine.CopyOut(src, a.dt, ptr)
}

// readyLocked checks buf against the accessor, syncs the runtime and
// returns the region pointer. a.mu is held until the copy is done so
// Release cannot free the region underneath it.
func (a *Accessor) readyLocked(buf any) (unsafe.Pointer, error) {
	if a.released {
		return nil, tensor.ErrReleased
	}
	if dt, n, ok := tensor.SliceInfo(buf); !ok || dt != a.dt || n != a.n {
		return nil, fmt.Errorf("%w: %T of %d elements for %s[%d]", marshal.ErrBufferMismatch, buf, n, a.dt, a.n)
	}
	if err := a.b.Sync(); err != nil {
		return nil, err
	}
	ptr := a.region.Ptr()
	if ptr == nil && a.n > 0 {
		// The runtime was closed underneath the array.
		return nil, device.ErrClosed
	}
	return ptr, nil
}

// Release implements tensor.Accessor.
func (a *Accessor) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil
	}
	a.released = true
	a.cleanup.Stop()
	return errors.Join(a.b.Sync(), a.b.Runtime.Free(a.region))
}

// Handler submits operations whose output lives on the accelerator.
type Handler struct {
	b *Backend
}

// Name implements tensor.ApplyHandler.
func (h *Handler) Name() string { return "accelerator/" + h.b.Runtime.Name() }

// Apply implements tensor.ApplyHandler. Inputs from other backends are
// copied when the operation is submitted and the copy is pinned until the
// next flush, so writes made to them afterwards do not reach the queued
// instruction.
func (h *Handler) Apply(op tensor.Op, out tensor.Accessor, in ...tensor.Accessor) error {
	dst, ok := out.(*Accessor)
	if !ok || dst.b != h.b {
		return tensor.ErrNotHandled
	}
	n := dst.n
	if op.IsReduction() {
		if dst.n != 1 {
			return fmt.Errorf("%s: reduction output holds %d elements", op, dst.n)
		}
		n = in[0].Len()
	}
	if err := kernel.Check(op, dst.dt, n); err != nil {
		return err
	}

	held := []*Accessor{dst}
	ptrs := make([]unsafe.Pointer, len(in))
	for i, acc := range in {
		if acc.Len() != n {
			return fmt.Errorf("%s: input %d holds %d elements, want %d", op, i, acc.Len(), n)
		}
		if src, ok := acc.(*Accessor); ok && src.b == h.b {
			ptrs[i] = src.Pointer()
			held = append(held, src)
			continue
		}
		buf, err := cpu.Snapshot(acc)
		if err != nil {
			return fmt.Errorf("%s: input %d: %w", op, i, err)
		}
		handle, err := h.b.Tracker.Track(buf)
		if err != nil {
			return fmt.Errorf("%s: input %d: %w", op, i, err)
		}
		ptrs[i] = handle.Pointer
	}

	h.b.hold(held...)
	return h.b.Runtime.Submit(device.Instruction{
		Op:    op,
		DType: dst.dt,
		N:     n,
		Out:   dst.Pointer(),
		In:    ptrs,
	})
}
