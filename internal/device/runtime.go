// Package device defines the accelerator runtime consumed by the bridge and
// its implementations.
//
// A runtime owns unmanaged, host-addressable memory regions and a queue of
// instructions over them. Execution may be deferred until Sync.
package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/born-ml/accel/internal/marshal"
	"github.com/born-ml/accel/internal/tensor"
)

var (
	// ErrBackendUnreachable is returned when a runtime cannot be opened.
	ErrBackendUnreachable = errors.New("accelerator runtime unreachable")

	// ErrClosed is returned by operations on a closed runtime.
	ErrClosed = errors.New("runtime closed")

	// ErrForeignRegion is returned when freeing a region owned by another
	// runtime or already freed.
	ErrForeignRegion = errors.New("region not owned by runtime")

	// ErrBadInstruction is returned by Submit for malformed instructions.
	ErrBadInstruction = errors.New("malformed instruction")
)

// Region is a block of unmanaged memory owned by a runtime.
type Region struct {
	mem []byte
}

// Ptr returns the address of the first byte, or nil for an empty region.
func (r *Region) Ptr() unsafe.Pointer {
	if len(r.mem) == 0 {
		return nil
	}
	return unsafe.Pointer(unsafe.SliceData(r.mem))
}

// Size returns the region size in bytes.
func (r *Region) Size() int {
	return len(r.mem)
}

// Instruction is one queued operation over runtime-visible memory.
//
// Every input holds N elements of DType. Out holds N elements, or one for
// reductions. Inputs may point at pinned managed memory.
type Instruction struct {
	Op    tensor.Op
	DType tensor.DataType
	N     int
	Out   unsafe.Pointer
	In    []unsafe.Pointer
}

// Validate checks the shape of the instruction, not the memory it names.
func (ins Instruction) Validate() error {
	switch {
	case !ins.DType.IsValid():
		return fmt.Errorf("%w: unknown data type %d", ErrBadInstruction, int(ins.DType))
	case ins.N < 0:
		return fmt.Errorf("%w: negative length %d", ErrBadInstruction, ins.N)
	case len(ins.In) != ins.Op.Arity():
		return fmt.Errorf("%w: %s takes %d inputs, got %d", ErrBadInstruction, ins.Op, ins.Op.Arity(), len(ins.In))
	}
	if ins.N == 0 && !ins.Op.IsReduction() {
		return nil
	}
	if ins.Out == nil {
		return fmt.Errorf("%w: nil output", ErrBadInstruction)
	}
	for i, p := range ins.In {
		if p == nil && ins.N > 0 {
			return fmt.Errorf("%w: nil input %d", ErrBadInstruction, i)
		}
	}
	return nil
}

// OutLen returns the number of output elements.
func (ins Instruction) OutLen() int {
	if ins.Op.IsReduction() {
		return 1
	}
	return ins.N
}

// Runtime is an accelerator runtime as seen from the bridge.
type Runtime interface {
	marshal.BulkCopier

	Name() string

	// Alloc returns a zeroed region of nbytes.
	Alloc(nbytes int) (*Region, error)
	// Free returns a region to the runtime.
	Free(r *Region) error

	// Submit queues ins. The runtime may execute it at any later point up
	// to the next Sync.
	Submit(ins Instruction) error
	// Pending returns the number of queued, unexecuted instructions.
	Pending() int
	// Sync executes every queued instruction.
	Sync() error

	// Stats reports live regions and queued instructions.
	Stats() Stats

	// Close syncs and releases the runtime and its regions. Alloc and Submit
	// fail with ErrClosed afterwards.
	Close() error
}

// Options configure a runtime at open time.
type Options struct {
	// MaxPending triggers an automatic Sync once that many instructions are
	// queued. Zero means unbounded.
	MaxPending int
	// LibraryPath points at the native library a runtime may need.
	LibraryPath string
	Logger      zerolog.Logger
}

// Constructor opens a runtime.
type Constructor func(opts Options) (Runtime, error)

var (
	constructorsMu sync.RWMutex
	constructors   = map[string]Constructor{}
)

// Register makes a runtime available to Open under name.
func Register(name string, c Constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[name] = c
}

// Names lists the registered runtimes in sorted order.
func Names() []string {
	constructorsMu.RLock()
	defer constructorsMu.RUnlock()
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open opens the runtime registered under name.
func Open(name string, opts Options) (Runtime, error) {
	constructorsMu.RLock()
	c, ok := constructors[name]
	constructorsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown runtime %q (have %v)", ErrBackendUnreachable, name, Names())
	}

	rt, err := c(opts)
	if err != nil {
		if errors.Is(err, ErrBackendUnreachable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnreachable, name, err)
	}
	opts.Logger.Info().Str("runtime", rt.Name()).Int("max_pending", opts.MaxPending).Msg("accelerator runtime opened")
	return rt, nil
}
