package device

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/born-ml/accel/internal/kernel"
	"github.com/born-ml/accel/internal/marshal"
	"github.com/born-ml/accel/internal/metrics"
)

// HostName is the registered name of the host runtime.
const HostName = "host"

func init() {
	Register(HostName, func(opts Options) (Runtime, error) {
		return NewHost(opts), nil
	})
}

// executor runs an instruction on dedicated hardware. handled is false when
// the instruction is left to the host kernels.
type executor func(ins Instruction) (handled bool, err error)

// Stats describes the memory and queue of a runtime.
type Stats struct {
	Regions int
	Bytes   int
	Pending int
}

// Host is a runtime whose memory is anonymous mappings outside the Go heap
// and whose instructions run on the shared kernels at Sync.
type Host struct {
	marshal.NativeCopier

	name       string
	log        zerolog.Logger
	maxPending int
	accel      executor

	mu      sync.Mutex
	regions map[*Region]struct{}
	bytes   int
	queue   []Instruction
	closed  bool
}

// NewHost creates a host runtime.
func NewHost(opts Options) *Host {
	return &Host{
		name:       HostName,
		log:        opts.Logger,
		maxPending: opts.MaxPending,
		regions:    make(map[*Region]struct{}),
	}
}

// Name implements Runtime.
func (h *Host) Name() string { return h.name }

// Alloc implements Runtime.
func (h *Host) Alloc(nbytes int) (*Region, error) {
	if nbytes < 0 {
		return nil, fmt.Errorf("alloc: negative size %d", nbytes)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	r := &Region{}
	if nbytes > 0 {
		mem, err := mapAnon(nbytes)
		if err != nil {
			return nil, fmt.Errorf("alloc %d bytes: %w", nbytes, err)
		}
		r.mem = mem
	}
	h.regions[r] = struct{}{}
	h.bytes += nbytes
	return r, nil
}

// Free implements Runtime. Freeing after Close is a no-op since Close
// releases every region.
func (h *Host) Free(r *Region) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if _, ok := h.regions[r]; !ok {
		return ErrForeignRegion
	}
	return h.freeLocked(r)
}

func (h *Host) freeLocked(r *Region) error {
	delete(h.regions, r)
	mem := r.mem
	r.mem = nil
	h.bytes -= len(mem)
	if len(mem) == 0 {
		return nil
	}
	return unmap(mem)
}

// Submit implements Runtime.
func (h *Host) Submit(ins Instruction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if err := ins.Validate(); err != nil {
		return err
	}

	ins.In = slices.Clone(ins.In)
	h.queue = append(h.queue, ins)
	metrics.Instructions.WithLabelValues(ins.Op.String()).Inc()

	if h.maxPending > 0 && len(h.queue) >= h.maxPending {
		return h.syncLocked()
	}
	return nil
}

// Pending implements Runtime.
func (h *Host) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Sync implements Runtime. A closed runtime has nothing pending.
func (h *Host) Sync() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.syncLocked()
}

// syncLocked drains the queue (must hold mu). Every instruction runs even
// when an earlier one fails.
func (h *Host) syncLocked() error {
	if len(h.queue) == 0 {
		return nil
	}
	queue := h.queue
	h.queue = nil

	var errs []error
	for i, ins := range queue {
		if err := h.execute(ins); err != nil {
			errs = append(errs, fmt.Errorf("instruction %d (%s %s): %w", i, ins.Op, ins.DType, err))
		}
	}
	h.log.Debug().Int("instructions", len(queue)).Int("failed", len(errs)).Msg("runtime synced")
	return errors.Join(errs...)
}

func (h *Host) execute(ins Instruction) error {
	if h.accel != nil {
		if handled, err := h.accel(ins); handled {
			return err
		}
	}

	out, err := kernel.View(ins.DType, ins.Out, ins.OutLen())
	if err != nil {
		return err
	}
	in := make([]any, len(ins.In))
	for i, p := range ins.In {
		if in[i], err = kernel.View(ins.DType, p, ins.N); err != nil {
			return err
		}
	}
	return kernel.Exec(ins.Op, out, in...)
}

// Stats returns the current region and queue counts.
func (h *Host) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Regions: len(h.regions), Bytes: h.bytes, Pending: len(h.queue)}
}

// Close implements Runtime. It runs the pending queue and releases every
// region; accessors still referencing them become unusable.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	errs := []error{h.syncLocked()}
	for r := range h.regions {
		errs = append(errs, h.freeLocked(r))
	}
	h.closed = true
	h.log.Info().Str("runtime", h.name).Msg("accelerator runtime closed")
	return errors.Join(errs...)
}

// Closed reports whether Close has been called.
func (h *Host) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
