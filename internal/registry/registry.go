// Package registry switches element types between the default and the
// accelerator accessor factories.
//
// Writers are serialized by the registry; array creation reads the factory
// table's immutable snapshot and never blocks on a switch. A switch never
// affects arrays that already exist.
package registry

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/born-ml/accel/internal/marshal"
	"github.com/born-ml/accel/internal/metrics"
	"github.com/born-ml/accel/internal/tensor"
)

// ErrNoAccelerator is returned when activating before an accelerator
// factory has been set.
var ErrNoAccelerator = errors.New("no accelerator factory configured")

// FlushFunc releases pinned memory and drains pending accelerator work.
type FlushFunc func() error

// Registry owns the factory assignment of one FactoryTable.
type Registry struct {
	mu    sync.Mutex
	table *tensor.FactoryTable
	def   tensor.AccessorFactory
	accel tensor.AccessorFactory
	flush FlushFunc
	log   zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// New creates a registry over table. def is restored on deactivation and
// flush runs before every bulk switch; a nil flush does nothing.
func New(table *tensor.FactoryTable, def tensor.AccessorFactory, flush FlushFunc, opts ...Option) *Registry {
	if flush == nil {
		flush = func() error { return nil }
	}
	r := &Registry{table: table, def: def, flush: flush, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetAccelerator sets the factory installed by activation. Types already
// active keep the previous factory until activated again.
func (r *Registry) SetAccelerator(f tensor.AccessorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accel = f
}

// SetFlush replaces the flush run before bulk switches.
func (r *Registry) SetFlush(flush FlushFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if flush == nil {
		flush = func() error { return nil }
	}
	r.flush = flush
}

// Accelerator returns the configured accelerator factory, or nil.
func (r *Registry) Accelerator() tensor.AccessorFactory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accel
}

// Activate installs the accelerator factory for dt.
func (r *Registry) Activate(dt tensor.DataType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.accel == nil {
		return ErrNoAccelerator
	}
	return r.set(dt, r.accel)
}

// Deactivate restores the default factory for dt.
func (r *Registry) Deactivate(dt tensor.DataType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set(dt, r.def)
}

// ActivateAll flushes and then installs the accelerator factory for every
// element type. A failed flush leaves the table untouched; a failed switch
// restores the assignment found before the call.
func (r *Registry) ActivateAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.accel == nil {
		return ErrNoAccelerator
	}
	if err := r.flush(); err != nil {
		return fmt.Errorf("activate all: flush: %w", err)
	}
	if err := r.switchAll(tensor.AllDataTypes(), r.accel); err != nil {
		return fmt.Errorf("activate all: %w", err)
	}
	r.log.Info().Int("types", tensor.NumDataTypes).Msg("accelerator activated for all element types")
	return nil
}

// DeactivateAll flushes, restores the default factory for every element
// type and then runs a collection so accelerator storage held only through
// the previous assignment is reclaimed.
func (r *Registry) DeactivateAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flush(); err != nil {
		return fmt.Errorf("deactivate all: flush: %w", err)
	}
	if err := r.switchAll(tensor.AllDataTypes(), r.def); err != nil {
		return fmt.Errorf("deactivate all: %w", err)
	}
	runtime.GC()
	r.log.Info().Msg("default backend restored for all element types")
	return nil
}

// IsActive reports whether dt currently uses the accelerator factory.
func (r *Registry) IsActive(dt tensor.DataType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accel != nil && r.table.Get(dt) == r.accel
}

// Active lists the element types currently using the accelerator factory.
func (r *Registry) Active() []tensor.DataType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

func (r *Registry) activeLocked() []tensor.DataType {
	var out []tensor.DataType
	if r.accel == nil {
		return out
	}
	snap := r.table.Snapshot()
	for _, dt := range tensor.AllDataTypes() {
		if snap[dt] == r.accel {
			out = append(out, dt)
		}
	}
	return out
}

// switchAll installs f for every type in dts, rolling back on failure
// (must hold mu).
func (r *Registry) switchAll(dts []tensor.DataType, f tensor.AccessorFactory) error {
	snap := r.table.Snapshot()
	for _, dt := range dts {
		if err := r.set(dt, f); err != nil {
			r.table.Restore(snap)
			metrics.ActiveTypes.Set(float64(len(r.activeLocked())))
			r.log.Warn().Err(err).Msg("factory switch rolled back")
			return err
		}
	}
	return nil
}

// set installs f for dt (must hold mu).
func (r *Registry) set(dt tensor.DataType, f tensor.AccessorFactory) error {
	if !dt.IsValid() {
		return fmt.Errorf("%w: %s", marshal.ErrUnsupportedElementType, dt)
	}
	if err := r.table.Set(dt, f); err != nil {
		return err
	}
	metrics.Switches.WithLabelValues(f.Kind().String()).Inc()
	metrics.ActiveTypes.Set(float64(len(r.activeLocked())))
	r.log.Debug().Str("dtype", dt.String()).Str("backend", f.Kind().String()).Msg("factory switched")
	return nil
}
