// Package lifecycle activates and deactivates the accelerator for a whole
// process and guarantees a final flush at shutdown.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/born-ml/accel/internal/backend/accel"
	"github.com/born-ml/accel/internal/backend/cpu"
	"github.com/born-ml/accel/internal/config"
	"github.com/born-ml/accel/internal/device"
	"github.com/born-ml/accel/internal/marshal"
	"github.com/born-ml/accel/internal/metrics"
	"github.com/born-ml/accel/internal/pinned"
	"github.com/born-ml/accel/internal/registry"
	"github.com/born-ml/accel/internal/tensor"
)

// ErrShutdown is returned by activation after Shutdown.
var ErrShutdown = errors.New("accelerator shut down")

// State is the process-level activation state.
type State int

// Controller states.
const (
	Inactive State = iota
	Active
)

// String returns the state name.
func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// Opener opens the accelerator runtime.
type Opener func(name string, opts device.Options) (device.Runtime, error)

// Controller drives the registry, the apply handler and the runtime.
// All methods are safe for concurrent use and serialized.
type Controller struct {
	mu sync.Mutex

	cfg      config.Config
	log      zerolog.Logger
	table    *tensor.FactoryTable
	dispatch *tensor.ApplyManager
	open     Opener

	tracker  *pinned.Tracker
	registry *registry.Registry
	backend  *accel.Backend

	state       State
	arranged    bool
	shut        bool
	stopSignals func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithTable makes the controller switch table instead of tensor.Factories.
func WithTable(t *tensor.FactoryTable) Option {
	return func(c *Controller) { c.table = t }
}

// WithDispatch makes the controller register its handler on m instead of
// tensor.Dispatch.
func WithDispatch(m *tensor.ApplyManager) Option {
	return func(c *Controller) { c.dispatch = m }
}

// WithOpener replaces device.Open.
func WithOpener(open Opener) Option {
	return func(c *Controller) { c.open = open }
}

// New creates an inactive controller. The runtime is not opened until the
// first activation.
func New(cfg config.Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c := &Controller{
		cfg:      cfg,
		log:      zerolog.Nop(),
		table:    tensor.Factories,
		dispatch: tensor.Dispatch,
		open:     device.Open,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tracker = pinned.NewTracker(c.log)
	c.registry = registry.New(c.table, cpu.DefaultFactory, c.flushLocked, registry.WithLogger(c.log))
	return c, nil
}

// State returns the current activation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the configuration the controller was built with.
func (c *Controller) Config() config.Config { return c.cfg }

// Registry returns the activation registry.
func (c *Controller) Registry() *registry.Registry { return c.registry }

// Tracker returns the pinned buffer tracker.
func (c *Controller) Tracker() *pinned.Tracker { return c.tracker }

// Runtime returns the open runtime, or nil before the first activation.
func (c *Controller) Runtime() device.Runtime {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil
	}
	return c.backend.Runtime
}

// ActivateAll routes every element type to the accelerator. The runtime is
// opened and flushed first, so configuration errors surface here.
func (c *Controller) ActivateAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.prepareLocked(); err != nil {
		return err
	}
	if err := c.registry.ActivateAll(); err != nil {
		return err
	}
	c.enableLocked()
	c.log.Info().Str("runtime", c.backend.Runtime.Name()).Msg("accelerator active")
	return nil
}

// Activate routes one element type to the accelerator.
func (c *Controller) Activate(dt tensor.DataType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.prepareLocked(); err != nil {
		return err
	}
	if err := c.registry.Activate(dt); err != nil {
		return err
	}
	c.enableLocked()
	return nil
}

// Deactivate restores the default factory for one element type. Arrays
// already created on the accelerator keep working. When no type is left on
// the accelerator the apply handler is unregistered and the state becomes
// Inactive.
func (c *Controller) Deactivate(dt tensor.DataType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.registry.Deactivate(dt); err != nil {
		return err
	}
	if c.state == Active && len(c.registry.Active()) == 0 {
		c.disableLocked()
	}
	return nil
}

// DeactivateAll flushes, restores the default factory for every element
// type, unregisters the apply handler and requests a full collection. The
// runtime stays open since arrays created while active still use it.
func (c *Controller) DeactivateAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deactivateLocked()
}

func (c *Controller) deactivateLocked() error {
	if err := c.registry.DeactivateAll(); err != nil {
		return err
	}
	c.disableLocked()
	runtime.GC()
	debug.FreeOSMemory()
	c.log.Info().Msg("accelerator inactive")
	return nil
}

// Flush executes pending accelerator work and releases every pinned
// buffer. With nothing pinned and no runtime open it does nothing.
func (c *Controller) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *Controller) flushLocked() error {
	var err error
	if c.backend != nil {
		err = c.backend.Flush()
	} else {
		c.tracker.ReleaseAll()
	}
	if err != nil {
		metrics.Flushes.WithLabelValues("error").Inc()
		return fmt.Errorf("flush: %w", err)
	}
	metrics.Flushes.WithLabelValues("ok").Inc()
	return nil
}

// Shutdown flushes, deactivates when active and closes the runtime.
// It is idempotent; the embedding application must call it before exit.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shut {
		return nil
	}
	c.shut = true
	if c.stopSignals != nil {
		c.stopSignals()
	}

	var errs []error
	if err := c.flushLocked(); err != nil {
		errs = append(errs, err)
	}
	if c.state == Active {
		if err := c.deactivateLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.backend != nil {
		if err := c.backend.Runtime.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close runtime: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		c.log.Error().Err(err).Msg("accelerator shutdown")
		return err
	}
	c.log.Info().Msg("accelerator shut down")
	return nil
}

// prepareLocked opens the runtime on first use and wires it into the
// registry.
func (c *Controller) prepareLocked() error {
	if c.shut {
		return ErrShutdown
	}
	if c.backend != nil {
		return nil
	}

	rt, err := c.open(c.cfg.Runtime, device.Options{
		MaxPending:  c.cfg.MaxPending,
		LibraryPath: c.cfg.LibraryPath,
		Logger:      c.log,
	})
	if err != nil {
		if !errors.Is(err, device.ErrBackendUnreachable) {
			err = fmt.Errorf("%w: %w", device.ErrBackendUnreachable, err)
		}
		return err
	}

	opts := []marshal.Option{
		marshal.WithChunkElements(c.cfg.ChunkElements),
		marshal.WithLogger(c.log),
	}
	if c.cfg.DisableFastPath {
		opts = append(opts, marshal.WithoutFastPath())
	}
	c.backend = accel.New(rt, marshal.New(rt, opts...), c.tracker, c.log)
	c.registry.SetAccelerator(c.backend.Factory())
	return nil
}

// disableLocked unregisters the apply handler.
func (c *Controller) disableLocked() {
	if c.backend != nil {
		c.dispatch.UnregisterHandler(c.backend.Handler())
	}
	c.state = Inactive
}

// enableLocked registers the apply handler and arranges the shutdown hook.
func (c *Controller) enableLocked() {
	c.dispatch.RegisterHandler(c.backend.Handler())
	c.state = Active
	if c.arranged {
		return
	}
	c.arranged = true
	if c.cfg.ShutdownOnSignal {
		c.stopSignals = c.watchSignals()
	}
}

// watchSignals shuts down on SIGINT or SIGTERM and then re-delivers the
// signal with its default disposition.
func (c *Controller) watchSignals() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-ch:
			c.log.Warn().Str("signal", sig.String()).Msg("shutting down accelerator on signal")
			_ = c.Shutdown()
			signal.Reset(sig)
			p, err := os.FindProcess(os.Getpid())
			if err == nil {
				err = p.Signal(sig)
			}
			if err != nil {
				os.Exit(1)
			}
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}
