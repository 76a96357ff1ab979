// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package accel switches array storage and compute between the in-process
// backend and an accelerator runtime.
//
// The process-wide controller is created on first use from the ACCEL_*
// environment (see Configure to supply a configuration instead):
//
//	if err := accel.ActivateAll(); err != nil {
//		log.Fatal(err)
//	}
//	defer accel.Shutdown()
//
//	a, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3})
//	s, _ := tensor.Sum(a) // runs on the accelerator
//
// Arrays keep the backend they were created with. Shutdown must be called
// before the process exits so queued work is executed and pinned buffers
// are released.
package accel

import (
	"errors"
	"os"
	"sync"

	"github.com/born-ml/accel/internal/config"
	"github.com/born-ml/accel/internal/device"
	"github.com/born-ml/accel/internal/lifecycle"
	"github.com/born-ml/accel/internal/logging"
	"github.com/born-ml/accel/internal/marshal"
	"github.com/born-ml/accel/internal/tensor"

	// Installs the in-process factories before anything is switched.
	_ "github.com/born-ml/accel/internal/backend/cpu"
)

// Config holds the bridge parameters.
type Config = config.Config

// State is the process-level activation state.
type State = lifecycle.State

// Activation states.
const (
	Inactive = lifecycle.Inactive
	Active   = lifecycle.Active
)

// Errors reported by the bridge.
var (
	ErrBackendUnreachable     = device.ErrBackendUnreachable
	ErrUnsupportedElementType = marshal.ErrUnsupportedElementType
	ErrShutdown               = lifecycle.ErrShutdown
	// ErrActive is returned by Configure while the accelerator is active.
	ErrActive = errors.New("accelerator is active")
)

var (
	mu   sync.Mutex
	ctrl *lifecycle.Controller
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a .yaml, .json or .toml configuration file.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Configure replaces the process-wide controller. The previous one, if any,
// is shut down. It fails while the accelerator is active.
func Configure(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if ctrl != nil && ctrl.State() == lifecycle.Active {
		return ErrActive
	}
	next, err := newController(cfg)
	if err != nil {
		return err
	}
	if ctrl != nil {
		_ = ctrl.Shutdown()
	}
	ctrl = next
	return nil
}

func newController(cfg Config) (*lifecycle.Controller, error) {
	return lifecycle.New(cfg, lifecycle.WithLogger(logging.New(cfg.LogLevel, os.Stderr)))
}

// controller returns the process-wide controller, creating it from the
// environment on first use.
func controller() (*lifecycle.Controller, error) {
	mu.Lock()
	defer mu.Unlock()
	if ctrl != nil {
		return ctrl, nil
	}
	boot := logging.New(os.Getenv(config.EnvLogLevel), os.Stderr)
	cfg, err := config.FromEnv(boot)
	if err != nil {
		return nil, err
	}
	c, err := newController(cfg)
	if err != nil {
		return nil, err
	}
	ctrl = c
	return ctrl, nil
}

// ActivateAll routes every element type to the accelerator.
func ActivateAll() error {
	c, err := controller()
	if err != nil {
		return err
	}
	return c.ActivateAll()
}

// DeactivateAll routes every element type back to the in-process backend.
func DeactivateAll() error {
	c, err := controller()
	if err != nil {
		return err
	}
	return c.DeactivateAll()
}

// Activate routes arrays of one element type to the accelerator.
func Activate(dt tensor.DataType) error {
	c, err := controller()
	if err != nil {
		return err
	}
	return c.Activate(dt)
}

// Deactivate routes arrays of one element type back to the in-process
// backend.
func Deactivate(dt tensor.DataType) error {
	c, err := controller()
	if err != nil {
		return err
	}
	return c.Deactivate(dt)
}

// Flush executes queued accelerator work and releases pinned buffers.
func Flush() error {
	c, err := controller()
	if err != nil {
		return err
	}
	return c.Flush()
}

// Shutdown flushes, deactivates and closes the runtime. It is idempotent and
// does nothing if the bridge was never used.
func Shutdown() error {
	mu.Lock()
	c := ctrl
	mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Shutdown()
}

// CurrentState reports whether the accelerator is active.
func CurrentState() State {
	mu.Lock()
	c := ctrl
	mu.Unlock()
	if c == nil {
		return Inactive
	}
	return c.State()
}

// IsActive reports whether arrays of dt are created on the accelerator.
func IsActive(dt tensor.DataType) bool {
	mu.Lock()
	c := ctrl
	mu.Unlock()
	return c != nil && c.Registry().IsActive(dt)
}

// Runtimes lists the runtimes that can be opened in this build.
func Runtimes() []string { return device.Names() }
