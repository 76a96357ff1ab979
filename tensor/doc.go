// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides typed n-dimensional arrays whose storage and
// compute can be delegated to an accelerator runtime.
//
// # Basic Usage
//
//	a, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3})
//	b, _ := tensor.FromSlice([]float32{4, 5, 6}, tensor.Shape{3})
//	c, _ := tensor.Add(a, b)
//	s, _ := tensor.Sum(c)
//	v, _ := s.Data() // [21]
//
// # Supported Data Types
//
// The element set is closed: int8, int16, int32, int64, uint8, uint16,
// uint32, uint64, float32, float64, bool, complex64 and complex128.
//
// # Backends
//
// Every array is bound to an accessor when it is created. The accessor
// comes from the factory registered for its element type at that moment,
// so switching a type to the accelerator (see package accel) affects only
// arrays created afterwards. Operations are routed by the apply handlers:
// the accelerator handler takes operations whose output lives on the
// accelerator, everything else runs in process.
package tensor
