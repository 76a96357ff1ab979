package main

import (
	"unsafe"

	"github.com/born-ml/accel/internal/device"
)

func unsafeBytes(b []byte) unsafe.Pointer { return unsafe.Pointer(unsafe.SliceData(b)) }

func regionBytes(r *device.Region) []byte {
	return unsafe.Slice((*byte)(r.Ptr()), r.Size())
}
