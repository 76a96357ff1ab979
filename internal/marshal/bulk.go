package marshal

import (
	"unsafe"
)

// BulkCopier is the fast-path primitive offered by an accelerator runtime:
// a byte-for-byte copy between unmanaged memory and a managed buffer.
// A false return means the request is not handled and the engine must fall
// back to the chunked path; nothing has been written in that case.
type BulkCopier interface {
	// CopyFromPointer copies n elements from src into the managed buffer dst.
	CopyFromPointer(src unsafe.Pointer, dst any, n int) bool
	// CopyToPointer copies n elements of the managed buffer src to dst.
	CopyToPointer(src any, dst unsafe.Pointer, n int) bool
}

// NativeCopier handles every type whose managed layout is bit-identical to
// the native one: fixed-width integers and floats in both directions, and
// bool when writing to native memory. Complex types are left to the codecs.
type NativeCopier struct{}

// CopyFromPointer implements BulkCopier.
func (NativeCopier) CopyFromPointer(src unsafe.Pointer, dst any, n int) bool {
	// A native byte other than 0 or 1 must not land in a Go bool.
	if _, ok := dst.([]bool); ok {
		return false
	}
	b, ok := scalarBytes(dst, n)
	if !ok {
		return false
	}
	copy(b, unsafe.Slice((*byte)(src), len(b)))
	return true
}

// CopyToPointer implements BulkCopier.
func (NativeCopier) CopyToPointer(src any, dst unsafe.Pointer, n int) bool {
	b, ok := scalarBytes(src, n)
	if !ok {
		return false
	}
	copy(unsafe.Slice((*byte)(dst), len(b)), b)
	return true
}

// NoBulkCopy declines every request, forcing the chunked path.
type NoBulkCopy struct{}

// CopyFromPointer implements BulkCopier.
func (NoBulkCopy) CopyFromPointer(unsafe.Pointer, any, int) bool { return false }

// CopyToPointer implements BulkCopier.
func (NoBulkCopy) CopyToPointer(any, unsafe.Pointer, int) bool { return false }

// scalarBytes exposes the first n elements of a scalar managed buffer as raw
// bytes without copying.
func scalarBytes(buf any, n int) ([]byte, bool) {
	switch s := buf.(type) {
	case []int8:
		return asBytes(s, n)
	case []int16:
		return asBytes(s, n)
	case []int32:
		return asBytes(s, n)
	case []int64:
		return asBytes(s, n)
	case []uint8:
		return asBytes(s, n)
	case []uint16:
		return asBytes(s, n)
	case []uint32:
		return asBytes(s, n)
	case []uint64:
		return asBytes(s, n)
	case []float32:
		return asBytes(s, n)
	case []float64:
		return asBytes(s, n)
	case []bool:
		return asBytes(s, n)
	default:
		return nil, false
	}
}

func asBytes[T any](s []T, n int) ([]byte, bool) {
	if n < 0 || n > len(s) {
		return nil, false
	}
	if n == 0 {
		return []byte{}, true
	}
	var zero T
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked against len(s)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), n*int(unsafe.Sizeof(zero))), true
}
