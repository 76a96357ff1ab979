// Package pinned keeps managed buffers at a fixed address while accelerator
// instructions that reference them may still be pending.
package pinned

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/born-ml/accel/internal/metrics"
	"github.com/born-ml/accel/internal/tensor"
)

// ErrNotPinnable is returned for values that are not managed element buffers.
var ErrNotPinnable = errors.New("value is not a pinnable element buffer")

// Handle records one pinned buffer.
type Handle struct {
	ID      uuid.UUID
	Pointer unsafe.Pointer // first element, nil for an empty buffer
	Len     int
	DType   tensor.DataType

	buf any
}

// Buffer returns the pinned managed buffer.
func (h *Handle) Buffer() any {
	return h.buf
}

// Tracker holds pinned buffers until the next ReleaseAll.
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	pinner  runtime.Pinner
	handles []*Handle
	log     zerolog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(log zerolog.Logger) *Tracker {
	return &Tracker{log: log}
}

// Track pins buf and records it. The returned pointer stays valid and the
// buffer stays reachable until ReleaseAll.
func (t *Tracker) Track(buf any) (*Handle, error) {
	dt, n, ok := tensor.SliceInfo(buf)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotPinnable, buf)
	}
	h := &Handle{ID: uuid.New(), Len: n, DType: dt, buf: buf}

	t.mu.Lock()
	defer t.mu.Unlock()
	if n > 0 {
		h.Pointer = dataPointer(buf)
		t.pinner.Pin(h.Pointer)
	}
	t.handles = append(t.handles, h)
	metrics.PinnedHandles.Inc()
	return h, nil
}

// ReleaseAll unpins every tracked buffer and forgets it.
// It returns the number of handles released; calling it again is a no-op.
func (t *Tracker) ReleaseAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.handles)
	if n == 0 {
		return 0
	}
	t.pinner.Unpin()
	t.handles = nil

	metrics.PinnedHandles.Sub(float64(n))
	metrics.PinnedReleased.Add(float64(n))
	t.log.Debug().Int("handles", n).Msg("released pinned buffers")
	return n
}

// Len returns the number of tracked handles.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// Handles returns a copy of the tracked handles in tracking order.
func (t *Tracker) Handles() []*Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Handle(nil), t.handles...)
}

func dataPointer(buf any) unsafe.Pointer {
	switch s := buf.(type) {
	case []int8:
		return unsafe.Pointer(unsafe.SliceData(s))
	case []int16:
		return unsafe.Pointer(unsafe.SliceData(s))
	case []int32:
		return unsafe.Pointer(unsafe.SliceData(s))
	case []int64:
		return unsafe.Pointer(unsafe.SliceData(s))
	case []uint8:
		return unsafe.Pointer(unsafe.SliceData(s))
	case []uint16:
		return unsafe.Pointer(unsafe.SliceData(s))
	case []uint32:
		return unsafe.Pointer(unsafe.SliceData(s))
	case []uint64:
		return unsafe.Pointer(unsafe.SliceData(s))
	case []float32:
		return unsafe.Pointer(unsafe.SliceData(s))
	case []float64:
		return unsafe.Pointer(unsafe.SliceData(s))
	case []bool:
		return unsafe.Pointer(unsafe.SliceData(s))
	case []complex64:
		return unsafe.Pointer(unsafe.SliceData(s))
	case []complex128:
		return unsafe.Pointer(unsafe.SliceData(s))
	default:
		return nil
	}
}
