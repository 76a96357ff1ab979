// Package marshal copies typed element buffers between managed Go memory and
// unmanaged accelerator memory.
//
// Every copy first offers the request to a BulkCopier (the fast path). When
// that declines, the engine falls back to a chunked path that moves at most
// ChunkElements elements at a time through a reusable scratch buffer and
// converts each element with the native byte order.
package marshal

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/born-ml/accel/internal/metrics"
	"github.com/born-ml/accel/internal/tensor"
)

// ChunkElements is the default number of elements per fallback chunk.
const ChunkElements = 1000

var (
	// ErrUnsupportedElementType is returned for a DataType outside the
	// supported set. Nothing is written when it is returned.
	ErrUnsupportedElementType = errors.New("unsupported element type")

	// ErrBufferMismatch is returned when a managed buffer is not a []T of the
	// requested DataType or is shorter than the element count.
	ErrBufferMismatch = errors.New("managed buffer does not match element type")

	// ErrNilPointer is returned when a non-empty copy targets a nil pointer.
	ErrNilPointer = errors.New("nil unmanaged pointer")
)

// Engine performs typed copies. It is safe for concurrent use.
type Engine struct {
	bulk  BulkCopier
	chunk int
	log   zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithChunkElements sets the fallback chunk size. Values below 1 are ignored.
func WithChunkElements(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunk = n
		}
	}
}

// WithLogger sets the logger used for fallback diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithoutFastPath makes every copy take the chunked path.
func WithoutFastPath() Option {
	return func(e *Engine) { e.bulk = NoBulkCopy{} }
}

// New creates an engine using bulk for the fast path.
// A nil bulk copier selects NativeCopier.
func New(bulk BulkCopier, opts ...Option) *Engine {
	if bulk == nil {
		bulk = NativeCopier{}
	}
	e := &Engine{
		bulk:  bulk,
		chunk: ChunkElements,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ChunkElements returns the configured fallback chunk size.
func (e *Engine) ChunkElements() int {
	return e.chunk
}

// CopyIn reads n elements of dt from src into a fresh managed []T.
// For n == 0 it returns an empty buffer without touching src.
func (e *Engine) CopyIn(src unsafe.Pointer, n int, dt tensor.DataType) (any, error) {
	c, err := lookup(dt)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("copy in %s: negative length %d", dt, n)
	}
	dst, err := tensor.MakeSlice(dt, n)
	if err != nil {
		return nil, err
	}
	if err := e.copyIn(c, dt, src, dst, n); err != nil {
		return nil, err
	}
	return dst, nil
}

// ReadInto reads len(dst) elements of dt from src into the managed buffer dst.
func (e *Engine) ReadInto(src unsafe.Pointer, dst any, dt tensor.DataType) error {
	c, err := lookup(dt)
	if err != nil {
		return err
	}
	n, err := bufferLen(dst, dt)
	if err != nil {
		return err
	}
	return e.copyIn(c, dt, src, dst, n)
}

// CopyOut writes every element of the managed buffer src, of type dt, to dst.
// The caller guarantees dst has room for len(src) elements.
func (e *Engine) CopyOut(src any, dt tensor.DataType, dst unsafe.Pointer) error {
	c, err := lookup(dt)
	if err != nil {
		return err
	}
	n, err := bufferLen(src, dt)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if dst == nil {
		return ErrNilPointer
	}

	if e.bulk.CopyToPointer(src, dst, n) {
		record(metrics.DirectionOut, metrics.PathFast, dt, n*c.width)
		return nil
	}

	e.log.Debug().Str("dtype", dt.String()).Int("n", n).Msg("copy out: chunked path")
	chunk := min(e.chunk, n)
	scratch := make([]byte, chunk*c.width)
	for done := 0; done < n; {
		items := min(chunk, n-done)
		nbytes := items * c.width
		c.encode(src, done, scratch[:nbytes], items)
		//nolint:gosec // caller guarantees dst spans n elements
		copy(unsafe.Slice((*byte)(dst), nbytes), scratch[:nbytes])
		dst = unsafe.Add(dst, nbytes)
		done += items
	}
	record(metrics.DirectionOut, metrics.PathChunked, dt, n*c.width)
	return nil
}

func (e *Engine) copyIn(c codec, dt tensor.DataType, src unsafe.Pointer, dst any, n int) error {
	if n == 0 {
		return nil
	}
	if src == nil {
		return ErrNilPointer
	}

	if e.bulk.CopyFromPointer(src, dst, n) {
		record(metrics.DirectionIn, metrics.PathFast, dt, n*c.width)
		return nil
	}

	e.log.Debug().Str("dtype", dt.String()).Int("n", n).Msg("copy in: chunked path")
	chunk := min(e.chunk, n)
	scratch := make([]byte, chunk*c.width)
	for done := 0; done < n; {
		items := min(chunk, n-done)
		nbytes := items * c.width
		//nolint:gosec // caller guarantees src spans n elements
		copy(scratch[:nbytes], unsafe.Slice((*byte)(src), nbytes))
		c.decode(dst, done, scratch[:nbytes], items)
		src = unsafe.Add(src, nbytes)
		done += items
	}
	record(metrics.DirectionIn, metrics.PathChunked, dt, n*c.width)
	return nil
}

// CopyInAs is the typed form of Engine.CopyIn.
func CopyInAs[T tensor.Element](e *Engine, src unsafe.Pointer, n int) ([]T, error) {
	buf, err := e.CopyIn(src, n, tensor.DataTypeOf[T]())
	if err != nil {
		return nil, err
	}
	return buf.([]T), nil
}

// CopyOutFrom is the typed form of Engine.CopyOut.
func CopyOutFrom[T tensor.Element](e *Engine, src []T, dst unsafe.Pointer) error {
	return e.CopyOut(src, tensor.DataTypeOf[T](), dst)
}

func lookup(dt tensor.DataType) (codec, error) {
	if !dt.IsValid() {
		return codec{}, fmt.Errorf("%w: %s", ErrUnsupportedElementType, dt)
	}
	return codecs[dt], nil
}

func bufferLen(buf any, dt tensor.DataType) (int, error) {
	got, n, ok := tensor.SliceInfo(buf)
	if !ok || got != dt {
		return 0, fmt.Errorf("%w: %T for %s", ErrBufferMismatch, buf, dt)
	}
	return n, nil
}

func record(direction, path string, dt tensor.DataType, nbytes int) {
	metrics.MarshalCopies.WithLabelValues(direction, path, dt.String()).Inc()
	metrics.MarshalBytes.WithLabelValues(direction).Add(float64(nbytes))
}
