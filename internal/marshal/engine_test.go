package marshal

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/accel/internal/metrics"
	"github.com/born-ml/accel/internal/tensor"
)

// region stands in for runtime-owned memory: a byte block addressed only
// through its base pointer.
func region(nbytes int) (unsafe.Pointer, []byte) {
	if nbytes == 0 {
		return nil, nil
	}
	mem := make([]byte, nbytes)
	return unsafe.Pointer(&mem[0]), mem
}

func fill[T any](s []T, next func() T) {
	for i := range s {
		s[i] = next()
	}
}

// sample returns a deterministic pseudo-random managed buffer for dt.
func sample(t *testing.T, dt tensor.DataType, n int) any {
	t.Helper()
	r := rand.New(rand.NewPCG(uint64(dt)+1, uint64(n)+1))
	buf, err := tensor.MakeSlice(dt, n)
	require.NoError(t, err)

	switch s := buf.(type) {
	case []int8:
		fill(s, func() int8 { return int8(r.Uint32()) })
	case []int16:
		fill(s, func() int16 { return int16(r.Uint32()) })
	case []int32:
		fill(s, func() int32 { return int32(r.Uint32()) })
	case []int64:
		fill(s, func() int64 { return int64(r.Uint64()) })
	case []uint8:
		fill(s, func() uint8 { return uint8(r.Uint32()) })
	case []uint16:
		fill(s, func() uint16 { return uint16(r.Uint32()) })
	case []uint32:
		fill(s, r.Uint32)
	case []uint64:
		fill(s, r.Uint64)
	case []float32:
		fill(s, func() float32 { return float32(r.NormFloat64()) })
	case []float64:
		fill(s, r.NormFloat64)
	case []bool:
		fill(s, func() bool { return r.IntN(2) == 1 })
	case []complex64:
		fill(s, func() complex64 { return complex(float32(r.NormFloat64()), float32(r.NormFloat64())) })
	case []complex128:
		fill(s, func() complex128 { return complex(r.NormFloat64(), r.NormFloat64()) })
	default:
		t.Fatalf("no sampler for %s", dt)
	}
	return buf
}

func engines() map[string]*Engine {
	return map[string]*Engine{
		"fast":    New(nil),
		"chunked": New(nil, WithoutFastPath()),
	}
}

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 999, 1000, 1001, 2500}
	for name, e := range engines() {
		for _, dt := range tensor.AllDataTypes() {
			for _, n := range sizes {
				src := sample(t, dt, n)
				ptr, _ := region(n * dt.Size())

				require.NoError(t, e.CopyOut(src, dt, ptr), "%s %s n=%d", name, dt, n)
				got, err := e.CopyIn(ptr, n, dt)
				require.NoError(t, err, "%s %s n=%d", name, dt, n)

				if diff := cmp.Diff(src, got); diff != "" {
					t.Errorf("%s %s n=%d round trip mismatch (-want +got):\n%s", name, dt, n, diff)
				}
			}
		}
	}
}

func TestFastAndChunkedAgree(t *testing.T) {
	fast := New(nil)
	chunked := New(nil, WithoutFastPath())
	const n = 2345

	for _, dt := range tensor.AllDataTypes() {
		src := sample(t, dt, n)
		p1, mem1 := region(n * dt.Size())
		p2, mem2 := region(n * dt.Size())

		require.NoError(t, fast.CopyOut(src, dt, p1))
		require.NoError(t, chunked.CopyOut(src, dt, p2))
		assert.Equal(t, mem1, mem2, "native bytes for %s", dt)

		in1, err := fast.CopyIn(p1, n, dt)
		require.NoError(t, err)
		in2, err := chunked.CopyIn(p1, n, dt)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(in1, in2), "managed values for %s", dt)
	}
}

func TestSmallChunkBoundaries(t *testing.T) {
	e := New(NoBulkCopy{}, WithChunkElements(7))
	assert.Equal(t, 7, e.ChunkElements())

	for _, n := range []int{6, 7, 8, 14, 20} {
		src := sample(t, tensor.Int16, n)
		ptr, mem := region(n * 2)
		require.NoError(t, e.CopyOut(src, tensor.Int16, ptr))

		s := src.([]int16)
		for i := range s {
			assert.Equal(t, uint16(s[i]), binary.NativeEndian.Uint16(mem[2*i:]), "n=%d i=%d", n, i)
		}

		got, err := CopyInAs[int16](e, ptr, n)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestComplexInterleaved(t *testing.T) {
	for name, e := range engines() {
		src := []complex64{complex(1, 2), complex(-3, 4.5)}
		ptr, mem := region(len(src) * 8)
		require.NoError(t, CopyOutFrom(e, src, ptr), name)

		floats := make([]float32, 4)
		for i := range floats {
			floats[i] = math.Float32frombits(binary.NativeEndian.Uint32(mem[4*i:]))
		}
		assert.Equal(t, []float32{1, 2, -3, 4.5}, floats, name)

		wide := []complex128{complex(0.25, -8)}
		wp, wmem := region(16)
		require.NoError(t, CopyOutFrom(e, wide, wp), name)
		assert.Equal(t, 0.25, math.Float64frombits(binary.NativeEndian.Uint64(wmem)))
		assert.Equal(t, -8.0, math.Float64frombits(binary.NativeEndian.Uint64(wmem[8:])))

		back, err := CopyInAs[complex128](e, wp, 1)
		require.NoError(t, err)
		assert.Equal(t, wide, back)
	}
}

func TestBoolEncoding(t *testing.T) {
	for name, e := range engines() {
		ptr, mem := region(3)
		require.NoError(t, CopyOutFrom(e, []bool{true, false, true}, ptr), name)
		assert.Equal(t, []byte{1, 0, 1}, mem, name)

		raw := []byte{0, 1, 2, 255}
		got, err := CopyInAs[bool](e, unsafe.Pointer(&raw[0]), len(raw))
		require.NoError(t, err, name)
		assert.Equal(t, []bool{false, true, true, true}, got, name)
	}
}

func TestUnsupportedElementTypeWritesNothing(t *testing.T) {
	e := New(nil)
	ptr, mem := region(16)
	for i := range mem {
		mem[i] = 0xAA
	}
	before := append([]byte(nil), mem...)

	for _, dt := range []tensor.DataType{-1, tensor.DataType(tensor.NumDataTypes), 99} {
		err := e.CopyOut([]int32{1, 2}, dt, ptr)
		assert.ErrorIs(t, err, ErrUnsupportedElementType)

		got, err := e.CopyIn(ptr, 2, dt)
		assert.ErrorIs(t, err, ErrUnsupportedElementType)
		assert.Nil(t, got)

		err = e.ReadInto(ptr, []int32{0, 0}, dt)
		assert.ErrorIs(t, err, ErrUnsupportedElementType)
	}
	assert.Equal(t, before, mem)
}

func TestBufferMismatch(t *testing.T) {
	e := New(nil)
	ptr, _ := region(8)

	assert.ErrorIs(t, e.CopyOut([]int32{1, 2}, tensor.Float32, ptr), ErrBufferMismatch)
	assert.ErrorIs(t, e.CopyOut("not a buffer", tensor.Int8, ptr), ErrBufferMismatch)
	assert.ErrorIs(t, e.ReadInto(ptr, []uint16{0}, tensor.Int16), ErrBufferMismatch)
}

func TestNilPointer(t *testing.T) {
	e := New(nil)
	assert.ErrorIs(t, e.CopyOut([]int8{1}, tensor.Int8, nil), ErrNilPointer)
	_, err := e.CopyIn(nil, 1, tensor.Int8)
	assert.ErrorIs(t, err, ErrNilPointer)

	// Empty copies never dereference.
	assert.NoError(t, e.CopyOut([]int8{}, tensor.Int8, nil))
	got, err := e.CopyIn(nil, 0, tensor.Complex64)
	require.NoError(t, err)
	assert.Equal(t, []complex64{}, got)
}

func TestReadIntoExistingBuffer(t *testing.T) {
	e := New(nil)
	src := []float64{1.5, -2, 3.25}
	ptr, _ := region(24)
	require.NoError(t, CopyOutFrom(e, src, ptr))

	dst := make([]float64, 3)
	require.NoError(t, e.ReadInto(ptr, dst, tensor.Float64))
	assert.Equal(t, src, dst)
}

func TestNativeCopierCoverage(t *testing.T) {
	var nc NativeCopier
	ptr, _ := region(64)

	assert.True(t, nc.CopyToPointer([]float32{1, 2}, ptr, 2))
	assert.True(t, nc.CopyFromPointer(ptr, make([]float32, 2), 2))
	assert.True(t, nc.CopyToPointer([]bool{true}, ptr, 1))

	assert.False(t, nc.CopyFromPointer(ptr, make([]bool, 1), 1))
	assert.False(t, nc.CopyToPointer([]complex64{1}, ptr, 1))
	assert.False(t, nc.CopyFromPointer(ptr, make([]complex128, 1), 1))
	assert.False(t, nc.CopyToPointer([]int8{1}, ptr, 2), "n beyond buffer")
}

func TestMetricsByPath(t *testing.T) {
	fastIn := metrics.MarshalCopies.WithLabelValues(metrics.DirectionIn, metrics.PathFast, "uint32")
	slowIn := metrics.MarshalCopies.WithLabelValues(metrics.DirectionIn, metrics.PathChunked, "uint32")
	slowOut := metrics.MarshalCopies.WithLabelValues(metrics.DirectionOut, metrics.PathChunked, "uint32")
	fastBefore, slowBefore, outBefore := testutil.ToFloat64(fastIn), testutil.ToFloat64(slowIn), testutil.ToFloat64(slowOut)

	ptr, _ := region(40)
	require.NoError(t, New(nil, WithoutFastPath()).CopyOut(make([]uint32, 10), tensor.Uint32, ptr))
	_, err := New(nil).CopyIn(ptr, 10, tensor.Uint32)
	require.NoError(t, err)
	_, err = New(nil, WithoutFastPath()).CopyIn(ptr, 10, tensor.Uint32)
	require.NoError(t, err)

	assert.Equal(t, fastBefore+1, testutil.ToFloat64(fastIn))
	assert.Equal(t, slowBefore+1, testutil.ToFloat64(slowIn))
	assert.Equal(t, outBefore+1, testutil.ToFloat64(slowOut))
}

func BenchmarkCopyIn(b *testing.B) {
	const n = 1 << 16
	src := make([]float32, n)
	ptr, _ := region(n * 4)
	for name, e := range engines() {
		require.NoError(b, e.CopyOut(src, tensor.Float32, ptr))
		b.Run(name, func(b *testing.B) {
			b.SetBytes(n * 4)
			for i := 0; i < b.N; i++ {
				if _, err := e.CopyIn(ptr, n, tensor.Float32); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
