package accel

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/accel/internal/backend/cpu"
	"github.com/born-ml/accel/internal/device"
	"github.com/born-ml/accel/internal/kernel"
	"github.com/born-ml/accel/internal/marshal"
	"github.com/born-ml/accel/internal/pinned"
	"github.com/born-ml/accel/internal/tensor"
)

func newBackend(t *testing.T) (*Backend, *device.Host) {
	t.Helper()
	rt := device.NewHost(device.Options{Logger: zerolog.Nop()})
	b := New(rt, marshal.New(rt), pinned.NewTracker(zerolog.Nop()), zerolog.Nop())
	t.Cleanup(func() {
		_ = b.Flush()
		_ = rt.Close()
	})
	return b, rt
}

func upload(t *testing.T, b *Backend, data any) *Accessor {
	t.Helper()
	dt, n, ok := tensor.SliceInfo(data)
	require.True(t, ok)
	acc, err := b.Factory().New(dt, n)
	require.NoError(t, err)
	require.NoError(t, acc.Write(data))
	return acc.(*Accessor)
}

func download[T tensor.Element](t *testing.T, acc tensor.Accessor) []T {
	t.Helper()
	out := make([]T, acc.Len())
	require.NoError(t, acc.Read(out))
	return out
}

func TestFactoryRoundTrip(t *testing.T) {
	b, _ := newBackend(t)
	assert.Equal(t, tensor.AcceleratorBackend, b.Factory().Kind())

	acc := upload(t, b, []complex64{complex(1, -1), complex(0.5, 2)})
	assert.Equal(t, tensor.AcceleratorBackend, acc.Backend())
	assert.NotNil(t, acc.Pointer())
	assert.Equal(t, []complex64{complex(1, -1), complex(0.5, 2)}, download[complex64](t, acc))

	flags := upload(t, b, []bool{true, false, true})
	assert.Equal(t, []bool{true, false, true}, download[bool](t, flags))

	empty, err := b.Factory().New(tensor.Uint64, 0)
	require.NoError(t, err)
	assert.Empty(t, download[uint64](t, empty))
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	b, _ := newBackend(t)
	_, err := b.Factory().New(tensor.DataType(31), 4)
	assert.ErrorIs(t, err, marshal.ErrUnsupportedElementType)
}

func TestAccessorBufferChecks(t *testing.T) {
	b, _ := newBackend(t)
	acc := upload(t, b, []int32{1, 2})
	assert.ErrorIs(t, acc.Read(make([]int32, 3)), marshal.ErrBufferMismatch)
	assert.ErrorIs(t, acc.Write([]float32{1, 2}), marshal.ErrBufferMismatch)
}

func TestHandlerQueuesUntilRead(t *testing.T) {
	b, rt := newBackend(t)
	x := upload(t, b, []float32{1, 2, 3})
	y := upload(t, b, []float32{0.5, 0.5, 0.5})
	out := upload(t, b, make([]float32, 3))

	require.NoError(t, b.Handler().Apply(tensor.OpSub, out, x, y))
	assert.Equal(t, 1, rt.Pending())
	assert.Zero(t, b.Tracker.Len(), "accelerator inputs are not pinned")

	assert.Equal(t, []float32{0.5, 1.5, 2.5}, download[float32](t, out))
	assert.Zero(t, rt.Pending())
}

func TestHandlerPinsManagedInputs(t *testing.T) {
	b, _ := newBackend(t)
	host, err := cpu.DefaultFactory.New(tensor.Int64, 4)
	require.NoError(t, err)
	require.NoError(t, host.Write([]int64{1, 2, 3, 4}))
	out := upload(t, b, make([]int64, 1))

	require.NoError(t, b.Handler().Apply(tensor.OpSum, out, host))
	assert.Equal(t, 1, b.Tracker.Len())

	require.NoError(t, b.Flush())
	assert.Zero(t, b.Tracker.Len())
	assert.Equal(t, []int64{10}, download[int64](t, out))
}

func TestHandlerSnapshotsManagedInputs(t *testing.T) {
	b, rt := newBackend(t)
	a, err := cpu.DefaultFactory.New(tensor.Float64, 3)
	require.NoError(t, err)
	require.NoError(t, a.Write([]float64{1, 2, 3}))
	c, err := cpu.DefaultFactory.New(tensor.Float64, 3)
	require.NoError(t, err)
	require.NoError(t, c.Write([]float64{10, 20, 30}))
	out := upload(t, b, make([]float64, 3))

	require.NoError(t, b.Handler().Apply(tensor.OpAdd, out, a, c))
	require.Equal(t, 1, rt.Pending())

	// Overwrite a host input while the add is still queued.
	require.NoError(t, a.Write([]float64{100, 200, 300}))
	require.NoError(t, cpu.DefaultHandler.Apply(tensor.OpMul, c, c, c))

	assert.Equal(t, []float64{11, 22, 33}, download[float64](t, out))
}

func TestHandlerDeclinesHostOutput(t *testing.T) {
	b, _ := newBackend(t)
	x := upload(t, b, []uint8{1})
	host, err := cpu.DefaultFactory.New(tensor.Uint8, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, b.Handler().Apply(tensor.OpAdd, host, x, x), tensor.ErrNotHandled)

	other, _ := newBackend(t)
	foreign := upload(t, other, []uint8{0})
	assert.ErrorIs(t, b.Handler().Apply(tensor.OpAdd, foreign, x, x), tensor.ErrNotHandled)
}

func TestHandlerRejectsUnsupportedOpsEagerly(t *testing.T) {
	b, rt := newBackend(t)
	flags := upload(t, b, []bool{true})
	assert.ErrorIs(t, b.Handler().Apply(tensor.OpAdd, flags, flags, flags), kernel.ErrUnsupportedOp)

	empty := upload(t, b, []int8{})
	one := upload(t, b, []int8{0})
	assert.ErrorIs(t, b.Handler().Apply(tensor.OpMax, one, empty), kernel.ErrEmptyReduction)
	assert.Zero(t, rt.Pending())
}

func TestFlushReportsDeferredErrors(t *testing.T) {
	b, _ := newBackend(t)
	x := upload(t, b, []int16{4})
	zero := upload(t, b, []int16{0})
	out := upload(t, b, []int16{0})
	managed, err := cpu.DefaultFactory.New(tensor.Int16, 1)
	require.NoError(t, err)

	require.NoError(t, b.Handler().Apply(tensor.OpDiv, out, x, zero))
	require.NoError(t, b.Handler().Apply(tensor.OpAdd, out, x, managed))
	assert.ErrorIs(t, b.Flush(), kernel.ErrDivideByZero)
	assert.Zero(t, b.Tracker.Len(), "pins released despite the failure")
	assert.Equal(t, []int16{4}, download[int16](t, out))
}

func TestReleaseReturnsRegion(t *testing.T) {
	b, rt := newBackend(t)
	acc := upload(t, b, []float64{1, 2})
	assert.Equal(t, 1, rt.Stats().Regions)

	require.NoError(t, acc.Release())
	require.NoError(t, acc.Release())
	assert.Zero(t, rt.Stats().Regions)
	assert.ErrorIs(t, acc.Read(make([]float64, 2)), tensor.ErrReleased)
}

func TestUnreachableAccessorFreesRegion(t *testing.T) {
	b, rt := newBackend(t)
	func() {
		_, err := b.Factory().New(tensor.Float32, 1024)
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return rt.Stats().Regions == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConcurrentReadAndRelease(t *testing.T) {
	b, rt := newBackend(t)
	acc := upload(t, b, make([]float32, 1<<16))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]float32, 1<<16)
			for range 20 {
				if err := acc.Read(buf); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	require.NoError(t, acc.Release())
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, tensor.ErrReleased)
	}
	assert.Zero(t, rt.Stats().Regions)
}

func TestReadAfterRuntimeClose(t *testing.T) {
	b, rt := newBackend(t)
	acc := upload(t, b, []uint16{7})
	require.NoError(t, rt.Close())
	assert.ErrorIs(t, acc.Read(make([]uint16, 1)), device.ErrClosed)
}
