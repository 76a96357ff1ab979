package lifecycle

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/accel/internal/backend/cpu"
	"github.com/born-ml/accel/internal/config"
	"github.com/born-ml/accel/internal/device"
	"github.com/born-ml/accel/internal/marshal"
	"github.com/born-ml/accel/internal/tensor"
)

type harness struct {
	ctrl     *Controller
	table    *tensor.FactoryTable
	dispatch *tensor.ApplyManager
	opened   int
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	h := &harness{table: tensor.NewFactoryTable(), dispatch: &tensor.ApplyManager{}}
	for _, dt := range tensor.AllDataTypes() {
		require.NoError(t, h.table.Set(dt, cpu.DefaultFactory))
	}
	h.dispatch.SetDefaultHandler(cpu.DefaultHandler)

	ctrl, err := New(cfg,
		WithLogger(zerolog.Nop()),
		WithTable(h.table),
		WithDispatch(h.dispatch),
		WithOpener(func(name string, opts device.Options) (device.Runtime, error) {
			h.opened++
			return device.Open(name, opts)
		}),
	)
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(func() { _ = ctrl.Shutdown() })
	return h
}

func (h *harness) allDefault(t *testing.T) {
	t.Helper()
	for _, dt := range tensor.AllDataTypes() {
		assert.Equal(t, cpu.DefaultFactory, h.table.Get(dt), dt.String())
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ChunkElements = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestFlushWithNothingPinned(t *testing.T) {
	h := newHarness(t, config.Default())
	require.NoError(t, h.ctrl.Flush())
	require.NoError(t, h.ctrl.Flush())
	assert.Nil(t, h.ctrl.Runtime(), "flush alone does not open the runtime")
	assert.Zero(t, h.opened)
}

func TestActivateAllThenDeactivateAll(t *testing.T) {
	h := newHarness(t, config.Default())

	require.NoError(t, h.ctrl.ActivateAll())
	assert.Equal(t, Active, h.ctrl.State())
	for _, dt := range tensor.AllDataTypes() {
		assert.Equal(t, tensor.AcceleratorBackend, h.table.Get(dt).Kind(), dt.String())
	}
	require.Len(t, h.dispatch.Handlers(), 1)

	// Leave a managed buffer pinned by an operation.
	out, err := tensor.NewIn[float64](h.table, tensor.Shape{})
	require.NoError(t, err)
	in, err := cpu.DefaultFactory.New(tensor.Float64, 3)
	require.NoError(t, err)
	require.NoError(t, h.dispatch.Apply(tensor.OpSum, out.Accessor(), in))
	assert.Equal(t, 1, h.ctrl.Tracker().Len())

	require.NoError(t, h.ctrl.DeactivateAll())
	assert.Equal(t, Inactive, h.ctrl.State())
	h.allDefault(t)
	assert.Zero(t, h.ctrl.Tracker().Len())
	assert.Empty(t, h.dispatch.Handlers())

	rt := h.ctrl.Runtime()
	require.NotNil(t, rt, "runtime stays open for arrays created while active")
	_, err = rt.Alloc(8)
	assert.NoError(t, err)
}

func TestReactivationReusesRuntime(t *testing.T) {
	h := newHarness(t, config.Default())
	require.NoError(t, h.ctrl.ActivateAll())
	require.NoError(t, h.ctrl.ActivateAll())
	require.NoError(t, h.ctrl.DeactivateAll())
	require.NoError(t, h.ctrl.ActivateAll())

	assert.Equal(t, 1, h.opened)
	assert.Len(t, h.dispatch.Handlers(), 1, "re-registration replaces the handler")
}

func TestActivateAllUnreachableRuntime(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime = "does-not-exist"
	h := newHarness(t, cfg)

	err := h.ctrl.ActivateAll()
	assert.ErrorIs(t, err, device.ErrBackendUnreachable)
	assert.Equal(t, Inactive, h.ctrl.State())
	h.allDefault(t)
	assert.Empty(t, h.dispatch.Handlers())
}

func TestOpenerErrorsAreWrapped(t *testing.T) {
	ctrl, err := New(config.Default(),
		WithTable(tensor.NewFactoryTable()),
		WithDispatch(&tensor.ApplyManager{}),
		WithOpener(func(string, device.Options) (device.Runtime, error) { return nil, assert.AnError }),
	)
	require.NoError(t, err)
	err = ctrl.ActivateAll()
	assert.ErrorIs(t, err, device.ErrBackendUnreachable)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSingleTypeSwitchIsNotRetroactive(t *testing.T) {
	h := newHarness(t, config.Default())

	require.NoError(t, h.ctrl.Activate(tensor.Int32))
	before, err := tensor.NewIn[int32](h.table, tensor.Shape{2})
	require.NoError(t, err)
	assert.Equal(t, tensor.AcceleratorBackend, before.Accessor().Backend())

	require.NoError(t, h.ctrl.Deactivate(tensor.Int32))
	after, err := tensor.NewIn[int32](h.table, tensor.Shape{2})
	require.NoError(t, err)
	assert.Equal(t, tensor.DefaultBackend, after.Accessor().Backend())
	assert.Equal(t, tensor.AcceleratorBackend, before.Accessor().Backend())

	assert.ErrorIs(t, h.ctrl.Activate(tensor.DataType(50)), marshal.ErrUnsupportedElementType)
}

func TestSingleTypeDeactivateRestoresState(t *testing.T) {
	h := newHarness(t, config.Default())

	require.NoError(t, h.ctrl.Activate(tensor.Int32))
	require.NoError(t, h.ctrl.Activate(tensor.Float32))
	assert.Equal(t, Active, h.ctrl.State())
	require.Len(t, h.dispatch.Handlers(), 1)

	require.NoError(t, h.ctrl.Deactivate(tensor.Int32))
	assert.Equal(t, Active, h.ctrl.State(), "float32 is still on the accelerator")
	assert.Len(t, h.dispatch.Handlers(), 1)

	require.NoError(t, h.ctrl.Deactivate(tensor.Float32))
	assert.Equal(t, Inactive, h.ctrl.State())
	assert.Empty(t, h.dispatch.Handlers())
	h.allDefault(t)

	require.NoError(t, h.ctrl.Activate(tensor.Int32))
	assert.Equal(t, Active, h.ctrl.State())
	assert.Len(t, h.dispatch.Handlers(), 1)
}

func TestQueuedOperationIgnoresLaterHostWrites(t *testing.T) {
	h := newHarness(t, config.Default())

	a, err := cpu.DefaultFactory.New(tensor.Float64, 3)
	require.NoError(t, err)
	require.NoError(t, a.Write([]float64{1, 2, 3}))
	b, err := cpu.DefaultFactory.New(tensor.Float64, 3)
	require.NoError(t, err)
	require.NoError(t, b.Write([]float64{10, 20, 30}))

	require.NoError(t, h.ctrl.ActivateAll())
	out, err := tensor.NewIn[float64](h.table, tensor.Shape{3})
	require.NoError(t, err)
	require.NoError(t, h.dispatch.Apply(tensor.OpAdd, out.Accessor(), a, b))
	require.Equal(t, 1, h.ctrl.Runtime().Pending())

	require.NoError(t, a.Write([]float64{100, 200, 300}))

	got, err := out.Data()
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 22, 33}, got)
}

func TestShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.ShutdownOnSignal = true
	h := newHarness(t, cfg)
	require.NoError(t, h.ctrl.ActivateAll())
	rt := h.ctrl.Runtime()

	require.NoError(t, h.ctrl.Shutdown())
	assert.Equal(t, Inactive, h.ctrl.State())
	h.allDefault(t)
	_, err := rt.Alloc(8)
	assert.ErrorIs(t, err, device.ErrClosed)

	require.NoError(t, h.ctrl.Shutdown())
	assert.ErrorIs(t, h.ctrl.ActivateAll(), ErrShutdown)
	assert.NoError(t, h.ctrl.Flush())
}

func TestShutdownBeforeActivation(t *testing.T) {
	h := newHarness(t, config.Default())
	require.NoError(t, h.ctrl.Shutdown())
	assert.Zero(t, h.opened)
}

// TestArraysThroughGlobalDispatch drives the package-level array API, which
// always uses tensor.Factories and tensor.Dispatch.
func TestArraysThroughGlobalDispatch(t *testing.T) {
	ctrl, err := New(config.Default(), WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ctrl.Shutdown()
		cpu.Install()
	})

	early, err := tensor.FromSlice([]float32{1, 1, 1}, tensor.Shape{3})
	require.NoError(t, err)

	require.NoError(t, ctrl.ActivateAll())
	a, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3})
	require.NoError(t, err)
	b, err := tensor.FromSlice([]float32{10, 20, 30}, tensor.Shape{3})
	require.NoError(t, err)
	assert.Equal(t, tensor.AcceleratorBackend, a.Accessor().Backend())

	c, err := tensor.Add(a, b)
	require.NoError(t, err)
	d, err := tensor.Mul(c, early)
	require.NoError(t, err)
	s, err := tensor.Sum(d)
	require.NoError(t, err)

	got, err := s.Data()
	require.NoError(t, err)
	assert.Equal(t, []float32{66}, got)

	require.NoError(t, ctrl.DeactivateAll())
	e, err := tensor.Sub(c, a)
	require.NoError(t, err)
	assert.Equal(t, tensor.DefaultBackend, e.Accessor().Backend())
	got, err = e.Data()
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 20, 30}, got)
}
