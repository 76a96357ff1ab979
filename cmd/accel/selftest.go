package main

import (
	"bytes"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/accel/internal/config"
	"github.com/born-ml/accel/internal/device"
	"github.com/born-ml/accel/internal/lifecycle"
	"github.com/born-ml/accel/internal/marshal"
	"github.com/born-ml/accel/internal/tensor"
)

// selftestSizes straddle the chunk boundary of the default configuration.
var selftestSizes = []int{0, 1, 999, 1000, 1001, 2500}

func newSelftestCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Round-trip every element type through both marshaling paths and run a few operations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			ctrl, err := controller(cfg, log)
			if err != nil {
				return err
			}
			defer ctrl.Shutdown()
			return selftest(cmd.OutOrStdout(), cfg, ctrl)
		},
	}
}

func selftest(w io.Writer, cfg config.Config, ctrl *lifecycle.Controller) error {
	if err := ctrl.ActivateAll(); err != nil {
		return err
	}
	rt := ctrl.Runtime()

	engines := map[string]*marshal.Engine{
		"fast":    marshal.New(rt, marshal.WithChunkElements(cfg.ChunkElements)),
		"chunked": marshal.New(rt, marshal.WithChunkElements(cfg.ChunkElements), marshal.WithoutFastPath()),
	}

	var (
		mu    sync.Mutex
		lines []string
	)
	var eg errgroup.Group
	for _, dt := range tensor.AllDataTypes() {
		eg.Go(func() error {
			for _, n := range selftestSizes {
				if err := roundTrip(rt, engines["fast"], engines["chunked"], dt, n); err != nil {
					return fmt.Errorf("%s[%d]: %w", dt, n, err)
				}
			}
			mu.Lock()
			lines = append(lines, fmt.Sprintf("ok   marshal %s", dt))
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}

	if err := arithmetic(); err != nil {
		return err
	}
	fmt.Fprintln(w, "ok   add/sum float64")
	return ctrl.DeactivateAll()
}

// roundTrip writes random native bytes, decodes them with one engine,
// encodes them with the other into a runtime region and compares the bytes.
func roundTrip(rt device.Runtime, a, b *marshal.Engine, dt tensor.DataType, n int) error {
	size := n * dt.Size()
	if size == 0 {
		_, err := a.CopyIn(nil, 0, dt)
		return err
	}
	src := make([]byte, size)
	for i := range src {
		src[i] = byte(rand.IntN(256))
	}
	if dt == tensor.Bool {
		for i := range src {
			src[i] &= 1
		}
	}

	vals, err := a.CopyIn(unsafeBytes(src), n, dt)
	if err != nil {
		return err
	}
	region, err := rt.Alloc(size)
	if err != nil {
		return err
	}
	defer rt.Free(region)
	if err := b.CopyOut(vals, dt, region.Ptr()); err != nil {
		return err
	}
	back, err := b.CopyIn(region.Ptr(), n, dt)
	if err != nil {
		return err
	}
	if err := a.CopyOut(back, dt, region.Ptr()); err != nil {
		return err
	}
	if !bytes.Equal(src, regionBytes(region)) {
		return fmt.Errorf("bytes differ after round trip")
	}
	return nil
}

func arithmetic() error {
	const n = 4096
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = rand.Float64()
		y[i] = rand.Float64()
	}
	a, err := tensor.FromSlice(x, tensor.Shape{n})
	if err != nil {
		return err
	}
	b, err := tensor.FromSlice(y, tensor.Shape{n})
	if err != nil {
		return err
	}
	if a.Accessor().Backend() != tensor.AcceleratorBackend {
		return fmt.Errorf("array created on %s backend while active", a.Accessor().Backend())
	}
	c, err := tensor.Add(a, b)
	if err != nil {
		return err
	}
	s, err := tensor.Sum(c)
	if err != nil {
		return err
	}
	got, err := s.Data()
	if err != nil {
		return err
	}
	want := floats.Sum(x) + floats.Sum(y)
	if !floats.EqualWithinAbsOrRel(got[0], want, 1e-9, 1e-9) {
		return fmt.Errorf("sum: got %v, want %v", got[0], want)
	}
	return nil
}
