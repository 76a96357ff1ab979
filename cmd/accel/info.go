package main

import (
	"fmt"
	"strconv"
	"unsafe"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/born-ml/accel/internal/device"
	"github.com/born-ml/accel/internal/marshal"
	"github.com/born-ml/accel/internal/tensor"
)

func newInfoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "List element types and how the runtime marshals them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			rt, err := device.Open(cfg.Runtime, device.Options{LibraryPath: cfg.LibraryPath, Logger: log})
			if err != nil {
				return err
			}
			defer rt.Close()

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "runtime:   %s (available: %v)\n", rt.Name(), device.Names())
			fmt.Fprintf(w, "chunk:     %d elements\n", cfg.ChunkElements)
			fmt.Fprintf(w, "fast path: %s\n\n", onOff(!cfg.DisableFastPath))

			table := tablewriter.NewWriter(w)
			table.SetHeader([]string{"TYPE", "WIDTH", "FAST IN", "FAST OUT", "FACTORY"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			for _, dt := range tensor.AllDataTypes() {
				in, out := fastPaths(rt, dt)
				kind := "-"
				if f := tensor.Factories.Get(dt); f != nil {
					kind = f.Kind().String()
				}
				table.Append([]string{dt.String(), strconv.Itoa(dt.Size()), yesNo(in), yesNo(out), kind})
			}
			table.Render()
			return nil
		},
	}
}

// fastPaths probes the runtime's bulk copier with a single element.
func fastPaths(bulk marshal.BulkCopier, dt tensor.DataType) (in, out bool) {
	var scratch [16]byte
	p := unsafe.Pointer(&scratch[0])
	buf, err := tensor.MakeSlice(dt, 1)
	if err != nil {
		return false, false
	}
	in = bulk.CopyFromPointer(p, buf, 1)
	out = bulk.CopyToPointer(buf, p, 1)
	return in, out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
