// Package metrics holds the Prometheus collectors of the accelerator bridge.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values for MarshalCopies.
const (
	DirectionIn  = "in"  // unmanaged -> managed
	DirectionOut = "out" // managed -> unmanaged

	PathFast    = "fast"
	PathChunked = "chunked"
)

var (
	// MarshalCopies counts typed copies by direction and path.
	MarshalCopies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accel",
			Subsystem: "marshal",
			Name:      "copies_total",
			Help:      "Typed buffer copies between managed and unmanaged memory",
		},
		[]string{"direction", "path", "dtype"},
	)

	// MarshalBytes counts bytes moved by typed copies.
	MarshalBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accel",
			Subsystem: "marshal",
			Name:      "bytes_total",
			Help:      "Native bytes moved between managed and unmanaged memory",
		},
		[]string{"direction"},
	)

	// PinnedHandles is the number of currently pinned managed buffers.
	PinnedHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "accel",
			Subsystem: "pinned",
			Name:      "handles",
			Help:      "Managed buffers currently pinned for the accelerator",
		},
	)

	// PinnedReleased counts handles released by flushes.
	PinnedReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "accel",
			Subsystem: "pinned",
			Name:      "released_total",
			Help:      "Pinned handles released by flushes",
		},
	)

	// Flushes counts flush operations by outcome.
	Flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accel",
			Subsystem: "lifecycle",
			Name:      "flushes_total",
			Help:      "Flushes performed",
		},
		[]string{"status"},
	)

	// ActiveTypes is the number of element types routed to the accelerator.
	ActiveTypes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "accel",
			Subsystem: "registry",
			Name:      "active_types",
			Help:      "Element types whose accessor factory is the accelerator",
		},
	)

	// Switches counts per-type factory switches.
	Switches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accel",
			Subsystem: "registry",
			Name:      "switches_total",
			Help:      "Per-type accessor factory switches",
		},
		[]string{"backend"},
	)

	// Instructions counts instructions submitted to the accelerator runtime.
	Instructions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accel",
			Subsystem: "runtime",
			Name:      "instructions_total",
			Help:      "Instructions submitted to the accelerator runtime",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		MarshalCopies, MarshalBytes,
		PinnedHandles, PinnedReleased,
		Flushes, ActiveTypes, Switches,
		Instructions,
	)
}
