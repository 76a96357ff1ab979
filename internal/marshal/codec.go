package marshal

import (
	"encoding/binary"
	"math"

	"github.com/born-ml/accel/internal/tensor"
)

// codec encodes and decodes one element type to and from its native bytes.
type codec struct {
	width int // native bytes per element

	// decode fills dst[at:at+n] from the first n*width bytes of src.
	decode func(dst any, at int, src []byte, n int)
	// encode writes src[at:at+n] into the first n*width bytes of dst.
	encode func(src any, at int, dst []byte, n int)
}

func newCodec[T any](width int, dec func(b []byte) T, enc func(b []byte, v T)) codec {
	return codec{
		width: width,
		decode: func(dst any, at int, src []byte, n int) {
			d := dst.([]T)[at : at+n]
			for i := range d {
				d[i] = dec(src[i*width:])
			}
		},
		encode: func(src any, at int, dst []byte, n int) {
			s := src.([]T)[at : at+n]
			for i, v := range s {
				enc(dst[i*width:], v)
			}
		},
	}
}

// ne is the platform byte order; both directions use it.
var ne = binary.NativeEndian

// codecs is indexed by DataType. Complex values are two consecutive native
// floats, real part first.
var codecs = [tensor.NumDataTypes]codec{
	tensor.Int8: newCodec(1,
		func(b []byte) int8 { return int8(b[0]) },
		func(b []byte, v int8) { b[0] = byte(v) }),
	tensor.Int16: newCodec(2,
		func(b []byte) int16 { return int16(ne.Uint16(b)) },
		func(b []byte, v int16) { ne.PutUint16(b, uint16(v)) }),
	tensor.Int32: newCodec(4,
		func(b []byte) int32 { return int32(ne.Uint32(b)) },
		func(b []byte, v int32) { ne.PutUint32(b, uint32(v)) }),
	tensor.Int64: newCodec(8,
		func(b []byte) int64 { return int64(ne.Uint64(b)) },
		func(b []byte, v int64) { ne.PutUint64(b, uint64(v)) }),
	tensor.Uint8: newCodec(1,
		func(b []byte) uint8 { return b[0] },
		func(b []byte, v uint8) { b[0] = v }),
	tensor.Uint16: newCodec(2, ne.Uint16, ne.PutUint16),
	tensor.Uint32: newCodec(4, ne.Uint32, ne.PutUint32),
	tensor.Uint64: newCodec(8, ne.Uint64, ne.PutUint64),
	tensor.Float32: newCodec(4,
		func(b []byte) float32 { return math.Float32frombits(ne.Uint32(b)) },
		func(b []byte, v float32) { ne.PutUint32(b, math.Float32bits(v)) }),
	tensor.Float64: newCodec(8,
		func(b []byte) float64 { return math.Float64frombits(ne.Uint64(b)) },
		func(b []byte, v float64) { ne.PutUint64(b, math.Float64bits(v)) }),
	tensor.Bool: newCodec(1,
		func(b []byte) bool { return b[0] != 0 },
		func(b []byte, v bool) {
			b[0] = 0
			if v {
				b[0] = 1
			}
		}),
	tensor.Complex64: newCodec(8,
		func(b []byte) complex64 {
			return complex(math.Float32frombits(ne.Uint32(b)), math.Float32frombits(ne.Uint32(b[4:])))
		},
		func(b []byte, v complex64) {
			ne.PutUint32(b, math.Float32bits(real(v)))
			ne.PutUint32(b[4:], math.Float32bits(imag(v)))
		}),
	tensor.Complex128: newCodec(16,
		func(b []byte) complex128 {
			return complex(math.Float64frombits(ne.Uint64(b)), math.Float64frombits(ne.Uint64(b[8:])))
		},
		func(b []byte, v complex128) {
			ne.PutUint64(b, math.Float64bits(real(v)))
			ne.PutUint64(b[8:], math.Float64bits(imag(v)))
		}),
}
