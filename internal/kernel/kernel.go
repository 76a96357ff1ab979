// Package kernel implements the element-wise and reduction loops shared by
// the default backend and the host accelerator runtime.
package kernel

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/born-ml/accel/internal/parallel"
	"github.com/born-ml/accel/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// Kernel errors.
var (
	ErrUnsupportedOp  = errors.New("unsupported operation for data type")
	ErrDivideByZero   = errors.New("integer division by zero")
	ErrEmptyReduction = errors.New("reduction of empty array")
	ErrOperandType    = errors.New("operand type mismatch")
	ErrOperandLength  = errors.New("operand length mismatch")
)

// Parallel controls how element-wise kernels split work.
var Parallel = parallel.DefaultConfig()

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

type float interface {
	~float32 | ~float64
}

type ordered interface {
	integer | float
}

type number interface {
	integer | float | ~complex64 | ~complex128
}

// Binary computes dst = a op b for element-wise ops.
// dst, a and b must be slices of the same element type and length.
func Binary(op tensor.Op, dst, a, b any) error {
	switch d := dst.(type) {
	case []int8:
		return binaryInteger(op, d, a, b)
	case []int16:
		return binaryInteger(op, d, a, b)
	case []int32:
		return binaryInteger(op, d, a, b)
	case []int64:
		return binaryInteger(op, d, a, b)
	case []uint8:
		return binaryInteger(op, d, a, b)
	case []uint16:
		return binaryInteger(op, d, a, b)
	case []uint32:
		return binaryInteger(op, d, a, b)
	case []uint64:
		return binaryInteger(op, d, a, b)
	case []float32:
		return binaryNumber(op, d, a, b)
	case []float64:
		return binaryFloat64(op, d, a, b)
	case []complex64:
		return binaryNumber(op, d, a, b)
	case []complex128:
		return binaryNumber(op, d, a, b)
	case []bool:
		return binaryBool(op, d, a, b)
	default:
		return fmt.Errorf("%s: %w: %T", op, ErrOperandType, dst)
	}
}

// Reduce computes dst[0] = op(src) for reductions.
func Reduce(op tensor.Op, dst, src any) error {
	switch d := dst.(type) {
	case []int8:
		return reduceOrdered(op, d, src)
	case []int16:
		return reduceOrdered(op, d, src)
	case []int32:
		return reduceOrdered(op, d, src)
	case []int64:
		return reduceOrdered(op, d, src)
	case []uint8:
		return reduceOrdered(op, d, src)
	case []uint16:
		return reduceOrdered(op, d, src)
	case []uint32:
		return reduceOrdered(op, d, src)
	case []uint64:
		return reduceOrdered(op, d, src)
	case []float32:
		return reduceOrdered(op, d, src)
	case []float64:
		return reduceFloat64(op, d, src)
	case []complex64:
		return reduceComplex(op, d, src)
	case []complex128:
		return reduceComplex(op, d, src)
	default:
		return fmt.Errorf("%s: %w: %T", op, ErrUnsupportedOp, dst)
	}
}

// Check reports, without touching any data, whether op can run over n
// elements of dt. Integer division by zero is only detected at run time.
func Check(op tensor.Op, dt tensor.DataType, n int) error {
	switch {
	case !dt.IsValid():
		return fmt.Errorf("%s: %w: unknown data type %d", op, ErrUnsupportedOp, int(dt))
	case (op == tensor.OpAnd || op == tensor.OpOr) != (dt == tensor.Bool):
		return fmt.Errorf("%s on %s: %w", op, dt, ErrUnsupportedOp)
	case dt == tensor.Bool && op.IsReduction():
		return fmt.Errorf("%s on %s: %w", op, dt, ErrUnsupportedOp)
	case dt.IsComplex() && (op == tensor.OpMax || op == tensor.OpMin):
		return fmt.Errorf("%s on %s: %w", op, dt, ErrUnsupportedOp)
	case (op == tensor.OpMax || op == tensor.OpMin) && n == 0:
		return fmt.Errorf("%s: %w", op, ErrEmptyReduction)
	}
	return nil
}

// Exec runs op over managed slices, choosing Binary or Reduce.
func Exec(op tensor.Op, dst any, in ...any) error {
	if len(in) != op.Arity() {
		return fmt.Errorf("%s: want %d inputs, got %d", op, op.Arity(), len(in))
	}
	if op.IsReduction() {
		return Reduce(op, dst, in[0])
	}
	return Binary(op, dst, in[0], in[1])
}

// View interprets n elements of dt at ptr as a managed slice without copying.
// The caller guarantees ptr addresses at least n*dt.Size() bytes.
func View(dt tensor.DataType, ptr unsafe.Pointer, n int) (any, error) {
	if n == 0 {
		return tensor.MakeSlice(dt, 0)
	}
	switch dt {
	case tensor.Int8:
		return unsafe.Slice((*int8)(ptr), n), nil
	case tensor.Int16:
		return unsafe.Slice((*int16)(ptr), n), nil
	case tensor.Int32:
		return unsafe.Slice((*int32)(ptr), n), nil
	case tensor.Int64:
		return unsafe.Slice((*int64)(ptr), n), nil
	case tensor.Uint8:
		return unsafe.Slice((*uint8)(ptr), n), nil
	case tensor.Uint16:
		return unsafe.Slice((*uint16)(ptr), n), nil
	case tensor.Uint32:
		return unsafe.Slice((*uint32)(ptr), n), nil
	case tensor.Uint64:
		return unsafe.Slice((*uint64)(ptr), n), nil
	case tensor.Float32:
		return unsafe.Slice((*float32)(ptr), n), nil
	case tensor.Float64:
		return unsafe.Slice((*float64)(ptr), n), nil
	case tensor.Bool:
		return unsafe.Slice((*bool)(ptr), n), nil
	case tensor.Complex64:
		return unsafe.Slice((*complex64)(ptr), n), nil
	case tensor.Complex128:
		return unsafe.Slice((*complex128)(ptr), n), nil
	default:
		return nil, fmt.Errorf("view: unknown data type %d", int(dt))
	}
}

// operands asserts that a and b are []T of the same length as dst.
func operands[T any](dst []T, a, b any) ([]T, []T, error) {
	av, ok := a.([]T)
	if !ok {
		return nil, nil, fmt.Errorf("%w: want %T, got %T", ErrOperandType, dst, a)
	}
	bv, ok := b.([]T)
	if !ok {
		return nil, nil, fmt.Errorf("%w: want %T, got %T", ErrOperandType, dst, b)
	}
	if len(av) != len(dst) || len(bv) != len(dst) {
		return nil, nil, fmt.Errorf("%w: %d, %d -> %d", ErrOperandLength, len(av), len(bv), len(dst))
	}
	return av, bv, nil
}

func binaryInteger[T integer](op tensor.Op, dst []T, a, b any) error {
	av, bv, err := operands(dst, a, b)
	if err != nil {
		return err
	}
	if op == tensor.OpDiv {
		for _, v := range bv {
			if v == 0 {
				return ErrDivideByZero
			}
		}
	}
	return arith(op, dst, av, bv)
}

func binaryNumber[T number](op tensor.Op, dst []T, a, b any) error {
	av, bv, err := operands(dst, a, b)
	if err != nil {
		return err
	}
	return arith(op, dst, av, bv)
}

func arith[T number](op tensor.Op, dst, a, b []T) error {
	var f func(x, y T) T
	switch op {
	case tensor.OpAdd:
		f = func(x, y T) T { return x + y }
	case tensor.OpSub:
		f = func(x, y T) T { return x - y }
	case tensor.OpMul:
		f = func(x, y T) T { return x * y }
	case tensor.OpDiv:
		f = func(x, y T) T { return x / y }
	default:
		return fmt.Errorf("%s on %T: %w", op, dst, ErrUnsupportedOp)
	}
	return parallel.Range(len(dst), Parallel, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			dst[i] = f(a[i], b[i])
		}
		return nil
	})
}

func binaryFloat64(op tensor.Op, dst []float64, a, b any) error {
	av, bv, err := operands(dst, a, b)
	if err != nil {
		return err
	}
	var f func(dst, s, t []float64) []float64
	switch op {
	case tensor.OpAdd:
		f = floats.AddTo
	case tensor.OpSub:
		f = floats.SubTo
	case tensor.OpMul:
		f = floats.MulTo
	case tensor.OpDiv:
		f = floats.DivTo
	default:
		return fmt.Errorf("%s on float64: %w", op, ErrUnsupportedOp)
	}
	return parallel.Range(len(dst), Parallel, func(lo, hi int) error {
		f(dst[lo:hi], av[lo:hi], bv[lo:hi])
		return nil
	})
}

func binaryBool(op tensor.Op, dst []bool, a, b any) error {
	av, bv, err := operands(dst, a, b)
	if err != nil {
		return err
	}
	switch op {
	case tensor.OpAnd:
		for i := range dst {
			dst[i] = av[i] && bv[i]
		}
	case tensor.OpOr:
		for i := range dst {
			dst[i] = av[i] || bv[i]
		}
	default:
		return fmt.Errorf("%s on bool: %w", op, ErrUnsupportedOp)
	}
	return nil
}

// source asserts that src is []T and dst holds exactly one element.
func source[T any](dst []T, src any) ([]T, error) {
	sv, ok := src.([]T)
	if !ok {
		return nil, fmt.Errorf("%w: want %T, got %T", ErrOperandType, dst, src)
	}
	if len(dst) != 1 {
		return nil, fmt.Errorf("%w: reduction output holds %d elements", ErrOperandLength, len(dst))
	}
	return sv, nil
}

func reduceOrdered[T ordered](op tensor.Op, dst []T, src any) error {
	sv, err := source(dst, src)
	if err != nil {
		return err
	}
	switch op {
	case tensor.OpSum:
		var acc T
		for _, v := range sv {
			acc += v
		}
		dst[0] = acc
	case tensor.OpMax, tensor.OpMin:
		if len(sv) == 0 {
			return fmt.Errorf("%s: %w", op, ErrEmptyReduction)
		}
		acc := sv[0]
		for _, v := range sv[1:] {
			if (op == tensor.OpMax && v > acc) || (op == tensor.OpMin && v < acc) {
				acc = v
			}
		}
		dst[0] = acc
	default:
		return fmt.Errorf("%s on %T: %w", op, dst, ErrUnsupportedOp)
	}
	return nil
}

func reduceFloat64(op tensor.Op, dst []float64, src any) error {
	sv, err := source(dst, src)
	if err != nil {
		return err
	}
	switch op {
	case tensor.OpSum:
		dst[0] = floats.Sum(sv)
	case tensor.OpMax, tensor.OpMin:
		if len(sv) == 0 {
			return fmt.Errorf("%s: %w", op, ErrEmptyReduction)
		}
		if op == tensor.OpMax {
			dst[0] = floats.Max(sv)
		} else {
			dst[0] = floats.Min(sv)
		}
	default:
		return fmt.Errorf("%s on float64: %w", op, ErrUnsupportedOp)
	}
	return nil
}

func reduceComplex[T ~complex64 | ~complex128](op tensor.Op, dst []T, src any) error {
	sv, err := source(dst, src)
	if err != nil {
		return err
	}
	if op != tensor.OpSum {
		return fmt.Errorf("%s on %T: %w", op, dst, ErrUnsupportedOp)
	}
	var acc T
	for _, v := range sv {
		acc += v
	}
	dst[0] = acc
	return nil
}
