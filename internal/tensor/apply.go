package tensor

import (
	"errors"
	"fmt"
	"sync"
)

// Op identifies an element-wise or reduction operation.
type Op int

// Supported operations.
const (
	OpAdd Op = iota // a + b
	OpSub           // a - b
	OpMul           // a * b
	OpDiv           // a / b
	OpAnd           // a && b (bool only)
	OpOr            // a || b (bool only)
	OpSum           // sum of all elements
	OpMax           // maximum element
	OpMin           // minimum element
)

var opNames = [...]string{
	OpAdd: "add",
	OpSub: "sub",
	OpMul: "mul",
	OpDiv: "div",
	OpAnd: "and",
	OpOr:  "or",
	OpSum: "sum",
	OpMax: "max",
	OpMin: "min",
}

// String returns the operation name.
func (op Op) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return fmt.Sprintf("op(%d)", int(op))
	}
	return opNames[op]
}

// IsReduction reports whether op reduces its single input to one element.
func (op Op) IsReduction() bool {
	return op == OpSum || op == OpMax || op == OpMin
}

// Arity returns the number of inputs op takes.
func (op Op) Arity() int {
	if op.IsReduction() {
		return 1
	}
	return 2
}

// ErrNotHandled is returned by an ApplyHandler to pass an operation on to
// the next handler.
var ErrNotHandled = errors.New("operation not handled")

// ErrNoHandler is returned when no handler, not even the default, takes an
// operation.
var ErrNoHandler = errors.New("no apply handler")

// ApplyHandler executes operations for some set of accessors.
type ApplyHandler interface {
	Name() string
	// Apply computes op over in and stores the result in out.
	// It returns ErrNotHandled when the operands are not its business.
	Apply(op Op, out Accessor, in ...Accessor) error
}

// ApplyManager is the central dispatch point for operations.
// Handlers registered later take precedence over earlier ones; the default
// handler runs when none of them accepts an operation.
type ApplyManager struct {
	mu       sync.RWMutex
	handlers []ApplyHandler
	fallback ApplyHandler
}

// Dispatch is the process-wide apply manager used by Add, Sum and friends.
var Dispatch = &ApplyManager{}

// SetDefaultHandler installs the handler used when no registered one applies.
func (m *ApplyManager) SetDefaultHandler(h ApplyHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = h
}

// RegisterHandler adds h in front of the existing handlers.
// Registering a handler that is already present moves it to the front.
func (m *ApplyManager) RegisterHandler(h ApplyHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.remove(h), h)
}

// UnregisterHandler removes h. Removing an unknown handler is a no-op.
func (m *ApplyManager) UnregisterHandler(h ApplyHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = m.remove(h)
}

// remove returns a fresh handler list without h (must hold mu).
func (m *ApplyManager) remove(h ApplyHandler) []ApplyHandler {
	out := make([]ApplyHandler, 0, len(m.handlers)+1)
	for _, existing := range m.handlers {
		if existing != h {
			out = append(out, existing)
		}
	}
	return out
}

// Handlers returns the registered handlers, most recent first.
func (m *ApplyManager) Handlers() []ApplyHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ApplyHandler, 0, len(m.handlers))
	for i := len(m.handlers) - 1; i >= 0; i-- {
		out = append(out, m.handlers[i])
	}
	return out
}

// Apply routes op to the first handler that accepts it.
func (m *ApplyManager) Apply(op Op, out Accessor, in ...Accessor) error {
	if len(in) != op.Arity() {
		return fmt.Errorf("%s: want %d inputs, got %d", op, op.Arity(), len(in))
	}
	for _, a := range in {
		if a.DType() != out.DType() {
			return fmt.Errorf("%s: dtype mismatch: %s vs %s", op, a.DType(), out.DType())
		}
	}

	m.mu.RLock()
	handlers := m.handlers
	fallback := m.fallback
	m.mu.RUnlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		err := handlers[i].Apply(op, out, in...)
		if !errors.Is(err, ErrNotHandled) {
			return err
		}
	}
	if fallback == nil {
		return fmt.Errorf("%s: %w", op, ErrNoHandler)
	}
	return fallback.Apply(op, out, in...)
}

// binary creates the output array and dispatches an element-wise op.
func binary[T Element](op Op, a, b *Array[T]) (*Array[T], error) {
	if !a.shape.Equal(b.shape) {
		return nil, fmt.Errorf("%s: shape mismatch: %v vs %v", op, a.shape, b.shape)
	}
	out, err := New[T](a.shape)
	if err != nil {
		return nil, err
	}
	if err := Dispatch.Apply(op, out.acc, a.acc, b.acc); err != nil {
		return nil, err
	}
	return out, nil
}

// reduce creates a one-element output array and dispatches a reduction.
func reduce[T Element](op Op, a *Array[T]) (*Array[T], error) {
	out, err := New[T](Shape{})
	if err != nil {
		return nil, err
	}
	if err := Dispatch.Apply(op, out.acc, a.acc); err != nil {
		return nil, err
	}
	return out, nil
}

// Add returns a + b element-wise.
func Add[T Element](a, b *Array[T]) (*Array[T], error) { return binary(OpAdd, a, b) }

// Sub returns a - b element-wise.
func Sub[T Element](a, b *Array[T]) (*Array[T], error) { return binary(OpSub, a, b) }

// Mul returns a * b element-wise.
func Mul[T Element](a, b *Array[T]) (*Array[T], error) { return binary(OpMul, a, b) }

// Div returns a / b element-wise.
func Div[T Element](a, b *Array[T]) (*Array[T], error) { return binary(OpDiv, a, b) }

// And returns the logical AND of two bool arrays.
func And(a, b *Array[bool]) (*Array[bool], error) { return binary(OpAnd, a, b) }

// Or returns the logical OR of two bool arrays.
func Or(a, b *Array[bool]) (*Array[bool], error) { return binary(OpOr, a, b) }

// Sum reduces a to the sum of its elements.
func Sum[T Element](a *Array[T]) (*Array[T], error) { return reduce(OpSum, a) }

// Max reduces a to its largest element.
func Max[T Element](a *Array[T]) (*Array[T], error) { return reduce(OpMax, a) }

// Min reduces a to its smallest element.
func Min[T Element](a *Array[T]) (*Array[T], error) { return reduce(OpMin, a) }
