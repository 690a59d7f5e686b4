package core

import (
	"fmt"
	"runtime"
	"strings"
)

// ErrPanic is the fault recorded when user code panics inside a stage.
// Stack holds the panicking goroutine's frames with engine internals
// removed.
type ErrPanic struct {
	Value any
	Stack string
}

func (e ErrPanic) Error() string {
	if e.Stack == "" {
		return fmt.Sprintf("panic: %v", e.Value)
	}
	return fmt.Sprintf("panic: %v\n%s", e.Value, e.Stack)
}

// Unwrap returns the panic value when it is an error.
func (e ErrPanic) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// NewPanicError must be called from the deferred function that recovered v.
func NewPanicError(v any) ErrPanic {
	// runtime.Callers, userFrames, NewPanicError, the deferred func.
	return ErrPanic{Value: v, Stack: userFrames(4)}
}

const (
	enginePkg = "github.com/lguimbarda/reactive-flow/flow/"
	maxFrames = 32
)

// userFrames formats the caller's stack, leaving out frames of the engine
// itself. Frames from engine test files stay.
func userFrames(skip int) string {
	var pcs [maxFrames]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return ""
	}
	var sb strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !isEngineFrame(f) {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "%s\n\t%s:%d", f.Function, f.File, f.Line)
		}
		if !more {
			return sb.String()
		}
	}
}

func isEngineFrame(f runtime.Frame) bool {
	return strings.HasPrefix(f.Function, enginePkg) && !strings.HasSuffix(f.File, "_test.go")
}

// Result carries the outcome of one call into user code: a value or a
// fault for the stage's decider.
type Result[T any] struct {
	value T
	err   error
}

func Ok[T any](v T) Result[T] { return Result[T]{value: v} }

func Err[T any](err error) Result[T] { return Result[T]{err: err} }

func (r Result[T]) IsError() bool { return r.err != nil }

func (r Result[T]) Value() T { return r.value }

func (r Result[T]) Error() error { return r.err }

// Try calls fn(in), turning a panic into an ErrPanic fault.
func Try[IN, OUT any](fn func(IN) (OUT, error), in IN) (res Result[OUT]) {
	defer recoverInto(&res)
	out, err := fn(in)
	return Result[OUT]{value: out, err: err}
}

// Try2 is Try for two-argument functions such as folds.
func Try2[A, B, OUT any](fn func(A, B) (OUT, error), a A, b B) (res Result[OUT]) {
	defer recoverInto(&res)
	out, err := fn(a, b)
	return Result[OUT]{value: out, err: err}
}

func recoverInto[T any](res *Result[T]) {
	if v := recover(); v != nil {
		*res = Err[T](NewPanicError(v))
	}
}

// Option is a value that may be absent, such as the result of pulling a
// completed sink queue.
type Option[T any] struct {
	Value T
	Valid bool
}

func Some[T any](v T) Option[T] { return Option[T]{Value: v, Valid: true} }

func None[T any]() Option[T] { return Option[T]{} }
