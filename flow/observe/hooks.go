package observe

import (
	"time"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Hooks are callbacks run by a Tap stage. Every field is optional. The
// callbacks run on the stage's island and must not block.
type Hooks[T any] struct {
	// OnStart runs before the first signal.
	OnStart func()
	// OnElement runs for every element, before it is pushed downstream.
	OnElement func(T)
	OnComplete func()
	OnFailure  func(error)
	// OnCancel runs when downstream cancels, with its cause.
	OnCancel func(cause error)
	// OnStop runs last, however the stage ended, including abrupt
	// termination.
	OnStop func()
}

// Tap creates a Flow running hooks on the signals passing through it.
func Tap[T any](hooks Hooks[T]) core.Flow[T, T, core.NotUsed] {
	return tapStage("tap", func() Hooks[T] { return hooks })
}

// tapStage builds a pass-through stage whose hooks are created anew for
// every materialization.
func tapStage[T any](name string, newHooks func() Hooks[T]) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage(name, func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		hooks := newHooks()
		l := core.NewFlowLogic(in, out)
		l.PreStart = hooks.OnStart
		l.PostStop = hooks.OnStop
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				if hooks.OnElement != nil {
					hooks.OnElement(v)
				}
				core.Push(l, out, v)
			},
			OnUpstreamFinish: func() {
				if hooks.OnComplete != nil {
					hooks.OnComplete()
				}
				l.CompleteStage()
			},
			OnUpstreamFailure: func(err error) {
				if hooks.OnFailure != nil {
					hooks.OnFailure(err)
				}
				l.FailStage(err)
			},
		}, core.OutHandler{
			OnPull: func() { l.Pull(in) },
			OnDownstreamFinish: func(cause error) {
				if hooks.OnCancel != nil {
					hooks.OnCancel(cause)
				}
				l.CancelStage(cause)
			},
		})
		return l
	})
}

// ForEachElement creates a Flow calling fn with every element.
func ForEachElement[T any](fn func(T)) core.Flow[T, T, core.NotUsed] {
	return Tap(Hooks[T]{OnElement: fn})
}

// DebugEvent represents different events in a stream's lifecycle.
type DebugEvent int

const (
	DebugEventStart DebugEvent = iota
	DebugEventElement
	DebugEventFailure
	DebugEventComplete
	DebugEventCancel
)

func (e DebugEvent) String() string {
	switch e {
	case DebugEventStart:
		return "start"
	case DebugEventElement:
		return "element"
	case DebugEventFailure:
		return "failure"
	case DebugEventComplete:
		return "complete"
	case DebugEventCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// DebugInfo contains information about a debug event.
type DebugInfo[T any] struct {
	Event     DebugEvent
	Value     T
	Error     error
	Timestamp time.Time
	// Index is the number of elements seen so far.
	Index int64
}

// Debug creates a Flow reporting every lifecycle event of the stream to
// handler.
func Debug[T any](handler func(DebugInfo[T])) core.Flow[T, T, core.NotUsed] {
	return tapStage("debug", func() Hooks[T] {
		var (
			index int64
			zero  T
		)
		emit := func(event DebugEvent, v T, err error) {
			handler(DebugInfo[T]{Event: event, Value: v, Error: err, Timestamp: time.Now(), Index: index})
		}
		return Hooks[T]{
			OnStart: func() { emit(DebugEventStart, zero, nil) },
			OnElement: func(v T) {
				index++
				emit(DebugEventElement, v, nil)
			},
			OnComplete: func() { emit(DebugEventComplete, zero, nil) },
			OnFailure:  func(err error) { emit(DebugEventFailure, zero, err) },
			OnCancel:   func(cause error) { emit(DebugEventCancel, zero, cause) },
		}
	})
}
