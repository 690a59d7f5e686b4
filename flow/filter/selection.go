package filter

import (
	"github.com/lguimbarda/reactive-flow/flow/core"
)

// FindResult represents the result of a Find operation.
type FindResult[T any] struct {
	Value T
	Found bool
}

// decideOnce emits a single value computed from the stream. The function
// made by newCheck reports a result as soon as it knows one, cancelling
// upstream, and orElse gives the result when upstream completes first.
func decideOnce[T, R any](name string, newCheck func() func(T) (R, bool), orElse func() R) core.Flow[T, R, core.NotUsed] {
	return core.FlowStage(name, func(_ core.Attributes, in core.Inlet[T], out core.Outlet[R]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		onElement := newCheck()
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				if r, ok := onElement(core.Grab(l, in)); ok {
					core.Push(l, out, r)
					l.CompleteStage()
					return
				}
				l.Pull(in)
			},
			OnUpstreamFinish: func() {
				core.Emit(l, out, orElse())
				l.Complete(out)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// Find creates a Flow that emits a FindResult with the first element
// matching the predicate. If no element matches, it emits a FindResult with
// Found=false.
func Find[T any](predicate func(T) bool) core.Flow[T, FindResult[T], core.NotUsed] {
	return decideOnce("find",
		func() func(T) (FindResult[T], bool) {
			return func(v T) (FindResult[T], bool) { return FindResult[T]{Value: v, Found: true}, predicate(v) }
		},
		func() FindResult[T] { return FindResult[T]{} })
}

// FindIndex creates a Flow that emits the index of the first element
// matching the predicate, or -1.
func FindIndex[T any](predicate func(T) bool) core.Flow[T, int, core.NotUsed] {
	return decideOnce("findIndex",
		func() func(T) (int, bool) {
			i := -1
			return func(v T) (int, bool) {
				i++
				return i, predicate(v)
			}
		},
		func() int { return -1 })
}

// Contains creates a Flow that emits whether value occurs in the stream.
func Contains[T comparable](value T) core.Flow[T, bool, core.NotUsed] {
	return ContainsBy(func(v T) bool { return v == value })
}

// ContainsBy creates a Flow that emits whether any element matches the
// predicate.
func ContainsBy[T any](predicate func(T) bool) core.Flow[T, bool, core.NotUsed] {
	return decideOnce("contains",
		func() func(T) (bool, bool) {
			return func(v T) (bool, bool) { return true, predicate(v) }
		},
		func() bool { return false })
}

// IsEmpty creates a Flow that emits whether the stream completed without
// any element.
func IsEmpty[T any]() core.Flow[T, bool, core.NotUsed] {
	return decideOnce("isEmpty",
		func() func(T) (bool, bool) {
			return func(T) (bool, bool) { return false, true }
		},
		func() bool { return true })
}
