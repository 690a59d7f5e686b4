// Package filter provides operators that select which elements of a stream
// are passed on.
package filter

import (
	"github.com/lguimbarda/reactive-flow/flow/core"
)

// test evaluates a predicate, turning a panic into a fault.
func test[T any](predicate func(T) bool, v T) core.Result[bool] {
	return core.Try(func(v T) (bool, error) { return predicate(v), nil }, v)
}

// Filter creates a Flow that only passes through items matching the
// predicate. Items that don't match are dropped and upstream is pulled again
// right away. A panicking predicate is a fault subject to supervision.
func Filter[T any](predicate func(T) bool) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("filter", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				res := test(predicate, v)
				switch {
				case res.IsError():
					if l.Supervise(res.Error(), nil) {
						l.Pull(in)
					}
				case res.Value():
					core.Push(l, out, v)
				default:
					// dropped; the pull that brought v still stands downstream
					l.Pull(in)
				}
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// FilterNot creates a Flow that drops the items matching the predicate.
func FilterNot[T any](predicate func(T) bool) core.Flow[T, T, core.NotUsed] {
	return Filter(func(v T) bool { return !predicate(v) }).Named("filterNot")
}
