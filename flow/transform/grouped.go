package transform

import (
	"slices"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Grouped creates a Flow that chunks the stream into slices of n elements.
// The last slice may be shorter.
func Grouped[T any](n int) core.Flow[T, []T, core.NotUsed] {
	if n <= 0 {
		panic(&core.ArgumentError{Arg: "n", Reason: "must be positive"})
	}
	return core.FlowStage("grouped", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[[]T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		group := make([]T, 0, n)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				group = append(group, core.Grab(l, in))
				if len(group) < n {
					l.Pull(in)
					return
				}
				core.Push(l, out, group)
				// downstream owns the pushed slice
				group = make([]T, 0, n)
			},
			OnUpstreamFinish: func() {
				if len(group) > 0 {
					core.Emit(l, out, group)
				}
				l.Complete(out)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// Sliding creates a Flow that emits windows of n elements, each starting step
// elements after the previous one. A stream shorter than n emits one window
// holding everything it received.
func Sliding[T any](n, step int) core.Flow[T, []T, core.NotUsed] {
	if n <= 0 {
		panic(&core.ArgumentError{Arg: "n", Reason: "must be positive"})
	}
	if step <= 0 {
		panic(&core.ArgumentError{Arg: "step", Reason: "must be positive"})
	}
	return core.FlowStage("sliding", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[[]T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var (
			window  []T
			skip    int
			emitted bool
		)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				if skip > 0 {
					skip--
					l.Pull(in)
					return
				}
				window = append(window, v)
				if len(window) < n {
					l.Pull(in)
					return
				}
				emitted = true
				core.Push(l, out, slices.Clone(window))
				// slide by step: either drop the overlap or skip the gap
				if step >= n {
					skip = step - n
					window = window[:0]
				} else {
					window = append(window[:0], window[step:]...)
				}
			},
			OnUpstreamFinish: func() {
				// a partial window is only emitted if it holds elements no
				// earlier window covered
				if len(window) > 0 && (!emitted || len(window) > n-step) {
					core.Emit(l, out, slices.Clone(window))
				}
				l.Complete(out)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}
