package filter

import (
	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Take creates a Flow that passes through only the first n items.
// After n items have been emitted, the stream completes and upstream is
// cancelled. If n <= 0, the stream completes immediately.
func Take[T any](n int64) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("take", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		left := n
		l.PreStart = func() {
			if left <= 0 {
				l.CompleteStage()
			}
		}
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				left--
				core.Push(l, out, core.Grab(l, in))
				if left == 0 {
					l.CompleteStage()
				}
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// TakeWhile creates a Flow that passes through items while the predicate
// holds. When it first fails the stream completes; with inclusive set the
// failing element is emitted before completing.
func TakeWhile[T any](predicate func(T) bool, inclusive bool) core.Flow[T, T, core.NotUsed] {
	return takeWhile("takeWhile", predicate, inclusive)
}

// TakeUntil creates a Flow that passes through items until the predicate
// holds for one. With inclusive set that element is emitted before the
// stream completes.
func TakeUntil[T any](predicate func(T) bool, inclusive bool) core.Flow[T, T, core.NotUsed] {
	return takeWhile("takeUntil", func(v T) bool { return !predicate(v) }, inclusive)
}

func takeWhile[T any](name string, predicate func(T) bool, inclusive bool) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage(name, func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
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
					if inclusive {
						core.Push(l, out, v)
					}
					l.CompleteStage()
				}
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// Drop creates a Flow that skips the first n items.
func Drop[T any](n int64) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("drop", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		left := n
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				if left > 0 {
					// skipped elements are replaced without new downstream demand
					left--
					l.Pull(in)
					return
				}
				core.Push(l, out, v)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// DropWhile creates a Flow that skips items while the predicate holds, then
// passes through everything from the first item for which it fails.
func DropWhile[T any](predicate func(T) bool) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("dropWhile", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		dropping := true
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				if !dropping {
					core.Push(l, out, v)
					return
				}
				res := test(predicate, v)
				switch {
				case res.IsError():
					if l.Supervise(res.Error(), nil) {
						l.Pull(in)
					}
				case res.Value():
					l.Pull(in)
				default:
					dropping = false
					core.Push(l, out, v)
				}
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// Limit creates a Flow that passes through at most max items and fails
// with a StreamLimitReachedError if upstream produces more.
func Limit[T any](max int64) core.Flow[T, T, core.NotUsed] {
	return LimitWeighted(max, func(T) int64 { return 1 }).Named("limit")
}

// LimitWeighted creates a Flow that passes items through while their total
// cost stays within max, and fails with a StreamLimitReachedError once it
// is exceeded.
func LimitWeighted[T any](max int64, cost func(T) int64) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("limitWeighted", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		left := max
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				res := core.Try(func(v T) (int64, error) { return cost(v), nil }, v)
				if res.IsError() {
					if l.Supervise(res.Error(), nil) {
						l.Pull(in)
					}
					return
				}
				left -= res.Value()
				if left < 0 {
					l.FailStage(&core.StreamLimitReachedError{Max: max})
					return
				}
				core.Push(l, out, v)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// TakeLast creates a Flow that emits only the last n items, once upstream
// completes.
func TakeLast[T any](n int) core.Flow[T, T, core.NotUsed] {
	if n <= 0 {
		panic(&core.ArgumentError{Arg: "n", Reason: "must be positive"})
	}
	return core.FlowStage("takeLast", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		buf := core.NewBuffer[T](n)
		l.PreStart = func() { l.Pull(in) }
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				buf.Offer(core.Grab(l, in), core.DropHead)
				l.Pull(in)
			},
			OnUpstreamFinish: func() {
				for !buf.IsEmpty() {
					core.Emit(l, out, buf.Dequeue())
				}
				l.Complete(out)
			},
		}, core.OutHandler{OnPull: func() {}})
		return l
	})
}

// ElementAt creates a Flow that emits only the item at index and completes.
// If the stream is shorter, it completes without emitting.
func ElementAt[T any](index int64) core.Flow[T, T, core.NotUsed] {
	return core.FlowVia(Drop[T](index), Take[T](1), core.KeepLeft[core.NotUsed, core.NotUsed]).Named("elementAt")
}
