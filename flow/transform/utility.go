package transform

import (
	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Pairwise creates a Flow that emits pairs of consecutive items.
// Each emission (except the first) includes the previous and current item.
func Pairwise[T any]() core.Flow[T, [2]T, core.NotUsed] {
	return core.FlowStage("pairwise", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[[2]T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var (
			prev    T
			hasPrev bool
		)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				curr := core.Grab(l, in)
				if !hasPrev {
					prev, hasPrev = curr, true
					l.Pull(in)
					return
				}
				pair := [2]T{prev, curr}
				prev = curr
				core.Push(l, out, pair)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// StartWith creates a Flow that emits values before the elements of the
// stream.
func StartWith[T any](values ...T) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("startWith", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.PreStart = func() { core.EmitMultiple(l, out, values) }
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() { core.Push(l, out, core.Grab(l, in)) },
		}, core.PullOnDemand(l, in))
		return l
	})
}

// EndWith creates a Flow that emits values after the stream completed.
func EndWith[T any](values ...T) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("endWith", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() { core.Push(l, out, core.Grab(l, in)) },
			OnUpstreamFinish: func() {
				core.EmitMultiple(l, out, values)
				l.Complete(out)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// DefaultIfEmpty creates a Flow that emits defaultValue if the stream
// completes without any element.
func DefaultIfEmpty[T any](defaultValue T) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("defaultIfEmpty", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		empty := true
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				empty = false
				core.Push(l, out, core.Grab(l, in))
			},
			OnUpstreamFinish: func() {
				if empty {
					core.Emit(l, out, defaultValue)
				}
				l.Complete(out)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// Intersperse creates a Flow that emits inject between consecutive elements.
func Intersperse[T any](inject T) core.Flow[T, T, core.NotUsed] {
	return intersperse(core.None[T](), inject, core.None[T]())
}

// IntersperseWith is Intersperse that also emits start before the first
// element and end after completion, even for an empty stream.
func IntersperseWith[T any](start, inject, end T) core.Flow[T, T, core.NotUsed] {
	return intersperse(core.Some(start), inject, core.Some(end))
}

func intersperse[T any](start core.Option[T], inject T, end core.Option[T]) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("intersperse", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		first := true
		l.PreStart = func() {
			if start.Valid {
				core.Emit(l, out, start.Value)
			}
		}
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				if first {
					first = false
					core.Emit(l, out, v)
					return
				}
				core.EmitMultiple(l, out, []T{inject, v})
			},
			OnUpstreamFinish: func() {
				if end.Valid {
					core.Emit(l, out, end.Value)
				}
				l.Complete(out)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// Distinct creates a Flow that only emits items that haven't been seen
// before. Seen values are kept for the life of the stream.
func Distinct[T comparable]() core.Flow[T, T, core.NotUsed] {
	return DistinctBy(func(v T) T { return v }).Named("distinct")
}

// DistinctBy creates a Flow that only emits items whose key, derived by
// keyFn, hasn't been seen before.
func DistinctBy[T any, K comparable](keyFn func(T) K) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("distinctBy", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		seen := make(map[K]struct{})
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				k := keyFn(v)
				if _, ok := seen[k]; ok {
					l.Pull(in)
					return
				}
				seen[k] = struct{}{}
				core.Push(l, out, v)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// Indexed pairs an element with its 0-based position in the stream.
type Indexed[T any] struct {
	Index int64
	Value T
}

// ZipWithIndex creates a Flow that wraps each item with its 0-based index.
func ZipWithIndex[T any]() core.Flow[T, Indexed[T], core.NotUsed] {
	return core.FlowStage("zipWithIndex", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[Indexed[T]]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var index int64
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				core.Push(l, out, Indexed[T]{Index: index, Value: core.Grab(l, in)})
				index++
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// IgnoreElements creates a Flow that drops every element and only passes on
// completion or failure.
func IgnoreElements[T any]() core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("ignoreElements", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				core.Grab(l, in)
				l.Pull(in)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}
