// Package aggregate provides flows that combine several elements into one:
// running and final reductions, and rate-decoupling batchers.
package aggregate

import (
	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Scan creates a Flow that emits initial first and then every intermediate
// accumulated value, so a stream of n elements yields n+1 outputs.
// On Restart the accumulator goes back to initial; on Resume it is kept.
func Scan[T, R any](initial R, scanner func(acc R, item T) (R, error)) core.Flow[T, R, core.NotUsed] {
	return core.FlowStage("scan", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[R]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		acc := initial
		seeded := false
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				res := core.Try2(scanner, acc, core.Grab(l, in))
				if res.IsError() {
					if l.Supervise(res.Error(), func() { acc = initial }) {
						l.Pull(in)
					}
					return
				}
				acc = res.Value()
				core.Push(l, out, acc)
			},
			OnUpstreamFinish: func() {
				if !seeded {
					seeded = true
					core.Emit(l, out, acc)
				}
				l.Complete(out)
			},
		}, core.OutHandler{
			OnPull: func() {
				if !seeded {
					seeded = true
					core.Push(l, out, acc)
					return
				}
				l.Pull(in)
			},
		})
		return l
	})
}

// Fold creates a Flow that folds all items into a single value emitted when
// the stream completes. Unlike Reduce, Fold always emits (initial if the
// stream is empty).
func Fold[T, R any](initial R, folder func(acc R, item T) (R, error)) core.Flow[T, R, core.NotUsed] {
	return core.FlowStage("fold", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[R]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		acc := initial
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				res := core.Try2(folder, acc, core.Grab(l, in))
				if res.IsError() {
					if l.Supervise(res.Error(), func() { acc = initial }) {
						l.Pull(in)
					}
					return
				}
				acc = res.Value()
				l.Pull(in)
			},
			OnUpstreamFinish: func() {
				core.Emit(l, out, acc)
				l.Complete(out)
			},
		}, core.OutHandler{
			OnPull: func() { l.TryPull(in) },
		})
		return l
	})
}

// Reduce creates a Flow that reduces all items to one value, the first item
// being the initial accumulator. An empty stream fails with
// core.ErrNoSuchElement.
func Reduce[T any](reducer func(acc, item T) (T, error)) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("reduce", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var acc core.Option[T]
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				if !acc.Valid {
					acc = core.Some(v)
					l.Pull(in)
					return
				}
				res := core.Try2(reducer, acc.Value, v)
				if res.IsError() {
					if l.Supervise(res.Error(), func() { acc = core.None[T]() }) {
						l.Pull(in)
					}
					return
				}
				acc.Value = res.Value()
				l.Pull(in)
			},
			OnUpstreamFinish: func() {
				if !acc.Valid {
					l.FailStage(core.ErrNoSuchElement)
					return
				}
				core.Emit(l, out, acc.Value)
				l.Complete(out)
			},
		}, core.OutHandler{
			OnPull: func() { l.TryPull(in) },
		})
		return l
	})
}

// Count creates a Flow that emits the number of items once the stream
// completes.
func Count[T any]() core.Flow[T, int64, core.NotUsed] {
	return Fold(int64(0), func(acc int64, _ T) (int64, error) {
		return acc + 1, nil
	}).Named("count")
}

// Numeric is a constraint for numeric types that support arithmetic operations.
type Numeric interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Sum creates a Flow that emits the sum of all items. An empty stream sums
// to zero.
func Sum[T Numeric]() core.Flow[T, T, core.NotUsed] {
	return Fold(T(0), func(acc, v T) (T, error) {
		return acc + v, nil
	}).Named("sum")
}

// Average creates a Flow that emits the mean of all items, or 0 for an empty
// stream.
func Average[T Numeric]() core.Flow[T, float64, core.NotUsed] {
	type running struct {
		sum   float64
		count int64
	}
	f := Fold(running{}, func(acc running, v T) (running, error) {
		return running{sum: acc.sum + float64(v), count: acc.count + 1}, nil
	})
	return core.FlowVia(f, mapStage("average", func(r running) float64 {
		if r.count == 0 {
			return 0
		}
		return r.sum / float64(r.count)
	}), core.KeepLeft[core.NotUsed, core.NotUsed])
}

// Min creates a Flow that emits the smallest item according to less. An
// empty stream fails with core.ErrNoSuchElement.
func Min[T any](less func(a, b T) bool) core.Flow[T, T, core.NotUsed] {
	return Reduce(func(acc, v T) (T, error) {
		if less(v, acc) {
			return v, nil
		}
		return acc, nil
	}).Named("min")
}

// Max creates a Flow that emits the largest item according to less. An empty
// stream fails with core.ErrNoSuchElement.
func Max[T any](less func(a, b T) bool) core.Flow[T, T, core.NotUsed] {
	return Reduce(func(acc, v T) (T, error) {
		if less(acc, v) {
			return v, nil
		}
		return acc, nil
	}).Named("max")
}

// All creates a Flow that emits whether every item satisfies pred. It
// completes as soon as an item fails the predicate; an empty stream emits
// true.
func All[T any](pred func(T) bool) core.Flow[T, bool, core.NotUsed] {
	return shortCircuit("all", pred, false, true)
}

// Any creates a Flow that emits whether at least one item satisfies pred,
// completing on the first match. An empty stream emits false.
func Any[T any](pred func(T) bool) core.Flow[T, bool, core.NotUsed] {
	return shortCircuit("any", pred, true, false)
}

// None creates a Flow that emits whether no item satisfies pred.
func None[T any](pred func(T) bool) core.Flow[T, bool, core.NotUsed] {
	return shortCircuit("none", pred, true, true)
}

// shortCircuit emits !orElse and completes as soon as pred returns trigger,
// and orElse if upstream completes first.
func shortCircuit[T any](name string, pred func(T) bool, trigger, orElse bool) core.Flow[T, bool, core.NotUsed] {
	return core.FlowStage(name, func(_ core.Attributes, in core.Inlet[T], out core.Outlet[bool]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				res := core.Try(func(v T) (bool, error) { return pred(v), nil }, core.Grab(l, in))
				if res.IsError() {
					if l.Supervise(res.Error(), nil) {
						l.Pull(in)
					}
					return
				}
				if res.Value() != trigger {
					l.Pull(in)
					return
				}
				core.Emit(l, out, !orElse)
				l.CompleteStage()
			},
			OnUpstreamFinish: func() {
				core.Emit(l, out, orElse)
				l.Complete(out)
			},
		}, core.OutHandler{
			OnPull: func() { l.TryPull(in) },
		})
		return l
	})
}

func mapStage[I, O any](name string, fn func(I) O) core.Flow[I, O, core.NotUsed] {
	return core.FlowStage(name, func(_ core.Attributes, in core.Inlet[I], out core.Outlet[O]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() { core.Push(l, out, fn(core.Grab(l, in))) },
		}, core.PullOnDemand(l, in))
		return l
	})
}
