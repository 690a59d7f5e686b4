package aggregate

import (
	"math"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Batch creates a Flow that aggregates elements while downstream is slower
// than upstream. Upstream is pulled freely until max elements are batched;
// each downstream pull receives the batch built so far. seed starts a new
// batch from its first element.
func Batch[T, R any](max int64, seed func(T) (R, error), aggregate func(R, T) (R, error)) core.Flow[T, R, core.NotUsed] {
	return BatchWeighted(max, func(T) int64 { return 1 }, seed, aggregate).Named("batch")
}

// BatchWeighted is Batch where each element weighs cost(element) instead of
// one. An element that would push the batch over max is held back and seeds
// the next batch; a single element heavier than max forms a batch alone.
func BatchWeighted[T, R any](max int64, cost func(T) int64, seed func(T) (R, error), aggregate func(R, T) (R, error)) core.Flow[T, R, core.NotUsed] {
	if max <= 0 {
		panic(&core.ArgumentError{Arg: "max", Reason: "must be positive"})
	}
	return core.FlowStage("batchWeighted", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[R]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var (
			agg     R
			has     bool
			weight  int64
			pending core.Option[T]
		)
		reset := func() {
			var zero R
			agg, has, weight = zero, false, 0
		}
		// start seeds a batch with v; it reports false if the stage failed
		start := func(v T) bool {
			res := core.Try(seed, v)
			if res.IsError() {
				return l.Supervise(res.Error(), reset)
			}
			agg, has, weight = res.Value(), true, cost(v)
			return true
		}
		pullIfRoom := func() {
			// no demand while an element is held back or the batch is full
			if pending.Valid || weight >= max || l.IsClosed(in) || l.HasBeenPulled(in) {
				return
			}
			l.Pull(in)
		}
		flush := func() {
			core.Push(l, out, agg)
			reset()
			if pending.Valid {
				// the held element opens the next batch
				v := pending.Value
				pending = core.None[T]()
				if !start(v) {
					return
				}
			}
			if l.IsClosed(in) {
				if !has {
					l.CompleteStage()
				}
				return
			}
			pullIfRoom()
		}

		l.PreStart = func() { l.Pull(in) }
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				switch c := cost(v); {
				case !has:
					if !start(v) {
						return
					}
				case weight+c > max:
					// held until flush hands it to the next batch
					pending = core.Some(v)
				default:
					res := core.Try2(aggregate, agg, v)
					if res.IsError() {
						if !l.Supervise(res.Error(), reset) {
							return
						}
					} else {
						agg, weight = res.Value(), weight+c
					}
				}
				if has && l.IsAvailable(out) {
					flush()
					return
				}
				pullIfRoom()
			},
			OnUpstreamFinish: func() {
				if !has {
					l.CompleteStage()
				}
			},
		}, core.OutHandler{
			OnPull: func() {
				if has {
					flush()
					return
				}
				if l.IsClosed(in) {
					l.CompleteStage()
					return
				}
				pullIfRoom()
			},
		})
		return l
	})
}

// ConflateWithSeed creates a Flow that never backpressures upstream: while
// downstream is busy, arriving elements are folded into the current summary.
func ConflateWithSeed[T, R any](seed func(T) (R, error), aggregate func(R, T) (R, error)) core.Flow[T, R, core.NotUsed] {
	return BatchWeighted(math.MaxInt64, func(T) int64 { return 0 }, seed, aggregate).Named("conflate")
}

// Conflate is ConflateWithSeed where the first element is the summary.
func Conflate[T any](aggregate func(T, T) (T, error)) core.Flow[T, T, core.NotUsed] {
	return ConflateWithSeed(func(v T) (T, error) { return v, nil }, aggregate)
}

// GroupedWeighted creates a Flow that groups elements until the group's
// total cost reaches at least minWeight. The last group may weigh less.
func GroupedWeighted[T any](minWeight int64, cost func(T) int64) core.Flow[T, []T, core.NotUsed] {
	if minWeight <= 0 {
		panic(&core.ArgumentError{Arg: "minWeight", Reason: "must be positive"})
	}
	return core.FlowStage("groupedWeighted", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[[]T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var (
			group  []T
			weight int64
		)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				c := cost(v)
				if c < 0 {
					l.FailStage(&core.ArgumentError{Arg: "cost", Reason: "must not be negative"})
					return
				}
				group = append(group, v)
				weight += c
				if weight < minWeight {
					l.Pull(in)
					return
				}
				core.Push(l, out, group)
				group, weight = nil, 0
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

// Partition creates a Flow that splits the stream with pred and emits both
// halves, matching first, once the stream completes.
func Partition[T any](pred func(T) bool) core.Flow[T, [2][]T, core.NotUsed] {
	return Fold([2][]T{{}, {}}, func(acc [2][]T, v T) ([2][]T, error) {
		if pred(v) {
			acc[0] = append(acc[0], v)
		} else {
			acc[1] = append(acc[1], v)
		}
		return acc, nil
	}).Named("partition")
}

// GroupBy creates a Flow that collects the items by key and emits the groups
// once the stream completes.
func GroupBy[T any, K comparable](keyFn func(T) K) core.Flow[T, map[K][]T, core.NotUsed] {
	return core.FlowStage("groupBy", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[map[K][]T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		groups := make(map[K][]T)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				k := keyFn(v)
				groups[k] = append(groups[k], v)
				l.Pull(in)
			},
			OnUpstreamFinish: func() {
				core.Emit(l, out, groups)
				l.Complete(out)
			},
		}, core.OutHandler{
			OnPull: func() { l.TryPull(in) },
		})
		return l
	})
}
