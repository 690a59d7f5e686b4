package filter

import (
	"math/rand/v2"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// DistinctUntilChanged creates a Flow that only emits when the current item
// is different from the previous item.
func DistinctUntilChanged[T comparable]() core.Flow[T, T, core.NotUsed] {
	return DistinctUntilChangedBy(func(v T) T { return v }).Named("distinctUntilChanged")
}

// DistinctUntilChangedBy creates a Flow that only emits when the key derived
// from the current item is different from the key of the previous item.
func DistinctUntilChangedBy[T any, K comparable](keyFn func(T) K) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("distinctUntilChangedBy", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var lastKey K
		first := true
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				key := keyFn(v)
				if !first && key == lastKey {
					l.Pull(in)
					return
				}
				first = false
				lastKey = key
				core.Push(l, out, v)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// RandomSample creates a Flow that passes each item with the given
// probability (0.0 to 1.0).
func RandomSample[T any](probability float64) core.Flow[T, T, core.NotUsed] {
	return Filter(func(T) bool {
		return probability >= 1 || probability > 0 && rand.Float64() < probability
	}).Named("randomSample")
}

// EveryNth creates a Flow that emits every nth item, starting with the nth.
func EveryNth[T any](n int) core.Flow[T, T, core.NotUsed] {
	if n <= 0 {
		panic(&core.ArgumentError{Arg: "n", Reason: "must be positive"})
	}
	return core.FlowStage("everyNth", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		count := 0
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				count++
				if count%n != 0 {
					l.Pull(in)
					return
				}
				core.Push(l, out, v)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}
