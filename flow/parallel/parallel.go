// Package parallel runs a function over stream elements concurrently while
// keeping backpressure: at most parallelism calls are in flight, and upstream
// is pulled only when a slot is free.
package parallel

import (
	"context"

	"github.com/sourcegraph/conc/panics"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// call runs fn with panic capture. A panic becomes a core.ErrPanic.
func call[IN, OUT any](ctx context.Context, fn func(context.Context, IN) (OUT, error), v IN) (out OUT, err error) {
	var pc panics.Catcher
	pc.Try(func() { out, err = fn(ctx, v) })
	if r := pc.Recovered(); r != nil {
		var zero OUT
		return zero, core.ErrPanic{Value: r.Value, Stack: string(r.Stack)}
	}
	return out, err
}

func checkParallelism(n int) {
	if n < 1 {
		panic(&core.ArgumentError{Arg: "parallelism", Reason: "must be positive"})
	}
}

type slot[OUT any] struct {
	done    bool
	skipped bool
	value   OUT
}

type completion[OUT any] struct {
	gen   uint64
	slot  *slot[OUT]
	value OUT
	err   error
}

// MapAsync creates a Flow running fn on up to parallelism elements at once
// and emitting the results in upstream order. fn receives a context
// cancelled when the stage stops. A failed or panicking call is handed to
// the supervision strategy: Resume and Restart drop the element, Restart
// also discards the calls in flight.
func MapAsync[IN, OUT any](parallelism int, fn func(context.Context, IN) (OUT, error)) core.Flow[IN, OUT, core.NotUsed] {
	checkParallelism(parallelism)
	return core.FlowStage("mapAsync", func(_ core.Attributes, in core.Inlet[IN], out core.Outlet[OUT]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var (
			queue []*slot[OUT]
			gen   uint64
		)

		pullIfRoom := func() {
			if len(queue) < parallelism && !l.IsClosed(in) && !l.HasBeenPulled(in) {
				l.Pull(in)
			}
		}
		drain := func() {
			for len(queue) > 0 && queue[0].done {
				head := queue[0]
				if !head.skipped {
					if !l.IsAvailable(out) {
						return
					}
					core.Push(l, out, head.value)
				}
				queue[0] = nil
				queue = queue[1:]
			}
			if len(queue) == 0 && l.IsClosed(in) {
				l.CompleteStage()
				return
			}
			pullIfRoom()
		}
		done := core.NewAsyncCallback(l, func(c completion[OUT]) {
			if c.gen != gen {
				return
			}
			c.slot.done = true
			if c.err != nil {
				if !l.Supervise(c.err, func() {
					gen++
					queue = nil
				}) {
					return
				}
				c.slot.skipped = true
			}
			c.slot.value = c.value
			drain()
		})

		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				s := &slot[OUT]{}
				queue = append(queue, s)
				g := gen
				ctx := l.Context()
				// results arriving after stop are dropped by done
				l.Go(func() {
					res, err := call(ctx, fn, v)
					done.Invoke(completion[OUT]{gen: g, slot: s, value: res, err: err})
				})
				pullIfRoom()
			},
			OnUpstreamFinish: func() {
				if len(queue) == 0 {
					l.CompleteStage()
				}
			},
		}, core.OutHandler{
			OnPull: drain,
		})
		return l
	})
}

// MapAsyncUnordered is MapAsync emitting results as soon as they are ready,
// regardless of upstream order.
func MapAsyncUnordered[IN, OUT any](parallelism int, fn func(context.Context, IN) (OUT, error)) core.Flow[IN, OUT, core.NotUsed] {
	checkParallelism(parallelism)
	return core.FlowStage("mapAsyncUnordered", func(_ core.Attributes, in core.Inlet[IN], out core.Outlet[OUT]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var (
			inFlight int
			ready    []OUT
			gen      uint64
		)

		pullIfRoom := func() {
			if inFlight+len(ready) < parallelism && !l.IsClosed(in) && !l.HasBeenPulled(in) {
				l.Pull(in)
			}
		}
		drain := func() {
			if len(ready) > 0 && l.IsAvailable(out) {
				v := ready[0]
				var zero OUT
				ready[0] = zero
				ready = ready[1:]
				core.Push(l, out, v)
			}
			if inFlight == 0 && len(ready) == 0 && l.IsClosed(in) {
				l.CompleteStage()
				return
			}
			pullIfRoom()
		}
		done := core.NewAsyncCallback(l, func(c completion[OUT]) {
			if c.gen != gen {
				return
			}
			inFlight--
			if c.err != nil {
				if !l.Supervise(c.err, func() {
					gen++
					inFlight = 0
					ready = nil
				}) {
					return
				}
			} else {
				ready = append(ready, c.value)
			}
			drain()
		})

		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				inFlight++
				g := gen
				ctx := l.Context()
				l.Go(func() {
					res, err := call(ctx, fn, v)
					done.Invoke(completion[OUT]{gen: g, value: res, err: err})
				})
				pullIfRoom()
			},
			OnUpstreamFinish: func() {
				if inFlight == 0 && len(ready) == 0 {
					l.CompleteStage()
				}
			},
		}, core.OutHandler{
			OnPull: drain,
		})
		return l
	})
}

// Map runs fn on n elements at once, emitting results as they complete.
func Map[IN, OUT any](n int, fn func(IN) (OUT, error)) core.Flow[IN, OUT, core.NotUsed] {
	return MapAsyncUnordered(n, func(_ context.Context, v IN) (OUT, error) { return fn(v) })
}

// Ordered runs fn on n elements at once, preserving upstream order.
func Ordered[IN, OUT any](n int, fn func(IN) (OUT, error)) core.Flow[IN, OUT, core.NotUsed] {
	return MapAsync(n, func(_ context.Context, v IN) (OUT, error) { return fn(v) })
}
