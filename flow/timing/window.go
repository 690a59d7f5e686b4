package timing

import (
	"time"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// GroupedWithin creates a Flow that chunks the stream into groups of at most
// n elements, emitting a group when it is full or when d has passed since the
// previous emission, whichever comes first. Empty groups are never emitted.
// A full group backpressures upstream until downstream takes it.
func GroupedWithin[T any](n int, d time.Duration) core.Flow[T, []T, core.NotUsed] {
	if n <= 0 {
		panic(&core.ArgumentError{Arg: "n", Reason: "must be positive"})
	}
	checkDuration("d", d)
	return core.FlowStage("groupedWithin", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[[]T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var (
			group []T
			due   bool
		)
		emitGroup := func() {
			core.Push(l, out, group)
			group, due = nil, false
			l.ScheduleWithFixedDelay(windowTimer, d, d)
			if l.IsClosed(in) {
				l.CompleteStage()
				return
			}
			l.TryPull(in)
		}
		release := func() {
			if l.IsAvailable(out) {
				emitGroup()
				return
			}
			due = true
		}

		l.PreStart = func() {
			l.ScheduleWithFixedDelay(windowTimer, d, d)
			l.Pull(in)
		}
		l.OnTimer = func(any) {
			if len(group) > 0 {
				release()
			}
		}
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				group = append(group, core.Grab(l, in))
				if len(group) < n {
					l.Pull(in)
					return
				}
				release()
			},
			OnUpstreamFinish: func() {
				if len(group) == 0 {
					l.CompleteStage()
					return
				}
				release()
			},
		}, core.OutHandler{
			OnPull: func() {
				if due {
					emitGroup()
				}
			},
		})
		return l
	})
}

// TimeWindow creates a Flow that folds the elements arriving within each
// window of d into one summary, released into downstream demand at the end
// of the window. Upstream is never backpressured. With eager the first
// summary is released as soon as there is one.
func TimeWindow[T, R any](d time.Duration, eager bool, seed func(T) (R, error), aggregate func(R, T) (R, error)) core.Flow[T, R, core.NotUsed] {
	checkDuration("d", d)
	return core.FlowStage("timeWindow", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[R]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var (
			acc  core.Option[R]
			open = eager
		)
		reset := func() { acc = core.None[R]() }
		release := func() {
			if !open || !acc.Valid || !l.IsAvailable(out) {
				return
			}
			core.Push(l, out, acc.Value)
			reset()
			open = false
			if l.IsClosed(in) {
				l.CompleteStage()
			}
		}

		l.PreStart = func() {
			l.ScheduleAtFixedRate(windowTimer, d, d)
			l.Pull(in)
		}
		l.OnTimer = func(any) {
			open = true
			release()
		}
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				var res core.Result[R]
				if acc.Valid {
					res = core.Try2(aggregate, acc.Value, v)
				} else {
					res = core.Try(seed, v)
				}
				if res.IsError() {
					if !l.Supervise(res.Error(), reset) {
						return
					}
				} else {
					acc = core.Some(res.Value())
				}
				l.Pull(in)
				release()
			},
			OnUpstreamFinish: func() {
				if !acc.Valid {
					l.CompleteStage()
					return
				}
				// the last summary does not wait for the window
				open = true
				release()
			},
		}, core.OutHandler{OnPull: release})
		return l
	})
}

// Pulse creates a Flow that lets at most one element through per interval,
// each one only into existing demand. With initiallyOpen the first element
// does not wait for the first interval.
func Pulse[T any](interval time.Duration, initiallyOpen bool) core.Flow[T, T, core.NotUsed] {
	checkDuration("interval", interval)
	return core.FlowStage("pulse", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		pulsing := false
		startPulsing := func() {
			pulsing = true
			l.ScheduleWithFixedDelay(tickTimer, interval, interval)
		}

		l.PreStart = func() {
			if !initiallyOpen {
				startPulsing()
			}
		}
		l.OnTimer = func(any) {
			if l.IsAvailable(out) && !l.IsClosed(in) && !l.HasBeenPulled(in) {
				l.Pull(in)
				return
			}
			pulsing = false
		}
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() { core.Push(l, out, core.Grab(l, in)) },
		}, core.OutHandler{
			OnPull: func() {
				if !pulsing {
					l.Pull(in)
					startPulsing()
				}
			},
		})
		return l
	})
}

// KeepAlive creates a Flow that injects inject() whenever no element went
// downstream for maxIdle and downstream is waiting. Genuine elements reset
// the idle timer.
func KeepAlive[T any](maxIdle time.Duration, inject func() T) core.Flow[T, T, core.NotUsed] {
	checkDuration("maxIdle", maxIdle)
	return core.FlowStage("keepAlive", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var held core.Option[T]
		l.PreStart = func() { l.ScheduleOnce(idleTimer, maxIdle) }
		l.OnTimer = func(any) {
			if l.IsAvailable(out) {
				core.Push(l, out, inject())
			}
			l.ScheduleOnce(idleTimer, maxIdle)
		}
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				l.ScheduleOnce(idleTimer, maxIdle)
				if l.IsAvailable(out) {
					core.Push(l, out, v)
					return
				}
				// an injected element took the demand this pull was made for
				held = core.Some(v)
			},
			OnUpstreamFinish: func() {
				if held.Valid {
					core.Emit(l, out, held.Value)
				}
				l.Complete(out)
			},
		}, core.OutHandler{
			OnPull: func() {
				if held.Valid {
					core.Push(l, out, held.Value)
					held = core.None[T]()
					return
				}
				l.TryPull(in)
			},
		})
		return l
	})
}
