package timing

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

type delayed[T any] struct {
	at time.Time
	v  T
}

// Delay creates a Flow that shifts every element by d from the moment it
// arrived. Up to bufferSize elements wait at once; strategy decides what
// happens when more arrive.
func Delay[T any](d time.Duration, bufferSize int, strategy core.OverflowStrategy) core.Flow[T, T, core.NotUsed] {
	checkDuration("d", d)
	if bufferSize <= 0 {
		panic(&core.ArgumentError{Arg: "bufferSize", Reason: "must be positive"})
	}
	return core.FlowStage("delay", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		buf := core.NewBuffer[delayed[T]](bufferSize)

		pullIfRoom := func() {
			if l.IsClosed(in) || l.HasBeenPulled(in) {
				return
			}
			if strategy == core.Backpressure && buf.IsFull() {
				return
			}
			l.Pull(in)
		}
		// arm schedules the timer for the head of the buffer.
		arm := func() {
			if buf.IsEmpty() {
				return
			}
			l.ScheduleOnce(delayTimer, max(0, time.Until(buf.Peek().at)))
		}
		pushDue := func() {
			if buf.IsEmpty() || !l.IsAvailable(out) {
				return
			}
			// demand arrived before the head is due
			if time.Now().Before(buf.Peek().at) {
				arm()
				return
			}
			core.Push(l, out, buf.Dequeue().v)
			if l.IsClosed(in) && buf.IsEmpty() {
				l.CompleteStage()
				return
			}
			arm()
			pullIfRoom()
		}

		l.PreStart = func() { l.Pull(in) }
		l.OnTimer = func(any) { pushDue() }
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				wasEmpty := buf.IsEmpty()
				e := delayed[T]{at: time.Now().Add(d), v: core.Grab(l, in)}
				if !buf.Offer(e, strategy) {
					l.FailStage(&core.BufferOverflowError{Size: bufferSize})
					return
				}
				// a later element never moves the timer of an earlier head
				if wasEmpty || !l.IsTimerActive(delayTimer) {
					arm()
				}
				pullIfRoom()
			},
			OnUpstreamFinish: func() {
				if buf.IsEmpty() {
					l.CompleteStage()
				}
			},
		}, core.OutHandler{
			OnPull: func() {
				pushDue()
				pullIfRoom()
			},
		})
		return l
	})
}

// InitialDelay creates a Flow that holds back demand until d has passed,
// delaying the first element by at least d.
func InitialDelay[T any](d time.Duration) core.Flow[T, T, core.NotUsed] {
	checkDuration("d", d)
	return core.FlowStage("initialDelay", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		open := false
		l.PreStart = func() { l.ScheduleOnce(delayTimer, d) }
		l.OnTimer = func(any) {
			open = true
			if l.IsAvailable(out) {
				l.TryPull(in)
			}
		}
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() { core.Push(l, out, core.Grab(l, in)) },
		}, core.OutHandler{
			OnPull: func() {
				if open {
					l.Pull(in)
				}
			},
		})
		return l
	})
}

// Debounce creates a Flow that emits an element only once d passed without
// a newer one arriving. The pending element is flushed when upstream
// completes.
func Debounce[T any](d time.Duration) core.Flow[T, T, core.NotUsed] {
	checkDuration("d", d)
	return core.FlowStage("debounce", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var (
			latest core.Option[T]
			quiet  bool
		)
		flush := func() {
			if !latest.Valid || !quiet || !l.IsAvailable(out) {
				return
			}
			core.Push(l, out, latest.Value)
			latest, quiet = core.None[T](), false
			if l.IsClosed(in) {
				l.CompleteStage()
			}
		}

		l.PreStart = func() { l.Pull(in) }
		l.OnTimer = func(any) {
			quiet = true
			flush()
		}
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				// replaces any unsent element and restarts the quiet period
				latest, quiet = core.Some(core.Grab(l, in)), false
				l.ScheduleOnce(idleTimer, d)
				l.Pull(in)
			},
			OnUpstreamFinish: func() {
				if !latest.Valid {
					l.CompleteStage()
					return
				}
				l.CancelTimer(idleTimer)
				quiet = true
				flush()
			},
		}, core.OutHandler{OnPull: flush})
		return l
	})
}

// ThrottleMode selects how Throttle treats elements above the rate.
type ThrottleMode int

const (
	// Shaping delays elements until the rate allows them.
	Shaping ThrottleMode = iota
	// Enforcing fails the stream with a RateExceededError.
	Enforcing
)

// Throttle creates a Flow that lets through at most elements per period,
// with bursts of up to maximumBurst.
func Throttle[T any](elements int, per time.Duration, maximumBurst int, mode ThrottleMode) core.Flow[T, T, core.NotUsed] {
	return ThrottleWeighted(elements, per, maximumBurst, func(T) int { return 1 }, mode).Named("throttle")
}

// ThrottleWeighted is Throttle where each element costs cost(element) out of
// a budget of budget per period. An element costing more than the burst
// fails the stage.
func ThrottleWeighted[T any](budget int, per time.Duration, maximumBurst int, cost func(T) int, mode ThrottleMode) core.Flow[T, T, core.NotUsed] {
	if budget <= 0 {
		panic(&core.ArgumentError{Arg: "budget", Reason: "must be positive"})
	}
	checkDuration("per", per)
	if maximumBurst < 0 {
		panic(&core.ArgumentError{Arg: "maximumBurst", Reason: "must not be negative"})
	}
	every := rate.Every(per / time.Duration(budget))
	return core.FlowStage("throttleWeighted", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		limiter := rate.NewLimiter(every, max(maximumBurst, 1))
		var held core.Option[T]

		l.OnTimer = func(any) {
			core.Push(l, out, held.Value)
			held = core.None[T]()
			if l.IsClosed(in) {
				l.CompleteStage()
			}
		}
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				res := core.Try(func(v T) (int, error) { return cost(v), nil }, v)
				if res.IsError() {
					if l.Supervise(res.Error(), nil) {
						l.Pull(in)
					}
					return
				}
				now := time.Now()
				r := limiter.ReserveN(now, res.Value())
				if !r.OK() {
					l.FailStage(&core.ArgumentError{Arg: "cost", Reason: "exceeds the maximum burst"})
					return
				}
				delay := r.DelayFrom(now)
				switch {
				case delay <= 0:
					core.Push(l, out, v)
				case mode == Enforcing:
					r.CancelAt(now)
					l.FailStage(&core.RateExceededError{Elements: budget, Per: per})
				default:
					held = core.Some(v)
					l.ScheduleOnce(delayTimer, delay)
				}
			},
			OnUpstreamFinish: func() {
				if !held.Valid {
					l.CompleteStage()
				}
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}
