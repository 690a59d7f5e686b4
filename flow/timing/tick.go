// Package timing provides wall-clock driven sources and flows. Every timer
// runs through the stage timer API, so timed stages never block the island
// and never push without demand.
package timing

import (
	"time"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

type timerKey int

const (
	tickTimer timerKey = iota
	windowTimer
	idleTimer
	delayTimer
	deadlineTimer
)

func checkDuration(arg string, d time.Duration) {
	if d <= 0 {
		panic(&core.ArgumentError{Arg: arg, Reason: "must be positive"})
	}
}

// Tick creates a source emitting v every interval after initialDelay. A
// tick that finds no demand is dropped. The materialized Cancellable
// completes the source.
func Tick[T any](initialDelay, interval time.Duration, v T) core.Source[T, core.Cancellable] {
	checkDuration("interval", interval)
	return core.SourceStage("tick", func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, core.Cancellable) {
		l := core.NewSourceLogic(out)
		stop := core.NewAsyncCallback(l, func(struct{}) { l.CompleteStage() })
		cancellable := core.NewCancellable(func() { stop.Invoke(struct{}{}) })

		l.PreStart = func() { l.ScheduleAtFixedRate(tickTimer, initialDelay, interval) }
		l.OnTimer = func(any) {
			if l.IsAvailable(out) && !cancellable.IsCancelled() {
				core.Push(l, out, v)
			}
		}
		l.SetOutHandler(out, core.OutHandler{OnPull: func() {}})
		return l, cancellable
	})
}
