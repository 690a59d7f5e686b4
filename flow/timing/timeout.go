package timing

import (
	"time"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// passThrough builds a one-in, one-out logic forwarding elements, with
// onElement run after every push.
func passThrough[T any](in core.Inlet[T], out core.Outlet[T], onElement func(l *core.Logic)) *core.Logic {
	l := core.NewFlowLogic(in, out)
	l.SetHandlers(in, out, core.InHandler{
		OnPush: func() {
			core.Push(l, out, core.Grab(l, in))
			if onElement != nil {
				onElement(l)
			}
		},
	}, core.PullOnDemand(l, in))
	return l
}

func timeout(kind string, d time.Duration) error {
	return &core.StreamTimeoutError{Kind: kind, Timeout: d}
}

// IdleTimeout creates a Flow that fails with a StreamTimeoutError when no
// element passed for d.
func IdleTimeout[T any](d time.Duration) core.Flow[T, T, core.NotUsed] {
	checkDuration("d", d)
	return core.FlowStage("idleTimeout", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := passThrough(in, out, func(l *core.Logic) { l.ScheduleOnce(idleTimer, d) })
		l.PreStart = func() { l.ScheduleOnce(idleTimer, d) }
		l.OnTimer = func(any) { l.FailStage(timeout("idle", d)) }
		return l
	})
}

// InitialTimeout creates a Flow that fails with a StreamTimeoutError when
// the first element did not arrive within d.
func InitialTimeout[T any](d time.Duration) core.Flow[T, T, core.NotUsed] {
	checkDuration("d", d)
	return core.FlowStage("initialTimeout", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := passThrough(in, out, func(l *core.Logic) { l.CancelTimer(deadlineTimer) })
		l.PreStart = func() { l.ScheduleOnce(deadlineTimer, d) }
		l.OnTimer = func(any) { l.FailStage(timeout("initial", d)) }
		return l
	})
}

// CompletionTimeout creates a Flow that fails with a StreamTimeoutError when
// the stream did not complete within d.
func CompletionTimeout[T any](d time.Duration) core.Flow[T, T, core.NotUsed] {
	checkDuration("d", d)
	return core.FlowStage("completionTimeout", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := passThrough[T](in, out, nil)
		l.PreStart = func() { l.ScheduleOnce(deadlineTimer, d) }
		l.OnTimer = func(any) { l.FailStage(timeout("completion", d)) }
		return l
	})
}

// TakeWithin creates a Flow that passes elements for d and then completes.
func TakeWithin[T any](d time.Duration) core.Flow[T, T, core.NotUsed] {
	checkDuration("d", d)
	return core.FlowStage("takeWithin", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := passThrough[T](in, out, nil)
		l.PreStart = func() { l.ScheduleOnce(deadlineTimer, d) }
		l.OnTimer = func(any) { l.CompleteStage() }
		return l
	})
}

// DropWithin creates a Flow that drops the elements arriving during the
// first d.
func DropWithin[T any](d time.Duration) core.Flow[T, T, core.NotUsed] {
	checkDuration("d", d)
	return core.FlowStage("dropWithin", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		open := false
		l.PreStart = func() { l.ScheduleOnce(deadlineTimer, d) }
		l.OnTimer = func(any) { open = true }
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				if !open {
					l.Pull(in)
					return
				}
				core.Push(l, out, v)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// Timestamped wraps each item with the time it passed the stage.
type Timestamped[T any] struct {
	Value     T
	Timestamp time.Time
}

// Stamped creates a Flow that wraps each item with the time it was received.
func Stamped[T any]() core.Flow[T, Timestamped[T], core.NotUsed] {
	return core.FlowStage("stamped", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[Timestamped[T]]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				core.Push(l, out, Timestamped[T]{Value: core.Grab(l, in), Timestamp: time.Now()})
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// TimeInterval pairs an item with the time since the previous one.
type TimeInterval[T any] struct {
	Value    T
	Interval time.Duration
}

// Elapsed creates a Flow that wraps each item with the duration since the
// previous item, or since the stage started for the first one.
func Elapsed[T any]() core.Flow[T, TimeInterval[T], core.NotUsed] {
	return core.FlowStage("elapsed", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[TimeInterval[T]]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var last time.Time
		l.PreStart = func() { last = time.Now() }
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				now := time.Now()
				core.Push(l, out, TimeInterval[T]{Value: core.Grab(l, in), Interval: now.Sub(last)})
				last = now
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}
