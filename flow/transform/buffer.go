package transform

import (
	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Buffer creates a Flow that decouples upstream from downstream with a
// buffer of size elements. When the buffer is full, strategy decides: with
// Backpressure upstream is no longer pulled, with Fail the stream fails with
// a BufferOverflowError, the drop strategies discard elements.
func Buffer[T any](size int, strategy core.OverflowStrategy) core.Flow[T, T, core.NotUsed] {
	if size <= 0 {
		panic(&core.ArgumentError{Arg: "size", Reason: "must be positive"})
	}
	return core.FlowStage("buffer", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		buf := core.NewBuffer[T](size)

		pullIfRoom := func() {
			if l.IsClosed(in) || l.HasBeenPulled(in) {
				return
			}
			if strategy == core.Backpressure && buf.IsFull() {
				return
			}
			l.Pull(in)
		}
		l.PreStart = func() { l.Pull(in) }
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				if buf.IsEmpty() && l.IsAvailable(out) {
					core.Push(l, out, v)
				} else if !buf.Offer(v, strategy) {
					if strategy == core.Fail {
						l.FailStage(&core.BufferOverflowError{Size: size})
						return
					}
					l.FailStage(&core.ProtocolViolationError{Stage: l.Name(), Reason: "element arrived while the buffer was full"})
					return
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
				if !buf.IsEmpty() {
					core.Push(l, out, buf.Dequeue())
				}
				if l.IsClosed(in) {
					if buf.IsEmpty() {
						l.CompleteStage()
					}
					return
				}
				pullIfRoom()
			},
		})
		return l
	})
}
