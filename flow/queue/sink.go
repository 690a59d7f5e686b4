package queue

import (
	"context"
	"errors"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// ErrTooManyPulls fails a pull made while the maximum number of pulls are
// already waiting for an element.
var ErrTooManyPulls = errors.New("too many concurrent pulls")

// SinkQueue is the materialized handle of a queue Sink.
type SinkQueue[T any] struct {
	pull   *core.AsyncCallback[*core.Promise[core.Option[T]]]
	cancel *core.AsyncCallback[struct{}]
}

// PullAsync requests the next element. The future completes with the
// element, with core.None once the stream completed, or with the stream's
// failure. Pulling a cancelled or stopped queue fails with
// core.ErrQueueClosed.
func (q *SinkQueue[T]) PullAsync() *core.Future[core.Option[T]] {
	p := core.NewPromise[core.Option[T]]()
	q.pull.InvokeOr(p, func() { p.Fail(core.ErrQueueClosed) })
	return p.Future()
}

// Pull is PullAsync waiting for the result or for ctx to end.
func (q *SinkQueue[T]) Pull(ctx context.Context) (core.Option[T], error) {
	return q.PullAsync().Get(ctx)
}

// Cancel cancels the stream. Pending pulls fail with core.ErrQueueClosed.
func (q *SinkQueue[T]) Cancel() {
	q.cancel.Invoke(struct{}{})
}

// Sink creates a Sink whose elements are pulled through its materialized
// SinkQueue. Up to bufferSize elements are requested ahead of the pulls;
// at most maxConcurrentPulls pulls may wait at once.
func Sink[T any](bufferSize, maxConcurrentPulls int) core.Sink[T, *SinkQueue[T]] {
	if bufferSize < 1 {
		panic(&core.ArgumentError{Arg: "bufferSize", Reason: "must be positive"})
	}
	if maxConcurrentPulls < 1 {
		panic(&core.ArgumentError{Arg: "maxConcurrentPulls", Reason: "must be positive"})
	}
	return core.SinkStage("queueSink", func(_ core.Attributes, in core.Inlet[T]) (*core.Logic, *SinkQueue[T]) {
		l := core.NewSinkLogic(in)
		l.SetKeepGoing(true)
		var (
			buf      = core.NewBuffer[T](bufferSize)
			pulls    []*core.Promise[core.Option[T]]
			finished bool
			failure  error
		)

		requestMore := func() {
			if !finished && !buf.IsFull() && !l.HasBeenPulled(in) && !l.IsClosed(in) {
				l.Pull(in)
			}
		}
		// serve answers waiting pulls from the buffer, then with the
		// termination once the buffer is drained.
		serve := func() {
			for len(pulls) > 0 && !buf.IsEmpty() {
				pulls[0].Success(core.Some(buf.Dequeue()))
				pulls = pulls[1:]
			}
			if finished && buf.IsEmpty() {
				if len(pulls) == 0 {
					return
				}
				for _, p := range pulls {
					if failure != nil {
						p.Fail(failure)
					} else {
						p.Success(core.None[T]())
					}
				}
				pulls = nil
				l.CompleteStage()
				return
			}
			requestMore()
		}

		q := &SinkQueue[T]{
			pull: core.NewAsyncCallback(l, func(p *core.Promise[core.Option[T]]) {
				if len(pulls) >= maxConcurrentPulls {
					p.Fail(ErrTooManyPulls)
					return
				}
				pulls = append(pulls, p)
				serve()
			}),
			cancel: core.NewAsyncCallback(l, func(struct{}) {
				for _, p := range pulls {
					p.Fail(core.ErrQueueClosed)
				}
				pulls = nil
				l.CompleteStage()
			}),
		}

		l.PreStart = func() { l.Pull(in) }
		l.PostStop = func() {
			for _, p := range pulls {
				p.Fail(core.ErrQueueClosed)
			}
			pulls = nil
		}
		l.SetInHandler(in, core.InHandler{
			OnPush: func() {
				buf.Enqueue(core.Grab(l, in))
				serve()
			},
			OnUpstreamFinish: func() {
				finished = true
				serve()
			},
			OnUpstreamFailure: func(err error) {
				finished = true
				failure = err
				serve()
			},
		})
		return l, q
	})
}
