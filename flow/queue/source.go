// Package queue connects code outside a stream to it: a Source fed by
// offering elements to a materialized handle, and a Sink drained by pulling
// from one. Both handles are safe for concurrent use.
package queue

import (
	"context"
	"errors"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// ErrTooManyOffers fails an offer made while the maximum number of offers
// are already waiting for room in a backpressured queue.
var ErrTooManyOffers = errors.New("too many concurrent offers")

// OfferResult is the outcome of a successful offer.
type OfferResult int

const (
	// Enqueued means the element was buffered or pushed downstream.
	Enqueued OfferResult = iota
	// Dropped means the overflow strategy discarded the element.
	Dropped
)

func (r OfferResult) String() string {
	switch r {
	case Enqueued:
		return "enqueued"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

type offer[T any] struct {
	value   T
	promise *core.Promise[OfferResult]
}

// SourceQueue is the materialized handle of a queue Source.
type SourceQueue[T any] struct {
	offer      *core.AsyncCallback[offer[T]]
	complete   *core.AsyncCallback[struct{}]
	fail       *core.AsyncCallback[error]
	completion *core.Future[core.Done]
}

// OfferAsync offers v to the stream. The returned future resolves once the
// element is enqueued or dropped. With the Backpressure strategy and a full
// buffer it stays pending until there is room. It fails with
// core.ErrQueueClosed once the stream terminated or Complete was called, and
// with the stream's failure if it failed.
func (q *SourceQueue[T]) OfferAsync(v T) *core.Future[OfferResult] {
	p := core.NewPromise[OfferResult]()
	q.offer.InvokeOr(offer[T]{value: v, promise: p}, func() { p.Fail(core.ErrQueueClosed) })
	return p.Future()
}

// Offer is OfferAsync waiting for the result or for ctx to end.
func (q *SourceQueue[T]) Offer(ctx context.Context, v T) (OfferResult, error) {
	return q.OfferAsync(v).Get(ctx)
}

// Complete completes the stream once the buffered elements are emitted.
// Offers still waiting for room fail with core.ErrQueueClosed.
func (q *SourceQueue[T]) Complete() {
	q.complete.Invoke(struct{}{})
}

// Fail fails the stream with err, discarding the buffered elements.
func (q *SourceQueue[T]) Fail(err error) {
	q.fail.Invoke(err)
}

// WatchCompletion returns a future completed when the stream stops: with nil
// on completion or cancellation, with the failure otherwise.
func (q *SourceQueue[T]) WatchCompletion() *core.Future[core.Done] {
	return q.completion
}

// Source creates a Source emitting the elements offered to its materialized
// SourceQueue. Up to bufferSize elements are buffered when downstream does
// not keep up; strategy decides what happens to offers beyond that. With
// core.Backpressure, at most maxConcurrentOffers offers may wait for room at
// once, served in arrival order. A zero bufferSize only hands elements
// directly to a waiting downstream.
func Source[T any](bufferSize int, strategy core.OverflowStrategy, maxConcurrentOffers int) core.Source[T, *SourceQueue[T]] {
	if bufferSize < 0 {
		panic(&core.ArgumentError{Arg: "bufferSize", Reason: "must not be negative"})
	}
	if maxConcurrentOffers < 1 {
		panic(&core.ArgumentError{Arg: "maxConcurrentOffers", Reason: "must be positive"})
	}
	return core.SourceStage("queueSource", func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, *SourceQueue[T]) {
		l := core.NewSourceLogic(out)
		var (
			buf       *core.Buffer[T]
			waiters   []offer[T]
			completed bool
			done      = core.NewPromise[core.Done]()
		)
		if bufferSize > 0 {
			buf = core.NewBuffer[T](bufferSize)
		}

		buffered := func() int {
			if buf == nil {
				return 0
			}
			return buf.Len()
		}
		failWaiters := func(err error) {
			for _, w := range waiters {
				w.promise.Fail(err)
			}
			waiters = nil
		}
		maybeComplete := func() {
			if completed && buffered() == 0 {
				done.Success(core.Done{})
				l.CompleteStage()
			}
		}
		// admitWaiters moves waiting offers into freed buffer space.
		admitWaiters := func() {
			for len(waiters) > 0 && buf != nil && !buf.IsFull() {
				w := waiters[0]
				waiters = waiters[1:]
				buf.Enqueue(w.value)
				w.promise.Success(Enqueued)
			}
		}

		onOffer := func(o offer[T]) {
			if completed {
				o.promise.Fail(core.ErrQueueClosed)
				return
			}
			if l.IsAvailable(out) && buffered() == 0 {
				core.Push(l, out, o.value)
				o.promise.Success(Enqueued)
				return
			}
			if buf != nil && !buf.IsFull() {
				buf.Enqueue(o.value)
				o.promise.Success(Enqueued)
				return
			}
			switch strategy {
			case core.Backpressure:
				if len(waiters) >= maxConcurrentOffers {
					o.promise.Fail(ErrTooManyOffers)
					return
				}
				waiters = append(waiters, o)
			case core.Fail:
				err := &core.BufferOverflowError{Size: bufferSize}
				o.promise.Fail(err)
				failWaiters(err)
				done.Fail(err)
				l.FailStage(err)
			case core.DropNew:
				o.promise.Success(Dropped)
			default:
				if buf == nil {
					o.promise.Success(Dropped)
					return
				}
				buf.Offer(o.value, strategy)
				o.promise.Success(Enqueued)
			}
		}

		q := &SourceQueue[T]{
			offer: core.NewAsyncCallback(l, onOffer),
			complete: core.NewAsyncCallback(l, func(struct{}) {
				completed = true
				failWaiters(core.ErrQueueClosed)
				maybeComplete()
			}),
			fail: core.NewAsyncCallback(l, func(err error) {
				failWaiters(err)
				done.Fail(err)
				l.FailStage(err)
			}),
			completion: done.Future(),
		}

		l.PostStop = func() {
			failWaiters(core.ErrQueueClosed)
			done.Fail(l.AbortCause())
		}
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				switch {
				case buffered() > 0:
					core.Push(l, out, buf.Dequeue())
					admitWaiters()
					maybeComplete()
				case len(waiters) > 0:
					w := waiters[0]
					waiters = waiters[1:]
					core.Push(l, out, w.value)
					w.promise.Success(Enqueued)
				}
			},
			OnDownstreamFinish: func(cause error) {
				failWaiters(core.ErrQueueClosed)
				if cause != nil {
					done.Fail(cause)
				} else {
					done.Success(core.Done{})
				}
				l.CancelStage(cause)
			},
		})
		return l, q
	})
}
