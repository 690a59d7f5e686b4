package flow

import (
	"github.com/sourcegraph/conc"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// foldSink pulls every element into an accumulator and completes the promise
// with the final value when upstream finishes. Faults in fn are supervised.
func foldSink[T, A any](name string, zero func() A, fn func(A, T) (A, error), finish func(A) (A, error)) Sink[T, *Future[A]] {
	return core.SinkStage(name, func(_ core.Attributes, in core.Inlet[T]) (*core.Logic, *Future[A]) {
		l := core.NewSinkLogic(in)
		promise := core.NewPromise[A]()
		acc := zero()
		l.PreStart = func() { l.Pull(in) }
		l.SetInHandler(in, core.InHandler{
			OnPush: func() {
				res := core.Try2(fn, acc, core.Grab(l, in))
				if res.IsError() {
					// a stopped stage fails the promise from PostStop
					if !l.Supervise(res.Error(), func() { acc = zero() }) {
						return
					}
				} else {
					acc = res.Value()
				}
				l.Pull(in)
			},
			OnUpstreamFinish: func() {
				promise.Complete(finish(acc))
				l.CompleteStage()
			},
			OnUpstreamFailure: func(err error) {
				promise.Fail(err)
				l.FailStage(err)
			},
		})
		l.PostStop = func() { promise.Fail(l.AbortCause()) }
		return l, promise.Future()
	})
}

func noFinish[A any](a A) (A, error) { return a, nil }

// Seq collects every element into a slice.
func Seq[T any]() Sink[T, *Future[[]T]] {
	return foldSink("seqSink", func() []T { return []T{} }, func(acc []T, v T) ([]T, error) {
		return append(acc, v), nil
	}, noFinish[[]T])
}

// Fold folds every element into an accumulator starting from zero.
func Fold[T, A any](zero A, fn func(A, T) (A, error)) Sink[T, *Future[A]] {
	return foldSink("foldSink", func() A { return zero }, fn, noFinish[A])
}

// Reduce folds every element using the first one as the initial value. An
// empty stream fails with ErrNoSuchElement.
func Reduce[T any](fn func(T, T) (T, error)) Sink[T, *Future[T]] {
	type state struct {
		v   T
		set bool
	}
	return MapMaterializedValue(foldSink("reduceSink", func() state { return state{} },
		func(s state, v T) (state, error) {
			if !s.set {
				return state{v: v, set: true}, nil
			}
			r, err := fn(s.v, v)
			if err != nil {
				return s, err
			}
			return state{v: r, set: true}, nil
		},
		func(s state) (state, error) {
			if !s.set {
				return s, core.ErrNoSuchElement
			}
			return s, nil
		}), func(f *Future[state]) *Future[T] {
		return mapFuture(f, func(s state) T { return s.v })
	})
}

// Count counts the elements.
func Count[T any]() Sink[T, *Future[int]] {
	return foldSink("countSink", func() int { return 0 }, func(n int, _ T) (int, error) {
		return n + 1, nil
	}, noFinish[int])
}

// ForEach calls fn for every element. The future completes when the stream
// completes. An error from fn is supervised: Resume and Restart skip the
// element, Stop fails the stream.
func ForEach[T any](fn func(T) error) Sink[T, *Future[Done]] {
	return foldSink("forEachSink", func() Done { return Done{} }, func(d Done, v T) (Done, error) {
		return d, fn(v)
	}, noFinish[Done])
}

// Ignore consumes and discards every element.
func Ignore[T any]() Sink[T, *Future[Done]] {
	return foldSink("ignoreSink", func() Done { return Done{} }, func(d Done, _ T) (Done, error) {
		return d, nil
	}, noFinish[Done])
}

// headSink completes with the first element and cancels upstream.
func headSink[T any](name string, orElse func() (T, error)) Sink[T, *Future[T]] {
	return core.SinkStage(name, func(_ core.Attributes, in core.Inlet[T]) (*core.Logic, *Future[T]) {
		l := core.NewSinkLogic(in)
		promise := core.NewPromise[T]()
		l.PreStart = func() { l.Pull(in) }
		l.SetInHandler(in, core.InHandler{
			OnPush: func() {
				promise.Success(core.Grab(l, in))
				l.CompleteStage()
			},
			OnUpstreamFinish: func() {
				promise.Complete(orElse())
				l.CompleteStage()
			},
			OnUpstreamFailure: func(err error) {
				promise.Fail(err)
				l.FailStage(err)
			},
		})
		l.PostStop = func() { promise.Fail(l.AbortCause()) }
		return l, promise.Future()
	})
}

// Head completes with the first element, or fails with ErrNoSuchElement if
// the stream is empty.
func Head[T any]() Sink[T, *Future[T]] {
	return headSink("headSink", func() (T, error) {
		var zero T
		return zero, core.ErrNoSuchElement
	})
}

// HeadOrDefault completes with the first element, or def if the stream is
// empty.
func HeadOrDefault[T any](def T) Sink[T, *Future[T]] {
	return headSink("headOptionSink", func() (T, error) { return def, nil })
}

// Last completes with the last element, or fails with ErrNoSuchElement if
// the stream is empty.
func Last[T any]() Sink[T, *Future[T]] {
	return lastSink("lastSink", func() (T, error) {
		var zero T
		return zero, core.ErrNoSuchElement
	})
}

// LastOrDefault completes with the last element, or def if the stream is
// empty.
func LastOrDefault[T any](def T) Sink[T, *Future[T]] {
	return lastSink("lastOptionSink", func() (T, error) { return def, nil })
}

func lastSink[T any](name string, orElse func() (T, error)) Sink[T, *Future[T]] {
	return MapMaterializedValue(foldSink(name, func() Option[T] { return core.None[T]() },
		func(_ Option[T], v T) (Option[T], error) { return core.Some(v), nil },
		func(o Option[T]) (Option[T], error) {
			if o.Valid {
				return o, nil
			}
			v, err := orElse()
			return core.Some(v), err
		}), func(f *Future[Option[T]]) *Future[T] {
		return mapFuture(f, func(o Option[T]) T { return o.Value })
	})
}

// Cancelled cancels upstream immediately.
func Cancelled[T any]() Sink[T, NotUsed] {
	return core.SinkStage("cancelledSink", func(_ core.Attributes, in core.Inlet[T]) (*core.Logic, NotUsed) {
		l := core.NewSinkLogic(in)
		l.PreStart = func() { l.Cancel(in) }
		l.SetInHandler(in, core.InHandler{})
		return l, NotUsed{}
	})
}

// OnComplete consumes the stream and calls fn once with nil on completion or
// with the failure.
func OnComplete[T any](fn func(error)) Sink[T, NotUsed] {
	return core.SinkStage("onCompleteSink", func(_ core.Attributes, in core.Inlet[T]) (*core.Logic, NotUsed) {
		l := core.NewSinkLogic(in)
		called := false
		call := func(err error) {
			if !called {
				called = true
				fn(err)
			}
		}
		l.PreStart = func() { l.Pull(in) }
		l.SetInHandler(in, core.InHandler{
			OnPush: func() {
				core.Grab(l, in)
				l.Pull(in)
			},
			OnUpstreamFinish: func() {
				call(nil)
				l.CompleteStage()
			},
			OnUpstreamFailure: func(err error) {
				call(err)
				l.FailStage(err)
			},
		})
		l.PostStop = func() { call(l.AbortCause()) }
		return l, NotUsed{}
	})
}

// ToChannel sends every element to ch, blocking the stream while ch is full.
// ch is closed when the stream terminates; the future reports how.
func ToChannel[T any](ch chan<- T) Sink[T, *Future[Done]] {
	return core.SinkStage("toChannelSink", func(_ core.Attributes, in core.Inlet[T]) (*core.Logic, *Future[Done]) {
		l := core.NewSinkLogic(in)
		promise := core.NewPromise[Done]()
		var (
			closed   bool
			inFlight bool
			upDone   bool
			senders  conc.WaitGroup
		)
		closeCh := func() {
			if !closed {
				closed = true
				close(ch)
			}
		}
		finish := func() {
			closeCh()
			promise.Success(Done{})
			l.CompleteStage()
		}
		sent := core.NewAsyncCallback(l, func(struct{}) {
			inFlight = false
			if upDone {
				finish()
				return
			}
			l.Pull(in)
		})
		l.PreStart = func() { l.Pull(in) }
		l.SetInHandler(in, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, in)
				inFlight = true
				ctx := l.Context()
				senders.Go(func() {
					select {
					case ch <- v:
						sent.Invoke(struct{}{})
					case <-ctx.Done():
					}
				})
			},
			OnUpstreamFinish: func() {
				upDone = true
				if inFlight {
					l.SetKeepGoing(true)
					return
				}
				finish()
			},
			OnUpstreamFailure: func(err error) {
				promise.Fail(err)
				l.FailStage(err)
			},
		})
		// The context is cancelled by now, so a blocked sender returns.
		l.PostStop = func() {
			senders.Wait()
			closeCh()
			promise.Fail(l.AbortCause())
		}
		return l, promise.Future()
	})
}

// AsPublisher exposes the stream as a Publisher that accepts exactly one
// subscriber.
func AsPublisher[T any]() Sink[T, Publisher[T]] {
	return core.PublisherSink[T]()
}

// FromSubscriber feeds the stream into an external Subscriber.
func FromSubscriber[T any](s Subscriber[T]) Sink[T, NotUsed] {
	return core.SubscriberSink(s)
}

// mapFuture derives a future from f.
func mapFuture[A, B any](f *Future[A], fn func(A) B) *Future[B] {
	p := core.NewPromise[B]()
	f.OnComplete(func(v A, err error) {
		if err != nil {
			p.Fail(err)
			return
		}
		p.Success(fn(v))
	})
	return p.Future()
}
