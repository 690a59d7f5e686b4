package flow

import (
	"iter"
	"slices"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// iterator yields the next element, whether there is one, or a fault.
type iterator[T any] func() (T, bool, error)

// iterSource emits elements from a fresh iterator per materialization.
// Faults from the iterator are handed to the supervision decider: Resume and
// Restart skip the element, Restart also recreates the iterator.
func iterSource[T any](name string, factory func() iterator[T]) Source[T, NotUsed] {
	return core.SourceStage(name, func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, NotUsed) {
		l := core.NewSourceLogic(out)
		next := factory()
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				for {
					v, ok, err := next()
					if err == nil {
						if !ok {
							l.CompleteStage()
							return
						}
						core.Push(l, out, v)
						return
					}
					switch l.Decide(err) {
					case core.Stop:
						l.FailStage(err)
						return
					case core.Restart:
						next = factory()
					}
				}
			},
		})
		return l, NotUsed{}
	})
}

// FromSlice creates a Source that emits each element of items, then
// completes. The slice is copied.
func FromSlice[T any](items []T) Source[T, NotUsed] {
	items = slices.Clone(items)
	return iterSource("fromSlice", func() iterator[T] {
		i := 0
		return func() (T, bool, error) {
			if i >= len(items) {
				var zero T
				return zero, false, nil
			}
			v := items[i]
			i++
			return v, true, nil
		}
	})
}

// Single emits one element and completes.
func Single[T any](v T) Source[T, NotUsed] {
	return FromSlice([]T{v}).Named("single")
}

// Empty completes immediately without emitting.
func Empty[T any]() Source[T, NotUsed] {
	return core.SourceStage("empty", func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, NotUsed) {
		l := core.NewSourceLogic(out)
		l.PreStart = l.CompleteStage
		return l, NotUsed{}
	})
}

// Failed fails immediately with err.
func Failed[T any](err error) Source[T, NotUsed] {
	return core.SourceStage("failed", func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, NotUsed) {
		l := core.NewSourceLogic(out)
		l.PreStart = func() { l.FailStage(err) }
		return l, NotUsed{}
	})
}

// Never neither emits nor completes; it only stops when cancelled.
func Never[T any]() Source[T, NotUsed] {
	return core.SourceStage("never", func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, NotUsed) {
		l := core.NewSourceLogic(out)
		l.SetOutHandler(out, core.OutHandler{OnPull: func() {}})
		return l, NotUsed{}
	})
}

// Repeat emits v forever.
func Repeat[T any](v T) Source[T, NotUsed] {
	return iterSource("repeat", func() iterator[T] {
		return func() (T, bool, error) { return v, true, nil }
	})
}

// Cycle emits the elements of items over and over. An empty slice fails the
// stream with an ArgumentError.
func Cycle[T any](items []T) Source[T, NotUsed] {
	if len(items) == 0 {
		return Failed[T](&core.ArgumentError{Arg: "items", Reason: "cannot cycle an empty slice"}).Named("cycle")
	}
	items = slices.Clone(items)
	return iterSource("cycle", func() iterator[T] {
		i := 0
		return func() (T, bool, error) {
			v := items[i%len(items)]
			i++
			return v, true, nil
		}
	})
}

// Range emits integers from start (inclusive) to end (exclusive).
// If start >= end the source is empty.
func Range(start, end int) Source[int, NotUsed] {
	return RangeStep(start, end, 1)
}

// RangeStep emits start, start+step, ... while below end (or above end for a
// negative step). A zero step panics.
func RangeStep(start, end, step int) Source[int, NotUsed] {
	if step == 0 {
		panic(&core.ArgumentError{Arg: "step", Reason: "must not be zero"})
	}
	return iterSource("range", func() iterator[int] {
		i := start
		return func() (int, bool, error) {
			if (step > 0 && i >= end) || (step < 0 && i <= end) {
				return 0, false, nil
			}
			v := i
			i += step
			return v, true, nil
		}
	})
}

// Iterate emits seed, fn(seed), fn(fn(seed)), ... forever.
func Iterate[T any](seed T, fn func(T) T) Source[T, NotUsed] {
	return iterSource("iterate", func() iterator[T] {
		cur, started := seed, false
		return func() (T, bool, error) {
			if started {
				cur = fn(cur)
			}
			started = true
			return cur, true, nil
		}
	})
}

// Unfold emits elements produced from a state. fn returns the next state, the
// element, and false once the source should complete.
func Unfold[S, T any](seed S, fn func(S) (S, T, bool, error)) Source[T, NotUsed] {
	return iterSource("unfold", func() iterator[T] {
		state := seed
		return func() (T, bool, error) {
			next, v, ok, err := fn(state)
			if err != nil || !ok {
				return v, ok, err
			}
			state = next
			return v, true, nil
		}
	})
}

// FromIter emits the values of seq. The iterator is driven on the stream's
// goroutine and stopped when the stream stops.
func FromIter[T any](seq iter.Seq[T]) Source[T, NotUsed] {
	return core.SourceStage("fromIter", func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, NotUsed) {
		l := core.NewSourceLogic(out)
		var next func() (T, bool)
		stop := func() {}
		l.PreStart = func() { next, stop = iter.Pull(seq) }
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				v, ok := next()
				if !ok {
					l.CompleteStage()
					return
				}
				core.Push(l, out, v)
			},
		})
		l.PostStop = func() { stop() }
		return l, NotUsed{}
	})
}

// FromChannel emits the values received from ch and completes when ch is
// closed. The caller owns ch. At most one value is read ahead of demand.
func FromChannel[T any](ch <-chan T) Source[T, NotUsed] {
	return core.SourceStage("fromChannel", func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, NotUsed) {
		l := core.NewSourceLogic(out)
		type received struct {
			v  T
			ok bool
		}
		demand := make(chan struct{}, 1)
		onReceive := core.NewAsyncCallback(l, func(r received) {
			if !r.ok {
				l.CompleteStage()
				return
			}
			core.Push(l, out, r.v)
		})
		l.PreStart = func() {
			ctx := l.Context()
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-demand:
					}
					select {
					case <-ctx.Done():
						return
					case v, ok := <-ch:
						onReceive.Invoke(received{v: v, ok: ok})
						if !ok {
							return
						}
					}
				}
			}()
		}
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() { demand <- struct{}{} },
		})
		return l, NotUsed{}
	})
}

// FromFuture emits the value of f once it completes, or fails with its error.
func FromFuture[T any](f *Future[T]) Source[T, NotUsed] {
	return core.SourceStage("fromFuture", func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, NotUsed) {
		l := core.NewSourceLogic(out)
		var (
			value   T
			ready   bool
			pending bool
		)
		onDone := core.NewAsyncCallback(l, func(r core.Result[T]) {
			if r.IsError() {
				l.FailStage(r.Error())
				return
			}
			value, ready = r.Value(), true
			if pending {
				core.Push(l, out, value)
				l.CompleteStage()
			}
		})
		l.PreStart = func() {
			f.OnComplete(func(v T, err error) {
				if err != nil {
					onDone.Invoke(core.Err[T](err))
					return
				}
				onDone.Invoke(core.Ok(v))
			})
		}
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				if !ready {
					pending = true
					return
				}
				core.Push(l, out, value)
				l.CompleteStage()
			},
		})
		return l, NotUsed{}
	})
}

// UnfoldResource reads elements from a resource opened per materialization.
// read returns false at the end of the resource. close runs exactly once,
// when the stream stops for any reason. Read faults are supervised: Resume
// skips the element, Restart closes and reopens the resource.
func UnfoldResource[R, T any](open func() (R, error), read func(R) (T, bool, error), close func(R) error) Source[T, NotUsed] {
	return core.SourceStage("unfoldResource", func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, NotUsed) {
		l := core.NewSourceLogic(out)
		var (
			res    R
			opened bool
		)
		closeRes := func() error {
			if !opened {
				return nil
			}
			opened = false
			return close(res)
		}
		openRes := func() bool {
			r, err := open()
			if err != nil {
				l.FailStage(err)
				return false
			}
			res, opened = r, true
			return true
		}
		l.PreStart = func() { openRes() }
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				for {
					v, ok, err := read(res)
					if err == nil {
						if !ok {
							if err := closeRes(); err != nil {
								l.FailStage(err)
								return
							}
							l.CompleteStage()
							return
						}
						core.Push(l, out, v)
						return
					}
					switch l.Decide(err) {
					case core.Stop:
						l.FailStage(err)
						return
					case core.Restart:
						if cerr := closeRes(); cerr != nil {
							l.FailStage(cerr)
							return
						}
						if !openRes() {
							return
						}
					}
				}
			},
		})
		l.PostStop = func() {
			if err := closeRes(); err != nil {
				l.Logger().Warn("closing resource failed")
			}
		}
		return l, NotUsed{}
	})
}

// Lazy defers creating the source until the first pull. The materialized
// future completes with the inner source's value once it is materialized, or
// fails if the stream stops before that.
func Lazy[T, M any](factory func() (Source[T, M], error)) Source[T, *Future[M]] {
	return core.SourceStage("lazySource", func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, *Future[M]) {
		l := core.NewSourceLogic(out)
		promise := core.NewPromise[M]()
		sub := core.NewSubSinkInlet[T](l, "lazySource.sub")
		sub.SetHandler(core.InHandler{
			OnPush:           func() { core.Push(l, out, sub.Grab()) },
			OnUpstreamFinish: l.CompleteStage,
		})
		started := false
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				if !started {
					started = true
					src, err := factory()
					if err != nil {
						promise.Fail(err)
						l.FailStage(err)
						return
					}
					m, err := core.MaterializeSubSource(sub, src)
					if err != nil {
						promise.Fail(err)
						l.FailStage(err)
						return
					}
					promise.Success(m)
				}
				sub.Pull()
			},
		})
		l.PostStop = func() { promise.Fail(l.AbortCause()) }
		return l, promise.Future()
	})
}

// FromPublisher consumes an external Publisher under the demand protocol.
func FromPublisher[T any](pub Publisher[T]) Source[T, NotUsed] {
	return core.PublisherSource(pub)
}
