// Package flowerrors provides stages that react to stream failures:
// recovering with a final element or a fallback source, mapping or observing
// the failure, retrying user calls and restarting whole sources and flows
// with backoff.
package flowerrors

import (
	"errors"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Recover creates a Flow that passes elements through and, when upstream
// fails, asks pf for a final element to emit before completing. When pf
// returns None the original failure goes downstream unchanged. An error from
// pf fails the stream with that error instead.
func Recover[T any](pf func(error) (core.Option[T], error)) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("recover", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() { core.Push(l, out, core.Grab(l, in)) },
			OnUpstreamFailure: func(err error) {
				res := core.Try(pf, err)
				switch {
				case res.IsError():
					l.FailStage(res.Error())
				case res.Value().Valid:
					core.Emit(l, out, res.Value().Value)
					l.CompleteStage()
				default:
					l.FailStage(err)
				}
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// CatchError recovers from failures matching predicate with the value
// returned by handler. Other failures pass through.
func CatchError[T any](predicate func(error) bool, handler func(error) (T, error)) core.Flow[T, T, core.NotUsed] {
	return Recover(func(err error) (core.Option[T], error) {
		if !predicate(err) {
			return core.None[T](), nil
		}
		v, herr := handler(err)
		if herr != nil {
			return core.None[T](), herr
		}
		return core.Some(v), nil
	}).Named("catchError")
}

// FallbackValue turns any failure into a final v.
func FallbackValue[T any](v T) core.Flow[T, T, core.NotUsed] {
	return Recover(func(error) (core.Option[T], error) {
		return core.Some(v), nil
	}).Named("fallbackValue")
}

// RecoverPanic recovers only from failures caused by a panic in user code,
// handing the recovered value to recoverFn.
func RecoverPanic[T any](recoverFn func(panicValue any) (T, error)) core.Flow[T, T, core.NotUsed] {
	return CatchError(func(err error) bool {
		var panicErr core.ErrPanic
		return errors.As(err, &panicErr)
	}, func(err error) (T, error) {
		var panicErr core.ErrPanic
		errors.As(err, &panicErr)
		return recoverFn(panicErr.Value)
	}).Named("recoverPanic")
}

// MapError creates a Flow that replaces an upstream failure with fn(err).
func MapError[T any](fn func(error) error) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("mapError", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() { core.Push(l, out, core.Grab(l, in)) },
			OnUpstreamFailure: func(err error) {
				res := core.Try(func(err error) (error, error) { return fn(err), nil }, err)
				if res.IsError() {
					l.FailStage(res.Error())
					return
				}
				if mapped := res.Value(); mapped != nil {
					l.FailStage(mapped)
					return
				}
				l.FailStage(err)
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// OnError creates a Flow that calls handler with an upstream failure before
// passing it on.
func OnError[T any](handler func(error)) core.Flow[T, T, core.NotUsed] {
	return MapError[T](func(err error) error {
		handler(err)
		return err
	}).Named("onError")
}

// FilterErrors creates a Flow that turns failures matching predicate into
// normal completion. Other failures pass through.
func FilterErrors[T any](predicate func(error) bool) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("filterErrors", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() { core.Push(l, out, core.Grab(l, in)) },
			OnUpstreamFailure: func(err error) {
				res := core.Try(func(err error) (bool, error) { return predicate(err), nil }, err)
				switch {
				case res.IsError():
					l.FailStage(res.Error())
				case res.Value():
					l.CompleteStage()
				default:
					l.FailStage(err)
				}
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// IgnoreErrors completes the stream instead of failing it.
func IgnoreErrors[T any]() core.Flow[T, T, core.NotUsed] {
	return FilterErrors[T](func(error) bool { return true }).Named("ignoreErrors")
}

// RecoverWithRetries creates a Flow that, when upstream fails, switches to
// the source returned by pf and keeps emitting from it. A failure of that
// source is handled the same way, up to attempts switches in total; a
// negative attempts means no limit. When pf returns None, or the attempts are
// used up, the failure goes downstream.
func RecoverWithRetries[T, M any](attempts int, pf func(error) (core.Option[core.Source[T, M]], error)) core.Flow[T, T, core.NotUsed] {
	return core.FlowStage("recoverWithRetries", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var (
			sub      *core.SubSinkInlet[T]
			switched int
			switchTo func(err error)
		)
		switchTo = func(err error) {
			sub = nil
			if attempts >= 0 && switched >= attempts {
				l.FailStage(err)
				return
			}
			res := core.Try(pf, err)
			if res.IsError() {
				l.FailStage(res.Error())
				return
			}
			if !res.Value().Valid {
				l.FailStage(err)
				return
			}
			switched++
			s := core.NewSubSinkInlet[T](l, "recoverWithRetries.sub")
			s.SetHandler(core.InHandler{
				OnPush:            func() { core.Push(l, out, s.Grab()) },
				OnUpstreamFinish:  l.CompleteStage,
				OnUpstreamFailure: switchTo,
			})
			sub = s
			if _, err := core.MaterializeSubSource(s, res.Value().Value); err != nil {
				l.FailStage(err)
				return
			}
			if l.IsAvailable(out) {
				s.Pull()
			}
		}

		l.SetHandlers(in, out, core.InHandler{
			OnPush:            func() { core.Push(l, out, core.Grab(l, in)) },
			OnUpstreamFailure: switchTo,
		}, core.OutHandler{
			OnPull: func() {
				if sub != nil {
					if !sub.IsClosed() && !sub.HasBeenPulled() {
						sub.Pull()
					}
					return
				}
				l.Pull(in)
			},
		})
		return l
	})
}

// RecoverWith is RecoverWithRetries without a limit on switches.
func RecoverWith[T, M any](pf func(error) (core.Option[core.Source[T, M]], error)) core.Flow[T, T, core.NotUsed] {
	return RecoverWithRetries(-1, pf).Named("recoverWith")
}
