// Package transform provides element-wise and reshaping operators.
package transform

import (
	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Map creates a Flow that applies fn to every element. An error or panic in
// fn is a fault handed to the stage's supervision decider.
func Map[IN, OUT any](fn func(IN) (OUT, error)) core.Flow[IN, OUT, core.NotUsed] {
	return core.FlowStage("map", func(_ core.Attributes, in core.Inlet[IN], out core.Outlet[OUT]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				res := core.Try(fn, core.Grab(l, in))
				if res.IsError() {
					if l.Supervise(res.Error(), nil) {
						l.Pull(in)
					}
					return
				}
				core.Push(l, out, res.Value())
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// MapConcat creates a Flow that maps every element to a slice and emits the
// slice's elements one by one. Empty slices emit nothing.
func MapConcat[IN, OUT any](fn func(IN) ([]OUT, error)) core.Flow[IN, OUT, core.NotUsed] {
	return StatefulMapConcat(func() func(IN) ([]OUT, error) { return fn }).Named("mapConcat")
}

// StatefulMapConcat is MapConcat with per-materialization state: factory is
// called once per run, and again when the stage restarts.
func StatefulMapConcat[IN, OUT any](factory func() func(IN) ([]OUT, error)) core.Flow[IN, OUT, core.NotUsed] {
	return core.FlowStage("statefulMapConcat", func(_ core.Attributes, in core.Inlet[IN], out core.Outlet[OUT]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		fn := factory()
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				res := core.Try(fn, core.Grab(l, in))
				if res.IsError() {
					if l.Supervise(res.Error(), func() { fn = factory() }) {
						l.Pull(in)
					}
					return
				}
				if len(res.Value()) == 0 {
					l.Pull(in)
					return
				}
				core.EmitMultiple(l, out, res.Value())
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// Collect creates a Flow that applies a partial function: elements for which
// fn reports false are skipped.
func Collect[IN, OUT any](fn func(IN) (OUT, bool, error)) core.Flow[IN, OUT, core.NotUsed] {
	type result struct {
		v  OUT
		ok bool
	}
	apply := func(v IN) (result, error) {
		o, ok, err := fn(v)
		return result{o, ok}, err
	}
	return core.FlowStage("collect", func(_ core.Attributes, in core.Inlet[IN], out core.Outlet[OUT]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				res := core.Try(apply, core.Grab(l, in))
				switch {
				case res.IsError():
					if l.Supervise(res.Error(), nil) {
						l.Pull(in)
					}
				case res.Value().ok:
					core.Push(l, out, res.Value().v)
				default:
					l.Pull(in)
				}
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// FlatMapConcat creates a Flow that maps every element to a source and emits
// the elements of each source in turn, materializing one source at a time.
func FlatMapConcat[IN, OUT, M any](fn func(IN) (core.Source[OUT, M], error)) core.Flow[IN, OUT, core.NotUsed] {
	return core.FlowStage("flatMapConcat", func(_ core.Attributes, in core.Inlet[IN], out core.Outlet[OUT]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		var sub *core.SubSinkInlet[OUT]

		pullNext := func() {
			if l.IsClosed(in) {
				l.CompleteStage()
				return
			}
			l.Pull(in)
		}
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				res := core.Try(fn, core.Grab(l, in))
				if res.IsError() {
					if l.Supervise(res.Error(), nil) {
						pullNext()
					}
					return
				}
				s := core.NewSubSinkInlet[OUT](l, "flatMapConcat.sub")
				s.SetHandler(core.InHandler{
					OnPush: func() { core.Push(l, out, s.Grab()) },
					OnUpstreamFinish: func() {
						sub = nil
						if l.IsAvailable(out) {
							pullNext()
						} else if l.IsClosed(in) {
							l.CompleteStage()
						}
					},
				})
				sub = s
				if _, err := core.MaterializeSubSource(s, res.Value()); err != nil {
					l.FailStage(err)
					return
				}
				s.Pull()
			},
			OnUpstreamFinish: func() {
				if sub == nil {
					l.CompleteStage()
				}
			},
		}, core.OutHandler{
			OnPull: func() {
				if sub != nil {
					sub.Pull()
					return
				}
				l.Pull(in)
			},
		})
		return l
	})
}
