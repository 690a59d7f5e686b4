package combine

import (
	"slices"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// ZipWith creates a junction that waits for one element from each input and
// emits combine of the two. It completes as soon as either input completes
// with nothing pending. A combine failure fails the stage; it is not handed
// to supervision since it concerns more than one input.
func ZipWith[A, B, O any](combine func(A, B) (O, error)) core.Graph[core.FanInShape2[A, B, O], core.NotUsed] {
	shape := core.FanInShape2[A, B, O]{
		In0: core.NewInlet[A]("zipWith.in0"),
		In1: core.NewInlet[B]("zipWith.in1"),
		Out: core.NewOutlet[O]("zipWith.out"),
	}
	return core.NewStage(shape, core.Named("zipWith"), func(_ core.Attributes, s core.FanInShape2[A, B, O]) (*core.Logic, core.NotUsed) {
		l := core.NewLogic(s)
		z := &zipper{l: l, ins: []core.InPort{s.In0, s.In1}, out: s.Out}
		z.push = func() {
			res := core.Try2(combine, core.Grab(l, s.In0), core.Grab(l, s.In1))
			if res.IsError() {
				l.FailStage(res.Error())
				return
			}
			core.Push(l, s.Out, res.Value())
		}
		z.install()
		return l, core.NotUsed{}
	})
}

// Zip creates a junction pairing the elements of its two inputs.
func Zip[A, B any]() core.Graph[core.FanInShape2[A, B, core.Pair[A, B]], core.NotUsed] {
	return ZipWith(func(a A, b B) (core.Pair[A, B], error) {
		return core.Pair[A, B]{Left: a, Right: b}, nil
	}).Named("zip")
}

// ZipWithN creates a junction over n inputs that emits combine of one
// element from each, only once all n have one ready.
func ZipWithN[T, O any](combine func([]T) (O, error), n int) core.Graph[core.UniformFanInShape[T, O], core.NotUsed] {
	checkInputs("n", n)
	shape := core.NewUniformFanInShape[T, O]("zipWithN", n)
	return core.NewStage(shape, core.Named("zipWithN"), func(_ core.Attributes, s core.UniformFanInShape[T, O]) (*core.Logic, core.NotUsed) {
		l := core.NewLogic(s)
		ports := make([]core.InPort, n)
		for i, in := range s.Ins {
			ports[i] = in
		}
		z := &zipper{l: l, ins: ports, out: s.Out}
		z.push = func() {
			vals := make([]T, n)
			for i, in := range s.Ins {
				vals[i] = core.Grab(l, in)
			}
			res := core.Try(combine, vals)
			if res.IsError() {
				l.FailStage(res.Error())
				return
			}
			core.Push(l, s.Out, res.Value())
		}
		z.install()
		return l, core.NotUsed{}
	})
}

// ZipN creates a junction emitting one element of each of its n inputs as a
// slice.
func ZipN[T any](n int) core.Graph[core.UniformFanInShape[T, []T], core.NotUsed] {
	return ZipWithN(func(vs []T) ([]T, error) { return slices.Clone(vs), nil }, n).Named("zipN")
}

// zipper pulls every input once per downstream pull and pushes when the last
// one arrived.
type zipper struct {
	l       *core.Logic
	ins     []core.InPort
	out     core.OutPort
	push    func()
	pending int
	// an input completed while holding an element: finish after pushing it
	willShutDown bool
}

func (z *zipper) install() {
	for _, in := range z.ins {
		z.l.SetInHandler(in, core.InHandler{
			OnPush: func() {
				z.pending--
				if z.pending > 0 {
					return
				}
				z.push()
				if z.willShutDown {
					z.l.CompleteStage()
				}
			},
			OnUpstreamFinish: func() {
				if !z.l.IsAvailable(in) {
					z.l.CompleteStage()
					return
				}
				z.willShutDown = true
			},
		})
	}
	z.l.SetOutHandler(z.out, core.OutHandler{
		OnPull: func() {
			z.pending = len(z.ins)
			for _, in := range z.ins {
				z.l.Pull(in)
			}
		},
	})
}
