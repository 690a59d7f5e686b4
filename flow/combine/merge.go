// Package combine provides fan-in and fan-out junctions, and source helpers
// built from them.
package combine

import (
	"math/rand/v2"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

func checkInputs(name string, n int) {
	if n < 1 {
		panic(&core.ArgumentError{Arg: name, Reason: "must be at least 1"})
	}
}

// merger is the shared logic of the merge junctions. Every input owns a
// one-element slot that is refilled, and the input pulled again, as soon as
// the slot empties, so that the selection policy sees every input that has
// data ready.
type merger[T any] struct {
	l     *core.Logic
	ins   []core.Inlet[T]
	out   core.Outlet[T]
	slots []core.Option[T]
	eager bool
	// pick returns the index of the slot to emit next, or -1.
	pick func(ready []core.Option[T]) int
}

func (m *merger[T]) install() {
	m.slots = make([]core.Option[T], len(m.ins))
	m.l.PreStart = func() {
		for _, in := range m.ins {
			m.l.Pull(in)
		}
	}
	for i, in := range m.ins {
		m.l.SetInHandler(in, core.InHandler{
			OnPush: func() {
				// a full slot leaves the element in the port for tryEmit
				if !m.slots[i].Valid {
					m.refill(i)
				}
				m.tryEmit()
			},
			OnUpstreamFinish: func() {
				if m.eager {
					m.l.CompleteStage()
					return
				}
				m.completeIfDrained()
			},
		})
	}
	m.l.SetOutHandler(m.out, core.OutHandler{OnPull: m.tryEmit})
}

func (m *merger[T]) refill(i int) {
	in := m.ins[i]
	if !m.l.IsAvailable(in) {
		return
	}
	m.slots[i] = core.Some(core.Grab(m.l, in))
	if !m.l.IsClosed(in) {
		m.l.Pull(in)
	}
}

func (m *merger[T]) tryEmit() {
	if !m.l.IsAvailable(m.out) {
		return
	}
	i := m.pick(m.slots)
	if i < 0 {
		return
	}
	v := m.slots[i].Value
	m.slots[i] = core.None[T]()
	core.Push(m.l, m.out, v)
	// the emptied slot takes the element already waiting in its port
	m.refill(i)
	m.completeIfDrained()
}

func (m *merger[T]) completeIfDrained() {
	// drained: closed, with nothing in the slot or the port
	for i, in := range m.ins {
		if !m.l.IsClosed(in) || m.slots[i].Valid || m.l.IsAvailable(in) {
			return
		}
	}
	m.l.CompleteStage()
}

// roundRobin picks the first ready slot after the one picked last.
func roundRobin[T any](offset int) func([]core.Option[T]) int {
	next := 0
	return func(slots []core.Option[T]) int {
		n := len(slots) - offset
		for k := range n {
			i := offset + (next+k)%n
			if slots[i].Valid {
				next = (i - offset + 1) % n
				return i
			}
		}
		return -1
	}
}

// Merge creates a junction emitting the elements of n inputs as they arrive,
// picking fairly among the inputs that have data ready. It completes when all
// inputs have completed, or when the first one does if eagerComplete is set.
func Merge[T any](n int, eagerComplete bool) core.Graph[core.UniformFanInShape[T, T], core.NotUsed] {
	checkInputs("n", n)
	shape := core.NewUniformFanInShape[T, T]("merge", n)
	return core.NewStage(shape, core.Named("merge"), func(_ core.Attributes, s core.UniformFanInShape[T, T]) (*core.Logic, core.NotUsed) {
		l := core.NewLogic(s)
		m := &merger[T]{l: l, ins: s.Ins, out: s.Out, eager: eagerComplete, pick: roundRobin[T](0)}
		m.install()
		return l, core.NotUsed{}
	})
}

// MergePreferred creates a junction with one preferred input and n secondary
// ones. Whenever the preferred input has data ready it is emitted; the
// secondary inputs are merged fairly otherwise.
func MergePreferred[T any](n int, eagerComplete bool) core.Graph[core.MergePreferredShape[T], core.NotUsed] {
	checkInputs("n", n)
	fan := core.NewUniformFanInShape[T, T]("mergePreferred", n)
	shape := core.MergePreferredShape[T]{
		Preferred: core.NewInlet[T]("mergePreferred.preferred"),
		Ins:       fan.Ins,
		Out:       fan.Out,
	}
	return core.NewStage(shape, core.Named("mergePreferred"), func(_ core.Attributes, s core.MergePreferredShape[T]) (*core.Logic, core.NotUsed) {
		l := core.NewLogic(s)
		secondary := roundRobin[T](1)
		m := &merger[T]{
			l:     l,
			ins:   append([]core.Inlet[T]{s.Preferred}, s.Ins...),
			out:   s.Out,
			eager: eagerComplete,
			pick: func(slots []core.Option[T]) int {
				if slots[0].Valid {
					return 0
				}
				return secondary(slots)
			},
		}
		m.install()
		return l, core.NotUsed{}
	})
}

// MergePrioritized creates a junction choosing among the inputs with data
// ready at random, weighted by priorities. Over a long run the share of each
// input converges to its weight over the sum of the weights of the inputs
// that keep up.
func MergePrioritized[T any](priorities []int, eagerComplete bool) core.Graph[core.UniformFanInShape[T, T], core.NotUsed] {
	checkInputs("priorities", len(priorities))
	for _, p := range priorities {
		if p <= 0 {
			panic(&core.ArgumentError{Arg: "priorities", Reason: "must all be positive"})
		}
	}
	weights := append([]int(nil), priorities...)
	shape := core.NewUniformFanInShape[T, T]("mergePrioritized", len(weights))
	return core.NewStage(shape, core.Named("mergePrioritized"), func(_ core.Attributes, s core.UniformFanInShape[T, T]) (*core.Logic, core.NotUsed) {
		l := core.NewLogic(s)
		m := &merger[T]{
			l:     l,
			ins:   s.Ins,
			out:   s.Out,
			eager: eagerComplete,
			pick: func(slots []core.Option[T]) int {
				total := 0
				for i, slot := range slots {
					if slot.Valid {
						total += weights[i]
					}
				}
				if total == 0 {
					return -1
				}
				r := rand.IntN(total)
				for i, slot := range slots {
					if !slot.Valid {
						continue
					}
					if r < weights[i] {
						return i
					}
					r -= weights[i]
				}
				return -1
			},
		}
		m.install()
		return l, core.NotUsed{}
	})
}

// MergeSorted creates a junction merging two inputs that are each sorted by
// less into one sorted output. It waits for both heads and emits the smaller
// one, the first input winning ties. Once an input completes, the other one
// passes through.
func MergeSorted[T any](less func(a, b T) bool) core.Graph[core.FanInShape2[T, T, T], core.NotUsed] {
	shape := core.FanInShape2[T, T, T]{
		In0: core.NewInlet[T]("mergeSorted.in0"),
		In1: core.NewInlet[T]("mergeSorted.in1"),
		Out: core.NewOutlet[T]("mergeSorted.out"),
	}
	return core.NewStage(shape, core.Named("mergeSorted"), func(_ core.Attributes, s core.FanInShape2[T, T, T]) (*core.Logic, core.NotUsed) {
		l := core.NewLogic(s)
		var heads [2]core.Option[T]
		ins := [2]core.Inlet[T]{s.In0, s.In1}
		done := func(i int) bool { return l.IsClosed(ins[i]) && !heads[i].Valid }

		emit := func(i int) {
			v := heads[i].Value
			heads[i] = core.None[T]()
			core.Push(l, s.Out, v)
			l.TryPull(ins[i])
		}
		step := func() {
			if done(0) && done(1) {
				l.CompleteStage()
				return
			}
			if !l.IsAvailable(s.Out) {
				return
			}
			switch {
			case heads[0].Valid && heads[1].Valid:
				if less(heads[1].Value, heads[0].Value) {
					emit(1)
				} else {
					emit(0)
				}
			case heads[0].Valid && done(1):
				emit(0)
			case heads[1].Valid && done(0):
				emit(1)
			}
			if done(0) && done(1) {
				l.CompleteStage()
			}
		}

		l.PreStart = func() {
			l.Pull(s.In0)
			l.Pull(s.In1)
		}
		for i, in := range ins {
			l.SetInHandler(in, core.InHandler{
				OnPush: func() {
					heads[i] = core.Some(core.Grab(l, in))
					step()
				},
				OnUpstreamFinish: step,
			})
		}
		l.SetOutHandler(s.Out, core.OutHandler{OnPull: step})
		return l, core.NotUsed{}
	})
}

// Concat creates a junction emitting all elements of its first input, then
// all of the second, and so on. Inputs are only pulled while they are
// current.
func Concat[T any](n int) core.Graph[core.UniformFanInShape[T, T], core.NotUsed] {
	checkInputs("n", n)
	shape := core.NewUniformFanInShape[T, T]("concat", n)
	return core.NewStage(shape, core.Named("concat"), func(_ core.Attributes, s core.UniformFanInShape[T, T]) (*core.Logic, core.NotUsed) {
		l := core.NewLogic(s)
		current := 0
		advance := func() {
			for current < n && l.IsClosed(s.Ins[current]) {
				current++
			}
			if current == n {
				l.CompleteStage()
				return
			}
			if l.IsAvailable(s.Out) {
				l.TryPull(s.Ins[current])
			}
		}
		for i, in := range s.Ins {
			l.SetInHandler(in, core.InHandler{
				OnPush: func() { core.Push(l, s.Out, core.Grab(l, in)) },
				OnUpstreamFinish: func() {
					if i == current {
						advance()
					}
				},
			})
		}
		l.SetOutHandler(s.Out, core.OutHandler{
			OnPull: func() { l.TryPull(s.Ins[current]) },
		})
		return l, core.NotUsed{}
	})
}

// Interleave creates a junction emitting segmentSize elements from each
// input in turn. An input that completes is skipped; with eagerClose the
// junction completes with it.
func Interleave[T any](n, segmentSize int, eagerClose bool) core.Graph[core.UniformFanInShape[T, T], core.NotUsed] {
	checkInputs("n", n)
	if segmentSize < 1 {
		panic(&core.ArgumentError{Arg: "segmentSize", Reason: "must be at least 1"})
	}
	shape := core.NewUniformFanInShape[T, T]("interleave", n)
	return core.NewStage(shape, core.Named("interleave"), func(_ core.Attributes, s core.UniformFanInShape[T, T]) (*core.Logic, core.NotUsed) {
		l := core.NewLogic(s)
		current, count := 0, 0
		allClosed := func() bool {
			for _, in := range s.Ins {
				if !l.IsClosed(in) {
					return false
				}
			}
			return true
		}
		switchToNext := func() {
			count = 0
			for k := 1; k <= n; k++ {
				next := (current + k) % n
				if !l.IsClosed(s.Ins[next]) {
					current = next
					return
				}
			}
		}
		for i, in := range s.Ins {
			l.SetInHandler(in, core.InHandler{
				OnPush: func() {
					core.Push(l, s.Out, core.Grab(l, in))
					count++
					if count == segmentSize {
						switchToNext()
					}
				},
				OnUpstreamFinish: func() {
					if eagerClose || allClosed() {
						l.CompleteStage()
						return
					}
					if i == current {
						switchToNext()
						if l.IsAvailable(s.Out) {
							l.TryPull(s.Ins[current])
						}
					}
				},
			})
		}
		l.SetOutHandler(s.Out, core.OutHandler{
			OnPull: func() { l.TryPull(s.Ins[current]) },
		})
		return l, core.NotUsed{}
	})
}
