package combine

import (
	"fmt"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Broadcast creates a junction emitting every element to all n outputs. It
// pulls upstream only once every output has pulled, so the slowest output
// sets the pace. A cancelled output is skipped, unless eagerCancel is set in
// which case the whole junction cancels.
func Broadcast[T any](n int, eagerCancel bool) core.Graph[core.UniformFanOutShape[T, T], core.NotUsed] {
	checkInputs("n", n)
	shape := core.NewUniformFanOutShape[T, T]("broadcast", n)
	return core.NewStage(shape, core.Named("broadcast"), func(_ core.Attributes, s core.UniformFanOutShape[T, T]) (*core.Logic, core.NotUsed) {
		l := core.NewLogic(s)
		pulled := make([]bool, n)
		pending, running := n, n
		pullIfReady := func() {
			if pending == 0 && !l.HasBeenPulled(s.In) && !l.IsClosed(s.In) {
				l.Pull(s.In)
			}
		}
		l.SetInHandler(s.In, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, s.In)
				pending = running
				for i, out := range s.Outs {
					if !l.IsClosed(out) {
						core.Push(l, out, v)
						pulled[i] = false
					}
				}
			},
		})
		for i, out := range s.Outs {
			l.SetOutHandler(out, core.OutHandler{
				OnPull: func() {
					pulled[i] = true
					pending--
					pullIfReady()
				},
				OnDownstreamFinish: func(cause error) {
					if eagerCancel {
						l.CancelStage(cause)
						return
					}
					running--
					if running == 0 {
						l.CancelStage(cause)
						return
					}
					if !pulled[i] {
						pending--
						pullIfReady()
					}
				},
			})
		}
		return l, core.NotUsed{}
	})
}

// Partition creates a junction routing each element to the output selected
// by partitioner. An index outside [0, n) fails the stage; elements routed
// to a cancelled output are dropped.
func Partition[T any](n int, partitioner func(T) int, eagerCancel bool) core.Graph[core.UniformFanOutShape[T, T], core.NotUsed] {
	checkInputs("n", n)
	shape := core.NewUniformFanOutShape[T, T]("partition", n)
	return core.NewStage(shape, core.Named("partition"), func(_ core.Attributes, s core.UniformFanOutShape[T, T]) (*core.Logic, core.NotUsed) {
		l := core.NewLogic(s)
		var (
			pending    core.Option[T]
			pendingIdx int
			running    = n
		)
		pullIfIdle := func() {
			if l.IsClosed(s.In) {
				if !pending.Valid {
					l.CompleteStage()
				}
				return
			}
			if !pending.Valid && !l.HasBeenPulled(s.In) {
				l.Pull(s.In)
			}
		}
		l.SetInHandler(s.In, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, s.In)
				res := core.Try(func(v T) (int, error) { return partitioner(v), nil }, v)
				if res.IsError() {
					if l.Supervise(res.Error(), nil) {
						l.Pull(s.In)
					}
					return
				}
				i := res.Value()
				if i < 0 || i >= n {
					l.FailStage(&core.ArgumentError{Arg: "partition", Reason: fmt.Sprintf("index %d out of bounds [0, %d)", i, n)})
					return
				}
				switch out := s.Outs[i]; {
				case l.IsClosed(out):
					l.Pull(s.In)
				case l.IsAvailable(out):
					core.Push(l, out, v)
					for _, o := range s.Outs {
						if l.IsAvailable(o) {
							l.Pull(s.In)
							return
						}
					}
				default:
					pending, pendingIdx = core.Some(v), i
				}
			},
			OnUpstreamFinish: func() {
				if !pending.Valid {
					l.CompleteStage()
				}
			},
		})
		for i, out := range s.Outs {
			l.SetOutHandler(out, core.OutHandler{
				OnPull: func() {
					if pending.Valid && pendingIdx == i {
						v := pending.Value
						pending = core.None[T]()
						core.Push(l, out, v)
					}
					pullIfIdle()
				},
				OnDownstreamFinish: func(cause error) {
					running--
					if eagerCancel || running == 0 {
						l.CancelStage(cause)
						return
					}
					if pending.Valid && pendingIdx == i {
						pending = core.None[T]()
						pullIfIdle()
					}
				},
			})
		}
		return l, core.NotUsed{}
	})
}

// Balance creates a junction handing each element to one output that has
// demand, in the order the outputs asked. With waitForAllDownstreams nothing
// is pulled before every output asked once.
func Balance[T any](n int, waitForAllDownstreams bool) core.Graph[core.UniformFanOutShape[T, T], core.NotUsed] {
	checkInputs("n", n)
	shape := core.NewUniformFanOutShape[T, T]("balance", n)
	return core.NewStage(shape, core.Named("balance"), func(_ core.Attributes, s core.UniformFanOutShape[T, T]) (*core.Logic, core.NotUsed) {
		l := core.NewLogic(s)
		var (
			waiting []int
			held    core.Option[T]
			asked   = make([]bool, n)
			unasked = 0
			running = n
		)
		if waitForAllDownstreams {
			unasked = n
		}
		// dispatch hands v to the longest waiting open output.
		dispatch := func(v T) bool {
			for len(waiting) > 0 {
				i := waiting[0]
				waiting = waiting[1:]
				if !l.IsClosed(s.Outs[i]) {
					core.Push(l, s.Outs[i], v)
					return true
				}
			}
			return false
		}
		pullIfWanted := func() {
			if unasked == 0 && len(waiting) > 0 && !held.Valid && !l.HasBeenPulled(s.In) && !l.IsClosed(s.In) {
				l.Pull(s.In)
			}
		}
		l.SetInHandler(s.In, core.InHandler{
			OnPush: func() {
				v := core.Grab(l, s.In)
				if !dispatch(v) {
					held = core.Some(v)
					return
				}
				pullIfWanted()
			},
			OnUpstreamFinish: func() {
				if !held.Valid {
					l.CompleteStage()
				}
			},
		})
		for i, out := range s.Outs {
			l.SetOutHandler(out, core.OutHandler{
				OnPull: func() {
					if !asked[i] {
						asked[i] = true
						if unasked > 0 {
							unasked--
						}
					}
					waiting = append(waiting, i)
					if held.Valid {
						v := held.Value
						held = core.None[T]()
						dispatch(v)
						if l.IsClosed(s.In) {
							l.CompleteStage()
							return
						}
					}
					pullIfWanted()
				},
				OnDownstreamFinish: func(cause error) {
					running--
					if running == 0 {
						l.CancelStage(cause)
						return
					}
					if !asked[i] && unasked > 0 {
						asked[i] = true
						unasked--
						pullIfWanted()
					}
				},
			})
		}
		return l, core.NotUsed{}
	})
}
