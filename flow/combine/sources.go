package combine

import (
	"github.com/lguimbarda/reactive-flow/flow/core"
)

// fanInSources wires sources into the inlets of a fan-in junction and
// exposes its outlet.
func fanInSources[T, O, M any](j core.Graph[core.UniformFanInShape[T, O], core.NotUsed], sources []core.Source[T, M]) core.Source[O, core.NotUsed] {
	return core.Must(core.CreateGraph(func(b *core.Builder) core.SourceShape[O] {
		fan := core.Add(b, j)
		for i, src := range sources {
			core.From(b, core.Add(b, src).Out).To(fan.Ins[i])
		}
		return core.SourceShape[O]{Out: fan.Out}
	}))
}

// MergeSources merges sources fairly into one source that completes once
// all of them have.
func MergeSources[T, M any](sources ...core.Source[T, M]) core.Source[T, core.NotUsed] {
	return fanInSources(Merge[T](len(sources), false), sources)
}

// MergePrioritizedSources merges sources with MergePrioritized.
func MergePrioritizedSources[T, M any](sources []core.Source[T, M], priorities []int) core.Source[T, core.NotUsed] {
	if len(sources) != len(priorities) {
		panic(&core.ArgumentError{Arg: "priorities", Reason: "need one priority per source"})
	}
	return fanInSources(MergePrioritized[T](priorities, false), sources)
}

// ConcatSources emits the sources one after the other.
func ConcatSources[T, M any](sources ...core.Source[T, M]) core.Source[T, core.NotUsed] {
	return fanInSources(Concat[T](len(sources)), sources)
}

// InterleaveSources takes segmentSize elements from each source in turn.
func InterleaveSources[T, M any](segmentSize int, sources ...core.Source[T, M]) core.Source[T, core.NotUsed] {
	return fanInSources(Interleave[T](len(sources), segmentSize, false), sources)
}

// ZipNSources emits one slice per round, holding an element of every
// source.
func ZipNSources[T, M any](sources ...core.Source[T, M]) core.Source[[]T, core.NotUsed] {
	return fanInSources(ZipN[T](len(sources)), sources)
}

func fanIn2[A, B, O, M1, M2 any](j core.Graph[core.FanInShape2[A, B, O], core.NotUsed], a core.Source[A, M1], b core.Source[B, M2]) core.Source[O, core.NotUsed] {
	return core.Must(core.CreateGraph(func(bld *core.Builder) core.SourceShape[O] {
		fan := core.Add(bld, j)
		core.From(bld, core.Add(bld, a).Out).To(fan.In0)
		core.From(bld, core.Add(bld, b).Out).To(fan.In1)
		return core.SourceShape[O]{Out: fan.Out}
	}))
}

// ZipSources pairs the elements of a and b.
func ZipSources[A, B, M1, M2 any](a core.Source[A, M1], b core.Source[B, M2]) core.Source[core.Pair[A, B], core.NotUsed] {
	return fanIn2(Zip[A, B](), a, b)
}

// ZipWithSources combines the elements of a and b.
func ZipWithSources[A, B, O, M1, M2 any](a core.Source[A, M1], b core.Source[B, M2], combine func(A, B) (O, error)) core.Source[O, core.NotUsed] {
	return fanIn2(ZipWith(combine), a, b)
}

// MergeSortedSources merges two sorted sources into one sorted source.
func MergeSortedSources[T, M1, M2 any](a core.Source[T, M1], b core.Source[T, M2], less func(x, y T) bool) core.Source[T, core.NotUsed] {
	return fanIn2(MergeSorted(less), a, b)
}

// AlsoTo creates a Flow that passes elements through while also sending
// them to sink. The sink's materialized value is kept.
func AlsoTo[T, M any](sink core.Sink[T, M]) core.Flow[T, T, M] {
	return core.Must(core.CreateGraphWith(sink, func(b *core.Builder, s core.SinkShape[T]) core.FlowShape[T, T] {
		bc := core.Add(b, Broadcast[T](2, true))
		core.Connect(b, bc.Outs[1], s.In)
		return core.FlowShape[T, T]{In: bc.In, Out: bc.Outs[0]}
	}))
}

// DivertTo creates a Flow that sends the elements matching when to sink
// instead of downstream.
func DivertTo[T, M any](sink core.Sink[T, M], when func(T) bool) core.Flow[T, T, M] {
	return core.Must(core.CreateGraphWith(sink, func(b *core.Builder, s core.SinkShape[T]) core.FlowShape[T, T] {
		p := core.Add(b, Partition(2, func(v T) int {
			if when(v) {
				return 1
			}
			return 0
		}, true))
		core.Connect(b, p.Outs[1], s.In)
		return core.FlowShape[T, T]{In: p.In, Out: p.Outs[0]}
	}))
}
