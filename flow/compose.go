package flow

import (
	"context"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Via attaches f to src, keeping the materialized value of src.
func Via[A, B, M1, M2 any](src Source[A, M1], f Flow[A, B, M2]) Source[B, M1] {
	return core.Via(src, f, core.KeepLeft[M1, M2])
}

// ViaMat attaches f to src and combines both materialized values.
func ViaMat[A, B, M1, M2, M any](src Source[A, M1], f Flow[A, B, M2], combine func(M1, M2) M) Source[B, M] {
	return core.Via(src, f, combine)
}

// To attaches sink to src, keeping the materialized value of src.
func To[A, M1, M2 any](src Source[A, M1], sink Sink[A, M2]) RunnableGraph[M1] {
	return core.To(src, sink, core.KeepLeft[M1, M2])
}

// ToMat attaches sink to src and combines both materialized values.
func ToMat[A, M1, M2, M any](src Source[A, M1], sink Sink[A, M2], combine func(M1, M2) M) RunnableGraph[M] {
	return core.To(src, sink, combine)
}

// Through chains two flows, keeping the materialized value of the first.
func Through[A, B, C, M1, M2 any](f1 Flow[A, B, M1], f2 Flow[B, C, M2]) Flow[A, C, M1] {
	return core.FlowVia(f1, f2, core.KeepLeft[M1, M2])
}

// ThroughMat chains two flows and combines their materialized values.
func ThroughMat[A, B, C, M1, M2, M any](f1 Flow[A, B, M1], f2 Flow[B, C, M2], combine func(M1, M2) M) Flow[A, C, M] {
	return core.FlowVia(f1, f2, combine)
}

// FlowTo attaches sink to f, keeping the materialized value of f.
func FlowTo[A, B, M1, M2 any](f Flow[A, B, M1], sink Sink[B, M2]) Sink[A, M1] {
	return core.FlowTo(f, sink, core.KeepLeft[M1, M2])
}

// FlowToMat attaches sink to f and combines both materialized values.
func FlowToMat[A, B, M1, M2, M any](f Flow[A, B, M1], sink Sink[B, M2], combine func(M1, M2) M) Sink[A, M] {
	return core.FlowTo(f, sink, combine)
}

// Identity is a flow that passes elements through unchanged.
func Identity[T any]() Flow[T, T, NotUsed] {
	return core.FlowStage("identity", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() { core.Push(l, out, core.Grab(l, in)) },
		}, core.PullOnDemand(l, in))
		return l
	})
}

// Chain composes flows of the same element type, applied left to right.
// With no flows it returns Identity.
func Chain[T any](flows ...Flow[T, T, NotUsed]) Flow[T, T, NotUsed] {
	if len(flows) == 0 {
		return Identity[T]()
	}
	result := flows[0]
	for _, f := range flows[1:] {
		result = core.FlowVia(result, f, core.KeepLeft[NotUsed, NotUsed])
	}
	return result
}

// Pipe attaches every flow to src in order.
func Pipe[T, M any](src Source[T, M], flows ...Flow[T, T, NotUsed]) Source[T, M] {
	for _, f := range flows {
		src = Via(src, f)
	}
	return src
}

// MapMaterializedValue transforms the materialized value of g.
func MapMaterializedValue[S core.Shape, M, M2 any](g Graph[S, M], fn func(M) M2) Graph[S, M2] {
	return core.MapMaterializedValue(g, fn)
}

// RunWith attaches sink to src, runs the graph and returns the sink's
// materialized value.
func RunWith[T, M1, M2 any](ctx context.Context, src Source[T, M1], sink Sink[T, M2]) (M2, error) {
	return Materialize(ctx, core.To(src, sink, core.KeepRight[M1, M2]))
}

// Materialize runs g with the materializer attached to ctx, see
// core.WithMaterializer. Without one, a materializer bound to ctx is created
// for the run.
func Materialize[M any](ctx context.Context, g RunnableGraph[M]) (M, error) {
	if m, ok := core.MaterializerFrom(ctx); ok {
		return core.Run(g, m)
	}
	m, err := core.NewMaterializer(ctx)
	if err != nil {
		var zero M
		return zero, err
	}
	return core.Run(g, m)
}
