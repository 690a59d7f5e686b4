// Package flow provides a demand-driven stream processing engine for
// building backpressured, supervised and observable pipelines in Go.
//
// This package is the primary user-facing API: sources, sinks and the ways to
// compose them. Operators live in the sibling packages (transform, filter,
// aggregate, combine, timing, flowerrors, observe, queue, parallel). The
// flow/core subpackage contains the engine and the stage API, needed only
// when writing new operators.
package flow

import (
	"context"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Type aliases for the blueprint types. A blueprint is immutable and can be
// run any number of times; each run materializes fresh stage state.
type (
	// Graph is a blueprint with shape S materializing a value of type M.
	Graph[S core.Shape, M any] = core.Graph[S, M]

	// Source has exactly one open outlet.
	Source[T, M any] = core.Graph[core.SourceShape[T], M]

	// Flow has one open inlet and one open outlet.
	Flow[I, O, M any] = core.Graph[core.FlowShape[I, O], M]

	// Sink has exactly one open inlet.
	Sink[T, M any] = core.Graph[core.SinkShape[T], M]

	// RunnableGraph has no open ports and can be run.
	RunnableGraph[M any] = core.Graph[core.ClosedShape, M]
)

// Aliases for values that appear in operator signatures.
type (
	// NotUsed is the materialized value of stages that produce none.
	NotUsed = core.NotUsed

	// Done is the value of futures that only signal completion.
	Done = core.Done

	// Future is a materialized value completed while the stream runs.
	Future[T any] = core.Future[T]

	// Pair is the materialized value kept by KeepBoth.
	Pair[L, R any] = core.Pair[L, R]

	// Option is an optional element.
	Option[T any] = core.Option[T]

	// Materializer runs blueprints.
	Materializer = core.Materializer

	// Attributes configure stages and graphs.
	Attributes = core.Attributes

	// Publisher, Subscriber and Subscription form the demand protocol.
	Publisher[T any]  = core.Publisher[T]
	Subscriber[T any] = core.Subscriber[T]
	Subscription      = core.Subscription
)

// NewMaterializer creates a materializer. See core.NewMaterializer.
func NewMaterializer(ctx context.Context, opts ...core.MaterializerOption) (*Materializer, error) {
	return core.NewMaterializer(ctx, opts...)
}

// WithMaterializer attaches m to ctx. RunWith, Materialize and the terminal
// functions run on the materializer found in their context.
func WithMaterializer(ctx context.Context, m *Materializer) context.Context {
	return core.WithMaterializer(ctx, m)
}

// KeepLeft keeps the materialized value of the left-hand graph.
func KeepLeft[L, R any](l L, r R) L { return core.KeepLeft(l, r) }

// KeepRight keeps the materialized value of the right-hand graph.
func KeepRight[L, R any](l L, r R) R { return core.KeepRight(l, r) }

// KeepBoth keeps both materialized values.
func KeepBoth[L, R any](l L, r R) Pair[L, R] { return core.KeepBoth(l, r) }

// KeepNone discards both materialized values.
func KeepNone[L, R any](l L, r R) NotUsed { return core.KeepNone(l, r) }
