package core

import (
	"fmt"
)

// layer is one level of attributes in the nesting of composites. Atoms keep
// the chain of layers they were imported through; the innermost layer holding
// an AsyncBoundary decides their island.
type layer struct {
	attrs Attributes
}

// atom is one stage inside a module, with its own copies of the stage ports.
// ins and outs are index-aligned with the stage's declared shape.
type atom struct {
	stage  Stage
	ins    []*port
	outs   []*port
	layers []*layer
}

type edge struct {
	from *port
	to   *port
}

// module is the flattened content of a graph blueprint.
type module struct {
	atoms []*atom
	edges []edge
}

func (m *module) isAtomic() bool {
	return len(m.atoms) == 1 && len(m.edges) == 0
}

// importFrom copies src into m. Every port gets a fresh identity recorded in
// pm, every layer is cloned and top, when not empty, becomes the outermost
// layer of every imported atom.
func (m *module) importFrom(src *module, top Attributes, pm portMap) {
	layers := make(map[*layer]*layer)
	var topLayer *layer
	if !top.IsEmpty() {
		topLayer = &layer{attrs: top}
	}
	copyPort := func(p *port) *port {
		np := newPort(p.name, p.in)
		pm[p] = np
		return np
	}
	for _, a := range src.atoms {
		na := &atom{stage: a.stage}
		for _, p := range a.ins {
			na.ins = append(na.ins, copyPort(p))
		}
		for _, p := range a.outs {
			na.outs = append(na.outs, copyPort(p))
		}
		if topLayer != nil {
			na.layers = append(na.layers, topLayer)
		}
		for _, ly := range a.layers {
			nl, ok := layers[ly]
			if !ok {
				nl = &layer{attrs: ly.attrs}
				layers[ly] = nl
			}
			na.layers = append(na.layers, nl)
		}
		m.atoms = append(m.atoms, na)
	}
	for _, e := range src.edges {
		m.edges = append(m.edges, edge{from: pm.get(e.from), to: pm.get(e.to)})
	}
}

// Graph is an immutable, reusable blueprint with shape S that materializes a
// value of type M each time it is run. Sources, flows, sinks and runnable
// graphs are all graphs with a particular shape.
type Graph[S Shape, M any] struct {
	mod   *module
	shape S
	top   Attributes
	mat   func(vals []any) M
}

// Shorthands for the common shapes.
type (
	Source[T, M any]  = Graph[SourceShape[T], M]
	Flow[I, O, M any] = Graph[FlowShape[I, O], M]
	Sink[T, M any]    = Graph[SinkShape[T], M]
)

// FromStage wraps a single stage as a graph. The stage's declared shape must
// be S and its materialized value must be an M.
func FromStage[S Shape, M any](stage Stage) Graph[S, M] {
	shape, ok := stage.Shape().(S)
	if !ok {
		panic(fmt.Sprintf("stage shape %T does not match graph shape", stage.Shape()))
	}
	a := &atom{stage: stage, layers: []*layer{{attrs: stage.Attributes()}}}
	for _, in := range shape.Inlets() {
		a.ins = append(a.ins, in.inlet())
	}
	for _, out := range shape.Outlets() {
		a.outs = append(a.outs, out.outlet())
	}
	return Graph[S, M]{
		mod:   &module{atoms: []*atom{a}},
		shape: shape,
		mat: func(vals []any) M {
			m, _ := vals[0].(M)
			return m
		},
	}
}

// Shape returns the open ports of the graph.
func (g Graph[S, M]) Shape() S { return g.shape }

// Attributes returns the attributes set on the outermost level of the graph.
func (g Graph[S, M]) Attributes() Attributes {
	if g.mod != nil && g.mod.isAtomic() {
		ly := g.mod.atoms[0].layers
		return ly[len(ly)-1].attrs
	}
	return g.top
}

// WithAttributes replaces the attributes of the outermost level. On a single
// stage the stage defaults are kept underneath.
func (g Graph[S, M]) WithAttributes(attrs Attributes) Graph[S, M] {
	if g.mod.isAtomic() {
		return g.withAtomAttributes(g.mod.atoms[0].stage.Attributes().And(attrs))
	}
	g.top = attrs
	return g
}

// AddAttributes adds attrs as more specific than the current outermost level.
func (g Graph[S, M]) AddAttributes(attrs Attributes) Graph[S, M] {
	if attrs.IsEmpty() {
		return g
	}
	if g.mod.isAtomic() {
		return g.withAtomAttributes(g.Attributes().And(attrs))
	}
	g.top = g.top.And(attrs)
	return g
}

func (g Graph[S, M]) withAtomAttributes(attrs Attributes) Graph[S, M] {
	a := g.mod.atoms[0]
	na := &atom{stage: a.stage, ins: a.ins, outs: a.outs}
	na.layers = append(na.layers, a.layers[:len(a.layers)-1]...)
	na.layers = append(na.layers, &layer{attrs: attrs})
	g.mod = &module{atoms: []*atom{na}}
	return g
}

// Named sets the name of the graph.
func (g Graph[S, M]) Named(name string) Graph[S, M] {
	return g.AddAttributes(Named(name))
}

// Async puts the graph on its own island, separated from its surroundings by
// an asynchronous boundary.
func (g Graph[S, M]) Async() Graph[S, M] {
	return g.AddAttributes(NewAttributes(AsyncBoundary{}))
}

// WithSupervision attaches a supervision decider to every stage of the graph
// that does not set its own.
func (g Graph[S, M]) WithSupervision(decider Decider) Graph[S, M] {
	return g.AddAttributes(Supervision(decider))
}

// MapMaterializedValue transforms the materialized value of g.
func MapMaterializedValue[S Shape, M, M2 any](g Graph[S, M], fn func(M) M2) Graph[S, M2] {
	return Graph[S, M2]{
		mod:   g.mod,
		shape: g.shape,
		top:   g.top,
		mat:   func(vals []any) M2 { return fn(g.mat(vals)) },
	}
}

// Compose imports g1 and g2 into a new graph, lets wire connect their rebound
// shapes and combines their materialized values.
func Compose[S1, S2, S Shape, M1, M2, M any](
	g1 Graph[S1, M1],
	g2 Graph[S2, M2],
	wire func(b *Builder, s1 S1, s2 S2) S,
	combine func(M1, M2) M,
) Graph[S, M] {
	b := newBuilder()
	s1, i1 := addGraph(b, g1)
	s2, i2 := addGraph(b, g2)
	shape := wire(b, s1, s2)
	if b.err != nil {
		panic(b.err)
	}
	return Graph[S, M]{
		mod:   b.mod,
		shape: shape,
		mat: func(vals []any) M {
			return combine(g1.mat(vals[i1.offset:i1.end]), g2.mat(vals[i2.offset:i2.end]))
		},
	}
}

// KeepLeft keeps the materialized value of the left graph.
func KeepLeft[L, R any](l L, _ R) L { return l }

// KeepRight keeps the materialized value of the right graph.
func KeepRight[L, R any](_ L, r R) R { return r }

// Pair holds both materialized values.
type Pair[L, R any] struct {
	Left  L
	Right R
}

// KeepBoth keeps both materialized values.
func KeepBoth[L, R any](l L, r R) Pair[L, R] { return Pair[L, R]{Left: l, Right: r} }

// KeepNone discards both materialized values.
func KeepNone[L, R any](L, R) NotUsed { return NotUsed{} }

// Via attaches a flow to a source.
func Via[A, B, M1, M2, M any](src Graph[SourceShape[A], M1], f Graph[FlowShape[A, B], M2], combine func(M1, M2) M) Graph[SourceShape[B], M] {
	return Compose(src, f, func(b *Builder, s SourceShape[A], fs FlowShape[A, B]) SourceShape[B] {
		Connect(b, s.Out, fs.In)
		return SourceShape[B]{Out: fs.Out}
	}, combine)
}

// To attaches a sink to a source, producing a runnable graph.
func To[A, M1, M2, M any](src Graph[SourceShape[A], M1], sink Graph[SinkShape[A], M2], combine func(M1, M2) M) Graph[ClosedShape, M] {
	return Compose(src, sink, func(b *Builder, s SourceShape[A], ss SinkShape[A]) ClosedShape {
		Connect(b, s.Out, ss.In)
		return ClosedShape{}
	}, combine)
}

// FlowVia chains two flows.
func FlowVia[A, B, C, M1, M2, M any](f1 Graph[FlowShape[A, B], M1], f2 Graph[FlowShape[B, C], M2], combine func(M1, M2) M) Graph[FlowShape[A, C], M] {
	return Compose(f1, f2, func(b *Builder, s1 FlowShape[A, B], s2 FlowShape[B, C]) FlowShape[A, C] {
		Connect(b, s1.Out, s2.In)
		return FlowShape[A, C]{In: s1.In, Out: s2.Out}
	}, combine)
}

// FlowTo attaches a sink to a flow, producing a sink.
func FlowTo[A, B, M1, M2, M any](f Graph[FlowShape[A, B], M1], sink Graph[SinkShape[B], M2], combine func(M1, M2) M) Graph[SinkShape[A], M] {
	return Compose(f, sink, func(b *Builder, fs FlowShape[A, B], ss SinkShape[B]) SinkShape[A] {
		Connect(b, fs.Out, ss.In)
		return SinkShape[A]{In: fs.In}
	}, combine)
}
