package core

import (
	"fmt"
)

// Builder assembles a graph from imported graphs and explicit edges. It is
// only valid inside the function passed to CreateGraph.
type Builder struct {
	mod       *module
	owned     map[*port]bool
	connected map[*port]bool
	err       error
}

type imported struct {
	offset int
	end    int
}

func newBuilder() *Builder {
	return &Builder{
		mod:       &module{},
		owned:     make(map[*port]bool),
		connected: make(map[*port]bool),
	}
}

func addGraph[S Shape, M any](b *Builder, g Graph[S, M]) (S, imported) {
	offset := len(b.mod.atoms)
	pm := make(portMap)
	b.mod.importFrom(g.mod, g.top, pm)
	for _, a := range b.mod.atoms[offset:] {
		for _, p := range a.ins {
			b.owned[p] = true
		}
		for _, p := range a.outs {
			b.owned[p] = true
		}
	}
	for _, e := range g.mod.edges {
		b.connected[pm.get(e.from)] = true
		b.connected[pm.get(e.to)] = true
	}
	shape, _ := g.shape.rebind(pm).(S)
	return shape, imported{offset: offset, end: len(b.mod.atoms)}
}

// Add imports a copy of g into the graph under construction and returns the
// copy's ports. Adding the same graph twice yields two independent copies.
func Add[S Shape, M any](b *Builder, g Graph[S, M]) S {
	s, _ := addGraph(b, g)
	return s
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns the first wiring error.
func (b *Builder) Err() error { return b.err }

// Connect wires out to in. Each port can be connected once.
func Connect[T any](b *Builder, out Outlet[T], in Inlet[T]) {
	b.connect(out.p, in.p)
}

func (b *Builder) connect(out, in *port) {
	switch {
	case out == nil || !b.owned[out]:
		b.fail(&ArgumentError{Arg: out.String(), Reason: "outlet does not belong to this graph"})
	case in == nil || !b.owned[in]:
		b.fail(&ArgumentError{Arg: in.String(), Reason: "inlet does not belong to this graph"})
	case b.connected[out]:
		b.fail(&ArgumentError{Arg: out.String(), Reason: "outlet is already connected"})
	case b.connected[in]:
		b.fail(&ArgumentError{Arg: in.String(), Reason: "inlet is already connected"})
	default:
		b.connected[out] = true
		b.connected[in] = true
		b.mod.edges = append(b.mod.edges, edge{from: out, to: in})
	}
}

// PortOps is the fluent view of an outlet inside a builder.
type PortOps[T any] struct {
	b   *Builder
	out Outlet[T]
}

// From starts a fluent chain at out.
func From[T any](b *Builder, out Outlet[T]) PortOps[T] {
	return PortOps[T]{b: b, out: out}
}

// To connects the chain to in.
func (o PortOps[T]) To(in Inlet[T]) {
	Connect(o.b, o.out, in)
}

// Outlet returns the open end of the chain.
func (o PortOps[T]) Outlet() Outlet[T] { return o.out }

// Through imports f, connects the chain to it and continues from its outlet.
func Through[A, B, M any](o PortOps[A], f Graph[FlowShape[A, B], M]) PortOps[B] {
	fs := Add(o.b, f)
	Connect(o.b, o.out, fs.In)
	return PortOps[B]{b: o.b, out: fs.Out}
}

// CreateGraph builds a graph. build returns the shape the new graph exposes;
// every port that is not exposed must be connected exactly once.
func CreateGraph[S Shape](build func(b *Builder) S) (Graph[S, NotUsed], error) {
	b := newBuilder()
	shape := build(b)
	if err := b.validate(shape); err != nil {
		return Graph[S, NotUsed]{}, err
	}
	return Graph[S, NotUsed]{
		mod:   b.mod,
		shape: shape,
		mat:   func([]any) NotUsed { return NotUsed{} },
	}, nil
}

// CreateGraphWith builds a graph around an imported graph whose materialized
// value becomes the value of the result.
func CreateGraphWith[S, S1 Shape, M any](g1 Graph[S1, M], build func(b *Builder, s1 S1) S) (Graph[S, M], error) {
	b := newBuilder()
	s1, i1 := addGraph(b, g1)
	shape := build(b, s1)
	if err := b.validate(shape); err != nil {
		return Graph[S, M]{}, err
	}
	return Graph[S, M]{
		mod:   b.mod,
		shape: shape,
		mat:   func(vals []any) M { return g1.mat(vals[i1.offset:i1.end]) },
	}, nil
}

// Must panics on a graph construction error.
func Must[S Shape, M any](g Graph[S, M], err error) Graph[S, M] {
	if err != nil {
		panic(err)
	}
	return g
}

func (b *Builder) validate(shape Shape) error {
	if b.err != nil {
		return b.err
	}
	exposed := make(map[*port]bool)
	for _, in := range shape.Inlets() {
		exposed[in.inlet()] = true
	}
	for _, out := range shape.Outlets() {
		exposed[out.outlet()] = true
	}
	for p := range exposed {
		if !b.owned[p] {
			return &ArgumentError{Arg: p.String(), Reason: "exposed port does not belong to this graph"}
		}
		if b.connected[p] {
			return &ArgumentError{Arg: p.String(), Reason: "exposed port is already connected"}
		}
	}
	for _, a := range b.mod.atoms {
		for _, ports := range [][]*port{a.ins, a.outs} {
			for _, p := range ports {
				if !b.connected[p] && !exposed[p] {
					return &ArgumentError{Arg: p.String(), Reason: fmt.Sprintf("port of %s is neither connected nor exposed", stageName(a))}
				}
			}
		}
	}
	return nil
}

func stageName(a *atom) string {
	for i := len(a.layers) - 1; i >= 0; i-- {
		if n := a.layers[i].attrs.Name(); n != "" {
			return n
		}
	}
	return fmt.Sprintf("%T", a.stage)
}
