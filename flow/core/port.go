package core

import (
	"fmt"
	"sync/atomic"
)

var portSeq atomic.Uint64

// port is the identity behind a typed Inlet or Outlet. Two ports are the same
// only if they are the same pointer.
type port struct {
	id   uint64
	name string
	in   bool
}

func newPort(name string, in bool) *port {
	return &port{id: portSeq.Add(1), name: name, in: in}
}

func (p *port) String() string {
	if p == nil {
		return "<nil port>"
	}
	dir := "out"
	if p.in {
		dir = "in"
	}
	return fmt.Sprintf("%s(%s#%d)", p.name, dir, p.id)
}

// Port is implemented by every Inlet and Outlet.
type Port interface {
	portRef() *port
	String() string
}

// InPort is the untyped view of an Inlet.
type InPort interface {
	Port
	inlet() *port
}

// OutPort is the untyped view of an Outlet.
type OutPort interface {
	Port
	outlet() *port
}

// Inlet is a typed input port. A stage pulls and grabs elements through it.
type Inlet[T any] struct {
	p *port
}

// NewInlet creates a fresh input port.
func NewInlet[T any](name string) Inlet[T] {
	return Inlet[T]{p: newPort(name, true)}
}

func (i Inlet[T]) portRef() *port { return i.p }
func (i Inlet[T]) inlet() *port   { return i.p }
func (i Inlet[T]) String() string { return i.p.String() }

// Outlet is a typed output port. A stage pushes elements through it.
type Outlet[T any] struct {
	p *port
}

// NewOutlet creates a fresh output port.
func NewOutlet[T any](name string) Outlet[T] {
	return Outlet[T]{p: newPort(name, false)}
}

func (o Outlet[T]) portRef() *port { return o.p }
func (o Outlet[T]) outlet() *port  { return o.p }
func (o Outlet[T]) String() string { return o.p.String() }

// portMap maps the ports of a blueprint to their copies inside a composite.
type portMap map[*port]*port

func (m portMap) get(p *port) *port {
	if np, ok := m[p]; ok {
		return np
	}
	return p
}

func rebindIn[T any](m portMap, i Inlet[T]) Inlet[T] {
	return Inlet[T]{p: m.get(i.p)}
}

func rebindOut[T any](m portMap, o Outlet[T]) Outlet[T] {
	return Outlet[T]{p: m.get(o.p)}
}

// Shape is the set of ports a stage or graph exposes.
type Shape interface {
	Inlets() []InPort
	Outlets() []OutPort
	rebind(m portMap) Shape
}

// ClosedShape has no open ports; graphs with this shape can be run.
type ClosedShape struct{}

func (ClosedShape) Inlets() []InPort       { return nil }
func (ClosedShape) Outlets() []OutPort     { return nil }
func (s ClosedShape) rebind(portMap) Shape { return s }

// SourceShape exposes exactly one outlet.
type SourceShape[T any] struct {
	Out Outlet[T]
}

func (s SourceShape[T]) Inlets() []InPort   { return nil }
func (s SourceShape[T]) Outlets() []OutPort { return []OutPort{s.Out} }
func (s SourceShape[T]) rebind(m portMap) Shape {
	return SourceShape[T]{Out: rebindOut(m, s.Out)}
}

// SinkShape exposes exactly one inlet.
type SinkShape[T any] struct {
	In Inlet[T]
}

func (s SinkShape[T]) Inlets() []InPort   { return []InPort{s.In} }
func (s SinkShape[T]) Outlets() []OutPort { return nil }
func (s SinkShape[T]) rebind(m portMap) Shape {
	return SinkShape[T]{In: rebindIn(m, s.In)}
}

// FlowShape exposes one inlet and one outlet.
type FlowShape[I, O any] struct {
	In  Inlet[I]
	Out Outlet[O]
}

func (s FlowShape[I, O]) Inlets() []InPort   { return []InPort{s.In} }
func (s FlowShape[I, O]) Outlets() []OutPort { return []OutPort{s.Out} }
func (s FlowShape[I, O]) rebind(m portMap) Shape {
	return FlowShape[I, O]{In: rebindIn(m, s.In), Out: rebindOut(m, s.Out)}
}

// UniformFanInShape has N inlets of the same type and one outlet.
type UniformFanInShape[T, O any] struct {
	Ins []Inlet[T]
	Out Outlet[O]
}

// NewUniformFanInShape creates a fan-in shape with n named inlets.
func NewUniformFanInShape[T, O any](name string, n int) UniformFanInShape[T, O] {
	ins := make([]Inlet[T], n)
	for i := range ins {
		ins[i] = NewInlet[T](fmt.Sprintf("%s.in%d", name, i))
	}
	return UniformFanInShape[T, O]{Ins: ins, Out: NewOutlet[O](name + ".out")}
}

func (s UniformFanInShape[T, O]) Inlets() []InPort {
	out := make([]InPort, len(s.Ins))
	for i, in := range s.Ins {
		out[i] = in
	}
	return out
}
func (s UniformFanInShape[T, O]) Outlets() []OutPort { return []OutPort{s.Out} }
func (s UniformFanInShape[T, O]) rebind(m portMap) Shape {
	ins := make([]Inlet[T], len(s.Ins))
	for i, in := range s.Ins {
		ins[i] = rebindIn(m, in)
	}
	return UniformFanInShape[T, O]{Ins: ins, Out: rebindOut(m, s.Out)}
}

// UniformFanOutShape has one inlet and N outlets of the same type.
type UniformFanOutShape[I, T any] struct {
	In   Inlet[I]
	Outs []Outlet[T]
}

// NewUniformFanOutShape creates a fan-out shape with n named outlets.
func NewUniformFanOutShape[I, T any](name string, n int) UniformFanOutShape[I, T] {
	outs := make([]Outlet[T], n)
	for i := range outs {
		outs[i] = NewOutlet[T](fmt.Sprintf("%s.out%d", name, i))
	}
	return UniformFanOutShape[I, T]{In: NewInlet[I](name + ".in"), Outs: outs}
}

func (s UniformFanOutShape[I, T]) Inlets() []InPort { return []InPort{s.In} }
func (s UniformFanOutShape[I, T]) Outlets() []OutPort {
	out := make([]OutPort, len(s.Outs))
	for i, o := range s.Outs {
		out[i] = o
	}
	return out
}
func (s UniformFanOutShape[I, T]) rebind(m portMap) Shape {
	outs := make([]Outlet[T], len(s.Outs))
	for i, o := range s.Outs {
		outs[i] = rebindOut(m, o)
	}
	return UniformFanOutShape[I, T]{In: rebindIn(m, s.In), Outs: outs}
}

// FanInShape2 has two differently typed inlets and one outlet.
type FanInShape2[A, B, O any] struct {
	In0 Inlet[A]
	In1 Inlet[B]
	Out Outlet[O]
}

func (s FanInShape2[A, B, O]) Inlets() []InPort   { return []InPort{s.In0, s.In1} }
func (s FanInShape2[A, B, O]) Outlets() []OutPort { return []OutPort{s.Out} }
func (s FanInShape2[A, B, O]) rebind(m portMap) Shape {
	return FanInShape2[A, B, O]{In0: rebindIn(m, s.In0), In1: rebindIn(m, s.In1), Out: rebindOut(m, s.Out)}
}

// MergePreferredShape is a fan-in shape with one distinguished preferred
// inlet next to N secondary inlets.
type MergePreferredShape[T any] struct {
	Preferred Inlet[T]
	Ins       []Inlet[T]
	Out       Outlet[T]
}

func (s MergePreferredShape[T]) Inlets() []InPort {
	out := make([]InPort, 0, len(s.Ins)+1)
	out = append(out, s.Preferred)
	for _, in := range s.Ins {
		out = append(out, in)
	}
	return out
}
func (s MergePreferredShape[T]) Outlets() []OutPort { return []OutPort{s.Out} }
func (s MergePreferredShape[T]) rebind(m portMap) Shape {
	ins := make([]Inlet[T], len(s.Ins))
	for i, in := range s.Ins {
		ins[i] = rebindIn(m, in)
	}
	return MergePreferredShape[T]{Preferred: rebindIn(m, s.Preferred), Ins: ins, Out: rebindOut(m, s.Out)}
}
